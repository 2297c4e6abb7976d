package record

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SectionType identifies one of the fixed structured parts of a clinical record.
type SectionType string

const (
	SectionIntakeData  SectionType = "intake_data"
	SectionHistory     SectionType = "history"
	SectionLabor       SectionType = "labor"
	SectionDelivery    SectionType = "delivery"
	SectionNewborn     SectionType = "newborn"
	SectionPuerperium  SectionType = "puerperium"
	SectionMedications SectionType = "medications"
	SectionEvolution   SectionType = "evolution"
)

// sectionOrder is the display order. It is also the source of section positions.
var sectionOrder = [...]SectionType{
	SectionIntakeData,
	SectionHistory,
	SectionLabor,
	SectionDelivery,
	SectionNewborn,
	SectionPuerperium,
	SectionMedications,
	SectionEvolution,
}

// SectionTypes returns every section type in display order.
func SectionTypes() []SectionType {
	out := make([]SectionType, len(sectionOrder))
	copy(out, sectionOrder[:])
	return out
}

// Position returns the 1-based position of the type, or 0 for an unknown type.
func (t SectionType) Position() int {
	for i, st := range sectionOrder {
		if st == t {
			return i + 1
		}
	}
	return 0
}

func (t SectionType) Valid() bool {
	return t.Position() > 0
}

// Provenance records how a section's content arrived.
type Provenance string

const (
	ProvenanceManual         Provenance = "manual"
	ProvenanceVoiceWebSpeech Provenance = "voice_web_speech"
	ProvenanceVoiceCloudSTT  Provenance = "voice_cloud_stt"
)

func (p Provenance) Valid() bool {
	switch p {
	case ProvenanceManual, ProvenanceVoiceWebSpeech, ProvenanceVoiceCloudSTT:
		return true
	}
	return false
}

// IsVoice reports whether the content came from a dictation capture.
func (p Provenance) IsVoice() bool {
	return p == ProvenanceVoiceWebSpeech || p == ProvenanceVoiceCloudSTT
}

// ParseProvenance maps a wire value to a Provenance.
func ParseProvenance(s string) (Provenance, error) {
	p := Provenance(s)
	if !p.Valid() {
		return "", fmt.Errorf("invalid provenance: %q", s)
	}
	return p, nil
}

// Section is one structured part of a record.
type Section struct {
	ID         *uuid.UUID  `db:"id" json:"id,omitempty"`
	Type       SectionType `db:"type" json:"type"`
	Content    string      `db:"content" json:"content"`
	Provenance Provenance  `db:"provenance" json:"provenance"`
	Position   int         `db:"position" json:"position"`
}

// ObstetricEvent maps to the obstetric_event table.
type ObstetricEvent struct {
	ID              *uuid.UUID `db:"id" json:"id,omitempty"`
	Type            string     `db:"type" json:"type"`
	OccurredAt      time.Time  `db:"occurred_at" json:"occurred_at"`
	GestationalWeek *int       `db:"gestational_week" json:"gestational_week,omitempty"`
	Notes           *string    `db:"notes" json:"notes,omitempty"`
}

// Medication maps to the record_medication table.
type Medication struct {
	ID        *uuid.UUID `db:"id" json:"id,omitempty"`
	Name      string     `db:"name" json:"name"`
	Dose      string     `db:"dose" json:"dose"`
	Route     string     `db:"route" json:"route"`
	Frequency string     `db:"frequency" json:"frequency"`
	Duration  string     `db:"duration" json:"duration"`
}

// ClinicalRecord maps to the clinical_record table and owns its sections.
type ClinicalRecord struct {
	ID           uuid.UUID        `db:"id" json:"id"`
	PatientID    uuid.UUID        `db:"patient_id" json:"patient_id"`
	ClinicianID  string           `db:"clinician_id" json:"clinician_id,omitempty"`
	Version      int              `db:"version" json:"version"`
	State        State            `db:"state" json:"state"`
	GeneralNotes string           `db:"general_notes" json:"general_notes"`
	Sections     []Section        `json:"sections"`
	Events       []ObstetricEvent `json:"events"`
	Medications  []Medication     `json:"medications"`
	CreatedAt    time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time        `db:"updated_at" json:"updated_at"`
}

// IsPersisted reports whether the record has been assigned an identity.
func (r *ClinicalRecord) IsPersisted() bool {
	return r.ID != uuid.Nil
}

// Clone returns a deep copy so callers can hand records across goroutines.
func (r *ClinicalRecord) Clone() *ClinicalRecord {
	if r == nil {
		return nil
	}
	out := *r
	out.Sections = append([]Section(nil), r.Sections...)
	out.Events = append([]ObstetricEvent(nil), r.Events...)
	out.Medications = append([]Medication(nil), r.Medications...)
	return &out
}

// Draft is the create/update payload. Events and Medications pass through
// untouched when present.
type Draft struct {
	PatientID    uuid.UUID        `json:"patient_id"`
	GeneralNotes string           `json:"general_notes"`
	Sections     []Section        `json:"sections"`
	Events       []ObstetricEvent `json:"events,omitempty"`
	Medications  []Medication     `json:"medications,omitempty"`
}
