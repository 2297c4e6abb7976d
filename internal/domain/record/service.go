package record

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/clinrec/internal/platform/websocket"
)

var (
	ErrNotEditable  = errors.New("clinical record is not editable in its current state")
	ErrNotFinalized = errors.New("only finalized records can be versioned")
)

// PatientVerifier confirms a patient exists and is visible to the clinician.
type PatientVerifier interface {
	VerifyPatient(ctx context.Context, patientID uuid.UUID, clinicianID string) error
}

// Actor is the authenticated caller. Privileged actors see every record.
type Actor struct {
	ClinicianID string
	Privileged  bool
}

func (a Actor) owns(r *ClinicalRecord) bool {
	return a.Privileged || r.ClinicianID == a.ClinicianID
}

type Service struct {
	records  Repository
	patients PatientVerifier
	events   websocket.EventPublisher
	logger   zerolog.Logger
}

func NewService(records Repository, patients PatientVerifier, events websocket.EventPublisher, logger zerolog.Logger) *Service {
	return &Service{records: records, patients: patients, events: events, logger: logger}
}

func (s *Service) Create(ctx context.Context, actor Actor, d *Draft) (*ClinicalRecord, error) {
	if d.PatientID == uuid.Nil {
		return nil, fmt.Errorf("patient_id is required")
	}
	if err := validateSections(d.Sections); err != nil {
		return nil, err
	}
	if s.patients != nil {
		if err := s.patients.VerifyPatient(ctx, d.PatientID, actor.ClinicianID); err != nil {
			return nil, err
		}
	}
	rec := &ClinicalRecord{
		PatientID:    d.PatientID,
		ClinicianID:  actor.ClinicianID,
		Version:      1,
		State:        StateDraft,
		GeneralNotes: d.GeneralNotes,
		Sections:     Complete(d.Sections),
		Events:       nonNilEvents(d.Events),
		Medications:  nonNilMedications(d.Medications),
	}
	if err := s.records.Create(ctx, rec); err != nil {
		return nil, err
	}
	s.publish(ctx, "record.created", rec)
	return rec, nil
}

// Get returns the record, or ErrNotFound when the actor does not own it.
func (s *Service) Get(ctx context.Context, actor Actor, id uuid.UUID) (*ClinicalRecord, error) {
	rec, err := s.records.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.owns(rec) {
		return nil, ErrNotFound
	}
	return rec, nil
}

func (s *Service) List(ctx context.Context, actor Actor, patientID *uuid.UUID, limit, offset int) ([]*ClinicalRecord, int, error) {
	if patientID != nil {
		clinician := actor.ClinicianID
		if actor.Privileged {
			clinician = ""
		}
		return s.records.ListByPatient(ctx, *patientID, clinician, limit, offset)
	}
	if actor.Privileged {
		return s.records.List(ctx, limit, offset)
	}
	return s.records.ListByClinician(ctx, actor.ClinicianID, limit, offset)
}

// Update replaces notes and sections of a draft. Nil events or medications
// keep what is stored.
func (s *Service) Update(ctx context.Context, actor Actor, id uuid.UUID, d *Draft) (*ClinicalRecord, error) {
	if err := validateSections(d.Sections); err != nil {
		return nil, err
	}
	rec, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if !rec.State.IsEditable() {
		return nil, ErrNotEditable
	}
	rec.GeneralNotes = d.GeneralNotes
	if d.Sections != nil {
		rec.Sections = Complete(d.Sections)
	}
	if d.Events != nil {
		rec.Events = d.Events
	}
	if d.Medications != nil {
		rec.Medications = d.Medications
	}
	if err := s.records.Update(ctx, rec); err != nil {
		return nil, err
	}
	s.publish(ctx, "record.updated", rec)
	return rec, nil
}

// Transition applies a lifecycle action. Illegal actions return a
// *TransitionError and leave the record untouched.
func (s *Service) Transition(ctx context.Context, actor Actor, id uuid.UUID, action Action) (*ClinicalRecord, error) {
	rec, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	to, err := Transition(rec.State, action)
	if err != nil {
		return nil, err
	}
	if err := s.records.UpdateState(ctx, rec.ID, rec.State, to); err != nil {
		return nil, err
	}
	rec.State = to
	rec.UpdatedAt = time.Now().UTC()
	s.logger.Info().
		Str("record_id", rec.ID.String()).
		Str("action", string(action)).
		Str("state", string(to)).
		Msg("record transitioned")
	s.publish(ctx, action.Event(), rec)
	return rec, nil
}

// NewVersion opens a new draft copied from a finalized record.
func (s *Service) NewVersion(ctx context.Context, actor Actor, id uuid.UUID) (*ClinicalRecord, error) {
	prev, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if prev.State != StateFinalized {
		return nil, ErrNotFinalized
	}
	next := prev.Clone()
	next.Version = prev.Version + 1
	next.State = StateDraft
	next.ClinicianID = actor.ClinicianID
	for i := range next.Sections {
		next.Sections[i].ID = nil
	}
	for i := range next.Events {
		next.Events[i].ID = nil
	}
	for i := range next.Medications {
		next.Medications[i].ID = nil
	}
	if err := s.records.Create(ctx, next); err != nil {
		return nil, err
	}
	s.publish(ctx, "record.versioned", next)
	return next, nil
}

func (s *Service) publish(ctx context.Context, eventType string, rec *ClinicalRecord) {
	if s.events == nil {
		return
	}
	data, err := json.Marshal(struct {
		State   State `json:"state"`
		Version int   `json:"version"`
	}{rec.State, rec.Version})
	if err != nil {
		return
	}
	for _, topic := range []string{"record/" + rec.ID.String(), "patient/" + rec.PatientID.String()} {
		ev := websocket.Event{
			Type:      eventType,
			Topic:     topic,
			RecordID:  rec.ID.String(),
			PatientID: rec.PatientID.String(),
			Timestamp: time.Now().UTC(),
			Data:      data,
		}
		if err := s.events.Publish(ctx, ev); err != nil {
			s.logger.Warn().Err(err).Str("topic", topic).Msg("failed to publish record event")
		}
	}
}

func validateSections(sections []Section) error {
	seen := make(map[SectionType]bool, len(sections))
	for _, sec := range sections {
		if !sec.Type.Valid() {
			return fmt.Errorf("invalid section type: %s", sec.Type)
		}
		if sec.Provenance != "" && !sec.Provenance.Valid() {
			return fmt.Errorf("invalid provenance: %s", sec.Provenance)
		}
		if seen[sec.Type] {
			return fmt.Errorf("duplicate section type: %s", sec.Type)
		}
		seen[sec.Type] = true
	}
	return nil
}

func nonNilEvents(e []ObstetricEvent) []ObstetricEvent {
	if e == nil {
		return []ObstetricEvent{}
	}
	return e
}

func nonNilMedications(m []Medication) []Medication {
	if m == nil {
		return []Medication{}
	}
	return m
}
