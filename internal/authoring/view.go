package authoring

import (
	"github.com/google/uuid"

	"github.com/ehr/clinrec/internal/dictation"
	"github.com/ehr/clinrec/internal/domain/record"
)

// SectionView is one section as the UI shell renders it.
type SectionView struct {
	Index      int                `json:"index"`
	Type       record.SectionType `json:"type"`
	Content    string             `json:"content"`
	Provenance record.Provenance  `json:"provenance"`
	Position   int                `json:"position"`
	Active     bool               `json:"active"`
}

// View is everything the UI shell needs to render the session.
type View struct {
	RecordID           *uuid.UUID         `json:"record_id,omitempty"`
	PatientID          uuid.UUID          `json:"patient_id"`
	Version            int                `json:"version"`
	State              record.State       `json:"state"`
	Editable           bool               `json:"editable"`
	GeneralNotes       string             `json:"general_notes"`
	Sections           []SectionView      `json:"sections"`
	AllowedActions     []record.Action    `json:"allowed_actions"`
	Pending            bool               `json:"pending"`
	DictationSupported bool               `json:"dictation_supported"`
	Dictation          dictation.Snapshot `json:"dictation"`
}

func (s *Session) View() View {
	snap := s.capture.Snapshot()

	s.mu.Lock()
	defer s.mu.Unlock()
	v := View{
		Pending:            s.pending,
		DictationSupported: s.capture.IsSupported(),
		Dictation:          snap,
	}
	if s.rec == nil {
		return v
	}
	if s.rec.IsPersisted() {
		id := s.rec.ID
		v.RecordID = &id
		// unsaved drafts have nothing the server could transition
		v.AllowedActions = record.AllowedActions(s.rec.State)
	}
	v.PatientID = s.rec.PatientID
	v.Version = s.rec.Version
	v.State = s.rec.State
	v.Editable = s.rec.State.IsEditable()
	v.GeneralNotes = s.rec.GeneralNotes
	for i, sec := range s.sections.Sections() {
		v.Sections = append(v.Sections, SectionView{
			Index:      i,
			Type:       sec.Type,
			Content:    sec.Content,
			Provenance: sec.Provenance,
			Position:   sec.Position,
			Active:     i == s.active,
		})
	}
	return v
}
