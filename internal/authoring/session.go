package authoring

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/clinrec/internal/dictation"
	"github.com/ehr/clinrec/internal/domain/record"
)

// Store is the persistence collaborator. The server behind it is the
// authority on lifecycle transitions.
type Store interface {
	Create(ctx context.Context, d record.Draft) (*record.ClinicalRecord, error)
	Update(ctx context.Context, id uuid.UUID, d record.Draft) (*record.ClinicalRecord, error)
	Transition(ctx context.Context, id uuid.UUID, action record.Action) (*record.ClinicalRecord, error)
	Fetch(ctx context.Context, id uuid.UUID) (*record.ClinicalRecord, error)
}

// Payload is the create/update body built from the session.
type Payload = record.Draft

// Session binds one record's sections to at most one dictation capture and
// tracks the section dictation is aimed at. All handlers are serialized;
// store requests run outside the lock so a slow server never blocks edits.
type Session struct {
	store      Store
	capture    *dictation.Capture
	logger     zerolog.Logger
	normalizer Normalizer
	onChange   func(string, Payload)

	mu       sync.Mutex
	rec      *record.ClinicalRecord
	sections *record.SectionSet
	active   int
	pending  bool
	// epoch changes whenever a different record is opened, so responses for
	// the previous one are discarded.
	epoch uint64
	// dictGen changes on every start/stop so finals from an earlier capture
	// session are dropped.
	dictGen uint64
}

func New(store Store, capture *dictation.Capture, opts ...Option) *Session {
	if capture == nil {
		capture = dictation.NewCapture(dictation.Unavailable())
	}
	s := &Session{
		store:    store,
		capture:  capture,
		logger:   zerolog.Nop(),
		sections: record.NewSectionSet(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewRecord opens a blank draft for patientID.
func (s *Session) NewRecord(patientID uuid.UUID) {
	s.StopDictation()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.epoch++
	s.rec = &record.ClinicalRecord{PatientID: patientID, State: record.StateDraft}
	s.sections.Initialize()
	s.active = 0
}

// Load fetches a stored record and opens it.
func (s *Session) Load(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	if s.pending {
		s.mu.Unlock()
		return ErrRequestPending
	}
	s.pending = true
	s.mu.Unlock()

	rec, err := s.store.Fetch(ctx, id)

	if err == nil {
		s.StopDictation()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = false
	if err != nil {
		return err
	}
	s.epoch++
	s.open(rec)
	s.active = 0
	return nil
}

// Restore opens a journaled payload on top of the record it was taken from.
// Callers load the record first; an unsaved record is restored from scratch.
// A payload for another patient fails with ErrDraftMismatch.
func (s *Session) Restore(p Payload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rec == nil {
		s.rec = &record.ClinicalRecord{PatientID: p.PatientID, State: record.StateDraft}
	}
	if p.PatientID != s.rec.PatientID {
		return fmt.Errorf("%w: draft is for patient %s, record is for %s", ErrDraftMismatch, p.PatientID, s.rec.PatientID)
	}
	if !s.rec.State.IsEditable() {
		return ErrNotEditable
	}
	s.rec.GeneralNotes = p.GeneralNotes
	if len(p.Events) > 0 {
		s.rec.Events = p.Events
	}
	if len(p.Medications) > 0 {
		s.rec.Medications = p.Medications
	}
	s.sections.LoadExisting(record.Complete(p.Sections))
	return nil
}

// open replaces the local record. Callers hold s.mu.
func (s *Session) open(rec *record.ClinicalRecord) {
	s.rec = rec.Clone()
	s.sections.LoadExisting(s.rec.Sections)
	s.rec.Sections = nil
	if s.active >= s.sections.Len() {
		s.active = 0
	}
}

func (s *Session) ActiveSection() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// SetActiveSection retargets dictation. It may be called while recording.
func (s *Session) SetActiveSection(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.sections.At(index); err != nil {
		return err
	}
	s.active = index
	return nil
}

func (s *Session) editable() error {
	if s.rec == nil {
		return ErrNoRecord
	}
	if !s.rec.State.IsEditable() {
		return fmt.Errorf("%w: %s", ErrNotEditable, s.rec.State)
	}
	return nil
}

func (s *Session) SetManualContent(index int, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.editable(); err != nil {
		return err
	}
	if err := s.sections.SetManualContent(index, text); err != nil {
		return err
	}
	s.changed()
	return nil
}

func (s *Session) SetGeneralNotes(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.editable(); err != nil {
		return err
	}
	s.rec.GeneralNotes = text
	s.changed()
	return nil
}

// OnDictatedSegment merges finalized dictation into the active section. It
// fails with ErrDictationUnavailable when the session has no working capture
// and with ErrNotEditable outside draft.
func (s *Session) OnDictatedSegment(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mergeLocked(text)
}

func (s *Session) dictated(gen uint64, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.dictGen {
		s.logger.Debug().Int("chars", len(text)).Msg("dropping segment from a stopped dictation")
		return
	}
	if err := s.mergeLocked(text); err != nil {
		s.logger.Warn().Err(err).Int("section", s.active).Msg("dropping dictated segment")
	}
}

func (s *Session) mergeLocked(text string) error {
	if !s.capture.IsSupported() {
		return ErrDictationUnavailable
	}
	if err := s.editable(); err != nil {
		return err
	}
	if s.normalizer != nil {
		text = s.normalizer.Normalize(text)
	}
	if err := s.sections.MergeDictated(s.active, text, s.capture.Tag()); err != nil {
		return err
	}
	s.changed()
	return nil
}

// StartDictation starts capture aimed at the active section. An unsupported
// capability is not an error; the session stays manual-only.
func (s *Session) StartDictation(ctx context.Context) error {
	s.mu.Lock()
	if err := s.editable(); err != nil {
		s.mu.Unlock()
		return err
	}
	if s.capture.IsRecording() {
		s.mu.Unlock()
		return nil
	}
	s.dictGen++
	gen := s.dictGen
	s.mu.Unlock()

	return s.capture.Start(ctx, func(text string) { s.dictated(gen, text) })
}

func (s *Session) StopDictation() {
	s.mu.Lock()
	s.dictGen++
	s.mu.Unlock()
	s.capture.Stop()
}

func (s *Session) Dictation() dictation.Snapshot {
	return s.capture.Snapshot()
}

func (s *Session) DictationSupported() bool {
	return s.capture.IsSupported()
}

func (s *Session) BuildSubmissionPayload() Payload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.payloadLocked()
}

func (s *Session) payloadLocked() Payload {
	if s.rec == nil {
		return Payload{}
	}
	p := Payload{
		PatientID:    s.rec.PatientID,
		GeneralNotes: s.rec.GeneralNotes,
		Sections:     s.sections.ForSubmission(),
	}
	if len(s.rec.Events) > 0 {
		p.Events = append([]record.ObstetricEvent(nil), s.rec.Events...)
	}
	if len(s.rec.Medications) > 0 {
		p.Medications = append([]record.Medication(nil), s.rec.Medications...)
	}
	return p
}

// JournalKey identifies the open record in a local draft journal.
func (s *Session) JournalKey() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.journalKeyLocked()
}

func (s *Session) journalKeyLocked() string {
	if s.rec == nil {
		return ""
	}
	if s.rec.IsPersisted() {
		return "record/" + s.rec.ID.String()
	}
	return "patient/" + s.rec.PatientID.String() + "/new"
}

func (s *Session) changed() {
	if s.onChange != nil {
		s.onChange(s.journalKeyLocked(), s.payloadLocked())
	}
}

// Save creates the record on first save and updates it afterwards. On
// success only the stored identity, version and state are taken from the
// response; sections stay as the user sees them. On failure nothing local
// changes and the store's error is returned as is.
func (s *Session) Save(ctx context.Context) (*record.ClinicalRecord, error) {
	s.mu.Lock()
	if s.pending {
		s.mu.Unlock()
		return nil, ErrRequestPending
	}
	if err := s.editable(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	payload := s.payloadLocked()
	id, persisted := s.rec.ID, s.rec.IsPersisted()
	epoch := s.epoch
	s.pending = true
	s.mu.Unlock()

	var (
		stored *record.ClinicalRecord
		err    error
	)
	if persisted {
		stored, err = s.store.Update(ctx, id, payload)
	} else {
		stored, err = s.store.Create(ctx, payload)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = false
	if err != nil {
		s.logger.Debug().Err(err).Msg("save rejected")
		return nil, err
	}
	if epoch != s.epoch {
		return stored, nil
	}
	s.rec.ID = stored.ID
	s.rec.Version = stored.Version
	s.rec.State = stored.State
	s.rec.ClinicianID = stored.ClinicianID
	s.rec.CreatedAt = stored.CreatedAt
	s.rec.UpdatedAt = stored.UpdatedAt
	s.logger.Debug().Str("record_id", stored.ID.String()).Int("version", stored.Version).Msg("record saved")
	return stored, nil
}

// Apply sends one lifecycle action to the store. The returned record
// replaces the local one; a rejection leaves local state untouched,
// dictation included. Dictation stops once the record leaves draft.
func (s *Session) Apply(ctx context.Context, action record.Action) (*record.ClinicalRecord, error) {
	s.mu.Lock()
	if s.pending {
		s.mu.Unlock()
		return nil, ErrRequestPending
	}
	if s.rec == nil {
		s.mu.Unlock()
		return nil, ErrNoRecord
	}
	if !s.rec.IsPersisted() {
		s.mu.Unlock()
		return nil, ErrNotSaved
	}
	id, epoch := s.rec.ID, s.epoch
	s.pending = true
	s.mu.Unlock()

	stored, err := s.store.Transition(ctx, id, action)

	s.mu.Lock()
	s.pending = false
	if err != nil {
		s.mu.Unlock()
		s.logger.Debug().Err(err).Str("action", string(action)).Msg("transition rejected")
		return nil, err
	}
	if epoch == s.epoch {
		s.open(stored)
	}
	leftDraft := !s.rec.State.IsEditable()
	s.mu.Unlock()

	if leftDraft {
		s.StopDictation()
	}
	return stored, nil
}

// Record returns a copy of the local record with its current sections.
func (s *Session) Record() *record.ClinicalRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rec == nil {
		return nil
	}
	out := s.rec.Clone()
	out.Sections = s.sections.Sections()
	return out
}

func (s *Session) State() record.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rec == nil {
		return ""
	}
	return s.rec.State
}
