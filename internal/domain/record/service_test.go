package record

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/clinrec/internal/platform/websocket"
)

// -- Mock Repository --

type mockRecordRepo struct {
	records map[uuid.UUID]*ClinicalRecord
}

func newMockRecordRepo() *mockRecordRepo {
	return &mockRecordRepo{records: make(map[uuid.UUID]*ClinicalRecord)}
}

func (m *mockRecordRepo) Create(_ context.Context, r *ClinicalRecord) error {
	r.ID = uuid.New()
	r.CreatedAt = time.Now()
	r.UpdatedAt = time.Now()
	m.records[r.ID] = r.Clone()
	return nil
}

func (m *mockRecordRepo) GetByID(_ context.Context, id uuid.UUID) (*ClinicalRecord, error) {
	r, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return r.Clone(), nil
}

func (m *mockRecordRepo) Update(_ context.Context, r *ClinicalRecord) error {
	if _, ok := m.records[r.ID]; !ok {
		return ErrNotFound
	}
	m.records[r.ID] = r.Clone()
	return nil
}

func (m *mockRecordRepo) UpdateState(_ context.Context, id uuid.UUID, from, to State) error {
	r, ok := m.records[id]
	if !ok {
		return ErrNotFound
	}
	if r.State != from {
		return ErrStaleState
	}
	r.State = to
	return nil
}

func (m *mockRecordRepo) ListByPatient(_ context.Context, patientID uuid.UUID, clinicianID string, limit, offset int) ([]*ClinicalRecord, int, error) {
	var result []*ClinicalRecord
	for _, r := range m.records {
		if r.PatientID == patientID && (clinicianID == "" || r.ClinicianID == clinicianID) {
			result = append(result, r.Clone())
		}
	}
	return result, len(result), nil
}

func (m *mockRecordRepo) ListByClinician(_ context.Context, clinicianID string, limit, offset int) ([]*ClinicalRecord, int, error) {
	var result []*ClinicalRecord
	for _, r := range m.records {
		if r.ClinicianID == clinicianID {
			result = append(result, r.Clone())
		}
	}
	return result, len(result), nil
}

func (m *mockRecordRepo) List(_ context.Context, limit, offset int) ([]*ClinicalRecord, int, error) {
	var result []*ClinicalRecord
	for _, r := range m.records {
		result = append(result, r.Clone())
	}
	return result, len(result), nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []websocket.Event
}

func (p *recordingPublisher) Publish(_ context.Context, ev websocket.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, ev := range p.events {
		out = append(out, ev.Type)
	}
	return out
}

type stubVerifier struct{ err error }

func (v stubVerifier) VerifyPatient(context.Context, uuid.UUID, string) error { return v.err }

var (
	owner    = Actor{ClinicianID: "obs-1"}
	stranger = Actor{ClinicianID: "obs-2"}
	auditor  = Actor{ClinicianID: "aud-1", Privileged: true}
)

func newTestService() (*Service, *mockRecordRepo, *recordingPublisher) {
	repo := newMockRecordRepo()
	pub := &recordingPublisher{}
	return NewService(repo, nil, pub, zerolog.Nop()), repo, pub
}

func createDraft(t *testing.T, svc *Service) *ClinicalRecord {
	t.Helper()
	rec, err := svc.Create(context.Background(), owner, &Draft{
		PatientID:    uuid.New(),
		GeneralNotes: "control prenatal",
		Sections:     []Section{{Type: SectionIntakeData, Content: "x", Provenance: ProvenanceVoiceWebSpeech}},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return rec
}

func TestService_Create(t *testing.T) {
	svc, _, pub := newTestService()
	rec := createDraft(t, svc)

	if rec.State != StateDraft || rec.Version != 1 {
		t.Errorf("expected draft v1, got %s v%d", rec.State, rec.Version)
	}
	if rec.ClinicianID != "obs-1" {
		t.Errorf("expected clinician obs-1, got %s", rec.ClinicianID)
	}
	if len(rec.Sections) != 8 {
		t.Fatalf("expected 8 stored sections, got %d", len(rec.Sections))
	}
	if rec.Sections[0].Content != "x" || rec.Sections[0].Provenance != ProvenanceVoiceWebSpeech {
		t.Errorf("unexpected first section: %+v", rec.Sections[0])
	}
	if got := pub.types(); len(got) != 2 || got[0] != "record.created" {
		t.Errorf("expected record.created on two topics, got %v", got)
	}
}

func TestService_Create_Validation(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	if _, err := svc.Create(ctx, owner, &Draft{}); err == nil {
		t.Error("expected error for missing patient_id")
	}
	if _, err := svc.Create(ctx, owner, &Draft{PatientID: uuid.New(), Sections: []Section{{Type: "diet"}}}); err == nil {
		t.Error("expected error for unknown section type")
	}
	dup := []Section{{Type: SectionLabor}, {Type: SectionLabor}}
	if _, err := svc.Create(ctx, owner, &Draft{PatientID: uuid.New(), Sections: dup}); err == nil {
		t.Error("expected error for duplicate section type")
	}
}

func TestService_Create_UnknownPatient(t *testing.T) {
	repo := newMockRecordRepo()
	wantErr := errors.New("patient not found")
	svc := NewService(repo, stubVerifier{err: wantErr}, nil, zerolog.Nop())
	_, err := svc.Create(context.Background(), owner, &Draft{PatientID: uuid.New()})
	if !errors.Is(err, wantErr) {
		t.Errorf("expected verifier error, got %v", err)
	}
	if len(repo.records) != 0 {
		t.Error("record should not be stored")
	}
}

func TestService_Get_Ownership(t *testing.T) {
	svc, _, _ := newTestService()
	rec := createDraft(t, svc)
	ctx := context.Background()

	if _, err := svc.Get(ctx, owner, rec.ID); err != nil {
		t.Errorf("owner should read: %v", err)
	}
	if _, err := svc.Get(ctx, stranger, rec.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("stranger should get ErrNotFound, got %v", err)
	}
	if _, err := svc.Get(ctx, auditor, rec.ID); err != nil {
		t.Errorf("auditor should read: %v", err)
	}
}

func TestService_Update_DraftOnly(t *testing.T) {
	svc, _, _ := newTestService()
	rec := createDraft(t, svc)
	ctx := context.Background()

	updated, err := svc.Update(ctx, owner, rec.ID, &Draft{
		GeneralNotes: "editado",
		Sections:     []Section{{Type: SectionNewborn, Content: "apgar 9", Provenance: ProvenanceManual}},
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.GeneralNotes != "editado" {
		t.Errorf("expected notes updated, got %q", updated.GeneralNotes)
	}
	if updated.Sections[0].Content != "" {
		t.Errorf("omitted section should be cleared, got %q", updated.Sections[0].Content)
	}
	if updated.Sections[4].Content != "apgar 9" {
		t.Errorf("expected newborn content, got %q", updated.Sections[4].Content)
	}

	if _, err := svc.Transition(ctx, owner, rec.ID, ActionSubmitForReview); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := svc.Update(ctx, owner, rec.ID, &Draft{GeneralNotes: "late"}); !errors.Is(err, ErrNotEditable) {
		t.Errorf("expected ErrNotEditable, got %v", err)
	}
}

func TestService_Transition(t *testing.T) {
	svc, repo, pub := newTestService()
	rec := createDraft(t, svc)
	ctx := context.Background()

	_, err := svc.Transition(ctx, owner, rec.ID, ActionFinalize)
	if !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("finalize from draft should be illegal, got %v", err)
	}
	if repo.records[rec.ID].State != StateDraft {
		t.Errorf("state should be unchanged, got %s", repo.records[rec.ID].State)
	}

	got, err := svc.Transition(ctx, owner, rec.ID, ActionSubmitForReview)
	if err != nil || got.State != StateInReview {
		t.Fatalf("submit: %v, %v", got, err)
	}
	got, err = svc.Transition(ctx, owner, rec.ID, ActionFinalize)
	if err != nil || got.State != StateFinalized {
		t.Fatalf("finalize: %v, %v", got, err)
	}
	if _, err := svc.Transition(ctx, owner, rec.ID, ActionVoid); !errors.Is(err, ErrIllegalTransition) {
		t.Errorf("void from finalized should be illegal, got %v", err)
	}

	types := pub.types()
	if types[len(types)-1] != "record.finalized" {
		t.Errorf("expected record.finalized last, got %v", types)
	}
}

func TestService_Transition_Stranger(t *testing.T) {
	svc, _, _ := newTestService()
	rec := createDraft(t, svc)
	if _, err := svc.Transition(context.Background(), stranger, rec.ID, ActionVoid); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestService_NewVersion(t *testing.T) {
	svc, _, _ := newTestService()
	rec := createDraft(t, svc)
	ctx := context.Background()

	if _, err := svc.NewVersion(ctx, owner, rec.ID); !errors.Is(err, ErrNotFinalized) {
		t.Fatalf("expected ErrNotFinalized, got %v", err)
	}
	svc.Transition(ctx, owner, rec.ID, ActionSubmitForReview)
	svc.Transition(ctx, owner, rec.ID, ActionFinalize)

	next, err := svc.NewVersion(ctx, owner, rec.ID)
	if err != nil {
		t.Fatalf("new version: %v", err)
	}
	if next.ID == rec.ID {
		t.Error("new version should have a new id")
	}
	if next.Version != 2 || next.State != StateDraft {
		t.Errorf("expected draft v2, got %s v%d", next.State, next.Version)
	}
	if next.Sections[0].Content != "x" || next.GeneralNotes != "control prenatal" {
		t.Error("content should be copied from the finalized record")
	}
	prev, _ := svc.Get(ctx, owner, rec.ID)
	if prev.State != StateFinalized {
		t.Errorf("previous version should stay finalized, got %s", prev.State)
	}
}

func TestService_List(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	createDraft(t, svc)
	createDraft(t, svc)
	svc.Create(ctx, stranger, &Draft{PatientID: uuid.New()})

	_, total, err := svc.List(ctx, owner, nil, 20, 0)
	if err != nil || total != 2 {
		t.Errorf("owner should see 2, got %d (%v)", total, err)
	}
	_, total, _ = svc.List(ctx, auditor, nil, 20, 0)
	if total != 3 {
		t.Errorf("auditor should see 3, got %d", total)
	}
}
