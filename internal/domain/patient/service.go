package patient

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Actor is the authenticated caller. Privileged actors see every patient.
type Actor struct {
	ClinicianID string
	Privileged  bool
}

type Service struct {
	patients Repository
	logger   zerolog.Logger
}

func NewService(patients Repository, logger zerolog.Logger) *Service {
	return &Service{patients: patients, logger: logger}
}

func validate(p *Patient) error {
	if strings.TrimSpace(p.FirstName) == "" || strings.TrimSpace(p.LastName) == "" {
		return fmt.Errorf("first_name and last_name are required")
	}
	return nil
}

func (s *Service) Create(ctx context.Context, actor Actor, p *Patient) error {
	p.NationalID = strings.TrimSpace(p.NationalID)
	if p.NationalID == "" {
		return fmt.Errorf("national_id is required")
	}
	if err := validate(p); err != nil {
		return err
	}
	if existing, err := s.patients.GetByNationalID(ctx, p.NationalID); err == nil && existing != nil {
		return ErrDuplicateNationalID
	} else if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	p.ClinicianID = actor.ClinicianID
	if err := s.patients.Create(ctx, p); err != nil {
		return err
	}
	s.logger.Info().Str("patient_id", p.ID.String()).Str("clinician_id", actor.ClinicianID).Msg("patient created")
	return nil
}

// Get returns the patient, or ErrNotFound when the actor does not own it.
func (s *Service) Get(ctx context.Context, actor Actor, id uuid.UUID) (*Patient, error) {
	p, err := s.patients.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.Privileged && p.ClinicianID != actor.ClinicianID {
		return nil, ErrNotFound
	}
	return p, nil
}

// Update changes demographic fields. National ID and owner are immutable.
func (s *Service) Update(ctx context.Context, actor Actor, id uuid.UUID, in *Patient) (*Patient, error) {
	p, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if err := validate(in); err != nil {
		return nil, err
	}
	p.FirstName = in.FirstName
	p.LastName = in.LastName
	p.BirthDate = in.BirthDate
	p.Phone = in.Phone
	p.Address = in.Address
	if err := s.patients.Update(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// List returns the actor's patients, optionally filtered by a name or national id term.
func (s *Service) List(ctx context.Context, actor Actor, term string, limit, offset int) ([]*Patient, int, error) {
	clinicianID := actor.ClinicianID
	if actor.Privileged {
		clinicianID = ""
	}
	if term = strings.TrimSpace(term); term != "" {
		return s.patients.Search(ctx, clinicianID, term, limit, offset)
	}
	return s.patients.List(ctx, clinicianID, limit, offset)
}

// VerifyPatient confirms the patient exists and belongs to clinicianID.
// Records use it before referencing a patient.
func (s *Service) VerifyPatient(ctx context.Context, patientID uuid.UUID, clinicianID string) error {
	_, err := s.Get(ctx, Actor{ClinicianID: clinicianID}, patientID)
	return err
}
