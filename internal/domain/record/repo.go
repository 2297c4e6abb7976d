package record

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrNotFound   = errors.New("clinical record not found")
	ErrStaleState = errors.New("clinical record state changed concurrently")
)

type Repository interface {
	// Create assigns the record ID and timestamps and stores the record with its children.
	Create(ctx context.Context, r *ClinicalRecord) error
	GetByID(ctx context.Context, id uuid.UUID) (*ClinicalRecord, error)
	// Update stores notes and replaces sections, events and medications wholesale.
	Update(ctx context.Context, r *ClinicalRecord) error
	// UpdateState moves a record from one state to another, failing with
	// ErrStaleState when the stored state is no longer from.
	UpdateState(ctx context.Context, id uuid.UUID, from, to State) error
	// ListByPatient restricts to clinicianID unless it is empty.
	ListByPatient(ctx context.Context, patientID uuid.UUID, clinicianID string, limit, offset int) ([]*ClinicalRecord, int, error)
	ListByClinician(ctx context.Context, clinicianID string, limit, offset int) ([]*ClinicalRecord, int, error)
	List(ctx context.Context, limit, offset int) ([]*ClinicalRecord, int, error)
}
