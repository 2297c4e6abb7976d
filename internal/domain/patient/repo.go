package patient

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrNotFound            = errors.New("patient not found")
	ErrDuplicateNationalID = errors.New("a patient with this national id already exists")
)

// Repository stores patients. An empty clinicianID lists every clinician's patients.
type Repository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetByNationalID(ctx context.Context, nationalID string) (*Patient, error)
	Update(ctx context.Context, p *Patient) error
	List(ctx context.Context, clinicianID string, limit, offset int) ([]*Patient, int, error)
	Search(ctx context.Context, clinicianID, term string, limit, offset int) ([]*Patient, int, error)
}
