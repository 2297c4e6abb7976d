package patient

import (
	"time"

	"github.com/google/uuid"
)

// Patient maps to the patient table. Records only reference it by ID.
type Patient struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	NationalID  string     `db:"national_id" json:"national_id"`
	FirstName   string     `db:"first_name" json:"first_name"`
	LastName    string     `db:"last_name" json:"last_name"`
	BirthDate   *time.Time `db:"birth_date" json:"birth_date,omitempty"`
	Phone       *string    `db:"phone" json:"phone,omitempty"`
	Address     *string    `db:"address" json:"address,omitempty"`
	ClinicianID string     `db:"clinician_id" json:"clinician_id,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
}

func (p *Patient) FullName() string {
	return p.FirstName + " " + p.LastName
}
