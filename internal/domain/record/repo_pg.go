package record

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/clinrec/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const recordCols = `id, patient_id, clinician_id, version, state, general_notes, created_at, updated_at`

func (r *repoPG) scanRecord(row pgx.Row) (*ClinicalRecord, error) {
	var rec ClinicalRecord
	err := row.Scan(&rec.ID, &rec.PatientID, &rec.ClinicianID, &rec.Version, &rec.State,
		&rec.GeneralNotes, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &rec, err
}

func (r *repoPG) Create(ctx context.Context, rec *ClinicalRecord) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		rec.ID = uuid.New()
		now := time.Now().UTC()
		rec.CreatedAt = now
		rec.UpdatedAt = now
		_, err := r.conn(ctx).Exec(ctx, `
			INSERT INTO clinical_record (id, patient_id, clinician_id, version, state, general_notes, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			rec.ID, rec.PatientID, rec.ClinicianID, rec.Version, rec.State, rec.GeneralNotes, rec.CreatedAt, rec.UpdatedAt)
		if err != nil {
			return err
		}
		return r.insertChildren(ctx, rec)
	})
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*ClinicalRecord, error) {
	rec, err := r.scanRecord(r.conn(ctx).QueryRow(ctx, `SELECT `+recordCols+` FROM clinical_record WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	if err := r.loadChildren(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (r *repoPG) Update(ctx context.Context, rec *ClinicalRecord) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		rec.UpdatedAt = time.Now().UTC()
		tag, err := r.conn(ctx).Exec(ctx, `
			UPDATE clinical_record SET general_notes=$2, updated_at=$3
			WHERE id = $1`,
			rec.ID, rec.GeneralNotes, rec.UpdatedAt)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		for _, table := range []string{"record_section", "obstetric_event", "record_medication"} {
			if _, err := r.conn(ctx).Exec(ctx, `DELETE FROM `+table+` WHERE record_id = $1`, rec.ID); err != nil {
				return err
			}
		}
		return r.insertChildren(ctx, rec)
	})
}

func (r *repoPG) UpdateState(ctx context.Context, id uuid.UUID, from, to State) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE clinical_record SET state=$3, updated_at=NOW()
		WHERE id = $1 AND state = $2`,
		id, from, to)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleState
	}
	return nil
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, clinicianID string, limit, offset int) ([]*ClinicalRecord, int, error) {
	if clinicianID == "" {
		return r.list(ctx, `WHERE patient_id = $1`, []interface{}{patientID}, limit, offset)
	}
	return r.list(ctx, `WHERE patient_id = $1 AND clinician_id = $2`, []interface{}{patientID, clinicianID}, limit, offset)
}

func (r *repoPG) ListByClinician(ctx context.Context, clinicianID string, limit, offset int) ([]*ClinicalRecord, int, error) {
	return r.list(ctx, `WHERE clinician_id = $1`, []interface{}{clinicianID}, limit, offset)
}

func (r *repoPG) List(ctx context.Context, limit, offset int) ([]*ClinicalRecord, int, error) {
	return r.list(ctx, ``, nil, limit, offset)
}

func (r *repoPG) list(ctx context.Context, where string, args []interface{}, limit, offset int) ([]*ClinicalRecord, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM clinical_record `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	n := len(args)
	query := `SELECT ` + recordCols + ` FROM clinical_record ` + where +
		` ORDER BY updated_at DESC LIMIT $` + strconv.Itoa(n+1) + ` OFFSET $` + strconv.Itoa(n+2)
	rows, err := r.conn(ctx).Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*ClinicalRecord
	for rows.Next() {
		rec, err := r.scanRecord(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, rec)
	}
	return items, total, rows.Err()
}

func (r *repoPG) insertChildren(ctx context.Context, rec *ClinicalRecord) error {
	for i := range rec.Sections {
		s := &rec.Sections[i]
		id := uuid.New()
		s.ID = &id
		if _, err := r.conn(ctx).Exec(ctx, `
			INSERT INTO record_section (id, record_id, type, content, provenance, position)
			VALUES ($1,$2,$3,$4,$5,$6)`,
			id, rec.ID, s.Type, s.Content, s.Provenance, s.Position); err != nil {
			return err
		}
	}
	for i := range rec.Events {
		e := &rec.Events[i]
		id := uuid.New()
		e.ID = &id
		if _, err := r.conn(ctx).Exec(ctx, `
			INSERT INTO obstetric_event (id, record_id, type, occurred_at, gestational_week, notes)
			VALUES ($1,$2,$3,$4,$5,$6)`,
			id, rec.ID, e.Type, e.OccurredAt, e.GestationalWeek, e.Notes); err != nil {
			return err
		}
	}
	for i := range rec.Medications {
		m := &rec.Medications[i]
		id := uuid.New()
		m.ID = &id
		if _, err := r.conn(ctx).Exec(ctx, `
			INSERT INTO record_medication (id, record_id, name, dose, route, frequency, duration)
			VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			id, rec.ID, m.Name, m.Dose, m.Route, m.Frequency, m.Duration); err != nil {
			return err
		}
	}
	return nil
}

func (r *repoPG) loadChildren(ctx context.Context, rec *ClinicalRecord) error {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, type, content, provenance, position FROM record_section
		WHERE record_id = $1 ORDER BY position`, rec.ID)
	if err != nil {
		return err
	}
	rec.Sections = []Section{}
	for rows.Next() {
		var s Section
		var id uuid.UUID
		if err := rows.Scan(&id, &s.Type, &s.Content, &s.Provenance, &s.Position); err != nil {
			rows.Close()
			return err
		}
		s.ID = &id
		rec.Sections = append(rec.Sections, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = r.conn(ctx).Query(ctx, `
		SELECT id, type, occurred_at, gestational_week, notes FROM obstetric_event
		WHERE record_id = $1 ORDER BY occurred_at`, rec.ID)
	if err != nil {
		return err
	}
	rec.Events = []ObstetricEvent{}
	for rows.Next() {
		var e ObstetricEvent
		var id uuid.UUID
		if err := rows.Scan(&id, &e.Type, &e.OccurredAt, &e.GestationalWeek, &e.Notes); err != nil {
			rows.Close()
			return err
		}
		e.ID = &id
		rec.Events = append(rec.Events, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = r.conn(ctx).Query(ctx, `
		SELECT id, name, dose, route, frequency, duration FROM record_medication
		WHERE record_id = $1 ORDER BY name`, rec.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	rec.Medications = []Medication{}
	for rows.Next() {
		var m Medication
		var id uuid.UUID
		if err := rows.Scan(&id, &m.Name, &m.Dose, &m.Route, &m.Frequency, &m.Duration); err != nil {
			return err
		}
		m.ID = &id
		rec.Medications = append(rec.Medications, m)
	}
	return rows.Err()
}

