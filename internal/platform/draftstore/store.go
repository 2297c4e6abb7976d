package draftstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/ehr/clinrec/internal/domain/record"
)

var ErrNotFound = errors.New("no journaled draft for key")

// Entry is one journaled payload.
type Entry struct {
	Key     string       `json:"key"`
	Draft   record.Draft `json:"draft"`
	SavedAt time.Time    `json:"saved_at"`
}

// Store is a local sqlite journal of unsaved authoring payloads, keyed by
// the session's journal key.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

const schema = `
CREATE TABLE IF NOT EXISTS draft_journal (
	key      TEXT PRIMARY KEY,
	payload  TEXT NOT NULL,
	saved_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_draft_journal_saved_at ON draft_journal(saved_at);
`

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open draft journal: %w", err)
	}
	// sqlite allows one writer; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init draft journal: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Save(ctx context.Context, key string, d record.Draft) error {
	if key == "" {
		return errors.New("draft journal key is required")
	}
	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encode draft: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO draft_journal (key, payload, saved_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET payload = excluded.payload, saved_at = excluded.saved_at`,
		key, string(payload), s.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("save draft %s: %w", key, err)
	}
	return nil
}

func (s *Store) Load(ctx context.Context, key string) (*Entry, error) {
	var (
		payload string
		savedAt int64
	)
	err := s.db.QueryRowContext(ctx, `SELECT payload, saved_at FROM draft_journal WHERE key = ?`, key).Scan(&payload, &savedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load draft %s: %w", key, err)
	}
	return decode(key, payload, savedAt)
}

// List returns every journaled entry, most recent first.
func (s *Store) List(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, payload, saved_at FROM draft_journal ORDER BY saved_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list drafts: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			key, payload string
			savedAt      int64
		)
		if err := rows.Scan(&key, &payload, &savedAt); err != nil {
			return nil, err
		}
		e, err := decode(key, payload, savedAt)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func decode(key, payload string, savedAt int64) (*Entry, error) {
	e := &Entry{Key: key, SavedAt: time.UnixMilli(savedAt)}
	if err := json.Unmarshal([]byte(payload), &e.Draft); err != nil {
		return nil, fmt.Errorf("decode draft %s: %w", key, err)
	}
	return e, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM draft_journal WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete draft %s: %w", key, err)
	}
	return nil
}

// Prune removes entries saved more than olderThan ago and returns how many went.
func (s *Store) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := s.now().Add(-olderThan).UnixMilli()
	res, err := s.db.ExecContext(ctx, `DELETE FROM draft_journal WHERE saved_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune drafts: %w", err)
	}
	return res.RowsAffected()
}
