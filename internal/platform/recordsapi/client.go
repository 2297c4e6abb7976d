package recordsapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/clinrec/internal/domain/patient"
	"github.com/ehr/clinrec/internal/domain/record"
	"github.com/ehr/clinrec/internal/platform/auth"
)

var ErrSessionExpired = errors.New("session has expired, sign in again")

// RejectionError is a non-2xx answer from the records API. Message is the
// server's human-readable reason, passed through as is.
type RejectionError struct {
	Status  int
	Message string
}

func (e *RejectionError) Error() string {
	return e.Message
}

// Unwrap lets callers test for record.ErrNotFound with errors.Is.
func (e *RejectionError) Unwrap() error {
	if e.Status == http.StatusNotFound {
		return record.ErrNotFound
	}
	return nil
}

// SessionProvider supplies the caller's session. A nil session sends no
// credentials.
type SessionProvider interface {
	Session() *auth.Session
}

// StaticSession is a SessionProvider holding one parsed token.
type StaticSession struct {
	S *auth.Session
}

func (s StaticSession) Session() *auth.Session { return s.S }

// Client talks to the records REST API. It satisfies authoring.Store.
type Client struct {
	baseURL  string
	http     *http.Client
	sessions SessionProvider
	now      func() time.Time
}

func NewClient(baseURL string, sessions SessionProvider) *Client {
	if sessions == nil {
		sessions = StaticSession{}
	}
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		http:     &http.Client{Timeout: 15 * time.Second},
		sessions: sessions,
		now:      time.Now,
	}
}

func (c *Client) Create(ctx context.Context, d record.Draft) (*record.ClinicalRecord, error) {
	var out record.ClinicalRecord
	if err := c.do(ctx, http.MethodPost, "/records", d, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Update(ctx context.Context, id uuid.UUID, d record.Draft) (*record.ClinicalRecord, error) {
	var out record.ClinicalRecord
	if err := c.do(ctx, http.MethodPut, "/records/"+id.String(), d, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Transition(ctx context.Context, id uuid.UUID, action record.Action) (*record.ClinicalRecord, error) {
	var out record.ClinicalRecord
	if err := c.do(ctx, http.MethodPatch, "/records/"+id.String()+"/"+string(action), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Fetch(ctx context.Context, id uuid.UUID) (*record.ClinicalRecord, error) {
	var out record.ClinicalRecord
	if err := c.do(ctx, http.MethodGet, "/records/"+id.String(), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// NewVersion opens a new draft version of a finalized record.
func (c *Client) NewVersion(ctx context.Context, id uuid.UUID) (*record.ClinicalRecord, error) {
	var out record.ClinicalRecord
	if err := c.do(ctx, http.MethodPost, "/records/"+id.String()+"/versions", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Patient(ctx context.Context, id uuid.UUID) (*patient.Patient, error) {
	var out patient.Patient
	if err := c.do(ctx, http.MethodGet, "/patients/"+id.String(), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s := c.sessions.Session(); s != nil {
		if s.Expired(c.now()) {
			return ErrSessionExpired
		}
		req.Header.Set("Authorization", "Bearer "+s.Token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return rejection(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// rejection reads echo's {"message": ...} error body, falling back to the
// status text.
func rejection(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var body struct {
		Message interface{} `json:"message"`
	}
	msg := ""
	if json.Unmarshal(raw, &body) == nil && body.Message != nil {
		msg = fmt.Sprint(body.Message)
	}
	if strings.TrimSpace(msg) == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &RejectionError{Status: resp.StatusCode, Message: msg}
}
