package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/clinrec/internal/platform/auth"
)

// AuditEntry is one access to a clinical record or patient.
type AuditEntry struct {
	UserID     string
	UserRoles  []string
	Resource   string // records or patients
	ResourceID string
	Action     string // read, search, create, update, submit-for-review, finalize, void, version
	Method     string
	Path       string
	IPAddress  string
	RequestID  string
	StatusCode int
	Timestamp  time.Time
}

// AuditRecorder persists audit entries.
type AuditRecorder interface {
	RecordAccess(entry AuditEntry) error
}

type AuditRecorderFunc func(entry AuditEntry) error

func (f AuditRecorderFunc) RecordAccess(entry AuditEntry) error {
	return f(entry)
}

// Audit records every request under /api/v1/records and /api/v1/patients.
// Without recorders it writes the entry to logger.
func Audit(logger zerolog.Logger, recorders ...AuditRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			resource, id, sub, ok := parseAuditPath(req.URL.Path)
			if !ok {
				return next(c)
			}

			err := next(c)

			status := c.Response().Status
			if he, isHTTP := err.(*echo.HTTPError); isHTTP {
				status = he.Code
			}
			rid, _ := c.Get("request_id").(string)
			ctx := req.Context()
			entry := AuditEntry{
				UserID:     auth.UserIDFromContext(ctx),
				UserRoles:  auth.RolesFromContext(ctx),
				Resource:   resource,
				ResourceID: id,
				Action:     auditAction(req.Method, id, sub),
				Method:     req.Method,
				Path:       req.URL.Path,
				IPAddress:  c.RealIP(),
				RequestID:  rid,
				StatusCode: status,
				Timestamp:  time.Now().UTC(),
			}

			if len(recorders) == 0 {
				logger.Info().
					Str("user_id", entry.UserID).
					Str("resource", entry.Resource).
					Str("resource_id", entry.ResourceID).
					Str("action", entry.Action).
					Int("status", entry.StatusCode).
					Str("request_id", entry.RequestID).
					Msg("audit")
			}
			for _, r := range recorders {
				if rerr := r.RecordAccess(entry); rerr != nil {
					logger.Error().Err(rerr).Str("request_id", rid).Msg("failed to record audit entry")
				}
			}
			return err
		}
	}
}

// parseAuditPath splits /api/v1/<resource>[/<id>[/<sub>]].
func parseAuditPath(path string) (resource, id, sub string, ok bool) {
	rest, found := strings.CutPrefix(path, "/api/v1/")
	if !found {
		return "", "", "", false
	}
	parts := strings.SplitN(strings.Trim(rest, "/"), "/", 3)
	if parts[0] != "records" && parts[0] != "patients" {
		return "", "", "", false
	}
	resource = parts[0]
	if len(parts) > 1 {
		id = parts[1]
	}
	if len(parts) > 2 {
		sub = parts[2]
	}
	return resource, id, sub, true
}

func auditAction(method, id, sub string) string {
	switch method {
	case http.MethodGet:
		if id == "" {
			return "search"
		}
		return "read"
	case http.MethodPost:
		if sub == "versions" {
			return "version"
		}
		return "create"
	case http.MethodPut:
		return "update"
	case http.MethodPatch:
		if sub != "" {
			return sub
		}
		return "update"
	}
	return strings.ToLower(method)
}
