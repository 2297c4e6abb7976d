package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func requestWithRoles(roles ...string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	return req.WithContext(WithUser(context.Background(), "u", roles))
}

func TestRequireRole_Allowed(t *testing.T) {
	if err := runMiddleware(t, RequireRole(RoleObstetrician, RoleAuditor), requestWithRoles(RoleAuditor), ok); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}

func TestRequireRole_Denied(t *testing.T) {
	err := runMiddleware(t, RequireRole(RoleObstetrician), requestWithRoles(RoleAuditor), ok)
	expectStatus(t, err, http.StatusForbidden)
	if msg := err.(*echo.HTTPError).Message; msg != "required role: obstetrician" {
		t.Errorf("unexpected message: %v", msg)
	}
}

func TestRequireRole_AdminBypass(t *testing.T) {
	if err := runMiddleware(t, RequireRole(RoleObstetrician), requestWithRoles(RoleAdmin), ok); err != nil {
		t.Errorf("admin should pass, got %v", err)
	}
}

func TestRequireRole_NoRoles(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	expectStatus(t, runMiddleware(t, RequireRole(RoleObstetrician), req, ok), http.StatusForbidden)
}

func TestUserIDFromContext(t *testing.T) {
	if uid := UserIDFromContext(context.Background()); uid != "" {
		t.Errorf("expected empty user id, got %q", uid)
	}
	if uid := UserIDFromContext(WithUser(context.Background(), "obs-1", nil)); uid != "obs-1" {
		t.Errorf("expected obs-1, got %q", uid)
	}
}
