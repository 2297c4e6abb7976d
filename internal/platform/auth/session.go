package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Session is the client's view of a bearer token. The server remains the
// authority; the client only reads claims to label the UI and pick a user.
type Session struct {
	Token     string
	UserID    string
	Name      string
	Roles     []string
	ExpiresAt time.Time
}

// ParseSession reads claims from token without verifying its signature. It
// returns nil for a malformed token or one without a subject.
func ParseSession(token string) *Session {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil
	}
	if claims.Subject == "" {
		return nil
	}
	s := &Session{
		Token:  token,
		UserID: claims.Subject,
		Name:   claims.Name,
		Roles:  claims.Roles,
	}
	if claims.ExpiresAt != nil {
		s.ExpiresAt = claims.ExpiresAt.Time
	}
	return s
}

// Expired reports whether the token's expiry has passed at now. Tokens
// without an expiry never expire.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

func (s *Session) HasRole(roles ...string) bool {
	return HasRole(s.Roles, roles...)
}
