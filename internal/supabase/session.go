package supabase

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Session is the token pair GoTrue issues, in the shape the browser SDK
// persists into the auth cookie.
type Session struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at,omitempty"`
	RefreshToken string `json:"refresh_token"`
	User         *User  `json:"user,omitempty"`
}

// User is the subset of the GoTrue user object the backend relies on.
type User struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	Role         string         `json:"role"`
	UserMetadata map[string]any `json:"user_metadata,omitempty"`
}

// Expiry returns when the access token stops being valid. It prefers the
// stored expires_at and falls back to the token's exp claim. The zero time
// means the expiry is unknown.
func (s *Session) Expiry() time.Time {
	if s == nil {
		return time.Time{}
	}
	if s.ExpiresAt > 0 {
		return time.Unix(s.ExpiresAt, 0)
	}
	if s.AccessToken == "" {
		return time.Time{}
	}
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(s.AccessToken, claims); err != nil {
		return time.Time{}
	}
	if claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}

// ExpiresWithin reports whether the access token expires before now+d.
// Sessions with an unknown expiry are treated as expiring.
func (s *Session) ExpiresWithin(d time.Duration, now time.Time) bool {
	exp := s.Expiry()
	if exp.IsZero() {
		return true
	}
	return !exp.After(now.Add(d))
}
