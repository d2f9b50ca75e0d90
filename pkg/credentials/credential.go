package credentials

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Credential is a bearer token together with the identity it was issued for.
// Values are replaced wholesale, never mutated.
type Credential struct {
	Token     string    `json:"token"`
	UserID    int64     `json:"user_id"`
	Name      string    `json:"name,omitempty"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// Valid reports whether the credential can be attached to a request.
func (c *Credential) Valid() bool {
	return c != nil && strings.TrimSpace(c.Token) != ""
}

// DisplayName falls back to the local part of the email address.
func (c *Credential) DisplayName() string {
	if c == nil {
		return ""
	}
	if c.Name != "" {
		return c.Name
	}
	if i := strings.Index(c.Email, "@"); i > 0 {
		return c.Email[:i]
	}
	return c.Email
}

// ExpiresAt reads the exp claim when the token happens to be a JWT. The
// signature is not verified; the server remains the authority on validity.
func (c *Credential) ExpiresAt() (time.Time, bool) {
	if !c.Valid() || strings.Count(c.Token, ".") != 2 {
		return time.Time{}, false
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(c.Token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
