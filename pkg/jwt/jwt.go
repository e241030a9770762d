package jwt

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mbeoliero/convsync/pkg/errcode"
)

// Claims represents the claims the server signs into an access token
type Claims struct {
	UserId     string `json:"user_id"`
	PlatformId int    `json:"platform_id"`
	jwt.RegisteredClaims
}

// ParseUnverified decodes the token claims without checking the signature
func ParseUnverified(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, errcode.ErrTokenMissing
	}

	claims := &Claims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(tokenString, claims); err != nil {
		return nil, errcode.ErrTokenInvalid.Wrap(err)
	}

	if claims.UserId == "" {
		return nil, errcode.ErrTokenInvalid
	}

	return claims, nil
}

// ExpiresWithin reports whether the token expires within d of now.
// Tokens without an expiry never expire.
func (c *Claims) ExpiresWithin(now time.Time, d time.Duration) bool {
	if c.ExpiresAt == nil {
		return false
	}
	return !now.Add(d).Before(c.ExpiresAt.Time)
}

// CheckFresh returns ErrTokenExpired when the token is already expired at now
func (c *Claims) CheckFresh(now time.Time) error {
	if c.ExpiresWithin(now, 0) {
		return errcode.ErrTokenExpired
	}
	return nil
}
