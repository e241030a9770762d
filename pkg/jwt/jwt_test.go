package jwt

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbeoliero/convsync/pkg/errcode"
)

func sign(t *testing.T, claims *Claims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("server-secret"))
	require.NoError(t, err)
	return s
}

func TestParseUnverified(t *testing.T) {
	now := time.Now()
	token := sign(t, &Claims{
		UserId:     "u___1",
		PlatformId: 5,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	})

	claims, err := ParseUnverified(token)
	require.NoError(t, err)
	assert.Equal(t, "u___1", claims.UserId)
	assert.Equal(t, 5, claims.PlatformId)
	assert.NoError(t, claims.CheckFresh(now))
	assert.False(t, claims.ExpiresWithin(now, time.Minute))
	assert.True(t, claims.ExpiresWithin(now, 2*time.Hour))
}

func TestParseUnverified_Errors(t *testing.T) {
	_, err := ParseUnverified("")
	assert.ErrorIs(t, err, errcode.ErrTokenMissing)

	_, err = ParseUnverified("garbage")
	assert.ErrorIs(t, err, errcode.ErrTokenInvalid)

	_, err = ParseUnverified(sign(t, &Claims{PlatformId: 1}))
	assert.ErrorIs(t, err, errcode.ErrTokenInvalid)
}

func TestClaims_Expired(t *testing.T) {
	now := time.Now()
	claims, err := ParseUnverified(sign(t, &Claims{
		UserId: "ag__7",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(-time.Second)),
		},
	}))
	require.NoError(t, err)
	assert.ErrorIs(t, claims.CheckFresh(now), errcode.ErrTokenExpired)

	noExpiry := &Claims{UserId: "u___1"}
	assert.False(t, noExpiry.ExpiresWithin(now, 24*time.Hour))
}
