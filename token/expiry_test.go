package token_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/alumni-session/internal/errors"
	"github.com/jrsteele09/alumni-session/token"
	"github.com/stretchr/testify/require"
)

func signed(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("unit-test-key"))
	require.NoError(t, err)
	return s
}

func TestExpiryDecodesWithoutVerifying(t *testing.T) {
	exp := time.Now().Add(4 * time.Minute).Truncate(time.Second)
	raw := signed(t, jwt.MapClaims{"sub": "u1", "exp": exp.Unix()})

	got, err := token.Expiry(raw)
	require.NoError(t, err)
	require.True(t, exp.Equal(got))

	ttl, err := token.TimeToExpiry(raw, exp.Add(-time.Minute))
	require.NoError(t, err)
	require.Equal(t, time.Minute, ttl)
}

func TestExpiryOfExpiredToken(t *testing.T) {
	now := time.Now()
	raw := signed(t, jwt.MapClaims{"exp": now.Add(-time.Hour).Unix()})

	ttl, err := token.TimeToExpiry(raw, now)
	require.NoError(t, err)
	require.Less(t, ttl, time.Duration(0))
}

func TestExpiryMalformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"garbage", "not-a-jwt"},
		{"empty", ""},
		{"no exp", signed(t, jwt.MapClaims{"sub": "u1"})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := token.Expiry(tt.raw)
			require.ErrorIs(t, err, errors.ErrMalformedToken)
		})
	}
}
