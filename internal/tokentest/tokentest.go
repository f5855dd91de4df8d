// Package tokentest mints throwaway JWTs for tests that only care about the exp claim.
package tokentest

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var key = []byte("tokentest")

// New returns an HS256 token for subject expiring at exp.
func New(subject string, exp time.Time) string {
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(exp.Add(-15 * time.Minute)),
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	s, err := t.SignedString(key)
	if err != nil {
		panic(err)
	}
	return s
}

// ExpiresIn is New relative to the wall clock.
func ExpiresIn(subject string, d time.Duration) string {
	return New(subject, time.Now().Add(d))
}
