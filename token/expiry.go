package token

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/alumni-session/internal/errors"
)

// Expiry decodes the exp claim of raw without verifying the signature. The result is a
// scheduling hint only and must never drive an authorization decision.
func Expiry(raw string) (time.Time, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", errors.ErrMalformedToken, err)
	}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", errors.ErrMalformedToken, err)
	}
	if exp == nil {
		return time.Time{}, fmt.Errorf("%w: no exp claim", errors.ErrMalformedToken)
	}
	return exp.Time, nil
}

// TimeToExpiry is Expiry relative to now. Already expired tokens yield a negative duration.
func TimeToExpiry(raw string, now time.Time) (time.Duration, error) {
	exp, err := Expiry(raw)
	if err != nil {
		return 0, err
	}
	return exp.Sub(now), nil
}
