package devidp

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jrsteele09/alumni-session/sessions"
)

// Claims are the access token claims issued to members and administrators.
type Claims struct {
	jwt.RegisteredClaims
	Email   string               `json:"email,omitempty"`
	Name    string               `json:"name,omitempty"`
	Persona sessions.PersonaType `json:"persona"`
	Role    sessions.AdminRole   `json:"role,omitempty"`
}

// Issuer mints access tokens.
type Issuer struct {
	issuer   string
	audience string
	ttl      time.Duration
	signer   *Signer
	nowFunc  func() time.Time
}

func NewIssuer(issuer, audience string, ttl time.Duration, signer *Signer, now func() time.Time) *Issuer {
	return &Issuer{
		issuer:   issuer,
		audience: audience,
		ttl:      ttl,
		signer:   signer,
		nowFunc:  now,
	}
}

// AccessToken returns a signed token for account and its lifetime.
func (i *Issuer) AccessToken(account *Account) (string, time.Duration, error) {
	now := i.nowFunc()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   account.ID,
			Audience:  jwt.ClaimStrings{i.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
			ID:        uuid.New().String(), // Unique token ID for revocation
		},
		Email:   account.Email,
		Name:    account.DisplayName,
		Persona: sessions.PersonaUser,
	}
	if account.Admin {
		claims.Persona = sessions.PersonaAdmin
		claims.Role = account.Role
	}

	signed, err := i.signer.Sign(claims)
	if err != nil {
		return "", 0, fmt.Errorf("[devidp.AccessToken] %w", err)
	}
	return signed, i.ttl, nil
}
