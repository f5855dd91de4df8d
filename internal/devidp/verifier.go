package devidp

import (
	"context"
	"crypto"
	"fmt"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
)

// Verifier checks access tokens presented to the protected routes: signature, issuer,
// audience, expiry and revocation.
type Verifier struct {
	verifier *oidc.IDTokenVerifier
	revoked  *RevokedTokens
}

func NewVerifier(issuer, audience string, publicKey crypto.PublicKey, revoked *RevokedTokens, now func() time.Time) *Verifier {
	keySet := &oidc.StaticKeySet{PublicKeys: []crypto.PublicKey{publicKey}}
	return &Verifier{
		verifier: oidc.NewVerifier(issuer, keySet, &oidc.Config{
			ClientID:             audience,
			SupportedSigningAlgs: []string{oidc.RS256},
			Now:                  now,
		}),
		revoked: revoked,
	}
}

func (v *Verifier) Verify(ctx context.Context, raw string) (*Claims, error) {
	tok, err := v.verifier.Verify(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("[devidp.Verify] %w", err)
	}

	var claims Claims
	if err := tok.Claims(&claims); err != nil {
		return nil, fmt.Errorf("[devidp.Verify] decoding claims: %w", err)
	}
	if claims.ID != "" && v.revoked.IsRevoked(claims.ID) {
		return nil, fmt.Errorf("[devidp.Verify] token %s revoked", claims.ID)
	}
	return &claims, nil
}
