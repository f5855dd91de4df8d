package devidp

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/jrsteele09/alumni-session/internal/errors"
)

const refreshCredentialLength = 32

// RefreshCredential is the server side record behind an opaque refresh cookie.
// The client only ever sees Token.
type RefreshCredential struct {
	Token     string    // Random string sent in the cookie
	AccountID string    // Owner
	Iat       time.Time // Issued at
}

// RefreshCredentials issues, rotates and revokes refresh credentials. Each account holds
// at most one at a time.
type RefreshCredentials struct {
	mu        sync.Mutex
	byToken   map[string]*RefreshCredential
	byAccount map[string]string
	ttl       time.Duration
	nowFunc   func() time.Time
}

func NewRefreshCredentials(ttl time.Duration, now func() time.Time) *RefreshCredentials {
	return &RefreshCredentials{
		byToken:   make(map[string]*RefreshCredential),
		byAccount: make(map[string]string),
		ttl:       ttl,
		nowFunc:   now,
	}
}

// Create replaces any credential the account holds with a new one.
func (m *RefreshCredentials) Create(accountID string) (string, error) {
	tokenBytes := make([]byte, refreshCredentialLength)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	tokenStr := hex.EncodeToString(tokenBytes)

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.byAccount[accountID]; ok {
		delete(m.byToken, existing)
	}
	m.byToken[tokenStr] = &RefreshCredential{Token: tokenStr, AccountID: accountID, Iat: m.nowFunc()}
	m.byAccount[accountID] = tokenStr
	return tokenStr, nil
}

// Get returns the credential for token. Expired credentials are removed and reported
// as errors.ErrRefreshCredentialExpired; unknown ones as errors.ErrRefreshCredentialInvalid.
func (m *RefreshCredentials) Get(token string) (*RefreshCredential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rc, ok := m.byToken[token]
	if !ok {
		return nil, errors.ErrRefreshCredentialInvalid
	}
	if m.nowFunc().Sub(rc.Iat) > m.ttl {
		m.deleteLocked(rc)
		return nil, errors.ErrRefreshCredentialExpired
	}
	cp := *rc
	return &cp, nil
}

// Delete revokes token. Unknown tokens are ignored.
func (m *RefreshCredentials) Delete(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rc, ok := m.byToken[token]; ok {
		m.deleteLocked(rc)
	}
}

// DeleteAll revokes every credential, as a backend restart with a fresh store would.
func (m *RefreshCredentials) DeleteAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byToken = make(map[string]*RefreshCredential)
	m.byAccount = make(map[string]string)
}

func (m *RefreshCredentials) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byToken)
}

func (m *RefreshCredentials) deleteLocked(rc *RefreshCredential) {
	delete(m.byToken, rc.Token)
	if m.byAccount[rc.AccountID] == rc.Token {
		delete(m.byAccount, rc.AccountID)
	}
}
