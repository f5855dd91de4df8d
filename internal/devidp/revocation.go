package devidp

import (
	"sync"
	"time"
)

// RevokedTokens remembers the IDs of access tokens revoked before they expire.
type RevokedTokens struct {
	revoked map[string]time.Time
	mu      sync.RWMutex
	nowFunc func() time.Time
}

func NewRevokedTokens(now func() time.Time) *RevokedTokens {
	return &RevokedTokens{
		revoked: make(map[string]time.Time),
		nowFunc: now,
	}
}

func (c *RevokedTokens) Add(jti string, exp time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleanupLocked()
	c.revoked[jti] = exp
}

func (c *RevokedTokens) IsRevoked(jti string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, exists := c.revoked[jti]
	return exists
}

// cleanupLocked drops entries whose tokens have expired anyway.
func (c *RevokedTokens) cleanupLocked() {
	now := c.nowFunc()
	for jti, exp := range c.revoked {
		if now.After(exp) {
			delete(c.revoked, jti)
		}
	}
}
