package token

import (
	"sync"

	"github.com/awnumar/memguard"
	"github.com/jrsteele09/alumni-session/storage"
	"github.com/rs/zerolog/log"
)

// TabStorageKey is the key of the access token in tab-scoped storage.
const TabStorageKey = "access-token"

const storeOrigin = "token-store"

// Store caches the current access token in three tiers: an encrypted in-memory enclave,
// tab-scoped storage, and a fallback slot shared with code that runs before the store
// exists. It never validates what it holds.
type Store struct {
	mu       sync.Mutex
	enclave  *memguard.Enclave
	tab      storage.KV
	fallback *Slot
}

// NewStore builds a token store. tab and fallback may be nil.
func NewStore(tab storage.KV, fallback *Slot) *Store {
	return &Store{
		tab:      tab,
		fallback: fallback,
	}
}

// Get returns the cached token, looking in memory, then tab storage, then the fallback slot.
func (s *Store) Get() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.enclave != nil {
		buf, err := s.enclave.Open()
		if err == nil {
			token := string(buf.Bytes())
			buf.Destroy()
			return token, true
		}
		log.Err(err).Msg("token store: opening enclave failed, falling back")
		s.enclave = nil
	}

	if s.tab != nil {
		if v, err := s.tab.Get(TabStorageKey); err == nil && len(v) > 0 {
			token := string(v)
			s.enclave = memguard.NewEnclave(v)
			return token, true
		}
	}

	if s.fallback != nil {
		if token, ok := s.fallback.Get(); ok {
			s.enclave = memguard.NewEnclave([]byte(token))
			return token, true
		}
	}
	return "", false
}

// Set writes token to every tier. An empty token clears the store.
func (s *Store) Set(token string) {
	if token == "" {
		s.Clear()
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.enclave = memguard.NewEnclave([]byte(token))
	if s.tab != nil {
		if err := s.tab.Apply(storeOrigin, storage.Batch{}.Put(TabStorageKey, []byte(token))); err != nil {
			log.Err(err).Msg("token store: writing tab storage failed")
		}
	}
	if s.fallback != nil {
		s.fallback.Set(token)
	}
}

// Clear empties every tier.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.enclave = nil
	if s.tab != nil {
		if err := s.tab.Apply(storeOrigin, storage.Batch{}.Delete(TabStorageKey)); err != nil {
			log.Err(err).Msg("token store: clearing tab storage failed")
		}
	}
	if s.fallback != nil {
		s.fallback.Clear()
	}
}
