package token

import "sync"

// Slot is the last-resort token holder. The application builds one at startup and hands it
// to anything that needs a token before the Store is wired.
type Slot struct {
	mu    sync.RWMutex
	value string
}

func (s *Slot) Get() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.value, s.value != ""
}

func (s *Slot) Set(token string) {
	s.mu.Lock()
	s.value = token
	s.mu.Unlock()
}

func (s *Slot) Clear() {
	s.Set("")
}
