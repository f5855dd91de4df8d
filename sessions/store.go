package sessions

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jrsteele09/alumni-session/internal/errors"
	"github.com/jrsteele09/alumni-session/storage"
	"github.com/rs/zerolog/log"
)

// Persisted storage keys. None of them hold secrets.
const (
	KeyUserRecord    = "persona-record:user"
	KeyAdminRecord   = "persona-record:admin"
	KeyActivePersona = "active-persona-type"
)

var sessionKeys = []string{KeyActivePersona, KeyUserRecord, KeyAdminRecord}

// legacyKeys were written by earlier storage schemes. ClearAll removes them so an old
// record can never resurrect a session.
var legacyKeys = []string{
	"user",
	"admin",
	"userType",
	"currentUser",
	"adminData",
	"token",
	"accessToken",
	"adminToken",
}

// IsPersonaKey reports whether key is one of the keys the store owns.
func IsPersonaKey(key string) bool {
	return key == KeyUserRecord || key == KeyAdminRecord || key == KeyActivePersona
}

// Store persists the user and admin records and the active persona marker. Writes that switch
// persona are a single storage batch, so no reader ever observes two active personas.
type Store struct {
	kv    storage.KV
	tabID string
	mu    sync.Mutex // serialises read-modify-write sequences from this tab
}

func NewStore(kv storage.KV) *Store {
	return &Store{
		kv:    kv,
		tabID: uuid.NewString(),
	}
}

// TabID identifies this store's writes in storage change notifications.
func (s *Store) TabID() string {
	return s.tabID
}

// SetUser stores the user record, marks the user persona active and deletes any admin record.
func (s *Store) SetUser(u User) error {
	if u.ID == "" {
		return fmt.Errorf("[sessions.SetUser] user id is required")
	}
	data, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("[sessions.SetUser] marshal: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	batch := storage.Batch{}.
		Put(KeyUserRecord, data).
		Put(KeyActivePersona, []byte(PersonaUser)).
		Delete(KeyAdminRecord)
	if err := s.kv.Apply(s.tabID, batch); err != nil {
		return fmt.Errorf("[sessions.SetUser] %w", err)
	}
	return nil
}

// SetAdmin stores the admin record, marks the admin persona active and deletes any user record.
func (s *Store) SetAdmin(a Admin) error {
	if a.ID == "" {
		return fmt.Errorf("[sessions.SetAdmin] admin id is required")
	}
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("[sessions.SetAdmin] marshal: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	batch := storage.Batch{}.
		Put(KeyAdminRecord, data).
		Put(KeyActivePersona, []byte(PersonaAdmin)).
		Delete(KeyUserRecord)
	if err := s.kv.Apply(s.tabID, batch); err != nil {
		return fmt.Errorf("[sessions.SetAdmin] %w", err)
	}
	return nil
}

func (s *Store) ClearUser() error {
	return s.clearPersona(PersonaUser, KeyUserRecord)
}

func (s *Store) ClearAdmin() error {
	return s.clearPersona(PersonaAdmin, KeyAdminRecord)
}

func (s *Store) clearPersona(persona PersonaType, recordKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch := storage.Batch{}.Delete(recordKey)
	marker, err := s.kv.Get(KeyActivePersona)
	if err == nil && PersonaType(marker) == persona {
		batch = batch.Delete(KeyActivePersona)
	}
	if err := s.kv.Apply(s.tabID, batch); err != nil {
		return fmt.Errorf("[sessions.clear %s] %w", persona, err)
	}
	return nil
}

// ClearAll removes both records, the marker and every legacy key.
func (s *Store) ClearAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch := storage.Batch{}.
		Delete(KeyUserRecord).
		Delete(KeyAdminRecord).
		Delete(KeyActivePersona)
	for _, k := range legacyKeys {
		batch = batch.Delete(k)
	}
	if err := s.kv.Apply(s.tabID, batch); err != nil {
		return fmt.Errorf("[sessions.ClearAll] %w", err)
	}
	return nil
}

// CurrentSession returns the active persona. Missing, unreadable or malformed state reads as
// no session; it is cleaned up rather than reported.
func (s *Store) CurrentSession() Session {
	session, corrupt, snap := s.read()
	if len(corrupt) == 0 {
		return session
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// The deletes only apply if the keys still hold what was read, so a session written by
	// another tab in the meantime survives.
	batch := storage.Batch{}
	for _, k := range sessionKeys {
		if v, ok := snap[k]; ok {
			batch = batch.Expect(k, v)
		} else {
			batch = batch.ExpectAbsent(k)
		}
	}
	for _, k := range corrupt {
		batch = batch.Delete(k)
	}

	err := s.kv.Apply(s.tabID, batch)
	switch {
	case errors.Is(err, storage.ErrConflict):
		session, _, _ = s.read()
	case err != nil:
		log.Err(err).Msg("sessions: removing corrupt session state failed")
	}
	return session
}

// read decodes the snapshot and returns the keys that should be removed to heal it, along
// with the raw snapshot they were judged on.
func (s *Store) read() (Session, []string, map[string][]byte) {
	snap, err := s.kv.View(sessionKeys...)
	if err != nil {
		log.Err(err).Msg("sessions: reading session state failed")
		return Session{}, nil, nil
	}
	session, corrupt := decode(snap)
	return session, corrupt, snap
}

func decode(snap map[string][]byte) (Session, []string) {
	marker, ok := snap[KeyActivePersona]
	if !ok {
		return Session{}, nil
	}

	switch PersonaType(marker) {
	case PersonaUser:
		var u User
		if raw, ok := snap[KeyUserRecord]; ok && json.Unmarshal(raw, &u) == nil && u.ID != "" {
			return Session{Type: PersonaUser, User: &u}, nil
		}
		log.Warn().Str("persona", string(PersonaUser)).Msg("sessions: active persona record missing or malformed")
		return Session{}, []string{KeyActivePersona, KeyUserRecord}
	case PersonaAdmin:
		var a Admin
		if raw, ok := snap[KeyAdminRecord]; ok && json.Unmarshal(raw, &a) == nil && a.ID != "" {
			return Session{Type: PersonaAdmin, Admin: &a}, nil
		}
		log.Warn().Str("persona", string(PersonaAdmin)).Msg("sessions: active persona record missing or malformed")
		return Session{}, []string{KeyActivePersona, KeyAdminRecord}
	}

	log.Warn().Str("marker", string(marker)).Msg("sessions: unknown active persona marker")
	return Session{}, []string{KeyActivePersona}
}

// Watch calls fn for persona key changes written by other tabs sharing the same storage.
func (s *Store) Watch(fn func(storage.Change)) func() {
	return s.kv.Watch(func(c storage.Change) {
		if c.Origin == s.tabID || !IsPersonaKey(c.Key) {
			return
		}
		fn(c)
	})
}
