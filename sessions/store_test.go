package sessions_test

import (
	"sync"
	"testing"

	"github.com/jrsteele09/alumni-session/sessions"
	"github.com/jrsteele09/alumni-session/storage"
	"github.com/jrsteele09/alumni-session/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testUser  = sessions.User{ID: "u1", Email: "u1@alumni.test", DisplayName: "User One"}
	testAdmin = sessions.Admin{ID: "a1", Email: "a1@alumni.test", DisplayName: "Admin One", Role: sessions.RoleAdmin, Active: true}
)

func setupStore(t *testing.T) (*sessions.Store, *memory.Store) {
	t.Helper()
	kv := memory.New()
	return sessions.NewStore(kv), kv
}

func TestSetUserThenCurrentSession(t *testing.T) {
	s, _ := setupStore(t)
	require.False(t, s.CurrentSession().Authenticated())

	require.NoError(t, s.SetUser(testUser))
	got := s.CurrentSession()
	require.Equal(t, sessions.PersonaUser, got.Type)
	require.Equal(t, testUser, *got.User)
	require.Nil(t, got.Admin)
	require.Equal(t, "u1", got.SubjectID())
}

func TestSetAdminRemovesUserRecord(t *testing.T) {
	s, kv := setupStore(t)
	require.NoError(t, s.SetUser(testUser))
	require.NoError(t, s.SetAdmin(testAdmin))

	got := s.CurrentSession()
	require.Equal(t, sessions.PersonaAdmin, got.Type)
	require.Equal(t, testAdmin, *got.Admin)
	require.Nil(t, got.User)

	_, err := kv.Get(sessions.KeyUserRecord)
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSetUserRemovesAdminRecord(t *testing.T) {
	s, kv := setupStore(t)
	require.NoError(t, s.SetAdmin(testAdmin))
	require.NoError(t, s.SetUser(testUser))

	require.Equal(t, sessions.PersonaUser, s.CurrentSession().Type)
	_, err := kv.Get(sessions.KeyAdminRecord)
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRecordsRequireIdentity(t *testing.T) {
	s, _ := setupStore(t)
	require.Error(t, s.SetUser(sessions.User{Email: "x"}))
	require.Error(t, s.SetAdmin(sessions.Admin{Email: "x"}))
}

func TestPersonaExclusivityUnderConcurrency(t *testing.T) {
	s, _ := setupStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(3)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.SetUser(testUser))
		}()
		go func() {
			defer wg.Done()
			assert.NoError(t, s.SetAdmin(testAdmin))
		}()
		go func() {
			defer wg.Done()
			got := s.CurrentSession()
			assert.False(t, got.User != nil && got.Admin != nil, "two personas visible at once")
			switch got.Type {
			case sessions.PersonaUser:
				assert.NotNil(t, got.User)
			case sessions.PersonaAdmin:
				assert.NotNil(t, got.Admin)
			}
		}()
	}
	wg.Wait()

	require.NoError(t, s.SetAdmin(testAdmin))
	require.Equal(t, sessions.PersonaAdmin, s.CurrentSession().Type)
	require.NoError(t, s.SetUser(testUser))
	require.Equal(t, sessions.PersonaUser, s.CurrentSession().Type)
}

func TestCorruptStateReadsAsNoSession(t *testing.T) {
	tests := []struct {
		name  string
		batch storage.Batch
	}{
		{"marker without record", storage.Batch{}.Put(sessions.KeyActivePersona, []byte("user"))},
		{"invalid json", storage.Batch{}.Put(sessions.KeyActivePersona, []byte("admin")).Put(sessions.KeyAdminRecord, []byte("{"))},
		{"missing identity", storage.Batch{}.Put(sessions.KeyActivePersona, []byte("user")).Put(sessions.KeyUserRecord, []byte(`{"email":"x@y"}`))},
		{"unknown marker", storage.Batch{}.Put(sessions.KeyActivePersona, []byte("guest"))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, kv := setupStore(t)
			require.NoError(t, kv.Apply("elsewhere", tt.batch))

			require.Equal(t, sessions.PersonaNone, s.CurrentSession().Type)
			_, err := kv.Get(sessions.KeyActivePersona)
			require.ErrorIs(t, err, storage.ErrNotFound, "corrupt marker should be removed")
		})
	}
}

func TestClearUserKeepsActiveAdmin(t *testing.T) {
	s, _ := setupStore(t)
	require.NoError(t, s.SetAdmin(testAdmin))
	require.NoError(t, s.ClearUser())
	require.Equal(t, sessions.PersonaAdmin, s.CurrentSession().Type)

	require.NoError(t, s.ClearAdmin())
	require.Equal(t, sessions.PersonaNone, s.CurrentSession().Type)
}

func TestClearAllRemovesLegacyKeys(t *testing.T) {
	s, kv := setupStore(t)
	require.NoError(t, s.SetUser(testUser))
	require.NoError(t, kv.Apply("legacy", storage.Batch{}.
		Put("user", []byte(`{"id":"old"}`)).
		Put("userType", []byte("user")).
		Put("adminToken", []byte("stale"))))

	require.NoError(t, s.ClearAll())
	require.Equal(t, 0, kv.Len())
	require.False(t, s.CurrentSession().Authenticated())
}

func TestWatchIgnoresOwnWrites(t *testing.T) {
	kv := memory.New()
	tab1 := sessions.NewStore(kv)
	tab2 := sessions.NewStore(kv)

	var seen []string
	tab1.Watch(func(c storage.Change) { seen = append(seen, c.Key) })

	require.NoError(t, tab1.SetUser(testUser))
	require.Empty(t, seen)

	require.NoError(t, tab2.SetAdmin(testAdmin))
	require.ElementsMatch(t, []string{sessions.KeyAdminRecord, sessions.KeyActivePersona, sessions.KeyUserRecord}, seen)
	require.Equal(t, sessions.PersonaAdmin, tab1.CurrentSession().Type)
}

// interleavedKV runs before once, just ahead of the first Apply, to simulate another tab
// writing between a read and a write.
type interleavedKV struct {
	storage.KV
	once   sync.Once
	before func()
}

func (kv *interleavedKV) Apply(origin string, batch storage.Batch) error {
	kv.once.Do(kv.before)
	return kv.KV.Apply(origin, batch)
}

func TestSelfHealKeepsSessionWrittenByAnotherTab(t *testing.T) {
	shared := memory.New()
	other := sessions.NewStore(shared)
	require.NoError(t, shared.Apply("elsewhere", storage.Batch{}.Put(sessions.KeyActivePersona, []byte("user"))))

	s := sessions.NewStore(&interleavedKV{KV: shared, before: func() {
		require.NoError(t, other.SetUser(testUser))
	}})

	got := s.CurrentSession()
	require.Equal(t, sessions.PersonaUser, got.Type)
	require.Equal(t, testUser.ID, got.User.ID)
	require.Equal(t, sessions.PersonaUser, other.CurrentSession().Type)

	record, err := shared.Get(sessions.KeyUserRecord)
	require.NoError(t, err)
	require.NotEmpty(t, record)
}
