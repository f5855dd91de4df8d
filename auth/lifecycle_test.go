package auth_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/jrsteele09/alumni-session/auth"
	"github.com/jrsteele09/alumni-session/events"
	"github.com/jrsteele09/alumni-session/gateway"
	"github.com/jrsteele09/alumni-session/internal/devidp"
	"github.com/jrsteele09/alumni-session/internal/errors"
	"github.com/jrsteele09/alumni-session/refresh"
	"github.com/jrsteele09/alumni-session/sessions"
	"github.com/jrsteele09/alumni-session/storage/memory"
	"github.com/jrsteele09/alumni-session/token"
	"github.com/jrsteele09/alumni-session/transport"
	"github.com/stretchr/testify/require"
)

const seedPassword = "Reunion2024"

type backendConfig struct {
	url string
}

func (b backendConfig) GetIdentityBaseURL() string { return b.url }
func (b backendConfig) GetPrimaryAPIBaseURL() string { return b.url }
func (b backendConfig) GetAdminAPIBaseURL() string { return b.url }
func (b backendConfig) GetRequestTimeout() time.Duration { return 5 * time.Second }
func (b backendConfig) GetRefreshCookieName() string { return "refresh_token" }

type idpClock struct {
	mu     sync.Mutex
	offset time.Duration
}

func (c *idpClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Now().Add(c.offset)
}

func (c *idpClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offset += d
}

type lifecycle struct {
	idp      *devidp.Server
	clock    *idpClock
	baseURL  string
	ctrl     *auth.Controller
	sessions *sessions.Store
	tokens   *token.Store
	notifier *recordingNotifier
	primary  *http.Client
	admin    *http.Client
}

func setupLifecycle(t *testing.T) *lifecycle {
	t.Helper()
	accounts := devidp.NewAccountStore()
	require.NoError(t, devidp.SeedAccounts(accounts,
		devidp.Seed{Username: "ada", Email: "ada@alumni.test", Password: seedPassword, DisplayName: "Ada"},
		devidp.Seed{Email: "mod@alumni.test", Password: seedPassword, DisplayName: "Mod", Role: sessions.RoleModerator},
	))

	l := &lifecycle{clock: &idpClock{}, notifier: &recordingNotifier{}}
	var err error
	l.idp, err = devidp.New(accounts,
		devidp.WithAccessTokenTTL(15*time.Minute),
		devidp.WithRefreshTTL(time.Hour),
		devidp.WithNowFunc(l.clock.Now),
	)
	require.NoError(t, err)
	srv := httptest.NewServer(l.idp)
	t.Cleanup(srv.Close)
	l.baseURL = srv.URL

	gw, err := gateway.New(backendConfig{url: srv.URL})
	require.NoError(t, err)

	l.tokens = token.NewStore(memory.New(), &token.Slot{})
	l.sessions = sessions.NewStore(memory.New())
	bus := events.NewBus()
	coord := refresh.NewCoordinator(gw, l.tokens, l.sessions, bus)

	l.primary = transport.New(transport.DomainPrimary, l.tokens, coord, l.sessions, bus).Client()
	l.admin = transport.New(transport.DomainAdmin, l.tokens, coord, l.sessions, bus).Client()

	l.ctrl = auth.NewController(sessionConfig{interval: time.Hour, threshold: 5 * time.Minute},
		gw, l.tokens, l.sessions, coord, bus, auth.WithNotifier(l.notifier))
	l.ctrl.Start(context.Background())
	t.Cleanup(l.ctrl.Stop)
	return l
}

func (l *lifecycle) get(client *http.Client, path string) (*http.Response, error) {
	resp, err := client.Get(l.baseURL + path)
	if err != nil {
		return nil, err
	}
	resp.Body.Close()
	return resp, transport.CheckResponse(resp)
}

func TestExpiredAccessTokenIsReplacedTransparently(t *testing.T) {
	l := setupLifecycle(t)
	ctx := context.Background()

	_, err := l.ctrl.SignIn(ctx, gateway.Credentials{Username: "ada", Password: seedPassword})
	require.NoError(t, err)
	first, _ := l.tokens.Get()

	_, err = l.get(l.primary, devidp.RouteMe)
	require.NoError(t, err)
	require.Zero(t, l.idp.RefreshCalls())

	l.clock.Advance(20 * time.Minute)

	resp, err := l.get(l.primary, devidp.RouteMe)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, int64(1), l.idp.RefreshCalls())

	second, _ := l.tokens.Get()
	require.NotEqual(t, first, second)
	require.Equal(t, auth.StateUserActive, l.ctrl.State())
}

func TestExpiredRefreshCredentialEndsSessionOnNextRequest(t *testing.T) {
	l := setupLifecycle(t)
	ctx := context.Background()

	_, err := l.ctrl.SignIn(ctx, gateway.Credentials{Username: "ada", Password: seedPassword})
	require.NoError(t, err)

	l.clock.Advance(2 * time.Hour)

	_, err = l.get(l.primary, devidp.RouteMe)
	require.ErrorIs(t, err, errors.ErrRefreshCredentialExpired)

	require.Equal(t, auth.StateExpired, l.ctrl.State())
	require.False(t, l.sessions.CurrentSession().Authenticated())
	_, ok := l.tokens.Get()
	require.False(t, ok)
	require.Equal(t, 1, l.notifier.count())
}

func TestAdminRoutesNeedAdminSession(t *testing.T) {
	l := setupLifecycle(t)
	ctx := context.Background()

	_, err := l.ctrl.SignIn(ctx, gateway.Credentials{Username: "ada", Password: seedPassword})
	require.NoError(t, err)
	_, err = l.get(l.admin, devidp.RouteAdminOverview)
	require.ErrorIs(t, err, errors.ErrInsufficientPrivilege)

	_, err = l.ctrl.AdminSignIn(ctx, gateway.AdminCredentials{Email: "mod@alumni.test", Password: seedPassword})
	require.NoError(t, err)
	_, err = l.get(l.admin, devidp.RouteAdminOverview)
	require.NoError(t, err)
	require.Equal(t, sessions.PersonaAdmin, l.sessions.CurrentSession().Type)
}

func TestSignOutRevokesBackendSession(t *testing.T) {
	l := setupLifecycle(t)
	ctx := context.Background()

	_, err := l.ctrl.SignIn(ctx, gateway.Credentials{Username: "ada", Password: seedPassword})
	require.NoError(t, err)

	l.ctrl.SignOut(ctx)
	require.Equal(t, auth.StateUnauthenticated, l.ctrl.State())

	_, err = l.get(l.primary, devidp.RouteMe)
	require.ErrorIs(t, err, errors.ErrNoSession)
	require.Zero(t, l.idp.RefreshCalls())
}
