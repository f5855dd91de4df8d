package transport_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jrsteele09/alumni-session/events"
	"github.com/jrsteele09/alumni-session/gateway"
	"github.com/jrsteele09/alumni-session/internal/errors"
	"github.com/jrsteele09/alumni-session/internal/metrics"
	"github.com/jrsteele09/alumni-session/refresh"
	"github.com/jrsteele09/alumni-session/sessions"
	"github.com/jrsteele09/alumni-session/storage/memory"
	"github.com/jrsteele09/alumni-session/token"
	"github.com/jrsteele09/alumni-session/transport"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

const (
	staleToken = "stale-token"
	freshToken = "fresh-token"
)

type fakeGateway struct {
	calls   atomic.Int32
	release chan struct{}
	err     error
}

func (g *fakeGateway) Refresh(ctx context.Context) (*gateway.Result, error) {
	g.calls.Add(1)
	if g.release != nil {
		<-g.release
	}
	if g.err != nil {
		return nil, g.err
	}
	return &gateway.Result{Token: &oauth2.Token{AccessToken: freshToken}}, nil
}

func (g *fakeGateway) HasRefreshCredential() bool { return true }

// countingRefresher records callers entering Refresh.
type countingRefresher struct {
	entered atomic.Int32
	inner   transport.Refresher
}

func (c *countingRefresher) Refresh(ctx context.Context) (string, error) {
	c.entered.Add(1)
	return c.inner.Refresh(ctx)
}

type testFixture struct {
	gateway   *fakeGateway
	refresher *countingRefresher
	tokens    *token.Store
	sessions  *sessions.Store
	bus       *events.Bus
	metrics   *metrics.Metrics
	client    *http.Client
	server    *httptest.Server
}

func setupTestFixture(t *testing.T, gw *fakeGateway, api http.Handler) *testFixture {
	t.Helper()
	f := &testFixture{
		gateway:  gw,
		tokens:   token.NewStore(memory.New(), nil),
		sessions: sessions.NewStore(memory.New()),
		bus:      events.NewBus(),
		metrics:  metrics.New(nil),
		server:   httptest.NewServer(api),
	}
	t.Cleanup(f.server.Close)

	coord := refresh.NewCoordinator(gw, f.tokens, f.sessions, f.bus, refresh.WithMetrics(f.metrics))
	f.refresher = &countingRefresher{inner: coord}
	mw := transport.New(transport.DomainPrimary, f.tokens, f.refresher, f.sessions, f.bus,
		transport.WithBase(f.server.Client().Transport), transport.WithMetrics(f.metrics))
	f.client = mw.Client()

	f.tokens.Set(staleToken)
	require.NoError(t, f.sessions.SetUser(sessions.User{ID: "u1"}))
	return f
}

// acceptFresh answers 200 only for the fresh token.
func acceptFresh(hits *atomic.Int32) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		if r.Header.Get("Authorization") != "Bearer "+freshToken {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = io.WriteString(w, "ok")
	}
}

func TestExpiredTokenIsRefreshedAndRequestResent(t *testing.T) {
	var hits atomic.Int32
	f := setupTestFixture(t, &fakeGateway{}, acceptFresh(&hits))

	var refreshed atomic.Int32
	f.bus.OnTokenRefreshed(func(events.TokenRefreshed) { refreshed.Add(1) })

	resp, err := f.client.Get(f.server.URL + "/api/me")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "ok", string(body))
	require.Equal(t, int32(2), hits.Load())
	require.Equal(t, int32(1), f.gateway.calls.Load())
	require.Equal(t, int32(1), refreshed.Load())

	got, _ := f.tokens.Get()
	require.Equal(t, freshToken, got)
	require.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Retries.WithLabelValues(transport.DomainPrimary, "success")))
}

func TestConcurrentUnauthorizedShareOneRefresh(t *testing.T) {
	const requests = 8
	f := setupTestFixture(t, &fakeGateway{release: make(chan struct{})}, acceptFresh(nil))

	go func() {
		for f.refresher.entered.Load() < requests {
			time.Sleep(time.Millisecond)
		}
		time.Sleep(20 * time.Millisecond)
		close(f.gateway.release)
	}()

	var wg sync.WaitGroup
	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := f.client.Get(f.server.URL + "/api/me")
			if !assert.NoError(t, err) {
				return
			}
			defer resp.Body.Close()
			assert.Equal(t, http.StatusOK, resp.StatusCode)
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), f.gateway.calls.Load())
}

func TestSecondUnauthorizedIsReturnedUnchanged(t *testing.T) {
	var hits atomic.Int32
	f := setupTestFixture(t, &fakeGateway{}, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))

	resp, err := f.client.Get(f.server.URL + "/api/me")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, int32(2), hits.Load())
	require.Equal(t, int32(1), f.gateway.calls.Load())
}

func TestRefreshCredentialFailureEndsSession(t *testing.T) {
	f := setupTestFixture(t, &fakeGateway{err: errors.ErrRefreshCredentialExpired}, acceptFresh(nil))

	var reasons []events.LogoutReason
	f.bus.OnLogout(func(e events.Logout) { reasons = append(reasons, e.Reason) })

	_, err := f.client.Get(f.server.URL + "/api/me")
	require.ErrorIs(t, err, errors.ErrRefreshCredentialExpired)

	require.Equal(t, []events.LogoutReason{events.ReasonTokenExpired}, reasons)
	require.False(t, f.sessions.CurrentSession().Authenticated())
	_, ok := f.tokens.Get()
	require.False(t, ok)
	require.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ForcedLogouts.WithLabelValues("token_expired")))
}

func TestRefreshNetworkFailureEndsSession(t *testing.T) {
	f := setupTestFixture(t, &fakeGateway{err: errors.ErrNetworkError}, acceptFresh(nil))

	var reasons []events.LogoutReason
	f.bus.OnLogout(func(e events.Logout) { reasons = append(reasons, e.Reason) })

	_, err := f.client.Get(f.server.URL + "/api/me")
	require.ErrorIs(t, err, errors.ErrNetworkError)

	require.Equal(t, []events.LogoutReason{events.ReasonTokenExpired}, reasons)
	require.Equal(t, sessions.PersonaNone, f.sessions.CurrentSession().Type)
	_, ok := f.tokens.Get()
	require.False(t, ok)
}

func TestAbandonedWaitKeepsSession(t *testing.T) {
	f := setupTestFixture(t, &fakeGateway{release: make(chan struct{})}, acceptFresh(nil))
	t.Cleanup(sync.OnceFunc(func() { close(f.gateway.release) }))

	var logouts atomic.Int32
	f.bus.OnLogout(func(events.Logout) { logouts.Add(1) })

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		for f.refresher.entered.Load() < 1 {
			time.Sleep(time.Millisecond)
		}
		cancel()
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.server.URL+"/api/me", nil)
	require.NoError(t, err)
	_, err = f.client.Do(req)
	require.ErrorIs(t, err, context.Canceled)

	require.Zero(t, logouts.Load())
	require.True(t, f.sessions.CurrentSession().Authenticated())
}

func TestLateUnauthorizedReusesCompletedRefresh(t *testing.T) {
	var staleHits atomic.Int32
	hold := make(chan struct{})
	f := setupTestFixture(t, &fakeGateway{}, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "Bearer "+staleToken && staleHits.Add(1) == 1 {
			<-hold
		}
		acceptFresh(nil)(w, r)
	}))
	releaseHold := sync.OnceFunc(func() { close(hold) })
	t.Cleanup(releaseHold)

	get := func() (int, error) {
		resp, err := f.client.Get(f.server.URL + "/api/me")
		if err != nil {
			return 0, err
		}
		defer resp.Body.Close()
		return resp.StatusCode, nil
	}

	type result struct {
		status int
		err    error
	}
	late := make(chan result, 1)
	go func() {
		status, err := get()
		late <- result{status, err}
	}()
	require.Eventually(t, func() bool { return staleHits.Load() == 1 }, time.Second, time.Millisecond)

	status, err := get()
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, status)

	releaseHold()
	res := <-late
	require.NoError(t, res.err)
	require.Equal(t, http.StatusOK, res.status)

	require.Equal(t, int32(1), f.gateway.calls.Load())
	require.Equal(t, int32(1), f.refresher.entered.Load())
	got, _ := f.tokens.Get()
	require.Equal(t, freshToken, got)
}

func TestBodyIsReplayedOnRetry(t *testing.T) {
	var bodies []string
	var mu sync.Mutex
	f := setupTestFixture(t, &fakeGateway{}, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, string(data))
		mu.Unlock()
		acceptFresh(nil)(w, r)
	}))

	req, err := http.NewRequest(http.MethodPost, f.server.URL+"/api/posts", io.NopCloser(strings.NewReader(`{"title":"reunion"}`)))
	require.NoError(t, err)
	require.Nil(t, req.GetBody)

	resp, err := f.client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, []string{`{"title":"reunion"}`, `{"title":"reunion"}`}, bodies)
}

func TestCheckResponse(t *testing.T) {
	require.NoError(t, transport.CheckResponse(&http.Response{StatusCode: http.StatusOK}))
	require.ErrorIs(t, transport.CheckResponse(&http.Response{StatusCode: http.StatusForbidden}), errors.ErrInsufficientPrivilege)
	require.ErrorIs(t, transport.CheckResponse(&http.Response{StatusCode: http.StatusBadGateway}), errors.ErrUnexpectedStatus)
}
