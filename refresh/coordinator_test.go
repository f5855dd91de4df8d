package refresh_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jrsteele09/alumni-session/events"
	"github.com/jrsteele09/alumni-session/gateway"
	"github.com/jrsteele09/alumni-session/internal/errors"
	"github.com/jrsteele09/alumni-session/internal/metrics"
	"github.com/jrsteele09/alumni-session/internal/tokentest"
	"github.com/jrsteele09/alumni-session/refresh"
	"github.com/jrsteele09/alumni-session/sessions"
	"github.com/jrsteele09/alumni-session/storage/memory"
	"github.com/jrsteele09/alumni-session/token"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

type fakeRefresher struct {
	calls      atomic.Int32
	release    chan struct{}
	token      string
	err        error
	credential bool
}

func (f *fakeRefresher) Refresh(ctx context.Context) (*gateway.Result, error) {
	f.calls.Add(1)
	if f.release != nil {
		<-f.release
	}
	if f.err != nil {
		return nil, f.err
	}
	return &gateway.Result{Token: &oauth2.Token{AccessToken: f.token}}, nil
}

func (f *fakeRefresher) HasRefreshCredential() bool {
	return f.credential
}

type testFixture struct {
	refresher *fakeRefresher
	tokens    *token.Store
	sessions  *sessions.Store
	bus       *events.Bus
	metrics   *metrics.Metrics
	coord     *refresh.Coordinator
}

func setupTestFixture(t *testing.T, refresher *fakeRefresher) *testFixture {
	t.Helper()
	f := &testFixture{
		refresher: refresher,
		tokens:    token.NewStore(memory.New(), &token.Slot{}),
		sessions:  sessions.NewStore(memory.New()),
		bus:       events.NewBus(),
		metrics:   metrics.New(nil),
	}
	f.coord = refresh.NewCoordinator(refresher, f.tokens, f.sessions, f.bus, refresh.WithMetrics(f.metrics))
	return f
}

func TestConcurrentCallersShareOneRefresh(t *testing.T) {
	const callers = 10
	fresh := tokentest.ExpiresIn("u1", 15*time.Minute)
	f := setupTestFixture(t, &fakeRefresher{release: make(chan struct{}), token: fresh, credential: true})

	var published atomic.Int32
	f.bus.OnTokenRefreshed(func(e events.TokenRefreshed) {
		published.Add(1)
		assert.Equal(t, fresh, e.AccessToken)
	})

	var started, done sync.WaitGroup
	results := make([]string, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		started.Add(1)
		done.Add(1)
		go func(i int) {
			defer done.Done()
			started.Done()
			results[i], errs[i] = f.coord.Refresh(context.Background())
		}(i)
	}
	started.Wait()
	require.Eventually(t, f.coord.InFlight, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(f.refresher.release)
	done.Wait()

	require.Equal(t, int32(1), f.refresher.calls.Load())
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, fresh, results[i])
	}
	require.Equal(t, int32(1), published.Load())
	require.False(t, f.coord.InFlight())

	got, ok := f.tokens.Get()
	require.True(t, ok)
	require.Equal(t, fresh, got)
	require.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Refreshes.WithLabelValues("success")))
}

func TestRefreshFailureClearsTokenStore(t *testing.T) {
	f := setupTestFixture(t, &fakeRefresher{err: errors.ErrRefreshCredentialExpired, credential: true})
	f.tokens.Set("stale")

	var published atomic.Int32
	f.bus.OnTokenRefreshed(func(events.TokenRefreshed) { published.Add(1) })

	_, err := f.coord.Refresh(context.Background())
	require.ErrorIs(t, err, errors.ErrRefreshCredentialExpired)

	_, ok := f.tokens.Get()
	require.False(t, ok)
	require.Zero(t, published.Load())
	require.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Refreshes.WithLabelValues("failure")))
}

func TestRefreshWithoutAnySessionSkipsNetwork(t *testing.T) {
	f := setupTestFixture(t, &fakeRefresher{token: "unused"})

	_, err := f.coord.Refresh(context.Background())
	require.ErrorIs(t, err, errors.ErrNoSession)
	require.Zero(t, f.refresher.calls.Load())
}

func TestLikelySessionSignals(t *testing.T) {
	t.Run("session record", func(t *testing.T) {
		f := setupTestFixture(t, &fakeRefresher{token: "fresh"})
		require.NoError(t, f.sessions.SetUser(sessions.User{ID: "u1"}))

		got, err := f.coord.Refresh(context.Background())
		require.NoError(t, err)
		require.Equal(t, "fresh", got)
	})

	t.Run("cached token", func(t *testing.T) {
		f := setupTestFixture(t, &fakeRefresher{token: "fresh"})
		f.tokens.Set("stale")

		got, err := f.coord.Refresh(context.Background())
		require.NoError(t, err)
		require.Equal(t, "fresh", got)
	})
}

func TestWaiterCanAbandonWithoutCancellingRefresh(t *testing.T) {
	f := setupTestFixture(t, &fakeRefresher{release: make(chan struct{}), token: "fresh", credential: true})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := f.coord.Refresh(ctx)
		errCh <- err
	}()
	require.Eventually(t, f.coord.InFlight, time.Second, time.Millisecond)
	cancel()
	require.ErrorIs(t, <-errCh, context.Canceled)

	close(f.refresher.release)
	require.Eventually(t, func() bool {
		got, ok := f.tokens.Get()
		return ok && got == "fresh"
	}, time.Second, time.Millisecond)
}

func TestTokenSource(t *testing.T) {
	fresh := tokentest.ExpiresIn("u1", 15*time.Minute)
	f := setupTestFixture(t, &fakeRefresher{token: fresh, credential: true})

	f.tokens.Set(tokentest.ExpiresIn("u1", -time.Minute))
	tok, err := f.coord.TokenSource(context.Background()).Token()
	require.NoError(t, err)
	require.Equal(t, fresh, tok.AccessToken)
	require.Equal(t, int32(1), f.refresher.calls.Load())

	tok, err = f.coord.TokenSource(context.Background()).Token()
	require.NoError(t, err)
	require.Equal(t, fresh, tok.AccessToken)
	require.Equal(t, int32(1), f.refresher.calls.Load())
	require.True(t, tok.Valid())
}
