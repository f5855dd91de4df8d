// Package auth drives the session lifecycle of one tab: sign in and out for both personas,
// proactive refresh ahead of expiry, and reactions to forced logouts and to other tabs.
package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jrsteele09/alumni-session/events"
	"github.com/jrsteele09/alumni-session/gateway"
	"github.com/jrsteele09/alumni-session/internal/config"
	"github.com/jrsteele09/alumni-session/internal/errors"
	"github.com/jrsteele09/alumni-session/internal/metrics"
	"github.com/jrsteele09/alumni-session/sessions"
	"github.com/jrsteele09/alumni-session/storage"
	"github.com/jrsteele09/alumni-session/token"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

// Refresher is the refresh coordinator as seen by the controller.
type Refresher interface {
	Refresh(ctx context.Context) (string, error)
	InFlight() bool
	TokenSource(ctx context.Context) oauth2.TokenSource
}

// Controller owns the lifecycle state of one tab. The stores it writes may be shared with
// other tabs; the controller itself is not.
type Controller struct {
	cfg      config.SessionConfig
	gateway  gateway.AuthGateway
	tokens   *token.Store
	sessions *sessions.Store
	refresh  Refresher
	bus      *events.Bus
	notifier Notifier
	metrics  *metrics.Metrics
	nowFunc  func() time.Time

	mu      sync.RWMutex
	state   State
	session sessions.Session

	lifecycle sync.Mutex
	unsubs    []func()
	cancel    context.CancelFunc
	done      chan struct{}
}

type Option func(*Controller)

func WithNotifier(n Notifier) Option {
	return func(c *Controller) {
		c.notifier = n
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Controller) {
		c.metrics = m
	}
}

func WithNowFunc(now func() time.Time) Option {
	return func(c *Controller) {
		c.nowFunc = now
	}
}

func NewController(cfg config.SessionConfig, gw gateway.AuthGateway, tokens *token.Store, store *sessions.Store,
	refresher Refresher, bus *events.Bus, options ...Option) *Controller {
	c := &Controller{
		cfg:      cfg,
		gateway:  gw,
		tokens:   tokens,
		sessions: store,
		refresh:  refresher,
		bus:      bus,
		notifier: LogNotifier{},
		nowFunc:  time.Now,
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// Init restores the persisted session without touching the network. An expired token is
// dealt with by the first expiry check or the first 401.
func (c *Controller) Init(ctx context.Context) {
	c.setState(StateInitializing, sessions.Session{})
	sess := c.sessions.CurrentSession()
	c.setState(stateFor(sess), sess)
	log.Debug().Str("state", stateFor(sess).String()).Str("tab", c.sessions.TabID()).Msg("session restored")
}

func (c *Controller) SignIn(ctx context.Context, creds gateway.Credentials) (*sessions.User, error) {
	res, err := c.gateway.Login(ctx, creds)
	if err != nil {
		return nil, fmt.Errorf("[auth.SignIn] %w", err)
	}
	if res.User == nil {
		return nil, fmt.Errorf("[auth.SignIn] login response without user: %w", errors.ErrUnexpectedStatus)
	}

	if err := c.sessions.SetUser(*res.User); err != nil {
		return nil, fmt.Errorf("[auth.SignIn] %w", err)
	}
	c.tokens.Set(res.Token.AccessToken)
	c.setState(StateUserActive, sessions.Session{Type: sessions.PersonaUser, User: res.User})
	log.Info().Str("user", res.User.ID).Msg("user signed in")
	return res.User, nil
}

// AdminSignIn replaces any user session with an administrator session.
func (c *Controller) AdminSignIn(ctx context.Context, creds gateway.AdminCredentials) (*sessions.Admin, error) {
	res, err := c.gateway.AdminLogin(ctx, creds)
	if err != nil {
		return nil, fmt.Errorf("[auth.AdminSignIn] %w", err)
	}
	if res.Admin == nil {
		return nil, fmt.Errorf("[auth.AdminSignIn] login response without admin: %w", errors.ErrUnexpectedStatus)
	}

	if err := c.sessions.SetAdmin(*res.Admin); err != nil {
		return nil, fmt.Errorf("[auth.AdminSignIn] %w", err)
	}
	c.tokens.Set(res.Token.AccessToken)
	c.setState(StateAdminActive, sessions.Session{Type: sessions.PersonaAdmin, Admin: res.Admin})
	log.Info().Str("admin", res.Admin.ID).Str("role", string(res.Admin.Role)).Msg("admin signed in")
	return res.Admin, nil
}

// SignOut ends the session locally whatever the backend says.
func (c *Controller) SignOut(ctx context.Context) {
	c.signOut(ctx, "user")
}

func (c *Controller) AdminSignOut(ctx context.Context) {
	c.signOut(ctx, "admin")
}

func (c *Controller) signOut(ctx context.Context, persona string) {
	raw, _ := c.tokens.Get()
	if err := c.gateway.Logout(ctx, raw); err != nil {
		log.Warn().Err(err).Str("persona", persona).Msg("backend logout failed, clearing local session anyway")
	}

	c.clearLocal()
	c.setState(StateUnauthenticated, sessions.Session{})
	c.bus.PublishLogout(events.ReasonManual)
}

// CheckExpiry refreshes the token when it is missing, unreadable or close to expiry. A failed
// refresh ends the session unless ctx ended first.
func (c *Controller) CheckExpiry(ctx context.Context) error {
	if !c.State().Active() {
		return nil
	}

	if !c.needsRefresh() {
		return nil
	}

	if _, err := c.refresh.Refresh(ctx); err != nil {
		if ctx.Err() == nil {
			log.Warn().Err(err).Bool("credential", errors.IsCredentialFailure(err)).Msg("proactive refresh failed, ending session")
			c.forceLogout()
		}
		return fmt.Errorf("[auth.CheckExpiry] %w", err)
	}
	return nil
}

func (c *Controller) needsRefresh() bool {
	raw, ok := c.tokens.Get()
	if !ok {
		return true
	}
	ttl, err := token.TimeToExpiry(raw, c.nowFunc())
	if err != nil {
		log.Debug().Err(err).Msg("cached token unreadable")
		return true
	}
	return ttl < c.cfg.GetRefreshThreshold()
}

// OnVisibilityChange runs an expiry check when the tab becomes visible.
func (c *Controller) OnVisibilityChange(ctx context.Context, visible bool) error {
	if !visible {
		return nil
	}
	return c.CheckExpiry(ctx)
}

func (c *Controller) OnFocus(ctx context.Context) error {
	return c.CheckExpiry(ctx)
}

// forceLogout clears this tab directly, so it works before Start, then tells subscribers.
func (c *Controller) forceLogout() {
	logout := events.Logout{Reason: events.ReasonTokenExpired}
	c.metrics.IncrementForcedLogouts(string(logout.Reason))
	c.onLogout(logout)
	c.bus.PublishLogout(logout.Reason)
}

// onLogout handles forced logouts from any source. The token is already dead so the backend
// is not contacted. A tab already in Expired has been handled.
func (c *Controller) onLogout(e events.Logout) {
	if e.Reason != events.ReasonTokenExpired || c.State() == StateExpired {
		return
	}

	wasActive := c.State().Active()
	c.clearLocal()
	if !wasActive {
		c.setState(StateUnauthenticated, sessions.Session{})
		return
	}
	c.setState(StateExpired, sessions.Session{})
	c.notifier.Notify(sessionExpiredNotice)
}

// onSharedChange follows persona changes written by other tabs.
func (c *Controller) onSharedChange(ch storage.Change) {
	sess := c.sessions.CurrentSession()
	prev := c.CurrentSession()
	if sess.Type == prev.Type && sess.SubjectID() == prev.SubjectID() {
		return
	}

	// The cached token belongs to the previous persona. The next request refreshes.
	c.tokens.Clear()
	c.setState(stateFor(sess), sess)
	log.Debug().Str("key", ch.Key).Str("persona", string(sess.Type)).Msg("session changed in another tab")
	c.bus.PublishSessionChanged(sess.Type)
}

func (c *Controller) clearLocal() {
	c.tokens.Clear()
	if err := c.sessions.ClearAll(); err != nil {
		log.Err(err).Msg("clearing session records failed")
	}
}

// Start restores the session if needed, subscribes to forced logouts and shared storage,
// and runs the periodic expiry check until Stop or ctx is done.
func (c *Controller) Start(ctx context.Context) {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	if c.cancel != nil {
		return
	}

	if c.State() == StateUninitialized {
		c.Init(ctx)
	}

	c.unsubs = append(c.unsubs,
		c.bus.OnLogout(c.onLogout),
		c.sessions.Watch(c.onSharedChange),
	)

	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})
	go c.run(ctx, c.done)
}

func (c *Controller) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(c.cfg.GetCheckInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = c.CheckExpiry(ctx)
		}
	}
}

// Stop ends the periodic check and drops all subscriptions.
func (c *Controller) Stop() {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	if c.cancel == nil {
		return
	}

	c.cancel()
	<-c.done
	for _, unsub := range c.unsubs {
		unsub()
	}
	c.unsubs = nil
	c.cancel = nil
}

func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Controller) CurrentSession() sessions.Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Snapshot{
		State:      c.state,
		Refreshing: c.refresh.InFlight(),
		Session:    c.session,
	}
}

// TokenSource lets oauth2-aware clients draw tokens from this session.
func (c *Controller) TokenSource(ctx context.Context) oauth2.TokenSource {
	return c.refresh.TokenSource(ctx)
}

func (c *Controller) setState(s State, sess sessions.Session) {
	c.mu.Lock()
	c.state = s
	c.session = sess
	c.mu.Unlock()
}
