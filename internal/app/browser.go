// Package app assembles the session components the way a browser hosts them: one cookie
// jar and one persistent store shared by every tab, and per-tab token storage, event bus,
// refresh coordinator, HTTP middleware and lifecycle controller.
package app

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/jrsteele09/alumni-session/auth"
	"github.com/jrsteele09/alumni-session/events"
	"github.com/jrsteele09/alumni-session/gateway"
	"github.com/jrsteele09/alumni-session/internal/config"
	"github.com/jrsteele09/alumni-session/internal/metrics"
	"github.com/jrsteele09/alumni-session/refresh"
	"github.com/jrsteele09/alumni-session/sessions"
	"github.com/jrsteele09/alumni-session/storage"
	"github.com/jrsteele09/alumni-session/storage/memory"
	"github.com/jrsteele09/alumni-session/token"
	"github.com/jrsteele09/alumni-session/transport"
	"github.com/rs/zerolog/log"
)

type Browser struct {
	cfg      config.Config
	shared   storage.KV
	gateway  *gateway.Gateway
	metrics  *metrics.Metrics
	notifier auth.Notifier
	base     http.RoundTripper

	mu   sync.Mutex
	tabs []*Tab
}

type Option func(*Browser)

func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Browser) {
		b.metrics = m
	}
}

func WithNotifier(n auth.Notifier) Option {
	return func(b *Browser) {
		b.notifier = n
	}
}

// WithTransport sets the round tripper API requests finally go out on.
func WithTransport(rt http.RoundTripper) Option {
	return func(b *Browser) {
		b.base = rt
	}
}

// NewBrowser builds a browser over shared, the storage every tab sees.
func NewBrowser(cfg config.Config, shared storage.KV, options ...Option) (*Browser, error) {
	b := &Browser{
		cfg:      cfg,
		shared:   shared,
		notifier: auth.LogNotifier{},
		base:     http.DefaultTransport,
	}
	for _, opt := range options {
		opt(b)
	}

	gw, err := gateway.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("[app.NewBrowser] %w", err)
	}
	b.gateway = gw
	return b, nil
}

// OpenTab starts a new tab and restores whatever session the shared storage holds.
func (b *Browser) OpenTab(ctx context.Context) *Tab {
	tokens := token.NewStore(memory.New(), &token.Slot{})
	store := sessions.NewStore(b.shared)
	bus := events.NewBus()
	coord := refresh.NewCoordinator(b.gateway, tokens, store, bus, refresh.WithMetrics(b.metrics))

	t := &Tab{
		ID:     store.TabID(),
		cfg:    b.cfg,
		tokens: tokens,
		primary: transport.New(transport.DomainPrimary, tokens, coord, store, bus,
			transport.WithBase(b.base), transport.WithMetrics(b.metrics)).Client(),
		admin: transport.New(transport.DomainAdmin, tokens, coord, store, bus,
			transport.WithBase(b.base), transport.WithMetrics(b.metrics)).Client(),
	}
	t.Controller = auth.NewController(b.cfg, b.gateway, tokens, store, coord, bus,
		auth.WithNotifier(b.notifier), auth.WithMetrics(b.metrics))
	t.unsubscribe = bus.OnSessionChanged(func(e events.SessionChanged) {
		log.Info().Str("tab", t.ID).Str("persona", string(e.Type)).Msg("session changed in another tab")
	})
	t.Controller.Start(ctx)

	b.mu.Lock()
	b.tabs = append(b.tabs, t)
	b.mu.Unlock()
	return t
}

func (b *Browser) Tabs() []*Tab {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*Tab(nil), b.tabs...)
}

// CloseTab stops t and forgets it. Session records stay in shared storage.
func (b *Browser) CloseTab(t *Tab) {
	t.Close()

	b.mu.Lock()
	defer b.mu.Unlock()
	for i, open := range b.tabs {
		if open == t {
			b.tabs = append(b.tabs[:i], b.tabs[i+1:]...)
			return
		}
	}
}

func (b *Browser) Close() {
	for _, t := range b.Tabs() {
		b.CloseTab(t)
	}
}

// Tab is one page holding its own access token.
type Tab struct {
	ID         string
	Controller *auth.Controller

	cfg         config.BackendConfig
	tokens      *token.Store
	primary     *http.Client
	admin       *http.Client
	unsubscribe func()
}

// Get sends an authenticated GET to path on the named backend domain. Error statuses are
// mapped through transport.CheckResponse; the response is returned either way when one exists.
func (t *Tab) Get(ctx context.Context, domain, path string) (*http.Response, error) {
	client, base := t.primary, t.cfg.GetPrimaryAPIBaseURL()
	if domain == transport.DomainAdmin {
		client, base = t.admin, t.cfg.GetAdminAPIBaseURL()
	}

	u, err := url.JoinPath(base, path)
	if err != nil {
		return nil, fmt.Errorf("[app.Get] %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("[app.Get] %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	return resp, transport.CheckResponse(resp)
}

func (t *Tab) HasToken() bool {
	_, ok := t.tokens.Get()
	return ok
}

func (t *Tab) Close() {
	t.Controller.Stop()
	t.unsubscribe()
}
