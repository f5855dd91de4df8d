package refresh

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jrsteele09/alumni-session/events"
	"github.com/jrsteele09/alumni-session/gateway"
	"github.com/jrsteele09/alumni-session/internal/errors"
	"github.com/jrsteele09/alumni-session/internal/metrics"
	"github.com/jrsteele09/alumni-session/sessions"
	"github.com/jrsteele09/alumni-session/token"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

const flightKey = "refresh"

// Refresher is the part of the gateway the coordinator needs.
type Refresher interface {
	Refresh(ctx context.Context) (*gateway.Result, error)
	HasRefreshCredential() bool
}

// SessionReader reports the persisted persona.
type SessionReader interface {
	CurrentSession() sessions.Session
}

// Coordinator guarantees at most one refresh network call is outstanding at a time.
// Every caller that arrives while one is running receives that call's outcome.
type Coordinator struct {
	gateway  Refresher
	tokens   *token.Store
	sessions SessionReader
	bus      *events.Bus
	metrics  *metrics.Metrics
	tracer   trace.Tracer

	group    singleflight.Group
	inFlight atomic.Bool
}

type Option func(*Coordinator)

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

func NewCoordinator(gw Refresher, tokens *token.Store, store SessionReader, bus *events.Bus, options ...Option) *Coordinator {
	c := &Coordinator{
		gateway:  gw,
		tokens:   tokens,
		sessions: store,
		bus:      bus,
		tracer:   otel.Tracer("github.com/jrsteele09/alumni-session/refresh"),
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// Refresh returns a fresh access token, starting a refresh or joining the one in flight.
// The shared call is detached from ctx; ctx only bounds how long this caller waits.
func (c *Coordinator) Refresh(ctx context.Context) (string, error) {
	if c.inFlight.Load() {
		c.metrics.IncrementWaiters()
	}

	ch := c.group.DoChan(flightKey, func() (any, error) {
		return c.refresh(context.WithoutCancel(ctx))
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", fmt.Errorf("[refresh.Refresh] abandoned wait: %w", ctx.Err())
	}
}

// InFlight reports whether a refresh network call is currently outstanding.
func (c *Coordinator) InFlight() bool {
	return c.inFlight.Load()
}

func (c *Coordinator) refresh(ctx context.Context) (string, error) {
	c.inFlight.Store(true)
	defer c.inFlight.Store(false)

	ctx, span := c.tracer.Start(ctx, "refresh.Coordinator")
	defer span.End()

	if !c.hasLikelySession() {
		c.tokens.Clear()
		span.SetAttributes(attribute.Bool("session.likely", false))
		return "", fmt.Errorf("[refresh.Refresh] %w", errors.ErrNoSession)
	}

	started := time.Now()
	res, err := c.gateway.Refresh(ctx)
	c.metrics.ObserveRefresh(err)
	if err != nil {
		c.tokens.Clear()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Warn().Err(err).Dur("elapsed", time.Since(started)).Msg("token refresh failed")
		return "", err
	}

	c.tokens.Set(res.Token.AccessToken)
	log.Debug().Dur("elapsed", time.Since(started)).Msg("token refreshed")
	c.bus.PublishTokenRefreshed(res.Token.AccessToken)
	return res.Token.AccessToken, nil
}

// hasLikelySession is a cheap local guess that a refresh could succeed.
func (c *Coordinator) hasLikelySession() bool {
	if c.gateway.HasRefreshCredential() {
		return true
	}
	if c.sessions != nil && c.sessions.CurrentSession().Authenticated() {
		return true
	}
	_, ok := c.tokens.Get()
	return ok
}

// TokenSource adapts the token store and coordinator to oauth2.TokenSource. A cached token
// is returned as long as it does not look expired; otherwise a refresh is started.
func (c *Coordinator) TokenSource(ctx context.Context) oauth2.TokenSource {
	return &tokenSource{ctx: ctx, c: c}
}

type tokenSource struct {
	ctx context.Context
	c   *Coordinator
}

func (ts *tokenSource) Token() (*oauth2.Token, error) {
	if raw, ok := ts.c.tokens.Get(); ok {
		if exp, err := token.Expiry(raw); err == nil && time.Until(exp) > 0 {
			return &oauth2.Token{AccessToken: raw, TokenType: "Bearer", Expiry: exp}, nil
		}
	}

	raw, err := ts.c.Refresh(ts.ctx)
	if err != nil {
		return nil, err
	}
	t := &oauth2.Token{AccessToken: raw, TokenType: "Bearer"}
	if exp, err := token.Expiry(raw); err == nil {
		t.Expiry = exp
	}
	return t, nil
}
