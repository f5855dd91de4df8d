// Package transport attaches the current access token to outgoing API requests and turns
// a 401 into one refresh plus one resend.
package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/jrsteele09/alumni-session/events"
	"github.com/jrsteele09/alumni-session/internal/errors"
	"github.com/jrsteele09/alumni-session/internal/metrics"
	"github.com/jrsteele09/alumni-session/token"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

// Backend domains a middleware instance is built for.
const (
	DomainPrimary = "primary"
	DomainAdmin   = "admin"
)

type retriedKey struct{}

// Refresher obtains a new access token, sharing any refresh already in flight.
type Refresher interface {
	Refresh(ctx context.Context) (string, error)
}

// SessionClearer drops every persisted persona record.
type SessionClearer interface {
	ClearAll() error
}

// Middleware is an http.RoundTripper for one backend domain. All instances share one
// Refresher so concurrent 401s across domains still cause a single refresh.
type Middleware struct {
	domain    string
	next      http.RoundTripper
	tokens    *token.Store
	refresher Refresher
	sessions  SessionClearer
	bus       *events.Bus
	metrics   *metrics.Metrics
}

var _ http.RoundTripper = (*Middleware)(nil)

type Option func(*Middleware)

// WithBase sets the transport requests are finally sent on. Defaults to http.DefaultTransport.
func WithBase(rt http.RoundTripper) Option {
	return func(m *Middleware) {
		m.next = rt
	}
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Middleware) {
		m.metrics = mt
	}
}

func New(domain string, tokens *token.Store, refresher Refresher, sessions SessionClearer, bus *events.Bus, options ...Option) *Middleware {
	m := &Middleware{
		domain:    domain,
		next:      http.DefaultTransport,
		tokens:    tokens,
		refresher: refresher,
		sessions:  sessions,
		bus:       bus,
	}
	for _, opt := range options {
		opt(m)
	}
	return m
}

// Client returns an http.Client sending through m.
func (m *Middleware) Client() *http.Client {
	return &http.Client{Transport: m}
}

func (m *Middleware) RoundTrip(req *http.Request) (*http.Response, error) {
	req, err := replayable(req)
	if err != nil {
		return nil, err
	}

	out := req.Clone(req.Context())
	sent, _ := m.tokens.Get()
	if sent != "" {
		(&oauth2.Token{AccessToken: sent}).SetAuthHeader(out)
	}

	resp, err := m.next.RoundTrip(out)
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}
	if retried(req.Context()) {
		return resp, nil
	}
	drain(resp)

	raw, err := m.tokenAfter(req.Context(), sent)
	if err != nil {
		return nil, err
	}

	retry := req.Clone(context.WithValue(req.Context(), retriedKey{}, true))
	if req.GetBody != nil {
		if retry.Body, err = req.GetBody(); err != nil {
			return nil, fmt.Errorf("[transport.RoundTrip] rewinding body: %w", err)
		}
	}
	(&oauth2.Token{AccessToken: raw}).SetAuthHeader(retry)

	resp, err = m.next.RoundTrip(retry)
	m.metrics.ObserveRetry(m.domain, err)
	return resp, err
}

// tokenAfter returns the token to resend with after sent was rejected. A token that replaced
// sent while the request was out came from a refresh that already answered this expiry.
func (m *Middleware) tokenAfter(ctx context.Context, sent string) (string, error) {
	if current, ok := m.tokens.Get(); ok && current != sent {
		return current, nil
	}

	raw, err := m.refresher.Refresh(ctx)
	if err != nil {
		if ctx.Err() == nil {
			m.endSession(err)
		}
		return "", err
	}
	return raw, nil
}

// endSession drops all local session state after a failed refresh and broadcasts a forced
// logout.
func (m *Middleware) endSession(err error) {
	log.Warn().Err(err).Str("domain", m.domain).Bool("credential", errors.IsCredentialFailure(err)).
		Msg("refresh after 401 failed, ending session")
	if clearErr := m.sessions.ClearAll(); clearErr != nil {
		log.Err(clearErr).Msg("clearing session records failed")
	}
	m.metrics.IncrementForcedLogouts(string(events.ReasonTokenExpired))
	m.bus.PublishLogout(events.ReasonTokenExpired)
}

// CheckResponse maps status codes callers must act on to the error taxonomy.
func CheckResponse(resp *http.Response) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode <= 299:
		return nil
	case resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("[transport] status %d: %w", resp.StatusCode, errors.ErrInsufficientPrivilege)
	}
	return fmt.Errorf("[transport] status %d: %w", resp.StatusCode, errors.ErrUnexpectedStatus)
}

func retried(ctx context.Context) bool {
	v, _ := ctx.Value(retriedKey{}).(bool)
	return v
}

// replayable makes sure the body of req can be sent twice.
func replayable(req *http.Request) (*http.Request, error) {
	if req.Body == nil || req.Body == http.NoBody || req.GetBody != nil {
		return req, nil
	}
	data, err := io.ReadAll(req.Body)
	_ = req.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("[transport.RoundTrip] buffering body: %w", err)
	}

	r := req.Clone(req.Context())
	r.Body = io.NopCloser(bytes.NewReader(data))
	r.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}
	return r, nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
	_ = resp.Body.Close()
}
