// Package devidp is an in-process identity backend for development and tests. It speaks the
// same HTTP contract as the production identity service: password logins for members and
// administrators, a rotating refresh cookie, logout, and two bearer-protected API routes.
package devidp

import (
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	defaultIssuer     = "http://localhost:8081"
	defaultAudience   = "alumni-web"
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 7 * 24 * time.Hour
	defaultCookieName = "refresh_token"
	refreshCookiePath = "/auth"
)

type Server struct {
	env        string // Route logging only happens in DEV
	mux        *http.ServeMux
	routes     []string
	issuerURL  string
	audience   string
	accessTTL  time.Duration
	refreshTTL time.Duration
	cookieName string
	keyPair    *KeyPair
	nowFunc    func() time.Time

	accounts AccountRepo
	signer   *Signer
	issuer   *Issuer
	verifier *Verifier
	refresh  *RefreshCredentials
	revoked  *RevokedTokens

	refreshCalls atomic.Int64
}

type Option func(*Server)

func WithEnv(env string) Option {
	return func(s *Server) {
		s.env = env
	}
}

func WithIssuer(issuer string) Option {
	return func(s *Server) {
		s.issuerURL = issuer
	}
}

func WithAccessTokenTTL(ttl time.Duration) Option {
	return func(s *Server) {
		s.accessTTL = ttl
	}
}

func WithRefreshTTL(ttl time.Duration) Option {
	return func(s *Server) {
		s.refreshTTL = ttl
	}
}

func WithCookieName(name string) Option {
	return func(s *Server) {
		s.cookieName = name
	}
}

// WithKeyPair reuses a signing key instead of generating one.
func WithKeyPair(kp *KeyPair) Option {
	return func(s *Server) {
		s.keyPair = kp
	}
}

func WithNowFunc(now func() time.Time) Option {
	return func(s *Server) {
		s.nowFunc = now
	}
}

func New(accounts AccountRepo, options ...Option) (*Server, error) {
	s := &Server{
		mux:        http.NewServeMux(),
		issuerURL:  defaultIssuer,
		audience:   defaultAudience,
		accessTTL:  defaultAccessTTL,
		refreshTTL: defaultRefreshTTL,
		cookieName: defaultCookieName,
		nowFunc:    time.Now,
		accounts:   accounts,
	}
	for _, opt := range options {
		opt(s)
	}

	if s.keyPair == nil {
		kp, err := GenerateRSAKeyPair(uuid.New().String(), 2048)
		if err != nil {
			return nil, fmt.Errorf("[devidp.New] %w", err)
		}
		s.keyPair = kp
	}

	s.signer = NewSigner(s.keyPair)
	s.issuer = NewIssuer(s.issuerURL, s.audience, s.accessTTL, s.signer, s.nowFunc)
	s.revoked = NewRevokedTokens(s.nowFunc)
	s.verifier = NewVerifier(s.issuerURL, s.audience, s.signer.PublicKey(), s.revoked, s.nowFunc)
	s.refresh = NewRefreshCredentials(s.refreshTTL, s.nowFunc)

	s.initRoutes()
	s.logRoutes()
	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) RegisterRouteHandler(pattern string, handler http.Handler) {
	s.routes = append(s.routes, pattern)
	s.mux.Handle(pattern, handler)
}

func (s *Server) RegisterRouteFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	s.routes = append(s.routes, pattern)
	s.mux.HandleFunc(pattern, handler)
}

// RefreshCalls is the number of refresh requests received.
func (s *Server) RefreshCalls() int64 {
	return s.refreshCalls.Load()
}

// RevokeRefreshCredentials invalidates every outstanding refresh cookie.
func (s *Server) RevokeRefreshCredentials() {
	s.refresh.DeleteAll()
}

func (s *Server) logRoutes() {
	if s.env != "DEV" {
		return
	}
	for _, route := range s.routes {
		parts := strings.SplitN(route, " ", 2)
		if len(parts) > 1 {
			logRoute(parts[0], parts[1])
		} else {
			logRoute("", parts[0])
		}
	}
}

func logRoute(method, path string) {
	color, ok := methodColors[method]
	if !ok {
		color = Gray
	}
	log.Info().Msgf("[%s%-7s%s] %s", color, method, ResetColor, path)
}

func logError(method, path string, err error) {
	color, ok := methodColors[method]
	if !ok {
		color = Gray
	}
	log.Error().Msgf("[%s%-7s%s] %s %s%v%s", color, method, ResetColor, path, Red, err, ResetColor)
}
