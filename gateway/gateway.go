package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"github.com/jrsteele09/alumni-session/internal/config"
	"github.com/jrsteele09/alumni-session/internal/errors"
	"github.com/jrsteele09/alumni-session/internal/utils"
	"github.com/jrsteele09/alumni-session/sessions"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/oauth2"
)

// AuthGateway is the network boundary to the identity backend. It owns no session state.
type AuthGateway interface {
	Login(ctx context.Context, creds Credentials) (*Result, error)
	AdminLogin(ctx context.Context, creds AdminCredentials) (*Result, error)
	Refresh(ctx context.Context) (*Result, error)
	Logout(ctx context.Context, accessToken string) error
	HasRefreshCredential() bool
}

// Gateway talks JSON over HTTP to the identity backend. The refresh credential is an
// HttpOnly cookie kept in the client's cookie jar and never surfaced to callers.
type Gateway struct {
	identityURL *url.URL
	client      *http.Client
	cookieName  string
	nowFunc     func() time.Time
	tracer      trace.Tracer
}

var _ AuthGateway = (*Gateway)(nil)

type Option func(*Gateway)

// WithHTTPClient replaces the default client. A client without a cookie jar gets one.
func WithHTTPClient(c *http.Client) Option {
	return func(g *Gateway) {
		g.client = c
	}
}

func WithNowFunc(now func() time.Time) Option {
	return func(g *Gateway) {
		g.nowFunc = now
	}
}

func New(cfg config.BackendConfig, options ...Option) (*Gateway, error) {
	identityURL, err := url.Parse(cfg.GetIdentityBaseURL())
	if err != nil {
		return nil, fmt.Errorf("[gateway.New] identity base url: %w", err)
	}

	g := &Gateway{
		identityURL: identityURL,
		cookieName:  cfg.GetRefreshCookieName(),
		nowFunc:     time.Now,
		tracer:      otel.Tracer("github.com/jrsteele09/alumni-session/gateway"),
	}
	for _, opt := range options {
		opt(g)
	}

	if g.client == nil {
		g.client = &http.Client{Timeout: cfg.GetRequestTimeout()}
	}
	if g.client.Jar == nil {
		jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		if err != nil {
			return nil, fmt.Errorf("[gateway.New] cookie jar: %w", err)
		}
		g.client.Jar = jar
	}
	return g, nil
}

func (g *Gateway) Login(ctx context.Context, creds Credentials) (*Result, error) {
	ctx, span := g.tracer.Start(ctx, "gateway.Login")
	defer span.End()

	resp, err := g.post(ctx, g.identityURL.JoinPath(RouteLogin), creds, "")
	if err != nil {
		return nil, traced(span, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		res, err := g.decodeUser(resp.Body)
		return res, traced(span, err)
	case http.StatusUnauthorized, http.StatusBadRequest:
		return nil, traced(span, &StatusError{Op: "Login", Code: resp.StatusCode, Err: errors.ErrInvalidCredentials})
	case http.StatusForbidden:
		return nil, traced(span, &StatusError{Op: "Login", Code: resp.StatusCode, Err: errors.ErrInsufficientPrivilege})
	}
	return nil, traced(span, &StatusError{Op: "Login", Code: resp.StatusCode, Err: errors.ErrUnexpectedStatus})
}

func (g *Gateway) AdminLogin(ctx context.Context, creds AdminCredentials) (*Result, error) {
	ctx, span := g.tracer.Start(ctx, "gateway.AdminLogin")
	defer span.End()

	resp, err := g.post(ctx, g.identityURL.JoinPath(RouteAdminLogin), creds, "")
	if err != nil {
		return nil, traced(span, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		res, err := g.decodeAdmin(resp.Body)
		return res, traced(span, err)
	case http.StatusUnauthorized, http.StatusBadRequest:
		return nil, traced(span, &StatusError{Op: "AdminLogin", Code: resp.StatusCode, Err: errors.ErrInvalidCredentials})
	case http.StatusForbidden:
		return nil, traced(span, &StatusError{Op: "AdminLogin", Code: resp.StatusCode, Err: errors.ErrInsufficientPrivilege})
	}
	return nil, traced(span, &StatusError{Op: "AdminLogin", Code: resp.StatusCode, Err: errors.ErrUnexpectedStatus})
}

// Refresh exchanges the refresh cookie for a new access token. The response describes
// whichever persona the refresh credential belongs to.
func (g *Gateway) Refresh(ctx context.Context) (*Result, error) {
	ctx, span := g.tracer.Start(ctx, "gateway.Refresh")
	defer span.End()

	resp, err := g.post(ctx, g.identityURL.JoinPath(RouteRefresh), nil, "")
	if err != nil {
		return nil, traced(span, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, err := readTokenResponse(resp.Body)
		if err != nil {
			return nil, traced(span, err)
		}
		if body.AdminID != "" {
			res, err := g.adminResult(body)
			return res, traced(span, err)
		}
		return g.userResult(body), nil
	case http.StatusUnauthorized:
		return nil, traced(span, &StatusError{Op: "Refresh", Code: resp.StatusCode, Err: errors.ErrRefreshCredentialExpired})
	case http.StatusForbidden:
		return nil, traced(span, &StatusError{Op: "Refresh", Code: resp.StatusCode, Err: errors.ErrRefreshCredentialInvalid})
	}
	return nil, traced(span, &StatusError{Op: "Refresh", Code: resp.StatusCode, Err: errors.ErrUnexpectedStatus})
}

// Logout asks the backend to revoke the refresh credential. It is best effort: the local
// copy of the credential is dropped whatever the outcome and callers ignore the error.
func (g *Gateway) Logout(ctx context.Context, accessToken string) error {
	ctx, span := g.tracer.Start(ctx, "gateway.Logout")
	defer span.End()
	defer g.forgetRefreshCredential()

	resp, err := g.post(ctx, g.identityURL.JoinPath(RouteLogout), nil, accessToken)
	if err != nil {
		return traced(span, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return traced(span, &StatusError{Op: "Logout", Code: resp.StatusCode, Err: errors.ErrUnexpectedStatus})
	}
	return nil
}

// HasRefreshCredential reports whether the jar holds a refresh cookie for the identity backend.
func (g *Gateway) HasRefreshCredential() bool {
	for _, c := range g.client.Jar.Cookies(g.identityURL.JoinPath(RouteRefresh)) {
		if c.Name == g.cookieName && c.Value != "" {
			return true
		}
	}
	return false
}

func (g *Gateway) forgetRefreshCredential() {
	u := g.identityURL.JoinPath(RouteRefresh)
	g.client.Jar.SetCookies(u, []*http.Cookie{
		{Name: g.cookieName, Path: "/auth", MaxAge: -1},
		{Name: g.cookieName, Path: "/", MaxAge: -1},
	})
}

func (g *Gateway) post(ctx context.Context, u *url.URL, body any, bearer string) (*http.Response, error) {
	var reader io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("[gateway] marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), reader)
	if err != nil {
		return nil, fmt.Errorf("[gateway] build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		(&oauth2.Token{AccessToken: bearer}).SetAuthHeader(req)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("[gateway] %s %s: %w: %v", req.Method, u.Path, errors.ErrNetworkError, err)
	}
	return resp, nil
}

func readTokenResponse(r io.Reader) (*TokenResponse, error) {
	var body TokenResponse
	if err := json.NewDecoder(r).Decode(&body); err != nil {
		return nil, fmt.Errorf("[gateway] decode response: %w: %v", errors.ErrUnexpectedStatus, err)
	}
	if body.AccessToken == "" {
		return nil, fmt.Errorf("[gateway] response without access token: %w", errors.ErrMalformedToken)
	}
	return &body, nil
}

func (g *Gateway) decodeUser(r io.Reader) (*Result, error) {
	body, err := readTokenResponse(r)
	if err != nil {
		return nil, err
	}
	return g.userResult(body), nil
}

func (g *Gateway) decodeAdmin(r io.Reader) (*Result, error) {
	body, err := readTokenResponse(r)
	if err != nil {
		return nil, err
	}
	return g.adminResult(body)
}

func (g *Gateway) userResult(body *TokenResponse) *Result {
	res := &Result{Token: g.oauthToken(body)}
	if body.UserID != "" {
		res.User = &sessions.User{
			ID:          body.UserID,
			Email:       body.Email,
			DisplayName: body.DisplayName,
		}
	}
	return res
}

func (g *Gateway) adminResult(body *TokenResponse) (*Result, error) {
	if body.AdminID == "" {
		return nil, fmt.Errorf("[gateway] admin response without admin id: %w", errors.ErrUnexpectedStatus)
	}
	if !utils.ValueOr(body.Active, true) {
		return nil, fmt.Errorf("[gateway] admin account inactive: %w", errors.ErrInsufficientPrivilege)
	}
	if !body.Role.Valid() {
		return nil, fmt.Errorf("[gateway] unknown admin role %q: %w", body.Role, errors.ErrInsufficientPrivilege)
	}
	return &Result{
		Token: g.oauthToken(body),
		Admin: &sessions.Admin{
			ID:          body.AdminID,
			Email:       body.Email,
			DisplayName: body.DisplayName,
			Role:        body.Role,
			Active:      true,
		},
	}, nil
}

func (g *Gateway) oauthToken(body *TokenResponse) *oauth2.Token {
	t := &oauth2.Token{
		AccessToken: body.AccessToken,
		TokenType:   body.TokenType,
	}
	if body.ExpiresIn > 0 {
		t.Expiry = g.nowFunc().Add(time.Duration(body.ExpiresIn) * time.Second)
	}
	return t
}

func traced(span trace.Span, err error) error {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}
