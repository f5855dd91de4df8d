package gateway

import (
	"fmt"

	"github.com/jrsteele09/alumni-session/sessions"
	"golang.org/x/oauth2"
)

// Identity backend routes.
const (
	RouteLogin      = "/auth/login"
	RouteRefresh    = "/auth/refresh"
	RouteLogout     = "/auth/logout"
	RouteAdminLogin = "/admin/login"
)

type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type AdminCredentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Result is a freshly issued access token plus the persona fields the backend returned
// with it. At most one of User and Admin is set.
type Result struct {
	Token *oauth2.Token
	User  *sessions.User
	Admin *sessions.Admin
}

// TokenResponse is the JSON body of login, admin-login and refresh responses.
type TokenResponse struct {
	AccessToken string `json:"accessToken"`
	TokenType   string `json:"tokenType,omitempty"`
	ExpiresIn   int    `json:"expiresIn,omitempty"`

	UserID      string             `json:"userId,omitempty"`
	AdminID     string             `json:"adminId,omitempty"`
	Email       string             `json:"email,omitempty"`
	DisplayName string             `json:"displayName,omitempty"`
	Role        sessions.AdminRole `json:"role,omitempty"`
	Active      *bool              `json:"active,omitempty"`
}

// StatusError carries the HTTP status behind a taxonomy error.
type StatusError struct {
	Op   string
	Code int
	Err  error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("[gateway.%s] status %d: %v", e.Op, e.Code, e.Err)
}

func (e *StatusError) Unwrap() error {
	return e.Err
}
