package devidp

import (
	"encoding/json"
	"net/http"

	"github.com/jrsteele09/alumni-session/gateway"
	"github.com/jrsteele09/alumni-session/internal/errors"
	"github.com/jrsteele09/alumni-session/internal/utils"
	"github.com/rs/zerolog/log"
)

type errorResponse struct {
	Error       string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

// MeResponse describes the bearer of the access token.
type MeResponse struct {
	ID          string `json:"id"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
	Persona     string `json:"persona"`
	Role        string `json:"role,omitempty"`
}

type OverviewResponse struct {
	Accounts           int `json:"accounts"`
	RefreshCredentials int `json:"refreshCredentials"`
}

// LoginHandler authenticates members by username and password.
func (s *Server) LoginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var creds gateway.Credentials
		if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "Malformed body")
			return
		}

		account, err := s.accounts.GetByLogin(creds.Username)
		if err != nil || account.Admin || !CheckPasswordHash(creds.Password, account.PasswordHash) {
			writeError(w, http.StatusUnauthorized, "invalid_grant", "Invalid username or password")
			return
		}
		if account.Blocked {
			writeError(w, http.StatusForbidden, "access_denied", "Account blocked")
			return
		}
		s.issue(w, r, account)
	}
}

// AdminLoginHandler authenticates administrators by email and password.
func (s *Server) AdminLoginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var creds gateway.AdminCredentials
		if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "Malformed body")
			return
		}

		account, err := s.accounts.GetByLogin(creds.Email)
		if err != nil || !CheckPasswordHash(creds.Password, account.PasswordHash) {
			writeError(w, http.StatusUnauthorized, "invalid_grant", "Invalid email or password")
			return
		}
		if !account.Admin || !account.Active {
			writeError(w, http.StatusForbidden, "access_denied", "Not an active administrator")
			return
		}
		s.issue(w, r, account)
	}
}

// RefreshHandler exchanges the refresh cookie for a new access token and rotates the cookie.
func (s *Server) RefreshHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.refreshCalls.Add(1)

		cookie, err := r.Cookie(s.cookieName)
		if err != nil || cookie.Value == "" {
			writeError(w, http.StatusUnauthorized, "invalid_grant", "Missing refresh credential")
			return
		}

		rc, err := s.refresh.Get(cookie.Value)
		switch {
		case errors.Is(err, errors.ErrRefreshCredentialExpired):
			s.clearCookie(w)
			writeError(w, http.StatusUnauthorized, "invalid_grant", "Refresh credential expired")
			return
		case err != nil:
			s.clearCookie(w)
			writeError(w, http.StatusForbidden, "invalid_grant", "Refresh credential invalid")
			return
		}

		account, err := s.accounts.GetByID(rc.AccountID)
		if err != nil || account.Blocked || (account.Admin && !account.Active) {
			s.refresh.Delete(rc.Token)
			s.clearCookie(w)
			writeError(w, http.StatusForbidden, "access_denied", "Account no longer allowed")
			return
		}
		s.issue(w, r, account)
	}
}

// LogoutHandler revokes the presented access token and refresh cookie. It always succeeds.
func (s *Server) LogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if token, ok := bearerToken(r); ok {
			if claims, err := s.verifier.Verify(r.Context(), token); err == nil {
				s.revoked.Add(claims.ID, claims.ExpiresAt.Time)
			}
		}
		if cookie, err := r.Cookie(s.cookieName); err == nil {
			s.refresh.Delete(cookie.Value)
		}
		s.clearCookie(w)
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) JWKSHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jwks, err := s.signer.JWKS()
		if err != nil {
			logError(r.Method, r.URL.Path, err)
			writeError(w, http.StatusInternalServerError, "server_error", "JWKS unavailable")
			return
		}
		writeJSON(w, http.StatusOK, jwks)
	}
}

func (s *Server) MeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims := claimsFromContext(r.Context())
		writeJSON(w, http.StatusOK, MeResponse{
			ID:          claims.Subject,
			Email:       claims.Email,
			DisplayName: claims.Name,
			Persona:     string(claims.Persona),
			Role:        string(claims.Role),
		})
	}
}

func (s *Server) AdminOverviewHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accounts, err := s.accounts.List(0, 0)
		if err != nil {
			logError(r.Method, r.URL.Path, err)
			writeError(w, http.StatusInternalServerError, "server_error", "Listing accounts failed")
			return
		}
		writeJSON(w, http.StatusOK, OverviewResponse{
			Accounts:           len(accounts),
			RefreshCredentials: s.refresh.Len(),
		})
	}
}

func (s *Server) issue(w http.ResponseWriter, r *http.Request, account *Account) {
	access, ttl, err := s.issuer.AccessToken(account)
	if err != nil {
		logError(r.Method, r.URL.Path, err)
		writeError(w, http.StatusInternalServerError, "server_error", "Token issue failed")
		return
	}
	refreshToken, err := s.refresh.Create(account.ID)
	if err != nil {
		logError(r.Method, r.URL.Path, err)
		writeError(w, http.StatusInternalServerError, "server_error", "Token issue failed")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     s.cookieName,
		Value:    refreshToken,
		Path:     refreshCookiePath,
		MaxAge:   int(s.refreshTTL.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})

	resp := gateway.TokenResponse{
		AccessToken: access,
		TokenType:   "Bearer",
		ExpiresIn:   int(ttl.Seconds()),
		Email:       account.Email,
		DisplayName: account.DisplayName,
	}
	if account.Admin {
		resp.AdminID = account.ID
		resp.Role = account.Role
		resp.Active = utils.Ptr(account.Active)
	} else {
		resp.UserID = account.ID
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) clearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.cookieName,
		Value:    "",
		Path:     refreshCookiePath,
		MaxAge:   -1,
		HttpOnly: true,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Err(err).Msg("writing response failed")
	}
}

func writeError(w http.ResponseWriter, status int, code, description string) {
	writeJSON(w, status, errorResponse{Error: code, Description: description})
}
