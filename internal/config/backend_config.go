package config

import "time"

const (
	identityBaseURLVar   = "IDENTITY_BASE_URL"
	primaryAPIBaseURLVar = "PRIMARY_API_BASE_URL"
	adminAPIBaseURLVar   = "ADMIN_API_BASE_URL"
	requestTimeoutVar    = "REQUEST_TIMEOUT"
	refreshCookieVar     = "REFRESH_COOKIE_NAME"
)

type Backend struct {
	file *File
}

var _ BackendConfig = Backend{}

func (b Backend) GetIdentityBaseURL() string {
	return lookup(identityBaseURLVar, b.file.Backends.Identity, "http://localhost:8081")
}

// GetPrimaryAPIBaseURL defaults to the identity backend, which also serves the API in development.
func (b Backend) GetPrimaryAPIBaseURL() string {
	return lookup(primaryAPIBaseURLVar, b.file.Backends.Primary, b.GetIdentityBaseURL())
}

func (b Backend) GetAdminAPIBaseURL() string {
	return lookup(adminAPIBaseURLVar, b.file.Backends.Admin, b.GetIdentityBaseURL())
}

func (b Backend) GetRequestTimeout() time.Duration {
	return lookupDuration(requestTimeoutVar, b.file.Backends.RequestTimeout, 15*time.Second)
}

func (b Backend) GetRefreshCookieName() string {
	return lookup(refreshCookieVar, b.file.Backends.RefreshCookie, "refresh_token")
}
