package config

import "time"

type Config interface {
	EnvConfig
	BackendConfig
	SessionConfig
}

type EnvConfig interface {
	GetAppName() string
	GetEnv() string
	GetLogLevel() string
	GetDataFolder() string
	GetDevIDPPort() string
}

// BackendConfig locates the identity backend and the two API domains the
// HTTP middleware is instantiated for.
type BackendConfig interface {
	GetIdentityBaseURL() string
	GetPrimaryAPIBaseURL() string
	GetAdminAPIBaseURL() string
	GetRequestTimeout() time.Duration
	GetRefreshCookieName() string
}

type SessionConfig interface {
	GetCheckInterval() time.Duration
	GetRefreshThreshold() time.Duration
}

type mainConfig struct {
	EnvVars
	Backend
	Session
}

// New returns a Config driven by environment variables only.
func New() Config {
	return fromFile(&File{})
}

func fromFile(f *File) Config {
	return mainConfig{
		EnvVars: EnvVars{file: f},
		Backend: Backend{file: f},
		Session: Session{file: f},
	}
}
