package config

import "time"

const (
	checkIntervalVar    = "SESSION_CHECK_INTERVAL"
	refreshThresholdVar = "REFRESH_THRESHOLD"
)

type Session struct {
	file *File
}

var _ SessionConfig = Session{}

func (s Session) GetCheckInterval() time.Duration {
	return lookupDuration(checkIntervalVar, s.file.Session.CheckInterval, 30*time.Second)
}

// GetRefreshThreshold is how close to expiry a cached token may get before the
// periodic check refreshes it.
func (s Session) GetRefreshThreshold() time.Duration {
	return lookupDuration(refreshThresholdVar, s.file.Session.RefreshThreshold, 5*time.Minute)
}
