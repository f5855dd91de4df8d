package auth

import "github.com/rs/zerolog/log"

// Notice is a user-facing message raised by the session lifecycle.
type Notice struct {
	Title   string
	Message string
}

var sessionExpiredNotice = Notice{
	Title:   "Session expired",
	Message: "Your session has expired. Please sign in again.",
}

// Notifier shows notices to the user.
type Notifier interface {
	Notify(n Notice)
}

// LogNotifier writes notices to the global logger.
type LogNotifier struct{}

func (LogNotifier) Notify(n Notice) {
	log.Warn().Str("title", n.Title).Msg(n.Message)
}
