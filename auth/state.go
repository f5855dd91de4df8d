package auth

import "github.com/jrsteele09/alumni-session/sessions"

// State is the lifecycle position of one tab's session.
type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateUnauthenticated
	StateUserActive
	StateAdminActive
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateUnauthenticated:
		return "unauthenticated"
	case StateUserActive:
		return "user-active"
	case StateAdminActive:
		return "admin-active"
	case StateExpired:
		return "expired"
	}
	return "unknown"
}

// Active reports whether a persona is signed in.
func (s State) Active() bool {
	return s == StateUserActive || s == StateAdminActive
}

func stateFor(sess sessions.Session) State {
	switch sess.Type {
	case sessions.PersonaUser:
		return StateUserActive
	case sessions.PersonaAdmin:
		return StateAdminActive
	}
	return StateUnauthenticated
}

// Snapshot is a point-in-time view of the controller. Refreshing is true while a token
// refresh is outstanding, whatever the state.
type Snapshot struct {
	State      State
	Refreshing bool
	Session    sessions.Session
}
