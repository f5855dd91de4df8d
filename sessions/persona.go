package sessions

// PersonaType names which of the two mutually exclusive identities is signed in.
type PersonaType string

const (
	PersonaNone  PersonaType = ""
	PersonaUser  PersonaType = "user"
	PersonaAdmin PersonaType = "admin"
)

// AdminRole is the privilege level of an administrator.
type AdminRole string

const (
	RoleSuperAdmin AdminRole = "super_admin" // Can manage other administrators
	RoleAdmin      AdminRole = "admin"       // Can manage alumni, events and posts
	RoleModerator  AdminRole = "moderator"   // Can review posts and photos
)

func (r AdminRole) Valid() bool {
	switch r {
	case RoleSuperAdmin, RoleAdmin, RoleModerator:
		return true
	}
	return false
}

// User is the persisted record of an ordinary alumni member. It carries no token material.
type User struct {
	ID          string `json:"id"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
}

// Admin is the persisted record of an administrator. It carries no token material.
type Admin struct {
	ID          string    `json:"id"`
	Email       string    `json:"email,omitempty"`
	DisplayName string    `json:"displayName,omitempty"`
	Role        AdminRole `json:"role"`
	Active      bool      `json:"active"`
}

// Session is the active persona as read from storage. Exactly one of User and Admin is set
// when Type is not PersonaNone.
type Session struct {
	Type  PersonaType
	User  *User
	Admin *Admin
}

func (s Session) Authenticated() bool {
	return s.Type != PersonaNone
}

// SubjectID returns the identity key of whichever persona is active.
func (s Session) SubjectID() string {
	switch {
	case s.User != nil:
		return s.User.ID
	case s.Admin != nil:
		return s.Admin.ID
	}
	return ""
}
