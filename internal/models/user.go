package models

// Role represents the access level of a replay user
type Role string

const (
	RoleOperator Role = "operator"
	RoleViewer   Role = "viewer"
)

// Actions checked by HasPermission
const (
	ActionViewFleet       = "view_fleet"
	ActionControlPlayback = "control_playback"
)

// Credential is a configured login for the replay service
type Credential struct {
	Username     string `json:"username"`
	PasswordHash string `json:"-"`
	Role         Role   `json:"role"`
}

// LoginRequest represents a login request
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse represents a successful login response
type LoginResponse struct {
	Token     string `json:"token"`
	Username  string `json:"username"`
	Role      Role   `json:"role"`
	ExpiresAt int64  `json:"expires_at"`
}

// Claims represents JWT claims
type Claims struct {
	Username string `json:"username"`
	Role     Role   `json:"role"`
	Exp      int64  `json:"exp"`
}

// IsValidRole checks if a role is valid
func IsValidRole(role Role) bool {
	switch role {
	case RoleOperator, RoleViewer:
		return true
	default:
		return false
	}
}

// HasPermission checks if a role may perform an action
func (r Role) HasPermission(action string) bool {
	switch r {
	case RoleOperator:
		return action == ActionViewFleet || action == ActionControlPlayback
	case RoleViewer:
		return action == ActionViewFleet
	default:
		return false
	}
}
