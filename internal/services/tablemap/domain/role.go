package domain

import "strings"

// Role is the privilege a connection holds within its session.
type Role string

const (
	// RoleHost runs the session and may mutate any token.
	RoleHost Role = "HOST"
	// RolePlayer may move only the tokens they own.
	RolePlayer Role = "PLAYER"
	// RoleGuest is attached to unauthenticated connections.
	RoleGuest Role = "GUEST"
)

// ParseRole normalizes a role claim. Unknown values degrade to RoleGuest.
func ParseRole(value string) Role {
	switch Role(strings.ToUpper(strings.TrimSpace(value))) {
	case RoleHost:
		return RoleHost
	case RolePlayer:
		return RolePlayer
	default:
		return RoleGuest
	}
}

// IsHost reports whether the role carries host privileges.
func (r Role) IsHost() bool {
	return r == RoleHost
}
