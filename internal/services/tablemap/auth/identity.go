// Package auth resolves the immutable identity attached to each connection.
package auth

import (
	"strings"

	"github.com/louisbranch/tablemap/internal/services/tablemap/domain"
)

// Identity is the read-only connection context handed to command handlers.
// It is replaced wholesale on re-authentication and never patched.
type Identity struct {
	ConnectionID string
	UserID       string
	SessionID    string
	Role         domain.Role
}

// Guest returns the reduced-privilege identity for unauthenticated connections.
func Guest(connectionID string) Identity {
	return Identity{
		ConnectionID: connectionID,
		Role:         domain.RoleGuest,
	}
}

// FromClaims builds the identity for a verified credential.
func FromClaims(connectionID string, claims Claims) Identity {
	return Identity{
		ConnectionID: connectionID,
		UserID:       strings.TrimSpace(claims.UserID),
		SessionID:    strings.TrimSpace(claims.SessionID),
		Role:         claims.Role,
	}
}

// IsGuest reports whether the connection never authenticated.
func (i Identity) IsGuest() bool {
	return i.UserID == ""
}

// CacheKey scopes replay protection: the user id when known, else the connection id.
func (i Identity) CacheKey() string {
	if i.UserID != "" {
		return "user:" + i.UserID
	}
	return "conn:" + i.ConnectionID
}
