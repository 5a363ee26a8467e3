package domain

import (
	"strings"
	"time"

	apperrors "github.com/louisbranch/tablemap/internal/platform/errors"
)

// Visibility controls which participants can see a token.
type Visibility string

const (
	// VisibilityVisible tokens are shown to every participant.
	VisibilityVisible Visibility = "visible"
	// VisibilityHidden tokens are shown to hosts only.
	VisibilityHidden Visibility = "hidden"
)

// ParseVisibility accepts an empty value as VisibilityVisible.
func ParseVisibility(value string) (Visibility, error) {
	switch Visibility(strings.ToLower(strings.TrimSpace(value))) {
	case "", VisibilityVisible:
		return VisibilityVisible, nil
	case VisibilityHidden:
		return VisibilityHidden, nil
	default:
		return "", fieldError("visibility", "visibility must be visible or hidden")
	}
}

// Token is a piece placed on a scene grid.
//
// Version starts at 0 and increases by exactly one for every accepted mutation.
type Token struct {
	ID          string     `json:"id"`
	SceneID     string     `json:"sceneId"`
	SessionID   string     `json:"sessionId"`
	OwnerUserID *string    `json:"ownerUserId"`
	Name        string     `json:"name"`
	XCell       int        `json:"xCell"`
	YCell       int        `json:"yCell"`
	Sprite      string     `json:"sprite,omitempty"`
	Visibility  Visibility `json:"visibility"`
	Version     int64      `json:"version"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// OwnedBy reports whether userID owns the token. Unowned tokens belong to nobody.
func (t Token) OwnedBy(userID string) bool {
	userID = strings.TrimSpace(userID)
	if userID == "" || t.OwnerUserID == nil {
		return false
	}
	return *t.OwnerUserID == userID
}

// VisibleTo reports whether a participant with role may observe the token.
func (t Token) VisibleTo(role Role) bool {
	return t.Visibility != VisibilityHidden || role.IsHost()
}

// IsNewerThan reports whether t should replace other in a replica.
// A higher version wins; equal versions fall back to the later UpdatedAt.
func (t Token) IsNewerThan(other Token) bool {
	if t.Version != other.Version {
		return t.Version > other.Version
	}
	return t.UpdatedAt.After(other.UpdatedAt)
}

// CheckPlacement verifies the token's cell lies on scene.
func (t Token) CheckPlacement(scene Scene) error {
	if t.SceneID != scene.ID {
		return apperrors.WithMetadata(apperrors.CodeValidation, "token does not belong to scene", map[string]string{"field": "sceneId"})
	}
	return scene.Contains(t.XCell, t.YCell)
}

// StringPtr returns nil for blank values.
func StringPtr(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}
