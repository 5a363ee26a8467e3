package protocol

import (
	"strings"

	"github.com/louisbranch/tablemap/internal/services/tablemap/domain"
)

// CreateTokenPayload is the body of token.create.
type CreateTokenPayload struct {
	SceneID     string  `json:"sceneId"`
	Name        string  `json:"name"`
	XCell       int     `json:"xCell"`
	YCell       int     `json:"yCell"`
	Sprite      string  `json:"sprite,omitempty"`
	OwnerUserID *string `json:"ownerUserId,omitempty"`
	Visibility  string  `json:"visibility,omitempty"`
}

// Validate applies the checks a schema cannot express.
func (p CreateTokenPayload) Validate() error {
	if strings.TrimSpace(p.SceneID) == "" {
		return fieldError("sceneId", "sceneId is required")
	}
	if strings.TrimSpace(p.Name) == "" {
		return fieldError("name", "name is required")
	}
	if p.XCell < 0 {
		return fieldError("xCell", "xCell must be a non-negative integer")
	}
	if p.YCell < 0 {
		return fieldError("yCell", "yCell must be a non-negative integer")
	}
	if _, err := domain.ParseVisibility(p.Visibility); err != nil {
		return err
	}
	return nil
}

// MoveTokenPayload is the body of token.move.
// A nil Version skips the caller-side staleness check.
type MoveTokenPayload struct {
	TokenID string `json:"tokenId"`
	XCell   int    `json:"xCell"`
	YCell   int    `json:"yCell"`
	Version *int64 `json:"version,omitempty"`
}

// Validate applies the checks a schema cannot express.
func (p MoveTokenPayload) Validate() error {
	if strings.TrimSpace(p.TokenID) == "" {
		return fieldError("tokenId", "tokenId is required")
	}
	if p.Version != nil && *p.Version < 0 {
		return fieldError("version", "version must be a non-negative integer")
	}
	return nil
}

// SceneSnapshotPayload is the body of scene.snapshot.
type SceneSnapshotPayload struct {
	SceneID string `json:"sceneId"`
}

// Validate applies the checks a schema cannot express.
func (p SceneSnapshotPayload) Validate() error {
	if strings.TrimSpace(p.SceneID) == "" {
		return fieldError("sceneId", "sceneId is required")
	}
	return nil
}

// SceneSnapshot answers scene.snapshot.
type SceneSnapshot struct {
	Scene  domain.Scene   `json:"scene"`
	Tokens []domain.Token `json:"tokens"`
}

// AuthPayload is the body of session.auth.
type AuthPayload struct {
	Token string `json:"token"`
}

// Validate applies the checks a schema cannot express.
func (p AuthPayload) Validate() error {
	if strings.TrimSpace(p.Token) == "" {
		return fieldError("token", "token is required")
	}
	return nil
}

// AuthResult answers session.auth.
type AuthResult struct {
	UserID    string      `json:"userId,omitempty"`
	SessionID string      `json:"sessionId,omitempty"`
	Role      domain.Role `json:"role"`
}
