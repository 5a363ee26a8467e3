// Package storage defines persistence contracts for scenes and tokens.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/louisbranch/tablemap/internal/services/tablemap/domain"
)

var (
	// ErrNotFound indicates a requested scene or token is missing.
	ErrNotFound = errors.New("record not found")
	// ErrStaleUpdate indicates the stored version no longer matches the expected one.
	ErrStaleUpdate = errors.New("stale update")
	// ErrAlreadyExists indicates a record with the same id already exists.
	ErrAlreadyExists = errors.New("record already exists")
)

// TokenPatch carries the fields a conditional update may change.
type TokenPatch struct {
	XCell     int
	YCell     int
	UpdatedAt time.Time
}

// SceneStore reads and writes scenes. Only seeding and administration write.
type SceneStore interface {
	FindScene(ctx context.Context, sessionID, sceneID string) (domain.Scene, error)
	PutScene(ctx context.Context, scene domain.Scene) error
}

// TokenStore persists tokens with compare-and-swap updates.
type TokenStore interface {
	FindToken(ctx context.Context, sessionID, tokenID string) (domain.Token, error)
	CreateToken(ctx context.Context, token domain.Token) (domain.Token, error)
	// UpdateToken applies patch and sets version to expectedVersion+1 only if
	// the stored version still equals expectedVersion; otherwise it returns
	// ErrStaleUpdate and changes nothing.
	UpdateToken(ctx context.Context, tokenID string, expectedVersion int64, patch TokenPatch) (domain.Token, error)
	ListTokens(ctx context.Context, sessionID, sceneID string) ([]domain.Token, error)
}

// Store is the full persistence surface used by the token service.
type Store interface {
	SceneStore
	TokenStore
	Close() error
}
