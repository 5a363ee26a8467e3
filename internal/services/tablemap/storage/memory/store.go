// Package memory provides an in-process storage implementation.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/louisbranch/tablemap/internal/services/tablemap/domain"
	"github.com/louisbranch/tablemap/internal/services/tablemap/storage"
)

// Store keeps scenes and tokens in mutex-guarded maps.
type Store struct {
	mu     sync.Mutex
	scenes map[string]domain.Scene
	tokens map[string]domain.Token
}

// New returns an empty store.
func New() *Store {
	return &Store{
		scenes: make(map[string]domain.Scene),
		tokens: make(map[string]domain.Token),
	}
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}

// PutScene inserts or replaces a scene.
func (s *Store) PutScene(ctx context.Context, scene domain.Scene) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := scene.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.scenes[scene.ID] = scene
	s.mu.Unlock()
	return nil
}

// FindScene returns the scene when it belongs to sessionID.
func (s *Store) FindScene(ctx context.Context, sessionID, sceneID string) (domain.Scene, error) {
	if err := ctx.Err(); err != nil {
		return domain.Scene{}, err
	}
	s.mu.Lock()
	scene, ok := s.scenes[strings.TrimSpace(sceneID)]
	s.mu.Unlock()
	if !ok || scene.SessionID != sessionID {
		return domain.Scene{}, storage.ErrNotFound
	}
	return scene, nil
}

// FindToken returns the token when it belongs to sessionID.
func (s *Store) FindToken(ctx context.Context, sessionID, tokenID string) (domain.Token, error) {
	if err := ctx.Err(); err != nil {
		return domain.Token{}, err
	}
	s.mu.Lock()
	token, ok := s.tokens[strings.TrimSpace(tokenID)]
	s.mu.Unlock()
	if !ok || token.SessionID != sessionID {
		return domain.Token{}, storage.ErrNotFound
	}
	return copyToken(token), nil
}

// CreateToken inserts a new token.
func (s *Store) CreateToken(ctx context.Context, token domain.Token) (domain.Token, error) {
	if err := ctx.Err(); err != nil {
		return domain.Token{}, err
	}
	if strings.TrimSpace(token.ID) == "" {
		return domain.Token{}, fmt.Errorf("token id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tokens[token.ID]; exists {
		return domain.Token{}, storage.ErrAlreadyExists
	}
	stored := copyToken(token)
	s.tokens[token.ID] = stored
	return copyToken(stored), nil
}

// UpdateToken performs the compare-and-swap under the store lock.
func (s *Store) UpdateToken(ctx context.Context, tokenID string, expectedVersion int64, patch storage.TokenPatch) (domain.Token, error) {
	if err := ctx.Err(); err != nil {
		return domain.Token{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	token, ok := s.tokens[tokenID]
	if !ok {
		return domain.Token{}, storage.ErrNotFound
	}
	if token.Version != expectedVersion {
		return domain.Token{}, storage.ErrStaleUpdate
	}
	token.XCell = patch.XCell
	token.YCell = patch.YCell
	token.UpdatedAt = patch.UpdatedAt.UTC()
	token.Version = expectedVersion + 1
	s.tokens[tokenID] = token
	return copyToken(token), nil
}

// ListTokens returns the scene's tokens ordered by creation time.
func (s *Store) ListTokens(ctx context.Context, sessionID, sceneID string) ([]domain.Token, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	tokens := make([]domain.Token, 0)
	for _, token := range s.tokens {
		if token.SessionID == sessionID && token.SceneID == sceneID {
			tokens = append(tokens, copyToken(token))
		}
	}
	s.mu.Unlock()
	sort.Slice(tokens, func(i, j int) bool {
		if tokens[i].CreatedAt.Equal(tokens[j].CreatedAt) {
			return tokens[i].ID < tokens[j].ID
		}
		return tokens[i].CreatedAt.Before(tokens[j].CreatedAt)
	})
	return tokens, nil
}

func copyToken(token domain.Token) domain.Token {
	if token.OwnerUserID != nil {
		owner := *token.OwnerUserID
		token.OwnerUserID = &owner
	}
	return token
}

var _ storage.Store = (*Store)(nil)
