// Package storagetest runs the storage contract against any implementation.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/louisbranch/tablemap/internal/services/tablemap/domain"
	"github.com/louisbranch/tablemap/internal/services/tablemap/storage"
)

// Factory opens a fresh, empty store for one subtest.
type Factory func(t *testing.T) storage.Store

var baseTime = time.Date(2026, time.March, 14, 18, 30, 0, 0, time.UTC)

// SeedScene stores a 32x32-cell scene for sessionID.
func SeedScene(t *testing.T, store storage.Store, sessionID, sceneID string) domain.Scene {
	t.Helper()
	scene, err := domain.NewScene(sceneID, sessionID, "Crypt", 32, 1024, 1024)
	if err != nil {
		t.Fatalf("new scene: %v", err)
	}
	if err := store.PutScene(context.Background(), scene); err != nil {
		t.Fatalf("put scene: %v", err)
	}
	return scene
}

// NewToken returns a version 0 token on scene.
func NewToken(id string, scene domain.Scene, owner string) domain.Token {
	return domain.Token{
		ID:          id,
		SceneID:     scene.ID,
		SessionID:   scene.SessionID,
		OwnerUserID: domain.StringPtr(owner),
		Name:        "Scout",
		XCell:       1,
		YCell:       2,
		Visibility:  domain.VisibilityVisible,
		CreatedAt:   baseTime,
		UpdatedAt:   baseTime,
	}
}

// Run exercises every contract guarantee.
func Run(t *testing.T, open Factory) {
	t.Run("FindSceneScopedBySession", func(t *testing.T) {
		store := open(t)
		SeedScene(t, store, "sess-1", "scene-1")

		scene, err := store.FindScene(context.Background(), "sess-1", "scene-1")
		if err != nil {
			t.Fatalf("find scene: %v", err)
		}
		if scene.Columns() != 32 || scene.Rows() != 32 || scene.Name != "Crypt" {
			t.Fatalf("unexpected scene: %+v", scene)
		}
		if _, err := store.FindScene(context.Background(), "sess-2", "scene-1"); !errors.Is(err, storage.ErrNotFound) {
			t.Fatalf("expected ErrNotFound across sessions, got %v", err)
		}
		if _, err := store.FindScene(context.Background(), "sess-1", "missing"); !errors.Is(err, storage.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("PutSceneReplaces", func(t *testing.T) {
		store := open(t)
		scene := SeedScene(t, store, "sess-1", "scene-1")
		renamed, err := scene.WithName("Tomb")
		if err != nil {
			t.Fatalf("rename: %v", err)
		}
		if err := store.PutScene(context.Background(), renamed); err != nil {
			t.Fatalf("put scene: %v", err)
		}
		got, err := store.FindScene(context.Background(), "sess-1", "scene-1")
		if err != nil {
			t.Fatalf("find scene: %v", err)
		}
		if got.Name != "Tomb" {
			t.Fatalf("name = %q, want Tomb", got.Name)
		}
	})

	t.Run("CreateAndFindToken", func(t *testing.T) {
		store := open(t)
		scene := SeedScene(t, store, "sess-1", "scene-1")
		created, err := store.CreateToken(context.Background(), NewToken("tok-1", scene, "user-1"))
		if err != nil {
			t.Fatalf("create token: %v", err)
		}
		if created.Version != 0 || !created.OwnedBy("user-1") {
			t.Fatalf("unexpected token: %+v", created)
		}

		got, err := store.FindToken(context.Background(), "sess-1", "tok-1")
		if err != nil {
			t.Fatalf("find token: %v", err)
		}
		if got.XCell != 1 || got.YCell != 2 || !got.CreatedAt.Equal(baseTime) || got.Visibility != domain.VisibilityVisible {
			t.Fatalf("unexpected token: %+v", got)
		}
		if _, err := store.FindToken(context.Background(), "sess-2", "tok-1"); !errors.Is(err, storage.ErrNotFound) {
			t.Fatalf("expected ErrNotFound across sessions, got %v", err)
		}
		if _, err := store.CreateToken(context.Background(), NewToken("tok-1", scene, "")); !errors.Is(err, storage.ErrAlreadyExists) {
			t.Fatalf("expected ErrAlreadyExists, got %v", err)
		}
	})

	t.Run("UnownedTokenHasNilOwner", func(t *testing.T) {
		store := open(t)
		scene := SeedScene(t, store, "sess-1", "scene-1")
		if _, err := store.CreateToken(context.Background(), NewToken("tok-1", scene, "")); err != nil {
			t.Fatalf("create token: %v", err)
		}
		got, err := store.FindToken(context.Background(), "sess-1", "tok-1")
		if err != nil {
			t.Fatalf("find token: %v", err)
		}
		if got.OwnerUserID != nil {
			t.Fatalf("owner = %q, want nil", *got.OwnerUserID)
		}
	})

	t.Run("UpdateTokenCompareAndSwap", func(t *testing.T) {
		store := open(t)
		scene := SeedScene(t, store, "sess-1", "scene-1")
		if _, err := store.CreateToken(context.Background(), NewToken("tok-1", scene, "")); err != nil {
			t.Fatalf("create token: %v", err)
		}

		later := baseTime.Add(time.Minute)
		updated, err := store.UpdateToken(context.Background(), "tok-1", 0, storage.TokenPatch{XCell: 4, YCell: 5, UpdatedAt: later})
		if err != nil {
			t.Fatalf("update token: %v", err)
		}
		if updated.Version != 1 || updated.XCell != 4 || updated.YCell != 5 || !updated.UpdatedAt.Equal(later) {
			t.Fatalf("unexpected token: %+v", updated)
		}

		_, err = store.UpdateToken(context.Background(), "tok-1", 0, storage.TokenPatch{XCell: 9, YCell: 9, UpdatedAt: later})
		if !errors.Is(err, storage.ErrStaleUpdate) {
			t.Fatalf("expected ErrStaleUpdate, got %v", err)
		}
		got, err := store.FindToken(context.Background(), "sess-1", "tok-1")
		if err != nil {
			t.Fatalf("find token: %v", err)
		}
		if got.Version != 1 || got.XCell != 4 {
			t.Fatalf("stale update must not mutate: %+v", got)
		}

		if _, err := store.UpdateToken(context.Background(), "missing", 0, storage.TokenPatch{}); !errors.Is(err, storage.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("ConcurrentUpdatesHaveOneWinner", func(t *testing.T) {
		store := open(t)
		scene := SeedScene(t, store, "sess-1", "scene-1")
		if _, err := store.CreateToken(context.Background(), NewToken("tok-1", scene, "")); err != nil {
			t.Fatalf("create token: %v", err)
		}

		const writers = 8
		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			winners []int
			stale   int
		)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := store.UpdateToken(context.Background(), "tok-1", 0, storage.TokenPatch{XCell: i, YCell: i, UpdatedAt: baseTime})
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					winners = append(winners, i)
				case errors.Is(err, storage.ErrStaleUpdate):
					stale++
				default:
					t.Errorf("writer %d: %v", i, err)
				}
			}(i)
		}
		wg.Wait()

		if len(winners) != 1 || stale != writers-1 {
			t.Fatalf("winners = %v, stale = %d", winners, stale)
		}
		got, err := store.FindToken(context.Background(), "sess-1", "tok-1")
		if err != nil {
			t.Fatalf("find token: %v", err)
		}
		if got.Version != 1 || got.XCell != winners[0] || got.YCell != winners[0] {
			t.Fatalf("final state %+v does not match winner %d", got, winners[0])
		}
	})

	t.Run("WinnerGetsItsOwnWrite", func(t *testing.T) {
		store := open(t)
		scene := SeedScene(t, store, "sess-1", "scene-1")
		if _, err := store.CreateToken(context.Background(), NewToken("tok-1", scene, "")); err != nil {
			t.Fatalf("create token: %v", err)
		}

		const (
			writers  = 8
			attempts = 60
		)
		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			wins int64
		)
		for w := 0; w < writers; w++ {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				for i := 0; i < attempts; i++ {
					current, err := store.FindToken(context.Background(), "sess-1", "tok-1")
					if err != nil {
						t.Errorf("writer %d: find token: %v", w, err)
						return
					}
					patch := storage.TokenPatch{XCell: w, YCell: i % 32, UpdatedAt: baseTime}
					got, err := store.UpdateToken(context.Background(), "tok-1", current.Version, patch)
					if errors.Is(err, storage.ErrStaleUpdate) {
						continue
					}
					if err != nil {
						t.Errorf("writer %d: update token: %v", w, err)
						return
					}
					if got.Version != current.Version+1 || got.XCell != patch.XCell || got.YCell != patch.YCell {
						t.Errorf("writer %d patched v%d to (%d,%d) but got v%d at (%d,%d)",
							w, current.Version, patch.XCell, patch.YCell, got.Version, got.XCell, got.YCell)
					}
					mu.Lock()
					wins++
					mu.Unlock()
				}
			}(w)
		}
		wg.Wait()

		final, err := store.FindToken(context.Background(), "sess-1", "tok-1")
		if err != nil {
			t.Fatalf("find token: %v", err)
		}
		if final.Version != wins {
			t.Fatalf("final version %d, want one bump per win (%d)", final.Version, wins)
		}
	})

	t.Run("ListTokensByScene", func(t *testing.T) {
		store := open(t)
		scene := SeedScene(t, store, "sess-1", "scene-1")
		other := SeedScene(t, store, "sess-1", "scene-2")
		for i := 0; i < 3; i++ {
			token := NewToken(fmt.Sprintf("tok-%d", i), scene, "")
			token.CreatedAt = baseTime.Add(time.Duration(i) * time.Second)
			if _, err := store.CreateToken(context.Background(), token); err != nil {
				t.Fatalf("create token: %v", err)
			}
		}
		if _, err := store.CreateToken(context.Background(), NewToken("elsewhere", other, "")); err != nil {
			t.Fatalf("create token: %v", err)
		}

		tokens, err := store.ListTokens(context.Background(), "sess-1", "scene-1")
		if err != nil {
			t.Fatalf("list tokens: %v", err)
		}
		if len(tokens) != 3 {
			t.Fatalf("len = %d, want 3", len(tokens))
		}
		for i, token := range tokens {
			if token.ID != fmt.Sprintf("tok-%d", i) {
				t.Fatalf("tokens[%d] = %s", i, token.ID)
			}
		}
		empty, err := store.ListTokens(context.Background(), "sess-2", "scene-1")
		if err != nil || len(empty) != 0 {
			t.Fatalf("expected no tokens for other session, got %v %v", empty, err)
		}
	})

	t.Run("CanceledContext", func(t *testing.T) {
		store := open(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if _, err := store.FindScene(ctx, "sess-1", "scene-1"); !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	})
}
