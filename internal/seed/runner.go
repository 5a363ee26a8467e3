// Package seed loads scene fixtures into tablemap storage for local development.
package seed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/louisbranch/tablemap/internal/services/tablemap/storage"
	"github.com/louisbranch/tablemap/internal/services/tablemap/storage/sqlite"
)

// Config holds seed runner configuration.
type Config struct {
	RepoRoot    string
	DBPath      string
	FixturesDir string
	Scenario    string
	Verbose     bool
}

// DefaultConfig returns configuration with common defaults.
func DefaultConfig() Config {
	return Config{
		DBPath:      "data/tablemap.db",
		FixturesDir: "internal/seed/fixtures",
	}
}

// Summary counts what a run wrote.
type Summary struct {
	Scenes        int
	Tokens        int
	SkippedTokens int
}

// Run loads the configured fixtures into the SQLite database at cfg.DBPath.
func Run(ctx context.Context, cfg Config, out io.Writer) (Summary, error) {
	if out == nil {
		out = io.Discard
	}
	pattern := filepath.Join(cfg.RepoRoot, cfg.FixturesDir, "*.yaml")
	if name := strings.TrimSpace(cfg.Scenario); name != "" {
		pattern = filepath.Join(cfg.RepoRoot, cfg.FixturesDir, name+".yaml")
	}
	fixtures, err := LoadFixtures(pattern)
	if err != nil {
		return Summary{}, fmt.Errorf("load fixtures: %w", err)
	}
	if cfg.Verbose {
		fmt.Fprintf(out, "Loaded %d fixture(s)\n", len(fixtures))
	}

	dbPath := strings.TrimSpace(cfg.DBPath)
	if dbPath == "" {
		return Summary{}, errors.New("database path is required")
	}
	store, err := sqlite.Open(ctx, dbPath)
	if err != nil {
		return Summary{}, fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	return Apply(ctx, store, fixtures, time.Now, out)
}

// Apply writes fixtures to store. Scenes are upserted; tokens that already
// exist are left untouched so reseeding never rewinds a version.
func Apply(ctx context.Context, store storage.Store, fixtures []Fixture, now func() time.Time, out io.Writer) (Summary, error) {
	if now == nil {
		now = time.Now
	}
	if out == nil {
		out = io.Discard
	}
	var summary Summary
	for _, fixture := range fixtures {
		for _, scene := range fixture.Scenes {
			if err := store.PutScene(ctx, scene.Scene); err != nil {
				return summary, fmt.Errorf("put scene %s: %w", scene.ID, err)
			}
			summary.Scenes++
			fmt.Fprintf(out, "scene %s (%s) in session %s\n", scene.ID, scene.Name, scene.SessionID)

			for _, tf := range scene.Tokens {
				token, err := tf.Token(scene.Scene)
				if err != nil {
					return summary, fmt.Errorf("fixture %s token %s: %w", fixture.Name, tf.ID, err)
				}
				at := now().UTC().Truncate(time.Millisecond)
				token.CreatedAt = at
				token.UpdatedAt = at
				if _, err := store.CreateToken(ctx, token); err != nil {
					if errors.Is(err, storage.ErrAlreadyExists) {
						summary.SkippedTokens++
						continue
					}
					return summary, fmt.Errorf("create token %s: %w", token.ID, err)
				}
				summary.Tokens++
			}
		}
	}
	fmt.Fprintf(out, "seeded %d scene(s), %d token(s), skipped %d existing\n", summary.Scenes, summary.Tokens, summary.SkippedTokens)
	return summary, nil
}
