// Package seed parses seed command flags and loads scene fixtures.
package seed

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	entrypoint "github.com/louisbranch/tablemap/internal/platform/cmd"
	"github.com/louisbranch/tablemap/internal/seed"
)

// Config holds seed command configuration.
type Config struct {
	SeedConfig seed.Config
	List       bool
}

type seedEnv struct {
	DBPath string `env:"TABLEMAP_DB_PATH" envDefault:"data/tablemap.db"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var env seedEnv
	if err := entrypoint.ParseConfig(&env); err != nil {
		return Config{}, err
	}
	seedCfg := seed.DefaultConfig()
	seedCfg.DBPath = env.DBPath
	var list bool

	fs.StringVar(&seedCfg.DBPath, "db", seedCfg.DBPath, "SQLite database path")
	fs.StringVar(&seedCfg.FixturesDir, "fixtures", seedCfg.FixturesDir, "fixture directory relative to the repository root")
	fs.StringVar(&seedCfg.Scenario, "scenario", "", "load one fixture file by name (default: all)")
	fs.BoolVar(&seedCfg.Verbose, "v", false, "verbose output")
	fs.BoolVar(&list, "list", false, "list available fixtures")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}

	if !filepath.IsAbs(seedCfg.FixturesDir) {
		root, err := repoRoot()
		if err != nil {
			return Config{}, err
		}
		seedCfg.RepoRoot = root
	}
	return Config{SeedConfig: seedCfg, List: list}, nil
}

// Run executes the seed command.
func Run(ctx context.Context, cfg Config, out io.Writer) error {
	if out == nil {
		out = io.Discard
	}
	if cfg.List {
		fixtures, err := seed.LoadFixtures(filepath.Join(cfg.SeedConfig.RepoRoot, cfg.SeedConfig.FixturesDir, "*.yaml"))
		if err != nil {
			return err
		}
		fmt.Fprintln(out, "Available fixtures:")
		for _, fixture := range fixtures {
			fmt.Fprintf(out, "  %s (%d scenes)\n", fixture.Name, len(fixture.Scenes))
		}
		return nil
	}
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceSeed, func(ctx context.Context) error {
		_, err := seed.Run(ctx, cfg.SeedConfig, out)
		return err
	})
}

// repoRoot resolves relative fixture paths against the nearest directory
// above the working directory that holds go.mod, or the working directory
// itself when there is none.
func repoRoot() (string, error) {
	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("resolve working directory: %w", err)
	}
	for dir := wd; ; {
		if info, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil && !info.IsDir() {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return wd, nil
		}
		dir = parent
	}
}
