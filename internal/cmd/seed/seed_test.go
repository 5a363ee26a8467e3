package seed

import (
	"bytes"
	"context"
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseConfigDefaults(t *testing.T) {
	fs := flag.NewFlagSet("seed", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, nil)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.SeedConfig.DBPath != "data/tablemap.db" {
		t.Fatalf("expected default db path, got %q", cfg.SeedConfig.DBPath)
	}
	if cfg.SeedConfig.RepoRoot == "" {
		t.Fatal("expected repo root to be set")
	}
	if _, err := os.Stat(filepath.Join(cfg.SeedConfig.RepoRoot, "go.mod")); err != nil {
		t.Fatalf("expected go.mod in repo root: %v", err)
	}
}

func TestParseConfigEnvAndFlags(t *testing.T) {
	t.Setenv("TABLEMAP_DB_PATH", "env.db")
	fs := flag.NewFlagSet("seed", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, []string{"-list", "-scenario", "demo"})
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.SeedConfig.DBPath != "env.db" || !cfg.List || cfg.SeedConfig.Scenario != "demo" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestRunListsFixtures(t *testing.T) {
	fs := flag.NewFlagSet("seed", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, []string{"-list"})
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	var out bytes.Buffer
	if err := Run(context.Background(), cfg, &out); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out.String(), "demo.yaml (2 scenes)") {
		t.Fatalf("output = %q", out.String())
	}
}

func TestRunSeedsDatabase(t *testing.T) {
	fs := flag.NewFlagSet("seed", flag.ContinueOnError)
	dbPath := filepath.Join(t.TempDir(), "seed.db")
	cfg, err := ParseConfig(fs, []string{"-db", dbPath})
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	var out bytes.Buffer
	if err := Run(context.Background(), cfg, &out); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out.String(), "seeded 2 scene(s), 3 token(s)") {
		t.Fatalf("output = %q", out.String())
	}
}
