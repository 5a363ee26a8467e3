// Package tablemap parses server flags and starts the real-time scene service.
package tablemap

import (
	"context"
	"flag"
	"fmt"

	entrypoint "github.com/louisbranch/tablemap/internal/platform/cmd"
	server "github.com/louisbranch/tablemap/internal/services/tablemap/app"
	"github.com/louisbranch/tablemap/internal/services/tablemap/auth"
)

// Config holds server command configuration.
type Config struct {
	HTTPAddr       string `env:"TABLEMAP_HTTP_ADDR"       envDefault:":8090"`
	GRPCAddr       string `env:"TABLEMAP_GRPC_ADDR"       envDefault:":8091"`
	Storage        string `env:"TABLEMAP_STORAGE"         envDefault:"sqlite"`
	DBPath         string `env:"TABLEMAP_DB_PATH"         envDefault:"data/tablemap.db"`
	JournalDir     string `env:"TABLEMAP_JOURNAL_DIR"`
	ReplayCapacity int    `env:"TABLEMAP_REPLAY_CAPACITY" envDefault:"500"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "HTTP/WebSocket listen address")
	fs.StringVar(&cfg.GRPCAddr, "grpc-addr", cfg.GRPCAddr, "gRPC health listen address (empty disables)")
	fs.StringVar(&cfg.Storage, "storage", cfg.Storage, "storage backend (sqlite, memory)")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite database path")
	fs.StringVar(&cfg.JournalDir, "journal-dir", cfg.JournalDir, "mutation journal directory (empty disables)")
	fs.IntVar(&cfg.ReplayCapacity, "replay-capacity", cfg.ReplayCapacity, "cached responses per identity")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run builds the server and serves until ctx ends.
func Run(ctx context.Context, cfg Config) error {
	authConfig, err := auth.LoadConfigFromEnv(nil)
	if err != nil {
		return err
	}
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceTablemap, func(context.Context) error {
		if err := server.Run(ctx, server.Config{
			HTTPAddr:       cfg.HTTPAddr,
			GRPCAddr:       cfg.GRPCAddr,
			Storage:        cfg.Storage,
			DBPath:         cfg.DBPath,
			JournalDir:     cfg.JournalDir,
			ReplayCapacity: cfg.ReplayCapacity,
			Auth:           authConfig,
		}); err != nil {
			return fmt.Errorf("serve tablemap: %w", err)
		}
		return nil
	})
}
