// Package probe checks that a tablemap server reports SERVING over gRPC health.
package probe

import (
	"context"
	"flag"
	"fmt"
	"io"
	"time"

	entrypoint "github.com/louisbranch/tablemap/internal/platform/cmd"
	"github.com/louisbranch/tablemap/internal/platform/config"
	platformgrpc "github.com/louisbranch/tablemap/internal/platform/grpc"
	"github.com/louisbranch/tablemap/internal/platform/timeouts"
)

// EnvPrefix scopes the probe's environment keys.
const EnvPrefix = "TABLEMAP_PROBE_"

// Config holds probe command configuration.
type Config struct {
	GRPCAddr string        `env:"GRPC_ADDR" envDefault:"localhost:8091"`
	Service  string        `env:"SERVICE"   envDefault:"tablemap"`
	Timeout  time.Duration `env:"TIMEOUT"   envDefault:"5s"`
	Verbose  bool          `env:"VERBOSE"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := config.ParseEnvPrefixed(&cfg, EnvPrefix); err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.GRPCAddr, "grpc-addr", cfg.GRPCAddr, "tablemap gRPC health address")
	fs.StringVar(&cfg.Service, "service", cfg.Service, "health service name, empty for the server-wide status")
	fs.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "how long to wait for SERVING")
	fs.BoolVar(&cfg.Verbose, "v", cfg.Verbose, "log each health attempt")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run dials the health endpoint and waits until it serves.
func Run(ctx context.Context, cfg Config, out io.Writer) error {
	if out == nil {
		out = io.Discard
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = timeouts.GRPCDial
	}
	var logf func(string, ...any)
	if cfg.Verbose {
		logf = func(format string, args ...any) {
			fmt.Fprintf(out, format+"\n", args...)
		}
	}
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceProbe, func(ctx context.Context) error {
		conn, err := platformgrpc.DialWithHealth(ctx, platformgrpc.HealthTarget{
			Addr:    cfg.GRPCAddr,
			Service: cfg.Service,
			Timeout: timeout,
			Logf:    logf,
		})
		if err != nil {
			return fmt.Errorf("probe %s: %w", cfg.GRPCAddr, err)
		}
		defer conn.Close()
		fmt.Fprintf(out, "%s %s SERVING\n", cfg.GRPCAddr, cfg.Service)
		return nil
	})
}
