// Package cmd holds the startup plumbing shared by the tablemap binaries.
package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"strings"

	"github.com/louisbranch/tablemap/internal/platform/config"
	"github.com/louisbranch/tablemap/internal/platform/otel"
	"github.com/louisbranch/tablemap/internal/platform/timeouts"
)

// Binary names, also reported as the OpenTelemetry service name.
const (
	ServiceTablemap = "tablemap"
	ServiceSeed     = "seed"
	ServiceProbe    = "probe"
)

// ParseConfig fills cfg from environment variables.
func ParseConfig[T any](cfg *T) error {
	if cfg == nil {
		return errors.New("config target is required")
	}
	return config.ParseEnv(cfg)
}

// ParseArgs parses flags over previously loaded defaults.
// None of the binaries take positional arguments.
func ParseArgs(fs *flag.FlagSet, args []string) error {
	if fs == nil {
		return errors.New("flag set is required")
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if extra := fs.Args(); len(extra) > 0 {
		return fmt.Errorf("unexpected argument %q", extra[0])
	}
	return nil
}

// RunWithTelemetry runs fn with tracing set up for service, then flushes
// buffered spans. A flush failure is joined to fn's error.
func RunWithTelemetry(ctx context.Context, service string, fn func(context.Context) error) (err error) {
	service = strings.TrimSpace(service)
	if service == "" {
		return errors.New("service name is required")
	}
	if fn == nil {
		return errors.New("run function is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	shutdown, err := otel.Setup(ctx, service)
	if err != nil {
		return fmt.Errorf("%s telemetry: %w", service, err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeouts.Shutdown)
		defer cancel()
		if flushErr := shutdown(flushCtx); flushErr != nil {
			err = errors.Join(err, fmt.Errorf("%s flush traces: %w", service, flushErr))
		}
	}()
	return fn(ctx)
}
