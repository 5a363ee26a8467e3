package grpc

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
)

const (
	checkTimeout   = time.Second
	initialBackoff = 100 * time.Millisecond
	maxBackoff     = time.Second
)

// DialStage describes where a dial attempt failed.
type DialStage string

const (
	DialStageConnect DialStage = "connect"
	DialStageHealth  DialStage = "health"
)

// DialError reports which stage of DialWithHealth failed.
type DialError struct {
	Addr  string
	Stage DialStage
	Err   error
}

func (e *DialError) Error() string {
	return fmt.Sprintf("gRPC %s %s: %v", e.Stage, e.Addr, e.Err)
}

func (e *DialError) Unwrap() error { return e.Err }

// HealthTarget names the endpoint and service DialWithHealth waits on.
// An empty Service checks the server-wide status.
type HealthTarget struct {
	Addr    string
	Service string
	// Timeout bounds the whole wait when positive.
	Timeout time.Duration
	// Logf, when set, receives one line per unsuccessful check.
	Logf func(string, ...any)
}

// DefaultClientDialOptions returns plaintext options with trace propagation.
func DefaultClientDialOptions() []gogrpc.DialOption {
	return []gogrpc.DialOption{
		gogrpc.WithTransportCredentials(insecure.NewCredentials()),
		gogrpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	}
}

// DialWithHealth connects to target.Addr and polls grpc.health.v1 until the
// service reports SERVING. Without opts it uses DefaultClientDialOptions.
// The connection is closed on any failure.
func DialWithHealth(ctx context.Context, target HealthTarget, opts ...gogrpc.DialOption) (*gogrpc.ClientConn, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if len(opts) == 0 {
		opts = DefaultClientDialOptions()
	}
	if target.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, target.Timeout)
		defer cancel()
	}

	conn, err := gogrpc.NewClient(target.Addr, opts...)
	if err != nil {
		return nil, &DialError{Addr: target.Addr, Stage: DialStageConnect, Err: err}
	}
	if err := awaitServing(ctx, grpc_health_v1.NewHealthClient(conn), target.Service, target.Logf); err != nil {
		_ = conn.Close()
		return nil, &DialError{Addr: target.Addr, Stage: DialStageHealth, Err: err}
	}
	return conn, nil
}

func awaitServing(ctx context.Context, client grpc_health_v1.HealthClient, service string, logf func(string, ...any)) error {
	backoff := initialBackoff
	for attempt := 1; ; attempt++ {
		checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
		resp, err := client.Check(checkCtx, &grpc_health_v1.HealthCheckRequest{Service: service})
		cancel()
		status := resp.GetStatus()
		if err == nil && status == grpc_health_v1.HealthCheckResponse_SERVING {
			return nil
		}
		if logf != nil {
			if err != nil {
				logf("health attempt %d: %v", attempt, err)
			} else {
				logf("health attempt %d: %s", attempt, status)
			}
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			if err == nil {
				err = fmt.Errorf("last status %s", status)
			}
			return fmt.Errorf("%w (%v)", ctx.Err(), err)
		case <-timer.C:
		}
		backoff = min(backoff*2, maxBackoff)
	}
}
