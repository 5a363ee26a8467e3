package grpc

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	gogrpc "google.golang.org/grpc"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
)

func TestDialWithHealthReturnsServingConn(t *testing.T) {
	server, addr := serveHealth(t)
	server.SetServing(true)

	conn, err := DialWithHealth(context.Background(), HealthTarget{Addr: addr, Timeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if got := checkStatus(t, conn, ""); got != grpc_health_v1.HealthCheckResponse_SERVING {
		t.Fatalf("status = %s, want SERVING", got)
	}
}

func TestDialWithHealthWaitsForNamedService(t *testing.T) {
	server, addr := serveHealth(t, "tablemap")
	server.SetServing(true)

	var mu sync.Mutex
	var lines []string
	logf := func(format string, args ...any) {
		mu.Lock()
		defer mu.Unlock()
		lines = append(lines, fmt.Sprintf(format, args...))
	}

	flipped := make(chan struct{})
	go func() {
		defer close(flipped)
		time.Sleep(250 * time.Millisecond)
		server.SetServing(true, "tablemap")
	}()

	conn, err := DialWithHealth(context.Background(), HealthTarget{
		Addr:    addr,
		Service: "tablemap",
		Timeout: 3 * time.Second,
		Logf:    logf,
	})
	<-flipped
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	_ = conn.Close()

	mu.Lock()
	defer mu.Unlock()
	for _, line := range lines {
		if strings.Contains(line, "NOT_SERVING") {
			return
		}
	}
	t.Fatalf("expected NOT_SERVING attempts to be logged, got %q", lines)
}

func TestDialWithHealthTimesOutAtHealthStage(t *testing.T) {
	_, addr := serveHealth(t)

	start := time.Now()
	conn, err := DialWithHealth(context.Background(), HealthTarget{Addr: addr, Timeout: 200 * time.Millisecond})
	if conn != nil {
		_ = conn.Close()
		t.Fatal("expected nil connection on failure")
	}
	var dialErr *DialError
	if !errors.As(err, &dialErr) || dialErr.Stage != DialStageHealth {
		t.Fatalf("err = %v, want health stage", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	if elapsed := time.Since(start); elapsed > 1500*time.Millisecond {
		t.Fatalf("timeout did not bound the wait: %v", elapsed)
	}
}

func TestDialWithHealthConnectStage(t *testing.T) {
	// No transport credentials: the client cannot be constructed.
	_, err := DialWithHealth(context.Background(), HealthTarget{Addr: "127.0.0.1:1"}, gogrpc.WithUserAgent("tablemap-test"))
	var dialErr *DialError
	if !errors.As(err, &dialErr) || dialErr.Stage != DialStageConnect {
		t.Fatalf("err = %v, want connect stage", err)
	}
	if !strings.Contains(err.Error(), "127.0.0.1:1") {
		t.Fatalf("error %q should name the address", err)
	}
}
