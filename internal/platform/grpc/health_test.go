package grpc

import (
	"context"
	"net"
	"testing"
	"time"

	gogrpc "google.golang.org/grpc"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
)

// serveHealth starts a health server on a loopback port and stops it with the test.
func serveHealth(t *testing.T, services ...string) (*HealthServer, string) {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	server := NewHealthServer(services...)
	done := make(chan error, 1)
	go func() { done <- server.Serve(listener) }()
	t.Cleanup(func() {
		server.Stop()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("serve: %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Error("health server did not stop")
		}
	})
	return server, listener.Addr().String()
}

func checkStatus(t *testing.T, conn *gogrpc.ClientConn, service string) grpc_health_v1.HealthCheckResponse_ServingStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := grpc_health_v1.NewHealthClient(conn).Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: service})
	if err != nil {
		t.Fatalf("check %q: %v", service, err)
	}
	return resp.GetStatus()
}

func TestHealthServerStartsNotServing(t *testing.T) {
	server, addr := serveHealth(t, "tablemap")

	conn, err := gogrpc.NewClient(addr, DefaultClientDialOptions()...)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	defer conn.Close()

	for _, service := range []string{"", "tablemap"} {
		if got := checkStatus(t, conn, service); got != grpc_health_v1.HealthCheckResponse_NOT_SERVING {
			t.Fatalf("status %q = %s, want NOT_SERVING", service, got)
		}
	}

	server.SetServing(true, "tablemap")
	if got := checkStatus(t, conn, "tablemap"); got != grpc_health_v1.HealthCheckResponse_SERVING {
		t.Fatalf("tablemap status = %s, want SERVING", got)
	}

	server.SetServing(false, "tablemap")
	if got := checkStatus(t, conn, ""); got != grpc_health_v1.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("overall status = %s after drain, want NOT_SERVING", got)
	}
}

func TestServeAfterStopIsNotAnError(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	server := NewHealthServer()
	server.Stop()
	if err := server.Serve(listener); err != nil {
		t.Fatalf("serve after stop: %v", err)
	}
}

func TestNilHealthServerIsSafe(t *testing.T) {
	var server *HealthServer
	server.SetServing(true)
	server.Stop()
	if err := server.Serve(nil); err == nil {
		t.Fatal("expected error serving nil health server")
	}
}
