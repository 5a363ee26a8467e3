// Package app hosts the tablemap websocket surface: per-connection identity
// middleware, the idempotent command router, and session broadcast.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	platformgrpc "github.com/louisbranch/tablemap/internal/platform/grpc"
	"github.com/louisbranch/tablemap/internal/platform/timeouts"
	"github.com/louisbranch/tablemap/internal/services/tablemap/auth"
	"github.com/louisbranch/tablemap/internal/services/tablemap/command"
	"github.com/louisbranch/tablemap/internal/services/tablemap/idempotency"
	"github.com/louisbranch/tablemap/internal/services/tablemap/journal"
	"github.com/louisbranch/tablemap/internal/services/tablemap/storage"
	"github.com/louisbranch/tablemap/internal/services/tablemap/storage/memory"
	"github.com/louisbranch/tablemap/internal/services/tablemap/storage/sqlite"
	"github.com/louisbranch/tablemap/internal/services/tablemap/token"
)

// HealthService is the gRPC health service name reported by the server.
const HealthService = "tablemap"

const (
	StorageSQLite = "sqlite"
	StorageMemory = "memory"
)

// Config defines the inputs for the tablemap process.
type Config struct {
	HTTPAddr          string
	GRPCAddr          string
	Storage           string
	DBPath            string
	JournalDir        string
	ReplayCapacity    int
	Auth              auth.Config
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
}

// Server hosts the tablemap HTTP/WebSocket and gRPC health listeners.
type Server struct {
	httpAddr        string
	grpcAddr        string
	shutdownTimeout time.Duration
	httpServer      *http.Server
	handler         *Handler
	health          *platformgrpc.HealthServer
	store           storage.Store
	journal         *journal.Writer
}

// NewServer builds a configured server. Storage is opened here; Close
// releases it.
func NewServer(ctx context.Context, config Config) (*Server, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}
	httpAddr := strings.TrimSpace(config.HTTPAddr)
	if httpAddr == "" {
		return nil, errors.New("http address is required")
	}
	if config.ReadHeaderTimeout <= 0 {
		config.ReadHeaderTimeout = timeouts.ReadHeader
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = timeouts.Shutdown
	}

	store, err := openStore(ctx, config)
	if err != nil {
		return nil, err
	}

	var writer *journal.Writer
	opts := []token.Option{}
	if dir := strings.TrimSpace(config.JournalDir); dir != "" {
		writer = journal.NewWriter(dir, nil)
		opts = append(opts, token.WithJournal(writer))
	}

	registry := command.NewRegistry()
	token.NewService(store, opts...).Register(registry)

	var authenticator Authenticator
	if config.Auth.Enabled() {
		authenticator = auth.NewVerifier(config.Auth)
	} else {
		log.Printf("tablemap: credential verification disabled, every connection is a guest")
	}

	cache := idempotency.New(config.ReplayCapacity)
	log.Printf("tablemap: replay cache holds %d responses per identity", cache.Capacity())
	handler := NewHandler(HandlerConfig{
		Registry:      registry,
		Authenticator: authenticator,
		Cache:         cache,
	})
	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           handler,
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}

	server := &Server{
		httpAddr:        httpAddr,
		grpcAddr:        strings.TrimSpace(config.GRPCAddr),
		shutdownTimeout: config.ShutdownTimeout,
		httpServer:      httpServer,
		handler:         handler,
		store:           store,
		journal:         writer,
	}
	if server.grpcAddr != "" {
		server.health = platformgrpc.NewHealthServer(HealthService)
	}
	return server, nil
}

func openStore(ctx context.Context, config Config) (storage.Store, error) {
	switch strings.ToLower(strings.TrimSpace(config.Storage)) {
	case StorageMemory:
		return memory.New(), nil
	case "", StorageSQLite:
		path := strings.TrimSpace(config.DBPath)
		if path == "" {
			return nil, errors.New("sqlite path is required")
		}
		store, err := sqlite.Open(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", config.Storage)
	}
}

// Run creates and serves a server until the context ends.
func Run(ctx context.Context, config Config) error {
	server, err := NewServer(ctx, config)
	if err != nil {
		return fmt.Errorf("init tablemap server: %w", err)
	}
	defer server.Close()

	if err := server.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("serve tablemap: %w", err)
	}
	return nil
}

// ListenAndServe runs the HTTP and gRPC health listeners until the context
// ends or either listener fails.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s == nil {
		return errors.New("tablemap server is nil")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	var grpcListener net.Listener
	if s.health != nil {
		listener, err := net.Listen("tcp", s.grpcAddr)
		if err != nil {
			return fmt.Errorf("listen grpc: %w", err)
		}
		grpcListener = listener
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		log.Printf("tablemap server listening on %s", s.httpAddr)
		err := s.httpServer.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	})
	if grpcListener != nil {
		group.Go(func() error {
			log.Printf("tablemap health listening on %s", grpcListener.Addr())
			s.health.SetServing(true, HealthService)
			if err := s.health.Serve(grpcListener); err != nil {
				return fmt.Errorf("serve grpc: %w", err)
			}
			return nil
		})
	}
	group.Go(func() error {
		<-groupCtx.Done()
		s.health.SetServing(false, HealthService)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		err := s.httpServer.Shutdown(shutdownCtx)
		s.health.Stop()
		if err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		if err := s.handler.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown websocket connections: %w", err)
		}
		return nil
	})
	return group.Wait()
}

// Close releases server resources.
func (s *Server) Close() {
	if s == nil {
		return
	}
	s.health.Stop()
	if s.handler != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		if err := s.handler.Shutdown(ctx); err != nil {
			log.Printf("tablemap: %v", err)
		}
		cancel()
	}
	if s.journal != nil {
		if err := s.journal.Close(); err != nil {
			log.Printf("tablemap: close journal: %v", err)
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			log.Printf("tablemap: close store: %v", err)
		}
	}
}
