package app

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	apperrors "github.com/louisbranch/tablemap/internal/platform/errors"
	"github.com/louisbranch/tablemap/internal/platform/requestctx"
	"github.com/louisbranch/tablemap/internal/services/tablemap/auth"
	"github.com/louisbranch/tablemap/internal/services/tablemap/command"
	"github.com/louisbranch/tablemap/internal/services/tablemap/domain"
	"github.com/louisbranch/tablemap/internal/services/tablemap/idempotency"
	"github.com/louisbranch/tablemap/internal/services/tablemap/protocol"
)

var routerNow = time.Date(2026, time.April, 2, 20, 0, 0, 0, time.UTC)

type sentFrame struct {
	connectionID string
	env          protocol.Envelope
}

type broadcastFrame struct {
	sessionID string
	exclude   string
	env       protocol.Envelope
	include   func(auth.Identity) bool
}

type recordingTransport struct {
	mu         sync.Mutex
	sent       []sentFrame
	broadcasts []broadcastFrame
}

func (r *recordingTransport) SendToConnection(connectionID string, env protocol.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sentFrame{connectionID: connectionID, env: env})
	return nil
}

func (r *recordingTransport) BroadcastToSession(sessionID string, env protocol.Envelope, exclude string, include func(auth.Identity) bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.broadcasts = append(r.broadcasts, broadcastFrame{sessionID: sessionID, exclude: exclude, env: env, include: include})
}

func (r *recordingTransport) snapshot() ([]sentFrame, []broadcastFrame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sentFrame(nil), r.sent...), append([]broadcastFrame(nil), r.broadcasts...)
}

func player(connectionID string) auth.Identity {
	return auth.Identity{ConnectionID: connectionID, UserID: "user-1", SessionID: "sess-1", Role: domain.RolePlayer}
}

func newTestRouter(handlers map[command.Type]command.Handler) (*Router, *recordingTransport) {
	registry := command.NewRegistry()
	for commandType, handler := range handlers {
		registry.Register(commandType, handler)
	}
	transport := &recordingTransport{}
	return NewRouter(registry, idempotency.New(8), transport, func() time.Time { return routerNow }), transport
}

func envelope(commandType, rid string) protocol.Envelope {
	return protocol.Envelope{Type: commandType, RID: rid, Payload: json.RawMessage(`{}`)}
}

func TestDispatchReplaysCachedResponseWithoutExecuting(t *testing.T) {
	var calls atomic.Int32
	router, transport := newTestRouter(map[command.Type]command.Handler{
		"token.move": func(context.Context, command.Call) (command.Result, error) {
			calls.Add(1)
			return command.Result{Payload: map[string]int{"version": int(calls.Load())}}, nil
		},
	})

	router.Dispatch(context.Background(), player("conn-1"), envelope("token.move", "rid-1"))
	router.Dispatch(context.Background(), player("conn-1"), envelope("token.move", "rid-1"))

	if got := calls.Load(); got != 1 {
		t.Fatalf("handler calls = %d, want 1", got)
	}
	sent, broadcasts := transport.snapshot()
	if len(sent) != 2 {
		t.Fatalf("sent frames = %d, want 2", len(sent))
	}
	if string(sent[0].env.Payload) != string(sent[1].env.Payload) || sent[0].env.Type != "token.move.result" {
		t.Fatalf("replay differs: %+v vs %+v", sent[0].env, sent[1].env)
	}
	if len(broadcasts) != 1 {
		t.Fatalf("broadcasts = %d, want 1 (replays are not re-broadcast)", len(broadcasts))
	}
}

func TestDispatchScopesCacheByUser(t *testing.T) {
	var calls atomic.Int32
	router, _ := newTestRouter(map[command.Type]command.Handler{
		"token.move": func(context.Context, command.Call) (command.Result, error) {
			calls.Add(1)
			return command.Result{Payload: struct{}{}}, nil
		},
	})

	other := auth.Identity{ConnectionID: "conn-2", UserID: "user-2", SessionID: "sess-1", Role: domain.RolePlayer}
	router.Dispatch(context.Background(), player("conn-1"), envelope("token.move", "rid-1"))
	router.Dispatch(context.Background(), other, envelope("token.move", "rid-1"))
	// Same user on a second connection shares the replay scope.
	router.Dispatch(context.Background(), player("conn-3"), envelope("token.move", "rid-1"))

	if got := calls.Load(); got != 2 {
		t.Fatalf("handler calls = %d, want 2", got)
	}
}

func TestDispatchCollapsesConcurrentDuplicates(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	router, transport := newTestRouter(map[command.Type]command.Handler{
		"token.move": func(context.Context, command.Call) (command.Result, error) {
			calls.Add(1)
			<-release
			return command.Result{Payload: struct{}{}}, nil
		},
	})

	var group errgroup.Group
	for range 4 {
		group.Go(func() error {
			router.Dispatch(context.Background(), player("conn-1"), envelope("token.move", "rid-dup"))
			return nil
		})
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	_ = group.Wait()

	if got := calls.Load(); got != 1 {
		t.Fatalf("handler calls = %d, want 1", got)
	}
	sent, broadcasts := transport.snapshot()
	if len(sent) != 4 {
		t.Fatalf("replies = %d, want 4", len(sent))
	}
	if len(broadcasts) != 1 {
		t.Fatalf("broadcasts = %d, want 1", len(broadcasts))
	}
}

func TestDispatchCachesErrorsAndRepliesOnlyToRequester(t *testing.T) {
	var calls atomic.Int32
	router, transport := newTestRouter(map[command.Type]command.Handler{
		"token.move": func(context.Context, command.Call) (command.Result, error) {
			calls.Add(1)
			return command.Result{}, apperrors.WithMetadata(apperrors.CodeStaleUpdate, "token version is stale", map[string]string{"currentVersion": "3"})
		},
	})

	router.Dispatch(context.Background(), player("conn-1"), envelope("token.move", "rid-1"))
	router.Dispatch(context.Background(), player("conn-1"), envelope("token.move", "rid-1"))

	if got := calls.Load(); got != 1 {
		t.Fatalf("handler calls = %d, want 1", got)
	}
	sent, broadcasts := transport.snapshot()
	if len(broadcasts) != 0 {
		t.Fatalf("errors must not be broadcast, got %d", len(broadcasts))
	}
	if len(sent) != 2 || sent[0].connectionID != "conn-1" {
		t.Fatalf("unexpected replies: %+v", sent)
	}
	if sent[0].env.Type != "token.move.error" || sent[0].env.RID != "rid-1" {
		t.Fatalf("unexpected envelope: %+v", sent[0].env)
	}
	payload, err := sent[0].env.DecodeError()
	if err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	if payload.Code != string(apperrors.CodeStaleUpdate) || payload.Details["currentVersion"] != "3" {
		t.Fatalf("unexpected error payload: %+v", payload)
	}
}

func TestDispatchHidesInternalFailures(t *testing.T) {
	router, transport := newTestRouter(map[command.Type]command.Handler{
		"token.move": func(context.Context, command.Call) (command.Result, error) {
			return command.Result{}, errors.New("sqlite: database is locked")
		},
	})

	router.Dispatch(context.Background(), player("conn-1"), envelope("token.move", "rid-1"))

	sent, _ := transport.snapshot()
	if len(sent) != 1 {
		t.Fatalf("replies = %d, want 1", len(sent))
	}
	payload, err := sent[0].env.DecodeError()
	if err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	if payload.Message != "internal error" || payload.Code != "INTERNAL" || len(payload.Details) != 0 {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestDispatchDropsUnknownCommands(t *testing.T) {
	router, transport := newTestRouter(nil)

	router.Dispatch(context.Background(), player("conn-1"), envelope("dice.roll", "rid-1"))

	sent, broadcasts := transport.snapshot()
	if len(sent) != 0 || len(broadcasts) != 0 {
		t.Fatalf("expected no frames, got %d sent %d broadcast", len(sent), len(broadcasts))
	}
	if router.cache.Len(player("conn-1").CacheKey()) != 0 {
		t.Fatal("unknown commands must not be cached")
	}
}

func TestDispatchRoutesByAudience(t *testing.T) {
	router, transport := newTestRouter(map[command.Type]command.Handler{
		"token.create": func(context.Context, command.Call) (command.Result, error) {
			return command.Result{Payload: struct{}{}, Audience: command.AudienceHosts}, nil
		},
		"scene.snapshot": func(context.Context, command.Call) (command.Result, error) {
			return command.Result{Payload: struct{}{}, Audience: command.AudienceRequester}, nil
		},
	})

	router.Dispatch(context.Background(), player("conn-1"), envelope("token.create", "rid-1"))
	router.Dispatch(context.Background(), player("conn-1"), envelope("scene.snapshot", "rid-2"))

	_, broadcasts := transport.snapshot()
	if len(broadcasts) != 1 {
		t.Fatalf("broadcasts = %d, want 1", len(broadcasts))
	}
	b := broadcasts[0]
	if b.sessionID != "sess-1" || b.exclude != "conn-1" {
		t.Fatalf("unexpected broadcast target: %+v", b)
	}
	if b.include == nil {
		t.Fatal("expected a host filter")
	}
	if b.include(player("conn-2")) || !b.include(auth.Identity{Role: domain.RoleHost}) {
		t.Fatal("host filter admits the wrong roles")
	}
}

func TestDispatchHonorsResultTypeOverride(t *testing.T) {
	router, transport := newTestRouter(map[command.Type]command.Handler{
		"token.move": func(context.Context, command.Call) (command.Result, error) {
			return command.Result{Type: "token.moved", Payload: struct{}{}}, nil
		},
	})

	router.Dispatch(context.Background(), player("conn-1"), envelope("token.move", "rid-1"))

	sent, broadcasts := transport.snapshot()
	if sent[0].env.Type != "token.moved" || broadcasts[0].env.Type != "token.moved" {
		t.Fatalf("unexpected types: %q / %q", sent[0].env.Type, broadcasts[0].env.Type)
	}
	if sent[0].env.TS != routerNow.UnixMilli() {
		t.Fatalf("ts = %d, want %d", sent[0].env.TS, routerNow.UnixMilli())
	}
}

func TestDispatchDetachesFromCallerContext(t *testing.T) {
	var seen struct {
		err          error
		rid          string
		connectionID string
	}
	router, _ := newTestRouter(map[command.Type]command.Handler{
		"token.move": func(ctx context.Context, call command.Call) (command.Result, error) {
			seen.err = ctx.Err()
			seen.rid = requestctx.RequestIDFromContext(ctx)
			seen.connectionID = requestctx.ConnectionIDFromContext(ctx)
			return command.Result{Payload: struct{}{}}, nil
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	router.Dispatch(ctx, player("conn-1"), envelope("token.move", "rid-1"))

	if seen.err != nil {
		t.Fatalf("handler context canceled: %v", seen.err)
	}
	if seen.rid != "rid-1" || seen.connectionID != "conn-1" {
		t.Fatalf("unexpected request context: %+v", seen)
	}
}

func TestForgetOnlyDropsGuestBuckets(t *testing.T) {
	cache := idempotency.New(8)
	router := NewRouter(command.NewRegistry(), cache, &recordingTransport{}, nil)
	user := player("c1")
	guest := auth.Guest("c2")
	cache.Set(user.CacheKey(), "rid-1", envelope("token.move", "rid-1"))
	cache.Set(guest.CacheKey(), "rid-1", envelope("token.move", "rid-1"))

	router.Forget(user)
	router.Forget(guest)

	if cache.Len(user.CacheKey()) != 1 {
		t.Fatal("user replay state must survive a disconnect")
	}
	if cache.Len(guest.CacheKey()) != 0 {
		t.Fatal("guest replay state should be dropped")
	}
}
