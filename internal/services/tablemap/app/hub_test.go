package app

import (
	"bytes"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/louisbranch/tablemap/internal/services/tablemap/auth"
	"github.com/louisbranch/tablemap/internal/services/tablemap/domain"
	"github.com/louisbranch/tablemap/internal/services/tablemap/protocol"
)

type bufferWriter struct {
	mu     sync.Mutex
	frames [][]byte
}

func (b *bufferWriter) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.frames = append(b.frames, bytes.Clone(p))
	return len(p), nil
}

func (b *bufferWriter) SetWriteDeadline(time.Time) error { return nil }

func (b *bufferWriter) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.frames)
}

func addConn(r *connRegistry, identity auth.Identity) *bufferWriter {
	w := &bufferWriter{}
	r.add(identity, newWSPeer(w))
	return w
}

func TestBroadcastToSessionFiltersTargets(t *testing.T) {
	registry := newConnRegistry()
	requester := addConn(registry, auth.Identity{ConnectionID: "c1", UserID: "host-1", SessionID: "s1", Role: domain.RoleHost})
	peerHost := addConn(registry, auth.Identity{ConnectionID: "c2", UserID: "host-2", SessionID: "s1", Role: domain.RoleHost})
	peerPlayer := addConn(registry, auth.Identity{ConnectionID: "c3", UserID: "user-1", SessionID: "s1", Role: domain.RolePlayer})
	outsider := addConn(registry, auth.Identity{ConnectionID: "c4", UserID: "user-2", SessionID: "s2", Role: domain.RoleHost})

	env := protocol.Envelope{Type: "token.move.result", RID: "r1", Payload: json.RawMessage(`{}`)}
	registry.BroadcastToSession("s1", env, "c1", nil)
	if requester.count() != 0 || peerHost.count() != 1 || peerPlayer.count() != 1 || outsider.count() != 0 {
		t.Fatalf("unexpected fan-out: %d %d %d %d", requester.count(), peerHost.count(), peerPlayer.count(), outsider.count())
	}

	registry.BroadcastToSession("s1", env, "c1", func(identity auth.Identity) bool { return identity.Role.IsHost() })
	if peerHost.count() != 2 || peerPlayer.count() != 1 {
		t.Fatalf("host filter ignored: host=%d player=%d", peerHost.count(), peerPlayer.count())
	}

	var decoded protocol.Envelope
	if err := json.Unmarshal(peerHost.frames[0], &decoded); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	if decoded.RID != "r1" {
		t.Fatalf("rid = %q", decoded.RID)
	}
}

func TestReplaceIdentityMovesSessionGroup(t *testing.T) {
	registry := newConnRegistry()
	w := addConn(registry, auth.Guest("c1"))
	registry.BroadcastToSession("s1", protocol.Envelope{Type: "x"}, "", nil)
	if w.count() != 0 {
		t.Fatal("guest should not be in a session group")
	}

	if !registry.replaceIdentity(auth.Identity{ConnectionID: "c1", UserID: "user-1", SessionID: "s1", Role: domain.RolePlayer}) {
		t.Fatal("expected replace to succeed")
	}
	registry.BroadcastToSession("s1", protocol.Envelope{Type: "x"}, "", nil)
	if w.count() != 1 {
		t.Fatalf("frames = %d, want 1", w.count())
	}

	identity, ok := registry.identity("c1")
	if !ok || identity.UserID != "user-1" {
		t.Fatalf("identity = %+v", identity)
	}
}

func TestRemovedConnectionRejectsWrites(t *testing.T) {
	registry := newConnRegistry()
	addConn(registry, auth.Guest("c1"))
	registry.remove("c1")

	if err := registry.SendToConnection("c1", protocol.Envelope{Type: "x"}); err == nil {
		t.Fatal("expected error sending to removed connection")
	}
	if registry.replaceIdentity(auth.Guest("c1")) {
		t.Fatal("replace must fail for removed connection")
	}
}
