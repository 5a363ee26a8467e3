package app

import (
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/louisbranch/tablemap/internal/platform/timeouts"
	"github.com/louisbranch/tablemap/internal/services/tablemap/auth"
	"github.com/louisbranch/tablemap/internal/services/tablemap/protocol"
)

var errConnectionClosed = errors.New("connection is not registered")

// Transport delivers envelopes to connections.
type Transport interface {
	SendToConnection(connectionID string, env protocol.Envelope) error
	// BroadcastToSession delivers env to every connection joined to sessionID
	// except excludeConnectionID. A nil include admits every identity.
	BroadcastToSession(sessionID string, env protocol.Envelope, excludeConnectionID string, include func(auth.Identity) bool)
}

// frameWriter is the write half of a websocket connection.
type frameWriter interface {
	Write(p []byte) (int, error)
	SetWriteDeadline(t time.Time) error
}

// wsPeer serializes writes to one connection.
type wsPeer struct {
	mu     sync.Mutex
	conn   frameWriter
	closed bool
}

func newWSPeer(conn frameWriter) *wsPeer {
	return &wsPeer{conn: conn}
}

func (p *wsPeer) writeEnvelope(env protocol.Envelope) error {
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errConnectionClosed
	}
	_ = p.conn.SetWriteDeadline(time.Now().Add(timeouts.PeerWrite))
	_, err = p.conn.Write(b)
	return err
}

func (p *wsPeer) close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}

// hangUp closes the underlying socket so a blocked read returns.
func (p *wsPeer) hangUp() {
	p.close()
	if closer, ok := p.conn.(io.Closer); ok {
		_ = closer.Close()
	}
}

type connection struct {
	identity auth.Identity
	peer     *wsPeer
}

// connRegistry maps connection ids to their identity and peer. Identities are
// replaced as whole values, never edited in place.
type connRegistry struct {
	mu    sync.RWMutex
	conns map[string]connection
}

func newConnRegistry() *connRegistry {
	return &connRegistry{conns: make(map[string]connection)}
}

func (r *connRegistry) add(identity auth.Identity, peer *wsPeer) {
	r.mu.Lock()
	r.conns[identity.ConnectionID] = connection{identity: identity, peer: peer}
	r.mu.Unlock()
}

// replaceIdentity swaps the identity of a live connection, moving it between
// session groups. It reports false when the connection is gone.
func (r *connRegistry) replaceIdentity(identity auth.Identity) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.conns[identity.ConnectionID]
	if !ok {
		return false
	}
	r.conns[identity.ConnectionID] = connection{identity: identity, peer: existing.peer}
	return true
}

func (r *connRegistry) remove(connectionID string) {
	r.mu.Lock()
	existing, ok := r.conns[connectionID]
	delete(r.conns, connectionID)
	r.mu.Unlock()
	if ok {
		existing.peer.close()
	}
}

func (r *connRegistry) identity(connectionID string) (auth.Identity, bool) {
	r.mu.RLock()
	existing, ok := r.conns[connectionID]
	r.mu.RUnlock()
	return existing.identity, ok
}

// hangUpAll closes every registered socket.
func (r *connRegistry) hangUpAll() {
	r.mu.RLock()
	peers := make([]*wsPeer, 0, len(r.conns))
	for _, c := range r.conns {
		peers = append(peers, c.peer)
	}
	r.mu.RUnlock()
	for _, peer := range peers {
		peer.hangUp()
	}
}

// SendToConnection implements Transport.
func (r *connRegistry) SendToConnection(connectionID string, env protocol.Envelope) error {
	r.mu.RLock()
	existing, ok := r.conns[connectionID]
	r.mu.RUnlock()
	if !ok {
		return errConnectionClosed
	}
	return existing.peer.writeEnvelope(env)
}

// BroadcastToSession implements Transport. Targets are collected under the
// read lock and written after it is released.
func (r *connRegistry) BroadcastToSession(sessionID string, env protocol.Envelope, excludeConnectionID string, include func(auth.Identity) bool) {
	if sessionID == "" {
		return
	}
	r.mu.RLock()
	targets := make([]*wsPeer, 0, len(r.conns))
	for connectionID, c := range r.conns {
		if connectionID == excludeConnectionID || c.identity.SessionID != sessionID {
			continue
		}
		if include != nil && !include(c.identity) {
			continue
		}
		targets = append(targets, c.peer)
	}
	r.mu.RUnlock()

	for _, peer := range targets {
		_ = peer.writeEnvelope(env)
	}
}

var _ Transport = (*connRegistry)(nil)
