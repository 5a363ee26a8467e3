package client

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/louisbranch/tablemap/internal/services/tablemap/domain"
	"github.com/louisbranch/tablemap/internal/services/tablemap/protocol"
)

// Replica is a receiver-side token view. Updates may arrive out of order,
// so each token only ever moves to a newer version.
type Replica struct {
	mu     sync.RWMutex
	tokens map[string]domain.Token
}

// NewReplica returns an empty replica.
func NewReplica() *Replica {
	return &Replica{tokens: make(map[string]domain.Token)}
}

// Apply stores incoming unless the replica already holds a newer copy.
func (r *Replica) Apply(incoming domain.Token) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	local, ok := r.tokens[incoming.ID]
	if ok && !incoming.IsNewerThan(local) {
		return false
	}
	r.tokens[incoming.ID] = incoming
	return true
}

// ApplyEnvelope folds a server envelope into the replica. It reports how many
// tokens changed. Envelopes that carry no token state are ignored.
func (r *Replica) ApplyEnvelope(env protocol.Envelope) (int, error) {
	if env.IsError() {
		return 0, nil
	}
	switch {
	case env.Type == "scene.snapshot.result":
		var snapshot protocol.SceneSnapshot
		if err := json.Unmarshal(env.Payload, &snapshot); err != nil {
			return 0, fmt.Errorf("decode snapshot: %w", err)
		}
		changed := 0
		for _, token := range snapshot.Tokens {
			if r.Apply(token) {
				changed++
			}
		}
		return changed, nil
	case strings.HasPrefix(env.Type, "token."):
		var token domain.Token
		if err := json.Unmarshal(env.Payload, &token); err != nil {
			return 0, fmt.Errorf("decode token: %w", err)
		}
		if token.ID == "" {
			return 0, nil
		}
		if r.Apply(token) {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, nil
	}
}

// Token returns the replica's copy of id.
func (r *Replica) Token(id string) (domain.Token, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	token, ok := r.tokens[id]
	return token, ok
}

// Tokens returns every token ordered by id.
func (r *Replica) Tokens() []domain.Token {
	r.mu.RLock()
	out := make([]domain.Token, 0, len(r.tokens))
	for _, token := range r.tokens {
		out = append(out, token)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
