package app

import (
	"context"
	"errors"
	"log"
	"time"

	"golang.org/x/sync/singleflight"

	apperrors "github.com/louisbranch/tablemap/internal/platform/errors"
	"github.com/louisbranch/tablemap/internal/platform/requestctx"
	"github.com/louisbranch/tablemap/internal/platform/timeouts"
	"github.com/louisbranch/tablemap/internal/services/tablemap/auth"
	"github.com/louisbranch/tablemap/internal/services/tablemap/command"
	"github.com/louisbranch/tablemap/internal/services/tablemap/idempotency"
	"github.com/louisbranch/tablemap/internal/services/tablemap/protocol"
)

// Router executes commands and fans their outcome out to connections.
// Each (identity, rid) pair is executed at most once while its response is
// still cached.
type Router struct {
	registry  *command.Registry
	cache     *idempotency.Cache
	transport Transport
	inflight  singleflight.Group
	now       func() time.Time
	timeout   time.Duration
}

// NewRouter builds a router. A nil cache gets the default capacity.
func NewRouter(registry *command.Registry, cache *idempotency.Cache, transport Transport, now func() time.Time) *Router {
	if cache == nil {
		cache = idempotency.New(idempotency.DefaultCapacity)
	}
	if now == nil {
		now = time.Now
	}
	return &Router{
		registry:  registry,
		cache:     cache,
		transport: transport,
		now:       now,
		timeout:   timeouts.Command,
	}
}

// outcome is what one execution produced.
type outcome struct {
	response  protocol.Envelope
	audience  command.Audience
	broadcast bool
	drop      bool
}

// Dispatch handles one envelope from identity's connection. Replays of a
// cached rid are answered from the cache without touching the registry.
func (r *Router) Dispatch(ctx context.Context, identity auth.Identity, env protocol.Envelope) {
	key := identity.CacheKey()
	if cached, ok := r.cache.Get(key, env.RID); ok {
		r.reply(identity, cached)
		return
	}

	executed := false
	v, _, _ := r.inflight.Do(key+"\x00"+env.RID, func() (any, error) {
		executed = true
		if cached, ok := r.cache.Get(key, env.RID); ok {
			r.reply(identity, cached)
			return outcome{response: cached}, nil
		}
		out := r.execute(ctx, identity, env)
		if out.drop {
			return out, nil
		}
		r.cache.Set(key, env.RID, out.response)
		r.reply(identity, out.response)
		if out.broadcast {
			r.broadcast(identity, out)
		}
		return out, nil
	})
	if executed {
		return
	}
	// A concurrent duplicate shared the in-flight execution.
	if out, ok := v.(outcome); ok && !out.drop {
		r.reply(identity, out.response)
	}
}

func (r *Router) execute(ctx context.Context, identity auth.Identity, env protocol.Envelope) outcome {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()
	ctx = requestctx.WithConnectionID(ctx, identity.ConnectionID)
	ctx = requestctx.WithRequestID(ctx, env.RID)
	ctx = requestctx.WithUserID(ctx, identity.UserID)

	receivedAt := r.now().UTC()
	result, err := r.registry.Execute(ctx, command.Type(env.Type), command.Call{
		RequestID:  env.RID,
		Identity:   identity,
		Payload:    env.Payload,
		ReceivedAt: receivedAt,
	})
	if err != nil {
		return r.failure(identity, env, err)
	}

	responseType := result.Type
	if responseType == "" {
		responseType = protocol.ResultType(env.Type)
	}
	response, err := protocol.NewEnvelope(responseType, env.RID, r.now(), result.Payload)
	if err != nil {
		return r.failure(identity, env, err)
	}
	return outcome{
		response:  response,
		audience:  result.Audience,
		broadcast: result.Audience != command.AudienceRequester,
	}
}

func (r *Router) failure(identity auth.Identity, env protocol.Envelope, err error) outcome {
	code := apperrors.CodeOf(err)
	if !code.Surfaced() || errors.Is(err, command.ErrUnknownCommand) {
		return outcome{drop: true}
	}
	if code == apperrors.CodeInternal {
		log.Printf("tablemap: command failed type=%s rid=%s conn=%s err=%v", env.Type, env.RID, identity.ConnectionID, err)
	}
	return outcome{response: protocol.NewErrorEnvelope(env.Type, env.RID, r.now(), err)}
}

func (r *Router) reply(identity auth.Identity, response protocol.Envelope) {
	if r.transport == nil {
		return
	}
	if err := r.transport.SendToConnection(identity.ConnectionID, response); err != nil && !errors.Is(err, errConnectionClosed) {
		log.Printf("tablemap: reply failed rid=%s conn=%s err=%v", response.RID, identity.ConnectionID, err)
	}
}

func (r *Router) broadcast(identity auth.Identity, out outcome) {
	if r.transport == nil || identity.SessionID == "" {
		return
	}
	var include func(auth.Identity) bool
	if out.audience == command.AudienceHosts {
		include = func(peer auth.Identity) bool { return peer.Role.IsHost() }
	}
	r.transport.BroadcastToSession(identity.SessionID, out.response, identity.ConnectionID, include)
}

// Forget drops a guest's connection-scoped replay bucket. Nothing can hit it
// again once that connection closes or signs in as a user.
func (r *Router) Forget(identity auth.Identity) {
	if identity.IsGuest() {
		r.cache.Remove(identity.CacheKey())
	}
}
