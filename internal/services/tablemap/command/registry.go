// Package command maps command tags to handlers and executes them.
package command

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	apperrors "github.com/louisbranch/tablemap/internal/platform/errors"
	platformotel "github.com/louisbranch/tablemap/internal/platform/otel"
	"github.com/louisbranch/tablemap/internal/services/tablemap/auth"
)

// ErrUnknownCommand is returned by Execute for unregistered tags.
var ErrUnknownCommand = apperrors.New(apperrors.CodeUnknownCommand, "unknown command")

// Type is a command tag such as token.move.
type Type string

// Audience selects who besides the requester receives a success envelope.
type Audience int

const (
	// AudienceSession broadcasts to every other connection in the session.
	AudienceSession Audience = iota
	// AudienceHosts broadcasts only to the session's hosts.
	AudienceHosts
	// AudienceRequester suppresses the broadcast.
	AudienceRequester
)

// Call is the input handed to a handler.
type Call struct {
	Type       Type
	RequestID  string
	Identity   auth.Identity
	Payload    json.RawMessage
	ReceivedAt time.Time
}

// Result is a handler's successful outcome.
type Result struct {
	// Type overrides the default <command>.result tag when set.
	Type     string
	Payload  any
	Audience Audience
}

// Handler executes one command.
type Handler func(ctx context.Context, call Call) (Result, error)

// Registry is a flat table of command handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[Type]Handler
	tracer   trace.Tracer
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[Type]Handler),
		tracer:   platformotel.Tracer("command"),
	}
}

// Register binds handler to commandType. A later registration replaces an earlier one.
func (r *Registry) Register(commandType Type, handler Handler) {
	r.mu.Lock()
	r.handlers[commandType] = handler
	r.mu.Unlock()
}

// Has reports whether commandType is registered.
func (r *Registry) Has(commandType Type) bool {
	r.mu.RLock()
	_, ok := r.handlers[commandType]
	r.mu.RUnlock()
	return ok
}

// Types returns the registered tags in lexical order.
func (r *Registry) Types() []Type {
	r.mu.RLock()
	types := make([]Type, 0, len(r.handlers))
	for commandType := range r.handlers {
		types = append(types, commandType)
	}
	r.mu.RUnlock()
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// Execute runs the handler bound to commandType. Handler failures are
// returned unchanged.
func (r *Registry) Execute(ctx context.Context, commandType Type, call Call) (Result, error) {
	r.mu.RLock()
	handler, ok := r.handlers[commandType]
	r.mu.RUnlock()
	if !ok || handler == nil {
		return Result{}, ErrUnknownCommand
	}
	call.Type = commandType

	ctx, span := r.tracer.Start(ctx, "tablemap.command/"+string(commandType),
		trace.WithAttributes(
			attribute.String("tablemap.command", string(commandType)),
			attribute.String("tablemap.rid", call.RequestID),
			attribute.String("tablemap.session_id", call.Identity.SessionID),
		),
	)
	defer span.End()

	result, err := handler(ctx, call)
	if err != nil {
		span.SetAttributes(attribute.String("tablemap.error_code", string(apperrors.CodeOf(err))))
		span.SetStatus(codes.Error, err.Error())
	}
	return result, err
}
