package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/websocket"

	"github.com/louisbranch/tablemap/internal/platform/id"
	"github.com/louisbranch/tablemap/internal/services/tablemap/auth"
	"github.com/louisbranch/tablemap/internal/services/tablemap/command"
	"github.com/louisbranch/tablemap/internal/services/tablemap/idempotency"
	"github.com/louisbranch/tablemap/internal/services/tablemap/protocol"
)

const (
	// AuthCommand re-authenticates a live connection.
	AuthCommand = "session.auth"

	maxFramePayloadBytes   = 64 * 1024
	maxFramesPerSecond     = 40
	maxDecodeErrorsPerConn = 3
)

// Authenticator resolves a connection identity from a bearer token. It must
// return a usable guest identity alongside any error.
type Authenticator interface {
	Authenticate(connectionID, token string) (auth.Identity, error)
}

// HandlerConfig wires the websocket surface.
type HandlerConfig struct {
	Registry      *command.Registry
	Authenticator Authenticator
	Cache         *idempotency.Cache
	Now           func() time.Time
}

type handler struct {
	registry      *command.Registry
	authenticator Authenticator
	conns         *connRegistry
	router        *Router
	now           func() time.Time

	mu       sync.Mutex
	draining bool
	active   sync.WaitGroup
}

// Handler serves /up and /ws. Websocket connections are hijacked, so
// http.Server.Shutdown does not wait for them; Shutdown does.
type Handler struct {
	mux  *http.ServeMux
	conn *handler
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// Shutdown refuses new websocket connections, closes the live ones, and waits
// until their read loops, and so any command they were running, have returned.
func (h *Handler) Shutdown(ctx context.Context) error {
	h.conn.mu.Lock()
	h.conn.draining = true
	h.conn.mu.Unlock()
	h.conn.conns.hangUpAll()

	done := make(chan struct{})
	go func() {
		h.conn.active.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain websocket connections: %w", ctx.Err())
	}
}

func (h *handler) isDraining() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.draining
}

// join registers a connection unless the handler is draining. The registry
// add happens under the same lock Shutdown takes, so no connection slips in
// after hangUpAll has run.
func (h *handler) join(identity auth.Identity, peer *wsPeer) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.draining {
		return false
	}
	h.active.Add(1)
	h.conns.add(identity, peer)
	return true
}

// NewHandler creates the /up and /ws routes.
func NewHandler(cfg HandlerConfig) *Handler {
	if cfg.Registry == nil {
		cfg.Registry = command.NewRegistry()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	conns := newConnRegistry()
	h := &handler{
		registry:      cfg.Registry,
		authenticator: cfg.Authenticator,
		conns:         conns,
		router:        NewRouter(cfg.Registry, cfg.Cache, conns, cfg.Now),
		now:           cfg.Now,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/up", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	wsServer := websocket.Server{
		Handshake: acceptHandshake,
		Handler:   h.serveConn,
	}
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if h.isDraining() {
			http.Error(w, "shutting down", http.StatusServiceUnavailable)
			return
		}
		wsServer.ServeHTTP(w, r)
	})
	return &Handler{mux: mux, conn: h}
}

// acceptHandshake admits any origin, including none, and answers with a
// single subprotocol. Bearer entries are credentials, not protocols.
func acceptHandshake(config *websocket.Config, _ *http.Request) error {
	if len(config.Protocol) == 0 {
		return nil
	}
	chosen := config.Protocol[0]
	for _, candidate := range config.Protocol {
		if !strings.HasPrefix(candidate, "bearer.") {
			chosen = candidate
			break
		}
	}
	config.Protocol = []string{chosen}
	return nil
}

func (h *handler) authenticate(connectionID, token string) auth.Identity {
	if h.authenticator == nil || strings.TrimSpace(token) == "" {
		return auth.Guest(connectionID)
	}
	identity, err := h.authenticator.Authenticate(connectionID, token)
	if err != nil {
		log.Printf("tablemap: credential rejected conn=%s, continuing as guest: %v", connectionID, err)
		return auth.Guest(connectionID)
	}
	identity.ConnectionID = connectionID
	return identity
}

func (h *handler) serveConn(conn *websocket.Conn) {
	defer func() {
		_ = conn.Close()
	}()
	conn.MaxPayloadBytes = maxFramePayloadBytes

	connectionID, err := id.WithPrefix("conn_")
	if err != nil {
		log.Printf("tablemap: allocate connection id: %v", err)
		return
	}
	identity := h.authenticate(connectionID, auth.CredentialFromRequest(conn.Request()))
	if !h.join(identity, newWSPeer(conn)) {
		return
	}
	defer h.active.Done()
	defer func() {
		last, ok := h.conns.identity(connectionID)
		h.conns.remove(connectionID)
		if ok {
			h.router.Forget(last)
		}
	}()

	ctx := context.Background()
	if request := conn.Request(); request != nil {
		ctx = request.Context()
	}

	windowStart := time.Now()
	framesInWindow := 0
	decodeErrors := 0

	for {
		var data []byte
		if err := websocket.Message.Receive(conn, &data); err != nil {
			if errors.Is(err, websocket.ErrFrameTooLarge) {
				decodeErrors++
				if decodeErrors >= maxDecodeErrorsPerConn {
					return
				}
				continue
			}
			if !errors.Is(err, io.EOF) {
				log.Printf("tablemap: read frame conn=%s: %v", connectionID, err)
			}
			return
		}

		now := time.Now()
		if now.Sub(windowStart) >= time.Second {
			windowStart = now
			framesInWindow = 0
		}
		framesInWindow++
		if framesInWindow > maxFramesPerSecond {
			log.Printf("tablemap: rate limit exceeded conn=%s", connectionID)
			return
		}

		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			decodeErrors++
			if decodeErrors >= maxDecodeErrorsPerConn {
				return
			}
			continue
		}
		decodeErrors = 0

		h.handleEnvelope(ctx, connectionID, env)
	}
}

// handleEnvelope applies the per-frame middleware. Frames without a rid and
// frames with an unregistered type produce no response at all.
func (h *handler) handleEnvelope(ctx context.Context, connectionID string, env protocol.Envelope) {
	env.RID = strings.TrimSpace(env.RID)
	if env.RID == "" {
		return
	}
	if env.Type == AuthCommand {
		h.reauthenticate(connectionID, env)
		return
	}
	if !h.registry.Has(command.Type(env.Type)) {
		return
	}
	identity, ok := h.conns.identity(connectionID)
	if !ok {
		return
	}
	h.router.Dispatch(ctx, identity, env)
}

// reauthenticate rebuilds the connection identity from a new credential and
// moves the connection to the session the credential names.
func (h *handler) reauthenticate(connectionID string, env protocol.Envelope) {
	payload, err := protocol.Decode[protocol.AuthPayload](protocol.AuthSchema, env.Payload)
	if err != nil {
		_ = h.conns.SendToConnection(connectionID, protocol.NewErrorEnvelope(AuthCommand, env.RID, h.now(), err))
		return
	}
	previous, _ := h.conns.identity(connectionID)
	identity := h.authenticate(connectionID, payload.Token)
	if !h.conns.replaceIdentity(identity) {
		return
	}
	if !identity.IsGuest() {
		h.router.Forget(previous)
	}
	response, err := protocol.NewEnvelope(protocol.ResultType(AuthCommand), env.RID, h.now(), protocol.AuthResult{
		UserID:    identity.UserID,
		SessionID: identity.SessionID,
		Role:      identity.Role,
	})
	if err != nil {
		_ = h.conns.SendToConnection(connectionID, protocol.NewErrorEnvelope(AuthCommand, env.RID, h.now(), err))
		return
	}
	_ = h.conns.SendToConnection(connectionID, response)
}
