// Package token implements the token mutation handlers.
//
// Every accepted write goes through a version compare-and-swap in storage; the
// service never holds a lock across a command and never retries on conflict.
package token

import (
	"context"
	"errors"
	"log"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/louisbranch/tablemap/internal/platform/errors"
	"github.com/louisbranch/tablemap/internal/platform/id"
	"github.com/louisbranch/tablemap/internal/platform/requestctx"
	"github.com/louisbranch/tablemap/internal/services/tablemap/domain"
	"github.com/louisbranch/tablemap/internal/services/tablemap/journal"
	"github.com/louisbranch/tablemap/internal/services/tablemap/protocol"
	"github.com/louisbranch/tablemap/internal/services/tablemap/storage"
)

// Store is the persistence the service needs.
type Store interface {
	storage.SceneStore
	storage.TokenStore
}

// Journal records accepted mutations.
type Journal interface {
	Append(rec journal.Record) error
}

// Service enforces authorization, bounds, and optimistic concurrency.
type Service struct {
	store   Store
	now     func() time.Time
	newID   func() (string, error)
	journal Journal
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the mutation timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator overrides token id generation.
func WithIDGenerator(newID func() (string, error)) Option {
	return func(s *Service) {
		if newID != nil {
			s.newID = newID
		}
	}
}

// WithJournal appends accepted mutations to j.
func WithJournal(j Journal) Option {
	return func(s *Service) {
		s.journal = j
	}
}

// NewService builds a token service over store.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store: store,
		now:   time.Now,
		newID: func() (string, error) { return id.WithPrefix("tok_") },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create places a new token at version 0. Only hosts may create tokens.
func (s *Service) Create(ctx context.Context, sessionID string, role domain.Role, payload protocol.CreateTokenPayload) (domain.Token, error) {
	if err := requireSession(sessionID); err != nil {
		return domain.Token{}, err
	}
	if !role.IsHost() {
		return domain.Token{}, apperrors.New(apperrors.CodeForbidden, "only the session host can create tokens")
	}
	if err := payload.Validate(); err != nil {
		return domain.Token{}, err
	}
	visibility, err := domain.ParseVisibility(payload.Visibility)
	if err != nil {
		return domain.Token{}, err
	}

	scene, err := s.store.FindScene(ctx, sessionID, strings.TrimSpace(payload.SceneID))
	if err != nil {
		return domain.Token{}, translate(err, "scene not found", "load scene")
	}
	if err := scene.Contains(payload.XCell, payload.YCell); err != nil {
		return domain.Token{}, err
	}

	tokenID, err := s.newID()
	if err != nil {
		return domain.Token{}, apperrors.Wrap(apperrors.CodeInternal, "generate token id", err)
	}
	var owner *string
	if payload.OwnerUserID != nil {
		owner = domain.StringPtr(*payload.OwnerUserID)
	}
	now := s.timestamp()
	created, err := s.store.CreateToken(ctx, domain.Token{
		ID:          tokenID,
		SceneID:     scene.ID,
		SessionID:   sessionID,
		OwnerUserID: owner,
		Name:        strings.TrimSpace(payload.Name),
		XCell:       payload.XCell,
		YCell:       payload.YCell,
		Sprite:      strings.TrimSpace(payload.Sprite),
		Visibility:  visibility,
		Version:     0,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		return domain.Token{}, apperrors.Wrap(apperrors.CodeInternal, "persist token", err)
	}
	s.record(ctx, string(CreateCommand), "", created)
	return created, nil
}

// Move relocates a token, advancing its version by exactly one.
//
// Non-hosts may move only tokens they own. When payload.Version is set it must
// match the stored version; the storage compare-and-swap then rejects any
// writer that lost a race since the token was read.
func (s *Service) Move(ctx context.Context, sessionID string, role domain.Role, userID string, payload protocol.MoveTokenPayload) (domain.Token, error) {
	if err := requireSession(sessionID); err != nil {
		return domain.Token{}, err
	}
	if err := payload.Validate(); err != nil {
		return domain.Token{}, err
	}

	current, err := s.store.FindToken(ctx, sessionID, strings.TrimSpace(payload.TokenID))
	if err != nil {
		return domain.Token{}, translate(err, "token not found", "load token")
	}
	if !role.IsHost() && !current.OwnedBy(userID) {
		return domain.Token{}, apperrors.New(apperrors.CodeForbidden, "token is not owned by caller")
	}

	scene, err := s.store.FindScene(ctx, sessionID, current.SceneID)
	if err != nil {
		return domain.Token{}, translate(err, "scene not found", "load scene")
	}
	if err := scene.Contains(payload.XCell, payload.YCell); err != nil {
		return domain.Token{}, err
	}
	if payload.Version != nil && *payload.Version != current.Version {
		return domain.Token{}, staleError(current.Version)
	}

	updated, err := s.store.UpdateToken(ctx, current.ID, current.Version, storage.TokenPatch{
		XCell:     payload.XCell,
		YCell:     payload.YCell,
		UpdatedAt: s.timestamp(),
	})
	if err != nil {
		if errors.Is(err, storage.ErrStaleUpdate) {
			return domain.Token{}, staleError(current.Version)
		}
		return domain.Token{}, translate(err, "token not found", "update token")
	}
	s.record(ctx, string(MoveCommand), userID, updated)
	return updated, nil
}

// Snapshot returns a scene and the tokens role may observe on it.
func (s *Service) Snapshot(ctx context.Context, sessionID string, role domain.Role, payload protocol.SceneSnapshotPayload) (protocol.SceneSnapshot, error) {
	if err := requireSession(sessionID); err != nil {
		return protocol.SceneSnapshot{}, err
	}
	if err := payload.Validate(); err != nil {
		return protocol.SceneSnapshot{}, err
	}
	scene, err := s.store.FindScene(ctx, sessionID, strings.TrimSpace(payload.SceneID))
	if err != nil {
		return protocol.SceneSnapshot{}, translate(err, "scene not found", "load scene")
	}
	tokens, err := s.store.ListTokens(ctx, sessionID, scene.ID)
	if err != nil {
		return protocol.SceneSnapshot{}, apperrors.Wrap(apperrors.CodeInternal, "list tokens", err)
	}
	visible := make([]domain.Token, 0, len(tokens))
	for _, token := range tokens {
		if token.VisibleTo(role) {
			visible = append(visible, token)
		}
	}
	return protocol.SceneSnapshot{Scene: scene, Tokens: visible}, nil
}

func (s *Service) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Millisecond)
}

// record journals an accepted mutation. The rid, connection and acting user
// come from the command context; actorUserID covers callers outside the router.
func (s *Service) record(ctx context.Context, commandType, actorUserID string, token domain.Token) {
	if s.journal == nil {
		return
	}
	if fromCtx := requestctx.UserIDFromContext(ctx); fromCtx != "" {
		actorUserID = fromCtx
	}
	rid := requestctx.RequestIDFromContext(ctx)
	err := s.journal.Append(journal.Record{
		At:           token.UpdatedAt,
		Command:      commandType,
		RequestID:    rid,
		ConnectionID: requestctx.ConnectionIDFromContext(ctx),
		SessionID:    token.SessionID,
		SceneID:      token.SceneID,
		TokenID:      token.ID,
		Version:      token.Version,
		XCell:        token.XCell,
		YCell:        token.YCell,
		ActorUserID:  actorUserID,
	})
	if err != nil {
		log.Printf("tablemap: journal append failed command=%s rid=%s token=%s version=%d err=%v", commandType, rid, token.ID, token.Version, err)
	}
}

func requireSession(sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return apperrors.New(apperrors.CodeMissingSession, "session is required")
	}
	return nil
}

func staleError(version int64) error {
	return apperrors.WithMetadata(
		apperrors.CodeStaleUpdate,
		"token changed since it was read; refetch and retry",
		map[string]string{"currentVersion": strconv.FormatInt(version, 10)},
	)
}

// translate maps storage sentinels to coded errors. Anything else is an
// infrastructure failure.
func translate(err error, notFoundMessage, operation string) error {
	if errors.Is(err, storage.ErrNotFound) {
		return apperrors.New(apperrors.CodeNotFound, notFoundMessage)
	}
	var coded *apperrors.Error
	if errors.As(err, &coded) {
		return err
	}
	return apperrors.Wrap(apperrors.CodeInternal, operation, err)
}
