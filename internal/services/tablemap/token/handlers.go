package token

import (
	"context"

	apperrors "github.com/louisbranch/tablemap/internal/platform/errors"
	"github.com/louisbranch/tablemap/internal/services/tablemap/command"
	"github.com/louisbranch/tablemap/internal/services/tablemap/domain"
	"github.com/louisbranch/tablemap/internal/services/tablemap/protocol"
)

// Command tags served by this package.
const (
	CreateCommand   command.Type = "token.create"
	MoveCommand     command.Type = "token.move"
	SnapshotCommand command.Type = "scene.snapshot"
)

// Register binds the token commands to registry.
func (s *Service) Register(registry *command.Registry) {
	registry.Register(CreateCommand, s.handleCreate)
	registry.Register(MoveCommand, s.handleMove)
	registry.Register(SnapshotCommand, s.handleSnapshot)
}

func (s *Service) handleCreate(ctx context.Context, call command.Call) (command.Result, error) {
	identity := call.Identity
	if err := requireSession(identity.SessionID); err != nil {
		return command.Result{}, err
	}
	if !identity.Role.IsHost() {
		return command.Result{}, apperrors.New(apperrors.CodeForbidden, "only the session host can create tokens")
	}
	payload, err := protocol.Decode[protocol.CreateTokenPayload](protocol.CreateTokenSchema, call.Payload)
	if err != nil {
		return command.Result{}, err
	}
	created, err := s.Create(ctx, identity.SessionID, identity.Role, payload)
	if err != nil {
		return command.Result{}, err
	}
	return command.Result{Payload: created, Audience: audienceFor(created)}, nil
}

func (s *Service) handleMove(ctx context.Context, call command.Call) (command.Result, error) {
	identity := call.Identity
	if err := requireSession(identity.SessionID); err != nil {
		return command.Result{}, err
	}
	payload, err := protocol.Decode[protocol.MoveTokenPayload](protocol.MoveTokenSchema, call.Payload)
	if err != nil {
		return command.Result{}, err
	}
	moved, err := s.Move(ctx, identity.SessionID, identity.Role, identity.UserID, payload)
	if err != nil {
		return command.Result{}, err
	}
	return command.Result{Payload: moved, Audience: audienceFor(moved)}, nil
}

func (s *Service) handleSnapshot(ctx context.Context, call command.Call) (command.Result, error) {
	identity := call.Identity
	if err := requireSession(identity.SessionID); err != nil {
		return command.Result{}, err
	}
	payload, err := protocol.Decode[protocol.SceneSnapshotPayload](protocol.SceneSnapshotSchema, call.Payload)
	if err != nil {
		return command.Result{}, err
	}
	snapshot, err := s.Snapshot(ctx, identity.SessionID, identity.Role, payload)
	if err != nil {
		return command.Result{}, err
	}
	return command.Result{Payload: snapshot, Audience: command.AudienceRequester}, nil
}

// audienceFor keeps hidden tokens off non-host screens.
func audienceFor(token domain.Token) command.Audience {
	if token.Visibility == domain.VisibilityHidden {
		return command.AudienceHosts
	}
	return command.AudienceSession
}
