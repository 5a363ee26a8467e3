package command

import (
	"context"
	"errors"
	"reflect"
	"testing"

	apperrors "github.com/louisbranch/tablemap/internal/platform/errors"
	"github.com/louisbranch/tablemap/internal/services/tablemap/auth"
)

func TestExecuteUnknownCommand(t *testing.T) {
	registry := NewRegistry()
	_, err := registry.Execute(context.Background(), "token.fly", Call{})
	if !errors.Is(err, ErrUnknownCommand) {
		t.Fatalf("expected ErrUnknownCommand, got %v", err)
	}
	if apperrors.CodeOf(err) != apperrors.CodeUnknownCommand {
		t.Fatalf("code = %s", apperrors.CodeOf(err))
	}
}

func TestExecuteInvokesHandlerWithCall(t *testing.T) {
	registry := NewRegistry()
	var got Call
	registry.Register("token.move", func(_ context.Context, call Call) (Result, error) {
		got = call
		return Result{Payload: "moved", Audience: AudienceHosts}, nil
	})

	identity := auth.Identity{ConnectionID: "conn-1", UserID: "user-1", SessionID: "sess-1"}
	result, err := registry.Execute(context.Background(), "token.move", Call{RequestID: "rid-1", Identity: identity})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.Payload != "moved" || result.Audience != AudienceHosts {
		t.Fatalf("unexpected result: %+v", result)
	}
	if got.Type != "token.move" || got.RequestID != "rid-1" || got.Identity != identity {
		t.Fatalf("unexpected call: %+v", got)
	}
}

func TestExecutePropagatesHandlerError(t *testing.T) {
	registry := NewRegistry()
	want := apperrors.New(apperrors.CodeForbidden, "nope")
	registry.Register("token.move", func(context.Context, Call) (Result, error) {
		return Result{}, want
	})
	_, err := registry.Execute(context.Background(), "token.move", Call{})
	if err != want {
		t.Fatalf("expected handler error unchanged, got %v", err)
	}
}

func TestRegisterLastWins(t *testing.T) {
	registry := NewRegistry()
	registry.Register("token.move", func(context.Context, Call) (Result, error) {
		return Result{Payload: "first"}, nil
	})
	registry.Register("token.move", func(context.Context, Call) (Result, error) {
		return Result{Payload: "second"}, nil
	})
	result, err := registry.Execute(context.Background(), "token.move", Call{})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.Payload != "second" {
		t.Fatalf("payload = %v, want second", result.Payload)
	}
}

func TestHasAndTypes(t *testing.T) {
	registry := NewRegistry()
	noop := func(context.Context, Call) (Result, error) { return Result{}, nil }
	registry.Register("token.move", noop)
	registry.Register("scene.snapshot", noop)
	registry.Register("token.create", noop)

	if !registry.Has("token.move") || registry.Has("token.delete") {
		t.Fatal("unexpected Has result")
	}
	want := []Type{"scene.snapshot", "token.create", "token.move"}
	if got := registry.Types(); !reflect.DeepEqual(got, want) {
		t.Fatalf("types = %v, want %v", got, want)
	}
}
