package errors

import (
	"fmt"
	"testing"
)

func TestErrorIsMatchesByCode(t *testing.T) {
	err := WithMetadata(CodeOutOfBounds, "xCell 32 is outside [0, 32)", map[string]string{"Axis": "x"})
	wrapped := fmt.Errorf("move token: %w", err)

	if !HasCode(wrapped, CodeOutOfBounds) {
		t.Fatal("expected wrapped error to carry OUT_OF_BOUNDS")
	}
	if HasCode(wrapped, CodeStaleUpdate) {
		t.Fatal("did not expect STALE_UPDATE")
	}
	if got := CodeOf(wrapped); got != CodeOutOfBounds {
		t.Fatalf("CodeOf = %q, want %q", got, CodeOutOfBounds)
	}
}

func TestCodeOfUncodedIsInternal(t *testing.T) {
	if got := CodeOf(fmt.Errorf("disk on fire")); got != CodeInternal {
		t.Fatalf("CodeOf = %q, want %q", got, CodeInternal)
	}
}

func TestPublicMessageHidesInternalCauses(t *testing.T) {
	if got := PublicMessage(fmt.Errorf("sqlite: database is locked")); got != internalMessage {
		t.Fatalf("PublicMessage = %q, want %q", got, internalMessage)
	}
	if got := PublicMessage(Wrap(CodeInternal, "update token row", fmt.Errorf("boom"))); got != internalMessage {
		t.Fatalf("PublicMessage = %q, want %q", got, internalMessage)
	}
	if got := PublicMessage(New(CodeForbidden, "token is not owned by caller")); got != "token is not owned by caller" {
		t.Fatalf("PublicMessage = %q", got)
	}
}

func TestUnwrapReturnsCause(t *testing.T) {
	cause := fmt.Errorf("root")
	err := Wrap(CodeInternal, "outer", cause)
	if err.Unwrap() != cause {
		t.Fatal("expected cause to unwrap")
	}
}

func TestRetryableOnlyForStaleUpdate(t *testing.T) {
	for _, code := range []Code{CodeValidation, CodeMissingSession, CodeForbidden, CodeNotFound, CodeOutOfBounds, CodeInternal} {
		if code.Retryable() {
			t.Fatalf("%s should not be retryable", code)
		}
	}
	if !CodeStaleUpdate.Retryable() {
		t.Fatal("STALE_UPDATE should be retryable by the caller")
	}
	if CodeUnknownCommand.Surfaced() {
		t.Fatal("UNKNOWN_COMMAND must not be surfaced")
	}
}
