// Package errors provides structured, coded errors shared by the tablemap core.
package errors

// Code is a machine-readable error code.
type Code string

const (
	// CodeInternal represents an infrastructure failure. Its message is never surfaced.
	CodeInternal Code = "INTERNAL"

	// Input errors
	CodeValidation     Code = "VALIDATION_ERROR"
	CodeMissingSession Code = "MISSING_SESSION"

	// Authorization errors
	CodeForbidden Code = "FORBIDDEN"

	// Lookup errors
	CodeNotFound Code = "NOT_FOUND"

	// Grid errors
	CodeOutOfBounds Code = "OUT_OF_BOUNDS"

	// Concurrency errors
	CodeStaleUpdate Code = "STALE_UPDATE"

	// Dispatch errors
	CodeUnknownCommand Code = "UNKNOWN_COMMAND"
)

// Retryable reports whether a caller can resubmit after re-fetching state.
// No code is ever retried by the server itself.
func (c Code) Retryable() bool {
	return c == CodeStaleUpdate
}

// Surfaced reports whether failures with this code reach the requester.
func (c Code) Surfaced() bool {
	return c != CodeUnknownCommand
}
