// Package protocol defines the websocket envelope and typed command payloads.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/louisbranch/tablemap/internal/platform/errors"
)

const (
	resultSuffix = ".result"
	errorSuffix  = ".error"
)

// Envelope is the symmetric frame shape used in both directions.
type Envelope struct {
	Type    string          `json:"type"`
	RID     string          `json:"rid"`
	TS      int64           `json:"ts"`
	Payload json.RawMessage `json:"payload"`
}

// ErrorPayload is carried by every <command>.error envelope.
type ErrorPayload struct {
	Message string            `json:"message"`
	Code    string            `json:"code"`
	Details map[string]string `json:"details,omitempty"`
	// Retryable marks failures the caller may resubmit after re-fetching state.
	Retryable bool `json:"retryable,omitempty"`
}

// ResultType is the default success tag for a command.
func ResultType(commandType string) string {
	return commandType + resultSuffix
}

// ErrorType is the failure tag for a command.
func ErrorType(commandType string) string {
	return commandType + errorSuffix
}

// Timestamp converts t to envelope milliseconds.
func Timestamp(t time.Time) int64 {
	return t.UnixMilli()
}

// NewEnvelope marshals payload into an envelope.
func NewEnvelope(envelopeType, rid string, at time.Time, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", envelopeType, err)
	}
	return Envelope{
		Type:    envelopeType,
		RID:     rid,
		TS:      Timestamp(at),
		Payload: raw,
	}, nil
}

// NewErrorEnvelope builds the failure envelope for commandType.
// Uncoded and internal failures are reported with a generic message.
func NewErrorEnvelope(commandType, rid string, at time.Time, err error) Envelope {
	code := apperrors.CodeOf(err)
	payload := ErrorPayload{
		Message:   apperrors.PublicMessage(err),
		Code:      string(code),
		Retryable: code.Retryable(),
	}
	var coded *apperrors.Error
	if code != apperrors.CodeInternal && errors.As(err, &coded) && len(coded.Metadata) > 0 {
		payload.Details = coded.Metadata
	}
	raw, marshalErr := json.Marshal(payload)
	if marshalErr != nil {
		raw = json.RawMessage(`{"message":"internal error","code":"INTERNAL"}`)
	}
	return Envelope{
		Type:    ErrorType(commandType),
		RID:     rid,
		TS:      Timestamp(at),
		Payload: raw,
	}
}

// IsError reports whether the envelope carries a failure.
func (e Envelope) IsError() bool {
	return len(e.Type) > len(errorSuffix) && e.Type[len(e.Type)-len(errorSuffix):] == errorSuffix
}

// DecodeError reads the failure payload of an error envelope.
func (e Envelope) DecodeError() (ErrorPayload, error) {
	var payload ErrorPayload
	if err := json.Unmarshal(e.Payload, &payload); err != nil {
		return ErrorPayload{}, fmt.Errorf("decode error payload: %w", err)
	}
	return payload, nil
}
