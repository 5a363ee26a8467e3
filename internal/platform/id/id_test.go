package id

import (
	"strings"
	"testing"

	"github.com/google/uuid"
)

func decode(t *testing.T, value string) uuid.UUID {
	t.Helper()
	raw, err := encoding.DecodeString(strings.ToUpper(value))
	if err != nil {
		t.Fatalf("decode %q: %v", value, err)
	}
	parsed, err := uuid.FromBytes(raw)
	if err != nil {
		t.Fatalf("from bytes: %v", err)
	}
	return parsed
}

func TestNewIDIsLowercaseBase32UUIDv4(t *testing.T) {
	value, err := NewID()
	if err != nil {
		t.Fatalf("new id: %v", err)
	}
	if len(value) != 26 || strings.ContainsAny(value, "=ABCDEFGHIJKLMNOPQRSTUVWXYZ") {
		t.Fatalf("id %q is not 26 lowercase unpadded characters", value)
	}
	parsed := decode(t, value)
	if parsed.Version() != 4 || parsed.Variant() != uuid.RFC4122 {
		t.Fatalf("id %q decodes to version %d variant %s", value, parsed.Version(), parsed.Variant())
	}
}

func TestWithPrefixKeepsDecodableSuffix(t *testing.T) {
	value, err := WithPrefix("conn_")
	if err != nil {
		t.Fatalf("with prefix: %v", err)
	}
	suffix, ok := strings.CutPrefix(value, "conn_")
	if !ok {
		t.Fatalf("id %q lacks conn_ prefix", value)
	}
	decode(t, suffix)
}

func TestNewIDIsUnique(t *testing.T) {
	seen := make(map[string]bool, 128)
	for range 128 {
		value, err := NewID()
		if err != nil {
			t.Fatalf("new id: %v", err)
		}
		if seen[value] {
			t.Fatalf("duplicate id %q", value)
		}
		seen[value] = true
	}
}
