package protocol

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	apperrors "github.com/louisbranch/tablemap/internal/platform/errors"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// Schema is a compiled payload schema.
type Schema struct {
	name     string
	compiled *jsonschema.Schema
}

// Name returns the schema file name.
func (s *Schema) Name() string {
	if s == nil {
		return ""
	}
	return s.name
}

var (
	CreateTokenSchema   = mustLoadSchema("token.create.json")
	MoveTokenSchema     = mustLoadSchema("token.move.json")
	SceneSnapshotSchema = mustLoadSchema("scene.snapshot.json")
	AuthSchema          = mustLoadSchema("session.auth.json")
)

// LoadSchema compiles one of the embedded payload schemas.
func LoadSchema(name string) (*Schema, error) {
	raw, err := schemaFS.ReadFile("schemas/" + name)
	if err != nil {
		return nil, fmt.Errorf("read schema %s: %w", name, err)
	}
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	url := "mem://tablemap/" + name
	if err := compiler.AddResource(url, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("add schema %s: %w", name, err)
	}
	compiled, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", name, err)
	}
	return &Schema{name: name, compiled: compiled}, nil
}

func mustLoadSchema(name string) *Schema {
	schema, err := LoadSchema(name)
	if err != nil {
		panic(err)
	}
	return schema
}

type validator interface {
	Validate() error
}

// Decode validates raw against schema and decodes it into T.
// Every failure is a VALIDATION_ERROR naming the offending field.
func Decode[T any](schema *Schema, raw json.RawMessage) (T, error) {
	var zero T
	if schema == nil || schema.compiled == nil {
		return zero, apperrors.New(apperrors.CodeInternal, "payload schema is not configured")
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return zero, fieldError("payload", "payload is required")
	}

	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	var instance any
	if err := decoder.Decode(&instance); err != nil {
		return zero, fieldError("payload", "payload must be a JSON object")
	}
	if err := schema.compiled.Validate(instance); err != nil {
		return zero, schemaError(err)
	}

	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			return zero, fieldError(typeErr.Field, fmt.Sprintf("%s has an invalid type", typeErr.Field))
		}
		return zero, fieldError("payload", "payload is malformed")
	}
	if v, ok := any(out).(validator); ok {
		if err := v.Validate(); err != nil {
			return zero, err
		}
	}
	return out, nil
}

func schemaError(err error) error {
	var validationErr *jsonschema.ValidationError
	if !errors.As(err, &validationErr) {
		return fieldError("payload", "payload is invalid")
	}
	leaf := validationErr
	for len(leaf.Causes) > 0 {
		leaf = leaf.Causes[0]
	}
	field := strings.TrimPrefix(leaf.InstanceLocation, "/")
	if field == "" {
		field = quotedName(leaf.Message)
	}
	if field == "" {
		field = "payload"
	}
	return fieldError(field, fmt.Sprintf("%s: %s", field, leaf.Message))
}

// quotedName extracts the first quoted property name from a schema message,
// such as missing properties: 'sceneId'.
func quotedName(message string) string {
	for _, quote := range []string{"'", `"`} {
		start := strings.Index(message, quote)
		if start < 0 {
			continue
		}
		rest := message[start+1:]
		end := strings.Index(rest, quote)
		if end > 0 {
			return rest[:end]
		}
	}
	return ""
}

func fieldError(field, message string) error {
	return apperrors.WithMetadata(apperrors.CodeValidation, message, map[string]string{"field": field})
}
