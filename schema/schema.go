// Package schema carries JSON Schema documents as opaque values and
// validates call arguments against them.
//
// The registry and dispatcher treat a Schema as a byte string; only a
// Validator looks inside. The default validator is backed by
// github.com/google/jsonschema-go. For[T] derives a schema from a Go type
// with github.com/invopop/jsonschema as a convenience for capability
// authors.
package schema

import (
	"bytes"
	"encoding/json"
	"errors"
)

var (
	// ErrInvalid wraps every validation failure.
	ErrInvalid = errors.New("arguments do not match schema")
	// ErrBadSchema is returned when the schema itself cannot be compiled.
	ErrBadSchema = errors.New("invalid schema")
)

// Schema is a JSON Schema document.
type Schema []byte

// Empty is the schema of a capability that accepts any object.
var Empty = Schema(`{"type":"object"}`)

// IsZero reports whether s carries no document.
func (s Schema) IsZero() bool { return len(bytes.TrimSpace(s)) == 0 }

// Raw returns s as a json.RawMessage, substituting Empty for a zero schema.
func (s Schema) Raw() json.RawMessage {
	if s.IsZero() {
		return json.RawMessage(Empty)
	}
	return json.RawMessage(s)
}

func (s Schema) MarshalJSON() ([]byte, error) { return s.Raw(), nil }

func (s *Schema) UnmarshalJSON(b []byte) error {
	*s = append((*s)[:0], b...)
	return nil
}

// Validator checks a raw argument document against a schema.
type Validator interface {
	Validate(s Schema, args json.RawMessage) error
}

// ValidatorFunc adapts a function to a Validator.
type ValidatorFunc func(s Schema, args json.RawMessage) error

func (f ValidatorFunc) Validate(s Schema, args json.RawMessage) error { return f(s, args) }

// NopValidator accepts everything.
var NopValidator Validator = ValidatorFunc(func(Schema, json.RawMessage) error { return nil })
