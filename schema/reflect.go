package schema

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// ReflectOption tunes For.
type ReflectOption func(*jsonschema.Reflector)

// AllowAdditionalProperties controls whether the generated object schema
// tolerates unknown fields. The default is strict.
func AllowAdditionalProperties(allow bool) ReflectOption {
	return func(r *jsonschema.Reflector) { r.AllowAdditionalProperties = allow }
}

// For reflects a schema from the Go type T using json and jsonschema struct
// tags. Fields without omitempty are required.
func For[T any](opts ...ReflectOption) (Schema, error) {
	r := &jsonschema.Reflector{
		DoNotReference: true, // inline defs
		ExpandedStruct: true, // put struct at root
		Anonymous:      true,
	}
	for _, opt := range opts {
		opt(r)
	}
	s := r.Reflect(new(T))
	s.Version = ""

	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal reflected schema: %w", err)
	}
	return Schema(b), nil
}

// MustFor is For that panics on error. Intended for package-level
// capability declarations.
func MustFor[T any](opts ...ReflectOption) Schema {
	s, err := For[T](opts...)
	if err != nil {
		panic(err)
	}
	return s
}
