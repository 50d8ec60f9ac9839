package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
)

// JSONSchemaValidator validates against JSON Schema (draft 2020-12).
// Compiled schemas are memoized by document text.
type JSONSchemaValidator struct {
	mu       sync.RWMutex
	resolved map[string]*jsonschema.Resolved
}

var _ Validator = (*JSONSchemaValidator)(nil)

// NewValidator returns the default Validator.
func NewValidator() *JSONSchemaValidator {
	return &JSONSchemaValidator{resolved: make(map[string]*jsonschema.Resolved)}
}

// Validate reports an error wrapping ErrInvalid when args do not conform to
// s. Missing arguments are validated as an empty object. A zero schema
// accepts anything.
func (v *JSONSchemaValidator) Validate(s Schema, args json.RawMessage) error {
	if s.IsZero() {
		return nil
	}
	rs, err := v.resolve(s)
	if err != nil {
		return err
	}

	var instance any = map[string]any{}
	if trimmed := bytes.TrimSpace(args); len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null")) {
		if err := json.Unmarshal(trimmed, &instance); err != nil {
			return fmt.Errorf("%w: arguments are not valid JSON: %v", ErrInvalid, err)
		}
	}
	if err := rs.Validate(instance); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

func (v *JSONSchemaValidator) resolve(s Schema) (*jsonschema.Resolved, error) {
	key := string(s)
	v.mu.RLock()
	rs, ok := v.resolved[key]
	v.mu.RUnlock()
	if ok {
		return rs, nil
	}

	var js jsonschema.Schema
	if err := json.Unmarshal(s, &js); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSchema, err)
	}
	rs, err := js.Resolve(&jsonschema.ResolveOptions{})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSchema, err)
	}

	v.mu.Lock()
	v.resolved[key] = rs
	v.mu.Unlock()
	return rs, nil
}
