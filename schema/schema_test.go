package schema

import (
	"encoding/json"
	"errors"
	"testing"
)

type addArgs struct {
	A float64 `json:"a" jsonschema:"description=First addend"`
	B float64 `json:"b" jsonschema:"description=Second addend"`
}

type optionalArgs struct {
	Name  string `json:"name"`
	Count int    `json:"count,omitempty"`
}

func TestForReflectsObjectSchema(t *testing.T) {
	t.Parallel()

	s, err := For[addArgs]()
	if err != nil {
		t.Fatalf("For: %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(s, &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if doc["type"] != "object" {
		t.Fatalf("want object schema, got %v", doc["type"])
	}
	if _, ok := doc["$schema"]; ok {
		t.Fatalf("$schema should be stripped: %s", s)
	}
	props, _ := doc["properties"].(map[string]any)
	if _, ok := props["a"]; !ok {
		t.Fatalf("missing property a: %s", s)
	}
	if doc["additionalProperties"] != false {
		t.Fatalf("want strict object, got %v", doc["additionalProperties"])
	}
}

func TestValidator(t *testing.T) {
	t.Parallel()

	v := NewValidator()
	add := MustFor[addArgs]()
	opt := MustFor[optionalArgs]()

	cases := []struct {
		name    string
		schema  Schema
		args    string
		wantErr bool
	}{
		{"valid numbers", add, `{"a":2,"b":3}`, false},
		{"string where number required", add, `{"a":"x","b":3}`, true},
		{"missing required", add, `{"a":2}`, true},
		{"unknown field rejected", add, `{"a":2,"b":3,"c":4}`, true},
		{"optional omitted", opt, `{"name":"n"}`, false},
		{"missing args against required", opt, ``, true},
		{"null args against required", opt, `null`, true},
		{"zero schema accepts anything", nil, `{"whatever":true}`, false},
		{"not json", add, `{`, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := v.Validate(tc.schema, json.RawMessage(tc.args))
			if tc.wantErr {
				if !errors.Is(err, ErrInvalid) {
					t.Fatalf("want ErrInvalid, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestValidatorBadSchema(t *testing.T) {
	t.Parallel()

	v := NewValidator()
	err := v.Validate(Schema(`{"type": 12}`), json.RawMessage(`{}`))
	if !errors.Is(err, ErrBadSchema) {
		t.Fatalf("want ErrBadSchema, got %v", err)
	}
}

func TestSchemaMarshalsZeroAsEmptyObject(t *testing.T) {
	t.Parallel()

	b, err := json.Marshal(struct {
		S Schema `json:"s"`
	}{})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != `{"s":{"type":"object"}}` {
		t.Fatalf("got %s", b)
	}
}
