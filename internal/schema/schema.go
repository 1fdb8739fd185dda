// Package schema holds the opaque input/output schema handles attached to
// entrypoints and converts them to JSON Schema documents.
//
// Conversion never fails loudly: a handle that cannot be converted is treated
// as "no schema constraint" by every caller.
package schema

import (
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
)

// Source is a schema handle that can render itself as a JSON Schema document.
type Source interface {
	JSONSchema() (map[string]any, error)
}

// typed infers a schema from a Go type.
type typed[T any] struct{}

// For returns a Source whose schema is inferred from T's exported fields and
// json tags.
func For[T any]() Source { return typed[T]{} }

func (typed[T]) JSONSchema() (map[string]any, error) {
	s, err := jsonschema.For[T](nil)
	if err != nil {
		return nil, fmt.Errorf("infer schema: %w", err)
	}
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal inferred schema: %w", err)
	}
	return decodeObject(data)
}

// raw wraps a literal JSON Schema document.
type raw []byte

// Raw returns a Source backed by a JSON Schema document in JSON form.
func Raw(doc []byte) Source { return raw(append([]byte(nil), doc...)) }

func (r raw) JSONSchema() (map[string]any, error) { return decodeObject(r) }

// mapSource wraps an already-decoded JSON Schema document.
type mapSource map[string]any

// Map returns a Source backed by a decoded JSON Schema document.
func Map(doc map[string]any) Source { return mapSource(doc) }

func (m mapSource) JSONSchema() (map[string]any, error) {
	if m == nil {
		return nil, fmt.Errorf("schema: nil document")
	}
	data, err := json.Marshal(map[string]any(m))
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	return decodeObject(data)
}

// ToJSONSchema converts src to a JSON Schema document.
//
// It returns nil when src is nil, when conversion fails, and when conversion
// panics. The result is normalised through JSON so it serialises losslessly.
func ToJSONSchema(src Source) (doc map[string]any) {
	if src == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			doc = nil
		}
	}()
	out, err := src.JSONSchema()
	if err != nil || len(out) == 0 {
		return nil
	}
	return out
}

func decodeObject(data []byte) (map[string]any, error) {
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode schema: %w", err)
	}
	if out == nil {
		return nil, fmt.Errorf("schema: document is not an object")
	}
	return out, nil
}
