package schema_test

import (
	"errors"
	"testing"

	"github.com/jmerrifield20/agentkit/internal/schema"
)

type echoInput struct {
	Text  string `json:"text"`
	Times int    `json:"times,omitempty"`
}

type panicSource struct{}

func (panicSource) JSONSchema() (map[string]any, error) { panic("boom") }

type failingSource struct{}

func (failingSource) JSONSchema() (map[string]any, error) { return nil, errors.New("nope") }

func TestToJSONSchema_inferredFromType(t *testing.T) {
	doc := schema.ToJSONSchema(schema.For[echoInput]())
	if doc == nil {
		t.Fatal("expected a schema for echoInput")
	}
	if doc["type"] != "object" {
		t.Errorf("type: got %v, want object", doc["type"])
	}
	props, ok := doc["properties"].(map[string]any)
	if !ok {
		t.Fatalf("properties missing: %v", doc)
	}
	if _, ok := props["text"]; !ok {
		t.Errorf("expected text property, got %v", props)
	}
}

func TestToJSONSchema_neverFails(t *testing.T) {
	cases := []struct {
		name string
		src  schema.Source
	}{
		{"nil", nil},
		{"error", failingSource{}},
		{"panic", panicSource{}},
		{"invalid raw", schema.Raw([]byte(`not json`))},
		{"array raw", schema.Raw([]byte(`[1,2]`))},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			if doc := schema.ToJSONSchema(tc.src); doc != nil {
				t.Errorf("expected nil, got %v", doc)
			}
		})
	}
}

func TestToJSONSchema_rawNormalisesNumbers(t *testing.T) {
	doc := schema.ToJSONSchema(schema.Map(map[string]any{"type": "string", "maxLength": 5}))
	if doc["maxLength"] != float64(5) {
		t.Errorf("maxLength: got %#v, want float64(5)", doc["maxLength"])
	}
}

func TestValidator(t *testing.T) {
	v, err := schema.Compile(map[string]any{
		"type":     "object",
		"required": []any{"text"},
		"properties": map[string]any{
			"text": map[string]any{"type": "string"},
		},
	})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	if err := v.Validate(map[string]any{"text": "hi"}); err != nil {
		t.Errorf("valid input rejected: %v", err)
	}

	err = v.Validate(map[string]any{"text": 3})
	var ve *schema.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected *ValidationError, got %v", err)
	}
	if len(ve.Issues) == 0 || ve.Issues[0].Path != "/text" {
		t.Errorf("issues: got %+v", ve.Issues)
	}

	if err := v.Validate(map[string]any{}); err == nil {
		t.Error("missing required field accepted")
	}
}

func TestCompile_invalidSchema(t *testing.T) {
	if _, err := schema.Compile(map[string]any{"type": 12}); err == nil {
		t.Error("expected compile error for invalid type keyword")
	}
}
