package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const resourceName = "entrypoint.schema.json"

var printer = message.NewPrinter(language.English)

// Validator checks values against a compiled JSON Schema.
type Validator struct {
	schema *jsonschema.Schema
}

// Issue is a single schema violation.
type Issue struct {
	Path    string `json:"path"`
	Keyword string `json:"keyword,omitempty"`
	Message string `json:"message"`
}

// ValidationError is returned when a value does not satisfy its schema.
// Handlers map it to HTTP 400.
type ValidationError struct {
	Issues []Issue
}

func (e *ValidationError) Error() string {
	if len(e.Issues) == 0 {
		return "schema validation failed"
	}
	parts := make([]string, 0, len(e.Issues))
	for _, is := range e.Issues {
		p := is.Path
		if p == "" {
			p = "/"
		}
		parts = append(parts, p+": "+is.Message)
	}
	return "schema validation failed: " + strings.Join(parts, "; ")
}

// Compile compiles a JSON Schema document.
func Compile(doc map[string]any) (*Validator, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	parsed, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("unmarshaling schema JSON: %w", err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource(resourceName, parsed); err != nil {
		return nil, fmt.Errorf("adding schema resource: %w", err)
	}
	compiled, err := c.Compile(resourceName)
	if err != nil {
		return nil, fmt.Errorf("compiling schema: %w", err)
	}
	return &Validator{schema: compiled}, nil
}

// Validate checks v against the schema. v may be any JSON-marshalable value.
func (v *Validator) Validate(value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal value: %w", err)
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("preparing JSON for validation: %w", err)
	}

	err = v.schema.Validate(inst)
	if err == nil {
		return nil
	}
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return fmt.Errorf("validate: %w", err)
	}
	return &ValidationError{Issues: collectIssues(ve)}
}

// collectIssues flattens the error tree into leaf-level issues.
func collectIssues(ve *jsonschema.ValidationError) []Issue {
	var issues []Issue
	walk(ve, &issues)
	if len(issues) == 0 {
		return []Issue{{Message: ve.Error()}}
	}

	seen := make(map[string]bool, len(issues))
	out := issues[:0]
	for _, is := range issues {
		k := is.Path + "|" + is.Keyword + "|" + is.Message
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, is)
	}
	return out
}

func walk(ve *jsonschema.ValidationError, issues *[]Issue) {
	if len(ve.Causes) > 0 {
		for _, cause := range ve.Causes {
			walk(cause, issues)
		}
		return
	}

	path := ""
	if len(ve.InstanceLocation) > 0 {
		path = "/" + strings.Join(ve.InstanceLocation, "/")
	}

	keyword := ""
	msg := ""
	if ve.ErrorKind != nil {
		if kw := ve.ErrorKind.KeywordPath(); len(kw) > 0 {
			keyword = kw[len(kw)-1]
		}
		msg = ve.ErrorKind.LocalizedString(printer)
	}
	switch keyword {
	case "oneOf", "allOf", "$ref":
		return
	}
	if msg == "" {
		msg = ve.Error()
	}
	*issues = append(*issues, Issue{Path: path, Keyword: keyword, Message: msg})
}
