// Package routes builds the route descriptor table that payment middleware
// uses to decide which entrypoint calls require payment and on what terms.
package routes

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jmerrifield20/agentkit/internal/entrypoint"
	"github.com/jmerrifield20/agentkit/internal/payments"
	"github.com/jmerrifield20/agentkit/internal/schema"
)

const (
	MimeJSON = "application/json"
	MimeSSE  = "text/event-stream"
)

// InputSchema describes the request body of a paid route.
type InputSchema struct {
	BodyType   string         `json:"bodyType"`
	BodyFields map[string]any `json:"bodyFields,omitempty"`
}

// RouteConfig is the descriptive part of a Descriptor.
type RouteConfig struct {
	Description  string         `json:"description"`
	MimeType     string         `json:"mimeType"`
	Discoverable bool           `json:"discoverable"`
	InputSchema  InputSchema    `json:"inputSchema"`
	OutputSchema map[string]any `json:"outputSchema,omitempty"`
}

func (rc RouteConfig) clone() RouteConfig {
	rc.InputSchema.BodyFields = cloneMap(rc.InputSchema.BodyFields)
	rc.OutputSchema = cloneMap(rc.OutputSchema)
	return rc
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch v := v.(type) {
	case map[string]any:
		return cloneMap(v)
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// Descriptor is the payment requirement for one "<METHOD> <path>" route.
type Descriptor struct {
	Price   string      `json:"price"`
	Network string      `json:"network"`
	Config  RouteConfig `json:"config"`
}

// Table is an insertion-ordered mapping of route keys to descriptors.
// A built Table is never modified and may be shared between goroutines.
type Table struct {
	keys  []string
	items map[string]Descriptor
}

func newTable() *Table {
	return &Table{items: make(map[string]Descriptor)}
}

func (t *Table) put(key string, d Descriptor) {
	if _, ok := t.items[key]; !ok {
		t.keys = append(t.keys, key)
	}
	t.items[key] = d
}

// Keys returns the route keys in order.
func (t *Table) Keys() []string {
	if t == nil {
		return nil
	}
	return append([]string(nil), t.keys...)
}

// Get returns the descriptor for key, e.g. "POST /entrypoints/echo/invoke".
// The descriptor's schema maps are copies the caller may modify.
func (t *Table) Get(key string) (Descriptor, bool) {
	if t == nil {
		return Descriptor{}, false
	}
	d, ok := t.items[key]
	d.Config = d.Config.clone()
	return d, ok
}

// Lookup returns the descriptor for a request method and path.
func (t *Table) Lookup(method, path string) (Descriptor, bool) {
	return t.Get(Key(method, path))
}

// Len returns the number of routes.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.keys)
}

// Merge returns a new table holding t's routes followed by other's.
func (t *Table) Merge(other *Table) *Table {
	out := newTable()
	for _, src := range []*Table{t, other} {
		if src == nil {
			continue
		}
		for _, k := range src.keys {
			out.put(k, src.items[k])
		}
	}
	return out
}

// MarshalJSON encodes the table as a JSON object in route order.
func (t *Table) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	if t != nil {
		for i, k := range t.keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}
			vb, err := json.Marshal(t.items[k])
			if err != nil {
				return nil, fmt.Errorf("route %s: %w", k, err)
			}
			buf.Write(kb)
			buf.WriteByte(':')
			buf.Write(vb)
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Key formats a route key.
func Key(method, path string) string { return method + " " + path }

// Path returns the route path of an entrypoint call.
func Path(basePath, key string, kind entrypoint.Kind) string {
	return NormalizeBasePath(basePath) + "/entrypoints/" + key + "/" + string(kind)
}

// NormalizeBasePath trims trailing slashes; "" and "/" both become "".
func NormalizeBasePath(basePath string) string {
	b := strings.TrimRight(strings.TrimSpace(basePath), "/")
	if b != "" && !strings.HasPrefix(b, "/") {
		b = "/" + b
	}
	return b
}

// Build returns the descriptors for every entrypoint callable with kind that
// requires payment. Entrypoints are visited in the order given; each yields a
// POST key followed by a GET key for the same path.
//
// Payment configuration is validated for every visited entrypoint, including
// free ones, and the first failure aborts the build. A nil cfg yields an empty
// table.
func Build(defs []entrypoint.Def, cfg *payments.Config, basePath string, kind entrypoint.Kind) (*Table, error) {
	t := newTable()
	if cfg == nil {
		return t, nil
	}

	for _, def := range defs {
		if kind == entrypoint.KindStream && !def.Streams() {
			continue
		}
		network := payments.ResolveNetwork(def, cfg)
		price, priced := payments.ResolvePrice(def, cfg, kind)
		if err := payments.Validate(cfg, network, def.Key); err != nil {
			return nil, err
		}
		if network == "" || !priced {
			continue
		}

		path := Path(basePath, def.Key, kind)
		rc := RouteConfig{
			Description:  describe(def, kind),
			Discoverable: true,
			InputSchema:  InputSchema{BodyType: "json"},
		}
		if in := schema.ToJSONSchema(def.Input); in != nil {
			rc.InputSchema.BodyFields = map[string]any{"input": in}
		}
		if kind == entrypoint.KindInvoke {
			if out := schema.ToJSONSchema(def.Output); out != nil {
				rc.OutputSchema = map[string]any{"output": out}
			}
		}

		post := rc.clone()
		post.MimeType = MimeJSON
		if kind == entrypoint.KindStream {
			post.MimeType = MimeSSE
		}
		get := rc.clone()
		get.MimeType = MimeJSON

		t.put(Key("POST", path), Descriptor{Price: price, Network: network, Config: post})
		t.put(Key("GET", path), Descriptor{Price: price, Network: network, Config: get})
	}
	return t, nil
}

// BuildAll returns the invoke table followed by the stream table.
func BuildAll(defs []entrypoint.Def, cfg *payments.Config, basePath string) (*Table, error) {
	invoke, err := Build(defs, cfg, basePath, entrypoint.KindInvoke)
	if err != nil {
		return nil, err
	}
	stream, err := Build(defs, cfg, basePath, entrypoint.KindStream)
	if err != nil {
		return nil, err
	}
	return invoke.Merge(stream), nil
}

func describe(def entrypoint.Def, kind entrypoint.Kind) string {
	if def.Description != "" {
		return def.Description
	}
	if kind == entrypoint.KindStream {
		return def.Key + " (stream)"
	}
	return def.Key
}
