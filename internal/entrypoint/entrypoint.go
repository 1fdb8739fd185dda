// Package entrypoint defines entrypoints, the named callable operations an
// agent exposes, and the registry that owns them.
package entrypoint

import (
	"context"
	"fmt"

	"github.com/jmerrifield20/agentkit/internal/schema"
)

// Kind is the call style of an entrypoint route.
type Kind string

const (
	// KindInvoke is a single request/response call.
	KindInvoke Kind = "invoke"
	// KindStream is a server-sent event stream of incremental results.
	KindStream Kind = "stream"
)

// Kinds lists every call kind in route-table order.
var Kinds = []Kind{KindInvoke, KindStream}

// ParseKind converts a path segment to a Kind.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindInvoke, KindStream:
		return Kind(s), nil
	default:
		return "", fmt.Errorf("unknown entrypoint kind %q", s)
	}
}

// Request is what a handler receives for one run.
type Request struct {
	Key   string
	RunID string
	// Input is the decoded "input" member of the request body.
	Input any
}

// Usage reports token or unit consumption for a run.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens,omitempty"`
	CompletionTokens int `json:"completion_tokens,omitempty"`
	TotalTokens      int `json:"total_tokens,omitempty"`
}

// Result is what a handler returns for one run.
type Result struct {
	Output any    `json:"output,omitempty"`
	Usage  *Usage `json:"usage,omitempty"`
	Model  string `json:"model,omitempty"`
}

// Event is one server-sent event emitted by a stream handler.
type Event struct {
	Kind string `json:"kind"`
	Data any    `json:"data,omitempty"`
}

// Stream event kinds.
const (
	EventRunStart = "run-start"
	EventDelta    = "delta"
	EventText     = "text"
	EventError    = "error"
	EventRunEnd   = "run-end"
)

// EmitFunc sends one event to the client. It returns an error once the client
// has gone away.
type EmitFunc func(Event) error

// HandlerFunc runs an invoke call.
type HandlerFunc func(ctx context.Context, req Request) (*Result, error)

// StreamFunc runs a stream call, emitting events as it goes. The returned
// result is reported in the closing run-end event.
type StreamFunc func(ctx context.Context, req Request, emit EmitFunc) (*Result, error)

// Def is an entrypoint definition.
//
// A Def is owned by the Registry once added. Later edits go through
// Registry.Replace; a Def is never modified in place.
type Def struct {
	Key         string
	Description string
	Input       schema.Source
	Output      schema.Source
	// Network overrides the payments network for this entrypoint.
	Network string
	// Price is nil for entrypoints that inherit the default price.
	Price Price
	Tags  []string

	Handler HandlerFunc
	// Stream is non-nil when the entrypoint supports the stream kind.
	Stream StreamFunc
}

// Streams reports whether the entrypoint supports the stream kind.
func (d Def) Streams() bool { return d.Stream != nil }

// Supports reports whether the entrypoint can be called with kind.
func (d Def) Supports(kind Kind) bool {
	switch kind {
	case KindInvoke:
		return true
	case KindStream:
		return d.Streams()
	default:
		return false
	}
}

func (d Def) clone() Def {
	out := d
	out.Tags = append([]string(nil), d.Tags...)
	return out
}
