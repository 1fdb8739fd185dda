// Package handlers provides the builtin entrypoint handlers that declarative
// configuration binds by name.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/jmerrifield20/agentkit/internal/agent"
	"github.com/jmerrifield20/agentkit/internal/config"
	"github.com/jmerrifield20/agentkit/internal/entrypoint"
	"github.com/jmerrifield20/agentkit/internal/schema"
)

// ErrUnknownHandler is returned by Bind for a handler name with no builtin.
var ErrUnknownHandler = errors.New("unknown handler")

// ErrBadInput is wrapped by handlers that cannot use their input. It matches
// entrypoint.ErrInvalidInput.
var ErrBadInput = fmt.Errorf("bad input: %w", entrypoint.ErrInvalidInput)

// MaxCount caps the count handler.
const MaxCount = 1000

// Builtin is a named handler pair.
type Builtin struct {
	Description string
	Input       schema.Source
	Invoke      entrypoint.HandlerFunc
	// Stream is nil for handlers without a stream form.
	Stream entrypoint.StreamFunc
}

var builtins = map[string]Builtin{
	"echo": {
		Description: "Returns its input unchanged",
		Invoke:      echo,
		Stream:      echoStream,
	},
	"upper": {
		Description: "Upper-cases the input text",
		Input:       schema.For[TextInput](),
		Invoke:      upper,
	},
	"count": {
		Description: "Counts from 1 to the requested number",
		Input:       schema.For[CountInput](),
		Invoke:      count,
		Stream:      countStream,
	},
	"whoami": {
		Description: "Describes the running agent",
		Invoke:      whoami,
	},
}

// TextInput is the input of the upper handler. A bare JSON string is also
// accepted.
type TextInput struct {
	Text string `json:"text"`
}

// CountInput is the input of the count handler.
type CountInput struct {
	To int `json:"to"`
}

// Names returns the builtin handler names, sorted.
func Names() []string {
	out := make([]string, 0, len(builtins))
	for n := range builtins {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Lookup returns the builtin registered under name.
func Lookup(name string) (Builtin, bool) {
	b, ok := builtins[name]
	return b, ok
}

// Bind turns declared entrypoints into definitions, in declaration order.
func Bind(cfgs []config.EntrypointConfig) ([]entrypoint.Def, error) {
	defs := make([]entrypoint.Def, 0, len(cfgs))
	for _, c := range cfgs {
		b, ok := Lookup(c.Handler)
		if !ok {
			return nil, fmt.Errorf("entrypoint %q: %w %q", c.Key, ErrUnknownHandler, c.Handler)
		}
		if c.Stream && b.Stream == nil {
			return nil, fmt.Errorf("entrypoint %q: handler %q cannot stream", c.Key, c.Handler)
		}
		price, err := c.ParsePrice()
		if err != nil {
			return nil, fmt.Errorf("entrypoint %q: %w", c.Key, err)
		}

		def := entrypoint.Def{
			Key:         c.Key,
			Description: c.Description,
			Input:       b.Input,
			Network:     c.Network,
			Price:       price,
			Tags:        c.Tags,
			Handler:     b.Invoke,
		}
		if def.Description == "" {
			def.Description = b.Description
		}
		if c.InputSchema != nil {
			def.Input = schema.Map(c.InputSchema)
		}
		if c.OutputSchema != nil {
			def.Output = schema.Map(c.OutputSchema)
		}
		if c.Stream {
			def.Stream = b.Stream
		}
		defs = append(defs, def)
	}
	return defs, nil
}

func echo(_ context.Context, req entrypoint.Request) (*entrypoint.Result, error) {
	return &entrypoint.Result{Output: req.Input}, nil
}

func echoStream(_ context.Context, req entrypoint.Request, emit entrypoint.EmitFunc) (*entrypoint.Result, error) {
	if err := emit(entrypoint.Event{Kind: entrypoint.EventText, Data: req.Input}); err != nil {
		return nil, err
	}
	return &entrypoint.Result{Output: req.Input}, nil
}

func upper(_ context.Context, req entrypoint.Request) (*entrypoint.Result, error) {
	text, err := textOf(req.Input)
	if err != nil {
		return nil, err
	}
	return &entrypoint.Result{
		Output: map[string]any{"text": cases.Upper(language.Und).String(text)},
		Usage:  &entrypoint.Usage{TotalTokens: len(strings.Fields(text))},
	}, nil
}

func textOf(in any) (string, error) {
	switch v := in.(type) {
	case string:
		return v, nil
	case map[string]any:
		if s, ok := v["text"].(string); ok {
			return s, nil
		}
	}
	return "", fmt.Errorf("%w: expected a string or {\"text\": string}", ErrBadInput)
}

func countTo(in any) (int, error) {
	n := 3
	if m, ok := in.(map[string]any); ok {
		if v, ok := m["to"].(float64); ok {
			n = int(v)
		}
	}
	if n < 0 || n > MaxCount {
		return 0, fmt.Errorf("%w: to must be between 0 and %d", ErrBadInput, MaxCount)
	}
	return n, nil
}

func count(_ context.Context, req entrypoint.Request) (*entrypoint.Result, error) {
	n, err := countTo(req.Input)
	if err != nil {
		return nil, err
	}
	values := make([]int, n)
	for i := range values {
		values[i] = i + 1
	}
	return &entrypoint.Result{Output: map[string]any{"values": values}}, nil
}

func countStream(ctx context.Context, req entrypoint.Request, emit entrypoint.EmitFunc) (*entrypoint.Result, error) {
	n, err := countTo(req.Input)
	if err != nil {
		return nil, err
	}
	for i := 1; i <= n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := emit(entrypoint.Event{Kind: entrypoint.EventDelta, Data: map[string]any{"n": i}}); err != nil {
			return nil, err
		}
	}
	return &entrypoint.Result{Output: map[string]any{"total": n}}, nil
}

func whoami(_ context.Context, _ entrypoint.Request) (*entrypoint.Result, error) {
	cfg, ok := agent.ProcessConfig()
	if !ok {
		return nil, errors.New("agent configuration is not available")
	}
	out := map[string]any{
		"name":    cfg.Meta.Name,
		"version": cfg.Meta.Version,
	}
	if cfg.Meta.Description != "" {
		out["description"] = cfg.Meta.Description
	}
	if cfg.Payments != nil {
		out["network"] = cfg.Payments.Network
		out["payTo"] = cfg.Payments.PayTo
	}
	return &entrypoint.Result{Output: out}, nil
}
