// Package agent is the runtime that owns an agent's entrypoints and
// configuration. HTTP adapters translate requests into calls on an Agent and
// never resolve prices, routes or manifests themselves.
package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jmerrifield20/agentkit/internal/entrypoint"
	"github.com/jmerrifield20/agentkit/internal/manifest"
	"github.com/jmerrifield20/agentkit/internal/payments"
	"github.com/jmerrifield20/agentkit/internal/routes"
	"github.com/jmerrifield20/agentkit/internal/schema"
	"github.com/jmerrifield20/agentkit/pkg/agentcard"
)

var (
	// ErrUnknownEntrypoint is returned when no entrypoint has the requested key.
	ErrUnknownEntrypoint = errors.New("unknown entrypoint")
	// ErrStreamUnsupported is returned when streaming an invoke-only entrypoint.
	ErrStreamUnsupported = errors.New("entrypoint does not support streaming")
	// ErrNoHandler is returned when registering an entrypoint without an
	// invoke handler.
	ErrNoHandler = errors.New("entrypoint handler is required")
)

// Run statuses.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Config is the immutable configuration of one agent.
type Config struct {
	Meta     manifest.Meta
	Payments *payments.Config
	AP2      *manifest.AP2Config
	Trust    *manifest.TrustConfig
	// BasePath prefixes every entrypoint route, e.g. "/api/agent".
	BasePath string
}

// RunResult is the response body of an invoke call and the payload of the
// closing run-end stream event.
type RunResult struct {
	RunID  string            `json:"run_id"`
	Status string            `json:"status"`
	Output any               `json:"output"`
	Usage  *entrypoint.Usage `json:"usage,omitempty"`
	Model  string            `json:"model,omitempty"`
}

// Run describes one finished entrypoint call.
type Run struct {
	Key      string
	Kind     entrypoint.Kind
	RunID    string
	Price    string
	Network  string
	Status   string
	Duration time.Duration
	Output   any
}

// Recorder is notified after every run. Recording failures are logged and
// never fail the run.
type Recorder interface {
	Record(ctx context.Context, run Run) error
}

// CardSigner endorses a built card.
type CardSigner interface {
	Endorse(card *agentcard.AgentCard) (*agentcard.AgentCard, error)
}

// Option configures an Agent.
type Option func(*Agent)

// WithLogger sets the logger. The default is a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(a *Agent) { a.logger = l }
}

// WithRecorder registers a run recorder.
func WithRecorder(r Recorder) Option {
	return func(a *Agent) { a.recorder = r }
}

// WithSigner endorses every manifest the agent builds.
func WithSigner(s CardSigner) Option {
	return func(a *Agent) { a.signer = s }
}

// Agent binds a registry of entrypoints to one configuration.
type Agent struct {
	cfg      Config
	registry *entrypoint.Registry
	logger   *zap.Logger
	recorder Recorder
	signer   CardSigner

	mu         sync.RWMutex
	validators map[string]*schema.Validator
}

// New creates an Agent with an empty registry.
func New(cfg Config, opts ...Option) *Agent {
	a := &Agent{
		cfg:        cloneConfig(cfg),
		registry:   entrypoint.NewRegistry(),
		logger:     zap.NewNop(),
		validators: make(map[string]*schema.Validator),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Config returns a copy of the agent's configuration.
func (a *Agent) Config() Config { return cloneConfig(a.cfg) }

// AddEntrypoint registers def. Every entrypoint the agent serves must have
// an invoke handler.
func (a *Agent) AddEntrypoint(def entrypoint.Def) error {
	if def.Handler == nil {
		return fmt.Errorf("entrypoint %q: %w", def.Key, ErrNoHandler)
	}
	if err := a.registry.Add(def); err != nil {
		return err
	}
	a.setValidator(def)
	return nil
}

// ReplaceEntrypoint swaps the definition registered under def.Key.
func (a *Agent) ReplaceEntrypoint(def entrypoint.Def) error {
	if def.Handler == nil {
		return fmt.Errorf("entrypoint %q: %w", def.Key, ErrNoHandler)
	}
	if err := a.registry.Replace(def); err != nil {
		return err
	}
	a.setValidator(def)
	return nil
}

// setValidator compiles def's input schema. An input that has no schema, or
// whose schema does not compile, is accepted as is.
func (a *Agent) setValidator(def entrypoint.Def) {
	var v *schema.Validator
	if doc := schema.ToJSONSchema(def.Input); doc != nil {
		var err error
		v, err = schema.Compile(doc)
		if err != nil {
			a.logger.Warn("input schema does not compile; input will not be validated",
				zap.String("entrypoint", def.Key), zap.Error(err))
			v = nil
		}
	}
	a.mu.Lock()
	a.validators[def.Key] = v
	a.mu.Unlock()
}

// Entrypoints returns a snapshot of the registered entrypoints.
func (a *Agent) Entrypoints() []entrypoint.Def { return a.registry.Snapshot() }

// Entrypoint returns the definition registered under key.
func (a *Agent) Entrypoint(key string) (entrypoint.Def, bool) { return a.registry.Get(key) }

// Manifest builds the agent card for origin, endorsed when a signer is set.
func (a *Agent) Manifest(origin string) (*agentcard.AgentCard, error) {
	card, err := manifest.Build(manifest.Options{
		Meta:        a.cfg.Meta,
		Entrypoints: a.registry.Snapshot(),
		Origin:      origin,
		Payments:    a.cfg.Payments,
		AP2:         a.cfg.AP2,
		Trust:       a.cfg.Trust,
	})
	if err != nil {
		return nil, fmt.Errorf("build manifest: %w", err)
	}
	if a.signer == nil {
		return card, nil
	}
	return a.signer.Endorse(card)
}

// Routes builds the route descriptor table for kind.
func (a *Agent) Routes(kind entrypoint.Kind) (*routes.Table, error) {
	return routes.Build(a.registry.Snapshot(), a.cfg.Payments, a.cfg.BasePath, kind)
}

// AllRoutes builds the invoke table followed by the stream table.
func (a *Agent) AllRoutes() (*routes.Table, error) {
	return routes.BuildAll(a.registry.Snapshot(), a.cfg.Payments, a.cfg.BasePath)
}

// EntrypointSummary is one item of the entrypoint listing.
type EntrypointSummary struct {
	Key         string             `json:"key"`
	Description string             `json:"description,omitempty"`
	Streaming   bool               `json:"streaming"`
	Pricing     *agentcard.Pricing `json:"pricing,omitempty"`
}

// Summaries lists the registered entrypoints with their resolved prices.
func (a *Agent) Summaries() []EntrypointSummary {
	defs := a.registry.Snapshot()
	out := make([]EntrypointSummary, 0, len(defs))
	for _, d := range defs {
		s := EntrypointSummary{Key: d.Key, Description: d.Description, Streaming: d.Streams()}
		var p agentcard.Pricing
		inv, okInv := payments.ResolvePrice(d, a.cfg.Payments, entrypoint.KindInvoke)
		p.Invoke = inv
		okStr := false
		if d.Streams() {
			p.Stream, okStr = payments.ResolvePrice(d, a.cfg.Payments, entrypoint.KindStream)
		}
		if okInv || okStr {
			s.Pricing = &p
		}
		out = append(out, s)
	}
	return out
}

// Invoke runs the invoke handler of key.
func (a *Agent) Invoke(ctx context.Context, key string, input any) (*RunResult, error) {
	def, err := a.prepare(key, entrypoint.KindInvoke, input)
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	start := time.Now()
	res, err := def.Handler(ctx, entrypoint.Request{Key: key, RunID: runID, Input: input})
	out := result(runID, res, err)
	a.record(ctx, def, entrypoint.KindInvoke, out, time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("entrypoint %q: %w", key, err)
	}
	return out, nil
}

// Stream runs the stream handler of key. It emits run-start, the handler's
// own events, and finally run-end, or error when the handler fails.
func (a *Agent) Stream(ctx context.Context, key string, input any, emit entrypoint.EmitFunc) (*RunResult, error) {
	def, err := a.prepare(key, entrypoint.KindStream, input)
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	start := time.Now()
	if err := emit(entrypoint.Event{Kind: entrypoint.EventRunStart, Data: map[string]any{"run_id": runID}}); err != nil {
		return nil, err
	}

	res, err := def.Stream(ctx, entrypoint.Request{Key: key, RunID: runID, Input: input}, emit)
	out := result(runID, res, err)
	a.record(ctx, def, entrypoint.KindStream, out, time.Since(start))
	if err != nil {
		_ = emit(entrypoint.Event{Kind: entrypoint.EventError, Data: map[string]any{
			"run_id":  runID,
			"message": err.Error(),
		}})
		return nil, fmt.Errorf("entrypoint %q: %w", key, err)
	}
	if err := emit(entrypoint.Event{Kind: entrypoint.EventRunEnd, Data: out}); err != nil {
		return out, err
	}
	return out, nil
}

func (a *Agent) prepare(key string, kind entrypoint.Kind, input any) (entrypoint.Def, error) {
	def, ok := a.registry.Get(key)
	if !ok {
		return entrypoint.Def{}, fmt.Errorf("%w: %q", ErrUnknownEntrypoint, key)
	}
	if !def.Supports(kind) {
		return entrypoint.Def{}, fmt.Errorf("%w: %q", ErrStreamUnsupported, key)
	}

	a.mu.RLock()
	v := a.validators[key]
	a.mu.RUnlock()
	if v != nil {
		if err := v.Validate(input); err != nil {
			return entrypoint.Def{}, err
		}
	}
	return def, nil
}

func result(runID string, res *entrypoint.Result, err error) *RunResult {
	out := &RunResult{RunID: runID, Status: StatusSucceeded}
	if err != nil {
		out.Status = StatusFailed
		return out
	}
	if res != nil {
		out.Output = res.Output
		out.Usage = res.Usage
		out.Model = res.Model
	}
	return out
}

func (a *Agent) record(ctx context.Context, def entrypoint.Def, kind entrypoint.Kind, res *RunResult, d time.Duration) {
	// Without payments nothing was charged, whatever price the def carries.
	var price, network string
	if a.cfg.Payments != nil {
		price, _ = payments.ResolvePrice(def, a.cfg.Payments, kind)
		if price != "" {
			network = payments.ResolveNetwork(def, a.cfg.Payments)
		}
	}

	a.logger.Info("entrypoint run",
		zap.String("entrypoint", def.Key),
		zap.String("kind", string(kind)),
		zap.String("run_id", res.RunID),
		zap.String("status", res.Status),
		zap.Duration("duration", d),
	)
	if a.recorder == nil {
		return
	}
	run := Run{
		Key:      def.Key,
		Kind:     kind,
		RunID:    res.RunID,
		Price:    price,
		Network:  network,
		Status:   res.Status,
		Duration: d,
		Output:   res.Output,
	}
	if err := a.recorder.Record(context.WithoutCancel(ctx), run); err != nil {
		a.logger.Warn("record run", zap.String("run_id", res.RunID), zap.Error(err))
	}
}

func cloneConfig(c Config) Config {
	out := c
	out.Payments = c.Payments.Clone()
	if c.AP2 != nil {
		ap2 := *c.AP2
		ap2.Roles = append([]string(nil), c.AP2.Roles...)
		if c.AP2.Required != nil {
			r := *c.AP2.Required
			ap2.Required = &r
		}
		out.AP2 = &ap2
	}
	if c.Trust != nil {
		t := *c.Trust
		t.Registrations = append([]agentcard.Registration(nil), c.Trust.Registrations...)
		t.TrustModels = append([]string(nil), c.Trust.TrustModels...)
		out.Trust = &t
	}
	return out
}
