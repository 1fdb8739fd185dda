package ledger

import (
	"context"

	"github.com/jmerrifield20/agentkit/internal/agent"
)

// Recorder appends every agent run to a Ledger.
type Recorder struct {
	l Ledger
}

// NewRecorder returns an agent.Recorder backed by l.
func NewRecorder(l Ledger) *Recorder { return &Recorder{l: l} }

var _ agent.Recorder = (*Recorder)(nil)

// Record implements agent.Recorder. The run output is hashed, not stored.
func (r *Recorder) Record(ctx context.Context, run agent.Run) error {
	_, err := r.l.Append(ctx, Record{
		Entrypoint: run.Key,
		Kind:       string(run.Kind),
		RunID:      run.RunID,
		Price:      run.Price,
		Network:    run.Network,
		Status:     run.Status,
		Payload:    run.Output,
	})
	return err
}
