// Package ledger keeps a hash-chained, append-only record of entrypoint runs.
//
// The chain starts with a genesis entry whose Hash equals GenesisHash (64 hex
// zeros). Every later entry stores the hash of its predecessor, so editing or
// dropping an entry breaks Verify.
//
//   - MemoryLedger keeps the chain in process, for tests and single-node use.
//   - PostgresLedger persists it with pgx.
package ledger

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned by Get for an index outside the chain.
	ErrNotFound = errors.New("ledger entry not found")
	// ErrBrokenChain is returned by Verify when the chain has been altered.
	ErrBrokenChain = errors.New("ledger chain broken")
)

// Record is the data appended for one run.
type Record struct {
	Entrypoint string
	Kind       string
	RunID      string
	Price      string
	Network    string
	Status     string
	// Payload is JSON-marshalled; only its SHA-256 is kept.
	Payload any
}

// Ledger is the append-only run log. MemoryLedger and PostgresLedger
// implement it.
type Ledger interface {
	// Append chains a new entry after the current tip.
	Append(ctx context.Context, rec Record) (*Entry, error)

	// Get returns the entry at the zero-based index.
	Get(ctx context.Context, index int) (*Entry, error)

	// Len returns the number of entries, genesis included.
	Len(ctx context.Context) (int, error)

	// Verify walks the chain and checks every hash.
	Verify(ctx context.Context) error

	// Root returns the hash of the most recent entry.
	Root(ctx context.Context) (string, error)
}
