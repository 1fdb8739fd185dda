package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryLedger is an in-memory Ledger. Entries do not survive a restart.
type MemoryLedger struct {
	mu      sync.RWMutex
	entries []*Entry
}

// NewMemory creates a MemoryLedger holding only the genesis entry.
func NewMemory() *MemoryLedger {
	return &MemoryLedger{entries: []*Entry{genesisEntry(time.Now().UTC())}}
}

// Append implements Ledger.
func (l *MemoryLedger) Append(_ context.Context, rec Record) (*Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	prev := l.entries[len(l.entries)-1]
	e, err := newEntry(prev.Index, prev.Hash, rec)
	if err != nil {
		return nil, err
	}
	l.entries = append(l.entries, e)
	cp := *e
	return &cp, nil
}

// Get implements Ledger.
func (l *MemoryLedger) Get(_ context.Context, index int) (*Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if index < 0 || index >= len(l.entries) {
		return nil, fmt.Errorf("%w: index %d", ErrNotFound, index)
	}
	cp := *l.entries[index]
	return &cp, nil
}

// Len implements Ledger.
func (l *MemoryLedger) Len(_ context.Context) (int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries), nil
}

// Verify implements Ledger.
func (l *MemoryLedger) Verify(_ context.Context) error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var prev *Entry
	for _, curr := range l.entries {
		if err := checkLink(prev, curr); err != nil {
			return err
		}
		prev = curr
	}
	return nil
}

// Root implements Ledger.
func (l *MemoryLedger) Root(_ context.Context) (string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.entries[len(l.entries)-1].Hash, nil
}
