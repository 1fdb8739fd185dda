package entrypoint

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrDuplicateKey is matched by *DuplicateKeyError via errors.Is.
	ErrDuplicateKey = errors.New("entrypoint: duplicate key")
	// ErrEmptyKey is returned when a definition has no key.
	ErrEmptyKey = errors.New("entrypoint: key is required")
	// ErrNotFound is returned when no entrypoint has the requested key.
	ErrNotFound = errors.New("entrypoint: not found")
	// ErrInvalidInput is wrapped by handlers that reject their input.
	ErrInvalidInput = errors.New("invalid input")
)

// DuplicateKeyError reports an Add whose key is already registered.
type DuplicateKeyError struct {
	Key string
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("entrypoint %q is already registered", e.Key)
}

// Is lets errors.Is(err, ErrDuplicateKey) match.
func (e *DuplicateKeyError) Is(target error) bool { return target == ErrDuplicateKey }

// Registry is an insertion-ordered set of entrypoint definitions keyed by Key.
//
// Registration is expected during startup; request handlers only read through
// Get and Snapshot. All methods are safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	order []string
	defs  map[string]Def
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]Def)}
}

// Add registers def. It fails with *DuplicateKeyError if def.Key is taken;
// a failed Add leaves the registry unchanged.
func (r *Registry) Add(def Def) error {
	if def.Key == "" {
		return ErrEmptyKey
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.defs[def.Key]; ok {
		return &DuplicateKeyError{Key: def.Key}
	}
	r.defs[def.Key] = def.clone()
	r.order = append(r.order, def.Key)
	return nil
}

// Replace swaps the definition registered under def.Key, keeping its
// position in the registry order.
func (r *Registry) Replace(def Def) error {
	if def.Key == "" {
		return ErrEmptyKey
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.defs[def.Key]; !ok {
		return fmt.Errorf("entrypoint %q: %w", def.Key, ErrNotFound)
	}
	r.defs[def.Key] = def.clone()
	return nil
}

// Get returns the definition registered under key.
func (r *Registry) Get(key string) (Def, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.defs[key]
	if !ok {
		return Def{}, false
	}
	return d.clone(), true
}

// Snapshot returns every definition in insertion order. The slice is a copy:
// later registry changes are not visible through it and changes to it do not
// reach the registry.
func (r *Registry) Snapshot() []Def {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Def, 0, len(r.order))
	for _, k := range r.order {
		out = append(out, r.defs[k].clone())
	}
	return out
}

// Keys returns the registered keys in insertion order.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Len returns the number of registered entrypoints.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}
