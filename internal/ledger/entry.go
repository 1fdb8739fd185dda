package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// GenesisHash is the fixed hash of the genesis entry and the anchor of the
// chain.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

const actionGenesis = "genesis"

// Entry is one link of the chain.
type Entry struct {
	Index      int       `json:"index"`
	Timestamp  time.Time `json:"timestamp"`
	Entrypoint string    `json:"entrypoint,omitempty"`
	Kind       string    `json:"kind"` // invoke, stream, genesis
	RunID      string    `json:"run_id,omitempty"`
	Price      string    `json:"price,omitempty"`
	Network    string    `json:"network,omitempty"`
	Status     string    `json:"status,omitempty"`
	DataHash   string    `json:"data_hash"`
	PrevHash   string    `json:"prev_hash"`
	Hash       string    `json:"hash"`
}

func genesisEntry(ts time.Time) *Entry {
	return &Entry{
		Index:     0,
		Timestamp: ts,
		Kind:      actionGenesis,
		DataHash:  GenesisHash,
		PrevHash:  GenesisHash,
		Hash:      GenesisHash,
	}
}

// newEntry builds the entry that follows prev. The timestamp is truncated to
// microseconds so the hash survives a round trip through Postgres.
func newEntry(prevIndex int, prevHash string, rec Record) (*Entry, error) {
	payload, err := json.Marshal(rec.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	e := &Entry{
		Index:      prevIndex + 1,
		Timestamp:  time.Now().UTC().Truncate(time.Microsecond),
		Entrypoint: rec.Entrypoint,
		Kind:       rec.Kind,
		RunID:      rec.RunID,
		Price:      rec.Price,
		Network:    rec.Network,
		Status:     rec.Status,
		DataHash:   sha256Sum(payload),
		PrevHash:   prevHash,
	}
	e.Hash = hashEntry(e)
	return e, nil
}

// hashEntry computes the SHA-256 of an entry's fields. It is never applied to
// the genesis entry.
func hashEntry(e *Entry) string {
	h := sha256.New()
	fmt.Fprintf(h, "%d|%s|%s|%s|%s|%s|%s|%s|%s|%s",
		e.Index, e.Timestamp.UTC().Format(time.RFC3339Nano),
		e.Entrypoint, e.Kind, e.RunID, e.Price, e.Network, e.Status,
		e.DataHash, e.PrevHash,
	)
	return hex.EncodeToString(h.Sum(nil))
}

// checkLink validates curr against its predecessor. prev is nil for the
// first entry.
func checkLink(prev, curr *Entry) error {
	if prev == nil {
		if curr.Hash != GenesisHash {
			return fmt.Errorf("%w: genesis entry has wrong hash %q", ErrBrokenChain, curr.Hash)
		}
		return nil
	}
	if curr.PrevHash != prev.Hash {
		return fmt.Errorf("%w: at index %d", ErrBrokenChain, curr.Index)
	}
	if curr.Hash != hashEntry(curr) {
		return fmt.Errorf("%w: entry %d has invalid hash", ErrBrokenChain, curr.Index)
	}
	return nil
}

func sha256Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
