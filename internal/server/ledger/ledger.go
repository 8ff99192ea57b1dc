// Package ledger records, per document and client, the last batch the
// relay applied. A reconnecting client learns from it whether its
// in-flight batch made it, and resent batches are dropped.
package ledger

import (
	"context"
	"sync"

	"github.com/dshills/foldtext/internal/server/store"
)

// Ledger tracks applied batch ids.
type Ledger interface {
	// LastBatch returns the highest batch id recorded for client, or zero.
	LastBatch(ctx context.Context, key store.Key, client string) (uint64, error)

	// Record stores batch as applied for client. Lower ids than the one
	// already recorded are ignored.
	Record(ctx context.Context, key store.Key, client string, batch uint64) error

	// Close releases the ledger.
	Close() error
}

type entry struct {
	key    store.Key
	client string
}

// Memory is a Ledger held in process memory.
type Memory struct {
	mu      sync.Mutex
	batches map[entry]uint64
}

// NewMemory creates an empty ledger.
func NewMemory() *Memory {
	return &Memory{batches: make(map[entry]uint64)}
}

// LastBatch implements Ledger.
func (m *Memory) LastBatch(_ context.Context, key store.Key, client string) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.batches[entry{key, client}], nil
}

// Record implements Ledger.
func (m *Memory) Record(_ context.Context, key store.Key, client string, batch uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := entry{key, client}
	m.batches[e] = max(m.batches[e], batch)
	return nil
}

// Close implements Ledger.
func (m *Memory) Close() error {
	return nil
}
