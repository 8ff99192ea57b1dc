package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dshills/foldtext/internal/ot"
)

type memDoc struct {
	doc Document
	ops []ot.Operation
}

// Memory is a Store held in process memory.
type Memory struct {
	mu   sync.RWMutex
	docs map[Key]*memDoc
	now  func() time.Time
}

// NewMemory creates an empty memory store.
func NewMemory() *Memory {
	return &Memory{docs: make(map[Key]*memDoc), now: time.Now}
}

// Create implements Store.
func (m *Memory) Create(_ context.Context, key Key, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[key]; ok {
		return ErrExists
	}
	m.docs[key] = &memDoc{doc: Document{Text: text, UpdatedAt: m.now()}}
	return nil
}

// Get implements Store.
func (m *Memory) Get(_ context.Context, key Key) (*Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.docs[key]
	if !ok {
		return nil, ErrNotFound
	}
	doc := d.doc
	return &doc, nil
}

// Append implements Store.
func (m *Memory) Append(_ context.Context, key Key, ops []ot.Operation, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[key]
	if !ok {
		return ErrNotFound
	}
	if err := checkAppend(key, d.doc.Seq, ops); err != nil {
		return err
	}
	d.ops = append(d.ops, ops...)
	d.doc.Text = text
	d.doc.Seq += uint64(len(ops))
	d.doc.UpdatedAt = m.now()
	return nil
}

// Ops implements Store.
func (m *Memory) Ops(_ context.Context, key Key, after uint64) ([]ot.Operation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.docs[key]
	if !ok {
		return nil, ErrNotFound
	}
	i := sort.Search(len(d.ops), func(i int) bool { return d.ops[i].Seq > after })
	return append([]ot.Operation(nil), d.ops[i:]...), nil
}

// Keys returns the stored document keys, sorted.
func (m *Memory) Keys() []Key {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]Key, 0, len(m.docs))
	for k := range m.docs {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}

// Close implements Store.
func (m *Memory) Close() error {
	return nil
}
