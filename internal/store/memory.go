package store

import (
	"context"
	"sync"

	"github.com/google/btree"
)

type record struct {
	key   string
	value []byte
}

func lessRecord(a, b record) bool { return a.key < b.key }

// Memory is an ordered in-process Store. Readers run concurrently with each
// other; Commit is exclusive.
type Memory struct {
	mu   sync.RWMutex
	tree *btree.BTreeG[record]
}

func NewMemory() *Memory {
	return &Memory{tree: btree.NewG(32, lessRecord)}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.tree.Get(record{key: key})
	if !ok {
		return nil, ErrNotFound
	}
	return clone(r.value), nil
}

func (m *Memory) Scan(ctx context.Context, prefix string, fn func(key string, value []byte) error) error {
	m.mu.RLock()
	var out []record
	visit := func(r record) bool {
		if !hasPrefix(r.key, prefix) {
			return false
		}
		out = append(out, record{key: r.key, value: clone(r.value)})
		return true
	}
	if end := prefixEnd(prefix); end != "" {
		m.tree.AscendRange(record{key: prefix}, record{key: end}, visit)
	} else {
		m.tree.AscendGreaterOrEqual(record{key: prefix}, visit)
	}
	m.mu.RUnlock()

	// fn runs without the lock held so it may read the store again.
	for _, r := range out {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(r.key, r.value); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory) Commit(ctx context.Context, writes []Write) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, w := range writes {
		if w.Delete {
			m.tree.Delete(record{key: w.Key})
			continue
		}
		m.tree.ReplaceOrInsert(record{key: w.Key, value: clone(w.Value)})
	}
	return nil
}

// Len returns the number of stored keys.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tree.Len()
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
