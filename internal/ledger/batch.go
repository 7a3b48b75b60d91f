package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	fpmath "PerpVAMM/internal/math"
	"PerpVAMM/internal/store"
)

// Batch stages the record writes and token movements of one directive on
// top of a store. Reads see staged writes first. Nothing reaches the store
// until the caller commits Writes(); discarding the batch drops everything.
type Batch struct {
	BatchID     uuid.UUID
	DirectiveID uuid.UUID
	Sequence    int64
	Timestamp   int64
	Journals    []Journal

	base   store.Store
	staged map[string]store.Write
}

func NewBatch(base store.Store, directiveID uuid.UUID, sequence, timestamp int64) *Batch {
	return &Batch{
		BatchID:     uuid.New(),
		DirectiveID: directiveID,
		Sequence:    sequence,
		Timestamp:   timestamp,
		base:        base,
		staged:      make(map[string]store.Write),
	}
}

func (b *Batch) Get(ctx context.Context, key string) ([]byte, error) {
	if w, ok := b.staged[key]; ok {
		if w.Delete {
			return nil, store.ErrNotFound
		}
		return w.Value, nil
	}
	return b.base.Get(ctx, key)
}

// Load decodes the record at key into v. It reports false when the key
// does not exist.
func (b *Batch) Load(ctx context.Context, key string, v any) (bool, error) {
	data, err := b.Get(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func (b *Batch) Put(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	b.staged[key] = store.Write{Key: key, Value: data}
	return nil
}

// PutRaw stages already encoded bytes.
func (b *Batch) PutRaw(key string, data []byte) {
	b.staged[key] = store.Write{Key: key, Value: data}
}

func (b *Batch) Delete(key string) {
	b.staged[key] = store.Write{Key: key, Delete: true}
}

// Scan merges staged writes over the base store and visits the result in
// key order.
func (b *Batch) Scan(ctx context.Context, prefix string, fn func(key string, value []byte) error) error {
	merged := make(map[string][]byte)
	err := b.base.Scan(ctx, prefix, func(k string, v []byte) error {
		merged[k] = v
		return nil
	})
	if err != nil {
		return err
	}
	for k, w := range b.staged {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		if w.Delete {
			delete(merged, k)
		} else {
			merged[k] = w.Value
		}
	}
	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := fn(k, merged[k]); err != nil {
			return err
		}
	}
	return nil
}

// Transfer stages a token movement from credit to debit. Zero amounts are
// dropped.
func (b *Batch) Transfer(debit, credit AccountKey, amount fpmath.Uint, jt JournalType) {
	if amount.IsZero() {
		return
	}
	b.Journals = append(b.Journals, Journal{
		JournalID:     uuid.New(),
		BatchID:       b.BatchID,
		DirectiveID:   b.DirectiveID,
		Sequence:      b.Sequence,
		DebitAccount:  debit,
		CreditAccount: credit,
		Amount:        amount,
		JournalType:   jt,
		Timestamp:     b.Timestamp,
	})
}

// Writes returns the staged writes in key order.
func (b *Batch) Writes() []store.Write {
	out := make([]store.Write, 0, len(b.staged))
	for _, w := range b.staged {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Validate ensures the batch is well-formed.
func (b *Batch) Validate() error {
	for _, j := range b.Journals {
		if j.BatchID != b.BatchID {
			return fmt.Errorf("journal %s has mismatched batch_id", j.JournalID)
		}
		if err := j.Validate(); err != nil {
			return err
		}
	}
	return nil
}
