// Package store is the keyed record store the clearing house persists its
// state to. Keys are flat strings built by the state package; values are
// opaque JSON documents.
package store

import (
	"context"
	"errors"
	"strings"
)

var ErrNotFound = errors.New("store: key not found")

// Write is one staged mutation. A Write with Delete set removes Key.
type Write struct {
	Key    string
	Value  []byte
	Delete bool
}

// Store reads single keys, scans key ranges in ascending order, and applies
// a set of writes atomically.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	// Scan calls fn for every key with the given prefix, in key order.
	// Returning an error from fn stops the scan and returns that error.
	Scan(ctx context.Context, prefix string, fn func(key string, value []byte) error) error
	Commit(ctx context.Context, writes []Write) error
}

// prefixEnd returns the smallest key greater than every key with the given
// prefix, or "" when no such key exists.
func prefixEnd(prefix string) string {
	b := []byte(prefix)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] < 0xff {
			b[i]++
			return string(b[:i+1])
		}
	}
	return ""
}

func hasPrefix(key, prefix string) bool {
	return strings.HasPrefix(key, prefix)
}
