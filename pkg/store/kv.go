// SPDX-License-Identifier: Apache-2.0
// Package store persists deduplicated error records over a plain key-value
// backend and maintains per-dimension secondary indexes so filtered queries
// do not need a full scan.
package store

import (
	"context"
	"errors"
)

// ErrKeyNotFound indicates the requested key does not exist.
var ErrKeyNotFound = errors.New("store: key not found")

// Entry is a single key-value pair returned by a prefix scan.
type Entry struct {
	Key   string
	Value []byte
}

// KV is the minimal key-value contract the store is built on. Backends are
// expected to serialize writes per key; the store adds no cross-call locking
// around them.
type KV interface {
	// Set writes value under key, overwriting any previous value.
	Set(ctx context.Context, key string, value []byte) error

	// Get returns the value for key, or ErrKeyNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// ScanPrefix returns all entries whose key starts with prefix, in
	// ascending key order.
	ScanPrefix(ctx context.Context, prefix string) ([]Entry, error)
}

// prefixEnd returns the smallest key greater than every key with the given
// prefix, for half-open range scans. Returns "" when no upper bound exists.
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
