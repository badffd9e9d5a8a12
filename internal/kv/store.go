// Package kv provides a small namespaced key-value abstraction with
// per-key opaque metadata and time-to-live expiry.
//
// Backends only promise eventual consistency: a write may not be visible to
// a List or Get issued right after it, and List may still report keys that
// were just deleted. Callers must tolerate both.
package kv

import (
	"context"
	"strings"
	"time"
)

// PutOptions carries the side-channel data stored next to a value
type PutOptions struct {
	// Metadata is returned by List without fetching the value
	Metadata []byte
	// TTL of zero means the entry never expires
	TTL time.Duration
}

// ListOptions selects keys by prefix. A Limit of zero or less lists every
// matching key.
type ListOptions struct {
	Prefix string
	Limit  int
}

// ListEntry is one key reported by List
type ListEntry struct {
	Key      string
	Metadata []byte
}

// Store is the contract every backend implements. Keys are listed in
// ascending byte-wise lexicographic order. Get reports a miss with
// found=false and a nil error. Delete of a missing key is not an error.
type Store interface {
	Put(ctx context.Context, key string, value []byte, opts PutOptions) error
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	List(ctx context.Context, opts ListOptions) ([]ListEntry, error)
	Delete(ctx context.Context, key string) error
	Close() error
}

// Sweeper is implemented by backends without native expiry. SweepExpired
// removes entries whose TTL has passed and returns how many it removed.
type Sweeper interface {
	SweepExpired(ctx context.Context) (int, error)
}

// prefixUpperBound returns the smallest string greater than every string
// with the given prefix, or "" if no such bound exists.
func prefixUpperBound(prefix string) string {
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
	return prefix == "" || strings.HasPrefix(key, prefix)
}

func expiresAt(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}
