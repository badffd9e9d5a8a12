package kv

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"
)

const (
	redisFieldValue    = "value"
	redisFieldMetadata = "metadata"
)

// RedisStore keeps each entry in its own hash with a value field and a
// metadata field. Expiry is native. Listing scans the namespace and sorts
// client-side because SCAN order is unspecified.
type RedisStore struct {
	client    redis.UniversalClient
	namespace string
	scanCount int64
}

// NewRedisStore wraps a connected client. Every key is stored under
// namespace so several relays can share one database.
func NewRedisStore(client redis.UniversalClient, namespace string, scanCount int64) *RedisStore {
	if scanCount <= 0 {
		scanCount = 256
	}
	return &RedisStore{
		client:    client,
		namespace: namespace,
		scanCount: scanCount,
	}
}

func (r *RedisStore) fullKey(key string) string {
	return r.namespace + key
}

func (r *RedisStore) Put(ctx context.Context, key string, value []byte, opts PutOptions) error {
	full := r.fullKey(key)
	metadata := opts.Metadata
	if metadata == nil {
		metadata = []byte{}
	}

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, full)
		pipe.HSet(ctx, full, redisFieldValue, value, redisFieldMetadata, metadata)
		if opts.TTL > 0 {
			pipe.PExpire(ctx, full, opts.TTL)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to put %s: %w", key, err)
	}
	return nil
}

func (r *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := r.client.HGet(ctx, r.fullKey(key), redisFieldValue).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return value, true, nil
}

func (r *RedisStore) List(ctx context.Context, opts ListOptions) ([]ListEntry, error) {
	pattern := escapeGlob(r.fullKey(opts.Prefix)) + "*"

	var keys []string
	iter := r.client.Scan(ctx, 0, pattern, r.scanCount).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), r.namespace))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan prefix %q: %w", opts.Prefix, err)
	}

	// SCAN may return a key more than once
	sort.Strings(keys)
	keys = dedupeSorted(keys)
	if opts.Limit > 0 && len(keys) > opts.Limit {
		keys = keys[:opts.Limit]
	}
	if len(keys) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.StringCmd, len(keys))
	_, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, key := range keys {
			cmds[i] = pipe.HGet(ctx, r.fullKey(key), redisFieldMetadata)
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to read metadata for prefix %q: %w", opts.Prefix, err)
	}

	entries := make([]ListEntry, 0, len(keys))
	for i, key := range keys {
		metadata, err := cmds[i].Bytes()
		if errors.Is(err, redis.Nil) {
			// expired or deleted after the scan
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read metadata for %s: %w", key, err)
		}
		if len(metadata) == 0 {
			metadata = nil
		}
		entries = append(entries, ListEntry{Key: key, Metadata: metadata})
	}
	return entries, nil
}

func (r *RedisStore) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.fullKey(key)).Err(); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

func escapeGlob(s string) string {
	var b strings.Builder
	for _, c := range s {
		switch c {
		case '*', '?', '[', ']', '\\':
			b.WriteRune('\\')
		}
		b.WriteRune(c)
	}
	return b.String()
}

func dedupeSorted(keys []string) []string {
	if len(keys) < 2 {
		return keys
	}
	out := keys[:1]
	for _, key := range keys[1:] {
		if key != out[len(out)-1] {
			out = append(out, key)
		}
	}
	return out
}
