package kv

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func listKeys(entries []ListEntry) []string {
	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		keys = append(keys, e.Key)
	}
	return keys
}

// runStoreConformance exercises the Store contract every backend must meet
func runStoreConformance(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("put then get", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.Put(ctx, "msg:1:a", []byte(`{"a":1}`), PutOptions{Metadata: []byte(`{"messageId":"a"}`)}))

		value, found, err := store.Get(ctx, "msg:1:a")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, `{"a":1}`, string(value))
	})

	t.Run("get miss is not an error", func(t *testing.T) {
		store := newStore(t)
		value, found, err := store.Get(ctx, "msg:missing")
		require.NoError(t, err)
		assert.False(t, found)
		assert.Nil(t, value)
	})

	t.Run("put overwrites value and metadata", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.Put(ctx, "k", []byte("v1"), PutOptions{Metadata: []byte("m1")}))
		require.NoError(t, store.Put(ctx, "k", []byte("v2"), PutOptions{Metadata: []byte("m2")}))

		value, _, err := store.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, "v2", string(value))

		entries, err := store.List(ctx, ListOptions{Prefix: "k"})
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "m2", string(entries[0].Metadata))
	})

	t.Run("list is prefix scoped and ordered", func(t *testing.T) {
		store := newStore(t)
		for _, key := range []string{"msg:3", "other:1", "msg:1", "msg:2", "msh:0", "ms"} {
			require.NoError(t, store.Put(ctx, key, []byte(key), PutOptions{Metadata: []byte("meta-" + key)}))
		}

		entries, err := store.List(ctx, ListOptions{Prefix: "msg:"})
		require.NoError(t, err)
		assert.Equal(t, []string{"msg:1", "msg:2", "msg:3"}, listKeys(entries))
		assert.Equal(t, "meta-msg:1", string(entries[0].Metadata))
	})

	t.Run("list honours limit", func(t *testing.T) {
		store := newStore(t)
		for i := 0; i < 10; i++ {
			require.NoError(t, store.Put(ctx, fmt.Sprintf("msg:%02d", i), []byte("x"), PutOptions{}))
		}

		entries, err := store.List(ctx, ListOptions{Prefix: "msg:", Limit: 3})
		require.NoError(t, err)
		assert.Equal(t, []string{"msg:00", "msg:01", "msg:02"}, listKeys(entries))

		all, err := store.List(ctx, ListOptions{Prefix: "msg:"})
		require.NoError(t, err)
		assert.Len(t, all, 10)
	})

	t.Run("list without metadata", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.Put(ctx, "msg:1", []byte("x"), PutOptions{}))

		entries, err := store.List(ctx, ListOptions{Prefix: "msg:"})
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Empty(t, entries[0].Metadata)
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.Put(ctx, "msg:1", []byte("x"), PutOptions{}))

		require.NoError(t, store.Delete(ctx, "msg:1"))
		require.NoError(t, store.Delete(ctx, "msg:1"))
		require.NoError(t, store.Delete(ctx, "msg:never"))

		_, found, err := store.Get(ctx, "msg:1")
		require.NoError(t, err)
		assert.False(t, found)

		entries, err := store.List(ctx, ListOptions{Prefix: "msg:"})
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("binary values round trip", func(t *testing.T) {
		store := newStore(t)
		value := []byte{0x00, 0xff, 0x10, 0x00}
		require.NoError(t, store.Put(ctx, "bin", value, PutOptions{TTL: time.Hour}))

		got, found, err := store.Get(ctx, "bin")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, value, got)
	})
}
