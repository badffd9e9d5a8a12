package kv

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_Conformance(t *testing.T) {
	runStoreConformance(t, func(t *testing.T) Store {
		return NewMemoryStore()
	})
}

func TestMemoryStore_TTL(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	store := NewMemoryStore()
	store.now = func() time.Time { return now }

	require.NoError(t, store.Put(ctx, "msg:short", []byte("a"), PutOptions{TTL: time.Minute}))
	require.NoError(t, store.Put(ctx, "msg:long", []byte("b"), PutOptions{TTL: time.Hour}))
	require.NoError(t, store.Put(ctx, "msg:forever", []byte("c"), PutOptions{}))

	now = now.Add(2 * time.Minute)

	_, found, err := store.Get(ctx, "msg:short")
	require.NoError(t, err)
	assert.False(t, found, "expired entry must not be readable")

	entries, err := store.List(ctx, ListOptions{Prefix: "msg:"})
	require.NoError(t, err)
	assert.Equal(t, []string{"msg:forever", "msg:long"}, listKeys(entries))

	assert.Equal(t, 3, store.Len())
	removed, err := store.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 2, store.Len())
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	value := []byte("hello")
	require.NoError(t, store.Put(ctx, "k", value, PutOptions{Metadata: []byte("m")}))
	value[0] = 'j'

	got, _, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))

	got[0] = 'x'
	again, _, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(again))
}

func TestMemoryStore_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	store := NewMemoryStore()

	assert.ErrorIs(t, store.Put(ctx, "k", nil, PutOptions{}), context.Canceled)
	_, err := store.List(ctx, ListOptions{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPrefixUpperBound(t *testing.T) {
	assert.Equal(t, "msg;", prefixUpperBound("msg:"))
	assert.Equal(t, "b", prefixUpperBound("a\xff"))
	assert.Equal(t, "", prefixUpperBound("\xff\xff"))
	assert.Equal(t, "", prefixUpperBound(""))
}
