package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*ExpiringStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewExpiringStore(client), mr
}

func TestPutGet(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "k1", []byte("v1"), time.Minute))

	val, ok, err := s.Get(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v1"), val)
}

func TestGet_AbsentIsNotAnError(t *testing.T) {
	s, _ := newTestStore(t)

	val, ok, err := s.Get(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, val)
}

func TestGet_ExpiredKeyIsAbsent(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "k1", []byte("v1"), time.Minute))
	mr.FastForward(2 * time.Minute)

	_, ok, err := s.Get(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGetAll_ReturnsOnlyPrefix(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "room:a:1", []byte("one"), time.Minute))
	require.NoError(t, s.Put(ctx, "room:a:2", []byte("two"), time.Minute))
	require.NoError(t, s.Put(ctx, "room:b:1", []byte("other"), time.Minute))

	entries, err := s.GetAll(ctx, "room:a")
	require.NoError(t, err)
	assert.Len(t, entries, 2)
	assert.Equal(t, []byte("one"), entries["room:a:1"])
	assert.Equal(t, []byte("two"), entries["room:a:2"])
}

func TestDelete(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "k1", []byte("v1"), time.Minute))
	require.NoError(t, s.Delete(ctx, "k1"))

	_, ok, err := s.Get(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestExtendTTL(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "k1", []byte("v1"), time.Minute))
	mr.FastForward(50 * time.Second)
	require.NoError(t, s.ExtendTTL(ctx, "k1", time.Minute))
	mr.FastForward(50 * time.Second)

	// Without the refresh the key would have expired at the 60s mark.
	_, ok, err := s.Get(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestExtendTTLByPrefix(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "sess:1", []byte("a"), time.Minute))
	require.NoError(t, s.Put(ctx, "sess:1:sub", []byte("b"), time.Minute))
	require.NoError(t, s.Put(ctx, "other:1", []byte("c"), time.Minute))

	mr.FastForward(50 * time.Second)
	require.NoError(t, s.ExtendTTLByPrefix(ctx, "sess:1", time.Minute))
	mr.FastForward(30 * time.Second)

	for _, key := range []string{"sess:1", "sess:1:sub"} {
		_, ok, err := s.Get(ctx, key)
		require.NoError(t, err)
		assert.True(t, ok, "key %s should have been refreshed", key)
	}

	_, ok, err := s.Get(ctx, "other:1")
	require.NoError(t, err)
	assert.False(t, ok, "unrelated key should have expired")
}

func TestGet_UnavailableStore(t *testing.T) {
	s, mr := newTestStore(t)
	mr.Close()

	_, ok, err := s.Get(context.Background(), "k1")
	assert.Error(t, err)
	assert.False(t, ok)
}
