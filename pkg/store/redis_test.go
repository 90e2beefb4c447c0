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

func testRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStoreFromClient(client, time.Second), srv
}

func TestRedisStoreRoundTrip(t *testing.T) {
	s, _ := testRedisStore(t)
	ctx := context.Background()

	require.NoError(t, s.Ping(ctx))

	require.NoError(t, s.Save(ctx, KindReputation, "srv-1", []byte(`{"score":676}`)))

	data, found, err := s.Load(ctx, KindReputation, "srv-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.JSONEq(t, `{"score":676}`, string(data))
}

func TestRedisStoreMissingKey(t *testing.T) {
	s, _ := testRedisStore(t)

	data, found, err := s.Load(context.Background(), KindSandbox, "absent")
	require.NoError(t, err, "a missing record is not an error")
	assert.False(t, found)
	assert.Nil(t, data)
}

func TestRedisStoreKeyNamespacing(t *testing.T) {
	s, srv := testRedisStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, KindReputation, "srv-1", []byte("a")))
	require.NoError(t, s.Save(ctx, KindSandbox, "srv-1", []byte("b")))

	got, err := srv.Get("warden:rep:srv-1")
	require.NoError(t, err)
	assert.Equal(t, "a", got)

	got, err = srv.Get("warden:sbx:srv-1")
	require.NoError(t, err)
	assert.Equal(t, "b", got)
}

func TestRedisStoreOverwrite(t *testing.T) {
	s, _ := testRedisStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, KindReputation, "srv-1", []byte("v1")))
	require.NoError(t, s.Save(ctx, KindReputation, "srv-1", []byte("v2")))

	data, found, err := s.Load(ctx, KindReputation, "srv-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("v2"), data)
}

func TestRedisStoreSurfacesConnectionErrors(t *testing.T) {
	s, srv := testRedisStore(t)
	srv.Close()

	_, _, err := s.Load(context.Background(), KindReputation, "srv-1")
	assert.Error(t, err)
	assert.Error(t, s.Save(context.Background(), KindReputation, "srv-1", []byte("x")))
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	_, found, err := m.Load(ctx, KindReputation, "srv-1")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, m.Save(ctx, KindReputation, "srv-1", []byte("snapshot")))
	data, found, err := m.Load(ctx, KindReputation, "srv-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("snapshot"), data)
	assert.Equal(t, 1, m.Len())
}

func TestMemoryStoreCopies(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	in := []byte("original")
	require.NoError(t, m.Save(ctx, KindSandbox, "srv-1", in))
	in[0] = 'X'

	out, _, err := m.Load(ctx, KindSandbox, "srv-1")
	require.NoError(t, err)
	assert.Equal(t, []byte("original"), out)

	out[0] = 'Y'
	again, _, _ := m.Load(ctx, KindSandbox, "srv-1")
	assert.Equal(t, []byte("original"), again)
}
