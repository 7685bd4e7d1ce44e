package rediscache

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTokens is an in-memory TokenRepository that counts lookups.
type fakeTokens struct {
	tokens    map[string]int64
	lookups   int
	insertErr error
}

func (f *fakeTokens) FindUserByToken(_ context.Context, tok string) (int64, bool, error) {
	f.lookups++
	id, ok := f.tokens[tok]
	return id, ok, nil
}

func (f *fakeTokens) InsertToken(_ context.Context, tok string, userID int64) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.tokens[tok] = userID
	return nil
}

func newTestCache(t *testing.T) (*TokenCache, *fakeTokens, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	next := &fakeTokens{tokens: map[string]int64{}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewTokenCache(next, client, Config{TTL: time.Minute}, logger), next, mr
}

func TestTokenCache_ReadThrough(t *testing.T) {
	cache, next, mr := newTestCache(t)
	ctx := context.Background()
	next.tokens["tok"] = 7

	id, ok, err := cache.FindUserByToken(ctx, "tok")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(7), id)
	assert.Equal(t, 1, next.lookups)

	got, err := mr.Get(DefaultPrefix + "tok")
	require.NoError(t, err)
	assert.Equal(t, "7", got)
	assert.Equal(t, time.Minute, mr.TTL(DefaultPrefix+"tok"))

	// Second read is served by redis.
	id, ok, err = cache.FindUserByToken(ctx, "tok")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(7), id)
	assert.Equal(t, 1, next.lookups)
}

func TestTokenCache_MissIsNotCached(t *testing.T) {
	cache, next, mr := newTestCache(t)

	_, ok, err := cache.FindUserByToken(context.Background(), "unknown")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, next.lookups)
	assert.False(t, mr.Exists(DefaultPrefix+"unknown"))
}

func TestTokenCache_WriteThrough(t *testing.T) {
	cache, next, mr := newTestCache(t)

	require.NoError(t, cache.InsertToken(context.Background(), "tok", 12))

	assert.Equal(t, int64(12), next.tokens["tok"])
	got, err := mr.Get(DefaultPrefix + "tok")
	require.NoError(t, err)
	assert.Equal(t, "12", got)
}

func TestTokenCache_FailedInsertIsNotCached(t *testing.T) {
	cache, next, mr := newTestCache(t)
	next.insertErr = errors.New("unique violation")

	err := cache.InsertToken(context.Background(), "tok", 12)
	assert.ErrorIs(t, err, next.insertErr)
	assert.False(t, mr.Exists(DefaultPrefix+"tok"))
}

func TestTokenCache_RedisDownFallsThrough(t *testing.T) {
	cache, next, mr := newTestCache(t)
	next.tokens["tok"] = 3
	mr.Close()

	id, ok, err := cache.FindUserByToken(context.Background(), "tok")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(3), id)

	require.NoError(t, cache.InsertToken(context.Background(), "tok-2", 4))
	assert.Equal(t, int64(4), next.tokens["tok-2"])
}

func TestTokenCache_GarbageEntryIsIgnored(t *testing.T) {
	cache, next, mr := newTestCache(t)
	next.tokens["tok"] = 5
	require.NoError(t, mr.Set(DefaultPrefix+"tok", "not-a-number"))

	id, ok, err := cache.FindUserByToken(context.Background(), "tok")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(5), id)

	got, _ := mr.Get(DefaultPrefix + "tok")
	assert.Equal(t, "5", got, "entry should be repaired from the store")
}
