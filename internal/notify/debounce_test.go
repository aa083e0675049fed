package notify

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-router/internal/rooms"
)

func TestMemoryDebouncerWindow(t *testing.T) {
	ctx := context.Background()
	d := NewMemoryDebouncer(5 * time.Second)
	now := time.Unix(0, 0)
	d.now = func() time.Time { return now }
	room := rooms.PrivateRoomID(1, 2)

	ok, err := d.Allow(ctx, 2, room)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = d.Allow(ctx, 2, room)
	assert.False(t, ok)

	ok, _ = d.Allow(ctx, 2, rooms.PrivateRoomID(2, 3))
	assert.True(t, ok, "windows are per room")
	ok, _ = d.Allow(ctx, 3, room)
	assert.True(t, ok, "windows are per user")

	now = now.Add(5 * time.Second)
	ok, _ = d.Allow(ctx, 2, room)
	assert.True(t, ok)
}

func TestMemoryDebouncerReset(t *testing.T) {
	ctx := context.Background()
	d := NewMemoryDebouncer(time.Minute)
	room := rooms.PrivateRoomID(1, 2)

	ok, _ := d.Allow(ctx, 2, room)
	require.True(t, ok)
	ok, _ = d.Allow(ctx, 1, room)
	require.True(t, ok)

	require.NoError(t, d.Reset(ctx, 2))
	ok, _ = d.Allow(ctx, 2, room)
	assert.True(t, ok)
	ok, _ = d.Allow(ctx, 1, room)
	assert.False(t, ok)
}

func TestMemoryDebouncerPrunesExpired(t *testing.T) {
	ctx := context.Background()
	d := NewMemoryDebouncer(time.Second)
	now := time.Unix(0, 0)
	d.now = func() time.Time { return now }

	for i := 1; i <= 1100; i++ {
		_, _ = d.Allow(ctx, i, rooms.Public)
	}
	now = now.Add(2 * time.Second)
	_, _ = d.Allow(ctx, 5000, rooms.Public)
	assert.Len(t, d.expires, 1)
}

func TestRedisDebouncer(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	opts, err := redis.ParseURL(url)
	require.NoError(t, err)
	client := redis.NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	d := NewRedisDebouncer(client, time.Minute)
	userID := int(time.Now().UnixNano() % 1_000_000)
	room := rooms.PrivateRoomID(userID, userID+1)
	t.Cleanup(func() { _ = d.Reset(ctx, userID) })

	ok, err := d.Allow(ctx, userID, room)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = d.Allow(ctx, userID, room)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = d.Allow(ctx, userID, rooms.PrivateRoomID(userID, userID+2))
	require.NoError(t, err)
	assert.True(t, ok, "windows are per room")

	fields, err := client.HLen(ctx, debounceRedisKey(userID)).Result()
	require.NoError(t, err)
	assert.EqualValues(t, 2, fields, "all of a user's windows share one hash")
	ttl, err := client.PTTL(ctx, debounceRedisKey(userID)).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	require.NoError(t, d.Reset(ctx, userID))
	exists, err := client.Exists(ctx, debounceRedisKey(userID)).Result()
	require.NoError(t, err)
	assert.Zero(t, exists)
	ok, err = d.Allow(ctx, userID, room)
	require.NoError(t, err)
	assert.True(t, ok)
}
