package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"chat-router/internal/rooms"
)

// Debouncer decides whether a notification for (user, room) may go out now.
type Debouncer interface {
	Allow(ctx context.Context, userID int, room rooms.RoomID) (bool, error)
	Reset(ctx context.Context, userID int) error
}

type debounceKey struct {
	userID int
	room   rooms.RoomID
}

// MemoryDebouncer keeps debounce windows in process memory.
type MemoryDebouncer struct {
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	expires map[debounceKey]time.Time
}

// NewMemoryDebouncer creates a debouncer with the given window.
func NewMemoryDebouncer(window time.Duration) *MemoryDebouncer {
	return &MemoryDebouncer{
		window:  window,
		now:     time.Now,
		expires: make(map[debounceKey]time.Time),
	}
}

func (d *MemoryDebouncer) Allow(_ context.Context, userID int, room rooms.RoomID) (bool, error) {
	now := d.now()
	key := debounceKey{userID: userID, room: room}

	d.mu.Lock()
	defer d.mu.Unlock()
	if until, ok := d.expires[key]; ok && now.Before(until) {
		return false, nil
	}
	d.expires[key] = now.Add(d.window)
	d.pruneLocked(now)
	return true, nil
}

func (d *MemoryDebouncer) Reset(_ context.Context, userID int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for key := range d.expires {
		if key.userID == userID {
			delete(d.expires, key)
		}
	}
	return nil
}

func (d *MemoryDebouncer) pruneLocked(now time.Time) {
	if len(d.expires) < 1024 {
		return
	}
	for key, until := range d.expires {
		if !now.Before(until) {
			delete(d.expires, key)
		}
	}
}

// debounceScript admits a (user, room) notification when the room's stamp in
// the user's hash has passed, then stamps it with now+window. The key expiry
// tracks the latest stamp so idle users leave nothing behind.
var debounceScript = redis.NewScript(`
local t = redis.call('TIME')
local now = tonumber(t[1]) * 1000 + math.floor(tonumber(t[2]) / 1000)
local window = tonumber(ARGV[2])
local stamp = tonumber(redis.call('HGET', KEYS[1], ARGV[1]) or '0')
if stamp > now then
  return 0
end
redis.call('HSET', KEYS[1], ARGV[1], now + window)
if redis.call('PTTL', KEYS[1]) < window then
  redis.call('PEXPIRE', KEYS[1], window)
end
return 1
`)

// RedisDebouncer keeps one hash per user, one field per room, so a reset is
// a single DEL.
type RedisDebouncer struct {
	client *redis.Client
	window time.Duration
}

// NewRedisDebouncer creates a redis-backed debouncer.
func NewRedisDebouncer(client *redis.Client, window time.Duration) *RedisDebouncer {
	return &RedisDebouncer{client: client, window: window}
}

func debounceRedisKey(userID int) string {
	return fmt.Sprintf("notify:debounce:%d", userID)
}

func (d *RedisDebouncer) Allow(ctx context.Context, userID int, room rooms.RoomID) (bool, error) {
	n, err := debounceScript.Run(ctx, d.client, []string{debounceRedisKey(userID)}, string(room), d.window.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (d *RedisDebouncer) Reset(ctx context.Context, userID int) error {
	return d.client.Del(ctx, debounceRedisKey(userID)).Err()
}
