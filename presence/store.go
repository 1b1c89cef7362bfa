// Package presence keeps the mapping from a user to their currently
// reachable connection. It is the only state shared between gateway
// instances (writers) and fan-out workers (readers), so every operation
// is a single atomic redis command per user key.
package presence

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// removeIfOwner deletes the entry only when it still holds the given
// connection id. A stale disconnect from an already superseded socket
// must not evict the connection that replaced it.
var removeIfOwner = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// refreshIfOwner extends the TTL only for the connection that owns the
// entry, so a dead socket cannot keep a newer registration alive.
var refreshIfOwner = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// Store is the redis-backed presence store. Entries carry a TTL
// refreshed on the gateway ping cycle, so ungraceful disconnects that
// never fire a close event expire on their own.
type Store struct {
	rdb *redis.Client
	ttl time.Duration
	log *slog.Logger
}

func NewStore(rdb *redis.Client, ttl time.Duration, log *slog.Logger) *Store {
	return &Store{rdb: rdb, ttl: ttl, log: log}
}

func presenceKey(userID string) string {
	return "presence:" + userID
}

// Save registers the connection, unconditionally overwriting any prior
// entry for the user. Last write wins: a reconnect supersedes the old
// socket even if it never disconnected cleanly.
func (s *Store) Save(ctx context.Context, userID, connectionID string) error {
	return s.rdb.Set(ctx, presenceKey(userID), connectionID, s.ttl).Err()
}

// Get returns the live connection id, or "" when the user is offline.
func (s *Store) Get(ctx context.Context, userID string) (string, error) {
	connectionID, err := s.rdb.Get(ctx, presenceKey(userID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return connectionID, nil
}

func (s *Store) Remove(ctx context.Context, userID, connectionID string) error {
	return removeIfOwner.Run(ctx, s.rdb, []string{presenceKey(userID)}, connectionID).Err()
}

func (s *Store) Refresh(ctx context.Context, userID, connectionID string) error {
	return refreshIfOwner.Run(ctx, s.rdb,
		[]string{presenceKey(userID)}, connectionID, s.ttl.Milliseconds()).Err()
}
