package redis

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Key patterns for live battle state.
func positionKey(battleID string) string { return "battle:" + battleID + ":position" }
func lockKey(battleID string) string     { return "battle:" + battleID + ":lock" }
func deadlineKey(battleID string) string { return "battle:" + battleID + ":deadline" }

// DeadlineBattleID extracts the battle id from an expired deadline key.
func DeadlineBattleID(key string) (string, bool) {
	if !strings.HasPrefix(key, "battle:") || !strings.HasSuffix(key, ":deadline") {
		return "", false
	}
	id := strings.TrimSuffix(strings.TrimPrefix(key, "battle:"), ":deadline")
	return id, id != ""
}

// unlockScript deletes the lock only if it still holds the caller's token.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// SetPosition stores the live BFEN of a battle.
func (c *Cache) SetPosition(ctx context.Context, battleID, bfen string) error {
	return c.rdb.Set(ctx, positionKey(battleID), bfen, 0).Err()
}

// GetPosition returns the live BFEN, or "" when the battle is not cached.
func (c *Cache) GetPosition(ctx context.Context, battleID string) (string, error) {
	s, err := c.rdb.Get(ctx, positionKey(battleID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get position: %w", err)
	}
	return s, nil
}

// Lock takes the battle's action lock with SETNX. The ttl bounds how long
// a crashed holder can block the battle.
func (c *Cache) Lock(ctx context.Context, battleID, token string, ttl time.Duration) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, lockKey(battleID), token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("lock battle: %w", err)
	}
	return ok, nil
}

// Unlock releases the lock if token still owns it.
func (c *Cache) Unlock(ctx context.Context, battleID, token string) error {
	if err := unlockScript.Run(ctx, c.rdb, []string{lockKey(battleID)}, token).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("unlock battle: %w", err)
	}
	return nil
}

// deadlineGrace is added to the key TTL so expiry fires just after the
// deadline shown to players.
const deadlineGrace = 2 * time.Second

// SetDeadline creates a deadline key that expires after the deadline.
// Keyspace notifications on its expiry let the server act for a stalled
// seat.
func (c *Cache) SetDeadline(ctx context.Context, battleID string, deadline time.Time) error {
	ttl := time.Until(deadline) + deadlineGrace
	if ttl <= 0 {
		ttl = time.Second
	}
	return c.rdb.Set(ctx, deadlineKey(battleID), deadline.Unix(), ttl).Err()
}

// GetDeadline returns the current deadline, or the zero time if none.
func (c *Cache) GetDeadline(ctx context.Context, battleID string) (time.Time, error) {
	s, err := c.rdb.Get(ctx, deadlineKey(battleID)).Result()
	if err == redis.Nil {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("get deadline: %w", err)
	}
	unix, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse deadline %q: %w", s, err)
	}
	return time.Unix(unix, 0), nil
}

// ClearDeadline removes the deadline of a battle.
func (c *Cache) ClearDeadline(ctx context.Context, battleID string) error {
	return c.rdb.Del(ctx, deadlineKey(battleID)).Err()
}

// DeleteBattleData removes all live data for a battle (on battle end).
func (c *Cache) DeleteBattleData(ctx context.Context, battleID string) error {
	return c.rdb.Del(ctx, positionKey(battleID), lockKey(battleID), deadlineKey(battleID)).Err()
}
