//go:build integration

package redis

import (
	"context"
	"testing"
	"time"

	"github.com/freeeve/kriegsim/internal/testutil"
)

func setup(t *testing.T) *Cache {
	t.Helper()
	return Wrap(testutil.SetupRedis(t))
}

func TestPositionRoundTrip(t *testing.T) {
	c := setup(t)
	ctx := context.Background()

	got, err := c.GetPosition(ctx, "b1")
	if err != nil || got != "" {
		t.Fatalf("expected empty position, got %q %v", got, err)
	}

	bfen := "0:0:o/20.20.20.20.20.20.20.20.20.20.20.20.20.20.20.20.20.20.20.20/s0.0:1/-"
	if err := c.SetPosition(ctx, "b1", bfen); err != nil {
		t.Fatalf("set position: %v", err)
	}
	got, err = c.GetPosition(ctx, "b1")
	if err != nil {
		t.Fatalf("get position: %v", err)
	}
	if got != bfen {
		t.Fatalf("position = %q, want %q", got, bfen)
	}
}

func TestLockIsExclusive(t *testing.T) {
	c := setup(t)
	ctx := context.Background()

	ok, err := c.Lock(ctx, "b1", "a", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first lock: ok=%v err=%v", ok, err)
	}
	ok, err = c.Lock(ctx, "b1", "b", time.Minute)
	if err != nil || ok {
		t.Fatalf("second lock should fail: ok=%v err=%v", ok, err)
	}

	// a foreign token does not release the lock
	if err := c.Unlock(ctx, "b1", "b"); err != nil {
		t.Fatal(err)
	}
	if ok, _ := c.Lock(ctx, "b1", "b", time.Minute); ok {
		t.Fatal("lock released by a foreign token")
	}

	if err := c.Unlock(ctx, "b1", "a"); err != nil {
		t.Fatal(err)
	}
	if ok, _ := c.Lock(ctx, "b1", "b", time.Minute); !ok {
		t.Fatal("lock not released by its owner")
	}
}

func TestLockExpires(t *testing.T) {
	c := setup(t)
	ctx := context.Background()

	if ok, _ := c.Lock(ctx, "b1", "a", 100*time.Millisecond); !ok {
		t.Fatal("lock failed")
	}
	time.Sleep(300 * time.Millisecond)
	if ok, _ := c.Lock(ctx, "b1", "b", time.Minute); !ok {
		t.Fatal("expired lock still held")
	}
}

func TestDeadline(t *testing.T) {
	c := setup(t)
	ctx := context.Background()

	deadline := time.Now().Add(time.Hour).Truncate(time.Second)
	if err := c.SetDeadline(ctx, "b1", deadline); err != nil {
		t.Fatal(err)
	}
	got, err := c.GetDeadline(ctx, "b1")
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(deadline) {
		t.Fatalf("deadline = %v, want %v", got, deadline)
	}

	ttl := c.rdb.TTL(ctx, deadlineKey("b1")).Val()
	if ttl < time.Hour || ttl > time.Hour+deadlineGrace+time.Second {
		t.Fatalf("unexpected ttl %v", ttl)
	}

	if err := c.ClearDeadline(ctx, "b1"); err != nil {
		t.Fatal(err)
	}
	got, _ = c.GetDeadline(ctx, "b1")
	if !got.IsZero() {
		t.Fatalf("expected no deadline, got %v", got)
	}
}

func TestDeleteBattleData(t *testing.T) {
	c := setup(t)
	ctx := context.Background()

	c.SetPosition(ctx, "b1", "x")
	c.Lock(ctx, "b1", "a", time.Minute)
	c.SetDeadline(ctx, "b1", time.Now().Add(time.Minute))
	c.SetPosition(ctx, "b2", "y")

	if err := c.DeleteBattleData(ctx, "b1"); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{positionKey("b1"), lockKey("b1"), deadlineKey("b1")} {
		if n := c.rdb.Exists(ctx, key).Val(); n != 0 {
			t.Errorf("%s still exists", key)
		}
	}
	if got, _ := c.GetPosition(ctx, "b2"); got != "y" {
		t.Errorf("other battle touched: %q", got)
	}
}
