package utils

import (
	"context"
	"testing"
	"time"
)

func TestRedisConfigDefaults(t *testing.T) {
	got := RedisConfig{Addr: "localhost:6379"}.withDefaults()
	if got.PoolSize != 10 || got.DialTimeout != 3*time.Second {
		t.Fatalf("defaults = %+v", got)
	}
	if got.PingTimeout != 2*time.Second {
		t.Fatalf("ping timeout = %v", got.PingTimeout)
	}

	got = RedisConfig{Addr: "localhost:6379", PoolSize: 2}.withDefaults()
	if got.PoolSize != 2 {
		t.Fatalf("explicit pool size overridden: %d", got.PoolSize)
	}
}

func TestSlotScriptsLoaded(t *testing.T) {
	// Script hashes are computed locally, so a malformed registration would
	// show up here without a server.
	if slotAcquireScript.Hash() == "" || slotReleaseScript.Hash() == "" {
		t.Fatalf("expected script hashes")
	}
	if slotAcquireScript.Hash() == slotReleaseScript.Hash() {
		t.Fatalf("acquire and release scripts should differ")
	}
}

func TestAcquireSlotValidatesInput(t *testing.T) {
	ctx := context.Background()
	if _, err := AcquireSlot(ctx, nil, "k", 1, time.Second); err == nil {
		t.Fatal("nil client should error")
	}
	if err := ReleaseSlot(ctx, nil, "k"); err == nil {
		t.Fatal("nil client should error")
	}
}
