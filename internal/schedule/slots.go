package schedule

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"tablecall/pkg/utils"
)

// SlotGate caps concurrent outbound call submissions across scheduler
// instances with a shared redis counter. The counter carries a TTL so a
// crashed instance cannot leak slots forever.
type SlotGate struct {
	rdb *redis.Client
	key string
	max int
	ttl time.Duration
}

func NewSlotGate(rdb *redis.Client, key string, max int, ttl time.Duration) *SlotGate {
	if key == "" {
		key = "tablecall:active_calls"
	}
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &SlotGate{rdb: rdb, key: key, max: max, ttl: ttl}
}

// Acquire takes one slot. When ok, the release func must be called once
// the submission returns, whether or not it succeeded.
func (g *SlotGate) Acquire(ctx context.Context) (release func() error, ok bool, err error) {
	acquired, err := utils.AcquireSlot(ctx, g.rdb, g.key, g.max, g.ttl)
	if err != nil || !acquired {
		return func() error { return nil }, false, err
	}
	return func() error {
		rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return utils.ReleaseSlot(rctx, g.rdb, g.key)
	}, true, nil
}
