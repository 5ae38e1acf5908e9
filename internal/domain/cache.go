package domain

import (
	"context"
	"time"
)

// RateLimiter counts requests per key in a sliding window. Keys are shared
// by every process using the same backend, so two engines trading on one
// venue account stay under its limit together.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string, limit int, window time.Duration) error
}

// LockManager hands out exclusive leases. Acquire fails with ErrLockHeld
// when another holder has the key; the lease expires after ttl even if
// unlock is never called.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage is one durable event.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus carries encoded Events. Publish is fire-and-forget fan-out to
// current subscribers; StreamAppend also keeps the event in a capped stream
// that StreamTail replays, oldest first.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamTail(ctx context.Context, stream string, n int) ([]StreamMessage, error)
}
