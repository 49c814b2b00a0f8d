package domain

import (
	"context"
	"time"
)

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// Lease is a held distributed lock.
type Lease interface {
	// Refresh extends the lease by its original TTL. It returns ErrLockLost
	// when another holder owns the key.
	Refresh(ctx context.Context) error
	// Release gives the lock up. Safe to call more than once.
	Release()
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}

// ReplayGuard remembers keys for a TTL. Seen records key and reports whether
// it was already present.
type ReplayGuard interface {
	Seen(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus fans events out live and keeps a replayable history.
type SignalBus interface {
	// Broadcast appends payload to stream and publishes it on channel as one
	// unit, returning the stream entry id.
	Broadcast(ctx context.Context, channel, stream string, payload []byte) (string, error)
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// MarketCache is a write-only projection of ledger markets for consumers
// outside the writer process.
type MarketCache interface {
	Set(ctx context.Context, m Market) error
}
