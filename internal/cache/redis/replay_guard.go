package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/betledger/internal/domain"
)

// ReplayGuard remembers request signatures with SETNX so that a signed
// request is accepted at most once across all server instances.
type ReplayGuard struct {
	rdb *redis.Client
}

// NewReplayGuard creates a ReplayGuard backed by the given Client.
func NewReplayGuard(c *Client) *ReplayGuard {
	return &ReplayGuard{rdb: c.Underlying()}
}

func replayKey(key string) string {
	return "replay:" + key
}

// Seen records key for ttl and reports whether it was already recorded.
func (g *ReplayGuard) Seen(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := g.rdb.SetNX(ctx, replayKey(key), 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis: replay guard: %w", err)
	}
	return !ok, nil
}

var _ domain.ReplayGuard = (*ReplayGuard)(nil)
