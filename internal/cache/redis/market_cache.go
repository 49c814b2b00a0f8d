package redis

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/betledger/internal/domain"
)

// MarketCache implements domain.MarketCache as a read-side projection of the
// ledger's markets, one Redis hash per market. Amounts are decimal strings
// and times are unix seconds, so other services can read the hash directly.
// The ledger only writes it.
//
// Key schema:
//
//	market:{id}  - hash with fields question, end_time, total_side_a,
//	               total_side_b, resolved, outcome, created_at, resolved_at
type MarketCache struct {
	rdb *redis.Client
}

// NewMarketCache creates a MarketCache backed by the given Client.
func NewMarketCache(c *Client) *MarketCache {
	return &MarketCache{rdb: c.Underlying()}
}

func marketKey(id uint64) string { return "market:" + strconv.FormatUint(id, 10) }

// marketFields flattens m into hash fields.
func marketFields(m domain.Market) map[string]any {
	fields := map[string]any{
		"question":     m.Question,
		"end_time":     m.EndTime.Unix(),
		"total_side_a": m.TotalSideA.Dec(),
		"total_side_b": m.TotalSideB.Dec(),
		"resolved":     strconv.FormatBool(m.Resolved),
		"outcome":      strconv.FormatBool(m.Outcome),
		"created_at":   m.CreatedAt.Unix(),
		"resolved_at":  int64(0),
	}
	if m.ResolvedAt != nil {
		fields["resolved_at"] = m.ResolvedAt.Unix()
	}
	return fields
}

// Set writes the current state of a market.
func (mc *MarketCache) Set(ctx context.Context, m domain.Market) error {
	if err := mc.rdb.HSet(ctx, marketKey(m.ID), marketFields(m)).Err(); err != nil {
		return fmt.Errorf("redis: set market %d: %w", m.ID, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.MarketCache = (*MarketCache)(nil)
