package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// StakeRecord is one accepted stake as written to the journal.
type StakeRecord struct {
	MarketID    uint64
	Participant common.Address
	Side        Side
	Amount      uint256.Int
	At          time.Time
}

// ClaimRecord marks a participant's one-time claim on a market.
type ClaimRecord struct {
	MarketID    uint64
	Participant common.Address
	Reward      uint256.Int
	At          time.Time
}

// LedgerStore is the durable journal behind the in-memory ledger. Every
// method is atomic: it either persists the whole change or nothing.
type LedgerStore interface {
	CreateMarket(ctx context.Context, m Market) error
	RecordStake(ctx context.Context, s StakeRecord) error
	ResolveMarket(ctx context.Context, marketID uint64, outcome bool, at time.Time) error
	MarkClaimed(ctx context.Context, c ClaimRecord) error
	RevertClaim(ctx context.Context, marketID uint64, participant common.Address) error
	Load(ctx context.Context) (LedgerSnapshot, error)
}

// Payouts moves value out of the ledger's custody. ref identifies the
// transfer for idempotency on the receiving side.
type Payouts interface {
	Transfer(ctx context.Context, to common.Address, amount uint256.Int, ref string) error
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
