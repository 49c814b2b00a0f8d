package ledger

import (
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/betledger/internal/domain"
)

// Market returns a copy of the market record.
func (l *Ledger) Market(id uint64) (domain.Market, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	m, ok := l.market(id)
	if !ok {
		return domain.Market{}, domain.ErrUnknownMarket
	}
	return copyMarket(m), nil
}

// Markets returns markets in id order, paginated by opts.
func (l *Ledger) Markets(opts domain.ListOpts) []domain.Market {
	l.mu.Lock()
	defer l.mu.Unlock()

	start := opts.Offset
	if start < 0 {
		start = 0
	}
	if start > len(l.markets) {
		start = len(l.markets)
	}
	end := len(l.markets)
	if opts.Limit > 0 && start+opts.Limit < end {
		end = start + opts.Limit
	}

	out := make([]domain.Market, 0, end-start)
	for _, m := range l.markets[start:end] {
		out = append(out, copyMarket(m))
	}
	return out
}

// Count returns the number of markets ever created.
func (l *Ledger) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.markets)
}

// Position returns participant's stakes and claim flag on a market. A
// participant who never staked gets a zero position.
func (l *Ledger) Position(marketID uint64, participant common.Address) (domain.Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.market(marketID); !ok {
		return domain.Position{}, domain.ErrUnknownMarket
	}
	if pos, ok := l.positions[positionKey{market: marketID, participant: participant}]; ok {
		return *pos, nil
	}
	return domain.Position{MarketID: marketID, Participant: participant}, nil
}

// Claimable returns what participant would receive from Claim right now,
// without changing anything. Conditions under which Claim would fail
// (unresolved, already claimed, no winning stake) yield zero, not an error.
func (l *Ledger) Claimable(marketID uint64, participant common.Address) (uint256.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	m, ok := l.market(marketID)
	if !ok {
		return uint256.Int{}, domain.ErrUnknownMarket
	}
	pos := l.positions[positionKey{market: marketID, participant: participant}]
	if !m.Resolved || pos == nil || pos.Claimed {
		return uint256.Int{}, nil
	}
	reward, ok := payout(m, pos)
	if !ok {
		return uint256.Int{}, nil
	}
	return reward, nil
}

// Snapshot returns a consistent copy of all markets and positions, ordered by
// market id and then participant address.
func (l *Ledger) Snapshot() domain.LedgerSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	snap := domain.LedgerSnapshot{
		Markets:   make([]domain.Market, 0, len(l.markets)),
		Positions: make([]domain.Position, 0, len(l.positions)),
		TakenAt:   l.clock.Now().UTC(),
	}
	for _, m := range l.markets {
		snap.Markets = append(snap.Markets, copyMarket(m))
	}
	for _, p := range l.positions {
		snap.Positions = append(snap.Positions, *p)
	}
	sort.Slice(snap.Positions, func(i, j int) bool {
		a, b := snap.Positions[i], snap.Positions[j]
		if a.MarketID != b.MarketID {
			return a.MarketID < b.MarketID
		}
		return a.Participant.Cmp(b.Participant) < 0
	})
	return snap
}

func copyMarket(m *domain.Market) domain.Market {
	out := *m
	if m.ResolvedAt != nil {
		t := *m.ResolvedAt
		out.ResolvedAt = &t
	}
	return out
}

var _ domain.SnapshotSource = (*Ledger)(nil)
