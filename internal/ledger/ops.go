package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/betledger/internal/domain"
)

// CreateMarket opens a new market and returns its id. Only the authority may
// call it, and endTime (truncated to whole seconds) must be strictly after
// the current time.
func (l *Ledger) CreateMarket(ctx context.Context, caller common.Address, question string, endTime time.Time) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if caller != l.authority {
		return 0, domain.ErrNotAuthorized
	}

	now := l.clock.Now()
	end := time.Unix(endTime.Unix(), 0).UTC()
	if !end.After(now) {
		return 0, domain.ErrInvalidDeadline
	}

	m := &domain.Market{
		ID:        uint64(len(l.markets)),
		Question:  question,
		EndTime:   end,
		CreatedAt: now.UTC(),
	}
	if err := l.store.CreateMarket(ctx, *m); err != nil {
		return 0, fmt.Errorf("ledger: create market: %w", err)
	}
	l.markets = append(l.markets, m)

	l.logger.InfoContext(ctx, "market created",
		slog.Uint64("market_id", m.ID),
		slog.Time("end_time", end),
	)
	l.emit(domain.Event{
		Type:     domain.EventMarketCreated,
		MarketID: m.ID,
		Question: question,
		EndTime:  end,
		At:       now,
	})
	return m.ID, nil
}

// Stake adds amount to caller's position on side and to the market's pool
// for that side. The value is assumed to already be in the ledger's custody.
func (l *Ledger) Stake(ctx context.Context, caller common.Address, marketID uint64, side domain.Side, amount uint256.Int) error {
	if !side.Valid() {
		return domain.ErrInvalidSide
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	m, ok := l.market(marketID)
	if !ok {
		return domain.ErrUnknownMarket
	}
	if amount.IsZero() {
		return domain.ErrZeroAmount
	}
	now := l.clock.Now()
	if !now.Before(m.EndTime) {
		return domain.ErrMarketClosed
	}

	sideTotal := m.Total(side)
	otherTotal := m.Total(other(side))
	var newTotal, pool uint256.Int
	if _, overflow := newTotal.AddOverflow(&sideTotal, &amount); overflow {
		return domain.ErrAmountOverflow
	}
	if _, overflow := pool.AddOverflow(&newTotal, &otherTotal); overflow {
		return domain.ErrAmountOverflow
	}

	rec := domain.StakeRecord{
		MarketID:    marketID,
		Participant: caller,
		Side:        side,
		Amount:      amount,
		At:          now.UTC(),
	}
	if err := l.store.RecordStake(ctx, rec); err != nil {
		return fmt.Errorf("ledger: record stake: %w", err)
	}

	key := positionKey{market: marketID, participant: caller}
	pos, ok := l.positions[key]
	if !ok {
		pos = &domain.Position{MarketID: marketID, Participant: caller}
		l.positions[key] = pos
	}
	// Each position is bounded by its side total, so these cannot overflow.
	if side == domain.SideA {
		m.TotalSideA = newTotal
		pos.SideA.Add(&pos.SideA, &amount)
	} else {
		m.TotalSideB = newTotal
		pos.SideB.Add(&pos.SideB, &amount)
	}

	l.logger.DebugContext(ctx, "stake placed",
		slog.Uint64("market_id", marketID),
		slog.String("participant", caller.Hex()),
		slog.String("side", side.String()),
		slog.String("amount", amount.Dec()),
	)
	l.emit(domain.Event{
		Type:        domain.EventStakePlaced,
		MarketID:    marketID,
		Participant: caller,
		Side:        side,
		Amount:      amount,
		At:          now,
	})
	return nil
}

// Resolve permanently records the outcome of a market (true = side A won).
// Only the authority may resolve, only at or after the end time, and only
// once.
func (l *Ledger) Resolve(ctx context.Context, caller common.Address, marketID uint64, outcome bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if caller != l.authority {
		return domain.ErrNotAuthorized
	}
	m, ok := l.market(marketID)
	if !ok {
		return domain.ErrUnknownMarket
	}
	now := l.clock.Now()
	if now.Before(m.EndTime) {
		return domain.ErrTooEarly
	}
	if m.Resolved {
		return domain.ErrAlreadyResolved
	}

	at := now.UTC()
	if err := l.store.ResolveMarket(ctx, marketID, outcome, at); err != nil {
		return fmt.Errorf("ledger: resolve market: %w", err)
	}
	m.Resolved = true
	m.Outcome = outcome
	m.ResolvedAt = &at

	l.logger.InfoContext(ctx, "market resolved",
		slog.Uint64("market_id", marketID),
		slog.Bool("outcome", outcome),
	)
	l.emit(domain.Event{
		Type:     domain.EventMarketResolved,
		MarketID: marketID,
		Outcome:  outcome,
		At:       now,
	})
	return nil
}

// Claim pays caller their share of a resolved market's pool and returns the
// amount paid. The claimed flag is journaled before the transfer is
// attempted, so a transfer that fails or re-enters can never pay twice.
func (l *Ledger) Claim(ctx context.Context, caller common.Address, marketID uint64) (uint256.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	m, ok := l.market(marketID)
	if !ok {
		return uint256.Int{}, domain.ErrUnknownMarket
	}
	if !m.Resolved {
		return uint256.Int{}, domain.ErrNotResolved
	}
	key := positionKey{market: marketID, participant: caller}
	pos := l.positions[key]
	if pos != nil && pos.Claimed {
		return uint256.Int{}, domain.ErrAlreadyClaimed
	}
	reward, ok := payout(m, pos)
	if !ok {
		return uint256.Int{}, domain.ErrNotAWinner
	}

	now := l.clock.Now()
	rec := domain.ClaimRecord{
		MarketID:    marketID,
		Participant: caller,
		Reward:      reward,
		At:          now.UTC(),
	}
	if err := l.store.MarkClaimed(ctx, rec); err != nil {
		return uint256.Int{}, fmt.Errorf("ledger: mark claimed: %w", err)
	}
	pos.Claimed = true

	ref := fmt.Sprintf("claim:%d:%s", marketID, caller.Hex())
	if err := l.payouts.Transfer(ctx, caller, reward, ref); err != nil {
		l.logger.ErrorContext(ctx, "reward transfer failed",
			slog.Uint64("market_id", marketID),
			slog.String("participant", caller.Hex()),
			slog.String("reward", reward.Dec()),
			slog.String("policy", string(l.policy)),
			slog.String("error", err.Error()),
		)
		if l.policy == ClaimAtomic {
			if rerr := l.store.RevertClaim(ctx, marketID, caller); rerr != nil {
				// The journal still says claimed; memory must agree.
				return uint256.Int{}, fmt.Errorf("%w: %w (revert claim: %v)", domain.ErrTransferFailed, err, rerr)
			}
			pos.Claimed = false
		}
		return uint256.Int{}, fmt.Errorf("%w: %w", domain.ErrTransferFailed, err)
	}

	l.logger.InfoContext(ctx, "reward claimed",
		slog.Uint64("market_id", marketID),
		slog.String("participant", caller.Hex()),
		slog.String("reward", reward.Dec()),
	)
	l.emit(domain.Event{
		Type:        domain.EventRewardClaimed,
		MarketID:    marketID,
		Participant: caller,
		Amount:      reward,
		At:          now,
	})
	return reward, nil
}

func other(s domain.Side) domain.Side {
	if s == domain.SideA {
		return domain.SideB
	}
	return domain.SideA
}
