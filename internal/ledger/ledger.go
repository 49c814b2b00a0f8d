// Package ledger implements the binary-outcome market ledger: market
// creation, staking on either side, authority resolution, and proportional
// settlement with exactly-once claims.
//
// All state lives in memory behind a single mutex, so every operation is
// atomic and totally ordered with respect to every other. Each mutation is
// first written to a domain.LedgerStore journal; only after the journal
// accepts it does the in-memory state change. A failed journal write
// therefore leaves no trace.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/betledger/internal/domain"
)

// ClaimPolicy decides what happens to the claimed flag when the payout
// transfer fails.
type ClaimPolicy string

const (
	// ClaimIrrevocable keeps the flag set after a failed transfer. The
	// reward stays in custody and can never be claimed again.
	ClaimIrrevocable ClaimPolicy = "irrevocable"
	// ClaimAtomic reverts the flag together with a failed transfer so the
	// participant can retry.
	ClaimAtomic ClaimPolicy = "atomic"
)

// ParseClaimPolicy validates a configured policy name.
func ParseClaimPolicy(s string) (ClaimPolicy, error) {
	switch p := ClaimPolicy(s); p {
	case ClaimIrrevocable, ClaimAtomic:
		return p, nil
	case "":
		return ClaimIrrevocable, nil
	default:
		return "", fmt.Errorf("ledger: unknown claim policy %q", s)
	}
}

type positionKey struct {
	market      uint64
	participant common.Address
}

// Ledger owns every market and position. It is safe for concurrent use.
type Ledger struct {
	mu sync.Mutex

	authority common.Address
	store     domain.LedgerStore
	payouts   domain.Payouts
	clock     domain.Clock
	events    domain.EventSink
	policy    ClaimPolicy
	newID     func() string
	logger    *slog.Logger

	markets   []*domain.Market
	positions map[positionKey]*domain.Position
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the time source used for deadline checks.
func WithClock(c domain.Clock) Option {
	return func(l *Ledger) { l.clock = c }
}

// WithEvents sets the sink that receives one event per successful operation.
func WithEvents(s domain.EventSink) Option {
	return func(l *Ledger) { l.events = s }
}

// WithClaimPolicy selects the transfer-failure behaviour of Claim.
func WithClaimPolicy(p ClaimPolicy) Option {
	return func(l *Ledger) { l.policy = p }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

// WithEventIDs overrides the event id generator.
func WithEventIDs(f func() string) Option {
	return func(l *Ledger) { l.newID = f }
}

// New creates an empty Ledger. The authority is fixed for the lifetime of the
// ledger. Call Restore to load previously journaled state.
func New(authority common.Address, store domain.LedgerStore, payouts domain.Payouts, opts ...Option) *Ledger {
	l := &Ledger{
		authority: authority,
		store:     store,
		payouts:   payouts,
		clock:     domain.SystemClock{},
		policy:    ClaimIrrevocable,
		newID:     uuid.NewString,
		logger:    slog.Default(),
		positions: make(map[positionKey]*domain.Position),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With(slog.String("component", "ledger"))
	return l
}

// Authority returns the identity allowed to create and resolve markets.
func (l *Ledger) Authority() common.Address {
	return l.authority
}

// Policy returns the configured claim policy.
func (l *Ledger) Policy() ClaimPolicy {
	return l.policy
}

// Restore replaces the in-memory state with the journal's contents. The
// journal must hold a dense id sequence and positions that sum to each
// market's pool totals.
func (l *Ledger) Restore(ctx context.Context) error {
	snap, err := l.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("ledger: load journal: %w", err)
	}

	markets, positions, err := validateSnapshot(snap)
	if err != nil {
		return fmt.Errorf("ledger: restore: %w", err)
	}

	l.mu.Lock()
	l.markets = markets
	l.positions = positions
	l.mu.Unlock()

	l.logger.InfoContext(ctx, "ledger restored",
		slog.Int("markets", len(markets)),
		slog.Int("positions", len(positions)),
	)
	return nil
}

func validateSnapshot(snap domain.LedgerSnapshot) ([]*domain.Market, map[positionKey]*domain.Position, error) {
	ms := make([]domain.Market, len(snap.Markets))
	copy(ms, snap.Markets)
	sort.Slice(ms, func(i, j int) bool { return ms[i].ID < ms[j].ID })

	markets := make([]*domain.Market, len(ms))
	for i := range ms {
		if ms[i].ID != uint64(i) {
			return nil, nil, fmt.Errorf("market ids not dense: want %d, got %d", i, ms[i].ID)
		}
		markets[i] = &ms[i]
	}

	sums := make([][2]uint256.Int, len(markets))
	positions := make(map[positionKey]*domain.Position, len(snap.Positions))
	for i := range snap.Positions {
		p := snap.Positions[i]
		if p.MarketID >= uint64(len(markets)) {
			return nil, nil, fmt.Errorf("position for unknown market %d", p.MarketID)
		}
		if p.Claimed && !markets[p.MarketID].Resolved {
			return nil, nil, fmt.Errorf("position %d/%s claimed on unresolved market", p.MarketID, p.Participant.Hex())
		}
		key := positionKey{market: p.MarketID, participant: p.Participant}
		if _, dup := positions[key]; dup {
			return nil, nil, fmt.Errorf("duplicate position %d/%s", p.MarketID, p.Participant.Hex())
		}
		positions[key] = &p

		s := &sums[p.MarketID]
		if _, overflow := s[0].AddOverflow(&s[0], &p.SideA); overflow {
			return nil, nil, fmt.Errorf("market %d: side a stakes overflow", p.MarketID)
		}
		if _, overflow := s[1].AddOverflow(&s[1], &p.SideB); overflow {
			return nil, nil, fmt.Errorf("market %d: side b stakes overflow", p.MarketID)
		}
	}

	for i, m := range markets {
		if !sums[i][0].Eq(&m.TotalSideA) || !sums[i][1].Eq(&m.TotalSideB) {
			return nil, nil, fmt.Errorf("market %d: pool totals (%s, %s) do not match stakes (%s, %s)",
				m.ID, m.TotalSideA.Dec(), m.TotalSideB.Dec(), sums[i][0].Dec(), sums[i][1].Dec())
		}
	}
	return markets, positions, nil
}

// market returns the live record for id. Caller holds l.mu.
func (l *Ledger) market(id uint64) (*domain.Market, bool) {
	if id >= uint64(len(l.markets)) {
		return nil, false
	}
	return l.markets[id], true
}

// emit forwards e to the sink. Caller holds l.mu, which keeps events in
// commit order.
func (l *Ledger) emit(e domain.Event) {
	if l.events == nil {
		return
	}
	e.ID = l.newID()
	l.events.Emit(e)
}
