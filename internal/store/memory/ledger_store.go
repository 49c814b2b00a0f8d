// Package memory provides process-local implementations of the ledger's
// persistence interfaces. They back standalone mode and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/betledger/internal/domain"
)

type positionKey struct {
	market      uint64
	participant common.Address
}

// LedgerStore is an in-memory journal. It applies the same consistency
// checks as the Postgres journal so that tests exercise identical failure
// modes.
type LedgerStore struct {
	mu        sync.Mutex
	markets   []domain.Market
	positions map[positionKey]*domain.Position

	failNext error
}

// NewLedgerStore returns an empty journal.
func NewLedgerStore() *LedgerStore {
	return &LedgerStore{positions: make(map[positionKey]*domain.Position)}
}

// FailNext makes the next mutating call return err without applying it.
func (s *LedgerStore) FailNext(err error) {
	s.mu.Lock()
	s.failNext = err
	s.mu.Unlock()
}

func (s *LedgerStore) takeFailure() error {
	err := s.failNext
	s.failNext = nil
	return err
}

// CreateMarket appends m. Its id must be the next in sequence.
func (s *LedgerStore) CreateMarket(_ context.Context, m domain.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.takeFailure(); err != nil {
		return err
	}
	if m.ID != uint64(len(s.markets)) {
		return fmt.Errorf("memory: create market: id %d out of sequence (next %d)", m.ID, len(s.markets))
	}
	s.markets = append(s.markets, m)
	return nil
}

// RecordStake adds the stake to the participant's position and the pool.
func (s *LedgerStore) RecordStake(_ context.Context, r domain.StakeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.takeFailure(); err != nil {
		return err
	}
	if r.MarketID >= uint64(len(s.markets)) {
		return fmt.Errorf("memory: record stake: %w", domain.ErrNotFound)
	}
	if !r.Side.Valid() {
		return fmt.Errorf("memory: record stake: %w", domain.ErrInvalidSide)
	}
	m := &s.markets[r.MarketID]
	key := positionKey{market: r.MarketID, participant: r.Participant}
	pos, ok := s.positions[key]
	if !ok {
		pos = &domain.Position{MarketID: r.MarketID, Participant: r.Participant}
		s.positions[key] = pos
	}
	if r.Side == domain.SideA {
		m.TotalSideA.Add(&m.TotalSideA, &r.Amount)
		pos.SideA.Add(&pos.SideA, &r.Amount)
	} else {
		m.TotalSideB.Add(&m.TotalSideB, &r.Amount)
		pos.SideB.Add(&pos.SideB, &r.Amount)
	}
	return nil
}

// ResolveMarket records the outcome.
func (s *LedgerStore) ResolveMarket(_ context.Context, marketID uint64, outcome bool, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.takeFailure(); err != nil {
		return err
	}
	if marketID >= uint64(len(s.markets)) {
		return fmt.Errorf("memory: resolve market: %w", domain.ErrNotFound)
	}
	m := &s.markets[marketID]
	if m.Resolved {
		return fmt.Errorf("memory: resolve market: %w", domain.ErrAlreadyResolved)
	}
	m.Resolved = true
	m.Outcome = outcome
	m.ResolvedAt = &at
	return nil
}

// MarkClaimed sets the claimed flag. The position must exist.
func (s *LedgerStore) MarkClaimed(_ context.Context, c domain.ClaimRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.takeFailure(); err != nil {
		return err
	}
	pos, ok := s.positions[positionKey{market: c.MarketID, participant: c.Participant}]
	if !ok {
		return fmt.Errorf("memory: mark claimed: %w", domain.ErrNotFound)
	}
	if pos.Claimed {
		return fmt.Errorf("memory: mark claimed: %w", domain.ErrAlreadyClaimed)
	}
	pos.Claimed = true
	return nil
}

// RevertClaim clears the claimed flag.
func (s *LedgerStore) RevertClaim(_ context.Context, marketID uint64, participant common.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.takeFailure(); err != nil {
		return err
	}
	pos, ok := s.positions[positionKey{market: marketID, participant: participant}]
	if !ok {
		return fmt.Errorf("memory: revert claim: %w", domain.ErrNotFound)
	}
	pos.Claimed = false
	return nil
}

// Load returns a deep copy of the journal.
func (s *LedgerStore) Load(_ context.Context) (domain.LedgerSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := domain.LedgerSnapshot{
		Markets:   make([]domain.Market, len(s.markets)),
		Positions: make([]domain.Position, 0, len(s.positions)),
		TakenAt:   time.Now().UTC(),
	}
	copy(snap.Markets, s.markets)
	for i := range snap.Markets {
		if at := snap.Markets[i].ResolvedAt; at != nil {
			t := *at
			snap.Markets[i].ResolvedAt = &t
		}
	}
	for _, p := range s.positions {
		snap.Positions = append(snap.Positions, *p)
	}
	sort.Slice(snap.Positions, func(i, j int) bool {
		a, b := snap.Positions[i], snap.Positions[j]
		if a.MarketID != b.MarketID {
			return a.MarketID < b.MarketID
		}
		return a.Participant.Cmp(b.Participant) < 0
	})
	return snap, nil
}

var _ domain.LedgerStore = (*LedgerStore)(nil)
