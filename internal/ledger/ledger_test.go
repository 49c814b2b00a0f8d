package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/betledger/internal/domain"
	"github.com/alanyoungcy/betledger/internal/store/memory"
)

var (
	authority = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	alice     = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	bob       = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	carol     = common.HexToAddress("0x00000000000000000000000000000000000000b3")

	t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type recordingSink struct {
	mu     sync.Mutex
	events []domain.Event
}

func (s *recordingSink) Emit(e domain.Event) {
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
}

func (s *recordingSink) types() []domain.EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.EventType, len(s.events))
	for i, e := range s.events {
		out[i] = e.Type
	}
	return out
}

type harness struct {
	l       *Ledger
	clock   *fakeClock
	store   *memory.LedgerStore
	payouts *memory.Payouts
	sink    *recordingSink
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		clock:   &fakeClock{now: t0},
		store:   memory.NewLedgerStore(),
		payouts: memory.NewPayouts(),
		sink:    &recordingSink{},
	}
	n := 0
	base := []Option{
		WithClock(h.clock),
		WithEvents(h.sink),
		WithEventIDs(func() string { n++; return fmt.Sprintf("evt-%d", n) }),
	}
	h.l = New(authority, h.store, h.payouts, append(base, opts...)...)
	return h
}

func u(n uint64) uint256.Int { return *uint256.NewInt(n) }

func (h *harness) create(t *testing.T) uint64 {
	t.Helper()
	id, err := h.l.CreateMarket(context.Background(), authority, "Will it rain?", t0.Add(time.Hour))
	if err != nil {
		t.Fatalf("CreateMarket: %v", err)
	}
	return id
}

func (h *harness) stake(t *testing.T, who common.Address, id uint64, side domain.Side, amount uint64) {
	t.Helper()
	if err := h.l.Stake(context.Background(), who, id, side, u(amount)); err != nil {
		t.Fatalf("Stake(%s, %s, %d): %v", who.Hex(), side, amount, err)
	}
}

func (h *harness) resolve(t *testing.T, id uint64, outcome bool) {
	t.Helper()
	h.clock.Set(t0.Add(time.Hour))
	if err := h.l.Resolve(context.Background(), authority, id, outcome); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
}

func TestProportionalPayout(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.create(t)
	h.stake(t, alice, id, domain.SideA, 3)
	h.stake(t, bob, id, domain.SideA, 1)
	h.stake(t, carol, id, domain.SideB, 4)
	h.resolve(t, id, true)

	got, err := h.l.Claim(ctx, alice, id)
	if err != nil || got != u(6) {
		t.Fatalf("alice claim = %s, %v; want 6", got.Dec(), err)
	}
	got, err = h.l.Claim(ctx, bob, id)
	if err != nil || got != u(2) {
		t.Fatalf("bob claim = %s, %v; want 2", got.Dec(), err)
	}
	if _, err := h.l.Claim(ctx, carol, id); !errors.Is(err, domain.ErrNotAWinner) {
		t.Fatalf("carol claim err = %v, want ErrNotAWinner", err)
	}

	if bal := h.payouts.Balance(alice); bal != u(6) {
		t.Errorf("alice balance = %s, want 6", bal.Dec())
	}
	if bal := h.payouts.Balance(bob); bal != u(2) {
		t.Errorf("bob balance = %s, want 2", bal.Dec())
	}
}

func TestSideBWinsSplitsEvenly(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.create(t)
	h.stake(t, alice, id, domain.SideA, 6)
	h.stake(t, bob, id, domain.SideB, 2)
	h.stake(t, carol, id, domain.SideB, 2)
	h.resolve(t, id, false)

	for _, who := range []common.Address{bob, carol} {
		got, err := h.l.Claim(ctx, who, id)
		if err != nil {
			t.Fatalf("claim %s: %v", who.Hex(), err)
		}
		if got != u(5) {
			t.Errorf("claim %s = %s, want 5", who.Hex(), got.Dec())
		}
	}
	if _, err := h.l.Claim(ctx, alice, id); !errors.Is(err, domain.ErrNotAWinner) {
		t.Errorf("alice claim err = %v, want ErrNotAWinner", err)
	}
}

func TestStakeOnBothSides(t *testing.T) {
	h := newHarness(t)
	id := h.create(t)
	h.stake(t, alice, id, domain.SideA, 2)
	h.stake(t, alice, id, domain.SideB, 5)
	h.stake(t, bob, id, domain.SideA, 3)
	h.resolve(t, id, true)

	// alice holds 2 of 5 on the winning side; pool is 10.
	got, err := h.l.Claim(context.Background(), alice, id)
	if err != nil || got != u(4) {
		t.Fatalf("alice claim = %s, %v; want 4", got.Dec(), err)
	}
}

func TestClaimTwice(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.create(t)
	h.stake(t, alice, id, domain.SideA, 10)
	h.resolve(t, id, true)

	if _, err := h.l.Claim(ctx, alice, id); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if _, err := h.l.Claim(ctx, alice, id); !errors.Is(err, domain.ErrAlreadyClaimed) {
		t.Fatalf("second claim err = %v, want ErrAlreadyClaimed", err)
	}
	if n := len(h.payouts.Transfers()); n != 1 {
		t.Errorf("transfers = %d, want 1", n)
	}
}

func TestStakeRejections(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.create(t)
	h.stake(t, alice, id, domain.SideA, 1)

	tests := []struct {
		name   string
		at     time.Time
		market uint64
		side   domain.Side
		amount uint256.Int
		want   error
	}{
		{"zero amount", t0, id, domain.SideA, u(0), domain.ErrZeroAmount},
		{"unknown market", t0, 7, domain.SideA, u(1), domain.ErrUnknownMarket},
		{"invalid side", t0, id, domain.Side(9), u(1), domain.ErrInvalidSide},
		{"at end time", t0.Add(time.Hour), id, domain.SideB, u(1), domain.ErrMarketClosed},
		{"after end time", t0.Add(2 * time.Hour), id, domain.SideB, u(1), domain.ErrMarketClosed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h.clock.Set(tt.at)
			err := h.l.Stake(ctx, bob, tt.market, tt.side, tt.amount)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}

	m, err := h.l.Market(id)
	if err != nil {
		t.Fatal(err)
	}
	if m.TotalSideA != u(1) || !m.TotalSideB.IsZero() {
		t.Errorf("totals changed by rejected stakes: a=%s b=%s", m.TotalSideA.Dec(), m.TotalSideB.Dec())
	}
}

func TestStakeJustBeforeEnd(t *testing.T) {
	h := newHarness(t)
	id := h.create(t)
	h.clock.Set(t0.Add(time.Hour - time.Nanosecond))
	if err := h.l.Stake(context.Background(), alice, id, domain.SideB, u(1)); err != nil {
		t.Fatalf("Stake: %v", err)
	}
}

func TestStakeOverflow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.create(t)

	max := new(uint256.Int).SetAllOne()
	if err := h.l.Stake(ctx, alice, id, domain.SideA, *max); err != nil {
		t.Fatalf("Stake max: %v", err)
	}
	if err := h.l.Stake(ctx, bob, id, domain.SideA, u(1)); !errors.Is(err, domain.ErrAmountOverflow) {
		t.Fatalf("side overflow err = %v, want ErrAmountOverflow", err)
	}
	if err := h.l.Stake(ctx, bob, id, domain.SideB, u(1)); !errors.Is(err, domain.ErrAmountOverflow) {
		t.Fatalf("pool overflow err = %v, want ErrAmountOverflow", err)
	}
}

func TestResolveRules(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.create(t)

	if err := h.l.Resolve(ctx, authority, id, true); !errors.Is(err, domain.ErrTooEarly) {
		t.Fatalf("early resolve err = %v, want ErrTooEarly", err)
	}
	h.clock.Set(t0.Add(time.Hour))
	if err := h.l.Resolve(ctx, alice, id, true); !errors.Is(err, domain.ErrNotAuthorized) {
		t.Fatalf("non-authority resolve err = %v, want ErrNotAuthorized", err)
	}
	if err := h.l.Resolve(ctx, authority, 42, true); !errors.Is(err, domain.ErrUnknownMarket) {
		t.Fatalf("unknown resolve err = %v, want ErrUnknownMarket", err)
	}
	if err := h.l.Resolve(ctx, authority, id, false); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if err := h.l.Resolve(ctx, authority, id, true); !errors.Is(err, domain.ErrAlreadyResolved) {
		t.Fatalf("second resolve err = %v, want ErrAlreadyResolved", err)
	}

	m, _ := h.l.Market(id)
	if !m.Resolved || m.Outcome {
		t.Errorf("market = resolved %v outcome %v, want resolved with outcome false", m.Resolved, m.Outcome)
	}
	if m.Status(h.clock.Now()) != domain.MarketStatusResolved {
		t.Errorf("status = %s", m.Status(h.clock.Now()))
	}
}

func TestCreateMarketRules(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.l.CreateMarket(ctx, alice, "q", t0.Add(time.Hour)); !errors.Is(err, domain.ErrNotAuthorized) {
		t.Fatalf("err = %v, want ErrNotAuthorized", err)
	}
	if _, err := h.l.CreateMarket(ctx, authority, "q", t0); !errors.Is(err, domain.ErrInvalidDeadline) {
		t.Fatalf("err = %v, want ErrInvalidDeadline", err)
	}
	if _, err := h.l.CreateMarket(ctx, authority, "q", t0.Add(-time.Second)); !errors.Is(err, domain.ErrInvalidDeadline) {
		t.Fatalf("err = %v, want ErrInvalidDeadline", err)
	}

	for want := uint64(0); want < 3; want++ {
		id, err := h.l.CreateMarket(ctx, authority, fmt.Sprintf("q%d", want), t0.Add(time.Minute))
		if err != nil {
			t.Fatalf("CreateMarket: %v", err)
		}
		if id != want {
			t.Fatalf("id = %d, want %d", id, want)
		}
	}
	if n := h.l.Count(); n != 3 {
		t.Errorf("Count = %d, want 3", n)
	}

	m, err := h.l.Market(1)
	if err != nil {
		t.Fatal(err)
	}
	if m.Question != "q1" || !m.EndTime.Equal(t0.Add(time.Minute)) || m.Resolved {
		t.Errorf("market 1 = %+v", m)
	}
	if !m.TotalSideA.IsZero() || !m.TotalSideB.IsZero() {
		t.Errorf("new market has non-zero totals")
	}
}

func TestCreateMarketTruncatesEndTime(t *testing.T) {
	h := newHarness(t)
	end := t0.Add(90*time.Second + 700*time.Millisecond)
	id, err := h.l.CreateMarket(context.Background(), authority, "q", end)
	if err != nil {
		t.Fatal(err)
	}
	m, _ := h.l.Market(id)
	if want := t0.Add(90 * time.Second); !m.EndTime.Equal(want) {
		t.Errorf("EndTime = %v, want %v", m.EndTime, want)
	}

	// Sub-second deadlines collapse onto now and are rejected.
	if _, err := h.l.CreateMarket(context.Background(), authority, "q", t0.Add(500*time.Millisecond)); !errors.Is(err, domain.ErrInvalidDeadline) {
		t.Errorf("err = %v, want ErrInvalidDeadline", err)
	}
}

func TestClaimPreconditions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.create(t)
	h.stake(t, alice, id, domain.SideA, 5)

	if _, err := h.l.Claim(ctx, alice, 99); !errors.Is(err, domain.ErrUnknownMarket) {
		t.Fatalf("err = %v, want ErrUnknownMarket", err)
	}
	if _, err := h.l.Claim(ctx, alice, id); !errors.Is(err, domain.ErrNotResolved) {
		t.Fatalf("err = %v, want ErrNotResolved", err)
	}
	h.resolve(t, id, true)
	if _, err := h.l.Claim(ctx, bob, id); !errors.Is(err, domain.ErrNotAWinner) {
		t.Fatalf("stranger err = %v, want ErrNotAWinner", err)
	}
}

func TestClaimable(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.create(t)
	h.stake(t, alice, id, domain.SideA, 3)
	h.stake(t, bob, id, domain.SideB, 4)

	check := func(who common.Address, want uint64) {
		t.Helper()
		got, err := h.l.Claimable(id, who)
		if err != nil {
			t.Fatalf("Claimable: %v", err)
		}
		if got != u(want) {
			t.Errorf("Claimable(%s) = %s, want %d", who.Hex(), got.Dec(), want)
		}
	}

	check(alice, 0) // unresolved
	h.resolve(t, id, true)
	check(alice, 7)
	check(bob, 0)   // losing side
	check(carol, 0) // never staked

	if _, err := h.l.Claim(ctx, alice, id); err != nil {
		t.Fatal(err)
	}
	check(alice, 0) // already claimed

	if _, err := h.l.Claimable(5, alice); !errors.Is(err, domain.ErrUnknownMarket) {
		t.Errorf("unknown market err = %v", err)
	}
}

func TestPoolTotalsMatchPositions(t *testing.T) {
	h := newHarness(t)
	id := h.create(t)
	stakes := []struct {
		who    common.Address
		side   domain.Side
		amount uint64
	}{
		{alice, domain.SideA, 3}, {bob, domain.SideB, 11}, {alice, domain.SideA, 4},
		{carol, domain.SideA, 9}, {bob, domain.SideA, 1}, {carol, domain.SideB, 2},
	}
	for _, s := range stakes {
		h.stake(t, s.who, id, s.side, s.amount)
	}

	m, _ := h.l.Market(id)
	var sumA, sumB uint256.Int
	for _, who := range []common.Address{alice, bob, carol} {
		p, err := h.l.Position(id, who)
		if err != nil {
			t.Fatal(err)
		}
		sumA.Add(&sumA, &p.SideA)
		sumB.Add(&sumB, &p.SideB)
	}
	if sumA != m.TotalSideA || sumB != m.TotalSideB {
		t.Fatalf("sums (%s, %s) != totals (%s, %s)", sumA.Dec(), sumB.Dec(), m.TotalSideA.Dec(), m.TotalSideB.Dec())
	}
	if m.TotalSideA != u(17) || m.TotalSideB != u(13) {
		t.Errorf("totals = (%s, %s), want (17, 13)", m.TotalSideA.Dec(), m.TotalSideB.Dec())
	}

	p, _ := h.l.Position(id, alice)
	if p.SideA != u(7) || !p.SideB.IsZero() || p.Claimed {
		t.Errorf("alice position = %+v", p)
	}
}

func TestIrrevocableClaimKeepsFlagOnTransferFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.create(t)
	h.stake(t, alice, id, domain.SideA, 5)
	h.resolve(t, id, true)

	boom := errors.New("bank offline")
	h.payouts.FailWith(func(common.Address, uint256.Int) error { return boom })

	_, err := h.l.Claim(ctx, alice, id)
	if !errors.Is(err, domain.ErrTransferFailed) || !errors.Is(err, boom) {
		t.Fatalf("err = %v, want ErrTransferFailed wrapping cause", err)
	}

	h.payouts.FailWith(nil)
	if _, err := h.l.Claim(ctx, alice, id); !errors.Is(err, domain.ErrAlreadyClaimed) {
		t.Fatalf("retry err = %v, want ErrAlreadyClaimed", err)
	}
	if got := h.payouts.Balance(alice); !got.IsZero() {
		t.Errorf("balance = %s, want 0", got.Dec())
	}
	for _, typ := range h.sink.types() {
		if typ == domain.EventRewardClaimed {
			t.Errorf("reward_claimed emitted for failed transfer")
		}
	}
}

func TestAtomicClaimRevertsOnTransferFailure(t *testing.T) {
	h := newHarness(t, WithClaimPolicy(ClaimAtomic))
	ctx := context.Background()
	id := h.create(t)
	h.stake(t, alice, id, domain.SideA, 5)
	h.resolve(t, id, true)

	h.payouts.FailWith(func(common.Address, uint256.Int) error { return errors.New("timeout") })
	if _, err := h.l.Claim(ctx, alice, id); !errors.Is(err, domain.ErrTransferFailed) {
		t.Fatalf("err = %v, want ErrTransferFailed", err)
	}
	if p, _ := h.l.Position(id, alice); p.Claimed {
		t.Fatalf("claimed flag still set after atomic failure")
	}

	h.payouts.FailWith(nil)
	got, err := h.l.Claim(ctx, alice, id)
	if err != nil || got != u(5) {
		t.Fatalf("retry = %s, %v; want 5", got.Dec(), err)
	}
}

func TestClaimIsMarkedBeforeTransfer(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.create(t)
	h.stake(t, alice, id, domain.SideA, 5)
	h.resolve(t, id, true)

	h.payouts.FailWith(func(common.Address, uint256.Int) error {
		snap, err := h.store.Load(ctx)
		if err != nil {
			return err
		}
		for _, p := range snap.Positions {
			if p.Participant == alice && !p.Claimed {
				t.Errorf("transfer attempted before claim was journaled")
			}
		}
		return nil
	})
	if _, err := h.l.Claim(ctx, alice, id); err != nil {
		t.Fatal(err)
	}
}

func TestJournalFailureLeavesNoTrace(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.create(t)

	h.store.FailNext(errors.New("disk full"))
	if err := h.l.Stake(ctx, alice, id, domain.SideA, u(5)); err == nil {
		t.Fatal("expected journal error")
	}
	m, _ := h.l.Market(id)
	if !m.TotalSideA.IsZero() {
		t.Errorf("TotalSideA = %s after failed journal write", m.TotalSideA.Dec())
	}

	h.store.FailNext(errors.New("disk full"))
	if _, err := h.l.CreateMarket(ctx, authority, "q", t0.Add(time.Hour)); err == nil {
		t.Fatal("expected journal error")
	}
	if n := h.l.Count(); n != 1 {
		t.Errorf("Count = %d, want 1", n)
	}

	if got := len(h.sink.types()); got != 1 {
		t.Errorf("events = %d, want only market_created", got)
	}
}

func TestEventsInCommitOrder(t *testing.T) {
	h := newHarness(t)
	id := h.create(t)
	h.stake(t, alice, id, domain.SideA, 2)
	h.stake(t, bob, id, domain.SideB, 2)
	if err := h.l.Stake(context.Background(), bob, id, domain.SideB, u(0)); err == nil {
		t.Fatal("expected ErrZeroAmount")
	}
	h.resolve(t, id, false)
	if _, err := h.l.Claim(context.Background(), bob, id); err != nil {
		t.Fatal(err)
	}

	want := []domain.EventType{
		domain.EventMarketCreated,
		domain.EventStakePlaced,
		domain.EventStakePlaced,
		domain.EventMarketResolved,
		domain.EventRewardClaimed,
	}
	got := h.sink.types()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event[%d] = %s, want %s", i, got[i], want[i])
		}
	}

	last := h.sink.events[len(h.sink.events)-1]
	if last.ID != "evt-5" || last.Participant != bob || last.Amount != u(4) {
		t.Errorf("claim event = %+v", last)
	}
}

func TestRestoreFromJournal(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.create(t)
	h.create(t)
	h.stake(t, alice, id, domain.SideA, 3)
	h.stake(t, bob, id, domain.SideB, 6)
	h.resolve(t, id, false)
	if _, err := h.l.Claim(ctx, bob, id); err != nil {
		t.Fatal(err)
	}

	restored := New(authority, h.store, h.payouts, WithClock(h.clock))
	if err := restored.Restore(ctx); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if n := restored.Count(); n != 2 {
		t.Fatalf("Count = %d, want 2", n)
	}
	m, _ := restored.Market(id)
	if !m.Resolved || m.Outcome || m.TotalSideB != u(6) {
		t.Errorf("restored market = %+v", m)
	}
	if _, err := restored.Claim(ctx, bob, id); !errors.Is(err, domain.ErrAlreadyClaimed) {
		t.Errorf("claim after restore err = %v, want ErrAlreadyClaimed", err)
	}
	next, err := restored.CreateMarket(ctx, authority, "q", t0.Add(2*time.Hour))
	if err != nil || next != 2 {
		t.Errorf("next id = %d, %v; want 2", next, err)
	}
}

func TestRestoreRejectsInconsistentJournal(t *testing.T) {
	tests := []struct {
		name string
		snap domain.LedgerSnapshot
	}{
		{
			name: "gap in ids",
			snap: domain.LedgerSnapshot{Markets: []domain.Market{{ID: 0}, {ID: 2}}},
		},
		{
			name: "totals mismatch",
			snap: domain.LedgerSnapshot{
				Markets:   []domain.Market{{ID: 0, TotalSideA: u(5)}},
				Positions: []domain.Position{{MarketID: 0, Participant: alice, SideA: u(4)}},
			},
		},
		{
			name: "orphan position",
			snap: domain.LedgerSnapshot{
				Markets:   []domain.Market{{ID: 0}},
				Positions: []domain.Position{{MarketID: 3, Participant: alice, SideA: u(1)}},
			},
		},
		{
			name: "claim on unresolved market",
			snap: domain.LedgerSnapshot{
				Markets:   []domain.Market{{ID: 0, TotalSideA: u(2)}},
				Positions: []domain.Position{{MarketID: 0, Participant: alice, SideA: u(2), Claimed: true}},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := validateSnapshot(tt.snap); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestSnapshotOrdering(t *testing.T) {
	h := newHarness(t)
	a := h.create(t)
	b := h.create(t)
	h.stake(t, carol, b, domain.SideA, 1)
	h.stake(t, bob, a, domain.SideA, 1)
	h.stake(t, alice, b, domain.SideB, 1)

	snap := h.l.Snapshot()
	if len(snap.Markets) != 2 || len(snap.Positions) != 3 {
		t.Fatalf("snapshot = %d markets, %d positions", len(snap.Markets), len(snap.Positions))
	}
	want := []struct {
		market uint64
		who    common.Address
	}{{a, bob}, {b, alice}, {b, carol}}
	for i, w := range want {
		p := snap.Positions[i]
		if p.MarketID != w.market || p.Participant != w.who {
			t.Errorf("position[%d] = %d/%s, want %d/%s", i, p.MarketID, p.Participant.Hex(), w.market, w.who.Hex())
		}
	}
	if !snap.TakenAt.Equal(t0) {
		t.Errorf("TakenAt = %v", snap.TakenAt)
	}
}

func TestMarketsPagination(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 5; i++ {
		h.create(t)
	}
	page := h.l.Markets(domain.ListOpts{Limit: 2, Offset: 1})
	if len(page) != 2 || page[0].ID != 1 || page[1].ID != 2 {
		t.Fatalf("page = %+v", page)
	}
	if all := h.l.Markets(domain.ListOpts{}); len(all) != 5 {
		t.Errorf("all = %d, want 5", len(all))
	}
	if none := h.l.Markets(domain.ListOpts{Offset: 10}); len(none) != 0 {
		t.Errorf("past end = %d, want 0", len(none))
	}
}

func TestConcurrentStakesAreSerialised(t *testing.T) {
	h := newHarness(t)
	id := h.create(t)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			who, side := alice, domain.SideA
			if i%2 == 1 {
				who, side = bob, domain.SideB
			}
			if err := h.l.Stake(context.Background(), who, id, side, u(2)); err != nil {
				t.Errorf("Stake: %v", err)
			}
		}(i)
	}
	wg.Wait()

	m, _ := h.l.Market(id)
	if m.TotalSideA != u(50) || m.TotalSideB != u(50) {
		t.Errorf("totals = (%s, %s), want (50, 50)", m.TotalSideA.Dec(), m.TotalSideB.Dec())
	}
}

func TestParseClaimPolicy(t *testing.T) {
	for in, want := range map[string]ClaimPolicy{"": ClaimIrrevocable, "irrevocable": ClaimIrrevocable, "atomic": ClaimAtomic} {
		got, err := ParseClaimPolicy(in)
		if err != nil || got != want {
			t.Errorf("ParseClaimPolicy(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseClaimPolicy("lenient"); err == nil {
		t.Error("expected error for unknown policy")
	}
}
