package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Side selects one of the two bettable outcomes of a market.
type Side uint8

const (
	SideA Side = iota + 1
	SideB
)

// String returns "a" or "b".
func (s Side) String() string {
	switch s {
	case SideA:
		return "a"
	case SideB:
		return "b"
	default:
		return fmt.Sprintf("side(%d)", uint8(s))
	}
}

// Valid reports whether s is SideA or SideB.
func (s Side) Valid() bool {
	return s == SideA || s == SideB
}

// ParseSide accepts "a"/"b" (case-insensitive, optional "side_" prefix).
func ParseSide(v string) (Side, error) {
	v = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(v)), "side_")
	switch v {
	case "a":
		return SideA, nil
	case "b":
		return SideB, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidSide, v)
	}
}

// MarketStatus is the derived lifecycle state of a market at a point in time.
type MarketStatus string

const (
	// MarketStatusOpen accepts stakes.
	MarketStatusOpen MarketStatus = "open"
	// MarketStatusClosed is past its deadline and awaiting resolution.
	MarketStatusClosed MarketStatus = "closed"
	// MarketStatusResolved has a permanent outcome; claims are allowed.
	MarketStatusResolved MarketStatus = "resolved"
)

// Market is one binary-outcome proposition with its two stake pools.
type Market struct {
	ID         uint64
	Question   string
	EndTime    time.Time
	TotalSideA uint256.Int
	TotalSideB uint256.Int
	Resolved   bool
	// Outcome is true when side A won. Only meaningful when Resolved.
	Outcome    bool
	CreatedAt  time.Time
	ResolvedAt *time.Time
}

// Pool returns the combined stake of both sides. Stake rejects any amount
// that would make this sum overflow, so it never wraps.
func (m *Market) Pool() uint256.Int {
	var pool uint256.Int
	pool.Add(&m.TotalSideA, &m.TotalSideB)
	return pool
}

// Total returns the pool total for one side.
func (m *Market) Total(side Side) uint256.Int {
	if side == SideA {
		return m.TotalSideA
	}
	return m.TotalSideB
}

// WinningSide returns the side declared the winner. It returns false when
// the market is not resolved.
func (m *Market) WinningSide() (Side, bool) {
	if !m.Resolved {
		return 0, false
	}
	if m.Outcome {
		return SideA, true
	}
	return SideB, true
}

// Status derives the lifecycle state at now.
func (m *Market) Status(now time.Time) MarketStatus {
	switch {
	case m.Resolved:
		return MarketStatusResolved
	case now.Before(m.EndTime):
		return MarketStatusOpen
	default:
		return MarketStatusClosed
	}
}

// Position is one participant's stake on a market plus their claim record.
type Position struct {
	MarketID    uint64
	Participant common.Address
	SideA       uint256.Int
	SideB       uint256.Int
	Claimed     bool
}

// On returns the participant's accumulated stake on side.
func (p *Position) On(side Side) uint256.Int {
	if side == SideA {
		return p.SideA
	}
	return p.SideB
}

// LedgerSnapshot is a point-in-time copy of every market and position.
type LedgerSnapshot struct {
	Markets   []Market
	Positions []Position
	TakenAt   time.Time
}
