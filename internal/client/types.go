package client

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/betledger/internal/domain"
)

// APIMarket is a market as returned by the ledger API.
type APIMarket struct {
	ID         uint64 `json:"id"`
	Question   string `json:"question"`
	EndTime    int64  `json:"end_time"`
	TotalSideA string `json:"total_side_a"`
	TotalSideB string `json:"total_side_b"`
	Pool       string `json:"pool"`
	Status     string `json:"status"`
	Resolved   bool   `json:"resolved"`
	Outcome    *bool  `json:"outcome,omitempty"`
	Winner     string `json:"winner,omitempty"`
	CreatedAt  int64  `json:"created_at"`
	ResolvedAt *int64 `json:"resolved_at,omitempty"`
}

// ToDomainMarket converts the API representation to domain.Market.
func (a APIMarket) ToDomainMarket() (domain.Market, error) {
	totalA, err := uint256.FromDecimal(a.TotalSideA)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market %d: total_side_a %q: %w", a.ID, a.TotalSideA, err)
	}
	totalB, err := uint256.FromDecimal(a.TotalSideB)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market %d: total_side_b %q: %w", a.ID, a.TotalSideB, err)
	}
	m := domain.Market{
		ID:         a.ID,
		Question:   a.Question,
		EndTime:    time.Unix(a.EndTime, 0).UTC(),
		TotalSideA: *totalA,
		TotalSideB: *totalB,
		Resolved:   a.Resolved,
		CreatedAt:  time.Unix(a.CreatedAt, 0).UTC(),
	}
	if a.Outcome != nil {
		m.Outcome = *a.Outcome
	}
	if a.ResolvedAt != nil {
		at := time.Unix(*a.ResolvedAt, 0).UTC()
		m.ResolvedAt = &at
	}
	return m, nil
}

// APIPosition is a participant's stakes as returned by the ledger API.
type APIPosition struct {
	MarketID    uint64 `json:"market_id"`
	Participant string `json:"participant"`
	SideA       string `json:"side_a"`
	SideB       string `json:"side_b"`
	Claimed     bool   `json:"claimed"`
}

// ToDomainPosition converts the API representation to domain.Position.
func (a APIPosition) ToDomainPosition() (domain.Position, error) {
	sideA, err := uint256.FromDecimal(a.SideA)
	if err != nil {
		return domain.Position{}, fmt.Errorf("side_a %q: %w", a.SideA, err)
	}
	sideB, err := uint256.FromDecimal(a.SideB)
	if err != nil {
		return domain.Position{}, fmt.Errorf("side_b %q: %w", a.SideB, err)
	}
	return domain.Position{
		MarketID:    a.MarketID,
		Participant: common.HexToAddress(a.Participant),
		SideA:       *sideA,
		SideB:       *sideB,
		Claimed:     a.Claimed,
	}, nil
}

// APIAmount carries a single amount for a participant on a market.
type APIAmount struct {
	MarketID    uint64 `json:"market_id"`
	Participant string `json:"participant"`
	Amount      string `json:"amount"`
}

func (a APIAmount) value() (uint256.Int, error) {
	v, err := uint256.FromDecimal(a.Amount)
	if err != nil {
		return uint256.Int{}, fmt.Errorf("amount %q: %w", a.Amount, err)
	}
	return *v, nil
}

// Status is the service status.
type Status struct {
	Mode          string `json:"mode"`
	Authority     string `json:"authority"`
	ClaimPolicy   string `json:"claim_policy"`
	Markets       int    `json:"markets"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// APIAuditEntry is one audit log row as returned by the ledger API.
type APIAuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}
