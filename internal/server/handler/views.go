package handler

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/betledger/internal/domain"
)

// marketView is the JSON form of a market. Amounts are decimal strings and
// times are unix seconds. Outcome (true when side a won) and Winner are
// omitted until the market is resolved.
type marketView struct {
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

func newMarketView(m domain.Market, now time.Time) marketView {
	pool := m.Pool()
	v := marketView{
		ID:         m.ID,
		Question:   m.Question,
		EndTime:    m.EndTime.Unix(),
		TotalSideA: m.TotalSideA.Dec(),
		TotalSideB: m.TotalSideB.Dec(),
		Pool:       pool.Dec(),
		Status:     string(m.Status(now)),
		Resolved:   m.Resolved,
		CreatedAt:  m.CreatedAt.Unix(),
	}
	if side, ok := m.WinningSide(); ok {
		outcome := m.Outcome
		v.Outcome = &outcome
		v.Winner = side.String()
	}
	if m.ResolvedAt != nil {
		at := m.ResolvedAt.Unix()
		v.ResolvedAt = &at
	}
	return v
}

// positionView is the JSON form of a participant's stakes on one market.
type positionView struct {
	MarketID    uint64 `json:"market_id"`
	Participant string `json:"participant"`
	SideA       string `json:"side_a"`
	SideB       string `json:"side_b"`
	Claimed     bool   `json:"claimed"`
}

func newPositionView(p domain.Position) positionView {
	return positionView{
		MarketID:    p.MarketID,
		Participant: p.Participant.Hex(),
		SideA:       p.SideA.Dec(),
		SideB:       p.SideB.Dec(),
		Claimed:     p.Claimed,
	}
}

// amountView reports a single amount owed to or moved for a participant.
type amountView struct {
	MarketID    uint64 `json:"market_id"`
	Participant string `json:"participant"`
	Amount      string `json:"amount"`
}

func newAmountView(id uint64, p common.Address, amount uint256.Int) amountView {
	return amountView{MarketID: id, Participant: p.Hex(), Amount: amount.Dec()}
}
