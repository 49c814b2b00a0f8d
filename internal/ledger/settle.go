package ledger

import (
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/betledger/internal/domain"
)

// Reward returns floor(stake * pool / winningTotal) computed with a 512-bit
// intermediate product. ok is false when stake or winningTotal is zero.
//
// Flooring means the rewards of all winners may sum to slightly less than
// the pool. The remainder stays in custody; it is never rounded up.
func Reward(stake, pool, winningTotal uint256.Int) (reward uint256.Int, ok bool) {
	if stake.IsZero() || winningTotal.IsZero() {
		return uint256.Int{}, false
	}
	var z uint256.Int
	if _, overflow := z.MulDivOverflow(&stake, &pool, &winningTotal); overflow {
		// Only reachable when stake > winningTotal, which the ledger's
		// invariants rule out.
		return uint256.Int{}, false
	}
	return z, true
}

// payout computes what pos would receive from the resolved market m.
func payout(m *domain.Market, pos *domain.Position) (uint256.Int, bool) {
	if pos == nil {
		return uint256.Int{}, false
	}
	side, resolved := m.WinningSide()
	if !resolved {
		return uint256.Int{}, false
	}
	return Reward(pos.On(side), m.Pool(), m.Total(side))
}
