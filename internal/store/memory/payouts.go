package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/betledger/internal/domain"
)

// Transfer is one completed payout.
type Transfer struct {
	To     common.Address
	Amount uint256.Int
	Ref    string
}

// Payouts credits in-process balances. A transfer ref is applied at most
// once; repeating it is a no-op.
type Payouts struct {
	mu        sync.Mutex
	balances  map[common.Address]uint256.Int
	transfers []Transfer
	refs      map[string]bool
	fail      func(to common.Address, amount uint256.Int) error
}

// NewPayouts returns an empty payout target.
func NewPayouts() *Payouts {
	return &Payouts{
		balances: make(map[common.Address]uint256.Int),
		refs:     make(map[string]bool),
	}
}

// FailWith installs a hook consulted before every transfer. A non-nil result
// aborts the transfer with that error. Pass nil to clear.
func (p *Payouts) FailWith(fn func(to common.Address, amount uint256.Int) error) {
	p.mu.Lock()
	p.fail = fn
	p.mu.Unlock()
}

// Transfer credits amount to the recipient's balance.
func (p *Payouts) Transfer(_ context.Context, to common.Address, amount uint256.Int, ref string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.fail != nil {
		if err := p.fail(to, amount); err != nil {
			return err
		}
	}
	if p.refs[ref] {
		return nil
	}
	bal := p.balances[to]
	if _, overflow := bal.AddOverflow(&bal, &amount); overflow {
		return fmt.Errorf("memory: transfer %s: %w", ref, domain.ErrAmountOverflow)
	}
	p.balances[to] = bal
	p.refs[ref] = true
	p.transfers = append(p.transfers, Transfer{To: to, Amount: amount, Ref: ref})
	return nil
}

// Balance returns the total paid to addr.
func (p *Payouts) Balance(addr common.Address) uint256.Int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.balances[addr]
}

// Transfers returns every completed transfer in order.
func (p *Payouts) Transfers() []Transfer {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Transfer, len(p.transfers))
	copy(out, p.transfers)
	return out
}

var _ domain.Payouts = (*Payouts)(nil)
