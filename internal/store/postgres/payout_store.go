package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/betledger/internal/domain"
)

// PayoutStore credits rewards to per-participant balances. It implements
// domain.Payouts; a ref that was already applied is a no-op.
type PayoutStore struct {
	pool *pgxpool.Pool
}

// NewPayoutStore creates a new PayoutStore backed by the given connection pool.
func NewPayoutStore(pool *pgxpool.Pool) *PayoutStore {
	return &PayoutStore{pool: pool}
}

// Transfer records the payout and adds amount to the recipient's balance.
func (s *PayoutStore) Transfer(ctx context.Context, to common.Address, amount uint256.Int, ref string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		INSERT INTO payouts (ref, participant, amount)
		VALUES ($1, $2, $3::numeric)
		ON CONFLICT (ref) DO NOTHING`,
		ref, to.Hex(), amount.Dec(),
	)
	if err != nil {
		return fmt.Errorf("postgres: insert payout %s: %w", ref, err)
	}
	if tag.RowsAffected() == 0 {
		return nil
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO balances (participant, amount, updated_at)
		VALUES ($1, $2::numeric, NOW())
		ON CONFLICT (participant) DO UPDATE SET
			amount     = balances.amount + EXCLUDED.amount,
			updated_at = NOW()`,
		to.Hex(), amount.Dec(),
	)
	if err != nil {
		return fmt.Errorf("postgres: credit balance %s: %w", to.Hex(), err)
	}
	return tx.Commit(ctx)
}

// Balance returns everything ever paid to addr.
func (s *PayoutStore) Balance(ctx context.Context, addr common.Address) (uint256.Int, error) {
	var text string
	err := s.pool.QueryRow(ctx,
		`SELECT amount::text FROM balances WHERE participant = $1`, addr.Hex(),
	).Scan(&text)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uint256.Int{}, nil
		}
		return uint256.Int{}, fmt.Errorf("postgres: get balance %s: %w", addr.Hex(), err)
	}
	return parseAmount(text)
}

var _ domain.Payouts = (*PayoutStore)(nil)
