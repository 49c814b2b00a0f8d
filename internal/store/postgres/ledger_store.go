package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/betledger/internal/domain"
)

// LedgerStore implements domain.LedgerStore using PostgreSQL. Every method
// runs in a single transaction.
type LedgerStore struct {
	pool *pgxpool.Pool
}

// NewLedgerStore creates a new LedgerStore backed by the given connection pool.
func NewLedgerStore(pool *pgxpool.Pool) *LedgerStore {
	return &LedgerStore{pool: pool}
}

// CreateMarket inserts a market. The id must be exactly one past the current
// maximum, which keeps the sequence dense.
func (s *LedgerStore) CreateMarket(ctx context.Context, m domain.Market) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var next int64
	if err := tx.QueryRow(ctx, `SELECT COALESCE(MAX(id) + 1, 0) FROM markets`).Scan(&next); err != nil {
		return fmt.Errorf("postgres: next market id: %w", err)
	}
	if uint64(next) != m.ID {
		return fmt.Errorf("postgres: create market: id %d out of sequence (next %d)", m.ID, next)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO markets (id, question, end_time, created_at)
		VALUES ($1, $2, $3, $4)`,
		int64(m.ID), m.Question, m.EndTime, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert market %d: %w", m.ID, err)
	}
	return tx.Commit(ctx)
}

// RecordStake appends the stake to the history and adds it to the position
// and the market's side total.
func (s *LedgerStore) RecordStake(ctx context.Context, r domain.StakeRecord) error {
	if !r.Side.Valid() {
		return fmt.Errorf("postgres: record stake: %w", domain.ErrInvalidSide)
	}
	amount := r.Amount.Dec()
	addA, addB := "0", "0"
	if r.Side == domain.SideA {
		addA = amount
	} else {
		addB = amount
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		UPDATE markets
		SET total_a = total_a + $2::numeric, total_b = total_b + $3::numeric
		WHERE id = $1`,
		int64(r.MarketID), addA, addB,
	)
	if err != nil {
		return fmt.Errorf("postgres: update market %d totals: %w", r.MarketID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: record stake on market %d: %w", r.MarketID, domain.ErrNotFound)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO positions (market_id, participant, side_a, side_b)
		VALUES ($1, $2, $3::numeric, $4::numeric)
		ON CONFLICT (market_id, participant) DO UPDATE SET
			side_a = positions.side_a + EXCLUDED.side_a,
			side_b = positions.side_b + EXCLUDED.side_b`,
		int64(r.MarketID), r.Participant.Hex(), addA, addB,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert position: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO stakes (market_id, participant, side, amount, staked_at)
		VALUES ($1, $2, $3, $4::numeric, $5)`,
		int64(r.MarketID), r.Participant.Hex(), r.Side.String(), amount, r.At,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert stake: %w", err)
	}
	return tx.Commit(ctx)
}

// ResolveMarket sets the outcome of an unresolved market.
func (s *LedgerStore) ResolveMarket(ctx context.Context, marketID uint64, outcome bool, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE markets SET resolved = TRUE, outcome = $2, resolved_at = $3
		WHERE id = $1 AND NOT resolved`,
		int64(marketID), outcome, at,
	)
	if err != nil {
		return fmt.Errorf("postgres: resolve market %d: %w", marketID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: resolve market %d: %w", marketID, domain.ErrAlreadyResolved)
	}
	return nil
}

// MarkClaimed sets the claimed flag on an unclaimed position.
func (s *LedgerStore) MarkClaimed(ctx context.Context, c domain.ClaimRecord) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE positions SET claimed = TRUE, reward = $3::numeric, claimed_at = $4
		WHERE market_id = $1 AND participant = $2 AND NOT claimed`,
		int64(c.MarketID), c.Participant.Hex(), c.Reward.Dec(), c.At,
	)
	if err != nil {
		return fmt.Errorf("postgres: mark claimed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: mark claimed %d/%s: %w", c.MarketID, c.Participant.Hex(), domain.ErrAlreadyClaimed)
	}
	return nil
}

// RevertClaim clears the claimed flag.
func (s *LedgerStore) RevertClaim(ctx context.Context, marketID uint64, participant common.Address) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE positions SET claimed = FALSE, reward = NULL, claimed_at = NULL
		WHERE market_id = $1 AND participant = $2`,
		int64(marketID), participant.Hex(),
	)
	if err != nil {
		return fmt.Errorf("postgres: revert claim: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: revert claim %d/%s: %w", marketID, participant.Hex(), domain.ErrNotFound)
	}
	return nil
}

// Load reads every market and position inside one repeatable-read
// transaction so the two result sets agree.
func (s *LedgerStore) Load(ctx context.Context) (domain.LedgerSnapshot, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return domain.LedgerSnapshot{}, fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	snap := domain.LedgerSnapshot{TakenAt: time.Now().UTC()}

	rows, err := tx.Query(ctx, `
		SELECT id, question, end_time, total_a::text, total_b::text,
		       resolved, outcome, created_at, resolved_at
		FROM markets ORDER BY id`)
	if err != nil {
		return domain.LedgerSnapshot{}, fmt.Errorf("postgres: load markets: %w", err)
	}
	for rows.Next() {
		var (
			m              domain.Market
			id             int64
			totalA, totalB string
		)
		if err := rows.Scan(&id, &m.Question, &m.EndTime, &totalA, &totalB,
			&m.Resolved, &m.Outcome, &m.CreatedAt, &m.ResolvedAt); err != nil {
			rows.Close()
			return domain.LedgerSnapshot{}, fmt.Errorf("postgres: scan market: %w", err)
		}
		m.ID = uint64(id)
		if m.TotalSideA, err = parseAmount(totalA); err != nil {
			rows.Close()
			return domain.LedgerSnapshot{}, fmt.Errorf("postgres: market %d total_a: %w", id, err)
		}
		if m.TotalSideB, err = parseAmount(totalB); err != nil {
			rows.Close()
			return domain.LedgerSnapshot{}, fmt.Errorf("postgres: market %d total_b: %w", id, err)
		}
		snap.Markets = append(snap.Markets, m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return domain.LedgerSnapshot{}, fmt.Errorf("postgres: load markets rows: %w", err)
	}

	rows, err = tx.Query(ctx, `
		SELECT market_id, participant, side_a::text, side_b::text, claimed
		FROM positions ORDER BY market_id, participant`)
	if err != nil {
		return domain.LedgerSnapshot{}, fmt.Errorf("postgres: load positions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			p            domain.Position
			marketID     int64
			participant  string
			sideA, sideB string
		)
		if err := rows.Scan(&marketID, &participant, &sideA, &sideB, &p.Claimed); err != nil {
			return domain.LedgerSnapshot{}, fmt.Errorf("postgres: scan position: %w", err)
		}
		if !common.IsHexAddress(participant) {
			return domain.LedgerSnapshot{}, fmt.Errorf("postgres: position %d: bad participant %q", marketID, participant)
		}
		p.MarketID = uint64(marketID)
		p.Participant = common.HexToAddress(participant)
		if p.SideA, err = parseAmount(sideA); err != nil {
			return domain.LedgerSnapshot{}, fmt.Errorf("postgres: position side_a: %w", err)
		}
		if p.SideB, err = parseAmount(sideB); err != nil {
			return domain.LedgerSnapshot{}, fmt.Errorf("postgres: position side_b: %w", err)
		}
		snap.Positions = append(snap.Positions, p)
	}
	if err := rows.Err(); err != nil {
		return domain.LedgerSnapshot{}, fmt.Errorf("postgres: load positions rows: %w", err)
	}
	return snap, nil
}

// parseAmount converts a NUMERIC rendered as text into a 256-bit integer.
func parseAmount(s string) (uint256.Int, error) {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return uint256.Int{}, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return *v, nil
}

var _ domain.LedgerStore = (*LedgerStore)(nil)
