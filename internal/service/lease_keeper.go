package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/betledger/internal/domain"
)

// LeaseKeeper holds the single-writer lease for as long as the process runs.
type LeaseKeeper struct {
	locks   domain.LockManager
	key     string
	ttl     time.Duration
	refresh time.Duration
	logger  *slog.Logger

	lease domain.Lease
}

// NewLeaseKeeper creates a LeaseKeeper for key. refresh must be shorter than
// ttl.
func NewLeaseKeeper(locks domain.LockManager, key string, ttl, refresh time.Duration, logger *slog.Logger) *LeaseKeeper {
	return &LeaseKeeper{
		locks:   locks,
		key:     key,
		ttl:     ttl,
		refresh: refresh,
		logger:  logger.With(slog.String("component", "lease_keeper"), slog.String("key", key)),
	}
}

// Acquire takes the lease. It fails with domain.ErrLockHeld when another
// writer owns it.
func (k *LeaseKeeper) Acquire(ctx context.Context) error {
	lease, err := k.locks.Acquire(ctx, k.key, k.ttl)
	if err != nil {
		return fmt.Errorf("lease keeper: acquire %s: %w", k.key, err)
	}
	k.lease = lease
	k.logger.InfoContext(ctx, "writer lease acquired", slog.Duration("ttl", k.ttl))
	return nil
}

// Run refreshes the lease until ctx is cancelled, then releases it. It
// returns domain.ErrLockLost as soon as another holder takes the key, so the
// caller can stop accepting writes.
func (k *LeaseKeeper) Run(ctx context.Context) error {
	if k.lease == nil {
		return errors.New("lease keeper: run before acquire")
	}
	defer k.lease.Release()

	ticker := time.NewTicker(k.refresh)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			err := k.lease.Refresh(ctx)
			switch {
			case err == nil:
			case errors.Is(err, domain.ErrLockLost):
				k.logger.ErrorContext(ctx, "writer lease lost")
				return fmt.Errorf("lease keeper: %w", err)
			case ctx.Err() != nil:
				return ctx.Err()
			default:
				k.logger.WarnContext(ctx, "lease refresh failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Release gives the lease up early, e.g. when startup fails after Acquire.
func (k *LeaseKeeper) Release() {
	if k.lease != nil {
		k.lease.Release()
	}
}
