package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/alanyoungcy/betledger/internal/blob/s3"
	"github.com/alanyoungcy/betledger/internal/domain"
)

// SnapshotExporter writes a snapshot to durable storage.
type SnapshotExporter interface {
	Export(ctx context.Context, snap domain.LedgerSnapshot) (s3blob.SnapshotResult, error)
}

// SnapshotService exports the ledger periodically.
type SnapshotService struct {
	source   domain.SnapshotSource
	exporter SnapshotExporter
	interval time.Duration
	logger   *slog.Logger
}

// NewSnapshotService creates a SnapshotService. interval defaults to one hour.
func NewSnapshotService(source domain.SnapshotSource, exporter SnapshotExporter, interval time.Duration, logger *slog.Logger) *SnapshotService {
	if interval <= 0 {
		interval = time.Hour
	}
	return &SnapshotService{
		source:   source,
		exporter: exporter,
		interval: interval,
		logger:   logger.With(slog.String("component", "snapshot_service")),
	}
}

// RunOnce exports a single snapshot.
func (s *SnapshotService) RunOnce(ctx context.Context) (s3blob.SnapshotResult, error) {
	snap := s.source.Snapshot()
	res, err := s.exporter.Export(ctx, snap)
	if err != nil {
		return s3blob.SnapshotResult{}, fmt.Errorf("snapshot service: export: %w", err)
	}
	s.logger.InfoContext(ctx, "snapshot exported",
		slog.String("path", res.Path),
		slog.Int("markets", res.Markets),
		slog.Int("positions", res.Positions),
		slog.Int("bytes", res.Bytes),
		slog.Int("pruned", res.Pruned),
	)
	return res, nil
}

// Run exports on every tick until ctx is cancelled. A failed export is logged
// and retried on the next tick. Call in a goroutine.
func (s *SnapshotService) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil {
				s.logger.ErrorContext(ctx, "snapshot failed", slog.String("error", err.Error()))
			}
		}
	}
}
