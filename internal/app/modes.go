package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	s3blob "github.com/alanyoungcy/betledger/internal/blob/s3"
	"github.com/alanyoungcy/betledger/internal/domain"
	"github.com/alanyoungcy/betledger/internal/events"
	"github.com/alanyoungcy/betledger/internal/ledger"
	"github.com/alanyoungcy/betledger/internal/server"
	"github.com/alanyoungcy/betledger/internal/server/handler"
	"github.com/alanyoungcy/betledger/internal/server/ws"
	"github.com/alanyoungcy/betledger/internal/service"
)

// FullMode holds the writer lease, restores the ledger from the Postgres
// journal and serves it over HTTP, fanning events out through Redis. When
// snapshots are enabled it also exports the ledger to S3 on an interval.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")
	startedAt := time.Now().UTC()

	// Take the lease before loading the journal so no other writer can
	// append between Restore and the first request.
	keeper := service.NewLeaseKeeper(deps.LockManager, a.cfg.Lease.Key,
		a.cfg.Lease.TTL.Duration, a.cfg.Lease.Refresh.Duration, a.logger)
	if err := keeper.Acquire(ctx); err != nil {
		return fmt.Errorf("full mode: %w", err)
	}

	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:           a.cfg.Mode,
		AllowedOrigins: a.cfg.Server.CORSOrigins,
		StartedAt:      startedAt,
	})

	// The projection reads markets back from the ledger it is fed by.
	var l *ledger.Ledger
	sinks := []events.Sink{
		events.NewBusSink(deps.SignalBus),
		events.NewProjectionSink(deps.MarketCache, events.MarketSourceFunc(func(id uint64) (domain.Market, error) {
			return l.Market(id)
		})),
		events.NewAuditSink(deps.Audit),
		events.NewLogSink(a.logger),
	}
	dispatcher := a.newDispatcher(deps, sinks)

	l, err := a.restoreLedger(ctx, deps, dispatcher)
	if err != nil {
		keeper.Release()
		return fmt.Errorf("full mode: %w", err)
	}
	if err := a.projectMarkets(ctx, deps.MarketCache, l); err != nil {
		a.logger.WarnContext(ctx, "initial market projection failed", slog.String("error", err.Error()))
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return keeper.Run(ctx) })
	g.Go(func() error { return dispatcher.Run(ctx) })
	g.Go(func() error { return hub.Run(ctx) })

	if deps.Blobs != nil {
		snapshots := a.newSnapshotService(deps, l)
		g.Go(func() error { return snapshots.Run(ctx) })
	}

	srv := a.newServer(deps, l, hub)
	g.Go(func() error { return srv.Run(ctx) })

	return g.Wait()
}

// StandaloneMode serves an in-memory ledger with no external services.
// Events reach WebSocket clients directly and the audit log lives in memory.
func (a *App) StandaloneMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting standalone mode")

	hub := ws.NewHub(nil, a.logger, ws.Config{
		Mode:           a.cfg.Mode,
		AllowedOrigins: a.cfg.Server.CORSOrigins,
		StartedAt:      time.Now().UTC(),
	})

	sinks := []events.Sink{
		hub,
		events.NewAuditSink(deps.Audit),
		events.NewLogSink(a.logger),
	}
	dispatcher := a.newDispatcher(deps, sinks)

	l, err := a.restoreLedger(ctx, deps, dispatcher)
	if err != nil {
		return fmt.Errorf("standalone mode: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return dispatcher.Run(ctx) })
	g.Go(func() error { return hub.Run(ctx) })

	srv := a.newServer(deps, l, hub)
	g.Go(func() error { return srv.Run(ctx) })

	return g.Wait()
}

// SnapshotMode loads the ledger from the journal, exports one snapshot to
// object storage and returns.
func (a *App) SnapshotMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting snapshot mode")

	l, err := a.restoreLedger(ctx, deps, nil)
	if err != nil {
		return fmt.Errorf("snapshot mode: %w", err)
	}

	if _, err := a.newSnapshotService(deps, l).RunOnce(ctx); err != nil {
		return fmt.Errorf("snapshot mode: %w", err)
	}
	return nil
}

// newDispatcher adds the notification sink when a sender is configured.
func (a *App) newDispatcher(deps *Dependencies, sinks []events.Sink) *events.Dispatcher {
	if deps.Notifier != nil && deps.Notifier.Enabled() {
		sinks = append(sinks, events.NewNotifySink(deps.Notifier))
	}
	names := make([]string, 0, len(sinks))
	for _, s := range sinks {
		names = append(names, s.Name())
	}
	a.logger.Info("event sinks configured", slog.Any("sinks", names))

	return events.NewDispatcher(sinks, a.logger,
		events.WithRetry(events.DefaultRetry(a.cfg.Events.RetryMaxElapsed.Duration)),
	)
}

// restoreLedger builds the ledger over the wired journal and replays it.
// sink may be nil.
func (a *App) restoreLedger(ctx context.Context, deps *Dependencies, sink domain.EventSink) (*ledger.Ledger, error) {
	policy, err := ledger.ParseClaimPolicy(a.cfg.Ledger.ClaimPolicy)
	if err != nil {
		return nil, err
	}

	opts := []ledger.Option{
		ledger.WithClaimPolicy(policy),
		ledger.WithLogger(a.logger),
	}
	if sink != nil {
		opts = append(opts, ledger.WithEvents(sink))
	}

	l := ledger.New(a.cfg.AuthorityAddress(), deps.Journal, deps.Payouts, opts...)
	if err := l.Restore(ctx); err != nil {
		return nil, err
	}
	return l, nil
}

// projectMarkets writes every restored market to the cache so the projection
// is complete before the first event arrives.
func (a *App) projectMarkets(ctx context.Context, cache domain.MarketCache, l *ledger.Ledger) error {
	for _, m := range l.Markets(domain.ListOpts{}) {
		if err := cache.Set(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) newSnapshotService(deps *Dependencies, l *ledger.Ledger) *service.SnapshotService {
	exporter := s3blob.NewSnapshotter(deps.Blobs, deps.Audit, a.cfg.Snapshot.Retain, a.logger)
	return service.NewSnapshotService(l, exporter, a.cfg.Snapshot.Interval.Duration, a.logger)
}

func (a *App) newServer(deps *Dependencies, l *ledger.Ledger, hub *ws.Hub) *server.Server {
	sc := a.cfg.Server
	return server.NewServer(server.Config{
		Port:          sc.Port,
		CORSOrigins:   sc.CORSOrigins,
		APIKey:        sc.APIKey,
		SignatureSkew: sc.SignatureSkew.Duration,
		ReplayTTL:     sc.ReplayTTL.Duration,
		RateLimit:     sc.RateLimit,
		RateWindow:    sc.RateWindow.Duration,

		TrustProxyHeaders: sc.TrustProxyHeaders,
	}, server.Handlers{
		Health:  handler.NewHealthHandler(deps.Checks, a.logger),
		Status:  handler.NewStatusHandler(a.cfg.Mode, l.Authority(), string(l.Policy()), l),
		Markets: handler.NewMarketHandler(l, domain.SystemClock{}, a.logger),
		Ledger:  handler.NewLedgerHandler(l, a.logger),
		Audit:   handler.NewAuditHandler(deps.Audit, a.logger),
	}, server.Deps{
		Guard:   deps.ReplayGuard,
		Limiter: deps.RateLimiter,
	}, hub, a.logger)
}
