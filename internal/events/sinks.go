package events

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/betledger/internal/domain"
	"github.com/alanyoungcy/betledger/internal/notify"
)

const (
	// Channel is the pub/sub channel carrying live ledger events.
	Channel = "ch:ledger"
	// Stream is the Redis stream holding recent ledger events.
	Stream = "stream:ledger"
)

// BusSink publishes protobuf-encoded events on the signal bus and appends
// them to the event stream.
type BusSink struct {
	bus     domain.SignalBus
	channel string
	stream  string
}

// NewBusSink creates a BusSink on the default channel and stream.
func NewBusSink(bus domain.SignalBus) *BusSink {
	return &BusSink{bus: bus, channel: Channel, stream: Stream}
}

func (s *BusSink) Name() string { return "bus" }

func (s *BusSink) Deliver(ctx context.Context, e domain.Event) error {
	payload, err := Encode(e)
	if err != nil {
		return err
	}
	_, err = s.bus.Broadcast(ctx, s.channel, s.stream, payload)
	return err
}

// AuditSink records every event in the audit log as "ledger.<type>".
type AuditSink struct {
	audit domain.AuditStore
}

// NewAuditSink creates an AuditSink.
func NewAuditSink(audit domain.AuditStore) *AuditSink {
	return &AuditSink{audit: audit}
}

func (s *AuditSink) Name() string { return "audit" }

func (s *AuditSink) Deliver(ctx context.Context, e domain.Event) error {
	return s.audit.Log(ctx, "ledger."+string(e.Type), e.Detail())
}

// NotifySink forwards events the notifier is configured for.
type NotifySink struct {
	notifier *notify.Notifier
}

// NewNotifySink creates a NotifySink.
func NewNotifySink(n *notify.Notifier) *NotifySink {
	return &NotifySink{notifier: n}
}

func (s *NotifySink) Name() string { return "notify" }

func (s *NotifySink) Deliver(ctx context.Context, e domain.Event) error {
	if !s.notifier.Allows(string(e.Type)) {
		return nil
	}
	title, msg := notify.FormatEvent(e)
	if err := s.notifier.Notify(ctx, string(e.Type), title, msg); err != nil {
		return fmt.Errorf("events: notify: %w", err)
	}
	return nil
}

// LogSink writes each event to the process log.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a LogSink.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger.With(slog.String("component", "events"))}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Deliver(ctx context.Context, e domain.Event) error {
	attrs := make([]any, 0, 8)
	for k, v := range e.Detail() {
		attrs = append(attrs, slog.Any(k, v))
	}
	s.logger.InfoContext(ctx, "ledger event", attrs...)
	return nil
}

// MarketSource returns the current state of a market.
type MarketSource interface {
	Market(id uint64) (domain.Market, error)
}

// MarketSourceFunc adapts a function to MarketSource.
type MarketSourceFunc func(id uint64) (domain.Market, error)

// Market calls f(id).
func (f MarketSourceFunc) Market(id uint64) (domain.Market, error) { return f(id) }

// ProjectionSink rewrites a market in the cache after every event on it.
// Reading the ledger at delivery time means a retried or late delivery
// still writes the newest state.
type ProjectionSink struct {
	cache  domain.MarketCache
	source MarketSource
}

// NewProjectionSink creates a ProjectionSink.
func NewProjectionSink(cache domain.MarketCache, source MarketSource) *ProjectionSink {
	return &ProjectionSink{cache: cache, source: source}
}

func (s *ProjectionSink) Name() string { return "projection" }

func (s *ProjectionSink) Deliver(ctx context.Context, e domain.Event) error {
	m, err := s.source.Market(e.MarketID)
	if err != nil {
		return fmt.Errorf("events: project market %d: %w", e.MarketID, err)
	}
	return s.cache.Set(ctx, m)
}
