package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	s3blob "github.com/alanyoungcy/betledger/internal/blob/s3"
	"github.com/alanyoungcy/betledger/internal/domain"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type staticSource struct{ snap domain.LedgerSnapshot }

func (s staticSource) Snapshot() domain.LedgerSnapshot { return s.snap }

type countingExporter struct {
	mu    sync.Mutex
	calls int
	err   error
	done  chan struct{}
}

func (e *countingExporter) Export(_ context.Context, snap domain.LedgerSnapshot) (s3blob.SnapshotResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.done != nil && e.calls == 2 {
		close(e.done)
	}
	if e.err != nil {
		return s3blob.SnapshotResult{}, e.err
	}
	return s3blob.SnapshotResult{Path: "snapshots/ledger/x.jsonl", Markets: len(snap.Markets)}, nil
}

func TestSnapshotRunOnce(t *testing.T) {
	src := staticSource{snap: domain.LedgerSnapshot{Markets: []domain.Market{{ID: 0}, {ID: 1}}}}
	exp := &countingExporter{}
	svc := NewSnapshotService(src, exp, time.Minute, discard())

	res, err := svc.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if res.Markets != 2 || exp.calls != 1 {
		t.Fatalf("unexpected result %+v after %d calls", res, exp.calls)
	}

	exp.err = errors.New("bucket gone")
	if _, err := svc.RunOnce(context.Background()); err == nil {
		t.Fatal("expected export error")
	}
}

func TestSnapshotRunKeepsGoingAfterFailure(t *testing.T) {
	exp := &countingExporter{err: errors.New("flaky"), done: make(chan struct{})}
	svc := NewSnapshotService(staticSource{}, exp, 5*time.Millisecond, discard())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- svc.Run(ctx) }()

	select {
	case <-exp.done:
	case <-time.After(5 * time.Second):
		t.Fatal("second export never happened")
	}
	cancel()
	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Fatalf("Run: got %v, want context.Canceled", err)
	}
}

type fakeLease struct {
	mu        sync.Mutex
	refreshes int
	lostAfter int
	released  bool
}

func (l *fakeLease) Refresh(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refreshes++
	if l.lostAfter > 0 && l.refreshes >= l.lostAfter {
		return domain.ErrLockLost
	}
	return nil
}

func (l *fakeLease) Release() {
	l.mu.Lock()
	l.released = true
	l.mu.Unlock()
}

type fakeLocks struct {
	lease *fakeLease
	err   error
}

func (f *fakeLocks) Acquire(context.Context, string, time.Duration) (domain.Lease, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.lease, nil
}

func TestLeaseKeeperStopsWhenLost(t *testing.T) {
	lease := &fakeLease{lostAfter: 3}
	k := NewLeaseKeeper(&fakeLocks{lease: lease}, "ledger:writer", time.Second, time.Millisecond, discard())
	if err := k.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}

	err := k.Run(context.Background())
	if !errors.Is(err, domain.ErrLockLost) {
		t.Fatalf("Run: got %v, want ErrLockLost", err)
	}
	if !lease.released || lease.refreshes != 3 {
		t.Fatalf("lease state: released=%v refreshes=%d", lease.released, lease.refreshes)
	}
}

func TestLeaseKeeperReleasesOnShutdown(t *testing.T) {
	lease := &fakeLease{}
	k := NewLeaseKeeper(&fakeLocks{lease: lease}, "ledger:writer", time.Second, time.Millisecond, discard())
	if err := k.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := k.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run: got %v", err)
	}
	lease.mu.Lock()
	defer lease.mu.Unlock()
	if !lease.released {
		t.Fatal("lease not released")
	}
}

func TestLeaseKeeperAcquireHeld(t *testing.T) {
	k := NewLeaseKeeper(&fakeLocks{err: domain.ErrLockHeld}, "ledger:writer", time.Second, time.Millisecond, discard())
	if err := k.Acquire(context.Background()); !errors.Is(err, domain.ErrLockHeld) {
		t.Fatalf("Acquire: got %v", err)
	}
	if err := k.Run(context.Background()); err == nil {
		t.Fatal("Run without a lease should fail")
	}
}
