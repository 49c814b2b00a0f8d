package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/alanyoungcy/betledger/internal/domain"
)

const (
	// snapshotPrefix is the key prefix under which snapshots are stored.
	snapshotPrefix = "snapshots/ledger/"

	// multipartThreshold switches uploads to the multipart manager.
	multipartThreshold = 8 * 1024 * 1024
)

// SnapshotStore is the object storage surface the snapshotter needs.
type SnapshotStore interface {
	domain.BlobWriter
	domain.BlobLister
	domain.BlobDeleter
}

// Snapshotter exports the full ledger state as JSONL and prunes old exports.
//
// Line one is a header record; every market follows in id order, then every
// position. Amounts are decimal strings.
type Snapshotter struct {
	store  SnapshotStore
	audit  domain.AuditStore
	retain int
	logger *slog.Logger
}

// NewSnapshotter creates a Snapshotter. retain <= 0 keeps every snapshot.
// audit may be nil.
func NewSnapshotter(store SnapshotStore, audit domain.AuditStore, retain int, logger *slog.Logger) *Snapshotter {
	return &Snapshotter{
		store:  store,
		audit:  audit,
		retain: retain,
		logger: logger.With(slog.String("component", "snapshotter")),
	}
}

// SnapshotResult describes one completed export.
type SnapshotResult struct {
	Path      string
	Markets   int
	Positions int
	Bytes     int
	Pruned    int
}

type headerRecord struct {
	Kind      string `json:"kind"`
	TakenAt   string `json:"taken_at"`
	Markets   int    `json:"markets"`
	Positions int    `json:"positions"`
}

type marketRecord struct {
	Kind       string `json:"kind"`
	ID         uint64 `json:"id"`
	Question   string `json:"question"`
	EndTime    int64  `json:"end_time"`
	TotalSideA string `json:"total_side_a"`
	TotalSideB string `json:"total_side_b"`
	Resolved   bool   `json:"resolved"`
	Outcome    *bool  `json:"outcome,omitempty"`
}

type positionRecord struct {
	Kind        string `json:"kind"`
	MarketID    uint64 `json:"market_id"`
	Participant string `json:"participant"`
	SideA       string `json:"side_a"`
	SideB       string `json:"side_b"`
	Claimed     bool   `json:"claimed"`
}

// Export writes snap to object storage, logs it to the audit store and prunes
// snapshots beyond the retention count.
func (s *Snapshotter) Export(ctx context.Context, snap domain.LedgerSnapshot) (SnapshotResult, error) {
	buf, err := encodeSnapshot(snap)
	if err != nil {
		return SnapshotResult{}, fmt.Errorf("s3blob: snapshot marshal: %w", err)
	}

	path := snapshotPath(snap.TakenAt)
	if len(buf) > multipartThreshold {
		err = s.store.PutMultipart(ctx, path, bytes.NewReader(buf), multipartThreshold)
	} else {
		err = s.store.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson")
	}
	if err != nil {
		return SnapshotResult{}, fmt.Errorf("s3blob: snapshot upload: %w", err)
	}

	res := SnapshotResult{
		Path:      path,
		Markets:   len(snap.Markets),
		Positions: len(snap.Positions),
		Bytes:     len(buf),
	}

	if s.audit != nil {
		if err := s.audit.Log(ctx, "snapshot.exported", map[string]any{
			"path":      path,
			"markets":   res.Markets,
			"positions": res.Positions,
			"bytes":     res.Bytes,
		}); err != nil {
			return res, fmt.Errorf("s3blob: snapshot audit log: %w", err)
		}
	}

	res.Pruned, err = s.prune(ctx)
	if err != nil {
		return res, err
	}

	s.logger.InfoContext(ctx, "snapshot exported",
		slog.String("path", path),
		slog.Int("markets", res.Markets),
		slog.Int("positions", res.Positions),
		slog.Int("pruned", res.Pruned),
	)
	return res, nil
}

// prune deletes the oldest snapshots so that at most s.retain remain.
func (s *Snapshotter) prune(ctx context.Context) (int, error) {
	if s.retain <= 0 {
		return 0, nil
	}
	infos, err := s.store.List(ctx, snapshotPrefix)
	if err != nil {
		return 0, fmt.Errorf("s3blob: snapshot list: %w", err)
	}

	var paths []string
	for _, info := range infos {
		if strings.HasSuffix(info.Path, ".jsonl") {
			paths = append(paths, info.Path)
		}
	}
	if len(paths) <= s.retain {
		return 0, nil
	}
	// Keys embed a fixed-width UTC timestamp, so lexical order is age order.
	sort.Strings(paths)

	stale := paths[:len(paths)-s.retain]
	for _, p := range stale {
		if err := s.store.Delete(ctx, p); err != nil {
			return 0, fmt.Errorf("s3blob: snapshot prune %s: %w", p, err)
		}
	}
	return len(stale), nil
}

// snapshotKeyLayout is RFC 3339 with a fixed nine-digit fraction, so keys
// never collide within a second and still sort lexically by age.
const snapshotKeyLayout = "2006-01-02T15:04:05.000000000Z07:00"

// snapshotPath builds the object key for a snapshot taken at t.
//
//	snapshots/ledger/2026-03-01T12:00:00.000000000Z.jsonl
func snapshotPath(t time.Time) string {
	return snapshotPrefix + t.UTC().Format(snapshotKeyLayout) + ".jsonl"
}

func encodeSnapshot(snap domain.LedgerSnapshot) ([]byte, error) {
	records := make([]any, 0, 1+len(snap.Markets)+len(snap.Positions))
	records = append(records, headerRecord{
		Kind:      "header",
		TakenAt:   snap.TakenAt.UTC().Format(time.RFC3339Nano),
		Markets:   len(snap.Markets),
		Positions: len(snap.Positions),
	})
	for i := range snap.Markets {
		m := &snap.Markets[i]
		rec := marketRecord{
			Kind:       "market",
			ID:         m.ID,
			Question:   m.Question,
			EndTime:    m.EndTime.Unix(),
			TotalSideA: m.TotalSideA.Dec(),
			TotalSideB: m.TotalSideB.Dec(),
			Resolved:   m.Resolved,
		}
		if m.Resolved {
			outcome := m.Outcome
			rec.Outcome = &outcome
		}
		records = append(records, rec)
	}
	for i := range snap.Positions {
		p := &snap.Positions[i]
		records = append(records, positionRecord{
			Kind:        "position",
			MarketID:    p.MarketID,
			Participant: p.Participant.Hex(),
			SideA:       p.SideA.Dec(),
			SideB:       p.SideB.Dec(),
			Claimed:     p.Claimed,
		})
	}
	return marshalJSONL(records)
}

// marshalJSONL serialises a slice of values as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
