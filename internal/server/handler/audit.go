package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/alanyoungcy/betledger/internal/domain"
)

// AuditReader lists audit log entries.
type AuditReader interface {
	List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error)
}

// AuditHandler serves the audit log.
type AuditHandler struct {
	audit  AuditReader
	logger *slog.Logger
}

// NewAuditHandler creates an AuditHandler.
func NewAuditHandler(audit AuditReader, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{audit: audit, logger: logger}
}

type auditEntryView struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

type listAuditResponse struct {
	Entries []auditEntryView `json:"entries"`
	Limit   int              `json:"limit"`
	Offset  int              `json:"offset"`
}

// ListAudit returns audit entries newest first.
// GET /api/audit?limit=50&offset=0&since=...&until=...
//
// since and until accept unix seconds or RFC 3339.
func (h *AuditHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	q := r.URL.Query()

	var err error
	if opts.Since, err = parseTimeParam(q.Get("since")); err != nil {
		writeError(w, http.StatusBadRequest, "bad_time", "invalid since: "+err.Error())
		return
	}
	if opts.Until, err = parseTimeParam(q.Get("until")); err != nil {
		writeError(w, http.StatusBadRequest, "bad_time", "invalid until: "+err.Error())
		return
	}

	entries, err := h.audit.List(r.Context(), opts)
	if err != nil {
		writeLedgerError(w, r, h.logger, "list audit", err)
		return
	}

	views := make([]auditEntryView, 0, len(entries))
	for _, e := range entries {
		views = append(views, auditEntryView{
			ID:        e.ID,
			Event:     e.Event,
			Detail:    e.Detail,
			CreatedAt: e.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, listAuditResponse{
		Entries: views,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
	})
}

// parseTimeParam reads an optional bound. Empty means unbounded.
func parseTimeParam(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	if secs, err := strconv.ParseInt(v, 10, 64); err == nil {
		t := time.Unix(secs, 0).UTC()
		return &t, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return nil, err
	}
	t = t.UTC()
	return &t, nil
}
