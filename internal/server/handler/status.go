package handler

import (
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// MarketCounter reports how many markets exist.
type MarketCounter interface {
	Count() int
}

// StatusHandler serves the service status: mode, authority and market count.
type StatusHandler struct {
	Mode        string
	Authority   common.Address
	ClaimPolicy string
	StartedAt   time.Time
	markets     MarketCounter
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(mode string, authority common.Address, claimPolicy string, markets MarketCounter) *StatusHandler {
	return &StatusHandler{
		Mode:        mode,
		Authority:   authority,
		ClaimPolicy: claimPolicy,
		StartedAt:   time.Now().UTC(),
		markets:     markets,
	}
}

// GetStatus responds with the current mode, ledger authority and size.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":           h.Mode,
		"authority":      h.Authority.Hex(),
		"claim_policy":   h.ClaimPolicy,
		"markets":        h.markets.Count(),
		"uptime_seconds": int64(time.Since(h.StartedAt).Seconds()),
	})
}
