package handler

import (
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/betledger/internal/domain"
)

// LedgerReader defines the queries that the market handler requires from the
// ledger. It is declared locally so the handler package does not depend on
// the concrete ledger implementation.
type LedgerReader interface {
	Market(id uint64) (domain.Market, error)
	Markets(opts domain.ListOpts) []domain.Market
	Count() int
	Position(marketID uint64, participant common.Address) (domain.Position, error)
	Claimable(marketID uint64, participant common.Address) (uint256.Int, error)
}

// MarketHandler serves the read-only market endpoints.
type MarketHandler struct {
	ledger LedgerReader
	clock  domain.Clock
	logger *slog.Logger
}

// NewMarketHandler creates a MarketHandler with the given ledger and logger.
func NewMarketHandler(ledger LedgerReader, clock domain.Clock, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		ledger: ledger,
		clock:  clock,
		logger: logger,
	}
}

// listMarketsResponse wraps the list endpoint output with metadata.
type listMarketsResponse struct {
	Markets []marketView `json:"markets"`
	Total   int          `json:"total"`
	Limit   int          `json:"limit"`
	Offset  int          `json:"offset"`
}

// ListMarkets returns markets in id order with pagination.
// GET /api/markets?limit=50&offset=0
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	now := h.clock.Now()

	markets := h.ledger.Markets(opts)
	views := make([]marketView, 0, len(markets))
	for _, m := range markets {
		views = append(views, newMarketView(m, now))
	}

	writeJSON(w, http.StatusOK, listMarketsResponse{
		Markets: views,
		Total:   h.ledger.Count(),
		Limit:   opts.Limit,
		Offset:  opts.Offset,
	})
}

// GetMarket returns a single market by its ID.
// GET /api/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	id, err := marketIDParam(r)
	if err != nil {
		writeLedgerError(w, r, h.logger, "get market", err)
		return
	}

	m, err := h.ledger.Market(id)
	if err != nil {
		writeLedgerError(w, r, h.logger, "get market", err)
		return
	}
	writeJSON(w, http.StatusOK, newMarketView(m, h.clock.Now()))
}

// GetStakes returns a participant's stakes on both sides of a market. A
// participant who never staked gets zeros.
// GET /api/markets/{id}/stakes/{address}
func (h *MarketHandler) GetStakes(w http.ResponseWriter, r *http.Request) {
	id, err := marketIDParam(r)
	if err != nil {
		writeLedgerError(w, r, h.logger, "get stakes", err)
		return
	}
	addr, ok := addressParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "bad_address", "address must be 0x-prefixed hex")
		return
	}

	pos, err := h.ledger.Position(id, addr)
	if err != nil {
		writeLedgerError(w, r, h.logger, "get stakes", err)
		return
	}
	writeJSON(w, http.StatusOK, newPositionView(pos))
}

// GetClaimable returns what a claim would pay now. It is zero before
// resolution, after a claim, or for a participant with no winning stake.
// GET /api/markets/{id}/claimable/{address}
func (h *MarketHandler) GetClaimable(w http.ResponseWriter, r *http.Request) {
	id, err := marketIDParam(r)
	if err != nil {
		writeLedgerError(w, r, h.logger, "get claimable", err)
		return
	}
	addr, ok := addressParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "bad_address", "address must be 0x-prefixed hex")
		return
	}

	amount, err := h.ledger.Claimable(id, addr)
	if err != nil {
		writeLedgerError(w, r, h.logger, "get claimable", err)
		return
	}
	writeJSON(w, http.StatusOK, newAmountView(id, addr, amount))
}
