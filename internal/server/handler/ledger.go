package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/betledger/internal/domain"
	"github.com/alanyoungcy/betledger/internal/server/middleware"
)

// LedgerWriter defines the mutating ledger operations. The caller identity
// passed to each one is the address recovered from the request signature.
type LedgerWriter interface {
	CreateMarket(ctx context.Context, caller common.Address, question string, endTime time.Time) (uint64, error)
	Stake(ctx context.Context, caller common.Address, marketID uint64, side domain.Side, amount uint256.Int) error
	Resolve(ctx context.Context, caller common.Address, marketID uint64, outcome bool) error
	Claim(ctx context.Context, caller common.Address, marketID uint64) (uint256.Int, error)
}

// LedgerHandler serves the signed, state-changing endpoints.
type LedgerHandler struct {
	ledger LedgerWriter
	logger *slog.Logger
}

// NewLedgerHandler creates a LedgerHandler.
func NewLedgerHandler(ledger LedgerWriter, logger *slog.Logger) *LedgerHandler {
	return &LedgerHandler{ledger: ledger, logger: logger}
}

type createMarketRequest struct {
	Question string `json:"question"`
	EndTime  int64  `json:"end_time"`
}

type stakeRequest struct {
	Amount string `json:"amount"`
}

type resolveRequest struct {
	// Outcome is true when side A won.
	Outcome *bool `json:"outcome"`
}

// caller returns the signed request's address or writes a 401.
func (h *LedgerHandler) caller(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	addr, ok := middleware.Caller(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unsigned", "request must be signed")
	}
	return addr, ok
}

// CreateMarket opens a new market. Only the authority may call it.
// POST /api/markets {"question": "...", "end_time": 1767225600}
func (h *LedgerHandler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req createMarketRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body: "+err.Error())
		return
	}

	id, err := h.ledger.CreateMarket(r.Context(), caller, req.Question, time.Unix(req.EndTime, 0).UTC())
	if err != nil {
		writeLedgerError(w, r, h.logger, "create market", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": id})
}

// Stake adds amount to the caller's stake on one side of a market.
// POST /api/markets/{id}/stake/{side} {"amount": "1000"}
func (h *LedgerHandler) Stake(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	id, err := marketIDParam(r)
	if err != nil {
		writeLedgerError(w, r, h.logger, "stake", err)
		return
	}
	side, err := domain.ParseSide(r.PathValue("side"))
	if err != nil {
		writeLedgerError(w, r, h.logger, "stake", err)
		return
	}
	var req stakeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body: "+err.Error())
		return
	}
	amount, err := uint256.FromDecimal(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_amount", "amount must be a non-negative decimal integer below 2^256")
		return
	}

	if err := h.ledger.Stake(r.Context(), caller, id, side, *amount); err != nil {
		writeLedgerError(w, r, h.logger, "stake", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"market_id":   id,
		"participant": caller.Hex(),
		"side":        side.String(),
		"amount":      amount.Dec(),
	})
}

// Resolve records a market's outcome. Only the authority may call it.
// POST /api/markets/{id}/resolve {"outcome": true}
func (h *LedgerHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	id, err := marketIDParam(r)
	if err != nil {
		writeLedgerError(w, r, h.logger, "resolve", err)
		return
	}
	var req resolveRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body: "+err.Error())
		return
	}
	if req.Outcome == nil {
		writeError(w, http.StatusBadRequest, "bad_request", "outcome is required")
		return
	}

	if err := h.ledger.Resolve(r.Context(), caller, id, *req.Outcome); err != nil {
		writeLedgerError(w, r, h.logger, "resolve", err)
		return
	}
	winner := domain.SideB
	if *req.Outcome {
		winner = domain.SideA
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"market_id": id,
		"outcome":   *req.Outcome,
		"winner":    winner.String(),
	})
}

// Claim pays the caller's reward on a resolved market.
// POST /api/markets/{id}/claim
func (h *LedgerHandler) Claim(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	id, err := marketIDParam(r)
	if err != nil {
		writeLedgerError(w, r, h.logger, "claim", err)
		return
	}

	reward, err := h.ledger.Claim(r.Context(), caller, id)
	if err != nil {
		writeLedgerError(w, r, h.logger, "claim", err)
		return
	}
	writeJSON(w, http.StatusOK, newAmountView(id, caller, reward))
}
