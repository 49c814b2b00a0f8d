package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/betledger/internal/domain"
)

// maxBodyBytes caps request bodies. Ledger requests are a few small fields.
const maxBodyBytes = 64 << 10

// errorResponse is the body of every non-2xx response.
type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error","code":"internal"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, Code: code})
}

// ledgerErrors maps ledger sentinels to HTTP status and a stable code. The
// first match wins, so TransferFailed precedes anything the transfer error
// might itself wrap.
var ledgerErrors = []struct {
	err    error
	status int
	code   string
}{
	{domain.ErrTransferFailed, http.StatusBadGateway, "transfer_failed"},
	{domain.ErrNotAuthorized, http.StatusForbidden, "not_authorized"},
	{domain.ErrUnknownMarket, http.StatusNotFound, "unknown_market"},
	{domain.ErrInvalidDeadline, http.StatusBadRequest, "invalid_deadline"},
	{domain.ErrZeroAmount, http.StatusBadRequest, "zero_amount"},
	{domain.ErrAmountOverflow, http.StatusBadRequest, "amount_overflow"},
	{domain.ErrInvalidSide, http.StatusBadRequest, "invalid_side"},
	{domain.ErrMarketClosed, http.StatusConflict, "market_closed"},
	{domain.ErrTooEarly, http.StatusConflict, "too_early"},
	{domain.ErrAlreadyResolved, http.StatusConflict, "already_resolved"},
	{domain.ErrNotResolved, http.StatusConflict, "not_resolved"},
	{domain.ErrAlreadyClaimed, http.StatusConflict, "already_claimed"},
	{domain.ErrNotAWinner, http.StatusConflict, "not_a_winner"},
}

// writeLedgerError maps err onto the ledger error table. Anything else is
// logged and reported as a 500 without detail.
func writeLedgerError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, op string, err error) {
	for _, le := range ledgerErrors {
		if errors.Is(err, le.err) {
			if le.status >= http.StatusInternalServerError {
				logger.ErrorContext(r.Context(), "handler: "+op+" failed",
					slog.String("error", err.Error()),
				)
			}
			writeJSON(w, le.status, errorResponse{Error: le.err.Error(), Code: le.code})
			return
		}
	}
	logger.ErrorContext(r.Context(), "handler: "+op+" failed",
		slog.String("error", err.Error()),
	)
	writeError(w, http.StatusInternalServerError, "internal", "internal error")
}

// parseListOpts extracts standard pagination parameters from the query string.
// Defaults: limit=50 (max 500), offset=0.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	return domain.ListOpts{
		Limit:  limit,
		Offset: offset,
	}
}

// marketIDParam parses the {id} path parameter. A malformed id can name no
// market, so it reports ErrUnknownMarket.
func marketIDParam(r *http.Request) (uint64, error) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", domain.ErrUnknownMarket, r.PathValue("id"))
	}
	return id, nil
}

// addressParam parses the {address} path parameter.
func addressParam(r *http.Request) (common.Address, bool) {
	v := r.PathValue("address")
	if !common.IsHexAddress(v) {
		return common.Address{}, false
	}
	return common.HexToAddress(v), true
}

// decodeBody decodes a JSON request body into v, rejecting unknown fields.
// An empty body leaves v untouched.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
