package middleware

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/betledger/internal/crypto"
	"github.com/alanyoungcy/betledger/internal/domain"
)

// MaxSignedBody caps the body of a signed request.
const MaxSignedBody = 64 << 10

type callerKey struct{}

// WithCaller returns a context carrying the verified request signer.
func WithCaller(ctx context.Context, addr common.Address) context.Context {
	return context.WithValue(ctx, callerKey{}, addr)
}

// Caller returns the address set by the Signature middleware.
func Caller(ctx context.Context) (common.Address, bool) {
	addr, ok := ctx.Value(callerKey{}).(common.Address)
	return addr, ok
}

// SignatureConfig configures the Signature middleware.
type SignatureConfig struct {
	// Skew is the accepted distance between the request timestamp and now.
	Skew time.Duration
	// ReplayTTL is how long an accepted request is remembered.
	ReplayTTL time.Duration
	Guard     domain.ReplayGuard
	Now       func() time.Time
	Logger    *slog.Logger
}

// Signature returns middleware that authenticates a request by its
// X-Ledger-* headers: the signature over method, path, timestamp and body
// hash must recover to X-Ledger-Address, the timestamp (unix milliseconds)
// must be within Skew of now, and the signed message must not have been seen
// before. On success the address is stored in the request context.
func Signature(cfg SignatureConfig) func(http.Handler) http.Handler {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			addrHex := r.Header.Get(crypto.HeaderAddress)
			tsHex := r.Header.Get(crypto.HeaderTimestamp)
			sig := r.Header.Get(crypto.HeaderSignature)
			if addrHex == "" || tsHex == "" || sig == "" {
				writeJSONError(w, http.StatusUnauthorized, "unsigned", "missing request signature headers")
				return
			}
			if !common.IsHexAddress(addrHex) {
				writeJSONError(w, http.StatusUnauthorized, "bad_signature", "malformed signer address")
				return
			}
			addr := common.HexToAddress(addrHex)

			tsMillis, err := strconv.ParseInt(tsHex, 10, 64)
			if err != nil {
				writeJSONError(w, http.StatusUnauthorized, "bad_signature", "malformed timestamp")
				return
			}
			if d := now().Sub(time.UnixMilli(tsMillis)).Abs(); d > cfg.Skew {
				writeJSONError(w, http.StatusUnauthorized, "stale_request", "request timestamp outside the accepted window")
				return
			}

			body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxSignedBody))
			if err != nil {
				var tooLarge *http.MaxBytesError
				if errors.As(err, &tooLarge) {
					writeJSONError(w, http.StatusRequestEntityTooLarge, "body_too_large", "request body too large")
					return
				}
				writeJSONError(w, http.StatusBadRequest, "bad_request", "unreadable request body")
				return
			}

			if err := crypto.VerifyRequest(addr, r.Method, r.URL.Path, tsMillis, body, sig); err != nil {
				logger.WarnContext(r.Context(), "signature rejected",
					slog.String("address", addr.Hex()),
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()),
				)
				writeJSONError(w, http.StatusUnauthorized, "bad_signature", "signature does not match signer")
				return
			}

			// Keyed on the signed message, not the signature bytes, so a
			// re-encoded signature of the same request is still a replay.
			key := "sig:" + strings.ToLower(addr.Hex()) + ":" +
				ethcrypto.Keccak256Hash(crypto.RequestMessage(r.Method, r.URL.Path, tsMillis, body)).Hex()
			seen, err := cfg.Guard.Seen(r.Context(), key, cfg.ReplayTTL)
			if err != nil {
				logger.ErrorContext(r.Context(), "replay guard unavailable",
					slog.String("error", err.Error()),
				)
				writeJSONError(w, http.StatusServiceUnavailable, "unavailable", "cannot verify request freshness")
				return
			}
			if seen {
				writeJSONError(w, http.StatusUnauthorized, "replayed", domain.ErrReplayed.Error())
				return
			}

			noteSigner(r.Context(), addr)
			r.Body = io.NopCloser(bytes.NewReader(body))
			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), addr)))
		})
	}
}
