// Package client is a Go client for the ledger HTTP API. Mutating calls are
// signed with the participant's key; errors the server reports for ledger
// rule violations match the domain sentinels under errors.Is.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/betledger/internal/crypto"
	"github.com/alanyoungcy/betledger/internal/domain"
)

// codeErrors maps the API's stable error codes back to domain sentinels.
var codeErrors = map[string]error{
	"not_authorized":   domain.ErrNotAuthorized,
	"invalid_deadline": domain.ErrInvalidDeadline,
	"unknown_market":   domain.ErrUnknownMarket,
	"market_closed":    domain.ErrMarketClosed,
	"zero_amount":      domain.ErrZeroAmount,
	"too_early":        domain.ErrTooEarly,
	"already_resolved": domain.ErrAlreadyResolved,
	"not_resolved":     domain.ErrNotResolved,
	"already_claimed":  domain.ErrAlreadyClaimed,
	"not_a_winner":     domain.ErrNotAWinner,
	"transfer_failed":  domain.ErrTransferFailed,
	"amount_overflow":  domain.ErrAmountOverflow,
	"invalid_side":     domain.ErrInvalidSide,
	"unauthorized":     domain.ErrUnauthorized,
	"unsigned":         domain.ErrUnauthorized,
	"bad_signature":    domain.ErrBadSignature,
	"stale_request":    domain.ErrBadSignature,
	"replayed":         domain.ErrReplayed,
}

// APIError is a non-2xx response from the ledger API.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("ledger api: HTTP %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("ledger api: HTTP %d %s: %s", e.Status, e.Code, e.Message)
}

// Is lets errors.Is match an APIError against the domain sentinel its code
// stands for.
func (e *APIError) Is(target error) bool {
	if sentinel, ok := codeErrors[e.Code]; ok && sentinel == target {
		return true
	}
	return e.Status == http.StatusNotFound && target == domain.ErrNotFound
}

// Client talks to a ledger server.
type Client struct {
	baseURL    string
	httpClient *http.Client
	signer     *crypto.Signer
	apiKey     string
	now        func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithSigner sets the key used to sign mutating requests.
func WithSigner(s *crypto.Signer) Option {
	return func(c *Client) { c.signer = s }
}

// WithAPIKey sends key in the X-API-Key header.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New creates a Client for the server at baseURL, e.g.
// "http://localhost:8080".
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateMarket opens a market. The signer must be the ledger authority.
func (c *Client) CreateMarket(ctx context.Context, question string, endTime time.Time) (uint64, error) {
	var out struct {
		ID uint64 `json:"id"`
	}
	body := map[string]any{"question": question, "end_time": endTime.Unix()}
	if err := c.doSigned(ctx, "/api/markets", body, &out); err != nil {
		return 0, fmt.Errorf("client: create market: %w", err)
	}
	return out.ID, nil
}

// Stake adds amount to the signer's stake on side.
func (c *Client) Stake(ctx context.Context, marketID uint64, side domain.Side, amount uint256.Int) error {
	if !side.Valid() {
		return fmt.Errorf("client: stake: %w", domain.ErrInvalidSide)
	}
	path := fmt.Sprintf("/api/markets/%d/stake/%s", marketID, side)
	if err := c.doSigned(ctx, path, map[string]string{"amount": amount.Dec()}, nil); err != nil {
		return fmt.Errorf("client: stake on market %d: %w", marketID, err)
	}
	return nil
}

// Resolve records the outcome; true means side A won.
func (c *Client) Resolve(ctx context.Context, marketID uint64, outcome bool) error {
	path := fmt.Sprintf("/api/markets/%d/resolve", marketID)
	if err := c.doSigned(ctx, path, map[string]bool{"outcome": outcome}, nil); err != nil {
		return fmt.Errorf("client: resolve market %d: %w", marketID, err)
	}
	return nil
}

// Claim collects the signer's reward and returns the amount paid.
func (c *Client) Claim(ctx context.Context, marketID uint64) (uint256.Int, error) {
	var out APIAmount
	path := fmt.Sprintf("/api/markets/%d/claim", marketID)
	if err := c.doSigned(ctx, path, nil, &out); err != nil {
		return uint256.Int{}, fmt.Errorf("client: claim market %d: %w", marketID, err)
	}
	return out.value()
}

// Market fetches one market.
func (c *Client) Market(ctx context.Context, marketID uint64) (domain.Market, error) {
	var out APIMarket
	if err := c.get(ctx, fmt.Sprintf("/api/markets/%d", marketID), &out); err != nil {
		return domain.Market{}, fmt.Errorf("client: get market %d: %w", marketID, err)
	}
	return out.ToDomainMarket()
}

// Markets lists markets in id order and returns the total count.
func (c *Client) Markets(ctx context.Context, limit, offset int) ([]domain.Market, int, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))

	var out struct {
		Markets []APIMarket `json:"markets"`
		Total   int         `json:"total"`
	}
	if err := c.get(ctx, "/api/markets?"+q.Encode(), &out); err != nil {
		return nil, 0, fmt.Errorf("client: list markets: %w", err)
	}
	markets := make([]domain.Market, 0, len(out.Markets))
	for _, m := range out.Markets {
		dm, err := m.ToDomainMarket()
		if err != nil {
			return nil, 0, fmt.Errorf("client: list markets: %w", err)
		}
		markets = append(markets, dm)
	}
	return markets, out.Total, nil
}

// Stakes returns addr's stakes on a market.
func (c *Client) Stakes(ctx context.Context, marketID uint64, addr common.Address) (domain.Position, error) {
	var out APIPosition
	if err := c.get(ctx, fmt.Sprintf("/api/markets/%d/stakes/%s", marketID, addr.Hex()), &out); err != nil {
		return domain.Position{}, fmt.Errorf("client: get stakes: %w", err)
	}
	return out.ToDomainPosition()
}

// Claimable returns what addr could claim on a market right now.
func (c *Client) Claimable(ctx context.Context, marketID uint64, addr common.Address) (uint256.Int, error) {
	var out APIAmount
	if err := c.get(ctx, fmt.Sprintf("/api/markets/%d/claimable/%s", marketID, addr.Hex()), &out); err != nil {
		return uint256.Int{}, fmt.Errorf("client: get claimable: %w", err)
	}
	return out.value()
}

// Audit lists audit entries newest first. Nil bounds are left open.
func (c *Client) Audit(ctx context.Context, limit, offset int, since, until *time.Time) ([]APIAuditEntry, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))
	if since != nil {
		q.Set("since", since.UTC().Format(time.RFC3339Nano))
	}
	if until != nil {
		q.Set("until", until.UTC().Format(time.RFC3339Nano))
	}

	var out struct {
		Entries []APIAuditEntry `json:"entries"`
	}
	if err := c.get(ctx, "/api/audit?"+q.Encode(), &out); err != nil {
		return nil, fmt.Errorf("client: list audit: %w", err)
	}
	return out.Entries, nil
}

// Status fetches the service status.
func (c *Client) Status(ctx context.Context) (Status, error) {
	var out Status
	if err := c.get(ctx, "/api/status", &out); err != nil {
		return Status{}, fmt.Errorf("client: status: %w", err)
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	return c.do(req, out)
}

// doSigned POSTs body to path with X-Ledger-* signature headers.
func (c *Client) doSigned(ctx context.Context, path string, body, out any) error {
	if c.signer == nil {
		return errors.New("no signing key configured")
	}

	var raw []byte
	if body != nil {
		var err error
		if raw, err = json.Marshal(body); err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
	}

	ts := c.now().UnixMilli()
	sig, err := c.signer.SignRequest(http.MethodPost, path, ts, raw)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(crypto.HeaderAddress, c.signer.Address().Hex())
	req.Header.Set(crypto.HeaderTimestamp, strconv.FormatInt(ts, 10))
	req.Header.Set(crypto.HeaderSignature, sig)
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
		var body struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		if json.Unmarshal(respBody, &body) == nil && body.Error != "" {
			apiErr.Code = body.Code
			apiErr.Message = body.Error
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
