package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/betledger/internal/crypto"
	"github.com/alanyoungcy/betledger/internal/ledger"
	"github.com/alanyoungcy/betledger/internal/server/handler"
	"github.com/alanyoungcy/betledger/internal/store/memory"
)

const authorityKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeLimiter struct {
	mu    sync.Mutex
	count map[string]int
	err   error
}

func (l *fakeLimiter) Allow(_ context.Context, key string, limit int, _ time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return false, l.err
	}
	l.count[key]++
	return l.count[key] <= limit, nil
}

type testEnv struct {
	srv       *httptest.Server
	ledger    *ledger.Ledger
	clock     *fakeClock
	payouts   *memory.Payouts
	audit     *memory.AuditStore
	authority *crypto.Signer

	mu     sync.Mutex
	lastTS time.Time
}

// nextTS returns a strictly increasing millisecond timestamp so that two
// identical requests are never mistaken for a replay.
func (e *testEnv) nextTS() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	ts := time.Now().Truncate(time.Millisecond)
	if !ts.After(e.lastTS) {
		ts = e.lastTS.Add(time.Millisecond)
	}
	e.lastTS = ts
	return ts
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newEnv(t *testing.T, cfg Config, deps Deps, checks map[string]handler.HealthCheck) *testEnv {
	t.Helper()
	logger := discardLogger()

	authority, err := crypto.NewSigner(authorityKey)
	if err != nil {
		t.Fatal(err)
	}
	clock := &fakeClock{now: time.Now().UTC().Truncate(time.Second)}
	payouts := memory.NewPayouts()
	l := ledger.New(authority.Address(), memory.NewLedgerStore(), payouts,
		ledger.WithClock(clock), ledger.WithLogger(logger))

	if cfg.SignatureSkew == 0 {
		cfg.SignatureSkew = 30 * time.Second
	}
	if cfg.ReplayTTL == 0 {
		cfg.ReplayTTL = time.Minute
	}
	if deps.Guard == nil {
		deps.Guard = memory.NewReplayGuard()
	}

	audit := memory.NewAuditStore()

	s := NewServer(cfg, Handlers{
		Health:  handler.NewHealthHandler(checks, logger),
		Status:  handler.NewStatusHandler("standalone", authority.Address(), string(l.Policy()), l),
		Markets: handler.NewMarketHandler(l, clock, logger),
		Ledger:  handler.NewLedgerHandler(l, logger),
		Audit:   handler.NewAuditHandler(audit, logger),
	}, deps, nil, logger)

	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, ledger: l, clock: clock, payouts: payouts, audit: audit, authority: authority}
}

func newSigner(t *testing.T) *crypto.Signer {
	t.Helper()
	key, err := ethcrypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	s, err := crypto.NewSigner(common.Bytes2Hex(ethcrypto.FromECDSA(key)))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

// signedRequest builds a request signed by s at ts.
func (e *testEnv) signedRequest(t *testing.T, s *crypto.Signer, path string, body any, ts time.Time) *http.Request {
	t.Helper()
	var raw []byte
	if body != nil {
		var err error
		if raw, err = json.Marshal(body); err != nil {
			t.Fatal(err)
		}
	}
	millis := ts.UnixMilli()
	sig, err := s.SignRequest(http.MethodPost, path, millis, raw)
	if err != nil {
		t.Fatal(err)
	}
	req, err := http.NewRequest(http.MethodPost, e.srv.URL+path, bytes.NewReader(raw))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(crypto.HeaderAddress, s.Address().Hex())
	req.Header.Set(crypto.HeaderTimestamp, strconv.FormatInt(millis, 10))
	req.Header.Set(crypto.HeaderSignature, sig)
	return req
}

func do(t *testing.T, req *http.Request) (int, map[string]any) {
	t.Helper()
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil && !errors.Is(err, io.EOF) {
		t.Fatalf("decode response: %v", err)
	}
	return resp.StatusCode, out
}

func (e *testEnv) post(t *testing.T, s *crypto.Signer, path string, body any) (int, map[string]any) {
	t.Helper()
	return do(t, e.signedRequest(t, s, path, body, e.nextTS()))
}

func (e *testEnv) get(t *testing.T, path string) (int, map[string]any) {
	t.Helper()
	req, _ := http.NewRequest(http.MethodGet, e.srv.URL+path, nil)
	return do(t, req)
}

func wantStatus(t *testing.T, got int, body map[string]any, want int, code string) {
	t.Helper()
	if got != want {
		t.Fatalf("status: got %d, want %d (body %v)", got, want, body)
	}
	if code != "" && body["code"] != code {
		t.Fatalf("code: got %v, want %q", body["code"], code)
	}
}

func TestMarketLifecycleOverHTTP(t *testing.T) {
	e := newEnv(t, Config{}, Deps{}, nil)
	alice, bob, carol := newSigner(t), newSigner(t), newSigner(t)
	end := e.clock.Now().Add(time.Hour).Unix()

	status, body := e.post(t, e.authority, "/api/markets", map[string]any{"question": "Will it rain?", "end_time": end})
	wantStatus(t, status, body, http.StatusCreated, "")
	if body["id"] != float64(0) {
		t.Fatalf("first market id: got %v", body["id"])
	}

	for _, st := range []struct {
		who    *crypto.Signer
		side   string
		amount string
	}{
		{alice, "a", "3"},
		{carol, "a", "1"},
		{bob, "b", "4"},
	} {
		status, body := e.post(t, st.who, "/api/markets/0/stake/"+st.side, map[string]string{"amount": st.amount})
		wantStatus(t, status, body, http.StatusOK, "")
	}

	status, body = e.get(t, "/api/markets/0")
	wantStatus(t, status, body, http.StatusOK, "")
	if body["pool"] != "8" || body["total_side_a"] != "4" || body["status"] != "open" {
		t.Fatalf("market view: %v", body)
	}
	if _, ok := body["outcome"]; ok {
		t.Fatalf("unresolved market exposes outcome: %v", body)
	}

	status, body = e.post(t, e.authority, "/api/markets/0/resolve", map[string]any{"outcome": true})
	wantStatus(t, status, body, http.StatusConflict, "too_early")

	e.clock.Advance(time.Hour)
	status, body = e.post(t, alice, "/api/markets/0/stake/a", map[string]string{"amount": "1"})
	wantStatus(t, status, body, http.StatusConflict, "market_closed")

	status, body = e.post(t, e.authority, "/api/markets/0/resolve", map[string]any{"outcome": true})
	wantStatus(t, status, body, http.StatusOK, "")
	if body["winner"] != "a" {
		t.Fatalf("winner: got %v", body["winner"])
	}

	status, body = e.get(t, "/api/markets/0")
	wantStatus(t, status, body, http.StatusOK, "")
	if body["resolved"] != true || body["outcome"] != true || body["winner"] != "a" {
		t.Fatalf("resolved market view: %v", body)
	}

	status, body = e.get(t, "/api/markets/0/claimable/"+alice.Address().Hex())
	wantStatus(t, status, body, http.StatusOK, "")
	if body["amount"] != "6" {
		t.Fatalf("claimable: got %v, want 6", body["amount"])
	}

	status, body = e.post(t, alice, "/api/markets/0/claim", nil)
	wantStatus(t, status, body, http.StatusOK, "")
	if body["amount"] != "6" {
		t.Fatalf("reward: got %v, want 6", body["amount"])
	}
	if got := e.payouts.Balance(alice.Address()); got.Uint64() != 6 {
		t.Fatalf("alice balance: got %s", got.Dec())
	}

	status, body = e.post(t, alice, "/api/markets/0/claim", nil)
	wantStatus(t, status, body, http.StatusConflict, "already_claimed")

	status, body = e.post(t, bob, "/api/markets/0/claim", nil)
	wantStatus(t, status, body, http.StatusConflict, "not_a_winner")

	status, body = e.get(t, "/api/markets/0/stakes/"+alice.Address().Hex())
	wantStatus(t, status, body, http.StatusOK, "")
	if body["side_a"] != "3" || body["claimed"] != true {
		t.Fatalf("alice stakes: %v", body)
	}
}

func TestOnlyAuthorityMayCreateOrResolve(t *testing.T) {
	e := newEnv(t, Config{}, Deps{}, nil)
	mallory := newSigner(t)
	end := e.clock.Now().Add(time.Hour).Unix()

	status, body := e.post(t, mallory, "/api/markets", map[string]any{"question": "q", "end_time": end})
	wantStatus(t, status, body, http.StatusForbidden, "not_authorized")

	status, body = e.post(t, e.authority, "/api/markets", map[string]any{"question": "q", "end_time": end})
	wantStatus(t, status, body, http.StatusCreated, "")

	status, body = e.post(t, mallory, "/api/markets/0/resolve", map[string]any{"outcome": false})
	wantStatus(t, status, body, http.StatusForbidden, "not_authorized")
}

func TestRequestValidation(t *testing.T) {
	e := newEnv(t, Config{}, Deps{}, nil)
	alice := newSigner(t)
	end := e.clock.Now().Add(time.Hour).Unix()
	if status, body := e.post(t, e.authority, "/api/markets", map[string]any{"question": "q", "end_time": end}); status != http.StatusCreated {
		t.Fatalf("create: %d %v", status, body)
	}

	tests := []struct {
		name   string
		path   string
		body   any
		status int
		code   string
	}{
		{"past deadline", "/api/markets", map[string]any{"question": "q", "end_time": e.clock.Now().Unix()}, http.StatusBadRequest, "invalid_deadline"},
		{"unknown market", "/api/markets/9/stake/a", map[string]string{"amount": "1"}, http.StatusNotFound, "unknown_market"},
		{"malformed id", "/api/markets/x/stake/a", map[string]string{"amount": "1"}, http.StatusNotFound, "unknown_market"},
		{"bad side", "/api/markets/0/stake/c", map[string]string{"amount": "1"}, http.StatusBadRequest, "invalid_side"},
		{"zero amount", "/api/markets/0/stake/b", map[string]string{"amount": "0"}, http.StatusBadRequest, "zero_amount"},
		{"negative amount", "/api/markets/0/stake/b", map[string]string{"amount": "-1"}, http.StatusBadRequest, "bad_amount"},
		{"unknown field", "/api/markets/0/stake/b", map[string]string{"amount": "1", "extra": "x"}, http.StatusBadRequest, "bad_request"},
		{"missing outcome", "/api/markets/0/resolve", map[string]any{}, http.StatusBadRequest, "bad_request"},
		{"claim unresolved", "/api/markets/0/claim", nil, http.StatusConflict, "not_resolved"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			signer := alice
			if tt.path == "/api/markets" || tt.name == "missing outcome" {
				signer = e.authority
			}
			status, body := e.post(t, signer, tt.path, tt.body)
			wantStatus(t, status, body, tt.status, tt.code)
		})
	}

	status, body := e.get(t, "/api/markets/0/stakes/not-an-address")
	wantStatus(t, status, body, http.StatusBadRequest, "bad_address")
	status, body = e.get(t, "/api/markets/5/claimable/"+alice.Address().Hex())
	wantStatus(t, status, body, http.StatusNotFound, "unknown_market")
}

func TestSignatureChecks(t *testing.T) {
	e := newEnv(t, Config{SignatureSkew: 5 * time.Second}, Deps{}, nil)
	alice := newSigner(t)
	end := e.clock.Now().Add(time.Hour).Unix()
	e.post(t, e.authority, "/api/markets", map[string]any{"question": "q", "end_time": end})

	t.Run("unsigned", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodPost, e.srv.URL+"/api/markets/0/claim", nil)
		status, body := do(t, req)
		wantStatus(t, status, body, http.StatusUnauthorized, "unsigned")
	})

	t.Run("replayed", func(t *testing.T) {
		ts := time.Now()
		first := e.signedRequest(t, alice, "/api/markets/0/stake/a", map[string]string{"amount": "2"}, ts)
		second := e.signedRequest(t, alice, "/api/markets/0/stake/a", map[string]string{"amount": "2"}, ts)
		status, body := do(t, first)
		wantStatus(t, status, body, http.StatusOK, "")
		status, body = do(t, second)
		wantStatus(t, status, body, http.StatusUnauthorized, "replayed")

		pos, _ := e.ledger.Position(0, alice.Address())
		if pos.SideA.Uint64() != 2 {
			t.Fatalf("replay was applied: stake %s", pos.SideA.Dec())
		}
	})

	t.Run("stale", func(t *testing.T) {
		req := e.signedRequest(t, alice, "/api/markets/0/stake/a", map[string]string{"amount": "1"}, time.Now().Add(-time.Minute))
		status, body := do(t, req)
		wantStatus(t, status, body, http.StatusUnauthorized, "stale_request")
	})

	t.Run("tampered body", func(t *testing.T) {
		req := e.signedRequest(t, alice, "/api/markets/0/stake/a", map[string]string{"amount": "1"}, time.Now())
		req.Body = io.NopCloser(bytes.NewReader([]byte(`{"amount":"1000"}`)))
		req.ContentLength = int64(len(`{"amount":"1000"}`))
		status, body := do(t, req)
		wantStatus(t, status, body, http.StatusUnauthorized, "bad_signature")
	})

	t.Run("impersonation", func(t *testing.T) {
		req := e.signedRequest(t, alice, "/api/markets/0/resolve", map[string]any{"outcome": true}, time.Now())
		req.Header.Set(crypto.HeaderAddress, e.authority.Address().Hex())
		status, body := do(t, req)
		wantStatus(t, status, body, http.StatusUnauthorized, "bad_signature")
	})
}

func TestAPIKey(t *testing.T) {
	e := newEnv(t, Config{APIKey: "s3cret"}, Deps{}, nil)

	status, body := e.get(t, "/api/health")
	wantStatus(t, status, body, http.StatusOK, "")

	status, body = e.get(t, "/api/status")
	wantStatus(t, status, body, http.StatusUnauthorized, "unauthorized")

	req, _ := http.NewRequest(http.MethodGet, e.srv.URL+"/api/status", nil)
	req.Header.Set("X-API-Key", "s3cret")
	status, body = do(t, req)
	wantStatus(t, status, body, http.StatusOK, "")
	if body["authority"] != e.authority.Address().Hex() {
		t.Fatalf("status authority: got %v", body["authority"])
	}
}

func TestRateLimit(t *testing.T) {
	limiter := &fakeLimiter{count: map[string]int{}}
	e := newEnv(t, Config{RateLimit: 2, RateWindow: time.Minute}, Deps{Limiter: limiter}, nil)

	for i := 0; i < 2; i++ {
		status, body := e.get(t, "/api/markets")
		wantStatus(t, status, body, http.StatusOK, "")
	}
	status, body := e.get(t, "/api/markets")
	wantStatus(t, status, body, http.StatusTooManyRequests, "rate_limited")

	limiter.err = errors.New("redis down")
	status, body = e.get(t, "/api/markets")
	wantStatus(t, status, body, http.StatusOK, "")
}

func TestCORSPreflight(t *testing.T) {
	e := newEnv(t, Config{CORSOrigins: []string{"https://app.example"}}, Deps{}, nil)

	req, _ := http.NewRequest(http.MethodOptions, e.srv.URL+"/api/markets", nil)
	req.Header.Set("Origin", "https://app.example")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("preflight status: %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "https://app.example" {
		t.Fatalf("allow origin: %q", got)
	}

	req.Header.Set("Origin", "https://evil.example")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("disallowed origin got header %q", got)
	}
}

func TestHealthReportsFailingDependency(t *testing.T) {
	e := newEnv(t, Config{}, Deps{}, map[string]handler.HealthCheck{
		"postgres": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("connection refused") },
	})

	status, body := e.get(t, "/api/health")
	if status != http.StatusServiceUnavailable {
		t.Fatalf("status: got %d", status)
	}
	deps, _ := body["dependencies"].(map[string]any)
	if deps["postgres"] != "ok" || deps["redis"] != "down" {
		t.Fatalf("dependencies: %v", deps)
	}
}

func TestListMarketsPagination(t *testing.T) {
	e := newEnv(t, Config{}, Deps{}, nil)
	end := e.clock.Now().Add(time.Hour).Unix()
	for i := 0; i < 3; i++ {
		status, body := e.post(t, e.authority, "/api/markets", map[string]any{"question": "q" + strconv.Itoa(i), "end_time": end})
		wantStatus(t, status, body, http.StatusCreated, "")
	}

	status, body := e.get(t, "/api/markets?limit=2&offset=1")
	wantStatus(t, status, body, http.StatusOK, "")
	markets, _ := body["markets"].([]any)
	if len(markets) != 2 || body["total"] != float64(3) {
		t.Fatalf("page: %v", body)
	}
	first, _ := markets[0].(map[string]any)
	if first["id"] != float64(1) {
		t.Fatalf("first id on page: %v", first["id"])
	}
}

func TestAuditListing(t *testing.T) {
	e := newEnv(t, Config{}, Deps{}, nil)
	ctx := context.Background()
	for i, event := range []string{"market_created", "stake_placed", "market_resolved"} {
		if err := e.audit.Log(ctx, event, map[string]any{"id": strconv.Itoa(i)}); err != nil {
			t.Fatal(err)
		}
	}

	status, body := e.get(t, "/api/audit?limit=2")
	wantStatus(t, status, body, http.StatusOK, "")
	entries, _ := body["entries"].([]any)
	if len(entries) != 2 {
		t.Fatalf("entries: got %d, want 2 (%v)", len(entries), body)
	}
	if first := entries[0].(map[string]any); first["event"] != "market_resolved" {
		t.Errorf("newest first: got %v", first["event"])
	}

	status, body = e.get(t, "/api/audit?offset=2")
	wantStatus(t, status, body, http.StatusOK, "")
	entries, _ = body["entries"].([]any)
	if len(entries) != 1 || entries[0].(map[string]any)["event"] != "market_created" {
		t.Errorf("offset page: got %v", entries)
	}

	future := strconv.FormatInt(time.Now().Add(time.Hour).Unix(), 10)
	status, body = e.get(t, "/api/audit?since="+future)
	wantStatus(t, status, body, http.StatusOK, "")
	if entries, _ := body["entries"].([]any); len(entries) != 0 {
		t.Errorf("since in the future: got %v", entries)
	}

	status, body = e.get(t, "/api/audit?until="+url.QueryEscape(time.Now().Add(time.Hour).Format(time.RFC3339)))
	wantStatus(t, status, body, http.StatusOK, "")
	if entries, _ := body["entries"].([]any); len(entries) != 3 {
		t.Errorf("until in the future: got %d entries", len(entries))
	}

	status, body = e.get(t, "/api/audit?since=yesterday")
	wantStatus(t, status, body, http.StatusBadRequest, "bad_time")
}
