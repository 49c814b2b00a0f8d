package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

func TestAuthAcceptsBearerAndHeader(t *testing.T) {
	h := Auth("k3y", "/open")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	tests := []struct {
		name   string
		path   string
		header map[string]string
		want   int
	}{
		{"open path", "/open", nil, http.StatusTeapot},
		{"missing", "/x", nil, http.StatusUnauthorized},
		{"bearer", "/x", map[string]string{"Authorization": "Bearer k3y"}, http.StatusTeapot},
		{"lowercase scheme", "/x", map[string]string{"Authorization": "bearer k3y"}, http.StatusTeapot},
		{"header", "/x", map[string]string{APIKeyHeader: " k3y "}, http.StatusTeapot},
		{"wrong", "/x", map[string]string{APIKeyHeader: "nope"}, http.StatusUnauthorized},
		{"basic scheme falls back", "/x", map[string]string{"Authorization": "Basic k3y", APIKeyHeader: "k3y"}, http.StatusTeapot},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestAuthDisabled(t *testing.T) {
	h := Auth("")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestLoggingRecordsSigner(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	signer := common.HexToAddress("0x00000000000000000000000000000000000000a1")

	h := Logging(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		noteSigner(r.Context(), signer)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("ok"))
	}))
	req := httptest.NewRequest(http.MethodPost, "/api/markets", nil)
	req.Header.Set(RequestIDHeader, "req-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get(RequestIDHeader); got != "req-1" {
		t.Fatalf("request id echoed as %q", got)
	}
	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("log line: %v (%s)", err, buf.String())
	}
	if line["signer"] != signer.Hex() || line["status"] != float64(http.StatusCreated) || line["bytes"] != float64(2) {
		t.Fatalf("log line = %v", line)
	}
	if line["level"] != "INFO" {
		t.Fatalf("level = %v", line["level"])
	}
}

func TestLoggingGeneratesRequestID(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	h := Logging(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	if len(rec.Header().Get(RequestIDHeader)) != 36 {
		t.Fatalf("generated id = %q", rec.Header().Get(RequestIDHeader))
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name   string
		trust  bool
		header map[string]string
		remote string
		want   string
	}{
		{"forwarded trusted", true, map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.1"}, "10.0.0.2:5000", "203.0.113.7"},
		{"real ip trusted", true, map[string]string{"X-Real-IP": "198.51.100.4"}, "10.0.0.2:5000", "198.51.100.4"},
		{"forwarded ignored", false, map[string]string{"X-Forwarded-For": "203.0.113.7"}, "10.0.0.2:5000", "10.0.0.2"},
		{"real ip ignored", false, map[string]string{"X-Real-IP": "198.51.100.4"}, "10.0.0.2:5000", "10.0.0.2"},
		{"remote", false, nil, "192.0.2.9:4242", "192.0.2.9"},
		{"remote without port", true, nil, "192.0.2.9", "192.0.2.9"},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = tt.remote
		for k, v := range tt.header {
			req.Header.Set(k, v)
		}
		if got := clientIP(req, tt.trust); got != tt.want {
			t.Errorf("%s: clientIP = %q, want %q", tt.name, got, tt.want)
		}
	}
}

type countingLimiter struct {
	seen map[string]int
}

func (l *countingLimiter) Allow(_ context.Context, key string, limit int, _ time.Duration) (bool, error) {
	l.seen[key]++
	return l.seen[key] <= limit, nil
}

func TestRateLimitIgnoresRotatingForwardedFor(t *testing.T) {
	limiter := &countingLimiter{seen: map[string]int{}}
	h := RateLimit(limiter, RateLimitConfig{Limit: 2, Window: time.Minute}, slog.New(slog.NewTextHandler(io.Discard, nil)))(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	codes := make([]int, 0, 3)
	for i := range 3 {
		req := httptest.NewRequest(http.MethodGet, "/api/markets", nil)
		req.RemoteAddr = "192.0.2.9:4242"
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("203.0.113.%d", i))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	if codes[2] != http.StatusTooManyRequests {
		t.Fatalf("statuses = %v, want the third request limited", codes)
	}
	if len(limiter.seen) != 1 || limiter.seen["ip:192.0.2.9"] != 3 {
		t.Fatalf("limiter keys = %v", limiter.seen)
	}
}
