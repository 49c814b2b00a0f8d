package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
)

// APIKeyHeader is the alternative to an Authorization bearer token.
const APIKeyHeader = "X-API-Key"

// Auth gates every route except the given open paths behind a shared API
// key. An empty apiKey disables the gate. The key is an operator-level
// control and is independent of request signatures.
func Auth(apiKey string, openPaths ...string) func(http.Handler) http.Handler {
	open := make(map[string]bool, len(openPaths))
	for _, p := range openPaths {
		open[p] = true
	}
	want := []byte(apiKey)

	return func(next http.Handler) http.Handler {
		if apiKey == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if open[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}
			got, ok := presentedKey(r)
			switch {
			case !ok:
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "missing API key")
			case subtle.ConstantTimeCompare([]byte(got), want) != 1:
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "invalid API key")
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}

// presentedKey reads a Bearer token, falling back to X-API-Key.
func presentedKey(r *http.Request) (string, bool) {
	if scheme, token, found := strings.Cut(r.Header.Get("Authorization"), " "); found && strings.EqualFold(scheme, "Bearer") {
		if token = strings.TrimSpace(token); token != "" {
			return token, true
		}
	}
	if key := strings.TrimSpace(r.Header.Get(APIKeyHeader)); key != "" {
		return key, true
	}
	return "", false
}

// writeJSONError sends {"error": msg, "code": code} with the given status.
func writeJSONError(w http.ResponseWriter, status int, code, msg string) {
	body, _ := json.Marshal(map[string]string{"error": msg, "code": code})
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
