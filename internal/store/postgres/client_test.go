package postgres

import (
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/holiman/uint256"
)

func TestDSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  ClientConfig
		want string
	}{
		{
			name: "explicit dsn wins",
			cfg:  ClientConfig{DSN: "postgres://x@y/z", Host: "ignored"},
			want: "postgres://x@y/z",
		},
		{
			name: "defaults",
			cfg:  ClientConfig{Host: "db", Database: "ledger", User: "u", Password: "p"},
			want: "postgres://u:p@db:5432/ledger?sslmode=disable",
		},
		{
			name: "custom port and ssl",
			cfg:  ClientConfig{Host: "db", Port: 6543, Database: "ledger", User: "u", Password: "p", SSLMode: "require"},
			want: "postgres://u:p@db:6543/ledger?sslmode=require",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DSN(tt.cfg); got != tt.want {
				t.Errorf("DSN() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestConnectRejectsMalformedDSN(t *testing.T) {
	_, err := Connect(context.Background(), ClientConfig{DSN: "postgres://%zz"}, slog.Default())
	if err == nil || !strings.Contains(err.Error(), "parse config") {
		t.Fatalf("err = %v, want parse config error", err)
	}
}

func TestMigrationNamesSorted(t *testing.T) {
	names, err := migrationNames()
	if err != nil {
		t.Fatal(err)
	}
	if len(names) == 0 || names[0] != "001_ledger.sql" {
		t.Fatalf("names = %v", names)
	}
	for i := 1; i < len(names); i++ {
		if names[i-1] >= names[i] {
			t.Errorf("migrations out of order: %v", names)
		}
	}
}

func TestParseAmount(t *testing.T) {
	max := new(uint256.Int).SetAllOne()
	got, err := parseAmount(max.Dec())
	if err != nil || got != *max {
		t.Fatalf("parseAmount(max) = %s, %v", got.Dec(), err)
	}
	if _, err := parseAmount("-1"); err == nil {
		t.Error("expected error for negative amount")
	}
	if _, err := parseAmount("1.5"); err == nil {
		t.Error("expected error for fractional amount")
	}
}
