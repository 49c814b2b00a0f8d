// Package config defines the top-level configuration for the betledger
// service and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by BETLEDGER_* environment variables.
type Config struct {
	Ledger   LedgerConfig   `toml:"ledger"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Snapshot SnapshotConfig `toml:"snapshot"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Events   EventsConfig   `toml:"events"`
	Lease    LeaseConfig    `toml:"lease"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// LedgerConfig holds the ledger's fixed parameters.
type LedgerConfig struct {
	// Authority is the hex address allowed to create and resolve markets.
	Authority string `toml:"authority"`
	// ClaimPolicy is "irrevocable" or "atomic".
	ClaimPolicy string `toml:"claim_policy"`
}

// AuthorityAddress parses Ledger.Authority. Call Validate first.
func (c *Config) AuthorityAddress() common.Address {
	return common.HexToAddress(c.Ledger.Authority)
}

// PostgresConfig holds the journal database connection parameters. DSN, when
// set, takes precedence over the individual fields.
type PostgresConfig struct {
	DSN            string   `toml:"dsn"`
	Host           string   `toml:"host"`
	Port           int      `toml:"port"`
	Database       string   `toml:"database"`
	User           string   `toml:"user"`
	Password       string   `toml:"password"`
	SSLMode        string   `toml:"ssl_mode"`
	PoolMaxConns   int      `toml:"pool_max_conns"`
	PoolMinConns   int      `toml:"pool_min_conns"`
	RunMigrations  bool     `toml:"run_migrations"`
	ConnectTimeout duration `toml:"connect_timeout"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr           string   `toml:"addr"`
	Password       string   `toml:"password"`
	DB             int      `toml:"db"`
	PoolSize       int      `toml:"pool_size"`
	MaxRetries     int      `toml:"max_retries"`
	TLSEnabled     bool     `toml:"tls_enabled"`
	ConnectTimeout duration `toml:"connect_timeout"`
}

// S3Config holds S3-compatible object storage credentials.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// SnapshotConfig controls periodic ledger exports to object storage.
type SnapshotConfig struct {
	Enabled  bool     `toml:"enabled"`
	Interval duration `toml:"interval"`
	// Retain is the number of most recent snapshots kept. Zero keeps all.
	Retain int `toml:"retain"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// APIKey, when set, is required in the X-API-Key header of every request.
	APIKey string `toml:"api_key"`
	// SignatureSkew is how far a signed request's timestamp may drift from
	// the server clock in either direction.
	SignatureSkew duration `toml:"signature_skew"`
	// ReplayTTL is how long a used signature is remembered. It must cover
	// the whole skew window.
	ReplayTTL duration `toml:"replay_ttl"`
	// RateLimit is the number of requests allowed per client per RateWindow.
	// Zero disables rate limiting.
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
	// TrustProxyHeaders keys the rate limit on X-Forwarded-For / X-Real-IP.
	// Enable only behind a proxy that overwrites those headers.
	TrustProxyHeaders bool `toml:"trust_proxy_headers"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// EventsConfig controls event delivery to sinks.
type EventsConfig struct {
	// RetryMaxElapsed bounds how long a failing sink delivery is retried.
	RetryMaxElapsed duration `toml:"retry_max_elapsed"`
}

// LeaseConfig controls the single-writer lease held in full mode.
type LeaseConfig struct {
	Key     string   `toml:"key"`
	TTL     duration `toml:"ttl"`
	Refresh duration `toml:"refresh"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Ledger: LedgerConfig{
			ClaimPolicy: "irrevocable",
		},
		Postgres: PostgresConfig{
			Host:           "localhost",
			Port:           5432,
			Database:       "betledger",
			User:           "postgres",
			SSLMode:        "disable",
			PoolMaxConns:   10,
			PoolMinConns:   2,
			RunMigrations:  true,
			ConnectTimeout: duration{time.Minute},
		},
		Redis: RedisConfig{
			Addr:           "localhost:6379",
			PoolSize:       20,
			MaxRetries:     3,
			ConnectTimeout: duration{time.Minute},
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "betledger",
			ForcePathStyle: true,
		},
		Snapshot: SnapshotConfig{
			Enabled:  true,
			Interval: duration{time.Hour},
			Retain:   48,
		},
		Server: ServerConfig{
			Port:          8080,
			CORSOrigins:   []string{"*"},
			SignatureSkew: duration{30 * time.Second},
			ReplayTTL:     duration{2 * time.Minute},
			RateLimit:     120,
			RateWindow:    duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"market_created", "market_resolved", "reward_claimed"},
		},
		Events: EventsConfig{
			RetryMaxElapsed: duration{30 * time.Second},
		},
		Lease: LeaseConfig{
			Key:     "ledger:writer",
			TTL:     duration{15 * time.Second},
			Refresh: duration{5 * time.Second},
		},
		Mode:     "standalone",
		LogLevel: "info",
	}
}

// validModes lists all recognised operating modes.
var validModes = map[string]bool{
	"full":       true,
	"standalone": true,
	"snapshot":   true,
}

// validLogLevels lists all recognised log levels.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validClaimPolicies = map[string]bool{
	"irrevocable": true,
	"atomic":      true,
}

// Validate checks that the configuration is internally consistent and that all
// required fields for the selected mode are present. It returns an error that
// lists every problem found, not just the first.
func (c *Config) Validate() error {
	var errs []string

	mode := strings.ToLower(c.Mode)
	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: full, standalone, snapshot)", c.Mode))
	}

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Ledger. The snapshot mode only reads the journal.
	if mode != "snapshot" {
		if !common.IsHexAddress(c.Ledger.Authority) {
			errs = append(errs, fmt.Sprintf("ledger: authority %q is not a hex address", c.Ledger.Authority))
		} else if c.AuthorityAddress() == (common.Address{}) {
			errs = append(errs, "ledger: authority must not be the zero address")
		}
	}
	if !validClaimPolicies[c.Ledger.ClaimPolicy] {
		errs = append(errs, fmt.Sprintf("ledger: unknown claim_policy %q (valid: irrevocable, atomic)", c.Ledger.ClaimPolicy))
	}

	needsPostgres := mode == "full" || mode == "snapshot"
	needsRedis := mode == "full"
	needsS3 := mode == "snapshot" || (mode == "full" && c.Snapshot.Enabled)
	needsServer := mode == "full" || mode == "standalone"

	if needsPostgres {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	if needsRedis {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
		if c.Lease.Key == "" {
			errs = append(errs, "lease: key must not be empty")
		}
		if c.Lease.TTL.Duration <= 0 {
			errs = append(errs, "lease: ttl must be > 0")
		}
		if c.Lease.Refresh.Duration <= 0 || c.Lease.Refresh.Duration >= c.Lease.TTL.Duration {
			errs = append(errs, "lease: refresh must be > 0 and shorter than ttl")
		}
	}

	if needsS3 {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
		if c.Snapshot.Retain < 0 {
			errs = append(errs, "snapshot: retain must be >= 0")
		}
	}
	if mode == "full" && c.Snapshot.Enabled && c.Snapshot.Interval.Duration <= 0 {
		errs = append(errs, "snapshot: interval must be > 0 when enabled")
	}

	if needsServer {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.SignatureSkew.Duration <= 0 {
			errs = append(errs, "server: signature_skew must be > 0")
		}
		if c.Server.ReplayTTL.Duration < 2*c.Server.SignatureSkew.Duration {
			errs = append(errs, "server: replay_ttl must be at least twice signature_skew")
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be > 0 when rate_limit is set")
		}
	}

	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
