package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies BETLEDGER_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after
// Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known BETLEDGER_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Ledger ──
	setStr(&cfg.Ledger.Authority, "BETLEDGER_LEDGER_AUTHORITY")
	setStr(&cfg.Ledger.ClaimPolicy, "BETLEDGER_LEDGER_CLAIM_POLICY")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "BETLEDGER_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // platform alias
	setStr(&cfg.Postgres.Host, "BETLEDGER_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "BETLEDGER_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "BETLEDGER_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "BETLEDGER_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "BETLEDGER_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "BETLEDGER_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "BETLEDGER_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "BETLEDGER_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "BETLEDGER_POSTGRES_RUN_MIGRATIONS")
	setDuration(&cfg.Postgres.ConnectTimeout, "BETLEDGER_POSTGRES_CONNECT_TIMEOUT")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "BETLEDGER_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "BETLEDGER_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "BETLEDGER_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "BETLEDGER_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "BETLEDGER_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "BETLEDGER_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.ConnectTimeout, "BETLEDGER_REDIS_CONNECT_TIMEOUT")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "BETLEDGER_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "BETLEDGER_S3_REGION")
	setStr(&cfg.S3.Bucket, "BETLEDGER_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "BETLEDGER_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "BETLEDGER_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "BETLEDGER_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "BETLEDGER_S3_FORCE_PATH_STYLE")

	// ── Snapshot ──
	setBool(&cfg.Snapshot.Enabled, "BETLEDGER_SNAPSHOT_ENABLED")
	setDuration(&cfg.Snapshot.Interval, "BETLEDGER_SNAPSHOT_INTERVAL")
	setInt(&cfg.Snapshot.Retain, "BETLEDGER_SNAPSHOT_RETAIN")

	// ── Server ──
	setInt(&cfg.Server.Port, "BETLEDGER_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "BETLEDGER_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "BETLEDGER_SERVER_API_KEY")
	setDuration(&cfg.Server.SignatureSkew, "BETLEDGER_SERVER_SIGNATURE_SKEW")
	setDuration(&cfg.Server.ReplayTTL, "BETLEDGER_SERVER_REPLAY_TTL")
	setInt(&cfg.Server.RateLimit, "BETLEDGER_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "BETLEDGER_SERVER_RATE_WINDOW")
	setBool(&cfg.Server.TrustProxyHeaders, "BETLEDGER_SERVER_TRUST_PROXY_HEADERS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "BETLEDGER_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "BETLEDGER_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "BETLEDGER_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "BETLEDGER_NOTIFY_EVENTS")

	// ── Events ──
	setDuration(&cfg.Events.RetryMaxElapsed, "BETLEDGER_EVENTS_RETRY_MAX_ELAPSED")

	// ── Lease ──
	setStr(&cfg.Lease.Key, "BETLEDGER_LEASE_KEY")
	setDuration(&cfg.Lease.TTL, "BETLEDGER_LEASE_TTL")
	setDuration(&cfg.Lease.Refresh, "BETLEDGER_LEASE_REFRESH")

	// ── Top-level ──
	setStr(&cfg.Mode, "BETLEDGER_MODE")
	setStr(&cfg.LogLevel, "BETLEDGER_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
