// Package redis implements the ledger's coordination services (event bus,
// writer lease, replay guard, rate limiting and market projection) using
// go-redis/v9.
package redis

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
)

// ClientConfig holds connection parameters for the Redis client.
type ClientConfig struct {
	Addr       string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
	TLSEnabled bool

	// ConnectTimeout bounds the total time Connect keeps retrying.
	ConnectTimeout time.Duration
}

// Client wraps a go-redis Client and provides connectivity helpers.
type Client struct {
	rdb *redis.Client
}

// New creates a new Redis Client and pings it to verify connectivity.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	opts := &redis.Options{
		Addr:       cfg.Addr,
		Password:   cfg.Password,
		DB:         cfg.DB,
		PoolSize:   cfg.PoolSize,
		MaxRetries: cfg.MaxRetries,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return &Client{rdb: rdb}, nil
}

// Connect retries New with exponential backoff until it succeeds, ctx ends or
// cfg.ConnectTimeout elapses.
func Connect(ctx context.Context, cfg ClientConfig, logger *slog.Logger) (*Client, error) {
	b := backoff.NewExponentialBackOff()
	if cfg.ConnectTimeout > 0 {
		b.MaxElapsedTime = cfg.ConnectTimeout
	}

	var c *Client
	err := backoff.RetryNotify(
		func() (err error) {
			c, err = New(ctx, cfg)
			return err
		},
		backoff.WithContext(b, ctx),
		func(err error, d time.Duration) {
			logger.WarnContext(ctx, "redis unavailable, retrying",
				slog.String("addr", cfg.Addr),
				slog.String("error", err.Error()),
				slog.Duration("retry_in", d),
			)
		},
	)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Ping checks the Redis connection.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: ping: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Underlying returns the raw *redis.Client.
func (c *Client) Underlying() *redis.Client {
	return c.rdb
}
