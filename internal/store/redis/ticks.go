package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bytedance/sonic"
	goredis "github.com/go-redis/redis/v8"

	"github.com/skyi28/ML-Trader/internal/model"
)

const (
	tickKeyPrefix  = "tick:"
	defaultTickTTL = 10 * time.Minute
)

// Config configures the Redis tick cache.
type Config struct {
	Addr         string // e.g. "localhost:6379"
	Password     string
	DB           int
	TickTTL      time.Duration // live row expiry; default 10m
	MaxFailures  int           // breaker threshold; default 5
	ResetTimeout time.Duration // breaker cool-down; default 10s
}

// TickCache keeps the live tick row per instrument in Redis. Calls go through
// a circuit breaker; while Redis is failing, reads and writes are served by
// the fallback store when one is configured.
type TickCache struct {
	client   *goredis.Client
	cb       *CircuitBreaker
	fallback model.TickStore
	ttl      time.Duration
	log      *slog.Logger
}

// Dial connects to Redis, pings it and returns a TickCache.
func Dial(ctx context.Context, cfg Config, fallback model.TickStore, log *slog.Logger) (*TickCache, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Info("redis connected", "addr", cfg.Addr)
	return NewTickCache(client, cfg, fallback, log), nil
}

// NewTickCache wraps an existing client.
func NewTickCache(client *goredis.Client, cfg Config, fallback model.TickStore, log *slog.Logger) *TickCache {
	ttl := cfg.TickTTL
	if ttl <= 0 {
		ttl = defaultTickTTL
	}
	maxFailures := cfg.MaxFailures
	if maxFailures <= 0 {
		maxFailures = 5
	}
	reset := cfg.ResetTimeout
	if reset <= 0 {
		reset = 10 * time.Second
	}
	return &TickCache{
		client:   client,
		cb:       NewCircuitBreaker(maxFailures, reset),
		fallback: fallback,
		ttl:      ttl,
		log:      log,
	}
}

// Client returns the underlying Redis client for health checks.
func (c *TickCache) Client() *goredis.Client { return c.client }

// Breaker exposes the circuit breaker so callers can observe transitions.
func (c *TickCache) Breaker() *CircuitBreaker { return c.cb }

// UpsertTick replaces the live row for the tick's instrument.
func (c *TickCache) UpsertTick(ctx context.Context, t model.Tick) error {
	data, err := sonic.Marshal(t)
	if err != nil {
		return fmt.Errorf("redis encode tick: %w", err)
	}
	err = c.cb.Execute(func() error {
		return c.client.Set(ctx, tickKeyPrefix+t.Instrument, data, c.ttl).Err()
	})
	if err == nil {
		return nil
	}
	if c.fallback == nil {
		return fmt.Errorf("redis upsert tick %s: %w", t.Instrument, err)
	}
	c.log.Warn("redis tick write failed, using fallback", "instrument", t.Instrument, "error", err)
	return c.fallback.UpsertTick(ctx, t)
}

// Tick returns the live row. A cache miss is model.ErrNotFound and is not
// served from the fallback; only Redis failures are.
func (c *TickCache) Tick(ctx context.Context, instrument string) (*model.Tick, error) {
	var data []byte
	err := c.cb.Execute(func() error {
		var err error
		data, err = c.client.Get(ctx, tickKeyPrefix+instrument).Bytes()
		return err
	}, isNil)

	switch {
	case err == nil:
		var t model.Tick
		if err := sonic.Unmarshal(data, &t); err != nil {
			return nil, fmt.Errorf("redis decode tick %s: %w", instrument, err)
		}
		return &t, nil
	case isNil(err):
		return nil, fmt.Errorf("redis tick %s: %w", instrument, model.ErrNotFound)
	case c.fallback != nil:
		c.log.Warn("redis tick read failed, using fallback", "instrument", instrument, "error", err)
		return c.fallback.Tick(ctx, instrument)
	default:
		return nil, fmt.Errorf("redis tick %s: %w", instrument, err)
	}
}

// Close releases the client.
func (c *TickCache) Close() error {
	return c.client.Close()
}

func isNil(err error) bool { return errors.Is(err, goredis.Nil) }
