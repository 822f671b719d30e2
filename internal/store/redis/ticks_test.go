package redis

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"github.com/skyi28/ML-Trader/internal/model"
)

type memTicks struct {
	mu    sync.Mutex
	ticks map[string]model.Tick
}

func (m *memTicks) UpsertTick(_ context.Context, t model.Tick) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ticks == nil {
		m.ticks = map[string]model.Tick{}
	}
	m.ticks[t.Instrument] = t
	return nil
}

func (m *memTicks) Tick(_ context.Context, instrument string) (*model.Tick, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.ticks[instrument]
	if !ok {
		return nil, model.ErrNotFound
	}
	return &t, nil
}

// unreachableClient points at a port nothing listens on.
func unreachableClient() *goredis.Client {
	return goredis.NewClient(&goredis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
}

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestTickCache_FallbackWhenRedisDown(t *testing.T) {
	ctx := context.Background()
	fb := &memTicks{}
	c := NewTickCache(unreachableClient(), Config{MaxFailures: 2, ResetTimeout: time.Hour}, fb, quietLogger())
	defer c.Close()

	tick := model.Tick{Instrument: "BTCUSD", LastPrice: 42000, ObservedAt: time.Now().UTC()}
	for i := 0; i < 3; i++ {
		if err := c.UpsertTick(ctx, tick); err != nil {
			t.Fatalf("UpsertTick #%d: %v", i, err)
		}
	}
	if c.Breaker().CurrentState() != StateOpen {
		t.Errorf("breaker = %v, want open", c.Breaker().CurrentState())
	}

	got, err := c.Tick(ctx, "BTCUSD")
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if got.LastPrice != 42000 {
		t.Errorf("LastPrice = %v, want 42000", got.LastPrice)
	}
}

func TestTickCache_NoFallbackSurfacesError(t *testing.T) {
	c := NewTickCache(unreachableClient(), Config{}, nil, quietLogger())
	defer c.Close()

	err := c.UpsertTick(context.Background(), model.Tick{Instrument: "BTCUSD"})
	if err == nil {
		t.Fatal("expected error without fallback")
	}
	if errors.Is(err, model.ErrNotFound) {
		t.Errorf("connection failure reported as not found: %v", err)
	}
}
