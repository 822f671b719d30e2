package postgres

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/skyi28/ML-Trader/internal/model"
)

// openTestStore connects to POSTGRES_TEST_DSN and truncates both tables.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set")
	}
	ctx := context.Background()
	s, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := s.pool.Exec(ctx, `TRUNCATE trades, bots RESTART IDENTITY`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func TestBotLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.CreateBot(ctx, model.Bot{
		Owner: "alice", Instrument: "BTCUSD", ModelKind: "threshold",
		Indicators: []string{"rsi"}, Hyperparameters: map[string]float64{"threshold": 50},
		Money: 1000,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if id != 1 {
		t.Errorf("id = %d, want 1", id)
	}

	if err := s.SetRunning(ctx, id, true); err != nil {
		t.Fatalf("start: %v", err)
	}
	running, err := s.RunningBots(ctx)
	if err != nil || len(running) != 1 {
		t.Fatalf("running = %v, %v", running, err)
	}
	b := running[0]
	if b.Position != model.PositionNeutral || b.Hyperparameters["threshold"] != 50 || b.Indicators[0] != "rsi" {
		t.Errorf("bot = %+v", b)
	}
	if !b.LastTrainedAt.IsZero() {
		t.Errorf("last trained = %v, want zero", b.LastTrainedAt)
	}

	if err := s.SetRunning(ctx, 99, true); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("missing bot err = %v", err)
	}
}

func TestClosePositionAppendsTrade(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, _ := s.CreateBot(ctx, model.Bot{Owner: "bob", Instrument: "BTCUSD", ModelKind: "threshold", Money: 1000})
	if err := s.OpenPosition(ctx, id, model.PositionLong, 100); err != nil {
		t.Fatalf("open: %v", err)
	}

	tradeID, err := s.ClosePosition(ctx, model.CloseRequest{
		BotID: id, NextPosition: model.PositionShort, NextEntry: 90,
		Trade: model.Trade{
			Owner: "bob", TS: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), Instrument: "BTCUSD",
			Side: model.SideLong, EntryPrice: 100, ClosePrice: 90, MoneyAfter: 899, ProfitRel: -0.101,
		},
	})
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if tradeID != 1 {
		t.Errorf("trade id = %d, want 1", tradeID)
	}

	b, _ := s.Bot(ctx, id)
	if b.Money != 899 || b.Position != model.PositionShort || b.EntryPrice != 90 {
		t.Errorf("bot after close = %+v", b)
	}
	if n, _ := s.TradeCount(ctx, id); n != 1 {
		t.Errorf("trade count = %d, want 1", n)
	}

	if _, err := s.ClosePosition(ctx, model.CloseRequest{BotID: 42}); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("close missing bot err = %v", err)
	}

	if err := s.DeleteBot(ctx, id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if n, _ := s.TradeCount(ctx, id); n != 0 {
		t.Errorf("trades after delete = %d, want 0", n)
	}
}
