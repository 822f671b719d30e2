package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/skyi28/ML-Trader/internal/model"
)

// UpsertTick replaces the live quote row for the tick's instrument.
func (s *Store) UpsertTick(ctx context.Context, t model.Tick) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO ticks (instrument, observed_at, last_price, bid_price, ask_price, bid_size, ask_size, change_24h)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, t.Instrument, t.ObservedAt.UnixMilli(), t.LastPrice, t.BidPrice, t.AskPrice, t.BidSize, t.AskSize, t.Change24h)
	if err != nil {
		return fmt.Errorf("sqlite upsert tick %s: %w", t.Instrument, err)
	}
	if n, err := res.RowsAffected(); err != nil || n == 0 {
		return fmt.Errorf("sqlite upsert tick %s: no row written (err=%v)", t.Instrument, err)
	}
	return nil
}

// Tick returns the live quote row, or model.ErrNotFound.
func (s *Store) Tick(ctx context.Context, instrument string) (*model.Tick, error) {
	var (
		t  model.Tick
		ms int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT instrument, observed_at, last_price, bid_price, ask_price, bid_size, ask_size, change_24h
		FROM ticks WHERE instrument = ?
	`, instrument).Scan(&t.Instrument, &ms, &t.LastPrice, &t.BidPrice, &t.AskPrice, &t.BidSize, &t.AskSize, &t.Change24h)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("sqlite tick %s: %w", instrument, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite tick %s: %w", instrument, err)
	}
	t.ObservedAt = time.UnixMilli(ms).UTC()
	return &t, nil
}
