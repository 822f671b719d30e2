package model

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by stores when the requested row does not exist.
var ErrNotFound = errors.New("not found")

// ── Storage Port Interfaces ──
// Engines depend on these; SQLite, Redis and Postgres implementations satisfy
// one or more of them and tests substitute in-memory fakes.

// BarStore is an ordered, timestamp-keyed series of bars per instrument.
// Every write reports the number of affected rows; a failed write is an error.
type BarStore interface {
	// UpsertBars inserts rows, replacing any existing row with the same timestamp.
	UpsertBars(ctx context.Context, instrument string, rows []Bar) (int64, error)

	// RangeQuery returns rows with from <= ts <= to in ascending order.
	// A zero to means "no upper bound".
	RangeQuery(ctx context.Context, instrument string, from, to time.Time) ([]Bar, error)

	// DeleteFrom removes every row with ts >= from.
	DeleteFrom(ctx context.Context, instrument string, from time.Time) (int64, error)

	// Latest returns the newest row, or nil, nil for an empty series.
	Latest(ctx context.Context, instrument string) (*Bar, error)

	// Oldest returns the oldest row, or nil, nil for an empty series.
	Oldest(ctx context.Context, instrument string) (*Bar, error)

	// Timestamps returns the full ordered timestamp column.
	Timestamps(ctx context.Context, instrument string) ([]time.Time, error)
}

// TickStore holds one live tick per instrument.
type TickStore interface {
	// UpsertTick replaces the live row for tick.Instrument.
	UpsertTick(ctx context.Context, tick Tick) error

	// Tick returns the live row, or ErrNotFound.
	Tick(ctx context.Context, instrument string) (*Tick, error)
}

// BotStore persists bots and their trades.
type BotStore interface {
	// CreateBot inserts a bot and returns the store-assigned id.
	CreateBot(ctx context.Context, bot Bot) (int64, error)
	Bot(ctx context.Context, id int64) (*Bot, error)
	Bots(ctx context.Context) ([]Bot, error)
	RunningBots(ctx context.Context) ([]Bot, error)
	SetRunning(ctx context.Context, id int64, running bool) error

	// DeleteBot removes the bot and every trade it owns.
	DeleteBot(ctx context.Context, id int64) error

	UpdatePrediction(ctx context.Context, id int64, prediction int) error

	// OpenPosition records a position opened from neutral. Money is untouched.
	OpenPosition(ctx context.Context, id int64, pos Position, entry float64) error

	// ClosePosition applies req in one transaction: the bot's money, position
	// and entry price are updated and the trade row is appended. It returns
	// the store-assigned trade id.
	ClosePosition(ctx context.Context, req CloseRequest) (int64, error)

	// Trades returns the newest trades of a bot first; limit <= 0 means all.
	Trades(ctx context.Context, botID int64, limit int) ([]Trade, error)
	TradeCount(ctx context.Context, botID int64) (int64, error)

	// ResetPositions moves every bot back to neutral with no entry price.
	ResetPositions(ctx context.Context) (int64, error)
}

// Provider is the remote market-data source.
type Provider interface {
	// Bars returns at most limit bars with start <= ts <= end, ascending.
	Bars(ctx context.Context, instrument string, start, end time.Time, resolution time.Duration, limit int) ([]Bar, error)

	// Tick returns the current quote snapshot.
	Tick(ctx context.Context, instrument string) (Tick, error)

	// MaxLimit is the largest row count a single Bars call may return.
	MaxLimit() int
}
