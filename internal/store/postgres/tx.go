// Package postgres is the PostgreSQL implementation of model.BotStore for
// deployments that share bots and trades across several trader instances.
package postgres

import (
	"context"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Querier is satisfied by both the pool and an open transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TxManager runs functions inside read-committed transactions.
type TxManager struct {
	pool *pgxpool.Pool
}

// NewTxManager wraps pool.
func NewTxManager(pool *pgxpool.Pool) *TxManager {
	return &TxManager{pool: pool}
}

// Conn returns the pool for statements that need no transaction.
func (m *TxManager) Conn() Querier { return m.pool }

// Run executes fn in a transaction. It commits when fn returns nil and rolls
// back on error or panic.
func (m *TxManager) Run(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) (err error) {
	tx, err := m.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		if cerr := tx.Commit(ctx); cerr != nil {
			err = fmt.Errorf("commit tx: %w", cerr)
		}
	}()

	return fn(ctx, tx)
}

// Open connects to dsn and applies the schema.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres open: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres schema: %w", err)
	}
	log.Printf("[postgres] connected")
	return &Store{pool: pool, tx: NewTxManager(pool)}, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS bots (
	id                BIGSERIAL PRIMARY KEY,
	owner             TEXT             NOT NULL,
	instrument        TEXT             NOT NULL,
	timeframe_minutes INTEGER          NOT NULL DEFAULT 1,
	model_kind        TEXT             NOT NULL,
	indicators        JSONB            NOT NULL DEFAULT '[]',
	hyperparameters   JSONB            NOT NULL DEFAULT '{}',
	position          TEXT             NOT NULL DEFAULT 'neutral',
	entry_price       DOUBLE PRECISION NOT NULL DEFAULT 0,
	prediction        INTEGER          NOT NULL DEFAULT 0,
	money             DOUBLE PRECISION NOT NULL,
	running           BOOLEAN          NOT NULL DEFAULT FALSE,
	stop_loss         DOUBLE PRECISION NOT NULL DEFAULT 0,
	take_profit       DOUBLE PRECISION NOT NULL DEFAULT 0,
	created_at        TIMESTAMPTZ      NOT NULL,
	last_trained_at   TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS trades (
	trade_id    BIGSERIAL PRIMARY KEY,
	owner       TEXT             NOT NULL,
	bot_id      BIGINT           NOT NULL REFERENCES bots(id) ON DELETE CASCADE,
	ts          TIMESTAMPTZ      NOT NULL,
	instrument  TEXT             NOT NULL,
	side        TEXT             NOT NULL,
	entry_price DOUBLE PRECISION NOT NULL,
	close_price DOUBLE PRECISION NOT NULL,
	money_after DOUBLE PRECISION NOT NULL,
	profit_abs  DOUBLE PRECISION NOT NULL,
	profit_rel  DOUBLE PRECISION NOT NULL,
	trading_fee DOUBLE PRECISION NOT NULL,
	tp_trigger  BOOLEAN          NOT NULL DEFAULT FALSE,
	sl_trigger  BOOLEAN          NOT NULL DEFAULT FALSE
);

CREATE INDEX IF NOT EXISTS trades_bot_idx ON trades (bot_id, trade_id DESC);
`
