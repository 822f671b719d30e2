package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	_ "github.com/mattn/go-sqlite3"
)

// Store is the SQLite implementation of model.BarStore, model.TickStore and
// model.BotStore. A single connection serializes writers; WAL mode keeps
// readers from blocking on them.
type Store struct {
	db *sql.DB
}

// DB returns the underlying sql.DB for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// Open opens (or creates) the database at path and applies the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened database at %s", path)
	return &Store{db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS bars (
			instrument TEXT    NOT NULL,
			ts         INTEGER NOT NULL,
			open       REAL    NOT NULL,
			close      REAL    NOT NULL,
			indicators TEXT,
			PRIMARY KEY (instrument, ts)
		);

		CREATE TABLE IF NOT EXISTS ticks (
			instrument  TEXT PRIMARY KEY,
			observed_at INTEGER NOT NULL,
			last_price  REAL    NOT NULL,
			bid_price   REAL,
			ask_price   REAL,
			bid_size    REAL,
			ask_size    REAL,
			change_24h  REAL
		);

		CREATE TABLE IF NOT EXISTS bots (
			id                INTEGER PRIMARY KEY AUTOINCREMENT,
			owner             TEXT    NOT NULL,
			instrument        TEXT    NOT NULL,
			timeframe_minutes INTEGER NOT NULL DEFAULT 1,
			model_kind        TEXT    NOT NULL,
			indicators        TEXT    NOT NULL DEFAULT '[]',
			hyperparameters   TEXT    NOT NULL DEFAULT '{}',
			position          TEXT    NOT NULL DEFAULT 'neutral',
			entry_price       REAL    NOT NULL DEFAULT 0,
			prediction        INTEGER NOT NULL DEFAULT 0,
			money             REAL    NOT NULL,
			running           INTEGER NOT NULL DEFAULT 0,
			stop_loss         REAL    NOT NULL DEFAULT 0,
			take_profit       REAL    NOT NULL DEFAULT 0,
			created_at        INTEGER NOT NULL,
			last_trained_at   INTEGER NOT NULL DEFAULT 0
		);

		CREATE TABLE IF NOT EXISTS trades (
			trade_id    INTEGER PRIMARY KEY AUTOINCREMENT,
			owner       TEXT    NOT NULL,
			bot_id      INTEGER NOT NULL REFERENCES bots(id) ON DELETE CASCADE,
			ts          INTEGER NOT NULL,
			instrument  TEXT    NOT NULL,
			side        TEXT    NOT NULL,
			entry_price REAL    NOT NULL,
			close_price REAL    NOT NULL,
			money_after REAL    NOT NULL,
			profit_abs  REAL    NOT NULL,
			profit_rel  REAL    NOT NULL,
			trading_fee REAL    NOT NULL,
			tp_trigger  INTEGER NOT NULL DEFAULT 0,
			sl_trigger  INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_trades_bot ON trades(bot_id, trade_id);
	`)
	return err
}

// inTx runs fn inside a transaction, committing on success and rolling back
// on error or panic.
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite begin: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
		if err != nil {
			tx.Rollback()
			return
		}
		if cerr := tx.Commit(); cerr != nil {
			err = fmt.Errorf("sqlite commit: %w", cerr)
		}
	}()
	return fn(tx)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
