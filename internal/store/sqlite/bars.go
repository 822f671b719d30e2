package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/bytedance/sonic"

	"github.com/skyi28/ML-Trader/internal/model"
)

// UpsertBars inserts rows in one transaction, replacing rows that share a
// timestamp. Returns the number of rows written.
func (s *Store) UpsertBars(ctx context.Context, instrument string, rows []model.Bar) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	var affected int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT OR REPLACE INTO bars (instrument, ts, open, close, indicators)
			VALUES (?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, b := range rows {
			ind, err := encodeIndicators(b.Indicators)
			if err != nil {
				return err
			}
			res, err := stmt.ExecContext(ctx, instrument, b.TS.Unix(), b.Open, b.Close, ind)
			if err != nil {
				return err
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			affected += n
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("sqlite upsert bars %s: %w", instrument, err)
	}
	return affected, nil
}

// RangeQuery returns rows with from <= ts <= to (no upper bound when to is
// zero), ordered by ts ASC.
func (s *Store) RangeQuery(ctx context.Context, instrument string, from, to time.Time) ([]model.Bar, error) {
	upper := int64(1<<62 - 1)
	if !to.IsZero() {
		upper = to.Unix()
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT ts, open, close, indicators
		FROM bars
		WHERE instrument = ? AND ts >= ? AND ts <= ?
		ORDER BY ts ASC
	`, instrument, from.Unix(), upper)
	if err != nil {
		return nil, fmt.Errorf("sqlite range query %s: %w", instrument, err)
	}
	defer rows.Close()

	var out []model.Bar
	for rows.Next() {
		b, err := scanBar(rows, instrument)
		if err != nil {
			return nil, fmt.Errorf("sqlite scan bar %s: %w", instrument, err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// DeleteFrom removes every row with ts >= from.
func (s *Store) DeleteFrom(ctx context.Context, instrument string, from time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM bars WHERE instrument = ? AND ts >= ?`, instrument, from.Unix())
	if err != nil {
		return 0, fmt.Errorf("sqlite delete bars %s: %w", instrument, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite delete bars %s: %w", instrument, err)
	}
	return n, nil
}

// Latest returns the newest bar, or nil when the series is empty.
func (s *Store) Latest(ctx context.Context, instrument string) (*model.Bar, error) {
	return s.edge(ctx, instrument, "DESC")
}

// Oldest returns the oldest bar, or nil when the series is empty.
func (s *Store) Oldest(ctx context.Context, instrument string) (*model.Bar, error) {
	return s.edge(ctx, instrument, "ASC")
}

func (s *Store) edge(ctx context.Context, instrument, order string) (*model.Bar, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT ts, open, close, indicators
		FROM bars
		WHERE instrument = ?
		ORDER BY ts `+order+`
		LIMIT 1
	`, instrument)
	b, err := scanBar(row, instrument)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite edge bar %s: %w", instrument, err)
	}
	return &b, nil
}

// Timestamps returns every stored timestamp in ascending order.
func (s *Store) Timestamps(ctx context.Context, instrument string) ([]time.Time, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT ts FROM bars WHERE instrument = ? ORDER BY ts ASC`, instrument)
	if err != nil {
		return nil, fmt.Errorf("sqlite timestamps %s: %w", instrument, err)
	}
	defer rows.Close()

	var out []time.Time
	for rows.Next() {
		var ts int64
		if err := rows.Scan(&ts); err != nil {
			return nil, fmt.Errorf("sqlite timestamps %s: %w", instrument, err)
		}
		out = append(out, time.Unix(ts, 0).UTC())
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanBar(sc scanner, instrument string) (model.Bar, error) {
	var (
		ts  int64
		b   model.Bar
		ind sql.NullString
	)
	if err := sc.Scan(&ts, &b.Open, &b.Close, &ind); err != nil {
		return model.Bar{}, err
	}
	b.Instrument = instrument
	b.TS = time.Unix(ts, 0).UTC()
	if ind.Valid && ind.String != "" {
		if err := sonic.UnmarshalString(ind.String, &b.Indicators); err != nil {
			return model.Bar{}, fmt.Errorf("decode indicators: %w", err)
		}
	}
	return b, nil
}

func encodeIndicators(m map[string]float64) (sql.NullString, error) {
	if len(m) == 0 {
		return sql.NullString{}, nil
	}
	s, err := sonic.MarshalString(m)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode indicators: %w", err)
	}
	return sql.NullString{String: s, Valid: true}, nil
}
