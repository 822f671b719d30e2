package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/bytedance/sonic"

	"github.com/skyi28/ML-Trader/internal/model"
)

const botColumns = `id, owner, instrument, timeframe_minutes, model_kind, indicators, hyperparameters,
	position, entry_price, prediction, money, running, stop_loss, take_profit, created_at, last_trained_at`

// CreateBot inserts a bot; the id comes from the AUTOINCREMENT sequence.
func (s *Store) CreateBot(ctx context.Context, b model.Bot) (int64, error) {
	inds, err := sonic.MarshalString(b.Indicators)
	if err != nil {
		return 0, fmt.Errorf("sqlite create bot: encode indicators: %w", err)
	}
	hp, err := sonic.MarshalString(b.Hyperparameters)
	if err != nil {
		return 0, fmt.Errorf("sqlite create bot: encode hyperparameters: %w", err)
	}
	if b.Position == "" {
		b.Position = model.PositionNeutral
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	if b.TimeframeMinutes <= 0 {
		b.TimeframeMinutes = 1
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO bots (owner, instrument, timeframe_minutes, model_kind, indicators, hyperparameters,
			position, entry_price, prediction, money, running, stop_loss, take_profit, created_at, last_trained_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, b.Owner, b.Instrument, b.TimeframeMinutes, b.ModelKind, inds, hp,
		string(b.Position), b.EntryPrice, b.Prediction, b.Money, b.Running, b.StopLoss, b.TakeProfit,
		b.CreatedAt.Unix(), unixOrZero(b.LastTrainedAt))
	if err != nil {
		return 0, fmt.Errorf("sqlite create bot: %w", err)
	}
	return res.LastInsertId()
}

// Bot returns one bot or model.ErrNotFound.
func (s *Store) Bot(ctx context.Context, id int64) (*model.Bot, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+botColumns+` FROM bots WHERE id = ?`, id)
	b, err := scanBot(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("sqlite bot %d: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite bot %d: %w", id, err)
	}
	return &b, nil
}

// Bots returns every bot ordered by id.
func (s *Store) Bots(ctx context.Context) ([]model.Bot, error) {
	return s.queryBots(ctx, `SELECT `+botColumns+` FROM bots ORDER BY id`)
}

// RunningBots returns bots with running = 1.
func (s *Store) RunningBots(ctx context.Context) ([]model.Bot, error) {
	return s.queryBots(ctx, `SELECT `+botColumns+` FROM bots WHERE running = 1 ORDER BY id`)
}

func (s *Store) queryBots(ctx context.Context, q string, args ...any) ([]model.Bot, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite query bots: %w", err)
	}
	defer rows.Close()

	var out []model.Bot
	for rows.Next() {
		b, err := scanBot(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite scan bot: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// SetRunning starts or stops a bot.
func (s *Store) SetRunning(ctx context.Context, id int64, running bool) error {
	return s.updateOne(ctx, "set running", id, `UPDATE bots SET running = ? WHERE id = ?`, running, id)
}

// UpdatePrediction stores the latest model output.
func (s *Store) UpdatePrediction(ctx context.Context, id int64, prediction int) error {
	return s.updateOne(ctx, "update prediction", id, `UPDATE bots SET prediction = ? WHERE id = ?`, prediction, id)
}

// OpenPosition records a position opened from neutral.
func (s *Store) OpenPosition(ctx context.Context, id int64, pos model.Position, entry float64) error {
	return s.updateOne(ctx, "open position", id,
		`UPDATE bots SET position = ?, entry_price = ? WHERE id = ?`, string(pos), entry, id)
}

func (s *Store) updateOne(ctx context.Context, op string, id int64, q string, args ...any) error {
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("sqlite %s bot %d: %w", op, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite %s bot %d: %w", op, id, err)
	}
	if n == 0 {
		return fmt.Errorf("sqlite %s bot %d: %w", op, id, model.ErrNotFound)
	}
	return nil
}

// ClosePosition updates the bot's balance and position and appends the trade
// in a single transaction. The trade id comes from the AUTOINCREMENT sequence.
func (s *Store) ClosePosition(ctx context.Context, req model.CloseRequest) (int64, error) {
	var tradeID int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE bots SET money = ?, position = ?, entry_price = ? WHERE id = ?`,
			req.Trade.MoneyAfter, string(req.NextPosition), req.NextEntry, req.BotID)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return model.ErrNotFound
		}

		t := req.Trade
		res, err = tx.ExecContext(ctx, `
			INSERT INTO trades (owner, bot_id, ts, instrument, side, entry_price, close_price, money_after,
				profit_abs, profit_rel, trading_fee, tp_trigger, sl_trigger)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, t.Owner, req.BotID, t.TS.Unix(), t.Instrument, string(t.Side), t.EntryPrice, t.ClosePrice,
			t.MoneyAfter, t.ProfitAbs, t.ProfitRel, t.TradingFee, t.TPTrigger, t.SLTrigger)
		if err != nil {
			return err
		}
		tradeID, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("sqlite close position bot %d: %w", req.BotID, err)
	}
	return tradeID, nil
}

// DeleteBot removes a bot and its trades.
func (s *Store) DeleteBot(ctx context.Context, id int64) error {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM trades WHERE bot_id = ?`, id); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM bots WHERE id = ?`, id)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return model.ErrNotFound
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("sqlite delete bot %d: %w", id, err)
	}
	return nil
}

// Trades returns a bot's trades, newest first.
func (s *Store) Trades(ctx context.Context, botID int64, limit int) ([]model.Trade, error) {
	if limit <= 0 {
		limit = -1 // sqlite: no limit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT trade_id, owner, bot_id, ts, instrument, side, entry_price, close_price, money_after,
			profit_abs, profit_rel, trading_fee, tp_trigger, sl_trigger
		FROM trades WHERE bot_id = ? ORDER BY trade_id DESC LIMIT ?
	`, botID, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite trades bot %d: %w", botID, err)
	}
	defer rows.Close()

	var out []model.Trade
	for rows.Next() {
		var (
			t    model.Trade
			ts   int64
			side string
		)
		if err := rows.Scan(&t.ID, &t.Owner, &t.BotID, &ts, &t.Instrument, &side, &t.EntryPrice, &t.ClosePrice,
			&t.MoneyAfter, &t.ProfitAbs, &t.ProfitRel, &t.TradingFee, &t.TPTrigger, &t.SLTrigger); err != nil {
			return nil, fmt.Errorf("sqlite scan trade: %w", err)
		}
		t.TS = time.Unix(ts, 0).UTC()
		t.Side = model.Side(side)
		out = append(out, t)
	}
	return out, rows.Err()
}

// TradeCount returns the number of trades recorded for a bot.
func (s *Store) TradeCount(ctx context.Context, botID int64) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM trades WHERE bot_id = ?`, botID).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite trade count bot %d: %w", botID, err)
	}
	return n, nil
}

// ResetPositions moves every bot back to neutral.
func (s *Store) ResetPositions(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE bots SET position = 'neutral', entry_price = 0`)
	if err != nil {
		return 0, fmt.Errorf("sqlite reset positions: %w", err)
	}
	return res.RowsAffected()
}

func scanBot(sc scanner) (model.Bot, error) {
	var (
		b                    model.Bot
		inds, hp, pos        string
		created, lastTrained int64
	)
	if err := sc.Scan(&b.ID, &b.Owner, &b.Instrument, &b.TimeframeMinutes, &b.ModelKind, &inds, &hp,
		&pos, &b.EntryPrice, &b.Prediction, &b.Money, &b.Running, &b.StopLoss, &b.TakeProfit,
		&created, &lastTrained); err != nil {
		return model.Bot{}, err
	}
	if err := sonic.UnmarshalString(inds, &b.Indicators); err != nil {
		return model.Bot{}, fmt.Errorf("decode indicators: %w", err)
	}
	if err := sonic.UnmarshalString(hp, &b.Hyperparameters); err != nil {
		return model.Bot{}, fmt.Errorf("decode hyperparameters: %w", err)
	}
	p, err := model.ParsePosition(pos)
	if err != nil {
		return model.Bot{}, err
	}
	b.Position = p
	b.CreatedAt = time.Unix(created, 0).UTC()
	if lastTrained > 0 {
		b.LastTrainedAt = time.Unix(lastTrained, 0).UTC()
	}
	return b, nil
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}
