package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/skyi28/ML-Trader/internal/model"
)

// Store implements model.BotStore on a pgx pool.
type Store struct {
	pool *pgxpool.Pool
	tx   *TxManager
}

// Ping checks connectivity for health probes.
func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// Close releases the pool.
func (s *Store) Close() { s.pool.Close() }

const botColumns = `id, owner, instrument, timeframe_minutes, model_kind, indicators, hyperparameters,
	position, entry_price, prediction, money, running, stop_loss, take_profit, created_at, last_trained_at`

const tradeColumns = `trade_id, owner, bot_id, ts, instrument, side, entry_price, close_price, money_after,
	profit_abs, profit_rel, trading_fee, tp_trigger, sl_trigger`

// CreateBot inserts a bot; the id comes from the BIGSERIAL sequence.
func (s *Store) CreateBot(ctx context.Context, b model.Bot) (id int64, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("postgres create bot: %w", err)
		}
	}()

	inds, err := sonic.Marshal(b.Indicators)
	if err != nil {
		return 0, err
	}
	if b.Hyperparameters == nil {
		b.Hyperparameters = map[string]float64{}
	}
	hp, err := sonic.Marshal(b.Hyperparameters)
	if err != nil {
		return 0, err
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

	err = s.tx.Conn().QueryRow(ctx, `
		INSERT INTO bots (owner, instrument, timeframe_minutes, model_kind, indicators, hyperparameters,
			position, entry_price, prediction, money, running, stop_loss, take_profit, created_at, last_trained_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id
	`, b.Owner, b.Instrument, b.TimeframeMinutes, b.ModelKind, inds, hp,
		string(b.Position), b.EntryPrice, b.Prediction, b.Money, b.Running, b.StopLoss, b.TakeProfit,
		b.CreatedAt, nullTime(b.LastTrainedAt)).Scan(&id)
	return id, err
}

// Bot returns one bot or model.ErrNotFound.
func (s *Store) Bot(ctx context.Context, id int64) (*model.Bot, error) {
	row := s.tx.Conn().QueryRow(ctx, `SELECT `+botColumns+` FROM bots WHERE id = $1`, id)
	b, err := scanBot(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("postgres bot %d: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres bot %d: %w", id, err)
	}
	return &b, nil
}

// Bots returns every bot ordered by id.
func (s *Store) Bots(ctx context.Context) ([]model.Bot, error) {
	return s.queryBots(ctx, `SELECT `+botColumns+` FROM bots ORDER BY id`)
}

// RunningBots returns bots with running = true.
func (s *Store) RunningBots(ctx context.Context) ([]model.Bot, error) {
	return s.queryBots(ctx, `SELECT `+botColumns+` FROM bots WHERE running ORDER BY id`)
}

func (s *Store) queryBots(ctx context.Context, q string, args ...any) ([]model.Bot, error) {
	rows, err := s.tx.Conn().Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres query bots: %w", err)
	}
	defer rows.Close()

	var out []model.Bot
	for rows.Next() {
		b, err := scanBot(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres scan bot: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *Store) SetRunning(ctx context.Context, id int64, running bool) error {
	return s.updateOne(ctx, s.tx.Conn(), "set running", id, `UPDATE bots SET running = $1 WHERE id = $2`, running, id)
}

func (s *Store) UpdatePrediction(ctx context.Context, id int64, prediction int) error {
	return s.updateOne(ctx, s.tx.Conn(), "update prediction", id,
		`UPDATE bots SET prediction = $1 WHERE id = $2`, prediction, id)
}

func (s *Store) OpenPosition(ctx context.Context, id int64, pos model.Position, entry float64) error {
	return s.updateOne(ctx, s.tx.Conn(), "open position", id,
		`UPDATE bots SET position = $1, entry_price = $2 WHERE id = $3`, string(pos), entry, id)
}

func (s *Store) updateOne(ctx context.Context, q Querier, op string, id int64, stmt string, args ...any) error {
	tag, err := q.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("postgres %s bot %d: %w", op, id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres %s bot %d: %w", op, id, model.ErrNotFound)
	}
	return nil
}

// ClosePosition updates the bot row and appends the trade in one transaction.
// The bot row is locked first so concurrent closes for the same bot serialize.
func (s *Store) ClosePosition(ctx context.Context, req model.CloseRequest) (int64, error) {
	var tradeID int64
	err := s.tx.Run(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var locked int64
		err := tx.QueryRow(ctx, `SELECT id FROM bots WHERE id = $1 FOR UPDATE`, req.BotID).Scan(&locked)
		if errors.Is(err, pgx.ErrNoRows) {
			return model.ErrNotFound
		}
		if err != nil {
			return err
		}

		if _, err := tx.Exec(ctx,
			`UPDATE bots SET money = $1, position = $2, entry_price = $3 WHERE id = $4`,
			req.Trade.MoneyAfter, string(req.NextPosition), req.NextEntry, req.BotID); err != nil {
			return err
		}

		t := req.Trade
		return tx.QueryRow(ctx, `
			INSERT INTO trades (owner, bot_id, ts, instrument, side, entry_price, close_price, money_after,
				profit_abs, profit_rel, trading_fee, tp_trigger, sl_trigger)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
			RETURNING trade_id
		`, t.Owner, req.BotID, t.TS.UTC(), t.Instrument, string(t.Side), t.EntryPrice, t.ClosePrice,
			t.MoneyAfter, t.ProfitAbs, t.ProfitRel, t.TradingFee, t.TPTrigger, t.SLTrigger).Scan(&tradeID)
	})
	if err != nil {
		return 0, fmt.Errorf("postgres close position bot %d: %w", req.BotID, err)
	}
	return tradeID, nil
}

// DeleteBot removes a bot; its trades go with it through ON DELETE CASCADE.
func (s *Store) DeleteBot(ctx context.Context, id int64) error {
	return s.updateOne(ctx, s.tx.Conn(), "delete", id, `DELETE FROM bots WHERE id = $1`, id)
}

// Trades returns a bot's trades, newest first.
func (s *Store) Trades(ctx context.Context, botID int64, limit int) ([]model.Trade, error) {
	q := `SELECT ` + tradeColumns + ` FROM trades WHERE bot_id = $1 ORDER BY trade_id DESC`
	args := []any{botID}
	if limit > 0 {
		q += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := s.tx.Conn().Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres trades bot %d: %w", botID, err)
	}
	defer rows.Close()

	var out []model.Trade
	for rows.Next() {
		var (
			t    model.Trade
			side string
		)
		if err := rows.Scan(&t.ID, &t.Owner, &t.BotID, &t.TS, &t.Instrument, &side, &t.EntryPrice, &t.ClosePrice,
			&t.MoneyAfter, &t.ProfitAbs, &t.ProfitRel, &t.TradingFee, &t.TPTrigger, &t.SLTrigger); err != nil {
			return nil, fmt.Errorf("postgres scan trade: %w", err)
		}
		t.TS = t.TS.UTC()
		t.Side = model.Side(side)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) TradeCount(ctx context.Context, botID int64) (int64, error) {
	var n int64
	if err := s.tx.Conn().QueryRow(ctx, `SELECT COUNT(*) FROM trades WHERE bot_id = $1`, botID).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres trade count bot %d: %w", botID, err)
	}
	return n, nil
}

// ResetPositions moves every bot back to neutral.
func (s *Store) ResetPositions(ctx context.Context) (int64, error) {
	tag, err := s.tx.Conn().Exec(ctx, `UPDATE bots SET position = 'neutral', entry_price = 0`)
	if err != nil {
		return 0, fmt.Errorf("postgres reset positions: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanBot(row pgx.Row) (model.Bot, error) {
	var (
		b           model.Bot
		inds, hp    []byte
		pos         string
		lastTrained *time.Time
	)
	if err := row.Scan(&b.ID, &b.Owner, &b.Instrument, &b.TimeframeMinutes, &b.ModelKind, &inds, &hp,
		&pos, &b.EntryPrice, &b.Prediction, &b.Money, &b.Running, &b.StopLoss, &b.TakeProfit,
		&b.CreatedAt, &lastTrained); err != nil {
		return model.Bot{}, err
	}
	if err := sonic.Unmarshal(inds, &b.Indicators); err != nil {
		return model.Bot{}, fmt.Errorf("decode indicators: %w", err)
	}
	if err := sonic.Unmarshal(hp, &b.Hyperparameters); err != nil {
		return model.Bot{}, fmt.Errorf("decode hyperparameters: %w", err)
	}
	p, err := model.ParsePosition(pos)
	if err != nil {
		return model.Bot{}, err
	}
	b.Position = p
	b.CreatedAt = b.CreatedAt.UTC()
	if lastTrained != nil {
		b.LastTrainedAt = lastTrained.UTC()
	}
	return b, nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}

var _ model.BotStore = (*Store)(nil)
