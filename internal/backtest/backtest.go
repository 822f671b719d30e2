// Package backtest replays stored bars through a bot's model and the same
// executor the live loop uses, against an in-memory book.
package backtest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/skyi28/ML-Trader/internal/execution"
	"github.com/skyi28/ML-Trader/internal/marketdata/replay"
	"github.com/skyi28/ML-Trader/internal/model"
	"github.com/skyi28/ML-Trader/internal/portfolio"
	"github.com/skyi28/ML-Trader/internal/predictor"
)

// Result is the outcome of one simulated run.
type Result struct {
	Bot     model.Bot
	Trades  []model.Trade // oldest first
	Summary portfolio.PnLSummary
	Bars    int
	Opened  int
	Closed  int
	Held    int
	Skipped int
	// LastPrice is the close of the final replayed bar.
	LastPrice float64
}

// Engine runs backtests over one BarStore.
type Engine struct {
	replayer *replay.Replayer
	registry *predictor.Registry
	fee      float64
	log      *slog.Logger
}

// New creates an Engine. fee is the flat fraction charged per close.
func New(bars model.BarStore, registry *predictor.Registry, fee float64, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		replayer: replay.New(bars),
		registry: registry,
		fee:      fee,
		log:      log.With("component", "backtest"),
	}
}

// Run simulates bot over the stored bars of its instrument in [from, to].
// The bot starts neutral with its configured money. Each bar acts as the
// newest stored row and its close as the tick price; trades are stamped with
// the minute boundary that closed the bar.
func (e *Engine) Run(ctx context.Context, bot model.Bot, from, to time.Time, speed float64) (Result, error) {
	book := NewBook()
	bot.Position = model.PositionNeutral
	bot.EntryPrice = 0
	bot.Running = true
	id, err := book.CreateBot(ctx, bot)
	if err != nil {
		return Result{}, err
	}
	startMoney := bot.Money
	e.registry.Forget(id)

	mkt := &market{instrument: bot.Instrument}
	exec := execution.NewExecutor(book, mkt, mkt, e.registry, e.fee, e.log)
	exec.SetClock(func() time.Time {
		return mkt.current().TS.Add(model.BarInterval)
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	bars := make(chan model.Bar, 64)
	replayErr := make(chan error, 1)
	go func() {
		defer close(bars)
		_, err := e.replayer.Run(ctx, bot.Instrument, from, to, speed, bars)
		replayErr <- err
	}()

	var res Result
	for b := range bars {
		mkt.bars = append(mkt.bars, b)
		mkt.cursor = len(mkt.bars) - 1
		res.Bars++
		res.LastPrice = b.Close

		cur, err := book.Bot(ctx, id)
		if err != nil {
			return res, err
		}
		step, err := exec.Step(ctx, *cur)
		if err != nil {
			if errors.Is(err, predictor.ErrUnknownKind) {
				return res, fmt.Errorf("backtest bot %d: %w", bot.ID, err)
			}
			res.Skipped++
			e.log.Debug("bar skipped", "ts", b.TS, "error", err)
			continue
		}
		switch step.Action.Kind {
		case execution.ActionOpen:
			res.Opened++
		case execution.ActionClose:
			res.Closed++
		default:
			res.Held++
		}
	}
	if err := <-replayErr; err != nil {
		return res, err
	}

	final, err := book.Bot(ctx, id)
	if err != nil {
		return res, err
	}
	res.Bot = *final
	trades, err := book.Trades(ctx, id, 0)
	if err != nil {
		return res, err
	}
	pnl := portfolio.FromTrades(trades, startMoney)
	res.Trades = pnl.GetTrades()
	res.Summary = pnl.GetSummary(portfolio.GetUnrealizedPnL(res.Bot, res.LastPrice))

	e.log.Info("backtest done", "instrument", bot.Instrument, "bars", res.Bars,
		"trades", len(res.Trades), "skipped", res.Skipped, "money", res.Bot.Money)
	return res, nil
}
