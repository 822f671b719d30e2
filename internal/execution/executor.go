package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/skyi28/ML-Trader/internal/logger"
	"github.com/skyi28/ML-Trader/internal/model"
	"github.com/skyi28/ML-Trader/internal/notification"
	"github.com/skyi28/ML-Trader/internal/predictor"
)

// Errors that make a bot skip the current cycle.
var (
	ErrNoBar          = errors.New("no stored bar")
	ErrMissingFeature = errors.New("indicator column undefined")
	ErrNoPrice        = errors.New("no usable tick price")
)

// Hooks receive executor measurements. Nil fields are skipped.
type Hooks struct {
	OnPrediction func(prediction int)
	OnOpen       func(pos model.Position)
	OnClose      func(trade model.Trade)
	OnBotError   func(reason string)
	OnCycle      func(rep CycleReport, d time.Duration)
}

// StepResult describes what one bot did in a cycle.
type StepResult struct {
	BotID      int64
	Prediction int
	Action     Action
	Price      float64
	Trade      *model.Trade
}

// CycleReport summarizes one prediction cycle.
type CycleReport struct {
	Boundary time.Time
	Bots     int
	Opened   int
	Closed   int
	Held     int
	Failed   int
}

// Executor runs bots against the latest stored bar and the live tick.
type Executor struct {
	bots     model.BotStore
	ticks    model.TickStore
	bars     model.BarStore
	registry *predictor.Registry
	fee      float64
	log      *slog.Logger
	now      func() time.Time

	Notifier notification.Notifier
	Hooks    Hooks
}

// NewExecutor wires an Executor. fee is the flat fraction charged per close.
func NewExecutor(bots model.BotStore, ticks model.TickStore, bars model.BarStore,
	registry *predictor.Registry, fee float64, log *slog.Logger) *Executor {
	if log == nil {
		log = slog.Default()
	}
	return &Executor{
		bots:     bots,
		ticks:    ticks,
		bars:     bars,
		registry: registry,
		fee:      fee,
		log:      log.With("component", "executor"),
		now:      time.Now,
	}
}

// SetClock replaces the clock that stamps trades.
func (e *Executor) SetClock(now func() time.Time) { e.now = now }

// RunPredictions steps every running bot once. A failing bot is logged and
// counted; it never stops the others.
func (e *Executor) RunPredictions(ctx context.Context, boundary time.Time) (CycleReport, error) {
	began := time.Now()
	ctx = logger.WithCycleID(ctx, logger.NewCycleID("predict", boundary))
	rep := CycleReport{Boundary: boundary}

	bots, err := e.bots.RunningBots(ctx)
	if err != nil {
		return rep, fmt.Errorf("load running bots: %w", err)
	}
	rep.Bots = len(bots)

	for _, bot := range bots {
		if ctx.Err() != nil {
			return rep, ctx.Err()
		}
		res, err := e.Step(ctx, bot)
		if err != nil {
			rep.Failed++
			e.botError(err)
			e.log.Error("bot step failed", append(logger.Attrs(ctx),
				"bot_id", bot.ID, "instrument", bot.Instrument, "error", err)...)
			continue
		}
		switch res.Action.Kind {
		case ActionOpen:
			rep.Opened++
		case ActionClose:
			rep.Closed++
		default:
			rep.Held++
		}
	}

	d := time.Since(began)
	if e.Hooks.OnCycle != nil {
		e.Hooks.OnCycle(rep, d)
	}
	e.log.Info("prediction cycle done", append(logger.Attrs(ctx),
		"bots", rep.Bots, "opened", rep.Opened, "closed", rep.Closed,
		"held", rep.Held, "failed", rep.Failed, "elapsed", d)...)
	return rep, nil
}

// Step predicts for one bot and applies the resulting transition.
func (e *Executor) Step(ctx context.Context, bot model.Bot) (StepResult, error) {
	res := StepResult{BotID: bot.ID}

	features, err := e.features(ctx, bot)
	if err != nil {
		return res, err
	}
	pred, err := e.registry.Predict(bot, features)
	if err != nil {
		return res, err
	}
	if pred != 0 && pred != 1 {
		return res, fmt.Errorf("model returned %d, want 0 or 1", pred)
	}
	res.Prediction = pred
	if e.Hooks.OnPrediction != nil {
		e.Hooks.OnPrediction(pred)
	}
	if err := e.bots.UpdatePrediction(ctx, bot.ID, pred); err != nil {
		return res, fmt.Errorf("update prediction: %w", err)
	}

	price, err := e.price(ctx, bot.Instrument)
	if err != nil {
		return res, err
	}
	res.Price = price

	action := Transition(bot.Position, pred)
	forced, tp, sl := e.exitTriggered(bot, price)
	if forced && action.Kind == ActionNone {
		action = forcedFlip(bot.Position)
	}
	res.Action = action

	switch action.Kind {
	case ActionOpen:
		if err := e.bots.OpenPosition(ctx, bot.ID, action.Next, price); err != nil {
			return res, fmt.Errorf("open position: %w", err)
		}
		if e.Hooks.OnOpen != nil {
			e.Hooks.OnOpen(action.Next)
		}
		e.log.Info("position opened", append(logger.Attrs(ctx),
			"bot_id", bot.ID, "position", action.Next, "entry", price)...)

	case ActionClose:
		trade, err := e.close(ctx, bot, action, price, tp, sl)
		if err != nil {
			return res, err
		}
		res.Trade = &trade
	}
	return res, nil
}

// features reads the bot's indicator columns from the newest stored bar, in
// the bot's configured order.
func (e *Executor) features(ctx context.Context, bot model.Bot) ([]float64, error) {
	bar, err := e.bars.Latest(ctx, bot.Instrument)
	if err != nil {
		return nil, fmt.Errorf("latest bar: %w", err)
	}
	if bar == nil {
		return nil, fmt.Errorf("%w for %s", ErrNoBar, bot.Instrument)
	}
	out := make([]float64, len(bot.Indicators))
	for i, name := range bot.Indicators {
		v, ok := bar.Indicator(name)
		if !ok {
			return nil, fmt.Errorf("%w: %s at %s", ErrMissingFeature, name, bar.TS.Format(time.RFC3339))
		}
		out[i] = v
	}
	return out, nil
}

func (e *Executor) price(ctx context.Context, instrument string) (float64, error) {
	tick, err := e.ticks.Tick(ctx, instrument)
	if err != nil {
		return 0, fmt.Errorf("%w for %s: %w", ErrNoPrice, instrument, err)
	}
	if tick.LastPrice <= 0 {
		return 0, fmt.Errorf("%w for %s: last price %v", ErrNoPrice, instrument, tick.LastPrice)
	}
	return tick.LastPrice, nil
}

// exitTriggered checks the bot's take-profit and stop-loss levels against
// the unrealized return of its open position.
func (e *Executor) exitTriggered(bot model.Bot, price float64) (forced, tp, sl bool) {
	side, open := bot.Position.Side()
	if !open || (bot.TakeProfit <= 0 && bot.StopLoss <= 0) {
		return false, false, false
	}
	ret, err := RawReturn(side, bot.EntryPrice, price)
	if err != nil {
		return false, false, false
	}
	switch {
	case bot.TakeProfit > 0 && ret >= bot.TakeProfit:
		return true, true, false
	case bot.StopLoss > 0 && ret <= -bot.StopLoss:
		return true, false, true
	}
	return false, false, false
}

// forcedFlip closes the open side and reverses, exactly like a prediction
// flip would.
func forcedFlip(pos model.Position) Action {
	if pos == model.PositionLong {
		return Transition(pos, 0)
	}
	return Transition(pos, 1)
}

func (e *Executor) close(ctx context.Context, bot model.Bot, action Action, price float64, tp, sl bool) (model.Trade, error) {
	r, err := ClosePosition(action.Side, bot.EntryPrice, price, bot.Money, e.fee)
	if err != nil {
		return model.Trade{}, fmt.Errorf("close %s: %w", action.Side, err)
	}
	trade := model.Trade{
		Owner:      bot.Owner,
		BotID:      bot.ID,
		TS:         e.now().UTC(),
		Instrument: bot.Instrument,
		Side:       action.Side,
		EntryPrice: bot.EntryPrice,
		ClosePrice: price,
		MoneyAfter: r.MoneyAfter,
		ProfitAbs:  r.ProfitAbs,
		ProfitRel:  r.ProfitRel,
		TradingFee: e.fee,
		TPTrigger:  tp,
		SLTrigger:  sl,
	}
	id, err := e.bots.ClosePosition(ctx, model.CloseRequest{
		BotID:        bot.ID,
		NextPosition: action.Next,
		NextEntry:    price,
		Trade:        trade,
	})
	if err != nil {
		return model.Trade{}, fmt.Errorf("record close: %w", err)
	}
	trade.ID = id

	if e.Hooks.OnClose != nil {
		e.Hooks.OnClose(trade)
	}
	e.log.Info("position closed", append(logger.Attrs(ctx),
		"bot_id", bot.ID, "trade_id", id, "side", action.Side, "entry", bot.EntryPrice,
		"close", price, "profit_rel", r.ProfitRel, "money_after", r.MoneyAfter,
		"tp_trigger", tp, "sl_trigger", sl)...)

	if e.Notifier != nil {
		if err := e.Notifier.Send(ctx, notification.TradeAlert(trade)); err != nil {
			e.log.Warn("trade alert failed", "trade_id", id, "error", err)
		}
	}
	return trade, nil
}

func (e *Executor) botError(err error) {
	if e.Hooks.OnBotError == nil {
		return
	}
	reason := "other"
	switch {
	case errors.Is(err, ErrNoBar):
		reason = "no_bar"
	case errors.Is(err, ErrMissingFeature):
		reason = "missing_feature"
	case errors.Is(err, ErrNoPrice):
		reason = "no_price"
	case errors.Is(err, predictor.ErrUnknownKind):
		reason = "unknown_model"
	case errors.Is(err, model.ErrNotFound):
		reason = "not_found"
	}
	e.Hooks.OnBotError(reason)
}
