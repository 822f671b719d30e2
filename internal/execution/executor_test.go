package execution

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/skyi28/ML-Trader/internal/model"
	"github.com/skyi28/ML-Trader/internal/notification"
	"github.com/skyi28/ML-Trader/internal/predictor"
)

var boundary = time.Date(2024, 5, 1, 12, 1, 0, 0, time.UTC)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// rsiBot predicts 1 when the rsi column is above 50.
func rsiBot(pos model.Position, entry, money float64) model.Bot {
	return model.Bot{
		Owner:           "alice",
		Instrument:      "BTCUSD",
		ModelKind:       predictor.KindThreshold,
		Indicators:      []string{"rsi"},
		Hyperparameters: map[string]float64{"threshold": 50},
		Position:        pos,
		EntryPrice:      entry,
		Money:           money,
		Running:         true,
	}
}

func barWithRSI(inst string, rsi float64) *model.Bar {
	b := &model.Bar{Instrument: inst, TS: boundary.Add(-time.Minute), Open: 1, Close: 1}
	b.SetIndicator("rsi", rsi)
	return b
}

type recordingNotifier struct{ alerts []notification.Alert }

func (r *recordingNotifier) Send(_ context.Context, a notification.Alert) error {
	r.alerts = append(r.alerts, a)
	return nil
}

func newExec(bots *memBots, ticks memTicks, bars latestBars) *Executor {
	return NewExecutor(bots, ticks, bars, predictor.NewRegistry(), 0.001, quiet())
}

// ────────────────────────────────────────────────────────────
// Step
// ────────────────────────────────────────────────────────────

func TestStep_NeutralOpensAtTickPrice(t *testing.T) {
	bots := newMemBots(rsiBot(model.PositionNeutral, 0, 1000))
	e := newExec(bots, memTicks{"BTCUSD": 25000}, latestBars{"BTCUSD": barWithRSI("BTCUSD", 40)})

	res, err := e.Step(context.Background(), bots.get(1))
	if err != nil {
		t.Fatal(err)
	}
	if res.Action.Kind != ActionOpen || res.Trade != nil {
		t.Fatalf("unexpected result %+v", res)
	}
	b := bots.get(1)
	if b.Position != model.PositionShort || b.EntryPrice != 25000 || b.Money != 1000 || b.Prediction != 0 {
		t.Errorf("bot after open = %+v", b)
	}
	if n, _ := bots.TradeCount(context.Background(), 1); n != 0 {
		t.Errorf("opening must not record a trade, count = %d", n)
	}
}

func TestStep_ShortFlipsLongOnUpPrediction(t *testing.T) {
	bots := newMemBots(rsiBot(model.PositionShort, 100, 1000))
	notifier := &recordingNotifier{}
	e := newExec(bots, memTicks{"BTCUSD": 90}, latestBars{"BTCUSD": barWithRSI("BTCUSD", 65)})
	e.Notifier = notifier

	res, err := e.Step(context.Background(), bots.get(1))
	if err != nil {
		t.Fatal(err)
	}
	if res.Action.Kind != ActionClose || res.Trade == nil {
		t.Fatalf("expected a close, got %+v", res)
	}

	b := bots.get(1)
	if b.Position != model.PositionLong || b.EntryPrice != 90 || b.Prediction != 1 {
		t.Errorf("bot after close = %+v", b)
	}
	assertClose(t, "money", b.Money, 1099, 1e-9)

	tr := res.Trade
	if tr.ID != 1 || tr.Side != model.SideShort || tr.EntryPrice != 100 || tr.ClosePrice != 90 || tr.TradingFee != 0.001 {
		t.Errorf("trade = %+v", tr)
	}
	assertClose(t, "profit_rel", tr.ProfitRel, 0.099, 1e-12)
	assertClose(t, "profit_abs", tr.ProfitAbs, 99, 1e-9)
	if n, _ := bots.TradeCount(context.Background(), 1); n != 1 {
		t.Errorf("trade count = %d, want 1", n)
	}
	if len(notifier.alerts) != 1 || notifier.alerts[0].Trade.ID != 1 {
		t.Errorf("alerts = %+v", notifier.alerts)
	}
}

func TestStep_MatchingPredictionHolds(t *testing.T) {
	bots := newMemBots(rsiBot(model.PositionLong, 100, 1000))
	e := newExec(bots, memTicks{"BTCUSD": 101}, latestBars{"BTCUSD": barWithRSI("BTCUSD", 70)})

	res, err := e.Step(context.Background(), bots.get(1))
	if err != nil || res.Action.Kind != ActionNone {
		t.Fatalf("res=%+v err=%v", res, err)
	}
	if b := bots.get(1); b.EntryPrice != 100 || b.Money != 1000 {
		t.Errorf("hold changed the bot: %+v", b)
	}
}

func TestStep_TakeProfitForcesFlip(t *testing.T) {
	bot := rsiBot(model.PositionLong, 100, 1000)
	bot.TakeProfit = 0.05
	bots := newMemBots(bot)
	e := newExec(bots, memTicks{"BTCUSD": 106}, latestBars{"BTCUSD": barWithRSI("BTCUSD", 70)})

	res, err := e.Step(context.Background(), bots.get(1))
	if err != nil {
		t.Fatal(err)
	}
	if res.Trade == nil || !res.Trade.TPTrigger || res.Trade.SLTrigger || res.Trade.Side != model.SideLong {
		t.Fatalf("expected a take-profit close, got %+v", res.Trade)
	}
	if b := bots.get(1); b.Position != model.PositionShort || b.EntryPrice != 106 {
		t.Errorf("bot after forced close = %+v", b)
	}
}

func TestStep_StopLossForcesFlip(t *testing.T) {
	bot := rsiBot(model.PositionShort, 100, 1000)
	bot.StopLoss = 0.02
	bots := newMemBots(bot)
	e := newExec(bots, memTicks{"BTCUSD": 103}, latestBars{"BTCUSD": barWithRSI("BTCUSD", 20)})

	res, err := e.Step(context.Background(), bots.get(1))
	if err != nil {
		t.Fatal(err)
	}
	if res.Trade == nil || !res.Trade.SLTrigger || res.Trade.Side != model.SideShort {
		t.Fatalf("expected a stop-loss close, got %+v", res.Trade)
	}
	assertClose(t, "money", bots.get(1).Money, 1000*(1+(-0.03-0.001)), 1e-9)
}

func TestStep_MissingFeatureSkipsBot(t *testing.T) {
	bots := newMemBots(rsiBot(model.PositionNeutral, 0, 1000))
	bar := &model.Bar{Instrument: "BTCUSD", TS: boundary}
	e := newExec(bots, memTicks{"BTCUSD": 1}, latestBars{"BTCUSD": bar})

	if _, err := e.Step(context.Background(), bots.get(1)); !errors.Is(err, ErrMissingFeature) {
		t.Fatalf("err = %v, want ErrMissingFeature", err)
	}
	if b := bots.get(1); b.Position != model.PositionNeutral {
		t.Errorf("bot moved despite missing data: %+v", b)
	}
}

func TestStep_NoTickLeavesPosition(t *testing.T) {
	bots := newMemBots(rsiBot(model.PositionNeutral, 0, 1000))
	e := newExec(bots, memTicks{}, latestBars{"BTCUSD": barWithRSI("BTCUSD", 60)})

	_, err := e.Step(context.Background(), bots.get(1))
	if !errors.Is(err, ErrNoPrice) || !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNoPrice wrapping ErrNotFound", err)
	}
	if b := bots.get(1); b.Position != model.PositionNeutral || b.Prediction != 1 {
		t.Errorf("bot = %+v, want prediction stored and position unchanged", b)
	}
}

func TestStep_FailedCloseKeepsMoney(t *testing.T) {
	bots := newMemBots(rsiBot(model.PositionLong, 100, 1000))
	bots.failClose = errors.New("disk full")
	e := newExec(bots, memTicks{"BTCUSD": 120}, latestBars{"BTCUSD": barWithRSI("BTCUSD", 10)})

	if _, err := e.Step(context.Background(), bots.get(1)); err == nil {
		t.Fatal("expected close failure")
	}
	if b := bots.get(1); b.Money != 1000 || b.Position != model.PositionLong {
		t.Errorf("bot = %+v", b)
	}
	if n, _ := bots.TradeCount(context.Background(), 1); n != 0 {
		t.Errorf("trade count = %d", n)
	}
}

// ────────────────────────────────────────────────────────────
// Cycle
// ────────────────────────────────────────────────────────────

func TestRunPredictions_FailingBotsDoNotAbortOthers(t *testing.T) {
	unknown := rsiBot(model.PositionNeutral, 0, 1000)
	unknown.ModelKind = "lstm"
	missing := rsiBot(model.PositionNeutral, 0, 1000)
	missing.Indicators = []string{"macd"}
	good := rsiBot(model.PositionShort, 100, 1000)
	stopped := rsiBot(model.PositionNeutral, 0, 1000)
	stopped.Running = false

	bots := newMemBots(unknown, missing, good, stopped)
	e := newExec(bots, memTicks{"BTCUSD": 90}, latestBars{"BTCUSD": barWithRSI("BTCUSD", 80)})

	var reasons []string
	var cycles int
	e.Hooks = Hooks{
		OnBotError: func(r string) { reasons = append(reasons, r) },
		OnCycle:    func(CycleReport, time.Duration) { cycles++ },
	}

	rep, err := e.RunPredictions(context.Background(), boundary)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Bots != 3 || rep.Failed != 2 || rep.Closed != 1 || rep.Opened != 0 {
		t.Errorf("report = %+v", rep)
	}
	if len(reasons) != 2 || reasons[0] != "unknown_model" || reasons[1] != "missing_feature" {
		t.Errorf("reasons = %v", reasons)
	}
	if cycles != 1 {
		t.Errorf("OnCycle called %d times", cycles)
	}
	if b := bots.get(3); b.Position != model.PositionLong {
		t.Errorf("healthy bot not processed: %+v", b)
	}
	if b := bots.get(4); b.Position != model.PositionNeutral {
		t.Errorf("stopped bot was stepped: %+v", b)
	}
}

func TestRunPredictions_TradeCountGrowsOnlyOnClose(t *testing.T) {
	bots := newMemBots(rsiBot(model.PositionNeutral, 0, 1000))
	bars := latestBars{"BTCUSD": barWithRSI("BTCUSD", 60)}
	ticks := memTicks{"BTCUSD": 100}
	e := newExec(bots, ticks, bars)
	ctx := context.Background()

	steps := []struct {
		rsi    float64
		price  float64
		trades int64
	}{
		{60, 100, 0}, // open long
		{60, 105, 0}, // hold
		{40, 110, 1}, // close long, open short
		{40, 108, 1}, // hold
		{60, 100, 2}, // close short, open long
	}
	for i, s := range steps {
		bars["BTCUSD"] = barWithRSI("BTCUSD", s.rsi)
		ticks["BTCUSD"] = s.price
		if _, err := e.RunPredictions(ctx, boundary.Add(time.Duration(i)*time.Minute)); err != nil {
			t.Fatal(err)
		}
		if n, _ := bots.TradeCount(ctx, 1); n != s.trades {
			t.Fatalf("step %d: trade count = %d, want %d", i, n, s.trades)
		}
	}

	// 1000 * (1 + 0.1 - 0.001) * (1 + (110-100)/110 - 0.001)
	want := 1000 * (1 + 0.099) * (1 + 10.0/110 - 0.001)
	assertClose(t, "money", bots.get(1).Money, want, 1e-9)
}
