// cmd/backtest replays stored minute bars through a bot's model and the
// execution state machine, without touching the bot's stored state.
//
// Usage:
//
//	go run ./cmd/backtest -bot 3 -from 2024-01-01T00:00:00Z
//	go run ./cmd/backtest -instrument BTCUSD -model threshold -indicators rsi -param threshold=50
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"

	"github.com/skyi28/ML-Trader/config"
	"github.com/skyi28/ML-Trader/internal/app"
	"github.com/skyi28/ML-Trader/internal/backtest"
	"github.com/skyi28/ML-Trader/internal/logger"
	"github.com/skyi28/ML-Trader/internal/model"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	configPath := flag.String("config", "", "path to a YAML config file")
	botID := flag.Int64("bot", 0, "stored bot to simulate (overrides the inline bot flags)")
	inst := flag.String("instrument", "BTCUSD", "instrument for an inline bot")
	kind := flag.String("model", "threshold", "model kind for an inline bot")
	inds := flag.String("indicators", "rsi", "feature columns for an inline bot")
	money := flag.Float64("money", 1000, "starting money for an inline bot")
	sl := flag.Float64("stop-loss", 0, "stop loss fraction for an inline bot")
	tp := flag.Float64("take-profit", 0, "take profit fraction for an inline bot")
	paramStr := flag.String("param", "", "hyperparameters for an inline bot: k=v,k=v")
	fromS := flag.String("from", "", "first bar (RFC3339, default: oldest)")
	toS := flag.String("to", "", "last bar (RFC3339, default: newest)")
	speed := flag.Float64("speed", 0, "playback speed multiplier (0=max, 1=realtime)")
	fee := flag.Float64("fee", -1, "trading fee fraction (default: configured)")
	showTrades := flag.Bool("trades", false, "print every simulated trade")
	flag.Parse()

	_ = godotenv.Load()
	cfg := config.MustLoad(*configPath)
	slogger := logger.Init("backtest", logger.ParseLevel(cfg.LogLevel), logger.Options{})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	from, err := parseTime(*fromS)
	if err != nil {
		log.Fatalf("[backtest] %v", err)
	}
	to, err := parseTime(*toS)
	if err != nil {
		log.Fatalf("[backtest] %v", err)
	}

	stores, err := app.OpenStores(ctx, cfg)
	if err != nil {
		log.Fatalf("[backtest] %v", err)
	}
	defer stores.Close()
	stores.OpenArtifacts(cfg.BadgerDir, slogger)

	var bot model.Bot
	if *botID > 0 {
		b, err := stores.Bots.Bot(ctx, *botID)
		if err != nil {
			log.Fatalf("[backtest] %v", err)
		}
		bot = *b
	} else {
		hp, err := parseParams(*paramStr)
		if err != nil {
			log.Fatalf("[backtest] %v", err)
		}
		bot = model.Bot{
			Owner:           "backtest",
			Instrument:      strings.ToUpper(*inst),
			ModelKind:       *kind,
			Indicators:      strings.Split(*inds, ","),
			Hyperparameters: hp,
			Money:           *money,
			StopLoss:        *sl,
			TakeProfit:      *tp,
		}
	}
	if *fee < 0 {
		*fee = cfg.TradingFee
	}

	engine := backtest.New(stores.SQLite, stores.Registry(), *fee, slogger)
	began := time.Now()
	res, err := engine.Run(ctx, bot, from, to, *speed)
	if err != nil {
		log.Fatalf("[backtest] %v", err)
	}
	log.Printf("[backtest] %d bars in %s", res.Bars, time.Since(began).Round(time.Millisecond))

	if *showTrades {
		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.SetStyle(table.StyleLight)
		t.AppendHeader(table.Row{"#", "Time", "Side", "Entry", "Close", "Profit %", "Money After", "TP", "SL"})
		for _, tr := range res.Trades {
			t.AppendRow(table.Row{tr.ID, tr.TS.Format("2006-01-02 15:04"), tr.Side, tr.EntryPrice, tr.ClosePrice,
				fmt.Sprintf("%.3f", tr.ProfitRel*100), fmt.Sprintf("%.2f", tr.MoneyAfter), tr.TPTrigger, tr.SLTrigger})
		}
		t.Render()
	}

	s := res.Summary
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.SetTitle("%s %s on %s", bot.ModelKind, strings.Join(bot.Indicators, ","), bot.Instrument)
	t.AppendRows([]table.Row{
		{"Bars", res.Bars},
		{"Skipped bars", res.Skipped},
		{"Opened / Closed / Held", fmt.Sprintf("%d / %d / %d", res.Opened, res.Closed, res.Held)},
		{"Start money", fmt.Sprintf("%.2f", s.StartMoney)},
		{"Final money", fmt.Sprintf("%.2f", s.Money)},
		{"Realized PnL", fmt.Sprintf("%.2f", s.RealizedPnL)},
		{"Open PnL", fmt.Sprintf("%.2f", s.UnrealizedPnL)},
		{"Return", fmt.Sprintf("%.2f%%", s.Return*100)},
		{"Win rate", fmt.Sprintf("%.1f%% (%d/%d)", s.WinRate*100, s.Wins, s.TotalTrades)},
		{"Max drawdown", fmt.Sprintf("%.2f%%", s.MaxDrawdown*100)},
		{"Fees", fmt.Sprintf("%.2f", s.Fees)},
		{"Final position", res.Bot.Position},
	})
	t.Render()
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad time %q: %w", s, err)
	}
	return t.UTC(), nil
}

// parseParams parses "k=v,k=v".
func parseParams(s string) (map[string]float64, error) {
	out := map[string]float64{}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("bad param %q, want k=v", part)
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("param %s: %w", k, err)
		}
		out[strings.TrimSpace(k)] = f
	}
	return out, nil
}
