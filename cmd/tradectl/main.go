// Command tradectl manages bots and inspects their trades.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/skyi28/ML-Trader/config"
	"github.com/skyi28/ML-Trader/internal/app"
	"github.com/skyi28/ML-Trader/internal/export"
	"github.com/skyi28/ML-Trader/internal/model"
	"github.com/skyi28/ML-Trader/internal/portfolio"
	"github.com/skyi28/ML-Trader/internal/predictor"
)

type command struct {
	usage string
	run   func(ctx context.Context, e *env, args []string) error
}

var commands = map[string]command{
	"create":        {"create -owner NAME -instrument SYM -model KIND -indicators a,b -money N [-param k=v ...]", runCreate},
	"list":          {"list", runList},
	"start":         {"start ID", setRunning(true)},
	"stop":          {"stop ID", setRunning(false)},
	"delete":        {"delete ID", runDelete},
	"trades":        {"trades ID [-limit N]", runTrades},
	"report":        {"report [ID]", runReport},
	"export":        {"export -instrument SYM [-from RFC3339] [-to RFC3339] -out FILE", runExportBars},
	"export-trades": {"export-trades ID -out FILE", runExportTrades},
	"import-model":  {"import-model ID -file DUMP.json", runImportModel},
}

type env struct {
	cfg    *config.Config
	stores *app.Stores
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: tradectl [-config file] <command> [args]")
	names := make([]string, 0, len(commands))
	for n := range commands {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		fmt.Fprintf(os.Stderr, "  %s\n", commands[n].usage)
	}
}

func main() {
	log.SetFlags(0)
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() < 1 {
		usage()
		os.Exit(2)
	}
	cmd, ok := commands[flag.Arg(0)]
	if !ok {
		usage()
		os.Exit(2)
	}

	_ = godotenv.Load()
	cfg := config.MustLoad(*configPath)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	stores, err := app.OpenStores(ctx, cfg)
	if err != nil {
		log.Fatalf("[tradectl] %v", err)
	}
	defer stores.Close()

	if err := cmd.run(ctx, &env{cfg: cfg, stores: stores}, flag.Args()[1:]); err != nil {
		log.Printf("[tradectl] %s: %v", flag.Arg(0), err)
		stores.Close()
		os.Exit(1)
	}
}

// params collects repeated -param key=value flags.
type params map[string]float64

func (p params) String() string { return fmt.Sprint(map[string]float64(p)) }

func (p params) Set(s string) error {
	k, v, ok := strings.Cut(s, "=")
	if !ok {
		return fmt.Errorf("want key=value, got %q", s)
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return fmt.Errorf("param %s: %w", k, err)
	}
	p[strings.TrimSpace(k)] = f
	return nil
}

func runCreate(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("create", flag.ContinueOnError)
	owner := fs.String("owner", "", "bot owner")
	inst := fs.String("instrument", "", "instrument, e.g. BTCUSD")
	kind := fs.String("model", predictor.KindThreshold, "model kind")
	inds := fs.String("indicators", "", "comma-separated feature columns in model input order")
	money := fs.Float64("money", 1000, "starting money")
	tf := fs.Int("timeframe", 1, "timeframe in minutes")
	sl := fs.Float64("stop-loss", 0, "stop loss as a fraction of entry (0 disables)")
	tp := fs.Float64("take-profit", 0, "take profit as a fraction of entry (0 disables)")
	running := fs.Bool("start", false, "start the bot immediately")
	hp := params{}
	fs.Var(hp, "param", "hyperparameter key=value (repeatable)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *owner == "" || *inst == "" {
		return errors.New("-owner and -instrument are required")
	}
	if *money <= 0 {
		return fmt.Errorf("-money must be positive, got %v", *money)
	}

	bot := model.Bot{
		Owner:            *owner,
		Instrument:       strings.ToUpper(*inst),
		TimeframeMinutes: *tf,
		ModelKind:        *kind,
		Hyperparameters:  hp,
		Money:            *money,
		Running:          *running,
		StopLoss:         *sl,
		TakeProfit:       *tp,
		Position:         model.PositionNeutral,
	}
	for _, c := range strings.Split(*inds, ",") {
		if c = strings.TrimSpace(c); c != "" {
			bot.Indicators = append(bot.Indicators, c)
		}
	}

	// Validate the model configuration before persisting it.
	reg := e.stores.Registry()
	if bot.ModelKind != predictor.KindXGBoost {
		if _, err := reg.Model(bot); err != nil {
			return err
		}
	}

	id, err := e.stores.Bots.CreateBot(ctx, bot)
	if err != nil {
		return err
	}
	log.Printf("created bot %d", id)
	return nil
}

func botID(args []string) (int64, []string, error) {
	if len(args) < 1 {
		return 0, nil, errors.New("bot id required")
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return 0, nil, fmt.Errorf("bad bot id %q", args[0])
	}
	return id, args[1:], nil
}

func runList(ctx context.Context, e *env, _ []string) error {
	bots, err := e.stores.Bots.Bots(ctx)
	if err != nil {
		return err
	}
	printBots(os.Stdout, bots)
	return nil
}

func setRunning(running bool) func(context.Context, *env, []string) error {
	return func(ctx context.Context, e *env, args []string) error {
		id, _, err := botID(args)
		if err != nil {
			return err
		}
		if err := e.stores.Bots.SetRunning(ctx, id, running); err != nil {
			return err
		}
		log.Printf("bot %d running=%v", id, running)
		return nil
	}
}

func runDelete(ctx context.Context, e *env, args []string) error {
	id, _, err := botID(args)
	if err != nil {
		return err
	}
	bot, err := e.stores.Bots.Bot(ctx, id)
	if err != nil {
		return err
	}
	if err := e.stores.Bots.DeleteBot(ctx, id); err != nil {
		return err
	}
	e.stores.OpenArtifacts(e.cfg.BadgerDir, slog.Default())
	if e.stores.Artifacts != nil {
		key := predictor.ArtifactKey(bot.Owner, id)
		if err := e.stores.Artifacts.Delete(key); err != nil && !errors.Is(err, model.ErrNotFound) {
			log.Printf("bot %d deleted, model artifact %s kept: %v", id, key, err)
			return nil
		}
	}
	log.Printf("bot %d deleted with its trades", id)
	return nil
}

func runTrades(ctx context.Context, e *env, args []string) error {
	id, rest, err := botID(args)
	if err != nil {
		return err
	}
	fs := flag.NewFlagSet("trades", flag.ContinueOnError)
	limit := fs.Int("limit", 20, "newest trades to show (0 = all)")
	if err := fs.Parse(rest); err != nil {
		return err
	}
	trades, err := e.stores.Bots.Trades(ctx, id, *limit)
	if err != nil {
		return err
	}
	printTrades(os.Stdout, trades)
	return nil
}

func runReport(ctx context.Context, e *env, args []string) error {
	var bots []model.Bot
	if len(args) > 0 {
		id, _, err := botID(args)
		if err != nil {
			return err
		}
		b, err := e.stores.Bots.Bot(ctx, id)
		if err != nil {
			return err
		}
		bots = []model.Bot{*b}
	} else {
		var err error
		if bots, err = e.stores.Bots.Bots(ctx); err != nil {
			return err
		}
	}

	rows := make([]reportRow, 0, len(bots))
	for _, b := range bots {
		trades, err := e.stores.Bots.Trades(ctx, b.ID, 0)
		if err != nil {
			return err
		}
		price := 0.0
		if tick, err := e.stores.SQLite.Tick(ctx, b.Instrument); err == nil {
			price = tick.LastPrice
		}
		pnl := portfolio.FromTrades(trades, b.Money)
		rows = append(rows, reportRow{Bot: b, Price: price,
			Summary: pnl.GetSummary(portfolio.GetUnrealizedPnL(b, price))})
	}
	printReport(os.Stdout, rows)
	return nil
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

func runExportBars(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	inst := fs.String("instrument", "", "instrument to export")
	fromS := fs.String("from", "", "first bar (RFC3339, default: oldest)")
	toS := fs.String("to", "", "last bar (RFC3339, default: newest)")
	out := fs.String("out", "", "output Parquet file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *inst == "" || *out == "" {
		return errors.New("-instrument and -out are required")
	}
	from, err := parseTime(*fromS)
	if err != nil {
		return err
	}
	to, err := parseTime(*toS)
	if err != nil {
		return err
	}

	bars, err := e.stores.SQLite.RangeQuery(ctx, strings.ToUpper(*inst), from, to)
	if err != nil {
		return err
	}
	if err := export.WriteFile(*out, func(w io.Writer) error { return export.WriteBars(w, bars) }); err != nil {
		return err
	}
	log.Printf("exported %d bars to %s", len(bars), *out)
	return nil
}

func runExportTrades(ctx context.Context, e *env, args []string) error {
	id, rest, err := botID(args)
	if err != nil {
		return err
	}
	fs := flag.NewFlagSet("export-trades", flag.ContinueOnError)
	out := fs.String("out", "", "output Parquet file")
	if err := fs.Parse(rest); err != nil {
		return err
	}
	if *out == "" {
		return errors.New("-out is required")
	}
	trades, err := e.stores.Bots.Trades(ctx, id, 0)
	if err != nil {
		return err
	}
	if err := export.WriteFile(*out, func(w io.Writer) error { return export.WriteTrades(w, trades) }); err != nil {
		return err
	}
	log.Printf("exported %d trades to %s", len(trades), *out)
	return nil
}

func runImportModel(ctx context.Context, e *env, args []string) error {
	id, rest, err := botID(args)
	if err != nil {
		return err
	}
	fs := flag.NewFlagSet("import-model", flag.ContinueOnError)
	file := fs.String("file", "", "XGBoost JSON dump")
	if err := fs.Parse(rest); err != nil {
		return err
	}
	if *file == "" {
		return errors.New("-file is required")
	}
	bot, err := e.stores.Bots.Bot(ctx, id)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(*file)
	if err != nil {
		return err
	}
	m, err := predictor.ParseXGBoost(data, bot.Indicators)
	if err != nil {
		return fmt.Errorf("model does not fit bot %d: %w", id, err)
	}

	e.stores.OpenArtifacts(e.cfg.BadgerDir, slog.Default())
	if e.stores.Artifacts == nil {
		return fmt.Errorf("artifact store %s unavailable", e.cfg.BadgerDir)
	}
	key := predictor.ArtifactKey(bot.Owner, id)
	if err := e.stores.Artifacts.Put(key, data); err != nil {
		return err
	}
	log.Printf("stored %d-tree model for bot %d under %s", m.Trees(), id, key)
	return nil
}
