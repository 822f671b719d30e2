// Command gapfill checks and repairs the stored minute-bar series on demand.
//
//	gapfill check   [-instruments BTCUSD,ETHUSD]
//	gapfill repair  [-instruments ...]
//	gapfill catchup [-instruments ...]
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/skyi28/ML-Trader/config"
	"github.com/skyi28/ML-Trader/internal/continuity"
	"github.com/skyi28/ML-Trader/internal/indicator"
	"github.com/skyi28/ML-Trader/internal/logger"
	"github.com/skyi28/ML-Trader/internal/provider/bybit"
	"github.com/skyi28/ML-Trader/internal/store/sqlite"
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage: gapfill [-config file] [-instruments A,B] check|repair|catchup\n")
	flag.PrintDefaults()
}

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	instruments := flag.String("instruments", "", "comma-separated instruments (default: configured list)")
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() != 1 {
		usage()
		os.Exit(2)
	}
	cmd := flag.Arg(0)

	_ = godotenv.Load()
	cfg := config.MustLoad(*configPath)
	slogger := logger.Init("gapfill", logger.ParseLevel(cfg.LogLevel), logger.Options{File: cfg.LogFile})

	insts := cfg.Instruments
	if *instruments != "" {
		insts = nil
		for _, s := range strings.Split(*instruments, ",") {
			if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
				insts = append(insts, s)
			}
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := sqlite.Open(cfg.SQLitePath)
	if err != nil {
		log.Fatalf("[gapfill] %v", err)
	}
	defer store.Close()

	ind, err := indicator.NewSet(cfg.Indicators)
	if err != nil {
		log.Fatalf("[gapfill] indicators: %v", err)
	}
	client := bybit.New(bybit.Config{BaseURL: cfg.ProviderURL, Category: cfg.Category, Timeout: cfg.ProviderTimeout})
	engine := continuity.New(store, client, ind, nil,
		continuity.WithLogger(slogger),
		continuity.WithLookback(cfg.CatchUpLookback),
		continuity.WithPageLimit(cfg.ProviderLimit),
	)

	failed := false
	for _, inst := range insts {
		if err := runOne(ctx, engine, cmd, inst); err != nil {
			log.Printf("[gapfill] %s %s: %v", cmd, inst, err)
			failed = true
		}
		if ctx.Err() != nil {
			break
		}
	}
	if failed {
		os.Exit(1)
	}
}

func runOne(ctx context.Context, engine *continuity.Engine, cmd, inst string) error {
	switch cmd {
	case "check":
		ok, violations, err := engine.CheckContinuity(ctx, inst)
		if err != nil {
			return err
		}
		if ok {
			log.Printf("[gapfill] %s: continuous", inst)
			return nil
		}
		log.Printf("[gapfill] %s: %d violations", inst, len(violations))
		for _, v := range violations {
			log.Printf("[gapfill]   %s -> %s (%s)", v.Prev.Format("2006-01-02 15:04"), v.Cur.Format("2006-01-02 15:04"), v.Diff)
		}
		return nil

	case "repair":
		reports, err := engine.RepairAll(ctx, inst)
		for _, r := range reports {
			log.Printf("[gapfill] %s: repaired %s..%s fetched=%d upserted=%d restored=%d in %s",
				inst, r.Gap.Start.Format("2006-01-02 15:04"), r.Gap.End.Format("2006-01-02 15:04"),
				r.Fetched, r.Upserted, r.Restored, r.Elapsed)
		}
		if err != nil {
			return err
		}
		if len(reports) == 0 {
			log.Printf("[gapfill] %s: no gaps", inst)
		}
		return nil

	case "catchup":
		n, err := engine.CatchUp(ctx, inst)
		if err != nil {
			return err
		}
		log.Printf("[gapfill] %s: %d bars written", inst, n)
		return nil
	}
	return fmt.Errorf("unknown command %q", cmd)
}
