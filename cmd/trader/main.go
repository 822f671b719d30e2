package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/skyi28/ML-Trader/config"
	"github.com/skyi28/ML-Trader/internal/app"
	"github.com/skyi28/ML-Trader/internal/continuity"
	"github.com/skyi28/ML-Trader/internal/execution"
	"github.com/skyi28/ML-Trader/internal/indicator"
	"github.com/skyi28/ML-Trader/internal/logger"
	"github.com/skyi28/ML-Trader/internal/marketdata/bus"
	"github.com/skyi28/ML-Trader/internal/marketdata/ingest"
	"github.com/skyi28/ML-Trader/internal/metrics"
	"github.com/skyi28/ML-Trader/internal/model"
	"github.com/skyi28/ML-Trader/internal/provider/bybit"
	redisstore "github.com/skyi28/ML-Trader/internal/store/redis"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("[trader] .env: %v", err)
	}
	cfg := config.MustLoad(*configPath)

	slogger := logger.Init("trader", logger.ParseLevel(cfg.LogLevel), logger.Options{
		File:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
	})
	slogger.Info("starting", "instruments", cfg.Instruments, "store", cfg.StoreDriver, "tick_source", cfg.TickSource)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, slogger); err != nil {
		slogger.Error("trader stopped", "error", err)
		os.Exit(1)
	}
	slogger.Info("shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, slogger *slog.Logger) error {
	// ---- Metrics & health ----
	prom := metrics.NewMetrics()
	health := metrics.NewHealthStatus()
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health)
	metricsSrv.Start()
	defer func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		metricsSrv.Stop(shutdownCtx)
	}()

	// ---- Stores ----
	stores, err := app.OpenStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer stores.Close()
	stores.OpenArtifacts(cfg.BadgerDir, slogger)

	probes := map[string]metrics.Probe{"sqlite": stores.SQLite.DB().PingContext}
	if stores.Postgres != nil {
		probes["postgres"] = stores.Postgres.Ping
	}

	var ticks model.TickStore = stores.SQLite
	cache, err := redisstore.Dial(ctx, redisstore.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, stores.SQLite, slogger.With("component", "tick_cache"))
	if err != nil {
		slogger.Warn("redis unavailable, ticks go to sqlite only", "error", err)
	} else {
		defer cache.Close()
		cache.Breaker().OnStateChange = prom.ObserveBreaker
		probes["redis"] = func(ctx context.Context) error { return cache.Client().Ping(ctx).Err() }
		ticks = cache
	}
	health.StartLivenessChecker(ctx, probes, 10*time.Second)

	if cfg.ResetPositionsOnStart {
		n, err := stores.Bots.ResetPositions(ctx)
		if err != nil {
			return fmt.Errorf("reset positions: %w", err)
		}
		slogger.Info("bots reset to neutral", "bots", n)
	}

	// ---- Provider & indicators ----
	client := bybit.New(bybit.Config{
		BaseURL:  cfg.ProviderURL,
		Category: cfg.Category,
		Timeout:  cfg.ProviderTimeout,
	})
	client.OnRequest = prom.ObserveRequest

	ind, err := indicator.NewSet(cfg.Indicators)
	if err != nil {
		return fmt.Errorf("indicators: %w", err)
	}

	// ---- Continuity: catch up and repair before trading ----
	locks := continuity.NewLocker()
	engine := continuity.New(stores.SQLite, client, ind, locks,
		continuity.WithLogger(slogger),
		continuity.WithHooks(prom.ContinuityHooks()),
		continuity.WithLookback(cfg.CatchUpLookback),
		continuity.WithPageLimit(cfg.ProviderLimit),
	)
	if err := engine.Sweep(ctx, cfg.Instruments); err != nil {
		slogger.Warn("startup sweep incomplete", "error", err)
	}
	if ctx.Err() != nil {
		return nil
	}

	// ---- Bus ----
	fanout := bus.New(64)
	fanout.OnDrop = prom.ObserveDrop
	predictEvents := fanout.Subscribe("executor")
	healthEvents := fanout.Subscribe("health")

	var wg sync.WaitGroup
	spawn := func(name string, fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
			slogger.Debug("worker exited", "worker", name)
		}()
	}

	// ---- Ticks ----
	switch cfg.TickSource {
	case "ws":
		stream := bybit.NewTickerStream(cfg.ProviderWSURL, cfg.Instruments, ticks, slogger.With("component", "ticker_stream"))
		stream.OnReconnect = func() {
			prom.WSReconnects.Inc()
			health.SetWSConnected(false)
		}
		health.SetWSConnected(true)
		spawn("ticker_stream", func() { stream.Run(ctx) })
	default:
		poller := ingest.NewTickPoller(client, ticks, cfg.Instruments, cfg.TickInterval, slogger)
		poller.OnTick = func(inst string, err error) {
			prom.ObserveTick(inst, err)
			if err == nil {
				health.SetLastTickTime(time.Now())
			}
		}
		spawn("tick_poller", func() { poller.Run(ctx) })
	}

	// ---- Bars ----
	barLoop := ingest.NewBarLoop(ingest.BarLoopConfig{
		Instruments: cfg.Instruments,
		Delay:       cfg.BarPublishDelay,
		Limit:       cfg.ProviderLimit,
	}, stores.SQLite, client, ind, locks, fanout, slogger)
	barLoop.OnBars = prom.ObserveBars
	spawn("bar_loop", func() { barLoop.Run(ctx) })
	spawn("sweeps", func() { engine.RunSweeps(ctx, cfg.Instruments, cfg.SweepInterval) })

	spawn("health_events", func() {
		for ev := range healthEvents {
			health.SetLastBar(ev.Instrument, ev.Boundary)
		}
	})
	spawn("channel_stats", func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, s := range fanout.ChannelStats() {
					if s.Cap > 0 {
						prom.ChannelSaturationPct.WithLabelValues(s.Name).Set(float64(s.Len) / float64(s.Cap) * 100)
					}
				}
			}
		}
	})

	// ---- Execution ----
	exec := execution.NewExecutor(stores.Bots, ticks, stores.SQLite, stores.Registry(), cfg.TradingFee, slogger)
	exec.Notifier = app.Notifier(cfg, slogger)
	exec.Hooks = prom.ExecutionHooks()
	cycleHook := exec.Hooks.OnCycle
	exec.Hooks.OnCycle = func(rep execution.CycleReport, d time.Duration) {
		cycleHook(rep, d)
		health.SetLastCycle(time.Now(), fmt.Sprintf("bots=%d opened=%d closed=%d held=%d failed=%d",
			rep.Bots, rep.Opened, rep.Closed, rep.Held, rep.Failed))
	}

	loop := execution.NewLoop(exec, predictEvents, cfg.ReadinessGrace, slogger)
	loop.OnReadiness = prom.ObserveReadiness
	spawn("prediction_loop", func() { loop.Run(ctx) })

	slogger.Info("trader running", "metrics_addr", cfg.MetricsAddr)
	<-ctx.Done()
	slogger.Info("shutting down")
	fanout.Close()
	wg.Wait()
	return nil
}
