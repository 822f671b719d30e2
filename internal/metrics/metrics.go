package metrics

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skyi28/ML-Trader/internal/continuity"
	"github.com/skyi28/ML-Trader/internal/execution"
	"github.com/skyi28/ML-Trader/internal/model"
	"github.com/skyi28/ML-Trader/internal/store/redis"
)

// Metrics holds all Prometheus metrics for the trader.
type Metrics struct {
	// Continuity
	GapsFound     *prometheus.GaugeVec   // labels: instrument
	RepairsTotal  *prometheus.CounterVec // labels: result=ok|error
	RepairStepDur *prometheus.HistogramVec
	CatchUpRows   *prometheus.CounterVec // labels: instrument

	// Ingestion
	BarsUpserted    *prometheus.CounterVec // labels: instrument
	BarCycleErrors  *prometheus.CounterVec // labels: instrument
	TicksTotal      *prometheus.CounterVec // labels: result=ok|error
	WSReconnects    prometheus.Counter
	ProviderReqDur  *prometheus.HistogramVec // labels: endpoint, result
	LastBarUnixTime *prometheus.GaugeVec     // labels: instrument

	// Bus backpressure
	FanoutDropsTotal     *prometheus.CounterVec // labels: subscriber
	ChannelSaturationPct *prometheus.GaugeVec   // labels: subscriber

	// Execution
	PredictionsTotal  *prometheus.CounterVec // labels: label=0|1
	PositionsOpened   *prometheus.CounterVec // labels: position
	TradesClosed      *prometheus.CounterVec // labels: side, trigger
	BotErrors         *prometheus.CounterVec // labels: reason
	CycleDur          prometheus.Histogram
	ReadinessWait     prometheus.Histogram
	ReadinessTimeouts prometheus.Counter

	// Tick cache circuit breaker
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter
}

// NewMetrics registers all metrics with the default registry.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers all metrics with reg.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		GapsFound: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "trader_gaps_found",
			Help: "Gaps found in the stored bar series at the last scan",
		}, []string{"instrument"}),
		RepairsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trader_gap_repairs_total",
			Help: "Gap repairs by result",
		}, []string{"result"}),
		RepairStepDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "trader_gap_repair_step_duration_seconds",
			Help:    "Elapsed time of each gap repair step",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		}, []string{"step"}),
		CatchUpRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trader_catchup_rows_total",
			Help: "Bars written by catch-up",
		}, []string{"instrument"}),

		BarsUpserted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trader_bars_upserted_total",
			Help: "Closed bars written by live ingestion",
		}, []string{"instrument"}),
		BarCycleErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trader_bar_cycle_errors_total",
			Help: "Abandoned bar ingestion cycles",
		}, []string{"instrument"}),
		TicksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trader_ticks_total",
			Help: "Tick polls by result",
		}, []string{"result"}),
		WSReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trader_ws_reconnects_total",
			Help: "Ticker stream reconnection attempts",
		}),
		ProviderReqDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "trader_provider_request_duration_seconds",
			Help:    "Market-data provider request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint", "result"}),
		LastBarUnixTime: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "trader_last_bar_published_unixtime",
			Help: "Boundary of the last published bar per instrument",
		}, []string{"instrument"}),

		FanoutDropsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trader_fanout_drops_total",
			Help: "Bar-closed events dropped per subscriber",
		}, []string{"subscriber"}),
		ChannelSaturationPct: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "trader_channel_saturation_pct",
			Help: "Subscriber channel fill percentage (len/cap * 100)",
		}, []string{"subscriber"}),

		PredictionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trader_predictions_total",
			Help: "Model predictions by label",
		}, []string{"label"}),
		PositionsOpened: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trader_positions_opened_total",
			Help: "Positions opened from neutral",
		}, []string{"position"}),
		TradesClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trader_trades_closed_total",
			Help: "Closed trades by side and trigger",
		}, []string{"side", "trigger"}),
		BotErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trader_bot_errors_total",
			Help: "Bots skipped in a cycle by reason",
		}, []string{"reason"}),
		CycleDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "trader_prediction_cycle_duration_seconds",
			Help:    "Prediction cycle latency",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
		ReadinessWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "trader_readiness_wait_seconds",
			Help:    "Time between a minute boundary and bar readiness",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30},
		}),
		ReadinessTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trader_readiness_timeouts_total",
			Help: "Cycles started by the grace deadline instead of the bus",
		}),

		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trader_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trader_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),
	}

	reg.MustRegister(
		m.GapsFound,
		m.RepairsTotal,
		m.RepairStepDur,
		m.CatchUpRows,
		m.BarsUpserted,
		m.BarCycleErrors,
		m.TicksTotal,
		m.WSReconnects,
		m.ProviderReqDur,
		m.LastBarUnixTime,
		m.FanoutDropsTotal,
		m.ChannelSaturationPct,
		m.PredictionsTotal,
		m.PositionsOpened,
		m.TradesClosed,
		m.BotErrors,
		m.CycleDur,
		m.ReadinessWait,
		m.ReadinessTimeouts,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
	)
	return m
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ContinuityHooks feeds continuity engine events into the metrics.
func (m *Metrics) ContinuityHooks() continuity.Hooks {
	return continuity.Hooks{
		OnStep: func(step string, d time.Duration) {
			m.RepairStepDur.WithLabelValues(step).Observe(d.Seconds())
		},
		OnGaps: func(instrument string, n int) {
			m.GapsFound.WithLabelValues(instrument).Set(float64(n))
		},
		OnRepair: func(_ string, err error) {
			m.RepairsTotal.WithLabelValues(result(err)).Inc()
		},
		OnCatchUp: func(instrument string, rows int64, err error) {
			if err == nil {
				m.CatchUpRows.WithLabelValues(instrument).Add(float64(rows))
			}
		},
	}
}

// ExecutionHooks feeds executor events into the metrics.
func (m *Metrics) ExecutionHooks() execution.Hooks {
	return execution.Hooks{
		OnPrediction: func(p int) {
			m.PredictionsTotal.WithLabelValues(strconv.Itoa(p)).Inc()
		},
		OnOpen: func(pos model.Position) {
			m.PositionsOpened.WithLabelValues(string(pos)).Inc()
		},
		OnClose: func(t model.Trade) {
			trigger := "prediction"
			switch {
			case t.TPTrigger:
				trigger = "take_profit"
			case t.SLTrigger:
				trigger = "stop_loss"
			}
			m.TradesClosed.WithLabelValues(string(t.Side), trigger).Inc()
		},
		OnBotError: func(reason string) {
			m.BotErrors.WithLabelValues(reason).Inc()
		},
		OnCycle: func(_ execution.CycleReport, d time.Duration) {
			m.CycleDur.Observe(d.Seconds())
		},
	}
}

// ObserveReadiness records how a readiness wait ended.
func (m *Metrics) ObserveReadiness(complete bool, waited time.Duration) {
	m.ReadinessWait.Observe(waited.Seconds())
	if !complete {
		m.ReadinessTimeouts.Inc()
	}
}

// ObserveBars records one bar ingestion cycle.
func (m *Metrics) ObserveBars(instrument string, rows int64, err error) {
	if err != nil {
		m.BarCycleErrors.WithLabelValues(instrument).Inc()
		return
	}
	m.BarsUpserted.WithLabelValues(instrument).Add(float64(rows))
	m.LastBarUnixTime.WithLabelValues(instrument).SetToCurrentTime()
}

// ObserveTick records one tick poll.
func (m *Metrics) ObserveTick(_ string, err error) {
	m.TicksTotal.WithLabelValues(result(err)).Inc()
}

// ObserveRequest records one provider request.
func (m *Metrics) ObserveRequest(endpoint string, d time.Duration, err error) {
	m.ProviderReqDur.WithLabelValues(endpoint, result(err)).Observe(d.Seconds())
}

// ObserveBreaker tracks circuit breaker transitions.
func (m *Metrics) ObserveBreaker(from, to redis.State) {
	m.RedisCircuitBreakerState.Set(float64(to))
	if to == redis.StateOpen && from != redis.StateOpen {
		m.RedisCircuitBreakerTrips.Inc()
	}
}

// ObserveDrop counts a bar-closed event dropped for a slow subscriber.
func (m *Metrics) ObserveDrop(subscriber string, _ model.BarClosed) {
	m.FanoutDropsTotal.WithLabelValues(subscriber).Inc()
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
