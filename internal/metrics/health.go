package metrics

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/bytedance/sonic"
)

// Probe checks one dependency; a nil error means it is reachable.
type Probe func(ctx context.Context) error

type depState struct {
	OK        bool    `json:"ok"`
	LatencyMs float64 `json:"latency_ms"`
	Error     string  `json:"error,omitempty"`
}

// HealthStatus tracks the overall health of the trader.
type HealthStatus struct {
	mu sync.RWMutex

	WSConnected  bool
	LastTickTime time.Time
	LastBarAt    map[string]time.Time
	LastCycleAt  time.Time
	LastCycle    string
	deps         map[string]depState
	LastCheckAt  time.Time
	StartedAt    time.Time

	now func() time.Time
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		LastBarAt: make(map[string]time.Time),
		deps:      make(map[string]depState),
		StartedAt: time.Now(),
		now:       time.Now,
	}
}

func (h *HealthStatus) SetWSConnected(v bool) {
	h.mu.Lock()
	h.WSConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastTickTime(t time.Time) {
	h.mu.Lock()
	h.LastTickTime = t
	h.mu.Unlock()
}

// SetLastBar records the boundary of the newest bar published for instrument.
func (h *HealthStatus) SetLastBar(instrument string, boundary time.Time) {
	h.mu.Lock()
	h.LastBarAt[instrument] = boundary
	h.mu.Unlock()
}

// SetLastCycle records when the last prediction cycle finished and a summary.
func (h *HealthStatus) SetLastCycle(at time.Time, summary string) {
	h.mu.Lock()
	h.LastCycleAt = at
	h.LastCycle = summary
	h.mu.Unlock()
}

// Check runs probe and records latency and reachability under name.
func (h *HealthStatus) Check(ctx context.Context, name string, probe Probe) {
	start := time.Now()
	err := probe(ctx)
	latency := time.Since(start)

	st := depState{OK: err == nil, LatencyMs: float64(latency.Microseconds()) / 1000.0}
	if err != nil {
		st.Error = err.Error()
	}

	h.mu.Lock()
	h.deps[name] = st
	h.LastCheckAt = h.now()
	h.mu.Unlock()
}

// StartLivenessChecker runs every probe once immediately and then every interval.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, probes map[string]Probe, interval time.Duration) {
	run := func() {
		probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		for name, p := range probes {
			h.Check(probeCtx, name, p)
		}
	}
	go func() {
		run()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				run()
			}
		}
	}()
}

type healthBody struct {
	Status       string              `json:"status"`
	Uptime       string              `json:"uptime"`
	WSConnected  bool                `json:"ws_connected"`
	LastTickTime string              `json:"last_tick_time,omitempty"`
	TickAge      string              `json:"tick_age,omitempty"`
	LastBars     map[string]string   `json:"last_bars"`
	LastCycleAt  string              `json:"last_cycle_at,omitempty"`
	LastCycle    string              `json:"last_cycle,omitempty"`
	Deps         map[string]depState `json:"deps"`
	Failing      []string            `json:"failing,omitempty"`
	LastCheckAt  string              `json:"last_check_at,omitempty"`
}

func fmtTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// snapshot builds the /healthz body. Any failing dependency degrades the
// status; all of them failing makes it unhealthy.
func (h *HealthStatus) snapshot() (healthBody, int) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	now := h.now()
	body := healthBody{
		Status:       "healthy",
		Uptime:       now.Sub(h.StartedAt).Round(time.Second).String(),
		WSConnected:  h.WSConnected,
		LastTickTime: fmtTime(h.LastTickTime),
		LastBars:     make(map[string]string, len(h.LastBarAt)),
		LastCycleAt:  fmtTime(h.LastCycleAt),
		LastCycle:    h.LastCycle,
		Deps:         make(map[string]depState, len(h.deps)),
		LastCheckAt:  fmtTime(h.LastCheckAt),
	}
	if !h.LastTickTime.IsZero() {
		body.TickAge = now.Sub(h.LastTickTime).Round(time.Millisecond).String()
	}
	for inst, ts := range h.LastBarAt {
		body.LastBars[inst] = fmtTime(ts)
	}
	for name, st := range h.deps {
		body.Deps[name] = st
		if !st.OK {
			body.Failing = append(body.Failing, name)
		}
	}
	sort.Strings(body.Failing)

	code := http.StatusOK
	if len(body.Failing) > 0 {
		body.Status = "degraded"
		code = http.StatusServiceUnavailable
		if len(body.Failing) == len(h.deps) {
			body.Status = "unhealthy"
		}
	}
	return body, code
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, code := h.snapshot()
	w.Header().Set("Content-Type", "application/json")
	if code != http.StatusOK {
		w.WriteHeader(code)
	}
	sonic.ConfigDefault.NewEncoder(w).Encode(body)
}
