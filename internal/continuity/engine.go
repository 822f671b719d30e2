// Package continuity keeps every stored minute-bar series gap-free: it finds
// holes in the timestamp column, refills them from the market-data provider
// and catches a series up to the present after downtime.
package continuity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/skyi28/ML-Trader/internal/indicator"
	"github.com/skyi28/ML-Trader/internal/model"
)

// Repair step names, used as log and metric labels.
const (
	StepHold    = "hold_tail"
	StepDelete  = "delete_tail"
	StepFetch   = "fetch"
	StepCompute = "compute"
	StepUpsert  = "upsert"
	StepRestore = "restore_tail"
)

// Hooks receive engine measurements. Nil fields are skipped.
type Hooks struct {
	OnStep    func(step string, d time.Duration)
	OnGaps    func(instrument string, n int)
	OnRepair  func(instrument string, err error)
	OnCatchUp func(instrument string, rows int64, err error)
}

// RepairReport describes one completed (or failed) gap repair.
type RepairReport struct {
	Instrument string
	Gap        model.Gap
	TailRows   int
	Deleted    int64
	Fetched    int
	Upserted   int64
	Restored   int64
	Steps      map[string]time.Duration
	Elapsed    time.Duration
}

// Engine is the data continuity engine. It is safe for concurrent use;
// writes to one instrument are serialized through the shared Locker.
type Engine struct {
	bars     model.BarStore
	provider model.Provider
	ind      *indicator.Set
	locks    *Locker

	log        *slog.Logger
	now        func() time.Time
	hooks      Hooks
	resolution time.Duration
	lookback   time.Duration
	pageLimit  int
}

// Option configures an Engine.
type Option func(*Engine)

func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.log = l } }
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }
func WithHooks(h Hooks) Option { return func(e *Engine) { e.hooks = h } }
func WithResolution(d time.Duration) Option { return func(e *Engine) { e.resolution = d } }
func WithLookback(d time.Duration) Option { return func(e *Engine) { e.lookback = d } }
func WithPageLimit(n int) Option { return func(e *Engine) { e.pageLimit = n } }

// New builds an engine. A nil locks gets a private Locker, which only
// serializes the engine against itself.
func New(bars model.BarStore, provider model.Provider, ind *indicator.Set, locks *Locker, opts ...Option) *Engine {
	if locks == nil {
		locks = NewLocker()
	}
	e := &Engine{
		bars:       bars,
		provider:   provider,
		ind:        ind,
		locks:      locks,
		log:        slog.Default(),
		now:        time.Now,
		resolution: model.BarInterval,
		lookback:   30 * 24 * time.Hour,
	}
	for _, o := range opts {
		o(e)
	}
	if e.pageLimit <= 0 {
		e.pageLimit = provider.MaxLimit()
	}
	e.log = e.log.With("component", "continuity")
	return e
}

// FindGaps returns every hole in the stored series, ascending.
func (e *Engine) FindGaps(ctx context.Context, instrument string) ([]model.Gap, error) {
	ts, err := e.bars.Timestamps(ctx, instrument)
	if err != nil {
		return nil, fmt.Errorf("find gaps %s: %w", instrument, err)
	}
	gaps := Gaps(ts, e.resolution)
	if e.hooks.OnGaps != nil {
		e.hooks.OnGaps(instrument, len(gaps))
	}
	return gaps, nil
}

// CheckContinuity reports whether every consecutive pair of stored rows is
// exactly one resolution apart.
func (e *Engine) CheckContinuity(ctx context.Context, instrument string) (bool, []Violation, error) {
	ts, err := e.bars.Timestamps(ctx, instrument)
	if err != nil {
		return false, nil, fmt.Errorf("check continuity %s: %w", instrument, err)
	}
	v := Violations(ts, e.resolution)
	return len(v) == 0, v, nil
}

// Repair refills one gap. Rows from gap.Start onward are held in memory,
// deleted, replaced by the provider's rows for [gap.Start, gap.End] and then
// written back verbatim. If fetching or writing fails the held rows are put
// back before the error is returned.
func (e *Engine) Repair(ctx context.Context, instrument string, gap model.Gap) (RepairReport, error) {
	unlock := e.locks.Lock(instrument)
	defer unlock()
	return e.repair(ctx, instrument, gap)
}

// RepairAll finds and repairs every gap, oldest first. It stops at the first
// failure; the remaining gaps are picked up by the next sweep.
func (e *Engine) RepairAll(ctx context.Context, instrument string) ([]RepairReport, error) {
	unlock := e.locks.Lock(instrument)
	defer unlock()
	return e.repairAll(ctx, instrument)
}

func (e *Engine) repairAll(ctx context.Context, instrument string) ([]RepairReport, error) {
	gaps, err := e.FindGaps(ctx, instrument)
	if err != nil {
		return nil, err
	}
	if len(gaps) == 0 {
		return nil, nil
	}
	e.log.Info("gaps found", "instrument", instrument, "count", len(gaps))

	reports := make([]RepairReport, 0, len(gaps))
	for _, g := range gaps {
		rep, err := e.repair(ctx, instrument, g)
		if err != nil {
			return reports, err
		}
		reports = append(reports, rep)
	}
	return reports, nil
}

func (e *Engine) repair(ctx context.Context, instrument string, gap model.Gap) (rep RepairReport, err error) {
	began := time.Now()
	rep = RepairReport{Instrument: instrument, Gap: gap, Steps: make(map[string]time.Duration, 6)}
	log := e.log.With("instrument", instrument, "gap_start", gap.Start, "gap_end", gap.End)

	defer func() {
		rep.Elapsed = time.Since(began)
		if e.hooks.OnRepair != nil {
			e.hooks.OnRepair(instrument, err)
		}
		if err != nil {
			log.Error("gap repair failed", "error", err, "elapsed", rep.Elapsed)
			return
		}
		log.Info("gap repaired", "fetched", rep.Fetched, "upserted", rep.Upserted,
			"restored", rep.Restored, "elapsed", rep.Elapsed)
	}()

	// 1. hold the tail
	t := time.Now()
	tail, err := e.bars.RangeQuery(ctx, instrument, gap.Start, time.Time{})
	if err != nil {
		return rep, fmt.Errorf("hold tail: %w", err)
	}
	rep.TailRows = len(tail)
	e.step(log, &rep, StepHold, t)

	t = time.Now()
	deleted, err := e.bars.DeleteFrom(ctx, instrument, gap.Start)
	rep.Deleted = deleted
	e.step(log, &rep, StepDelete, t)

	restored := false
	defer func() {
		if err == nil || restored {
			return
		}
		n, rerr := e.restore(ctx, log, &rep, instrument, tail)
		rep.Restored = n
		if rerr != nil {
			err = errors.Join(err, fmt.Errorf("restore tail: %w", rerr))
		}
	}()
	if err != nil {
		return rep, fmt.Errorf("delete tail: %w", err)
	}

	// 2. fetch and compute
	t = time.Now()
	fetched, err := FetchRange(ctx, e.provider, instrument, gap.Start, gap.End, e.resolution, e.pageLimit)
	if err != nil {
		return rep, err
	}
	rep.Fetched = len(fetched)
	e.step(log, &rep, StepFetch, t)

	t = time.Now()
	e.ind.Apply(fetched)
	e.step(log, &rep, StepCompute, t)

	// 3. upsert the refilled range
	t = time.Now()
	n, err := e.bars.UpsertBars(ctx, instrument, fetched)
	if err != nil {
		return rep, fmt.Errorf("upsert fetched: %w", err)
	}
	rep.Upserted = n
	e.step(log, &rep, StepUpsert, t)

	// 4. put the tail back as it was
	n, err = e.restore(ctx, log, &rep, instrument, tail)
	if err != nil {
		return rep, fmt.Errorf("restore tail: %w", err)
	}
	restored = true
	rep.Restored = n
	return rep, nil
}

// restore re-inserts the held rows. It ignores cancellation of ctx: a repair
// interrupted by shutdown must still leave the tail in place.
func (e *Engine) restore(ctx context.Context, log *slog.Logger, rep *RepairReport, instrument string, tail []model.Bar) (int64, error) {
	if len(tail) == 0 {
		return 0, nil
	}
	t := time.Now()
	n, err := e.bars.UpsertBars(context.WithoutCancel(ctx), instrument, tail)
	e.step(log, rep, StepRestore, t)
	return n, err
}

func (e *Engine) step(log *slog.Logger, rep *RepairReport, name string, began time.Time) {
	d := time.Since(began)
	rep.Steps[name] += d
	if e.hooks.OnStep != nil {
		e.hooks.OnStep(name, d)
	}
	log.Debug("repair step", "step", name, "elapsed", d)
}

// CatchUp appends everything between the newest stored bar and the last
// closed minute. An empty series, or one whose newest row cannot be read,
// starts from now minus the lookback. Indicators are computed with a warm-up
// window of stored history in front of the fetched rows.
func (e *Engine) CatchUp(ctx context.Context, instrument string) (int64, error) {
	unlock := e.locks.Lock(instrument)
	defer unlock()
	return e.catchUp(ctx, instrument)
}

func (e *Engine) catchUp(ctx context.Context, instrument string) (rows int64, err error) {
	defer func() {
		if e.hooks.OnCatchUp != nil {
			e.hooks.OnCatchUp(instrument, rows, err)
		}
	}()

	// the bar for the current minute is still forming
	end := model.AlignMinute(e.now()).Add(-e.resolution)
	from := end.Add(-e.lookback)

	latest, err := e.bars.Latest(ctx, instrument)
	switch {
	case err != nil:
		e.log.Warn("latest bar unavailable, using lookback", "instrument", instrument, "error", err)
	case latest != nil:
		from = latest.TS
	}
	if from.After(end) {
		return 0, nil
	}

	fetched, err := FetchRange(ctx, e.provider, instrument, from, end, e.resolution, e.pageLimit)
	if err != nil {
		return 0, fmt.Errorf("catch up %s: %w", instrument, err)
	}
	if len(fetched) == 0 {
		return 0, nil
	}

	history := e.history(ctx, instrument, fetched[0].TS)
	series := append(history, fetched...)
	e.ind.Apply(series)

	rows, err = e.bars.UpsertBars(ctx, instrument, series[len(history):])
	if err != nil {
		return 0, fmt.Errorf("catch up %s: %w", instrument, err)
	}
	e.log.Info("caught up", "instrument", instrument, "from", from, "to", end, "rows", rows)
	return rows, nil
}

// history returns the warm-up rows in front of ts. A read error is logged and
// treated as no history.
func (e *Engine) history(ctx context.Context, instrument string, ts time.Time) []model.Bar {
	rows, err := History(ctx, e.bars, instrument, ts, e.ind.Warmup(), e.resolution)
	if err != nil {
		e.log.Warn("warm-up history unavailable", "instrument", instrument, "error", err)
		return nil
	}
	return rows
}

// History returns up to n stored rows strictly before ts, ascending.
func History(ctx context.Context, bars model.BarStore, instrument string, ts time.Time, n int, step time.Duration) ([]model.Bar, error) {
	if n <= 0 {
		return nil, nil
	}
	return bars.RangeQuery(ctx, instrument, ts.Add(-time.Duration(n)*step), ts.Add(-step))
}

// Sweep catches up and repairs each instrument in turn. A failing instrument
// is logged and does not stop the others; the joined errors are returned.
func (e *Engine) Sweep(ctx context.Context, instruments []string) error {
	return e.sweep(ctx, instruments, false)
}

// RunSweeps calls Sweep every interval until ctx is done. An instrument whose
// lock is held, usually by the bar loop, is skipped until the next tick.
func (e *Engine) RunSweeps(ctx context.Context, instruments []string, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.sweep(ctx, instruments, true); err != nil && ctx.Err() == nil {
				e.log.Warn("sweep finished with errors", "error", err)
			}
		}
	}
}

func (e *Engine) sweep(ctx context.Context, instruments []string, skipBusy bool) error {
	var errs []error
	for _, inst := range instruments {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		var unlock func()
		if skipBusy {
			var ok bool
			if unlock, ok = e.locks.TryLock(inst); !ok {
				e.log.Debug("instrument busy, sweep skipped", "instrument", inst)
				continue
			}
		} else {
			unlock = e.locks.Lock(inst)
		}
		if _, err := e.catchUp(ctx, inst); err != nil {
			e.log.Error("catch up failed", "instrument", inst, "error", err)
			errs = append(errs, err)
		}
		if _, err := e.repairAll(ctx, inst); err != nil {
			errs = append(errs, fmt.Errorf("repair %s: %w", inst, err))
		}
		unlock()
	}
	return errors.Join(errs...)
}
