package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/skyi28/ML-Trader/internal/continuity"
	"github.com/skyi28/ML-Trader/internal/indicator"
	"github.com/skyi28/ML-Trader/internal/model"
)

// Publisher receives a BarClosed event after an instrument's bars for a
// boundary were stored. *bus.FanOut satisfies it.
type Publisher interface {
	Publish(ev model.BarClosed)
}

// BarLoopConfig configures a BarLoop.
type BarLoopConfig struct {
	Instruments []string
	// Delay after each minute boundary before fetching, to let the provider
	// publish the closed bar.
	Delay time.Duration
	// Limit bounds how far back a single cycle reaches; older holes are left
	// to the continuity sweep.
	Limit int
}

// BarLoop appends closed minute bars with their indicator columns at every
// minute boundary and announces them on the bus.
type BarLoop struct {
	cfg      BarLoopConfig
	bars     model.BarStore
	provider model.Provider
	ind      *indicator.Set
	locks    *continuity.Locker
	pub      Publisher
	log      *slog.Logger
	now      func() time.Time

	// OnBars is called after every instrument cycle.
	OnBars func(instrument string, rows int64, err error)
}

// NewBarLoop wires a BarLoop. locks must be the Locker shared with the
// continuity engine.
func NewBarLoop(cfg BarLoopConfig, bars model.BarStore, p model.Provider, ind *indicator.Set,
	locks *continuity.Locker, pub Publisher, log *slog.Logger) *BarLoop {
	if cfg.Limit <= 0 || cfg.Limit > p.MaxLimit() {
		cfg.Limit = p.MaxLimit()
	}
	if log == nil {
		log = slog.Default()
	}
	return &BarLoop{
		cfg:      cfg,
		bars:     bars,
		provider: p,
		ind:      ind,
		locks:    locks,
		pub:      pub,
		log:      log.With("component", "bar_loop"),
		now:      time.Now,
	}
}

// Run waits for each minute boundary plus Delay and runs a cycle, until ctx
// is cancelled.
func (bl *BarLoop) Run(ctx context.Context) {
	bl.log.Info("bar loop started", "instruments", bl.cfg.Instruments, "delay", bl.cfg.Delay)
	for {
		boundary := model.AlignMinute(bl.now()).Add(model.BarInterval)
		wait := boundary.Add(bl.cfg.Delay).Sub(bl.now())

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			bl.log.Info("bar loop stopped")
			return
		case <-timer.C:
		}
		bl.Cycle(ctx, boundary)
	}
}

// Cycle stores the closed bars of every instrument for boundary. An
// instrument whose fetch or write fails is logged and skipped, and so is one
// whose provider has not published the bar ending at boundary yet: no event
// is published for either, which leaves readiness to the grace deadline.
func (bl *BarLoop) Cycle(ctx context.Context, boundary time.Time) {
	for _, inst := range bl.cfg.Instruments {
		rows, newest, err := bl.closeBars(ctx, inst, boundary)
		if bl.OnBars != nil {
			bl.OnBars(inst, rows, err)
		}
		if err != nil {
			bl.log.Error("bar cycle abandoned", "instrument", inst, "boundary", boundary, "error", err)
			continue
		}
		if closed := boundary.Add(-model.BarInterval); newest.Before(closed) {
			bl.log.Warn("closed bar not published yet", "instrument", inst, "boundary", boundary,
				"want", closed, "stored_through", newest)
			continue
		}
		bl.pub.Publish(model.BarClosed{Instrument: inst, Boundary: boundary, Rows: rows})
	}
}

// CloseBars fetches every bar after the newest stored one and before
// boundary, computes indicators with warm-up history and upserts them. It
// holds the instrument lock for the whole read-compute-write.
func (bl *BarLoop) CloseBars(ctx context.Context, inst string, boundary time.Time) (int64, error) {
	n, _, err := bl.closeBars(ctx, inst, boundary)
	return n, err
}

// closeBars is CloseBars that also reports the newest timestamp stored
// afterwards (zero for an empty series).
func (bl *BarLoop) closeBars(ctx context.Context, inst string, boundary time.Time) (rows int64, newest time.Time, err error) {
	unlock := bl.locks.Lock(inst)
	defer unlock()

	step := model.BarInterval
	end := boundary.Add(-step)
	floor := boundary.Add(-time.Duration(bl.cfg.Limit) * step)

	from := floor
	latest, err := bl.bars.Latest(ctx, inst)
	if err != nil {
		return 0, newest, fmt.Errorf("latest bar: %w", err)
	}
	if latest != nil {
		newest = latest.TS
		if latest.TS.After(floor) {
			from = latest.TS.Add(step)
		}
	}
	if from.After(end) {
		return 0, newest, nil
	}

	fetched, err := continuity.FetchRange(ctx, bl.provider, inst, from, end, step, bl.cfg.Limit)
	if err != nil {
		return 0, newest, err
	}
	if len(fetched) == 0 {
		return 0, newest, nil
	}

	history, err := continuity.History(ctx, bl.bars, inst, fetched[0].TS, bl.ind.Warmup(), step)
	if err != nil {
		bl.log.Warn("warm-up history unavailable", "instrument", inst, "error", err)
		history = nil
	}
	series := append(history, fetched...)
	bl.ind.Apply(series)

	rows, err = bl.bars.UpsertBars(ctx, inst, series[len(history):])
	if err != nil {
		return 0, newest, fmt.Errorf("upsert bars: %w", err)
	}
	if last := fetched[len(fetched)-1].TS; last.After(newest) {
		newest = last
	}
	bl.log.Debug("bars closed", "instrument", inst, "boundary", boundary, "rows", rows)
	return rows, newest, nil
}
