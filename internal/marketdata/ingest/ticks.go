// Package ingest keeps the live tick row and the closed minute bars of every
// configured instrument up to date.
package ingest

import (
	"context"
	"log/slog"
	"time"

	"github.com/skyi28/ML-Trader/internal/model"
)

// TickPoller polls the provider's quote snapshot and writes it to the tick
// store on a fixed interval.
type TickPoller struct {
	provider    model.Provider
	store       model.TickStore
	instruments []string
	interval    time.Duration
	log         *slog.Logger

	// OnTick is called after every poll with the store error, if any.
	OnTick func(instrument string, err error)
}

// NewTickPoller creates a poller. interval defaults to one second.
func NewTickPoller(p model.Provider, store model.TickStore, instruments []string, interval time.Duration, log *slog.Logger) *TickPoller {
	if interval <= 0 {
		interval = time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &TickPoller{
		provider:    p,
		store:       store,
		instruments: instruments,
		interval:    interval,
		log:         log.With("component", "tick_poller"),
	}
}

// Run polls until ctx is cancelled.
func (tp *TickPoller) Run(ctx context.Context) {
	ticker := time.NewTicker(tp.interval)
	defer ticker.Stop()

	tp.log.Info("tick poller started", "instruments", tp.instruments, "interval", tp.interval)
	for {
		tp.PollOnce(ctx)
		select {
		case <-ctx.Done():
			tp.log.Info("tick poller stopped")
			return
		case <-ticker.C:
		}
	}
}

// PollOnce refreshes every instrument once. Failures are logged per
// instrument and never stop the others.
func (tp *TickPoller) PollOnce(ctx context.Context) {
	for _, inst := range tp.instruments {
		err := tp.poll(ctx, inst)
		if err != nil && ctx.Err() == nil {
			tp.log.Warn("tick poll failed", "instrument", inst, "error", err)
		}
		if tp.OnTick != nil {
			tp.OnTick(inst, err)
		}
	}
}

func (tp *TickPoller) poll(ctx context.Context, inst string) error {
	tick, err := tp.provider.Tick(ctx, inst)
	if err != nil {
		return err
	}
	tick.Instrument = inst
	if tick.ObservedAt.IsZero() {
		tick.ObservedAt = time.Now().UTC()
	}
	return tp.store.UpsertTick(ctx, tick)
}
