package execution

import (
	"context"
	"log/slog"
	"time"

	"github.com/skyi28/ML-Trader/internal/marketdata/closedetector"
	"github.com/skyi28/ML-Trader/internal/model"
)

// Loop triggers a prediction cycle at every minute boundary once the bars
// of every instrument traded by a running bot are stored, or once the
// readiness grace has elapsed.
type Loop struct {
	exec   *Executor
	events <-chan model.BarClosed
	grace  time.Duration
	log    *slog.Logger
	now    func() time.Time

	// OnReadiness observes how each wait ended.
	OnReadiness func(complete bool, waited time.Duration)
}

// NewLoop creates a Loop reading BarClosed events from events (a bus
// subscription).
func NewLoop(exec *Executor, events <-chan model.BarClosed, grace time.Duration, log *slog.Logger) *Loop {
	if grace <= 0 {
		grace = 20 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Loop{
		exec:   exec,
		events: events,
		grace:  grace,
		log:    log.With("component", "prediction_loop"),
		now:    time.Now,
	}
}

// Run blocks until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	l.log.Info("prediction loop started", "grace", l.grace)
	for {
		boundary := model.AlignMinute(l.now()).Add(model.BarInterval)
		timer := time.NewTimer(boundary.Sub(l.now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			l.log.Info("prediction loop stopped")
			return ctx.Err()
		case <-timer.C:
		}

		if err := l.RunOnce(ctx, boundary); err != nil && ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// RunOnce waits for readiness of boundary and runs one prediction cycle.
func (l *Loop) RunOnce(ctx context.Context, boundary time.Time) error {
	bots, err := l.exec.bots.RunningBots(ctx)
	if err != nil {
		l.log.Error("load running bots", "error", err)
		return err
	}
	if len(bots) == 0 {
		return nil
	}

	det := closedetector.New(boundary, closedetector.Expected(bots))
	det.MaxGrace = l.grace

	began := time.Now()
	complete, err := det.Wait(ctx, l.events)
	if err != nil {
		return err
	}
	waited := time.Since(began)
	if l.OnReadiness != nil {
		l.OnReadiness(complete, waited)
	}
	if !complete {
		l.log.Warn("bars not ready, predicting on stored data", "boundary", boundary,
			"missing", det.Missing(), "waited", waited)
	}

	_, err = l.exec.RunPredictions(ctx, boundary)
	if err != nil {
		l.log.Error("prediction cycle failed", "boundary", boundary, "error", err)
	}
	return err
}
