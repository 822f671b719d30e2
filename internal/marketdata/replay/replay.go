// Package replay reads stored minute bars back out of a BarStore and emits
// them in timestamp order at a configurable speed for backtesting.
package replay

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/skyi28/ML-Trader/internal/model"
)

// maxSleep caps the simulated wait between two bars.
const maxSleep = 5 * time.Second

// Replayer streams historical bars from a BarStore.
type Replayer struct {
	bars model.BarStore
}

// New creates a Replayer backed by bars.
func New(bars model.BarStore) *Replayer {
	return &Replayer{bars: bars}
}

// Load returns the stored bars of instrument with from <= ts <= to.
// A zero to means everything after from.
func (r *Replayer) Load(ctx context.Context, instrument string, from, to time.Time) ([]model.Bar, error) {
	rows, err := r.bars.RangeQuery(ctx, instrument, from, to)
	if err != nil {
		return nil, fmt.Errorf("replay load %s: %w", instrument, err)
	}
	for i := range rows {
		rows[i].Instrument = instrument
	}
	return rows, nil
}

// Run emits the bars of instrument in [from, to] into out and returns the
// number emitted. speed controls the playback rate: 1.0 = real-time,
// 60 = one bar per second, 0 = as fast as possible.
func (r *Replayer) Run(ctx context.Context, instrument string, from, to time.Time, speed float64, out chan<- model.Bar) (int, error) {
	rows, err := r.Load(ctx, instrument, from, to)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		log.Printf("[replay] no bars stored for %s", instrument)
		return 0, nil
	}
	log.Printf("[replay] loaded %d bars for %s, speed=%.1fx", len(rows), instrument, speed)

	var prevTS time.Time
	emitted := 0
	for _, b := range rows {
		if speed > 0 && !prevTS.IsZero() {
			if gap := b.TS.Sub(prevTS); gap > 0 {
				scaled := time.Duration(float64(gap) / speed)
				if scaled > maxSleep {
					scaled = maxSleep
				}
				select {
				case <-ctx.Done():
					return emitted, ctx.Err()
				case <-time.After(scaled):
				}
			}
		}
		prevTS = b.TS

		select {
		case <-ctx.Done():
			log.Printf("[replay] cancelled after %d bars", emitted)
			return emitted, ctx.Err()
		case out <- b:
			emitted++
		}
	}

	log.Printf("[replay] completed: %d bars replayed", emitted)
	return emitted, nil
}
