// Package closedetector decides when every instrument's bar for a minute
// boundary has been stored, so the prediction cycle can start without a
// fixed settle delay.
package closedetector

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/skyi28/ML-Trader/internal/model"
)

// Detector tracks BarClosed events for one boundary. It is ready once every
// expected instrument has reported, or once MaxGrace has passed since the
// boundary, whichever comes first.
type Detector struct {
	mu       sync.Mutex
	boundary time.Time
	expected map[string]struct{}
	seen     map[string]struct{}

	// MaxGrace is the hard deadline after the boundary. Default: 20 seconds.
	MaxGrace time.Duration

	now func() time.Time
}

// New creates a Detector for boundary waiting on the given instruments.
// An empty expected set is ready immediately.
func New(boundary time.Time, expected []string) *Detector {
	d := &Detector{
		boundary: boundary,
		expected: make(map[string]struct{}, len(expected)),
		seen:     make(map[string]struct{}, len(expected)),
		MaxGrace: 20 * time.Second,
		now:      time.Now,
	}
	for _, inst := range expected {
		d.expected[inst] = struct{}{}
	}
	return d
}

// Boundary returns the minute boundary being tracked.
func (d *Detector) Boundary() time.Time { return d.boundary }

// Deadline is the boundary plus MaxGrace.
func (d *Detector) Deadline() time.Time { return d.boundary.Add(d.MaxGrace) }

// Observe records an event and reports whether the detector is now ready.
// Events for other boundaries or unexpected instruments are ignored.
func (d *Detector) Observe(ev model.BarClosed, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ev.Boundary.Equal(d.boundary) {
		if _, ok := d.expected[ev.Instrument]; ok {
			d.seen[ev.Instrument] = struct{}{}
		}
	}
	return d.readyLocked(now)
}

// Ready reports whether every expected instrument reported or the deadline
// passed.
func (d *Detector) Ready(now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.readyLocked(now)
}

// Complete reports whether every expected instrument reported.
func (d *Detector) Complete() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen) == len(d.expected)
}

func (d *Detector) readyLocked(now time.Time) bool {
	if len(d.seen) == len(d.expected) {
		return true
	}
	return !now.Before(d.Deadline())
}

// Missing returns the expected instruments that have not reported, sorted.
func (d *Detector) Missing() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []string
	for inst := range d.expected {
		if _, ok := d.seen[inst]; !ok {
			out = append(out, inst)
		}
	}
	sort.Strings(out)
	return out
}

// Wait consumes events until the detector is ready or ctx is done. It
// returns true when the expected set completed and false when the deadline
// cut the wait short. A closed events channel ends the wait at the deadline.
func (d *Detector) Wait(ctx context.Context, events <-chan model.BarClosed) (bool, error) {
	if d.Ready(d.now()) {
		return d.Complete(), nil
	}
	timer := time.NewTimer(d.Deadline().Sub(d.now()))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-timer.C:
			log.Printf("[closedetector] grace %v elapsed for %s, missing %v",
				d.MaxGrace, d.boundary.Format(time.RFC3339), d.Missing())
			return false, nil
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if d.Observe(ev, d.now()) {
				return d.Complete(), nil
			}
		}
	}
}

// Expected builds the expected instrument set from running bots.
func Expected(bots []model.Bot) []string {
	set := make(map[string]struct{}, len(bots))
	for _, b := range bots {
		set[b.Instrument] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for inst := range set {
		out = append(out, inst)
	}
	sort.Strings(out)
	return out
}
