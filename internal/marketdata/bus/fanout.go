// Package bus broadcasts bar-closed events from ingestion to any number of
// consumers (the execution loop, metrics, backtest replays).
package bus

import (
	"log"
	"sync"

	"github.com/skyi28/ML-Trader/internal/model"
)

// FanOut broadcasts BarClosed events to every subscriber. A subscriber whose
// buffer is full misses the event instead of stalling ingestion.
type FanOut struct {
	mu      sync.RWMutex
	subs    []subscriber
	bufSize int
	closed  bool

	// OnDrop is called when an event is dropped for a subscriber.
	OnDrop func(subscriber string, ev model.BarClosed)
}

type subscriber struct {
	name string
	ch   chan model.BarClosed
}

// New creates a FanOut whose subscriber channels buffer bufSize events.
func New(bufSize int) *FanOut {
	return &FanOut{bufSize: bufSize}
}

// Subscribe registers a named consumer and returns its channel. The channel
// is closed when Close is called.
func (f *FanOut) Subscribe(name string) <-chan model.BarClosed {
	ch := make(chan model.BarClosed, f.bufSize)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		close(ch)
		return ch
	}
	f.subs = append(f.subs, subscriber{name: name, ch: ch})
	return ch
}

// Publish delivers ev to every subscriber without blocking.
func (f *FanOut) Publish(ev model.BarClosed) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return
	}
	for _, s := range f.subs {
		select {
		case s.ch <- ev:
		default:
			if f.OnDrop != nil {
				f.OnDrop(s.name, ev)
			} else {
				log.Printf("[bus] subscriber %s full, dropping %s@%s", s.name, ev.Instrument, ev.Boundary.Format("15:04"))
			}
		}
	}
}

// Close closes every subscriber channel. Later publishes are ignored.
func (f *FanOut) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for _, s := range f.subs {
		close(s.ch)
	}
}

// ChannelStat is the fill level of one subscriber channel.
type ChannelStat struct {
	Name string
	Len  int
	Cap  int
}

// ChannelStats returns the fill level of every subscriber, used for the
// saturation gauge.
func (f *FanOut) ChannelStats() []ChannelStat {
	f.mu.RLock()
	defer f.mu.RUnlock()
	stats := make([]ChannelStat, len(f.subs))
	for i, s := range f.subs {
		stats[i] = ChannelStat{Name: s.name, Len: len(s.ch), Cap: cap(s.ch)}
	}
	return stats
}
