package backtest

import (
	"context"
	"fmt"
	"time"

	"github.com/skyi28/ML-Trader/internal/model"
)

// market exposes a replayed series as if the newest stored bar were the one
// at cursor, and quotes its close as the live tick.
type market struct {
	instrument string
	bars       []model.Bar
	cursor     int
}

func (m *market) visible() []model.Bar { return m.bars[:m.cursor+1] }

func (m *market) current() model.Bar { return m.bars[m.cursor] }

func (m *market) UpsertBars(context.Context, string, []model.Bar) (int64, error) {
	return 0, fmt.Errorf("backtest market is read-only")
}

func (m *market) DeleteFrom(context.Context, string, time.Time) (int64, error) {
	return 0, fmt.Errorf("backtest market is read-only")
}

func (m *market) RangeQuery(_ context.Context, instrument string, from, to time.Time) ([]model.Bar, error) {
	if instrument != m.instrument {
		return nil, nil
	}
	var out []model.Bar
	for _, b := range m.visible() {
		if b.TS.Before(from) || (!to.IsZero() && b.TS.After(to)) {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

func (m *market) Latest(_ context.Context, instrument string) (*model.Bar, error) {
	if instrument != m.instrument {
		return nil, nil
	}
	b := m.current()
	return &b, nil
}

func (m *market) Oldest(_ context.Context, instrument string) (*model.Bar, error) {
	if instrument != m.instrument {
		return nil, nil
	}
	b := m.bars[0]
	return &b, nil
}

func (m *market) Timestamps(_ context.Context, instrument string) ([]time.Time, error) {
	if instrument != m.instrument {
		return nil, nil
	}
	vis := m.visible()
	out := make([]time.Time, len(vis))
	for i, b := range vis {
		out[i] = b.TS
	}
	return out, nil
}

func (m *market) UpsertTick(context.Context, model.Tick) error {
	return fmt.Errorf("backtest market is read-only")
}

func (m *market) Tick(_ context.Context, instrument string) (*model.Tick, error) {
	if instrument != m.instrument {
		return nil, fmt.Errorf("tick %s: %w", instrument, model.ErrNotFound)
	}
	b := m.current()
	return &model.Tick{
		Instrument: instrument,
		ObservedAt: b.TS.Add(model.BarInterval),
		LastPrice:  b.Close,
	}, nil
}

var (
	_ model.BarStore  = (*market)(nil)
	_ model.TickStore = (*market)(nil)
)
