package continuity

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/skyi28/ML-Trader/internal/model"
)

// memBars is an in-memory model.BarStore. failUpserts makes the next N
// UpsertBars calls fail.
type memBars struct {
	mu          sync.Mutex
	rows        map[string]map[time.Time]model.Bar
	failUpserts int
	failLatest  bool
	upserts     int
}

func newMemBars() *memBars {
	return &memBars{rows: make(map[string]map[time.Time]model.Bar)}
}

var errStoreDown = errors.New("store down")

func (m *memBars) UpsertBars(_ context.Context, inst string, rows []model.Bar) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upserts++
	if m.failUpserts > 0 {
		m.failUpserts--
		return 0, errStoreDown
	}
	if m.rows[inst] == nil {
		m.rows[inst] = make(map[time.Time]model.Bar)
	}
	for _, r := range rows {
		r.Instrument = inst
		m.rows[inst][r.TS] = r
	}
	return int64(len(rows)), nil
}

func (m *memBars) sorted(inst string) []model.Bar {
	out := make([]model.Bar, 0, len(m.rows[inst]))
	for _, r := range m.rows[inst] {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TS.Before(out[j].TS) })
	return out
}

func (m *memBars) RangeQuery(_ context.Context, inst string, from, to time.Time) ([]model.Bar, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Bar
	for _, r := range m.sorted(inst) {
		if r.TS.Before(from) || (!to.IsZero() && r.TS.After(to)) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (m *memBars) DeleteFrom(_ context.Context, inst string, from time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for ts := range m.rows[inst] {
		if !ts.Before(from) {
			delete(m.rows[inst], ts)
			n++
		}
	}
	return n, nil
}

func (m *memBars) Latest(_ context.Context, inst string) (*model.Bar, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failLatest {
		return nil, errStoreDown
	}
	s := m.sorted(inst)
	if len(s) == 0 {
		return nil, nil
	}
	return &s[len(s)-1], nil
}

func (m *memBars) Oldest(_ context.Context, inst string) (*model.Bar, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.sorted(inst)
	if len(s) == 0 {
		return nil, nil
	}
	return &s[0], nil
}

func (m *memBars) Timestamps(_ context.Context, inst string) ([]time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []time.Time
	for _, r := range m.sorted(inst) {
		out = append(out, r.TS)
	}
	return out, nil
}

// fakeProvider serves bars from a fixed series and records every request.
type fakeProvider struct {
	mu     sync.Mutex
	series map[string][]model.Bar
	limit  int
	err    error
	calls  [][2]time.Time
}

func newFakeProvider(limit int) *fakeProvider {
	return &fakeProvider{series: make(map[string][]model.Bar), limit: limit}
}

// fill adds one bar per minute in [from, to] with Open = Close = base + i.
func (p *fakeProvider) fill(inst string, from, to time.Time, base float64) {
	i := 0
	for ts := from; !ts.After(to); ts = ts.Add(time.Minute) {
		v := base + float64(i)
		p.series[inst] = append(p.series[inst], model.Bar{Instrument: inst, TS: ts, Open: v, Close: v})
		i++
	}
}

func (p *fakeProvider) Bars(_ context.Context, inst string, start, end time.Time, _ time.Duration, limit int) ([]model.Bar, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, [2]time.Time{start, end})
	if p.err != nil {
		return nil, p.err
	}
	var out []model.Bar
	for _, b := range p.series[inst] {
		if b.TS.Before(start) || b.TS.After(end) {
			continue
		}
		if len(out) == limit {
			break
		}
		out = append(out, b)
	}
	return out, nil
}

func (p *fakeProvider) Tick(context.Context, string) (model.Tick, error) {
	return model.Tick{}, errors.New("not implemented")
}

func (p *fakeProvider) MaxLimit() int { return p.limit }

func (p *fakeProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}
