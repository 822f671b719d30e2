package indicator

import "math"

// Extreme tracks the rolling maximum (periodic highs) or minimum (periodic
// lows) of the last period samples.
type Extreme struct {
	name   string
	period int
	win    window
	max    bool
}

// NewPeriodicHigh returns the rolling maximum over period samples.
func NewPeriodicHigh(period int) *Extreme {
	return &Extreme{name: ColPeriodicHighs, period: period, win: newWindow(period), max: true}
}

// NewPeriodicLow returns the rolling minimum over period samples.
func NewPeriodicLow(period int) *Extreme {
	return &Extreme{name: ColPeriodicLows, period: period, win: newWindow(period)}
}

func (e *Extreme) Name() string { return e.name }

func (e *Extreme) Update(v float64) { e.win.push(v) }

func (e *Extreme) Value() float64 {
	out := math.Inf(1)
	if e.max {
		out = math.Inf(-1)
	}
	e.win.each(func(v float64) {
		if e.max && v > out || !e.max && v < out {
			out = v
		}
	})
	return out
}

func (e *Extreme) Ready() bool { return e.win.filled() }
func (e *Extreme) Warmup() int { return e.period }
