package indicator

import "math"

// MovingStd calculates the rolling sample standard deviation (n-1 divisor).
type MovingStd struct {
	period int
	win    window
	sum    float64
	sumSq  float64
}

// NewMovingStd creates a rolling standard deviation over period samples.
func NewMovingStd(period int) *MovingStd {
	return &MovingStd{period: period, win: newWindow(period)}
}

func (m *MovingStd) Name() string { return ColMovingStd }

func (m *MovingStd) Update(v float64) {
	evicted, full := m.win.push(v)
	if full {
		m.sum -= evicted
		m.sumSq -= evicted * evicted
	}
	m.sum += v
	m.sumSq += v * v
}

func (m *MovingStd) Value() float64 {
	if m.period < 2 {
		return math.NaN()
	}
	n := float64(m.period)
	variance := (m.sumSq - m.sum*m.sum/n) / (n - 1)
	if variance < 0 {
		// float cancellation on flat series
		variance = 0
	}
	return math.Sqrt(variance)
}

func (m *MovingStd) Ready() bool { return m.win.filled() }
func (m *MovingStd) Warmup() int { return m.period }
