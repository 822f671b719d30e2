package indicator

// Momentum is the difference between the current sample and the sample
// period steps earlier.
type Momentum struct {
	period int
	win    window // period+1 samples: oldest is x[t-period]
	last   float64
}

// NewMomentum creates a momentum indicator.
func NewMomentum(period int) *Momentum {
	return &Momentum{period: period, win: newWindow(period + 1)}
}

func (m *Momentum) Name() string { return ColMomentum }

func (m *Momentum) Update(v float64) {
	m.win.push(v)
	m.last = v
}

func (m *Momentum) Value() float64 { return m.last - m.win.oldest() }
func (m *Momentum) Ready() bool    { return m.win.filled() }
func (m *Momentum) Warmup() int    { return m.period + 1 }
