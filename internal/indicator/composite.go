package indicator

// MACD is the difference between a shorter and a longer simple moving average.
type MACD struct {
	fast *SMA
	slow *SMA
}

// NewMACD creates a MACD over the given SMA periods.
func NewMACD(shorter, longer int) *MACD {
	return &MACD{fast: NewSMA(shorter), slow: NewSMA(longer)}
}

func (m *MACD) Name() string { return ColMACD }

func (m *MACD) Update(v float64) {
	m.fast.Update(v)
	m.slow.Update(v)
}

func (m *MACD) Value() float64 { return m.fast.Value() - m.slow.Value() }
func (m *MACD) Ready() bool    { return m.fast.Ready() && m.slow.Ready() }
func (m *MACD) Warmup() int    { return max(m.fast.Warmup(), m.slow.Warmup()) }

// BollingerBand is one band of a Bollinger envelope: the period SMA offset by
// k standard deviations (k < 0 for the lower band).
type BollingerBand struct {
	name string
	k    float64
	mid  *SMA
	std  *MovingStd
}

// NewBollingerBands returns the lower and upper bands.
func NewBollingerBands(period int, stdDev float64) (lower, upper *BollingerBand) {
	lower = &BollingerBand{name: ColLowerBollinger, k: -stdDev, mid: NewSMA(period), std: NewMovingStd(period)}
	upper = &BollingerBand{name: ColUpperBollinger, k: stdDev, mid: NewSMA(period), std: NewMovingStd(period)}
	return lower, upper
}

func (b *BollingerBand) Name() string { return b.name }

func (b *BollingerBand) Update(v float64) {
	b.mid.Update(v)
	b.std.Update(v)
}

func (b *BollingerBand) Value() float64 { return b.mid.Value() + b.k*b.std.Value() }
func (b *BollingerBand) Ready() bool    { return b.mid.Ready() }
func (b *BollingerBand) Warmup() int    { return b.mid.Warmup() }
