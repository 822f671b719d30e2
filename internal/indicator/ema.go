package indicator

// EMA calculates the adjusted Exponential Moving Average with
// alpha = 2/(span+1): every past sample keeps a geometrically decaying weight
// and the sum of weights normalizes the result, so early values are not
// biased toward the first sample. O(1) per update.
type EMA struct {
	period int
	decay  float64 // 1 - alpha
	num    float64
	den    float64
	count  int
}

// NewEMA creates a new EMA indicator with the given span.
func NewEMA(period int) *EMA {
	return &EMA{
		period: period,
		decay:  1 - 2.0/float64(period+1),
	}
}

func (e *EMA) Name() string { return ColEMA }

func (e *EMA) Update(v float64) {
	e.num = v + e.decay*e.num
	e.den = 1 + e.decay*e.den
	e.count++
}

func (e *EMA) Value() float64 {
	if e.den == 0 {
		return 0
	}
	return e.num / e.den
}

func (e *EMA) Ready() bool { return e.count >= e.period }
func (e *EMA) Warmup() int { return e.period }
