package indicator

import "math"

// RSI calculates the Relative Strength Index from rolling means of gains and
// losses over the last period price changes. The first sample contributes a
// zero change, so the first defined value appears after period samples.
type RSI struct {
	period int
	gains  window
	losses window
	gSum   float64
	lSum   float64
	prev   float64
	count  int
}

// NewRSI creates a new RSI indicator with the given period (typically 14).
func NewRSI(period int) *RSI {
	return &RSI{
		period: period,
		gains:  newWindow(period),
		losses: newWindow(period),
	}
}

func (r *RSI) Name() string { return ColRSI }

func (r *RSI) Update(v float64) {
	gain, loss := 0.0, 0.0
	if r.count > 0 {
		if d := v - r.prev; d > 0 {
			gain = d
		} else {
			loss = -d
		}
	}
	r.prev = v
	r.count++

	eg, _ := r.gains.push(gain)
	el, _ := r.losses.push(loss)
	r.gSum += gain - eg
	r.lSum += loss - el
}

// Value returns NaN when the window saw no movement at all.
func (r *RSI) Value() float64 {
	if r.lSum <= 0 {
		if r.gSum <= 0 {
			return math.NaN()
		}
		return 100.0
	}
	rs := r.gSum / r.lSum
	return 100.0 - (100.0 / (1.0 + rs))
}

func (r *RSI) Ready() bool { return r.count >= r.period }
func (r *RSI) Warmup() int { return r.period }
