// Package indicator provides technical indicator calculations over a price
// series.
//
// All indicators implement the Indicator interface: they receive one sample
// at a time and expose the current value once their warm-up window is full.
// Set groups configured indicators into named bar columns.
package indicator

// Indicator is the interface for all technical indicators.
type Indicator interface {
	// Name returns the column name the indicator writes (e.g. "moving_average").
	Name() string

	// Update feeds the next sample of the series.
	Update(v float64)

	// Value returns the current value. It is meaningless until Ready.
	Value() float64

	// Ready returns true once the warm-up window has been filled.
	Ready() bool

	// Warmup is the number of samples required before Ready.
	Warmup() int
}

// window is a fixed-size circular buffer of the most recent samples.
type window struct {
	buf   []float64
	idx   int // next write position
	count int // total samples received
}

func newWindow(size int) window {
	if size < 1 {
		size = 1
	}
	return window{buf: make([]float64, size)}
}

// push stores v and returns the sample it evicted (0 while filling).
func (w *window) push(v float64) (evicted float64, full bool) {
	full = w.count >= len(w.buf)
	if full {
		evicted = w.buf[w.idx]
	}
	w.buf[w.idx] = v
	w.idx = (w.idx + 1) % len(w.buf)
	w.count++
	return evicted, full
}

func (w *window) filled() bool { return w.count >= len(w.buf) }

// oldest returns the oldest sample still held.
func (w *window) oldest() float64 {
	if !w.filled() {
		return w.buf[0]
	}
	return w.buf[w.idx]
}

func (w *window) each(fn func(v float64)) {
	n := len(w.buf)
	if !w.filled() {
		n = w.count
	}
	for i := 0; i < n; i++ {
		fn(w.buf[i])
	}
}
