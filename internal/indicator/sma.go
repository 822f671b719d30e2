package indicator

// SMA calculates Simple Moving Average over a rolling window.
type SMA struct {
	name    string
	period  int
	win     window
	sum     float64
	current float64
}

// NewSMA creates a new SMA indicator with the given period.
func NewSMA(period int) *SMA {
	return &SMA{name: ColMovingAverage, period: period, win: newWindow(period)}
}

func (s *SMA) Name() string { return s.name }

func (s *SMA) Update(v float64) {
	evicted, _ := s.win.push(v)
	s.sum += v - evicted
	if s.win.filled() {
		s.current = s.sum / float64(s.period)
	}
}

func (s *SMA) Value() float64 { return s.current }
func (s *SMA) Ready() bool    { return s.win.filled() }
func (s *SMA) Warmup() int    { return s.period }
