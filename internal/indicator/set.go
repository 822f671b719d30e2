package indicator

import (
	"fmt"
	"math"
	"strings"

	"github.com/skyi28/ML-Trader/internal/model"
)

// Column names written into model.Bar.Indicators.
const (
	ColMovingAverage  = "moving_average"
	ColEMA            = "exponential_moving_average"
	ColMovingStd      = "moving_std"
	ColPeriodicHighs  = "periodic_highs"
	ColPeriodicLows   = "periodic_lows"
	ColLowerBollinger = "lower_bollinger_band"
	ColUpperBollinger = "upper_bollinger_band"
	ColMACD           = "macd"
	ColRSI            = "rsi"
	ColMomentum       = "momentum"

	// BollingerBands is the spec name that expands into the two band columns.
	BollingerBands = "bollinger_bands"
)

// Spec configures one indicator. Period is used by every kind except macd,
// which uses Shorter/Longer; StdDev only applies to bollinger_bands.
type Spec struct {
	Name    string  `mapstructure:"name" json:"name"`
	Period  int     `mapstructure:"period" json:"period"`
	Shorter int     `mapstructure:"shorter" json:"shorter,omitempty"`
	Longer  int     `mapstructure:"longer" json:"longer,omitempty"`
	StdDev  float64 `mapstructure:"std_dev" json:"std_dev,omitempty"`
}

// DefaultSpecs mirrors the indicator set the bots are trained on.
func DefaultSpecs() []Spec {
	return []Spec{
		{Name: ColMovingAverage, Period: 20},
		{Name: ColEMA, Period: 20},
		{Name: ColMovingStd, Period: 20},
		{Name: ColPeriodicHighs, Period: 10},
		{Name: ColPeriodicLows, Period: 10},
		{Name: BollingerBands, Period: 20, StdDev: 2},
		{Name: ColMACD, Shorter: 12, Longer: 26},
		{Name: ColRSI, Period: 14},
		{Name: ColMomentum, Period: 10},
	}
}

// Set builds fresh indicator instances for a series and applies them to bars.
// A Set holds only configuration, so it is safe for concurrent use.
type Set struct {
	specs   []Spec
	columns []string
	warmup  int
}

// NewSet validates specs and returns a Set.
func NewSet(specs []Spec) (*Set, error) {
	s := &Set{specs: specs}
	inds, err := s.build()
	if err != nil {
		return nil, err
	}
	for _, ind := range inds {
		s.columns = append(s.columns, ind.Name())
		s.warmup = max(s.warmup, ind.Warmup())
	}
	return s, nil
}

// Columns returns the column names this set writes, in configuration order.
func (s *Set) Columns() []string {
	out := make([]string, len(s.columns))
	copy(out, s.columns)
	return out
}

// Warmup is the number of leading samples needed before every column is defined.
func (s *Set) Warmup() int { return s.warmup }

// Apply computes every configured column over the Open prices of bars (in
// the given order) and stores the defined values on each bar. Values inside
// an indicator's warm-up window, and NaN/Inf results, are left undefined.
func (s *Set) Apply(bars []model.Bar) {
	inds, err := s.build()
	if err != nil {
		// specs were validated in NewSet
		return
	}
	for i := range bars {
		for _, ind := range inds {
			ind.Update(bars[i].Open)
			if !ind.Ready() {
				continue
			}
			v := ind.Value()
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			bars[i].SetIndicator(ind.Name(), v)
		}
	}
}

func (s *Set) build() ([]Indicator, error) {
	out := make([]Indicator, 0, len(s.specs)+1)
	for _, sp := range s.specs {
		name := strings.ToLower(strings.TrimSpace(sp.Name))
		if name != ColMACD && sp.Period <= 0 {
			return nil, fmt.Errorf("indicator %s: period must be positive, got %d", name, sp.Period)
		}
		switch name {
		case ColMovingAverage:
			out = append(out, NewSMA(sp.Period))
		case ColEMA:
			out = append(out, NewEMA(sp.Period))
		case ColMovingStd:
			if sp.Period < 2 {
				return nil, fmt.Errorf("indicator %s: period must be at least 2", name)
			}
			out = append(out, NewMovingStd(sp.Period))
		case ColPeriodicHighs:
			out = append(out, NewPeriodicHigh(sp.Period))
		case ColPeriodicLows:
			out = append(out, NewPeriodicLow(sp.Period))
		case BollingerBands:
			if sp.Period < 2 {
				return nil, fmt.Errorf("indicator %s: period must be at least 2", name)
			}
			k := sp.StdDev
			if k <= 0 {
				k = 2
			}
			lower, upper := NewBollingerBands(sp.Period, k)
			out = append(out, lower, upper)
		case ColMACD:
			if sp.Shorter <= 0 || sp.Longer <= 0 {
				return nil, fmt.Errorf("indicator %s: shorter and longer must be positive", name)
			}
			out = append(out, NewMACD(sp.Shorter, sp.Longer))
		case ColRSI:
			out = append(out, NewRSI(sp.Period))
		case ColMomentum:
			out = append(out, NewMomentum(sp.Period))
		default:
			return nil, fmt.Errorf("unknown indicator type %q", sp.Name)
		}
	}
	return out, nil
}
