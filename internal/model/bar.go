package model

import (
	"time"
)

// BarInterval is the native resolution of every stored series.
const BarInterval = time.Minute

// Bar is one minute of price data for a single instrument.
// Indicators holds derived columns keyed by column name; a missing key means
// the value is undefined (the indicator was still warming up).
type Bar struct {
	Instrument string             `json:"instrument"`
	TS         time.Time          `json:"ts"` // bucket start (UTC, minute-aligned)
	Open       float64            `json:"open"`
	Close      float64            `json:"close"`
	Indicators map[string]float64 `json:"indicators,omitempty"`
}

// Indicator returns the named indicator column and whether it is defined.
func (b Bar) Indicator(name string) (float64, bool) {
	if b.Indicators == nil {
		return 0, false
	}
	v, ok := b.Indicators[name]
	return v, ok
}

// SetIndicator stores a derived column value.
func (b *Bar) SetIndicator(name string, v float64) {
	if b.Indicators == nil {
		b.Indicators = make(map[string]float64, 8)
	}
	b.Indicators[name] = v
}

// Gap is a hole in a bar series: every minute in [Start, End) is missing and
// End is the timestamp of the first stored bar after the hole.
type Gap struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Width returns the number of missing minutes.
func (g Gap) Width() int {
	return int(g.End.Sub(g.Start) / BarInterval)
}

// AlignMinute truncates t to the start of its minute in UTC.
func AlignMinute(t time.Time) time.Time {
	return t.UTC().Truncate(BarInterval)
}
