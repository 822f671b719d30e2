package model

import "time"

// Tick is the live quote snapshot for an instrument. Exactly one row is kept
// per instrument; every write replaces it.
type Tick struct {
	Instrument string    `json:"instrument"`
	ObservedAt time.Time `json:"observed_at"` // UTC
	LastPrice  float64   `json:"last_price"`
	BidPrice   float64   `json:"bid_price"`
	AskPrice   float64   `json:"ask_price"`
	BidSize    float64   `json:"bid_size"`
	AskSize    float64   `json:"ask_size"`
	Change24h  float64   `json:"change_24h"` // fraction, e.g. 0.012 = +1.2%
}
