package model

import "time"

// BarClosed announces that the bar ending at Boundary has been written for
// Instrument, so readers of the latest row will see it.
type BarClosed struct {
	Instrument string    `json:"instrument"`
	Boundary   time.Time `json:"boundary"` // minute boundary that closed the bar (UTC)
	Rows       int64     `json:"rows"`     // rows upserted in this cycle
}
