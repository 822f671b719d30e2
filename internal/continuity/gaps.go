package continuity

import (
	"time"

	"github.com/skyi28/ML-Trader/internal/model"
)

// Gaps scans an ascending timestamp column and returns every hole wider than
// step: {Start: prev+step, End: cur}. Empty and single-row inputs have none.
func Gaps(ts []time.Time, step time.Duration) []model.Gap {
	var out []model.Gap
	for i := 1; i < len(ts); i++ {
		if ts[i].Sub(ts[i-1]) > step {
			out = append(out, model.Gap{Start: ts[i-1].Add(step), End: ts[i]})
		}
	}
	return out
}

// Violation is a pair of consecutive rows whose spacing is not exactly one
// step: a hole, a duplicate or an out-of-order row.
type Violation struct {
	Prev time.Time     `json:"prev"`
	Cur  time.Time     `json:"cur"`
	Diff time.Duration `json:"diff"`
}

// Violations returns every consecutive pair whose difference is not step.
func Violations(ts []time.Time, step time.Duration) []Violation {
	var out []Violation
	for i := 1; i < len(ts); i++ {
		if d := ts[i].Sub(ts[i-1]); d != step {
			out = append(out, Violation{Prev: ts[i-1], Cur: ts[i], Diff: d})
		}
	}
	return out
}
