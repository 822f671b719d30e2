package continuity

import (
	"context"
	"fmt"
	"time"

	"github.com/skyi28/ML-Trader/internal/model"
)

// FetchRange pulls [start, end] from the provider in windows of at most limit
// bars. The next window starts one step after the last row received; a window
// that yields nothing new is skipped whole, so a long outage on the provider
// side cannot stall the walk. Returned rows are ascending, unique and inside
// the range.
func FetchRange(ctx context.Context, p model.Provider, instrument string, start, end time.Time, step time.Duration, limit int) ([]model.Bar, error) {
	if limit <= 0 || limit > p.MaxLimit() {
		limit = p.MaxLimit()
	}
	span := time.Duration(limit-1) * step

	var out []model.Bar
	for cursor := start; !cursor.After(end); {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pageEnd := cursor.Add(span)
		if pageEnd.After(end) {
			pageEnd = end
		}

		page, err := p.Bars(ctx, instrument, cursor, pageEnd, step, limit)
		if err != nil {
			return nil, fmt.Errorf("fetch %s [%s, %s]: %w",
				instrument, cursor.Format(time.RFC3339), pageEnd.Format(time.RFC3339), err)
		}
		fresh := 0
		for _, b := range page {
			if b.TS.Before(cursor) || b.TS.After(pageEnd) {
				continue
			}
			if n := len(out); n > 0 && !b.TS.After(out[n-1].TS) {
				continue
			}
			b.Instrument = instrument
			out = append(out, b)
			fresh++
		}
		if fresh == 0 {
			cursor = pageEnd.Add(step)
			continue
		}
		cursor = out[len(out)-1].TS.Add(step)
	}
	return out, nil
}
