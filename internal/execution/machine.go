// Package execution runs the per-minute prediction cycle and moves each bot
// through its position state machine, recording closed trades.
package execution

import (
	"errors"
	"fmt"

	"github.com/skyi28/ML-Trader/internal/model"
)

// InvestedFraction is the share of a bot's money committed to each position.
const InvestedFraction = 1.0

// ActionKind is what a bot does in response to a prediction.
type ActionKind int

const (
	ActionNone  ActionKind = iota // keep the current position
	ActionOpen                    // neutral to long/short, no trade
	ActionClose                   // close the open side and reverse, one trade
)

func (k ActionKind) String() string {
	switch k {
	case ActionOpen:
		return "open"
	case ActionClose:
		return "close"
	default:
		return "none"
	}
}

// Action is the outcome of Transition.
type Action struct {
	Kind ActionKind
	Next model.Position
	// Side is the side being closed; set only for ActionClose.
	Side model.Side
}

// target is the position a prediction asks for.
func target(prediction int) model.Position {
	if prediction == 1 {
		return model.PositionLong
	}
	return model.PositionShort
}

// Transition maps the current position and a 0/1 prediction to an action.
// A bot never returns to neutral: a flip closes the open side and opens the
// opposite one at the same price.
func Transition(pos model.Position, prediction int) Action {
	want := target(prediction)
	switch pos {
	case model.PositionNeutral:
		return Action{Kind: ActionOpen, Next: want}
	case want:
		return Action{Kind: ActionNone, Next: pos}
	default:
		side, ok := pos.Side()
		if !ok {
			return Action{Kind: ActionOpen, Next: want}
		}
		return Action{Kind: ActionClose, Next: want, Side: side}
	}
}

// Result is the accounting of one closed position.
type Result struct {
	RawReturn  float64
	ProfitRel  float64
	ProfitAbs  float64
	MoneyAfter float64
}

// ErrBadEntry is returned when a position is closed without a usable entry
// price.
var ErrBadEntry = errors.New("entry price must be positive")

// RawReturn is the unlevered return of side between entry and price.
func RawReturn(side model.Side, entry, price float64) (float64, error) {
	if entry <= 0 {
		return 0, fmt.Errorf("%w: %v", ErrBadEntry, entry)
	}
	switch side {
	case model.SideLong:
		return (price - entry) / entry, nil
	case model.SideShort:
		return (entry - price) / entry, nil
	default:
		return 0, fmt.Errorf("unknown side %q", side)
	}
}

// ClosePosition computes the result of closing side at price. The fee is a
// flat fraction subtracted once from the relative return.
func ClosePosition(side model.Side, entry, price, money, fee float64) (Result, error) {
	raw, err := RawReturn(side, entry, price)
	if err != nil {
		return Result{}, err
	}
	rel := raw - fee
	return Result{
		RawReturn:  raw,
		ProfitRel:  rel,
		ProfitAbs:  money * rel * InvestedFraction,
		MoneyAfter: money * (1 + rel),
	}, nil
}
