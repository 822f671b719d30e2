package model

import "fmt"

// Position is a bot's directional stance.
type Position string

const (
	PositionNeutral Position = "neutral"
	PositionLong    Position = "long"
	PositionShort   Position = "short"
)

// ParsePosition validates a stored position value.
func ParsePosition(s string) (Position, error) {
	switch p := Position(s); p {
	case PositionNeutral, PositionLong, PositionShort:
		return p, nil
	case "":
		return PositionNeutral, nil
	default:
		return "", fmt.Errorf("unknown position %q", s)
	}
}

// Side is the direction of a closed trade.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Side returns the trade side an open position would close as.
// Neutral has no side.
func (p Position) Side() (Side, bool) {
	switch p {
	case PositionLong:
		return SideLong, true
	case PositionShort:
		return SideShort, true
	default:
		return "", false
	}
}
