package model

import "time"

// Trade is a realized round trip. Rows are append-only; one is written per
// closing transition and removed only when the owning bot is deleted.
type Trade struct {
	ID         int64     `json:"trade_id"`
	Owner      string    `json:"owner"`
	BotID      int64     `json:"bot_id"`
	TS         time.Time `json:"timestamp"`
	Instrument string    `json:"instrument"`
	Side       Side      `json:"side"`
	EntryPrice float64   `json:"entry_price"`
	ClosePrice float64   `json:"close_price"`
	MoneyAfter float64   `json:"money_after"`
	ProfitAbs  float64   `json:"profit_abs"`
	ProfitRel  float64   `json:"profit_rel"`
	TradingFee float64   `json:"trading_fee"`
	TPTrigger  bool      `json:"tp_trigger"`
	SLTrigger  bool      `json:"sl_trigger"`
}

// CloseRequest carries everything a store needs to apply a closing
// transition: the bot's new balance and reopened position, plus the trade row.
// Stores must apply it atomically.
type CloseRequest struct {
	BotID        int64
	NextPosition Position
	NextEntry    float64
	Trade        Trade
}
