package model

import "time"

// Bot is a configured trading agent bound to one instrument and one model.
// Position, EntryPrice, Prediction and Money are owned by the execution
// engine; Running and Hyperparameters are set by operators.
type Bot struct {
	ID               int64              `json:"id"`
	Owner            string             `json:"owner"`
	Instrument       string             `json:"instrument"`
	TimeframeMinutes int                `json:"timeframe_minutes"`
	ModelKind        string             `json:"model_kind"`
	Indicators       []string           `json:"indicators"` // feature columns, in model input order
	Hyperparameters  map[string]float64 `json:"hyperparameters"`

	Position   Position `json:"position"`
	EntryPrice float64  `json:"entry_price"`
	Prediction int      `json:"prediction"`
	Money      float64  `json:"money"`
	Running    bool     `json:"running"`

	// Optional exits as fractions of the entry price; 0 disables.
	StopLoss   float64 `json:"stop_loss"`
	TakeProfit float64 `json:"take_profit"`

	CreatedAt     time.Time `json:"created_at"`
	LastTrainedAt time.Time `json:"last_trained_at"`
}

// Param returns a hyperparameter or def when it is not set.
func (b *Bot) Param(name string, def float64) float64 {
	if v, ok := b.Hyperparameters[name]; ok {
		return v
	}
	return def
}
