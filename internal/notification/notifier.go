// Package notification delivers trading alerts (closed trades, failing
// cycles) to external channels.
package notification

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/skyi28/ML-Trader/internal/model"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert represents a notification to be sent. Trade is set for trade alerts.
type Alert struct {
	Level   AlertLevel   `json:"level"`
	Title   string       `json:"title"`
	Message string       `json:"message"`
	Trade   *model.Trade `json:"trade,omitempty"`
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// TradeAlert builds the alert sent when a bot closes a position.
func TradeAlert(t model.Trade) Alert {
	level := AlertInfo
	if t.ProfitAbs < 0 {
		level = AlertWarning
	}
	trigger := ""
	switch {
	case t.TPTrigger:
		trigger = " (take profit)"
	case t.SLTrigger:
		trigger = " (stop loss)"
	}
	return Alert{
		Level: level,
		Title: fmt.Sprintf("Bot %d closed %s %s%s", t.BotID, t.Side, t.Instrument, trigger),
		Message: fmt.Sprintf("entry %.4f close %.4f profit %.4f (%.3f%%) money %.2f",
			t.EntryPrice, t.ClosePrice, t.ProfitAbs, t.ProfitRel*100, t.MoneyAfter),
		Trade: &t,
	}
}

// LogNotifier is a simple notifier that logs alerts (useful for development).
type LogNotifier struct{}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	log.Printf("[notify] [%s] %s: %s", alert.Level, alert.Title, alert.Message)
	return nil
}

// Multi sends every alert to each backend. One failing backend does not
// stop the others; their errors are joined.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, alert Alert) error {
	var errs []error
	for _, n := range m {
		if err := n.Send(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
