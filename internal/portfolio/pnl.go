// Package portfolio summarizes a bot's realized and open profit from its
// trade history.
package portfolio

import (
	"sort"
	"sync"

	"github.com/skyi28/ML-Trader/internal/execution"
	"github.com/skyi28/ML-Trader/internal/model"
)

// PnLTracker accumulates closed trades of one bot in trade-id order.
type PnLTracker struct {
	mu     sync.RWMutex
	trades []model.Trade

	startMoney  float64
	money       float64
	realizedPnL float64
	fees        float64

	wins, losses   int
	tpExits        int
	slExits        int
	peak, drawdown float64
}

// NewPnLTracker creates a tracker for a bot that started with startMoney.
func NewPnLTracker(startMoney float64) *PnLTracker {
	return &PnLTracker{
		trades:     make([]model.Trade, 0, 64),
		startMoney: startMoney,
		money:      startMoney,
		peak:       startMoney,
	}
}

// FromTrades rebuilds a tracker from stored trades in any order. The starting
// balance is recovered from the oldest trade, or fallback when there is none.
func FromTrades(trades []model.Trade, fallback float64) *PnLTracker {
	sorted := make([]model.Trade, len(trades))
	copy(sorted, trades)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	start := fallback
	if len(sorted) > 0 {
		start = sorted[0].MoneyAfter - sorted[0].ProfitAbs
	}
	p := NewPnLTracker(start)
	for _, t := range sorted {
		p.RecordTrade(t)
	}
	return p
}

// RecordTrade adds a closed trade and returns its realized profit.
func (p *PnLTracker) RecordTrade(t model.Trade) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.trades = append(p.trades, t)
	p.realizedPnL += t.ProfitAbs
	p.fees += p.money * t.TradingFee * execution.InvestedFraction
	p.money = t.MoneyAfter

	if t.ProfitAbs > 0 {
		p.wins++
	} else {
		p.losses++
	}
	if t.TPTrigger {
		p.tpExits++
	}
	if t.SLTrigger {
		p.slExits++
	}

	if p.money > p.peak {
		p.peak = p.money
	}
	if p.peak > 0 {
		if dd := (p.peak - p.money) / p.peak; dd > p.drawdown {
			p.drawdown = dd
		}
	}
	return t.ProfitAbs
}

// GetRealizedPnL returns the summed profit of every closed trade.
func (p *PnLTracker) GetRealizedPnL() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.realizedPnL
}

// GetUnrealizedPnL values the bot's open position at price, before fees.
// Neutral bots and unusable entries have no open profit.
func GetUnrealizedPnL(bot model.Bot, price float64) float64 {
	side, ok := bot.Position.Side()
	if !ok || price <= 0 {
		return 0
	}
	raw, err := execution.RawReturn(side, bot.EntryPrice, price)
	if err != nil {
		return 0
	}
	return bot.Money * raw * execution.InvestedFraction
}

// GetTrades returns a snapshot of all trades.
func (p *PnLTracker) GetTrades() []model.Trade {
	p.mu.RLock()
	defer p.mu.RUnlock()
	cp := make([]model.Trade, len(p.trades))
	copy(cp, p.trades)
	return cp
}

// PnLSummary is the report line for one bot.
type PnLSummary struct {
	StartMoney    float64 `json:"start_money"`
	Money         float64 `json:"money"`
	RealizedPnL   float64 `json:"realized_pnl"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
	TotalPnL      float64 `json:"total_pnl"`
	Return        float64 `json:"return"` // fraction of StartMoney
	Fees          float64 `json:"fees"`
	TotalTrades   int     `json:"total_trades"`
	Wins          int     `json:"wins"`
	Losses        int     `json:"losses"`
	WinRate       float64 `json:"win_rate"`
	TPExits       int     `json:"tp_exits"`
	SLExits       int     `json:"sl_exits"`
	MaxDrawdown   float64 `json:"max_drawdown"` // fraction of the running peak
}

// GetSummary returns the summary with unrealized profit added on top.
func (p *PnLTracker) GetSummary(unrealized float64) PnLSummary {
	p.mu.RLock()
	defer p.mu.RUnlock()

	s := PnLSummary{
		StartMoney:    p.startMoney,
		Money:         p.money,
		RealizedPnL:   p.realizedPnL,
		UnrealizedPnL: unrealized,
		TotalPnL:      p.realizedPnL + unrealized,
		Fees:          p.fees,
		TotalTrades:   len(p.trades),
		Wins:          p.wins,
		Losses:        p.losses,
		TPExits:       p.tpExits,
		SLExits:       p.slExits,
		MaxDrawdown:   p.drawdown,
	}
	if s.TotalTrades > 0 {
		s.WinRate = float64(s.Wins) / float64(s.TotalTrades)
	}
	if p.startMoney > 0 {
		s.Return = s.TotalPnL / p.startMoney
	}
	return s
}
