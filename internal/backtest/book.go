package backtest

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/skyi28/ML-Trader/internal/model"
)

// Book is an in-memory model.BotStore. It gives simulated runs the same
// transactional close semantics as the real stores without touching them.
type Book struct {
	mu        sync.Mutex
	bots      map[int64]*model.Bot
	trades    map[int64][]model.Trade
	nextBot   int64
	nextTrade int64
}

// NewBook returns an empty book.
func NewBook() *Book {
	return &Book{
		bots:   make(map[int64]*model.Bot),
		trades: make(map[int64][]model.Trade),
	}
}

func (b *Book) CreateBot(_ context.Context, bot model.Bot) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextBot++
	bot.ID = b.nextBot
	if bot.Position == "" {
		bot.Position = model.PositionNeutral
	}
	b.bots[bot.ID] = &bot
	return bot.ID, nil
}

func (b *Book) get(id int64) (*model.Bot, error) {
	bot, ok := b.bots[id]
	if !ok {
		return nil, fmt.Errorf("bot %d: %w", id, model.ErrNotFound)
	}
	return bot, nil
}

func (b *Book) Bot(_ context.Context, id int64) (*model.Bot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	bot, err := b.get(id)
	if err != nil {
		return nil, err
	}
	cp := *bot
	return &cp, nil
}

func (b *Book) list(running bool) []model.Bot {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]model.Bot, 0, len(b.bots))
	for _, bot := range b.bots {
		if running && !bot.Running {
			continue
		}
		out = append(out, *bot)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (b *Book) Bots(context.Context) ([]model.Bot, error)        { return b.list(false), nil }
func (b *Book) RunningBots(context.Context) ([]model.Bot, error) { return b.list(true), nil }

func (b *Book) update(id int64, fn func(*model.Bot)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	bot, err := b.get(id)
	if err != nil {
		return err
	}
	fn(bot)
	return nil
}

func (b *Book) SetRunning(_ context.Context, id int64, running bool) error {
	return b.update(id, func(bot *model.Bot) { bot.Running = running })
}

func (b *Book) UpdatePrediction(_ context.Context, id int64, prediction int) error {
	return b.update(id, func(bot *model.Bot) { bot.Prediction = prediction })
}

func (b *Book) OpenPosition(_ context.Context, id int64, pos model.Position, entry float64) error {
	return b.update(id, func(bot *model.Bot) {
		bot.Position = pos
		bot.EntryPrice = entry
	})
}

func (b *Book) ClosePosition(_ context.Context, req model.CloseRequest) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	bot, err := b.get(req.BotID)
	if err != nil {
		return 0, err
	}
	b.nextTrade++
	t := req.Trade
	t.ID = b.nextTrade
	t.BotID = req.BotID
	bot.Money = t.MoneyAfter
	bot.Position = req.NextPosition
	bot.EntryPrice = req.NextEntry
	b.trades[req.BotID] = append(b.trades[req.BotID], t)
	return t.ID, nil
}

func (b *Book) DeleteBot(_ context.Context, id int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, err := b.get(id); err != nil {
		return err
	}
	delete(b.bots, id)
	delete(b.trades, id)
	return nil
}

// Trades returns newest first, like the persistent stores.
func (b *Book) Trades(_ context.Context, botID int64, limit int) ([]model.Trade, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	src := b.trades[botID]
	out := make([]model.Trade, 0, len(src))
	for i := len(src) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, src[i])
	}
	return out, nil
}

func (b *Book) TradeCount(_ context.Context, botID int64) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return int64(len(b.trades[botID])), nil
}

func (b *Book) ResetPositions(context.Context) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, bot := range b.bots {
		bot.Position = model.PositionNeutral
		bot.EntryPrice = 0
	}
	return int64(len(b.bots)), nil
}

var _ model.BotStore = (*Book)(nil)
