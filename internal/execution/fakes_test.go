package execution

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/skyi28/ML-Trader/internal/model"
)

// memBots is an in-memory model.BotStore.
type memBots struct {
	mu        sync.Mutex
	bots      map[int64]model.Bot
	trades    []model.Trade
	seq       int64
	tradeSeq  int64
	failClose error
}

func newMemBots(bots ...model.Bot) *memBots {
	s := &memBots{bots: map[int64]model.Bot{}}
	for _, b := range bots {
		s.CreateBot(context.Background(), b)
	}
	return s
}

func (s *memBots) CreateBot(_ context.Context, b model.Bot) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b.ID == 0 {
		s.seq++
		b.ID = s.seq
	}
	if b.Position == "" {
		b.Position = model.PositionNeutral
	}
	s.bots[b.ID] = b
	return b.ID, nil
}

func (s *memBots) Bot(_ context.Context, id int64) (*model.Bot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bots[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	return &b, nil
}

func (s *memBots) Bots(context.Context) ([]model.Bot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Bot, 0, len(s.bots))
	for _, b := range s.bots {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memBots) RunningBots(ctx context.Context) ([]model.Bot, error) {
	all, _ := s.Bots(ctx)
	var out []model.Bot
	for _, b := range all {
		if b.Running {
			out = append(out, b)
		}
	}
	return out, nil
}

func (s *memBots) update(id int64, fn func(*model.Bot)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bots[id]
	if !ok {
		return model.ErrNotFound
	}
	fn(&b)
	s.bots[id] = b
	return nil
}

func (s *memBots) SetRunning(_ context.Context, id int64, running bool) error {
	return s.update(id, func(b *model.Bot) { b.Running = running })
}

func (s *memBots) DeleteBot(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.bots, id)
	return nil
}

func (s *memBots) UpdatePrediction(_ context.Context, id int64, p int) error {
	return s.update(id, func(b *model.Bot) { b.Prediction = p })
}

func (s *memBots) OpenPosition(_ context.Context, id int64, pos model.Position, entry float64) error {
	return s.update(id, func(b *model.Bot) { b.Position, b.EntryPrice = pos, entry })
}

func (s *memBots) ClosePosition(_ context.Context, req model.CloseRequest) (int64, error) {
	if s.failClose != nil {
		return 0, s.failClose
	}
	err := s.update(req.BotID, func(b *model.Bot) {
		b.Money = req.Trade.MoneyAfter
		b.Position = req.NextPosition
		b.EntryPrice = req.NextEntry
	})
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tradeSeq++
	t := req.Trade
	t.ID = s.tradeSeq
	s.trades = append(s.trades, t)
	return t.ID, nil
}

func (s *memBots) Trades(_ context.Context, botID int64, limit int) ([]model.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Trade
	for i := len(s.trades) - 1; i >= 0; i-- {
		if s.trades[i].BotID == botID {
			out = append(out, s.trades[i])
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memBots) TradeCount(ctx context.Context, botID int64) (int64, error) {
	t, _ := s.Trades(ctx, botID, 0)
	return int64(len(t)), nil
}

func (s *memBots) ResetPositions(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, b := range s.bots {
		b.Position, b.EntryPrice = model.PositionNeutral, 0
		s.bots[id] = b
	}
	return int64(len(s.bots)), nil
}

func (s *memBots) get(id int64) model.Bot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bots[id]
}

// memTicks holds one price per instrument.
type memTicks map[string]float64

func (m memTicks) UpsertTick(_ context.Context, t model.Tick) error {
	m[t.Instrument] = t.LastPrice
	return nil
}

func (m memTicks) Tick(_ context.Context, inst string) (*model.Tick, error) {
	p, ok := m[inst]
	if !ok {
		return nil, model.ErrNotFound
	}
	return &model.Tick{Instrument: inst, LastPrice: p}, nil
}

// latestBars serves one newest bar per instrument.
type latestBars map[string]*model.Bar

func (l latestBars) Latest(_ context.Context, inst string) (*model.Bar, error) {
	return l[inst], nil
}

func (l latestBars) UpsertBars(context.Context, string, []model.Bar) (int64, error) {
	return 0, errors.New("read only")
}

func (l latestBars) RangeQuery(context.Context, string, time.Time, time.Time) ([]model.Bar, error) {
	return nil, nil
}

func (l latestBars) DeleteFrom(context.Context, string, time.Time) (int64, error) { return 0, nil }

func (l latestBars) Oldest(ctx context.Context, inst string) (*model.Bar, error) {
	return l.Latest(ctx, inst)
}

func (l latestBars) Timestamps(context.Context, string) ([]time.Time, error) { return nil, nil }
