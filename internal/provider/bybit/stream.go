package bybit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"

	"github.com/skyi28/ML-Trader/internal/model"
)

// TickerStream subscribes to the public tickers topic and writes every
// update into a TickStore. Delta messages only carry changed fields, so the
// last full snapshot per instrument is kept and patched.
type TickerStream struct {
	url         string
	instruments []string
	store       model.TickStore
	log         *slog.Logger

	PingInterval time.Duration // default 20s
	RetryDelay   time.Duration // default 5s

	// OnReconnect is called before every reconnect attempt.
	OnReconnect func()

	last map[string]model.Tick
}

// NewTickerStream creates a stream for the given instruments.
func NewTickerStream(wsURL string, instruments []string, store model.TickStore, log *slog.Logger) *TickerStream {
	return &TickerStream{
		url:          wsURL,
		instruments:  instruments,
		store:        store,
		log:          log,
		PingInterval: 20 * time.Second,
		RetryDelay:   5 * time.Second,
		last:         make(map[string]model.Tick, len(instruments)),
	}
}

// Run connects and streams until ctx is cancelled, reconnecting after
// failures.
func (s *TickerStream) Run(ctx context.Context) error {
	for {
		err := s.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		s.log.Warn("ticker stream disconnected", "error", err, "retry_in", s.RetryDelay)
		if s.OnReconnect != nil {
			s.OnReconnect()
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(s.RetryDelay):
		}
	}
}

func (s *TickerStream) session(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	args := make([]string, len(s.instruments))
	for i, inst := range s.instruments {
		args[i] = "tickers." + inst
	}
	if err := conn.WriteJSON(map[string]any{"op": "subscribe", "args": args}); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	s.log.Info("ticker stream subscribed", "topics", args)

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(s.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
				conn.Close()
				return
			case <-ticker.C:
				if err := conn.WriteJSON(map[string]string{"op": "ping"}); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		if err := s.handle(ctx, msg); err != nil {
			s.log.Warn("ticker stream message dropped", "error", err)
		}
	}
}

// handle applies one websocket message. Control frames (pong, subscribe
// acks) are ignored.
func (s *TickerStream) handle(ctx context.Context, msg []byte) error {
	res := gjson.ParseBytes(msg)
	topic := res.Get("topic").String()
	if topic == "" {
		return nil
	}
	data := res.Get("data")
	instrument := data.Get("symbol").String()
	if instrument == "" {
		return fmt.Errorf("topic %s: missing symbol", topic)
	}

	tick, seen := s.last[instrument]
	if res.Get("type").String() == "snapshot" || !seen {
		tick = parseTicker(instrument, data)
	} else {
		patch(&tick, data)
	}
	if ts := res.Get("ts").Int(); ts > 0 {
		tick.ObservedAt = time.UnixMilli(ts).UTC()
	} else {
		tick.ObservedAt = time.Now().UTC()
	}
	s.last[instrument] = tick

	return s.store.UpsertTick(ctx, tick)
}

func patch(t *model.Tick, data gjson.Result) {
	fields := []struct {
		key string
		dst *float64
	}{
		{"lastPrice", &t.LastPrice},
		{"bid1Price", &t.BidPrice},
		{"ask1Price", &t.AskPrice},
		{"bid1Size", &t.BidSize},
		{"ask1Size", &t.AskSize},
		{"price24hPcnt", &t.Change24h},
	}
	for _, f := range fields {
		if v := data.Get(f.key); v.Exists() {
			*f.dst = v.Float()
		}
	}
}
