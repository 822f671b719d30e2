package bybit

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/skyi28/ML-Trader/internal/model"
)

type recordingTicks struct {
	mu    sync.Mutex
	ticks []model.Tick
	got   chan struct{}
}

func (r *recordingTicks) UpsertTick(_ context.Context, t model.Tick) error {
	r.mu.Lock()
	r.ticks = append(r.ticks, t)
	r.mu.Unlock()
	r.got <- struct{}{}
	return nil
}

func (r *recordingTicks) Tick(context.Context, string) (*model.Tick, error) {
	return nil, model.ErrNotFound
}

func TestTickerStream_SnapshotThenDelta(t *testing.T) {
	upgrader := websocket.Upgrader{}
	subscribed := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		_, sub, _ := conn.ReadMessage()
		subscribed <- string(sub)

		conn.WriteMessage(websocket.TextMessage, []byte(`{"success":true,"op":"subscribe"}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"topic":"tickers.BTCUSD","type":"snapshot","ts":1714521600000,
			"data":{"symbol":"BTCUSD","lastPrice":"100","bid1Price":"99","ask1Price":"101","bid1Size":"1","ask1Size":"2","price24hPcnt":"0.01"}}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"topic":"tickers.BTCUSD","type":"delta","ts":1714521601000,
			"data":{"symbol":"BTCUSD","lastPrice":"105"}}`))

		// hold the connection until the client goes away
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	store := &recordingTicks{got: make(chan struct{}, 4)}
	stream := NewTickerStream("ws"+strings.TrimPrefix(srv.URL, "http"), []string{"BTCUSD"}, store,
		slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go stream.Run(ctx)

	select {
	case sub := <-subscribed:
		if !strings.Contains(sub, "tickers.BTCUSD") {
			t.Errorf("subscribe message = %s", sub)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no subscribe message")
	}
	for i := 0; i < 2; i++ {
		select {
		case <-store.got:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for tick %d", i)
		}
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	last := store.ticks[1]
	if last.LastPrice != 105 {
		t.Errorf("LastPrice = %v, want 105 (delta applied)", last.LastPrice)
	}
	if last.BidPrice != 99 || last.AskSize != 2 {
		t.Errorf("delta dropped snapshot fields: %+v", last)
	}
	if !last.ObservedAt.Equal(time.UnixMilli(1714521601000).UTC()) {
		t.Errorf("ObservedAt = %v", last.ObservedAt)
	}
}
