package execution

import (
	"context"
	"testing"
	"time"

	"github.com/skyi28/ML-Trader/internal/model"
)

func TestLoop_RunOnceWaitsForBarsThenPredicts(t *testing.T) {
	bots := newMemBots(rsiBot(model.PositionNeutral, 0, 1000))
	e := newExec(bots, memTicks{"BTCUSD": 100}, latestBars{"BTCUSD": barWithRSI("BTCUSD", 60)})

	now := model.AlignMinute(time.Now())
	events := make(chan model.BarClosed, 2)
	events <- model.BarClosed{Instrument: "BTCUSD", Boundary: now.Add(-time.Minute)} // stale
	events <- model.BarClosed{Instrument: "BTCUSD", Boundary: now}

	l := NewLoop(e, events, time.Hour, quiet())
	var complete bool
	l.OnReadiness = func(c bool, _ time.Duration) { complete = c }

	if err := l.RunOnce(context.Background(), now); err != nil {
		t.Fatal(err)
	}
	if !complete {
		t.Error("expected readiness from the bus, not the grace deadline")
	}
	if b := bots.get(1); b.Position != model.PositionLong {
		t.Errorf("bot not stepped: %+v", b)
	}
}

func TestLoop_RunOncePredictsAfterGrace(t *testing.T) {
	bots := newMemBots(rsiBot(model.PositionNeutral, 0, 1000))
	e := newExec(bots, memTicks{"BTCUSD": 100}, latestBars{"BTCUSD": barWithRSI("BTCUSD", 40)})

	// the boundary is now, so the deadline is reached after the grace
	l := NewLoop(e, make(chan model.BarClosed), 30*time.Millisecond, quiet())
	var complete = true
	l.OnReadiness = func(c bool, _ time.Duration) { complete = c }

	if err := l.RunOnce(context.Background(), time.Now()); err != nil {
		t.Fatal(err)
	}
	if complete {
		t.Error("expected the grace deadline to end the wait")
	}
	if b := bots.get(1); b.Position != model.PositionShort {
		t.Errorf("bot not stepped after grace: %+v", b)
	}
}

func TestLoop_RunOnceWithoutRunningBots(t *testing.T) {
	e := newExec(newMemBots(), memTicks{}, latestBars{})
	l := NewLoop(e, nil, time.Hour, quiet())

	done := make(chan error, 1)
	go func() { done <- l.RunOnce(context.Background(), boundary) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(time.Second):
		t.Fatal("RunOnce waited without running bots")
	}
}

func TestLoop_RunStopsOnCancel(t *testing.T) {
	e := newExec(newMemBots(), memTicks{}, latestBars{})
	l := NewLoop(e, nil, time.Second, quiet())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
}
