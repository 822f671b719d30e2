package closedetector

import (
	"context"
	"testing"
	"time"

	"github.com/skyi28/ML-Trader/internal/model"
)

var boundary = time.Date(2024, 5, 1, 12, 1, 0, 0, time.UTC)

func closed(inst string, b time.Time) model.BarClosed {
	return model.BarClosed{Instrument: inst, Boundary: b}
}

func TestDetector_CompletesOnExpectedSet(t *testing.T) {
	d := New(boundary, []string{"BTCUSD", "ETHUSD"})

	if d.Observe(closed("BTCUSD", boundary), boundary.Add(time.Second)) {
		t.Error("should not be ready with one of two instruments")
	}
	if got := d.Missing(); len(got) != 1 || got[0] != "ETHUSD" {
		t.Errorf("missing = %v, want [ETHUSD]", got)
	}
	if !d.Observe(closed("ETHUSD", boundary), boundary.Add(2*time.Second)) {
		t.Error("should be ready once every instrument reported")
	}
	if !d.Complete() {
		t.Error("expected complete")
	}
}

func TestDetector_IgnoresOtherBoundariesAndInstruments(t *testing.T) {
	d := New(boundary, []string{"BTCUSD"})

	if d.Observe(closed("BTCUSD", boundary.Add(-time.Minute)), boundary.Add(time.Second)) {
		t.Error("previous boundary must not count")
	}
	if d.Observe(closed("XRPUSD", boundary), boundary.Add(time.Second)) {
		t.Error("unexpected instrument must not count")
	}
}

func TestDetector_HardDeadline(t *testing.T) {
	d := New(boundary, []string{"BTCUSD"})
	d.MaxGrace = 10 * time.Second

	if d.Ready(boundary.Add(9 * time.Second)) {
		t.Error("should not be ready before the deadline")
	}
	if !d.Ready(boundary.Add(10 * time.Second)) {
		t.Error("should be ready at the deadline")
	}
	if d.Complete() {
		t.Error("deadline readiness is not completion")
	}
}

func TestDetector_EmptyExpectedIsReady(t *testing.T) {
	d := New(boundary, nil)
	if !d.Ready(boundary) || !d.Complete() {
		t.Error("empty expected set should be ready immediately")
	}
}

func TestDetector_WaitCompletes(t *testing.T) {
	d := New(boundary, []string{"BTCUSD", "ETHUSD"})
	d.now = func() time.Time { return boundary.Add(time.Second) }
	d.MaxGrace = time.Hour

	events := make(chan model.BarClosed, 2)
	events <- closed("ETHUSD", boundary)
	events <- closed("BTCUSD", boundary)

	complete, err := d.Wait(context.Background(), events)
	if err != nil || !complete {
		t.Fatalf("complete=%v err=%v", complete, err)
	}
}

func TestDetector_WaitTimesOut(t *testing.T) {
	start := time.Now()
	d := New(start, []string{"BTCUSD"})
	d.MaxGrace = 50 * time.Millisecond

	complete, err := d.Wait(context.Background(), make(chan model.BarClosed))
	if err != nil || complete {
		t.Fatalf("complete=%v err=%v, want deadline", complete, err)
	}
	if time.Since(start) < 50*time.Millisecond {
		t.Error("returned before the deadline")
	}
}

func TestDetector_WaitCancelled(t *testing.T) {
	d := New(time.Now(), []string{"BTCUSD"})
	d.MaxGrace = time.Hour
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := d.Wait(ctx, nil); err != context.Canceled {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestExpected_DedupesInstruments(t *testing.T) {
	got := Expected([]model.Bot{{Instrument: "ETHUSD"}, {Instrument: "BTCUSD"}, {Instrument: "ETHUSD"}})
	if len(got) != 2 || got[0] != "BTCUSD" || got[1] != "ETHUSD" {
		t.Errorf("Expected = %v", got)
	}
}
