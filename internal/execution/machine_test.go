package execution

import (
	"errors"
	"math"
	"testing"

	"github.com/skyi28/ML-Trader/internal/model"
)

func assertClose(t *testing.T, label string, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s: got %.6f, want %.6f (tol=%.6f, diff=%.6f)", label, got, want, tol, math.Abs(got-want))
	}
}

func TestTransition_Table(t *testing.T) {
	cases := []struct {
		pos        model.Position
		prediction int
		kind       ActionKind
		next       model.Position
		side       model.Side
	}{
		{model.PositionNeutral, 1, ActionOpen, model.PositionLong, ""},
		{model.PositionNeutral, 0, ActionOpen, model.PositionShort, ""},
		{model.PositionLong, 0, ActionClose, model.PositionShort, model.SideLong},
		{model.PositionLong, 1, ActionNone, model.PositionLong, ""},
		{model.PositionShort, 1, ActionClose, model.PositionLong, model.SideShort},
		{model.PositionShort, 0, ActionNone, model.PositionShort, ""},
	}
	for _, tc := range cases {
		got := Transition(tc.pos, tc.prediction)
		if got.Kind != tc.kind || got.Next != tc.next || got.Side != tc.side {
			t.Errorf("%s + %d: got %s->%s side %q, want %s->%s side %q",
				tc.pos, tc.prediction, got.Kind, got.Next, got.Side, tc.kind, tc.next, tc.side)
		}
	}
}

func TestTransition_NeverReturnsToNeutral(t *testing.T) {
	for _, pos := range []model.Position{model.PositionNeutral, model.PositionLong, model.PositionShort} {
		for _, p := range []int{0, 1} {
			if next := Transition(pos, p).Next; next == model.PositionNeutral {
				t.Errorf("%s + %d returned to neutral", pos, p)
			}
		}
	}
}

func TestClosePosition_ShortWinsOnDrop(t *testing.T) {
	// short at 100, closed at 90, fee 0.001
	r, err := ClosePosition(model.SideShort, 100, 90, 1000, 0.001)
	if err != nil {
		t.Fatal(err)
	}
	assertClose(t, "raw_return", r.RawReturn, 0.1, 1e-12)
	assertClose(t, "profit_rel", r.ProfitRel, 0.099, 1e-12)
	assertClose(t, "profit_abs", r.ProfitAbs, 99, 1e-9)
	assertClose(t, "money_after", r.MoneyAfter, 1099, 1e-9)
}

func TestClosePosition_LongRoundTrip(t *testing.T) {
	p1, p2, money, fee := 25000.0, 25500.0, 1000.0, 0.001
	r, err := ClosePosition(model.SideLong, p1, p2, money, fee)
	if err != nil {
		t.Fatal(err)
	}
	wantRel := (p2-p1)/p1 - fee
	assertClose(t, "profit_rel", r.ProfitRel, wantRel, 1e-12)
	assertClose(t, "money_after", r.MoneyAfter, money*(1+wantRel), 1e-9)
	assertClose(t, "money_after - money", r.MoneyAfter-money, r.ProfitAbs, 1e-9)
}

func TestClosePosition_LossAndFee(t *testing.T) {
	r, err := ClosePosition(model.SideLong, 100, 100, 500, 0.002)
	if err != nil {
		t.Fatal(err)
	}
	assertClose(t, "flat close pays the fee", r.MoneyAfter, 499, 1e-9)
}

func TestClosePosition_RejectsBadEntry(t *testing.T) {
	for _, entry := range []float64{0, -1} {
		if _, err := ClosePosition(model.SideLong, entry, 10, 1000, 0); !errors.Is(err, ErrBadEntry) {
			t.Errorf("entry %v: err = %v, want ErrBadEntry", entry, err)
		}
	}
	if _, err := ClosePosition(model.Side("sideways"), 10, 10, 1000, 0); err == nil {
		t.Error("expected unknown side to fail")
	}
}
