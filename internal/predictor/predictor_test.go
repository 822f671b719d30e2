package predictor

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/skyi28/ML-Trader/internal/model"
)

func assertClose(t *testing.T, label string, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s: got %.6f, want %.6f (tol=%.6f)", label, got, want, tol)
	}
}

func bot(kind string, indicators []string, params map[string]float64) model.Bot {
	return model.Bot{ID: 7, Owner: "alice", ModelKind: kind, Indicators: indicators, Hyperparameters: params}
}

// ────────────────────────────────────────────────────────────
// Registry
// ────────────────────────────────────────────────────────────

func TestRegistry_UnknownKind(t *testing.T) {
	r := NewRegistry()
	_, err := r.Predict(bot("random_forest", []string{"rsi"}, nil), []float64{50})
	if !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("expected ErrUnknownKind, got %v", err)
	}
}

func TestRegistry_KindIsCaseInsensitive(t *testing.T) {
	r := NewRegistry()
	p, err := r.Predict(bot("  Threshold ", []string{"rsi"}, map[string]float64{"threshold": 50}), []float64{60})
	if err != nil {
		t.Fatal(err)
	}
	if p != 1 {
		t.Errorf("prediction = %d, want 1", p)
	}
}

func TestRegistry_CachesUntilRetrained(t *testing.T) {
	r := NewRegistry()
	builds := 0
	r.Register("counting", func(model.Bot) (Model, error) {
		builds++
		return &Threshold{}, nil
	})

	b := bot("counting", []string{"x"}, nil)
	for range 3 {
		if _, err := r.Predict(b, []float64{1}); err != nil {
			t.Fatal(err)
		}
	}
	if builds != 1 {
		t.Errorf("builds = %d, want 1", builds)
	}

	b.LastTrainedAt = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	r.Predict(b, []float64{1})
	if builds != 2 {
		t.Errorf("retrained bot should rebuild, builds = %d", builds)
	}

	r.Forget(b.ID)
	r.Predict(b, []float64{1})
	if builds != 3 {
		t.Errorf("forgotten bot should rebuild, builds = %d", builds)
	}
}

// ────────────────────────────────────────────────────────────
// Rules
// ────────────────────────────────────────────────────────────

func TestThreshold(t *testing.T) {
	m, err := NewThreshold(bot(KindThreshold, []string{"macd", "rsi"}, map[string]float64{"feature_index": 1, "threshold": 50}))
	if err != nil {
		t.Fatal(err)
	}
	for _, tc := range []struct {
		rsi  float64
		want int
	}{{49, 0}, {50, 0}, {51, 1}} {
		got, err := m.Predict([]float64{0, tc.rsi})
		if err != nil || got != tc.want {
			t.Errorf("rsi %.0f: got %d err %v, want %d", tc.rsi, got, err, tc.want)
		}
	}

	inv, _ := NewThreshold(bot(KindThreshold, []string{"rsi"}, map[string]float64{"threshold": 30, "invert": 1}))
	if got, _ := inv.Predict([]float64{20}); got != 1 {
		t.Errorf("inverted threshold below level = %d, want 1", got)
	}

	if _, err := NewThreshold(bot(KindThreshold, []string{"rsi"}, map[string]float64{"feature_index": 3})); err == nil {
		t.Error("expected out-of-range feature_index to fail")
	}
	if _, err := m.Predict([]float64{1}); err == nil {
		t.Error("expected short feature vector to fail")
	}
}

func TestCrossover(t *testing.T) {
	m, err := NewCrossover(bot(KindCrossover, []string{"ema", "sma", "rsi"}, map[string]float64{"rsi_index": 2}))
	if err != nil {
		t.Fatal(err)
	}
	cases := []struct {
		name     string
		features []float64
		want     int
	}{
		{"fast above slow", []float64{105, 100, 50}, 1},
		{"fast below slow", []float64{95, 100, 50}, 0},
		{"overbought forces short", []float64{105, 100, 75}, 0},
		{"oversold forces long", []float64{95, 100, 25}, 1},
	}
	for _, tc := range cases {
		got, err := m.Predict(tc.features)
		if err != nil || got != tc.want {
			t.Errorf("%s: got %d err %v, want %d", tc.name, got, err, tc.want)
		}
	}

	if _, err := NewCrossover(bot(KindCrossover, nil, map[string]float64{"fast_index": 1})); err == nil {
		t.Error("expected equal fast and slow index to fail")
	}
}

func TestLogistic(t *testing.T) {
	m, err := NewLogistic(bot(KindLogistic, []string{"a", "b"}, map[string]float64{"w0": 2, "w1": -1, "bias": -0.5}))
	if err != nil {
		t.Fatal(err)
	}
	l := m.(*Logistic)

	// z = 2*1 - 1*1 - 0.5 = 0.5
	p, err := l.Probability([]float64{1, 1})
	if err != nil {
		t.Fatal(err)
	}
	assertClose(t, "probability", p, 1/(1+math.Exp(-0.5)), 1e-12)
	if got, _ := m.Predict([]float64{1, 1}); got != 1 {
		t.Errorf("z=0.5 prediction = %d, want 1", got)
	}
	if got, _ := m.Predict([]float64{0, 1}); got != 0 {
		t.Errorf("z=-1.5 prediction = %d, want 0", got)
	}
	if _, err := m.Predict([]float64{1}); err == nil {
		t.Error("expected feature count mismatch to fail")
	}
	if _, err := NewLogistic(bot(KindLogistic, nil, nil)); err == nil {
		t.Error("expected logistic without indicators to fail")
	}
}

// ────────────────────────────────────────────────────────────
// XGBoost
// ────────────────────────────────────────────────────────────

const dump = `{
  "base_score": 0.5,
  "trees": [
    {"nodeid": 0, "depth": 0, "split": "rsi", "split_condition": 50, "yes": 1, "no": 2, "missing": 2,
     "children": [{"nodeid": 1, "leaf": -0.4}, {"nodeid": 2, "leaf": 0.3}]},
    "{\"nodeid\":0,\"split\":\"f0\",\"split_condition\":0,\"yes\":1,\"no\":2,\"children\":[{\"nodeid\":1,\"leaf\":-0.2},{\"nodeid\":2,\"leaf\":0.1}]}"
  ]
}`

type mapArtifacts map[string][]byte

func (m mapArtifacts) Get(key string) ([]byte, error) {
	v, ok := m[key]
	if !ok {
		return nil, model.ErrNotFound
	}
	return v, nil
}

func TestXGBoost_Margin(t *testing.T) {
	x, err := ParseXGBoost([]byte(dump), []string{"macd", "rsi"})
	if err != nil {
		t.Fatal(err)
	}
	cases := []struct {
		name     string
		features []float64
		margin   float64
		want     int
	}{
		{"rsi low, macd positive", []float64{1, 40}, -0.4 + 0.1, 0},
		{"rsi high, macd positive", []float64{1, 60}, 0.3 + 0.1, 1},
		{"rsi missing goes right", []float64{-1, math.NaN()}, 0.3 - 0.2, 1},
	}
	for _, tc := range cases {
		m, err := x.Margin(tc.features)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		assertClose(t, tc.name, m, tc.margin, 1e-12)
		if got, _ := x.Predict(tc.features); got != tc.want {
			t.Errorf("%s: prediction %d, want %d", tc.name, got, tc.want)
		}
	}
}

func TestXGBoost_BaseScoreShiftsMargin(t *testing.T) {
	x, err := ParseXGBoost([]byte(`[{"nodeid":0,"leaf":0}]`), nil)
	if err != nil {
		t.Fatal(err)
	}
	if got, _ := x.Margin(nil); got != 0 {
		t.Errorf("bare list margin = %v, want 0", got)
	}

	x, err = ParseXGBoost([]byte(`{"base_score":0.2,"trees":[{"nodeid":0,"leaf":0}]}`), nil)
	if err != nil {
		t.Fatal(err)
	}
	got, _ := x.Margin(nil)
	assertClose(t, "logit(0.2)", got, math.Log(0.2/0.8), 1e-12)
	if p, _ := x.Predict(nil); p != 0 {
		t.Errorf("prediction = %d, want 0", p)
	}
}

func TestXGBoost_Invalid(t *testing.T) {
	cases := map[string]string{
		"not json":      `{`,
		"no trees":      `{"trees": []}`,
		"bad base":      `{"base_score": 1, "trees": [{"nodeid":0,"leaf":1}]}`,
		"dangling node": `[{"nodeid":0,"split":"f0","split_condition":1,"yes":1,"no":5,"children":[{"nodeid":1,"leaf":1}]}]`,
		"unknown split": `[{"nodeid":0,"split":"volume","split_condition":1,"yes":1,"no":2,"children":[{"nodeid":1,"leaf":1},{"nodeid":2,"leaf":0}]}]`,
	}
	for name, body := range cases {
		if _, err := ParseXGBoost([]byte(body), []string{"rsi"}); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestXGBoostFactory_LoadsArtifact(t *testing.T) {
	store := mapArtifacts{ArtifactKey("alice", 7): []byte(dump)}
	r := NewRegistry()
	r.Register(KindXGBoost, NewXGBoostFactory(store))

	b := bot("XGBoost", []string{"macd", "rsi"}, nil)
	if p, err := r.Predict(b, []float64{1, 60}); err != nil || p != 1 {
		t.Fatalf("p=%d err=%v", p, err)
	}

	b.ID = 8
	if _, err := r.Predict(b, []float64{1, 60}); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("missing artifact: err = %v, want ErrNotFound", err)
	}
}
