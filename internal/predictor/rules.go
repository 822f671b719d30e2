package predictor

import (
	"fmt"

	"github.com/skyi28/ML-Trader/internal/model"
)

// Built-in kind names.
const (
	KindThreshold = "threshold"
	KindCrossover = "crossover"
	KindLogistic  = "logistic"
	KindXGBoost   = "xgboost"
)

// Threshold predicts 1 when one feature is above a fixed level. With invert
// set it predicts 1 when the feature is below it instead.
//
// Hyperparameters: feature_index (default 0), threshold (default 0),
// invert (non-zero to flip).
type Threshold struct {
	index  int
	level  float64
	invert bool
}

// NewThreshold is the Factory for KindThreshold.
func NewThreshold(bot model.Bot) (Model, error) {
	t := &Threshold{
		index:  int(bot.Param("feature_index", 0)),
		level:  bot.Param("threshold", 0),
		invert: bot.Param("invert", 0) != 0,
	}
	if t.index < 0 || (len(bot.Indicators) > 0 && t.index >= len(bot.Indicators)) {
		return nil, fmt.Errorf("feature_index %d outside %d indicators", t.index, len(bot.Indicators))
	}
	return t, nil
}

func (t *Threshold) Predict(features []float64) (int, error) {
	v, err := feature(features, t.index)
	if err != nil {
		return 0, err
	}
	return boolToInt((v > t.level) != t.invert), nil
}

// Crossover predicts 1 while the fast feature is above the slow one. An
// optional RSI feature filters the signal: an overbought reading forces 0
// and an oversold reading forces 1.
//
// Hyperparameters: fast_index (default 0), slow_index (default 1),
// rsi_index (default -1, disabled), overbought (70), oversold (30).
type Crossover struct {
	fast, slow int
	rsi        int
	overbought float64
	oversold   float64
}

// NewCrossover is the Factory for KindCrossover.
func NewCrossover(bot model.Bot) (Model, error) {
	c := &Crossover{
		fast:       int(bot.Param("fast_index", 0)),
		slow:       int(bot.Param("slow_index", 1)),
		rsi:        int(bot.Param("rsi_index", -1)),
		overbought: bot.Param("overbought", 70),
		oversold:   bot.Param("oversold", 30),
	}
	if c.fast == c.slow {
		return nil, fmt.Errorf("fast_index and slow_index must differ (both %d)", c.fast)
	}
	if c.oversold >= c.overbought {
		return nil, fmt.Errorf("oversold %.1f must be below overbought %.1f", c.oversold, c.overbought)
	}
	return c, nil
}

func (c *Crossover) Predict(features []float64) (int, error) {
	fast, err := feature(features, c.fast)
	if err != nil {
		return 0, err
	}
	slow, err := feature(features, c.slow)
	if err != nil {
		return 0, err
	}
	if c.rsi >= 0 {
		rsi, err := feature(features, c.rsi)
		if err != nil {
			return 0, err
		}
		switch {
		case rsi > c.overbought:
			return 0, nil
		case rsi < c.oversold:
			return 1, nil
		}
	}
	return boolToInt(fast > slow), nil
}
