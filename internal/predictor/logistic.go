package predictor

import (
	"fmt"
	"math"

	"github.com/skyi28/ML-Trader/internal/model"
)

// Logistic is a linear model squashed through a sigmoid. It predicts 1 when
// the probability is at least 0.5.
//
// Hyperparameters: w0..wN-1 (one per feature, missing means 0) and bias.
type Logistic struct {
	weights []float64
	bias    float64
}

// NewLogistic is the Factory for KindLogistic.
func NewLogistic(bot model.Bot) (Model, error) {
	n := len(bot.Indicators)
	if n == 0 {
		return nil, fmt.Errorf("logistic model needs at least one indicator")
	}
	l := &Logistic{weights: make([]float64, n), bias: bot.Param("bias", 0)}
	for i := range l.weights {
		l.weights[i] = bot.Param(fmt.Sprintf("w%d", i), 0)
	}
	return l, nil
}

// Probability returns sigmoid(w·x + bias).
func (l *Logistic) Probability(features []float64) (float64, error) {
	if len(features) != len(l.weights) {
		return 0, fmt.Errorf("expected %d features, got %d", len(l.weights), len(features))
	}
	z := l.bias
	for i, w := range l.weights {
		z += w * features[i]
	}
	return sigmoid(z), nil
}

func (l *Logistic) Predict(features []float64) (int, error) {
	p, err := l.Probability(features)
	if err != nil {
		return 0, err
	}
	return boolToInt(p >= 0.5), nil
}

func sigmoid(z float64) float64 { return 1 / (1 + math.Exp(-z)) }
