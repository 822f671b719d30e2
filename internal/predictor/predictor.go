// Package predictor turns a bot's feature vector into a 0/1 direction
// prediction. Models are built per bot by a Registry keyed on the bot's
// model kind.
package predictor

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/skyi28/ML-Trader/internal/model"
)

// ErrUnknownKind is returned for a bot whose model kind has no factory.
var ErrUnknownKind = errors.New("unknown model kind")

// Model predicts 1 (price up, go long) or 0 (price down, go short).
type Model interface {
	Predict(features []float64) (int, error)
}

// Factory builds the model for one bot.
type Factory func(bot model.Bot) (Model, error)

// Registry maps model kinds to factories and caches built models per bot.
// A cached model is rebuilt when the bot's kind or training time changes.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	cache     map[int64]cached
}

type cached struct {
	kind    string
	trained time.Time
	model   Model
}

// NewRegistry returns a registry with the threshold, crossover and logistic
// kinds registered. Artifact-backed kinds are added with Register.
func NewRegistry() *Registry {
	r := &Registry{
		factories: make(map[string]Factory),
		cache:     make(map[int64]cached),
	}
	r.Register(KindThreshold, NewThreshold)
	r.Register(KindCrossover, NewCrossover)
	r.Register(KindLogistic, NewLogistic)
	return r
}

// Register adds or replaces the factory for kind. Kinds are case-insensitive.
func (r *Registry) Register(kind string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[normalize(kind)] = f
	r.cache = make(map[int64]cached)
}

// Kinds returns the registered kinds.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for k := range r.factories {
		out = append(out, k)
	}
	return out
}

// Model returns the model for bot, building it on first use.
func (r *Registry) Model(bot model.Bot) (Model, error) {
	kind := normalize(bot.ModelKind)

	r.mu.RLock()
	c, ok := r.cache[bot.ID]
	f, known := r.factories[kind]
	r.mu.RUnlock()

	if ok && c.kind == kind && c.trained.Equal(bot.LastTrainedAt) {
		return c.model, nil
	}
	if !known {
		return nil, fmt.Errorf("bot %d: %w %q", bot.ID, ErrUnknownKind, bot.ModelKind)
	}
	m, err := f(bot)
	if err != nil {
		return nil, fmt.Errorf("bot %d: build %s model: %w", bot.ID, kind, err)
	}

	r.mu.Lock()
	r.cache[bot.ID] = cached{kind: kind, trained: bot.LastTrainedAt, model: m}
	r.mu.Unlock()
	return m, nil
}

// Predict builds (or reuses) the bot's model and runs it on features.
func (r *Registry) Predict(bot model.Bot, features []float64) (int, error) {
	m, err := r.Model(bot)
	if err != nil {
		return 0, err
	}
	p, err := m.Predict(features)
	if err != nil {
		return 0, fmt.Errorf("bot %d: predict: %w", bot.ID, err)
	}
	return p, nil
}

// Forget drops the cached model of a bot.
func (r *Registry) Forget(botID int64) {
	r.mu.Lock()
	delete(r.cache, botID)
	r.mu.Unlock()
}

func normalize(kind string) string {
	return strings.ToLower(strings.TrimSpace(kind))
}

// feature returns features[i] or an error when i is out of range.
func feature(features []float64, i int) (float64, error) {
	if i < 0 || i >= len(features) {
		return 0, fmt.Errorf("feature index %d out of range (have %d)", i, len(features))
	}
	return features[i], nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
