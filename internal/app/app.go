// Package app wires configuration into the stores and registries shared by
// the binaries.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/skyi28/ML-Trader/config"
	"github.com/skyi28/ML-Trader/internal/model"
	"github.com/skyi28/ML-Trader/internal/notification"
	"github.com/skyi28/ML-Trader/internal/predictor"
	"github.com/skyi28/ML-Trader/internal/store/badger"
	"github.com/skyi28/ML-Trader/internal/store/postgres"
	"github.com/skyi28/ML-Trader/internal/store/sqlite"
)

// Stores holds the opened persistence layer.
type Stores struct {
	SQLite    *sqlite.Store
	Postgres  *postgres.Store // nil unless store_driver=postgres
	Bots      model.BotStore
	Artifacts *badger.ArtifactStore // nil when the badger dir cannot be opened
}

// OpenStores opens SQLite (bars, ticks and by default bots) and, depending on
// the driver, Postgres for bots and trades.
func OpenStores(ctx context.Context, cfg *config.Config) (*Stores, error) {
	if dir := filepath.Dir(cfg.SQLitePath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	sq, err := sqlite.Open(cfg.SQLitePath)
	if err != nil {
		return nil, err
	}
	s := &Stores{SQLite: sq, Bots: sq}

	if cfg.StoreDriver == "postgres" {
		pg, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			sq.Close()
			return nil, err
		}
		s.Postgres = pg
		s.Bots = pg
	}
	return s, nil
}

// OpenArtifacts opens the model artifact store. Failure is not fatal: bots
// with artifact-backed models then fail individually.
func (s *Stores) OpenArtifacts(dir string, log *slog.Logger) {
	a, err := badger.Open(dir)
	if err != nil {
		log.Warn("model artifacts unavailable", "dir", dir, "error", err)
		return
	}
	s.Artifacts = a
}

// Close releases everything that was opened.
func (s *Stores) Close() {
	if s.Artifacts != nil {
		s.Artifacts.Close()
	}
	if s.Postgres != nil {
		s.Postgres.Close()
	}
	s.SQLite.Close()
}

// Registry returns the model registry, with xgboost enabled when artifacts
// are available.
func (s *Stores) Registry() *predictor.Registry {
	reg := predictor.NewRegistry()
	if s.Artifacts != nil {
		reg.Register(predictor.KindXGBoost, predictor.NewXGBoostFactory(s.Artifacts))
	}
	return reg
}

// Notifier builds the alert fan-out from the configured channels. The log
// notifier is always present.
func Notifier(cfg *config.Config, log *slog.Logger) notification.Notifier {
	m := notification.Multi{notification.NewLogNotifier()}
	if cfg.WebhookURL != "" {
		m = append(m, notification.NewWebhookNotifier(cfg.WebhookURL))
	}
	if cfg.TelegramToken != "" && cfg.TelegramChatID != 0 {
		tg, err := notification.NewTelegramNotifier(cfg.TelegramToken, cfg.TelegramChatID)
		if err != nil {
			log.Warn("telegram notifier disabled", "error", err)
		} else {
			m = append(m, tg)
		}
	}
	return m
}
