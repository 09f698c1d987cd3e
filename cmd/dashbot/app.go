package main

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/kalambet/dashbot/internal/anthropic"
	"github.com/kalambet/dashbot/internal/config"
	"github.com/kalambet/dashbot/internal/ollama"
	"github.com/kalambet/dashbot/internal/oracle"
	"github.com/kalambet/dashbot/internal/pipeline"
	"github.com/kalambet/dashbot/internal/reminder"
	"github.com/kalambet/dashbot/internal/storage"
	"github.com/kalambet/dashbot/internal/telegram"
)

// entryStore is implemented by both storage backends.
type entryStore interface {
	pipeline.Store
	reminder.Store
	GetEntry(ctx context.Context, id string) (storage.Entry, error)
	PatchEntry(ctx context.Context, id string, fields map[string]any) error
	Close() error
}

// app holds the wired components of a running dashbot.
type app struct {
	store     entryStore
	pipeline  *pipeline.Handler
	scheduler *reminder.Scheduler // nil when reminders are off
}

func (a *app) Close() error {
	return a.store.Close()
}

func setupLogging(cfg config.Config) {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel()})))
}

func openStore(ctx context.Context, cfg config.Config) (entryStore, error) {
	switch cfg.Storage.Backend {
	case config.BackendPostgres:
		ctx, cancel := context.WithTimeout(ctx, cfg.Storage.Timeout)
		defer cancel()
		s, err := storage.OpenPostgres(ctx, cfg.Storage.PostgresDSN, cfg.Storage.Table)
		if err != nil {
			return nil, fmt.Errorf("opening postgres storage: %w", err)
		}
		return s, nil
	default:
		s, err := storage.Open(cfg.Storage.DataDir)
		if err != nil {
			return nil, fmt.Errorf("opening storage: %w", err)
		}
		return s, nil
	}
}

func newOracleBackend(ctx context.Context, cfg config.Config) (oracle.Backend, error) {
	if cfg.Oracle.Provider == config.ProviderOllama {
		model := cmp.Or(cfg.Oracle.Model, ollama.DefaultModel)
		client := ollama.New(cfg.Oracle.BaseURL)
		if err := ollama.EnsureReady(ctx, client, model, os.Stderr); err != nil {
			return nil, err
		}
		return oracle.NewOllamaBackend(client, model), nil
	}
	return anthropic.NewClient(cfg.Oracle.APIKey, cfg.Oracle.BaseURL, cfg.Oracle.Model), nil
}

// buildApp opens storage and wires the oracle, pipeline and scheduler.
func buildApp(ctx context.Context, cfg config.Config) (*app, error) {
	if err := cfg.RequireSecrets(); err != nil {
		return nil, err
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	backend, err := newOracleBackend(ctx, cfg)
	if err != nil {
		store.Close()
		return nil, err
	}
	extractor := oracle.NewExtractor(backend, cfg.Oracle.Timeout, cfg.Location())

	a := &app{
		store:    store,
		pipeline: pipeline.NewHandler(extractor, store, cfg.EngineSettings()),
	}

	switch {
	case !cfg.Reminders.Enabled:
		slog.Info("reminders disabled")
	case cfg.Telegram.BotToken == "":
		slog.Warn("reminders disabled: no telegram bot token", "env", "DASHBOT_TELEGRAM_BOT_TOKEN")
	default:
		sender := telegram.NewSender(cfg.Telegram.BotToken, cfg.Telegram.BaseURL)
		a.scheduler = reminder.New(store, sender, cfg.ReminderSettings())
	}
	return a, nil
}

const shutdownTimeout = 5 * time.Second
