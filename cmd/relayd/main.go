package main

import (
	"context"
	"flag"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Sivaramanyt/mirror-leech-bot-sub000/internal/api"
	"github.com/Sivaramanyt/mirror-leech-bot-sub000/internal/config"
	"github.com/Sivaramanyt/mirror-leech-bot-sub000/internal/database"
	"github.com/Sivaramanyt/mirror-leech-bot-sub000/internal/downloader"
	"github.com/Sivaramanyt/mirror-leech-bot-sub000/internal/history"
	"github.com/Sivaramanyt/mirror-leech-bot-sub000/internal/logging"
	"github.com/Sivaramanyt/mirror-leech-bot-sub000/internal/relay"
	"github.com/Sivaramanyt/mirror-leech-bot-sub000/internal/resolver"
	"github.com/Sivaramanyt/mirror-leech-bot-sub000/internal/retry"
	"github.com/Sivaramanyt/mirror-leech-bot-sub000/internal/storage"
	"github.com/Sivaramanyt/mirror-leech-bot-sub000/internal/task"
	"github.com/Sivaramanyt/mirror-leech-bot-sub000/internal/telegram"
	"github.com/Sivaramanyt/mirror-leech-bot-sub000/internal/uploader"
)

func main() {
	configPath := flag.String("config", "config.json", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}
	logging.Setup(cfg.LogLevel, cfg.LogFormat)

	if err := cfg.Validate(); err != nil {
		logrus.Fatalf("Invalid config: %v", err)
	}

	dirs, err := storage.New(cfg.TempDir)
	if err != nil {
		logrus.Fatalf("Failed to create temp directory: %v", err)
	}

	db, err := database.Init(cfg.DataDir)
	if err != nil {
		logrus.Fatalf("Failed to init database: %v", err)
	}
	store, err := history.New(db)
	if err != nil {
		logrus.Fatalf("Failed to init history store: %v", err)
	}

	timeout := time.Duration(cfg.RequestTimeoutSeconds) * time.Second

	sink := telegram.NewClient(cfg.APIBase, cfg.BotToken, timeout)

	dl := downloader.New(downloader.Options{
		ChunkSize: cfg.ChunkSize,
		Timeout:   timeout,
		Retry: retry.Policy{
			MaxAttempts:    cfg.MaxRetries + 1,
			InitialBackoff: time.Duration(cfg.RetryBackoffSeconds) * time.Second,
			MaxBackoff:     30 * time.Second,
		},
	})

	up := uploader.New(sink, uploader.Options{
		MaxPayload:       cfg.SplitSize,
		RateLimitRetries: cfg.RateLimitRetries,
		RateLimitCap:     time.Duration(cfg.RateLimitCapSeconds) * time.Second,
	})

	// Status notifications go to the same chat the files land in.
	notifier := relay.NotifierFunc(func(ctx context.Context, owner int64, text string) error {
		return sink.SendMessage(ctx, cfg.ChatID, text)
	})

	engine := relay.New(
		relay.Options{
			ChatID:             cfg.ChatID,
			SplitSize:          cfg.SplitSize,
			ProgressMaxUpdates: cfg.ProgressMaxUpdates,
			ProgressInterval:   time.Duration(cfg.ProgressIntervalSeconds) * time.Second,
			ProgressDeltaPct:   cfg.ProgressDeltaPercent,
		},
		task.NewRegistry(cfg.MaxConcurrent),
		resolver.NewDirect(timeout),
		dl,
		up,
		dirs,
		store,
		notifier,
	)

	server := api.NewServer(cfg.ListenPort, engine, store)
	if err := server.Start(); err != nil {
		logrus.Fatalf("Server stopped: %v", err)
	}
}
