package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"checkpointfeed/internal/classifier"
	"checkpointfeed/internal/config"
	"checkpointfeed/internal/cursor"
	"checkpointfeed/internal/db"
	"checkpointfeed/internal/eventstore"
	"checkpointfeed/internal/ingest"
	"checkpointfeed/internal/logger"
	"checkpointfeed/internal/metrics"
	"checkpointfeed/internal/noise"
	"checkpointfeed/internal/registry"
	"checkpointfeed/internal/retry"
	"checkpointfeed/internal/source"
)

func loadConfig() (config.Config, error) {
	path := cfgFile
	if path == "" {
		path = os.Getenv("CKP_CONFIG")
	}
	if path == "" {
		path = "config/config.yaml"
	}

	only := envOnly
	if raw := os.Getenv("CKP_ENV_ONLY"); raw != "" {
		only = only || strings.EqualFold(raw, "true") || raw == "1"
	}
	if !only {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			only = true
		}
	}
	return config.Load(path, only)
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	l, err := logger.New(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l, nil
}

func newClassifier(cfg config.Config) (*classifier.Classifier, *noise.Filter, error) {
	reg, err := registry.LoadFile(cfg.Classifier.LocationsFile)
	if err != nil {
		return nil, nil, err
	}
	cls, err := classifier.New(reg, cfg.Classifier.DefaultBothDirection)
	if err != nil {
		return nil, nil, err
	}
	nf, err := noise.Default()
	if err != nil {
		return nil, nil, err
	}
	return cls, nf, nil
}

func openCursorStore(cfg config.Config, log *zap.Logger) (cursor.Store, error) {
	switch cfg.State.Backend {
	case config.StateBackendPostgres:
		conn, err := db.Open(cfg.DB)
		if err != nil {
			return nil, fmt.Errorf("db open: %w", err)
		}
		pctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := db.Ping(pctx, conn); err != nil {
			log.Warn("postgres ping failed", zap.Error(err))
		}
		if err := db.AutoMigrate(conn); err != nil {
			_ = db.Close(conn)
			return nil, fmt.Errorf("auto-migrate: %w", err)
		}
		return &cursor.PostgresStore{DB: conn.Gorm, CloseFn: func() error { return db.Close(conn) }}, nil
	case config.StateBackendRedis:
		return cursor.NewRedisStore(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, cfg.State.RedisKeyPrefix), nil
	default:
		return cursor.NewFileStore(cfg.State.Path), nil
	}
}

func newSource(cfg config.Config, log *zap.Logger) source.Source {
	var telegram []string
	var discord bool
	for _, ch := range cfg.Telegram.Channels {
		if strings.HasPrefix(ch, config.DiscordPrefix) {
			discord = true
			continue
		}
		telegram = append(telegram, ch)
	}
	r := &source.Router{}
	if len(telegram) > 0 {
		r.Telegram = source.NewTelegramSource(cfg.Telegram.BotToken, telegram, cfg.Telegram.BufferSize, log.Named("telegram"))
	}
	if discord {
		r.Discord = source.NewDiscordSource(cfg.Discord.BotToken, log.Named("discord"))
	}
	return r
}

// buildScheduler wires every component; nothing connects until Start.
func buildScheduler(cfg config.Config, log *zap.Logger, m *metrics.Metrics) (*ingest.Scheduler, error) {
	loc, err := time.LoadLocation(cfg.Ingest.SourceTimezone)
	if err != nil {
		return nil, fmt.Errorf("%w: ingest.source_timezone: %v", config.ErrInvalidSetting, err)
	}
	cls, nf, err := newClassifier(cfg)
	if err != nil {
		return nil, err
	}
	cursors, err := openCursorStore(cfg, log)
	if err != nil {
		return nil, err
	}

	return &ingest.Scheduler{
		Source: newSource(cfg, log),
		Events: &eventstore.MongoStore{
			URI:        cfg.Mongo.URI,
			Database:   cfg.Mongo.Database,
			Collection: cfg.Mongo.Collection,
			Timeout:    cfg.Mongo.Timeout,
			Location:   loc,
			Logger:     log.Named("eventstore"),
		},
		Cursors:    cursors,
		Classifier: cls,
		Noise:      nf,
		Metrics:    m,
		Logger:     log.Named("ingest"),
		Options: ingest.Options{
			Channels:         cfg.Telegram.Channels,
			PollInterval:     cfg.Telegram.PollInterval(),
			MessageLimit:     cfg.Telegram.MessageLimit,
			FetchConcurrency: cfg.Ingest.FetchConcurrency,
			FetchTimeout:     cfg.Ingest.FetchTimeout,
			CycleTimeout:     cfg.Ingest.CycleTimeout,
			VerifyChannels:   cfg.Ingest.VerifyChannels,
			Init: retry.Options{
				MaxAttempts:  cfg.Ingest.InitMaxAttempts,
				InitialDelay: cfg.Ingest.InitRetryDelay,
				MaxDelay:     cfg.Ingest.InitMaxDelay,
			},
		},
	}, nil
}

func shutdownTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
}
