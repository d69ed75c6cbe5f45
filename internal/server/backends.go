package server

import (
	"context"
	"fmt"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/postrelay/internal/config"
	amqpdeliver "github.com/JakeFAU/postrelay/internal/deliver/amqp"
	"github.com/JakeFAU/postrelay/internal/deliver/logsink"
	"github.com/JakeFAU/postrelay/internal/deliver/telegram"
	memorypublisher "github.com/JakeFAU/postrelay/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/postrelay/internal/publisher/pubsub"
	"github.com/JakeFAU/postrelay/internal/relay"
	gcsstorage "github.com/JakeFAU/postrelay/internal/storage/gcs"
	localstorage "github.com/JakeFAU/postrelay/internal/storage/local"
	"github.com/JakeFAU/postrelay/internal/storage/memory"
	pgstore "github.com/JakeFAU/postrelay/internal/storage/postgres"
	"github.com/JakeFAU/postrelay/internal/storage/sqlite"
)

// memoryTopic names the in-memory notification stream when Pub/Sub is off.
const memoryTopic = "postrelay-runs"

// memoryHistory bounds the in-memory notification stream.
const memoryHistory = 100

// OpenCursorStore builds the configured cursor store. The returned close
// function may be nil.
func OpenCursorStore(
	ctx context.Context,
	cfg *config.Config,
	logger *zap.Logger,
) (relay.CursorStore, func(context.Context) error, error) {
	switch cfg.Cursor.Backend {
	case config.CursorMemory:
		logger.Warn("using in-memory cursor store; progress is lost on restart")
		return memory.NewCursorStore(), nil, nil
	case config.CursorLocal:
		store, err := localstorage.New(localstorage.Config{BaseDir: cfg.Local.Dir})
		if err != nil {
			return nil, nil, fmt.Errorf("local cursor store init failed: %w", err)
		}
		logger.Info("using local cursor store", zap.String("dir", cfg.Local.Dir))
		return store, nil, nil
	case config.CursorSQLite:
		store, err := sqlite.Open(ctx, cfg.SQLite.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("sqlite cursor store init failed: %w", err)
		}
		logger.Info("using sqlite cursor store", zap.String("path", cfg.SQLite.Path))
		return store, func(context.Context) error { return store.Close() }, nil
	case config.CursorPostgres:
		store, err := pgstore.New(ctx, pgstore.Config{
			DSN:      cfg.DB.DSN,
			Table:    cfg.DB.Table,
			MaxConns: cfg.DB.MaxConns,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("postgres cursor store init failed: %w", err)
		}
		if err := store.EnsureSchema(ctx); err != nil {
			store.Close()
			return nil, nil, fmt.Errorf("postgres cursor schema: %w", err)
		}
		logger.Info("using postgres cursor store", zap.String("table", cfg.DB.Table))
		return store, func(context.Context) error {
			store.Close()
			return nil
		}, nil
	case config.CursorGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		store, err := gcsstorage.New(client, gcsstorage.Config{Bucket: cfg.GCS.Bucket, Prefix: cfg.GCS.Prefix})
		if err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("gcs cursor store init failed: %w", err)
		}
		logger.Info("using gcs cursor store",
			zap.String("bucket", cfg.GCS.Bucket),
			zap.String("prefix", cfg.GCS.Prefix),
		)
		return store, func(context.Context) error { return client.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unsupported cursor backend %q", cfg.Cursor.Backend)
	}
}

func newDeliverer(
	ctx context.Context,
	cfg *config.Config,
	logger *zap.Logger,
) (relay.Deliverer, func(context.Context) error, error) {
	switch cfg.Delivery.Backend {
	case config.DeliveryTelegram:
		d, err := telegram.New(telegram.Config{
			Token:     cfg.Telegram.Token,
			ChannelID: cfg.Telegram.ChannelID,
			APIURL:    cfg.Telegram.APIURL,
		}, nil, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("telegram deliverer init failed: %w", err)
		}
		logger.Info("using telegram deliverer", zap.String("channel_id", cfg.Telegram.ChannelID))
		return d, nil, nil
	case config.DeliveryAMQP:
		var opts []amqpdeliver.ClientOption
		if cfg.AMQP.Username != "" {
			opts = append(opts, amqpdeliver.WithBasicAuth(cfg.AMQP.Username, cfg.AMQP.Password))
		}
		d, err := amqpdeliver.NewDeliverer(ctx, amqpdeliver.ConnectionInfo{
			URL:    cfg.AMQP.URL,
			Target: cfg.AMQP.Target,
		}, logger, opts...)
		if err != nil {
			return nil, nil, fmt.Errorf("amqp deliverer init failed: %w", err)
		}
		logger.Info("using amqp deliverer", zap.String("target", cfg.AMQP.Target))
		return d, d.Close, nil
	case config.DeliveryLog:
		logger.Warn("using log deliverer; posts are not sent anywhere")
		return logsink.New(logger), nil, nil
	default:
		return nil, nil, fmt.Errorf("unsupported delivery backend %q", cfg.Delivery.Backend)
	}
}

func newPublisher(
	ctx context.Context,
	cfg *config.Config,
	logger *zap.Logger,
) (relay.Publisher, string, func(context.Context) error, error) {
	if cfg.PubSub.Topic == "" || cfg.PubSub.ProjectID == "" {
		logger.Info("no Pub/Sub topic configured, using in-memory publisher")
		return memorypublisher.New(memoryHistory), memoryTopic, nil, nil
	}
	pub, err := gcppublisher.New(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return nil, "", nil, fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	logger.Info("Pub/Sub publisher initialized",
		zap.String("project", cfg.PubSub.ProjectID),
		zap.String("topic", cfg.PubSub.Topic),
	)
	return pub, cfg.PubSub.Topic, func(context.Context) error { return pub.Close() }, nil
}
