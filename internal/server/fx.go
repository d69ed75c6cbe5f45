// Package server provides the core application server and dependency injection.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/postrelay/internal/api"
	"github.com/JakeFAU/postrelay/internal/clock/system"
	"github.com/JakeFAU/postrelay/internal/config"
	"github.com/JakeFAU/postrelay/internal/dispatcher"
	collyfetcher "github.com/JakeFAU/postrelay/internal/fetcher/colly"
	"github.com/JakeFAU/postrelay/internal/id/uuid"
	"github.com/JakeFAU/postrelay/internal/logging"
	"github.com/JakeFAU/postrelay/internal/metrics"
	"github.com/JakeFAU/postrelay/internal/policy/ratelimit"
	queuememory "github.com/JakeFAU/postrelay/internal/queue/memory"
	"github.com/JakeFAU/postrelay/internal/relay"
	"github.com/JakeFAU/postrelay/internal/schedule"
	"github.com/JakeFAU/postrelay/internal/storage/memory"
	"github.com/JakeFAU/postrelay/internal/worker"
)

const shutdownTimeout = 10 * time.Second

// closer releases one backend during shutdown.
type closer struct {
	name string
	fn   func(context.Context) error
}

// App contains the application's dependencies.
type App struct {
	cfg       *config.Config
	logger    *zap.Logger
	cursors   relay.CursorStore
	queue     *queuememory.Queue
	runs      *memory.RunStore
	worker    *worker.Worker
	submitter *worker.Submitter
	apiServer *api.Server
	scheduler *schedule.Scheduler
	closers   []closer
}

// NewLogger builds the process logger from config and installs it globally.
func NewLogger(cfg *config.Config) (*zap.Logger, error) {
	logger, err := logging.New(cfg.Logging.Development, logging.WithLevel(cfg.Logging.Level))
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	type sanitizedConfig struct {
		ServerPort      int    `json:"server_port"`
		Source          string `json:"source"`
		DeliveryBackend string `json:"delivery_backend"`
		CursorBackend   string `json:"cursor_backend"`
		Schedule        bool   `json:"schedule"`
	}
	logger.Info("creating application", zap.Any("config", sanitizedConfig{
		ServerPort:      cfg.Server.Port,
		Source:          cfg.Source.Name,
		DeliveryBackend: cfg.Delivery.Backend,
		CursorBackend:   cfg.Cursor.Backend,
		Schedule:        cfg.Schedule.Enabled,
	}))
	metrics.Init()

	app := &App{cfg: cfg, logger: logger}
	ok := false
	defer func() {
		if !ok {
			app.closeBackends(context.Background())
		}
	}()

	cursors, closeCursors, err := OpenCursorStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	app.cursors = cursors
	app.addCloser("cursor store", closeCursors)

	fetcher, err := collyfetcher.New(collyfetcher.Config{
		BaseURL:     cfg.Source.BaseURL,
		Tags:        cfg.Source.Tags,
		Limit:       cfg.Source.Limit,
		StartAnchor: cfg.Source.StartAnchor,
		UserAgent:   cfg.Source.UserAgent,
		Timeout:     cfg.Source.Timeout,
		Login:       cfg.Source.Login,
		APIKey:      cfg.Source.APIKey,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("fetcher init failed: %w", err)
	}
	logger.Info("using colly fetcher",
		zap.String("base_url", cfg.Source.BaseURL),
		zap.String("user_agent", cfg.Source.UserAgent),
		zap.Duration("timeout", cfg.Source.Timeout),
	)

	deliverer, closeDeliverer, err := newDeliverer(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	app.addCloser("deliverer", closeDeliverer)

	throttle := ratelimit.New(ratelimit.Config{
		RatePerSec: cfg.Delivery.RatePerSec,
		Burst:      cfg.Delivery.Burst,
	})
	logger.Info("delivery throttle configured",
		zap.Float64("rate_per_sec", cfg.Delivery.RatePerSec),
		zap.Int("burst", cfg.Delivery.Burst),
	)
	disp := dispatcher.New(deliverer, throttle, dispatcher.Config{
		Timeout:     cfg.Delivery.Timeout,
		PostURLBase: cfg.Delivery.PostURLBase,
	}, logger)

	publisher, topic, closePublisher, err := newPublisher(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	app.addCloser("publisher", closePublisher)

	clock := system.New()
	ids := uuid.New()
	app.runs = memory.NewRunStore(cfg.Server.RunHistory, clock)
	app.queue = queuememory.NewQueue(1)
	app.worker = worker.New(
		cursors,
		fetcher,
		disp,
		publisher,
		app.runs,
		app.queue,
		clock,
		ids,
		worker.Config{Source: cfg.Source.Name, Topic: topic, RunTimeout: cfg.Server.SyncTimeout},
		logger,
	)
	app.submitter = worker.NewSubmitter(app.runs, app.queue, ids, clock)
	app.apiServer = api.NewServer(app.worker, app.submitter, app.runs, cursors, *cfg, logger)

	if cfg.Schedule.Enabled {
		app.scheduler, err = schedule.New(app.submitter, schedule.Config{
			Interval:   cfg.Schedule.Interval,
			RunOnStart: cfg.Schedule.RunOnStart,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("scheduler init failed: %w", err)
		}
	}

	ok = true
	return app, nil
}

// RunOnce executes a single run outside the HTTP server.
func (a *App) RunOnce(ctx context.Context) (relay.Summary, error) {
	req, err := a.submitter.Record(ctx, "cli")
	if err != nil {
		return relay.Summary{}, err
	}
	summary, err := a.worker.Process(ctx, req)
	if err != nil {
		return summary, fmt.Errorf("run %s: %w", req.RunID, err)
	}
	return summary, nil
}

// Run starts the HTTP server, the run worker and the optional interval
// trigger, and blocks until the context is canceled or a component fails.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("run worker started")
		a.worker.Run(gctx)
		return nil
	})
	if a.scheduler != nil {
		g.Go(func() error {
			a.scheduler.Run(gctx)
			return nil
		})
	}
	g.Go(func() error {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutdown initiated")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("server shutdown error", zap.Error(err))
		}
		a.queue.Close()
		return nil
	})

	runErr := g.Wait()

	closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.Close(closeCtx); err != nil {
		return errors.Join(runErr, err)
	}
	return runErr
}

// Cursors exposes the configured cursor store.
func (a *App) Cursors() relay.CursorStore {
	return a.cursors
}

// Close gracefully shuts down the application.
func (a *App) Close(ctx context.Context) error {
	if a.queue != nil {
		a.queue.Close()
	}
	a.closeBackends(ctx)
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) addCloser(name string, fn func(context.Context) error) {
	if fn != nil {
		a.closers = append(a.closers, closer{name: name, fn: fn})
	}
}

func (a *App) closeBackends(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(ctx); err != nil {
			a.logger.Warn("close failed", zap.String("component", c.name), zap.Error(err))
		}
	}
	a.closers = nil
}
