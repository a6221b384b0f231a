// Package app initializes and holds the long-lived application services,
// acting as a dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/weboost/sitewatch/internal/analyzer"
	"github.com/weboost/sitewatch/internal/api"
	"github.com/weboost/sitewatch/internal/clock/system"
	"github.com/weboost/sitewatch/internal/config"
	"github.com/weboost/sitewatch/internal/crawler"
	"github.com/weboost/sitewatch/internal/logging"
	"github.com/weboost/sitewatch/internal/mailer"
	"github.com/weboost/sitewatch/internal/metrics"
	"github.com/weboost/sitewatch/internal/prober"
	"github.com/weboost/sitewatch/internal/report"
	"github.com/weboost/sitewatch/internal/scheduler"
	"github.com/weboost/sitewatch/internal/storage/postgres"
)

const shutdownTimeout = 15 * time.Second

// App holds the shared, long-lived services for the monitoring process.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	store     *postgres.Store
	scheduler *scheduler.Scheduler
	server    *http.Server
}

// New builds every service from configuration, failing fast when any
// critical dependency cannot be initialized.
func New(ctx context.Context, cfgPath string) (*App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	metrics.Init()

	store, err := postgres.NewStore(ctx, postgres.StoreConfig{
		DSN:             cfg.DB.DSN,
		MaxConns:        cfg.DB.MaxConns,
		MinConns:        cfg.DB.MinConns,
		MaxConnLifetime: time.Duration(cfg.DB.MaxConnLifeM) * time.Minute,
	})
	if err != nil {
		return nil, fmt.Errorf("connect store: %w", err)
	}

	clk := system.New()

	links := crawler.New(crawler.Config{
		UserAgent:    cfg.Crawler.UserAgent,
		PageTimeout:  cfg.Crawler.PageTimeout(),
		ProbeTimeout: cfg.Crawler.ProbeTimeout(),
		MaxLinks:     cfg.Crawler.MaxLinks,
	}, clk, logger)
	perf := prober.NewPerformance(prober.AuditConfig{
		Endpoint: cfg.Audit.Endpoint,
		APIKey:   cfg.Audit.APIKey,
		Timeout:  cfg.Audit.Timeout(),
	}, clk, logger)
	server := prober.NewServer(cfg.Crawler.PageTimeout(), clk)

	analysis := analyzer.New(store, links, perf, server, clk, logger)

	loc, err := time.LoadLocation(cfg.Scheduler.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load scheduler timezone: %w", err)
	}
	reports := report.NewGenerator(store, logger, report.Options{
		AllowSyntheticDefaults: cfg.Scheduler.AllowSyntheticDefaults,
	})
	mail := mailer.New(cfg.Mail, logger)
	dispatcher := scheduler.NewDispatcher(store, mail, reports, clk, loc, logger)

	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched, err = scheduler.New(dispatcher, loc, logger)
		if err != nil {
			return nil, fmt.Errorf("build scheduler: %w", err)
		}
	}

	apiServer := api.NewServer(store, analysis, dispatcher, logger)

	return &App{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		scheduler: sched,
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           apiServer.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Run starts the scheduler and serves HTTP until ctx is cancelled, then
// shuts everything down gracefully.
func (a *App) Run(ctx context.Context) error {
	if a.scheduler != nil {
		a.scheduler.Start()
	} else {
		a.logger.Info("scheduler disabled by configuration")
	}

	errc := make(chan error, 1)
	go func() {
		a.logger.Info("http server listening", zap.String("addr", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	a.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("http shutdown incomplete", zap.Error(err))
	}
	if a.scheduler != nil {
		if err := a.scheduler.Stop(shutdownCtx); err != nil {
			a.logger.Warn("scheduler shutdown incomplete", zap.Error(err))
		}
	}
	return nil
}

// Close releases pooled resources and flushes buffered log entries.
func (a *App) Close() {
	a.store.Close()
	_ = a.logger.Sync()
}
