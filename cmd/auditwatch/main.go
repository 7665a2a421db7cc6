// auditwatch keeps the realtime audit-log session alive, maintains the live
// feed and optionally archives events to PostgreSQL.
//
// Usage: auditwatch --config configs/auditwatch.local.yaml
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/auditstream/internal/api"
	"github.com/rickgao/auditstream/internal/archive"
	"github.com/rickgao/auditstream/internal/auth"
	"github.com/rickgao/auditstream/internal/config"
	"github.com/rickgao/auditstream/internal/connection"
	"github.com/rickgao/auditstream/internal/database"
	"github.com/rickgao/auditstream/internal/metrics"
	"github.com/rickgao/auditstream/internal/monitor"
	"github.com/rickgao/auditstream/internal/pager"
	"github.com/rickgao/auditstream/internal/poller"
	"github.com/rickgao/auditstream/internal/reconnect"
	"github.com/rickgao/auditstream/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/auditwatch.local.yaml", "path to config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("auditwatch failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	// Load configuration
	cfg, err := config.LoadAndValidate(configPath)
	if err != nil {
		return err
	}

	level, err := config.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	logger.Info("starting auditwatch",
		"version", version.Version,
		"commit", version.Commit,
		"config", configPath,
		"instance_id", cfg.Instance.ID,
	)

	creds, err := auth.LoadCredentials(cfg.API.Token, cfg.API.TokenFile)
	if err != nil {
		return fmt.Errorf("load credentials: %w", err)
	}

	transport, err := connection.ParseTransport(cfg.API.Transport)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	// Create API client
	apiClient := api.NewClient(
		cfg.API.RestURL,
		creds.Token,
		api.WithLogger(logger),
		api.WithTimeout(cfg.API.Timeout),
		api.WithRetries(cfg.API.MaxRetries, time.Second),
		api.WithAuditPath(cfg.API.AuditPath),
	)

	// Connect to archive database
	var (
		pool   *pgxpool.Pool
		writer *archive.Writer
	)
	if cfg.Archive.Enabled {
		db := cfg.Archive.Database
		logger.Info("connecting to archive database",
			"host", db.Host,
			"port", db.Port,
			"database", db.Name,
		)

		pool, err = database.Connect(ctx, db)
		if err != nil {
			return fmt.Errorf("connect archive database: %w", err)
		}
		defer pool.Close()

		if err := archive.EnsureSchema(ctx, pool); err != nil {
			return err
		}

		writer = archive.NewWriter(archive.Config{
			BatchSize:     cfg.Archive.BatchSize,
			FlushInterval: cfg.Archive.FlushInterval,
			BufferSize:    cfg.Archive.BufferSize,
		}, pool, logger, archive.WithObserver(m))
		if err := writer.Start(ctx); err != nil {
			return fmt.Errorf("start archive writer: %w", err)
		}
	}

	// Create Connection Manager
	mgrCfg := connection.DefaultManagerConfig()
	mgrCfg.Client = connection.ClientConfig{
		URL:            cfg.API.WSURL,
		Transport:      transport,
		Token:          creds.Token,
		TokenInQuery:   cfg.API.TokenInQuery,
		ConnectTimeout: cfg.Realtime.ConnectTimeout,
		WriteTimeout:   cfg.Realtime.WriteTimeout,
		Heartbeat:      cfg.Realtime.Heartbeat,
		BufferSize:     cfg.Realtime.BufferSize,
	}
	mgr := connection.NewManager(mgrCfg, logger)

	// Live feed
	monOpts := []monitor.Option{monitor.WithObserver(m)}
	if writer != nil {
		monOpts = append(monOpts, monitor.WithArchiver(writer))
	}
	mon := monitor.New(monitor.Config{
		LiveTopic: cfg.Realtime.LiveTopic,
		Capacity:  cfg.Feed.Capacity,
	}, mgr, logger, monOpts...)
	if err := mon.Start(); err != nil {
		return fmt.Errorf("start monitor: %w", err)
	}

	// Paged requests
	corr := pager.New(pager.Config{
		RequestDestination: cfg.Realtime.RequestDestination,
		ResponseTopic:      cfg.Realtime.ResponseTopic,
		Timeout:            cfg.Pager.Timeout,
		MaxLoading:         cfg.Pager.MaxLoading,
		PageSize:           cfg.Pager.PageSize,
	}, mgr, apiClient, logger, pager.WithObserver(m))
	if err := corr.Start(); err != nil {
		return fmt.Errorf("start correlator: %w", err)
	}

	sup := reconnect.NewSupervisor(
		reconnect.NewPolicy(cfg.Reconnect.BaseDelay, cfg.Reconnect.MaxAttempts),
		mgr, logger,
		reconnect.WithObserver(m),
	)

	var poll *poller.Poller
	if cfg.Feed.PollInterval > 0 {
		poll = poller.New(poller.Config{
			Interval: cfg.Feed.PollInterval,
			PageSize: cfg.Pager.PageSize,
			Timeout:  cfg.API.Timeout,
		}, apiClient, mgr, mon, logger)
	}

	deps := handlerDeps{
		conn:     mgr,
		feed:     mon,
		pages:    corr,
		recon:    sup,
		metrics:  metrics.Handler(reg),
		path:     cfg.Metrics.Path,
		pageSize: cfg.Pager.PageSize,
		logger:   logger,
	}
	if pool != nil {
		deps.db = pool
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler:           createHandler(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := sup.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("reconnect supervisor: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		logger.Info("connecting realtime session", "url", cfg.API.WSURL, "transport", transport)
		if err := mgr.Connect(gctx); err != nil {
			if gctx.Err() != nil {
				return nil
			}
			logger.Warn("initial connect failed", "error", err)
			sup.ReportLoss(err)
		}
		return nil
	})

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case err := <-mgr.Errors():
				logger.Warn("realtime error", "error", err)
			}
		}
	})

	g.Go(func() error {
		logger.Info("starting http server", "port", cfg.Metrics.Port, "metrics_path", cfg.Metrics.Path)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		logStats(gctx, mgr, mon, logger)
		return nil
	})

	if poll != nil {
		if err := poll.Start(gctx); err != nil {
			return fmt.Errorf("start poller: %w", err)
		}
	}

	logger.Info("auditwatch running",
		"instance_id", cfg.Instance.ID,
		"health_url", fmt.Sprintf("http://localhost:%d/health", cfg.Metrics.Port),
	)

	// Wait for shutdown
	<-gctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if poll != nil {
		poll.Stop(shutdownCtx)
	}
	corr.Close()
	mon.Close()
	if err := mgr.Stop(shutdownCtx); err != nil {
		logger.Warn("connection manager stop", "error", err)
	}
	if writer != nil {
		if err := writer.Stop(shutdownCtx); err != nil {
			logger.Warn("archive writer stop", "error", err)
		}
	}

	err = g.Wait()
	logger.Info("auditwatch stopped")
	return err
}

// logStats periodically logs connection and feed statistics.
func logStats(ctx context.Context, mgr connection.Manager, mon *monitor.Monitor, logger *slog.Logger) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cs := mgr.Stats()
			ms := mon.Stats()
			logger.Info("stats",
				"state", cs.State,
				"connects", cs.Connects,
				"delivered", cs.Delivered,
				"live_events", ms.Live,
				"merged_events", ms.Merged,
				"archived", ms.Archived,
				"feed", ms.Feed.Count,
				"parse_errors", ms.Router.ParseErrors,
			)
		}
	}
}
