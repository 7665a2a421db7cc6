// feedtail connects to the realtime audit-log channel and streams live events
// to the console. With -page it also fetches one page through the correlator
// (realtime first, REST after the timeout) and prints it.
//
// Usage: go run ./cmd/feedtail --config configs/auditwatch.local.yaml -page 0 -size 20
//
// The bearer token comes from api.token or api.token_file in the config,
// typically via ${AUDIT_TOKEN}.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rickgao/auditstream/internal/api"
	"github.com/rickgao/auditstream/internal/auth"
	"github.com/rickgao/auditstream/internal/config"
	"github.com/rickgao/auditstream/internal/connection"
	"github.com/rickgao/auditstream/internal/model"
	"github.com/rickgao/auditstream/internal/pager"
	"github.com/rickgao/auditstream/internal/reconnect"
	"github.com/rickgao/auditstream/internal/router"
)

func main() {
	configPath := flag.String("config", "configs/auditwatch.example.yaml", "path to config file")
	page := flag.Int("page", -1, "fetch this page once connected (-1 = none)")
	size := flag.Int("size", 0, "page size (0 = pager.page_size)")
	verbose := flag.Bool("verbose", false, "print full event JSON")
	flag.Parse()

	// Setup logger
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	// Load config
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	creds, err := auth.LoadCredentials(cfg.API.Token, cfg.API.TokenFile)
	if err != nil {
		logger.Error("failed to load credentials", "error", err)
		logger.Info("set api.token or api.token_file, e.g. token: ${AUDIT_TOKEN}")
		os.Exit(1)
	}

	transport, err := connection.ParseTransport(cfg.API.Transport)
	if err != nil {
		logger.Error("invalid transport", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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

	// Print live events as they arrive
	rtr := router.New(router.HandlerFuncs{
		AuditEvent: func(msg router.Message) {
			printEvent(os.Stdout, msg.Event, *verbose)
		},
		Unmatched: func(msg router.Message) {
			fmt.Printf("[UNMATCHED] destination=%s bytes=%d\n", msg.Destination, len(msg.Raw))
		},
	}, logger)
	if err := mgr.Subscribe(cfg.Realtime.LiveTopic, rtr.Route); err != nil {
		logger.Error("failed to subscribe live topic", "error", err)
		os.Exit(1)
	}

	apiClient := api.NewClient(cfg.API.RestURL, creds.Token,
		api.WithLogger(logger),
		api.WithTimeout(cfg.API.Timeout),
		api.WithRetries(cfg.API.MaxRetries, time.Second),
		api.WithAuditPath(cfg.API.AuditPath),
	)
	corr := pager.New(pager.Config{
		RequestDestination: cfg.Realtime.RequestDestination,
		ResponseTopic:      cfg.Realtime.ResponseTopic,
		Timeout:            cfg.Pager.Timeout,
		MaxLoading:         cfg.Pager.MaxLoading,
		PageSize:           cfg.Pager.PageSize,
	}, mgr, apiClient, logger)
	if err := corr.Start(); err != nil {
		logger.Error("failed to start correlator", "error", err)
		os.Exit(1)
	}

	sup := reconnect.NewSupervisor(
		reconnect.NewPolicy(cfg.Reconnect.BaseDelay, cfg.Reconnect.MaxAttempts),
		mgr, logger,
	)
	go sup.Run(ctx)

	logger.Info("connecting", "url", cfg.API.WSURL, "transport", transport)
	if err := mgr.Connect(ctx); err != nil {
		logger.Warn("connect failed, retrying in background", "error", err)
		sup.ReportLoss(err)
	}

	if *page >= 0 {
		result, source, err := corr.FetchPage(ctx, *page, *size)
		if err != nil {
			logger.Error("page fetch failed", "page", *page, "error", err)
		} else {
			printPage(os.Stdout, result, source)
		}
	}

	// Stats printer
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case err := <-mgr.Errors():
				logger.Warn("realtime error", "error", err)
			case <-ticker.C:
				cs := mgr.Stats()
				rs := rtr.Stats()
				logger.Info("stats",
					"state", cs.State,
					"connects", cs.Connects,
					"delivered", cs.Delivered,
					"router_routed", rs.Routed,
					"parse_errors", rs.ParseErrors,
					"reconnect", sup.Policy().Snapshot().Phase,
				)
			}
		}
	}()

	logger.Info("streaming started - press Ctrl+C to stop")

	// Wait for shutdown
	<-ctx.Done()

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	logger.Info("shutting down...")
	corr.Close()
	mgr.Stop(shutdownCtx)

	logger.Info("shutdown complete")
}

func printEvent(w io.Writer, ev model.AuditEvent, verbose bool) {
	if verbose {
		data, _ := json.MarshalIndent(json.RawMessage(ev.Raw), "", "  ")
		fmt.Fprintf(w, "[EVENT] %s\n", data)
		return
	}
	fmt.Fprintf(w, "[EVENT] id=%s time=%s action=%s actor=%s entity=%s/%s\n",
		ev.ID, ev.Timestamp.Format(time.RFC3339), ev.Action, ev.Actor, ev.Entity, ev.EntityID)
}

func printPage(w io.Writer, page model.AuditPage, source pager.Source) {
	fmt.Fprintf(w, "[PAGE] number=%d size=%d total_pages=%d total=%d source=%s\n",
		page.Number, page.Size, page.TotalPages, page.TotalElements, source)
	for _, ev := range page.Content {
		printEvent(w, ev, false)
	}
}
