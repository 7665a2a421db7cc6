package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/rickgao/auditstream/internal/connection"
	"github.com/rickgao/auditstream/internal/model"
	"github.com/rickgao/auditstream/internal/monitor"
	"github.com/rickgao/auditstream/internal/pager"
	"github.com/rickgao/auditstream/internal/reconnect"
	"github.com/rickgao/auditstream/internal/version"
)

// connStatus is the part of connection.Manager the handlers read.
type connStatus interface {
	Stats() connection.ManagerStats
}

type feedSource interface {
	Feed() []model.AuditEvent
	Stats() monitor.Stats
}

type pageFetcher interface {
	FetchPage(ctx context.Context, page, size int) (model.AuditPage, pager.Source, error)
	Loading() bool
}

type reconnector interface {
	Reset()
	Policy() *reconnect.Policy
}

type pinger interface {
	Ping(ctx context.Context) error
}

// handlerDeps holds what the debug and health endpoints need.
type handlerDeps struct {
	conn     connStatus
	feed     feedSource
	pages    pageFetcher
	recon    reconnector
	db       pinger // nil when the archive is disabled
	metrics  http.Handler
	path     string
	pageSize int
	logger   *slog.Logger
}

// createHandler creates the HTTP handler for health, debug and metrics.
func createHandler(d handlerDeps) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		health := struct {
			Status     string         `json:"status"`
			Version    version.Info   `json:"version"`
			Components map[string]any `json:"components"`
		}{
			Status:     "healthy",
			Version:    version.Get(),
			Components: make(map[string]any),
		}

		// Check realtime session
		stats := d.conn.Stats()
		policy := d.recon.Policy().Snapshot()
		realtime := map[string]any{
			"state":         stats.State.String(),
			"subscriptions": stats.Subscriptions,
			"live":          stats.LiveSubscriptions,
			"reconnect":     policy.Phase.String(),
			"attempts":      policy.Attempts,
		}
		if policy.LastError != nil {
			realtime["last_error"] = policy.LastError.Error()
		}
		health.Components["realtime"] = realtime

		switch {
		case policy.Phase == reconnect.PhaseExhausted:
			health.Status = "unhealthy"
		case stats.State != connection.StateConnected:
			health.Status = "degraded"
		}

		// Check archive database
		if d.db != nil {
			if err := d.db.Ping(ctx); err != nil {
				health.Status = "unhealthy"
				health.Components["archive"] = map[string]string{
					"status": "disconnected",
					"error":  err.Error(),
				}
			} else {
				health.Components["archive"] = "connected"
			}
		}

		health.Components["feed"] = map[string]any{
			"events": d.feed.Stats().Feed.Count,
		}
		health.Components["pager"] = map[string]any{
			"loading": d.pages.Loading(),
		}

		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})

	mux.HandleFunc("/debug/feed", func(w http.ResponseWriter, r *http.Request) {
		events := d.feed.Feed()
		stats := d.feed.Stats()

		writeJSON(w, http.StatusOK, map[string]any{
			"count":   len(events),
			"live":    stats.Live,
			"merged":  stats.Merged,
			"evicted": stats.Feed.TotalEvicted,
			"events":  events,
		})
	})

	mux.HandleFunc("/debug/page", func(w http.ResponseWriter, r *http.Request) {
		page, err := intParam(r, "page", 0)
		if err != nil || page < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "page must be a non-negative integer"})
			return
		}
		size, err := intParam(r, "size", d.pageSize)
		if err != nil || size < 1 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "size must be a positive integer"})
			return
		}

		result, source, err := d.pages.FetchPage(r.Context(), page, size)
		if err != nil {
			status := http.StatusBadGateway
			switch {
			case errors.Is(err, pager.ErrSuperseded):
				status = http.StatusConflict
			case errors.Is(err, pager.ErrLoadingTimeout):
				status = http.StatusGatewayTimeout
			case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
				status = http.StatusRequestTimeout
			}
			d.logger.Warn("debug page fetch failed", "page", page, "size", size, "error", err)
			writeJSON(w, status, map[string]string{"error": err.Error()})
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"source": source.String(),
			"page":   result,
		})
	})

	mux.HandleFunc("/debug/reconnect", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "use POST"})
			return
		}

		d.recon.Reset()
		d.logger.Info("reconnection policy reset requested", "remote", r.RemoteAddr)
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "reset"})
	})

	if d.metrics != nil {
		mux.Handle(d.path, d.metrics)
	}

	return mux
}

func intParam(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
