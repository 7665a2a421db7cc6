package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rickgao/auditstream/internal/connection"
	"github.com/rickgao/auditstream/internal/model"
	"github.com/rickgao/auditstream/internal/monitor"
	"github.com/rickgao/auditstream/internal/pager"
	"github.com/rickgao/auditstream/internal/reconnect"
)

type fakeConn struct {
	state connection.ConnectionState
}

func (f *fakeConn) Stats() connection.ManagerStats {
	return connection.ManagerStats{State: f.state, Subscriptions: 2, LiveSubscriptions: 2}
}

type fakeFeed struct {
	events []model.AuditEvent
}

func (f *fakeFeed) Feed() []model.AuditEvent { return f.events }

func (f *fakeFeed) Stats() monitor.Stats {
	var st monitor.Stats
	st.Live = int64(len(f.events))
	st.Feed.Count = len(f.events)
	return st
}

type fakePages struct {
	gotPage, gotSize int
	err              error
}

func (f *fakePages) FetchPage(_ context.Context, page, size int) (model.AuditPage, pager.Source, error) {
	f.gotPage, f.gotSize = page, size
	if f.err != nil {
		return model.AuditPage{}, pager.SourceNone, f.err
	}
	return model.AuditPage{
		Content: []model.AuditEvent{{ID: "p1"}},
		Number:  page,
		Size:    size,
	}, pager.SourceREST, nil
}

func (f *fakePages) Loading() bool { return false }

type fakeRecon struct {
	policy *reconnect.Policy
	resets int
}

func (f *fakeRecon) Reset()                    { f.resets++ }
func (f *fakeRecon) Policy() *reconnect.Policy { return f.policy }

type fakePinger struct {
	err error
}

func (f *fakePinger) Ping(context.Context) error { return f.err }

func testDeps() (handlerDeps, *fakeConn, *fakePages, *fakeRecon) {
	conn := &fakeConn{state: connection.StateConnected}
	pages := &fakePages{}
	recon := &fakeRecon{policy: reconnect.NewPolicy(time.Second, 2)}
	deps := handlerDeps{
		conn:     conn,
		feed:     &fakeFeed{events: []model.AuditEvent{{ID: "a2"}, {ID: "a1"}}},
		pages:    pages,
		recon:    recon,
		metrics:  http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { io.WriteString(w, "metrics") }),
		path:     "/metrics",
		pageSize: 20,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	return deps, conn, pages, recon
}

func doRequest(t *testing.T, h http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		state      connection.ConnectionState
		exhaust    bool
		db         pinger
		wantStatus string
		wantCode   int
	}{
		{"connected", connection.StateConnected, false, nil, "healthy", http.StatusOK},
		{"reconnecting", connection.StateErrored, false, nil, "degraded", http.StatusOK},
		{"exhausted", connection.StateErrored, true, nil, "unhealthy", http.StatusServiceUnavailable},
		{"database down", connection.StateConnected, false, &fakePinger{err: errors.New("refused")}, "unhealthy", http.StatusServiceUnavailable},
		{"database up", connection.StateConnected, false, &fakePinger{}, "healthy", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps, conn, _, recon := testDeps()
			conn.state = tt.state
			deps.db = tt.db
			if tt.exhaust {
				recon.policy.ConnectionLost(errors.New("lost"))
				recon.policy.AttemptFailed(errors.New("refused"))
				recon.policy.AttemptFailed(errors.New("refused"))
			}

			rec := doRequest(t, createHandler(deps), http.MethodGet, "/health")
			if rec.Code != tt.wantCode {
				t.Errorf("code = %d, want %d", rec.Code, tt.wantCode)
			}

			var body struct {
				Status     string         `json:"status"`
				Components map[string]any `json:"components"`
			}
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q", body.Status, tt.wantStatus)
			}
			if _, ok := body.Components["realtime"]; !ok {
				t.Error("missing realtime component")
			}
		})
	}
}

func TestDebugFeed(t *testing.T) {
	deps, _, _, _ := testDeps()
	rec := doRequest(t, createHandler(deps), http.MethodGet, "/debug/feed")

	var body struct {
		Count  int                `json:"count"`
		Events []model.AuditEvent `json:"events"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Count != 2 || body.Events[0].ID != "a2" {
		t.Errorf("body = %+v", body)
	}
}

func TestDebugPage(t *testing.T) {
	tests := []struct {
		name     string
		target   string
		err      error
		wantCode int
		wantPage int
		wantSize int
	}{
		{"defaults", "/debug/page", nil, http.StatusOK, 0, 20},
		{"explicit", "/debug/page?page=3&size=5", nil, http.StatusOK, 3, 5},
		{"bad page", "/debug/page?page=-1", nil, http.StatusBadRequest, 0, 0},
		{"bad size", "/debug/page?size=abc", nil, http.StatusBadRequest, 0, 0},
		{"fetch failed", "/debug/page?page=1", fmt.Errorf("%w: boom", pager.ErrFetchFailed), http.StatusBadGateway, 1, 20},
		{"superseded", "/debug/page?page=1", pager.ErrSuperseded, http.StatusConflict, 1, 20},
		{"watchdog", "/debug/page?page=1", pager.ErrLoadingTimeout, http.StatusGatewayTimeout, 1, 20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps, _, pages, _ := testDeps()
			pages.err = tt.err

			rec := doRequest(t, createHandler(deps), http.MethodGet, tt.target)
			if rec.Code != tt.wantCode {
				t.Fatalf("code = %d, want %d (body %s)", rec.Code, tt.wantCode, rec.Body.String())
			}
			if tt.wantCode == http.StatusBadRequest {
				return
			}
			if pages.gotPage != tt.wantPage || pages.gotSize != tt.wantSize {
				t.Errorf("FetchPage(%d, %d), want (%d, %d)", pages.gotPage, pages.gotSize, tt.wantPage, tt.wantSize)
			}
			if tt.err == nil && !strings.Contains(rec.Body.String(), `"source":"rest"`) {
				t.Errorf("body = %s, want rest source", rec.Body.String())
			}
		})
	}
}

func TestDebugReconnect(t *testing.T) {
	deps, _, _, recon := testDeps()
	h := createHandler(deps)

	if rec := doRequest(t, h, http.MethodGet, "/debug/reconnect"); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET code = %d, want 405", rec.Code)
	}
	if rec := doRequest(t, h, http.MethodPost, "/debug/reconnect"); rec.Code != http.StatusAccepted {
		t.Errorf("POST code = %d, want 202", rec.Code)
	}
	if recon.resets != 1 {
		t.Errorf("resets = %d, want 1", recon.resets)
	}
}

func TestMetricsRoute(t *testing.T) {
	deps, _, _, _ := testDeps()
	rec := doRequest(t, createHandler(deps), http.MethodGet, "/metrics")
	if rec.Body.String() != "metrics" {
		t.Errorf("body = %q", rec.Body.String())
	}
}
