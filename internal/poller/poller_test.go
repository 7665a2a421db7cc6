package poller

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/rickgao/auditstream/internal/api"
	"github.com/rickgao/auditstream/internal/model"
)

// mockLiveness reports a fixed realtime state.
type mockLiveness struct {
	active atomic.Bool
}

func (m *mockLiveness) IsActive() bool {
	return m.active.Load()
}

// recordingSink keeps every merged batch.
type recordingSink struct {
	mu      sync.Mutex
	batches [][]model.AuditEvent
}

func (s *recordingSink) Merge(events []model.AuditEvent, _ time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, events)
	return len(events)
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batches)
}

// pageServer serves two events per page, ids p<page>-0 and p<page>-1.
func pageServer(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		page := r.URL.Query().Get("page")
		fmt.Fprintf(w, `{"content":[{"id":"p%s-0","timestamp":"2024-01-01T00:00:00Z"},{"id":"p%s-1","timestamp":"2024-01-01T00:00:00Z"}],"number":%s,"size":2}`,
			page, page, page)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestPoller_PollMergesPagesInOrder(t *testing.T) {
	var hits atomic.Int32
	server := pageServer(t, &hits)
	client := api.NewClient(server.URL, "", api.WithTimeout(5*time.Second))

	sink := &recordingSink{}
	cfg := Config{Pages: 3, PageSize: 2, Concurrency: 2}
	p := New(cfg, client, nil, sink, nil)

	added, err := p.Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if added != 6 {
		t.Errorf("added = %d, want 6", added)
	}
	if got := hits.Load(); got != 3 {
		t.Errorf("requests = %d, want 3", got)
	}

	var ids []string
	for _, ev := range sink.batches[0] {
		ids = append(ids, ev.ID)
	}
	want := "[p0-0 p0-1 p1-0 p1-1 p2-0 p2-1]"
	if fmt.Sprint(ids) != want {
		t.Errorf("merged ids = %v, want %s", ids, want)
	}
}

func TestPoller_PollError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := api.NewClient(server.URL, "")
	sink := &recordingSink{}
	p := New(Config{Pages: 2}, client, nil, sink, nil)

	if _, err := p.Poll(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if sink.count() != 0 {
		t.Error("sink called after a failed poll")
	}
	if st := p.Stats(); st.Errors != 1 || st.Cycles != 0 {
		t.Errorf("Stats() = %+v", st)
	}
}

func TestPoller_SkipsWhileRealtimeActive(t *testing.T) {
	var hits atomic.Int32
	server := pageServer(t, &hits)
	client := api.NewClient(server.URL, "")

	live := &mockLiveness{}
	live.active.Store(true)
	sink := &recordingSink{}
	fc := clockwork.NewFakeClock()

	p := New(Config{Interval: time.Minute}, client, live, sink, nil, WithClock(fc))
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		p.Stop(stopCtx)
	}()

	// The immediate cycle and one ticked cycle are both skipped.
	blockUntil(t, fc, 1)
	fc.Advance(time.Minute)
	waitFor(t, func() bool { return p.Stats().Skipped == 2 })

	if hits.Load() != 0 {
		t.Errorf("requests = %d while realtime active, want 0", hits.Load())
	}

	// Realtime drops; the next tick polls.
	live.active.Store(false)
	fc.Advance(time.Minute)
	waitFor(t, func() bool { return sink.count() == 1 })

	if st := p.Stats(); st.Cycles != 1 || st.Merged != 2 {
		t.Errorf("Stats() = %+v", st)
	}
}

func TestPoller_StartStop(t *testing.T) {
	var hits atomic.Int32
	server := pageServer(t, &hits)
	client := api.NewClient(server.URL, "")

	sink := &recordingSink{}
	p := New(Config{Interval: time.Hour}, client, &mockLiveness{}, sink, nil)

	ctx := context.Background()
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Polls immediately on start.
	waitFor(t, func() bool { return sink.count() == 1 })

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	if err := p.Stop(stopCtx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
}

func TestPoller_Concurrency(t *testing.T) {
	var inFlight atomic.Int32
	var maxInFlight atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		current := inFlight.Add(1)
		defer inFlight.Add(-1)

		// Track max concurrent requests.
		for {
			old := maxInFlight.Load()
			if current <= old || maxInFlight.CompareAndSwap(old, current) {
				break
			}
		}

		// Simulate some work.
		time.Sleep(50 * time.Millisecond)

		w.Write([]byte(`{"content":[],"number":0,"size":20}`))
	}))
	defer server.Close()

	client := api.NewClient(server.URL, "")

	cfg := Config{
		Pages:       20,
		Concurrency: 5, // Limit to 5 concurrent.
		Timeout:     5 * time.Second,
	}

	p := New(cfg, client, nil, &recordingSink{}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := p.Poll(ctx); err != nil {
		t.Fatalf("Poll() error = %v", err)
	}

	if got := maxInFlight.Load(); got > 5 {
		t.Errorf("maxInFlight = %d, want <= 5", got)
	}
}

func blockUntil(t *testing.T, fc *clockwork.FakeClock, n int) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := fc.BlockUntilContext(ctx, n); err != nil {
		t.Fatalf("ticker not armed: %v", err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met")
}
