package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"

	"github.com/wudi/prefixgate/internal/metrics"
	"github.com/wudi/prefixgate/internal/pipeline"
)

// clock is a settable time source for the limiter.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) set(d time.Duration, base time.Time) {
	c.mu.Lock()
	c.t = base.Add(d)
	c.mu.Unlock()
}

func newTestLimiter(t *testing.T, cfg Config) (*Limiter, *clock, time.Time) {
	t.Helper()
	l, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	base := time.Unix(1_700_000_000, 0)
	c := &clock{t: base}
	l.now = c.now
	return l, c, base
}

func status(o pipeline.Outcome) int {
	if !o.IsBreak() {
		return 0
	}
	return o.Response().StatusCode
}

// sequence drives cap=2, window=1s through the canonical schedule.
// Rejected accesses stay in the log, so the fourth request is still over.
func sequence(t *testing.T, store Store) {
	t.Helper()
	l, c, base := newTestLimiter(t, Config{Route: "r", Capacity: 2, Window: time.Second, Store: store})

	steps := []struct {
		at   time.Duration
		want int
	}{
		{0, 0},
		{100 * time.Millisecond, 0},
		{200 * time.Millisecond, http.StatusTooManyRequests},
		{1050 * time.Millisecond, http.StatusTooManyRequests},
		{1300 * time.Millisecond, 0},
	}

	for _, s := range steps {
		c.set(s.at, base)
		got := status(l.HandleRequest(httptest.NewRequest("GET", "/", nil)))
		if got != s.want {
			t.Errorf("at %v: status = %d, want %d", s.at, got, s.want)
		}
	}
}

func TestLimiterMemorySequence(t *testing.T) {
	sequence(t, nil)
}

func TestLimiterRedisSequence(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	sequence(t, NewRedisStore(client, "seq"))
}

func TestLimiterWindowBoundaryEvicts(t *testing.T) {
	l, c, base := newTestLimiter(t, Config{Capacity: 1, Window: time.Second})

	if status(l.HandleRequest(httptest.NewRequest("GET", "/", nil))) != 0 {
		t.Fatal("first request should pass")
	}
	c.set(time.Second, base)
	if got := status(l.HandleRequest(httptest.NewRequest("GET", "/", nil))); got != 0 {
		t.Errorf("access exactly one window old should be evicted, got %d", got)
	}
}

func TestLimiterRejectHeaders(t *testing.T) {
	l, _, _ := newTestLimiter(t, Config{Capacity: 1, Window: 1500 * time.Millisecond})

	l.HandleRequest(httptest.NewRequest("GET", "/", nil))
	o := l.HandleRequest(httptest.NewRequest("GET", "/", nil))
	if !o.IsBreak() {
		t.Fatal("expected break")
	}
	res := o.Response()
	if res.Header.Get("Retry-After") != "2" {
		t.Errorf("Retry-After = %q, want 2", res.Header.Get("Retry-After"))
	}
	if res.Header.Get("X-RateLimit-Limit") != "1" {
		t.Errorf("X-RateLimit-Limit = %q, want 1", res.Header.Get("X-RateLimit-Limit"))
	}
}

type failingStore struct{ err error }

func (s failingStore) Record(context.Context, func() time.Time, time.Duration) (int, error) {
	return 0, s.err
}

type panickingStore struct{}

func (panickingStore) Record(context.Context, func() time.Time, time.Duration) (int, error) {
	panic("poisoned")
}

func TestLimiterStoreFaults(t *testing.T) {
	tests := []struct {
		name  string
		store Store
	}{
		{"error", failingStore{errors.New("boom")}},
		{"panic", panickingStore{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, _, _ := newTestLimiter(t, Config{Capacity: 5, Window: time.Second, Store: tt.store})
			if got := status(l.HandleRequest(httptest.NewRequest("GET", "/", nil))); got != http.StatusInternalServerError {
				t.Errorf("status = %d, want 500", got)
			}
		})
	}
}

func TestLimiterRedisUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	mr.Close()

	l, _, _ := newTestLimiter(t, Config{Capacity: 5, Window: time.Second, Store: NewRedisStore(client, "down")})
	if got := status(l.HandleRequest(httptest.NewRequest("GET", "/", nil))); got != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", got)
	}
}

func TestRedisStoreKeyExpires(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	s := NewRedisStore(client, "ttl")
	if s.Key() != "gw:rl:ttl" {
		t.Errorf("Key() = %q", s.Key())
	}

	n, err := s.Record(context.Background(), time.Now, 2*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("n = %d, want 1", n)
	}
	if !mr.Exists(s.Key()) {
		t.Fatal("key should exist")
	}

	mr.FastForward(3 * time.Second)
	if mr.Exists(s.Key()) {
		t.Error("key should expire after the window")
	}
}

func TestLimiterConcurrentCapacity(t *testing.T) {
	l, _, _ := newTestLimiter(t, Config{Capacity: 10, Window: time.Minute})

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !l.HandleRequest(httptest.NewRequest("GET", "/", nil)).IsBreak() {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed != 10 {
		t.Errorf("allowed = %d, want 10", allowed)
	}
}

func TestMemoryStoreConcurrentOrdering(t *testing.T) {
	s := NewMemoryStore(200)
	base := time.Unix(1_700_000_000, 0)
	var ticks atomic.Int64
	tick := func() time.Time {
		return base.Add(time.Duration(ticks.Add(1)) * time.Millisecond)
	}

	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Record(context.Background(), tick, time.Hour); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.accesses) != 200 {
		t.Fatalf("len = %d, want 200", len(s.accesses))
	}
	for i := 1; i < len(s.accesses); i++ {
		if s.accesses[i].Before(s.accesses[i-1]) {
			t.Fatalf("access %d (%v) is before access %d (%v)", i, s.accesses[i], i-1, s.accesses[i-1])
		}
	}
}

func TestLimiterMetrics(t *testing.T) {
	c := metrics.NewCollector()
	l, _, _ := newTestLimiter(t, Config{Route: "m", Capacity: 1, Window: time.Minute, Metrics: c})

	for i := 0; i < 3; i++ {
		l.HandleRequest(httptest.NewRequest("GET", "/", nil))
	}

	expected := `
# HELP prefixgate_ratelimit_rejected_total Requests rejected by the sliding-window limiter
# TYPE prefixgate_ratelimit_rejected_total counter
prefixgate_ratelimit_rejected_total{route="m"} 2
`
	if err := testutil.GatherAndCompare(c.Registry(), strings.NewReader(expected), "prefixgate_ratelimit_rejected_total"); err != nil {
		t.Error(err)
	}
}

func TestNewValidation(t *testing.T) {
	if _, err := New(Config{Capacity: 0, Window: time.Second}); err == nil {
		t.Error("expected error for zero capacity")
	}
	if _, err := New(Config{Capacity: 1}); err == nil {
		t.Error("expected error for zero window")
	}
}
