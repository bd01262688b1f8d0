// Package ratelimit implements a global sliding-window log limiter as a
// pipeline handler. Every request on the route, accepted or not, is
// recorded; once more than Capacity requests fall inside the window the
// limiter answers 429.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/wudi/prefixgate/internal/errors"
	"github.com/wudi/prefixgate/internal/logging"
	"github.com/wudi/prefixgate/internal/metrics"
	"github.com/wudi/prefixgate/internal/pipeline"
)

// Config holds rate limiter configuration
type Config struct {
	Route    string        // route id, used in logs and metrics
	Capacity int           // requests allowed per window
	Window   time.Duration // sliding window length
	Store    Store         // defaults to a MemoryStore
	Metrics  *metrics.Collector
	Timeout  time.Duration // per-call store deadline, default 100ms
}

// Limiter is a GlobalHandler shared by every request on one route.
type Limiter struct {
	pipeline.RequestOnly

	route    string
	capacity int
	window   time.Duration
	store    Store
	metrics  *metrics.Collector
	timeout  time.Duration
	now      func() time.Time
}

// New creates a limiter
func New(cfg Config) (*Limiter, error) {
	if cfg.Capacity <= 0 {
		return nil, fmt.Errorf("rate limit capacity must be > 0, got %d", cfg.Capacity)
	}
	if cfg.Window <= 0 {
		return nil, fmt.Errorf("rate limit window must be > 0, got %v", cfg.Window)
	}
	if cfg.Store == nil {
		cfg.Store = NewMemoryStore(cfg.Capacity)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 100 * time.Millisecond
	}

	return &Limiter{
		route:    cfg.Route,
		capacity: cfg.Capacity,
		window:   cfg.Window,
		store:    cfg.Store,
		metrics:  cfg.Metrics,
		timeout:  cfg.Timeout,
		now:      time.Now,
	}, nil
}

// HandleRequest records the access and breaks with 429 when the window is
// over capacity, or 500 when the store fails.
func (l *Limiter) HandleRequest(r *http.Request) pipeline.Outcome {
	allowed, err := l.Allow(r.Context())
	if err != nil {
		logging.Error("rate limiter store failed",
			zap.String("route", l.route),
			zap.Error(err),
		)
		return pipeline.Break(errors.ErrInternalServer.Response())
	}
	if !allowed {
		l.metrics.RecordRateLimitRejected(l.route)
		res := errors.ErrTooManyRequests.Response()
		res.Header.Set("X-RateLimit-Limit", strconv.Itoa(l.capacity))
		res.Header.Set("Retry-After", strconv.Itoa(l.retryAfter()))
		return pipeline.Break(res)
	}
	return pipeline.Continue
}

// Allow records one access and reports whether it is within capacity.
func (l *Limiter) Allow(ctx context.Context) (allowed bool, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("rate limiter panic: %v", p)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	n, err := l.store.Record(ctx, l.now, l.window)
	if err != nil {
		return false, err
	}
	return n <= l.capacity, nil
}

func (l *Limiter) retryAfter() int {
	secs := int(math.Ceil(l.window.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}
