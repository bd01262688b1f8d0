// Package circuitbreaker guards an upstream client with a gobreaker circuit.
package circuitbreaker

import (
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/wudi/prefixgate/internal/config"
	"github.com/wudi/prefixgate/internal/logging"
)

// ErrOpen is returned when the circuit rejects a request without sending it.
var ErrOpen = errors.New("circuit breaker is open")

// errServerError marks a 5xx response as a failure while still handing the
// response back to the caller.
var errServerError = errors.New("upstream server error")

// Doer sends an HTTP request.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Breaker wraps a Doer with a circuit breaker
type Breaker struct {
	name             string
	cb               *gobreaker.CircuitBreaker[*http.Response]
	next             Doer
	failureThreshold int
	maxRequests      int

	totalRejected atomic.Int64
}

// NewBreaker creates a circuit breaker in front of next
func NewBreaker(name string, cfg config.CircuitBreakerConfig, next Doer) *Breaker {
	failureThreshold := cfg.FailureThreshold
	if failureThreshold <= 0 {
		failureThreshold = 5
	}

	maxRequests := cfg.MaxRequests
	if maxRequests <= 0 {
		maxRequests = 1
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	b := &Breaker{
		name:             name,
		next:             next,
		failureThreshold: failureThreshold,
		maxRequests:      maxRequests,
	}

	b.cb = gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        name,
		MaxRequests: uint32(maxRequests),
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(failureThreshold)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info("circuit breaker state change",
				zap.String("endpoint", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return b
}

// Do sends req through the circuit. Transport errors and 5xx responses count
// as failures; a 5xx response is still returned to the caller.
func (b *Breaker) Do(req *http.Request) (*http.Response, error) {
	res, err := b.cb.Execute(func() (*http.Response, error) {
		res, err := b.next.Do(req)
		if err != nil {
			return nil, err
		}
		if res.StatusCode >= http.StatusInternalServerError {
			return res, errServerError
		}
		return res, nil
	})

	switch {
	case err == nil:
		return res, nil
	case errors.Is(err, errServerError):
		return res, nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		b.totalRejected.Add(1)
		return nil, fmt.Errorf("%s: %w", b.name, ErrOpen)
	default:
		return nil, err
	}
}

// State returns the current circuit state name
func (b *Breaker) State() string {
	return b.cb.State().String()
}

// Snapshot returns a point-in-time view of the breaker state
func (b *Breaker) Snapshot() BreakerSnapshot {
	counts := b.cb.Counts()
	return BreakerSnapshot{
		State:               b.cb.State().String(),
		FailureThreshold:    b.failureThreshold,
		MaxRequests:         b.maxRequests,
		Requests:            counts.Requests,
		ConsecutiveFailures: counts.ConsecutiveFailures,
		TotalFailures:       counts.TotalFailures,
		TotalSuccesses:      counts.TotalSuccesses,
		TotalRejected:       b.totalRejected.Load(),
	}
}

// BreakerSnapshot is a point-in-time view of a circuit breaker
type BreakerSnapshot struct {
	State               string `json:"state"`
	FailureThreshold    int    `json:"failure_threshold"`
	MaxRequests         int    `json:"max_requests"`
	Requests            uint32 `json:"requests"`
	ConsecutiveFailures uint32 `json:"consecutive_failures"`
	TotalFailures       uint32 `json:"total_failures"`
	TotalSuccesses      uint32 `json:"total_successes"`
	TotalRejected       int64  `json:"total_rejected"`
}
