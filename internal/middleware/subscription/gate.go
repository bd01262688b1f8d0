// Package subscription gates a route on an API-key header checked against a
// set of authorized keys. The set is changed only by events consumed in
// Gate.Run; request handling takes the read lock and never waits on events.
package subscription

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/wudi/prefixgate/internal/errors"
	"github.com/wudi/prefixgate/internal/logging"
	"github.com/wudi/prefixgate/internal/metrics"
	"github.com/wudi/prefixgate/internal/pipeline"
)

// DefaultBuffer is the event channel capacity used when Config.Buffer is zero.
const DefaultBuffer = 64

// Action is the kind of change an Event applies.
type Action int

const (
	Subscribe Action = iota
	Revoke
)

func (a Action) String() string {
	switch a {
	case Subscribe:
		return "subscribe"
	case Revoke:
		return "revoke"
	default:
		return "unknown"
	}
}

// ParseAction converts "subscribe" or "revoke" (any case) to an Action.
func ParseAction(s string) (Action, error) {
	switch strings.ToLower(s) {
	case "subscribe":
		return Subscribe, nil
	case "revoke":
		return Revoke, nil
	default:
		return 0, fmt.Errorf("unknown subscription action %q", s)
	}
}

// Event adds or removes one key.
type Event struct {
	Action Action
	Key    string
}

// Publisher accepts subscription events.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Config configures a Gate.
type Config struct {
	Route   string
	Header  string
	Keys    []string
	Buffer  int
	Metrics *metrics.Collector
}

// Gate is a GlobalHandler admitting requests whose key header holds an
// authorized key.
type Gate struct {
	pipeline.RequestOnly

	route   string
	header  string
	metrics *metrics.Collector

	mu   sync.RWMutex
	keys map[string]struct{}

	events chan Event
}

// New creates a gate seeded with cfg.Keys.
func New(cfg Config) (*Gate, error) {
	if cfg.Header == "" {
		return nil, fmt.Errorf("subscription header is required")
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = DefaultBuffer
	}

	g := &Gate{
		route:   cfg.Route,
		header:  http.CanonicalHeaderKey(cfg.Header),
		metrics: cfg.Metrics,
		keys:    make(map[string]struct{}, len(cfg.Keys)),
		events:  make(chan Event, cfg.Buffer),
	}
	for _, k := range cfg.Keys {
		g.keys[k] = struct{}{}
	}
	g.metrics.SetSubscriptionKeys(g.route, len(g.keys))

	return g, nil
}

// Route returns the id of the route the gate belongs to.
func (g *Gate) Route() string {
	return g.route
}

// Header returns the canonical name of the key header.
func (g *Gate) Header() string {
	return g.header
}

// HandleRequest checks the key header.
func (g *Gate) HandleRequest(r *http.Request) pipeline.Outcome {
	values := r.Header.Values(g.header)
	if len(values) == 0 {
		return g.deny(errors.ErrUnauthorized)
	}

	key := values[0]
	if !isVisibleASCII(key) {
		return g.deny(errors.ErrBadRequest)
	}
	if !g.Authorized(key) {
		return g.deny(errors.ErrForbidden)
	}
	return pipeline.Continue
}

func (g *Gate) deny(e *errors.GatewayError) pipeline.Outcome {
	g.metrics.RecordSubscriptionDenied(g.route, e.Code)
	return pipeline.Break(e.Response())
}

// Authorized reports whether key is currently in the set.
func (g *Gate) Authorized(key string) bool {
	g.mu.RLock()
	_, ok := g.keys[key]
	g.mu.RUnlock()
	return ok
}

// Keys returns a sorted snapshot of the authorized keys.
func (g *Gate) Keys() []string {
	g.mu.RLock()
	keys := make([]string, 0, len(g.keys))
	for k := range g.keys {
		keys = append(keys, k)
	}
	g.mu.RUnlock()

	sort.Strings(keys)
	return keys
}

// Publish queues ev for the consumer. It blocks while the buffer is full
// and gives up when ctx is done.
func (g *Gate) Publish(ctx context.Context, ev Event) error {
	select {
	case g.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run applies events until ctx is cancelled. Exactly one Run should be
// active per gate.
func (g *Gate) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-g.events:
			g.apply(ev)
		}
	}
}

func (g *Gate) apply(ev Event) {
	g.mu.Lock()
	switch ev.Action {
	case Subscribe:
		g.keys[ev.Key] = struct{}{}
	case Revoke:
		delete(g.keys, ev.Key)
	}
	n := len(g.keys)
	g.mu.Unlock()

	g.metrics.SetSubscriptionKeys(g.route, n)
	logging.Debug("subscription updated",
		zap.String("route", g.route),
		zap.Stringer("action", ev.Action),
		zap.Int("keys", n),
	)
}

// isVisibleASCII accepts printable ASCII and horizontal tab.
func isVisibleASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '\t' {
			continue
		}
		if c < 0x20 || c > 0x7e {
			return false
		}
	}
	return true
}
