package gateway

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/wudi/prefixgate/internal/config"
	"github.com/wudi/prefixgate/internal/metrics"
	"github.com/wudi/prefixgate/internal/pipeline"
)

// HandlerBuilder creates a global handler for one route from its config.
type HandlerBuilder func(bc *BuildContext, cfg config.HandlerConfig) (pipeline.GlobalHandler, error)

// HookBuilder creates a scoped hook factory for one route.
type HookBuilder func(bc *BuildContext, cfg config.HookConfig) (pipeline.HookFactory, error)

// FinalizerBuilder creates the response finalizer for one route.
type FinalizerBuilder func(bc *BuildContext, cfg config.FinalizerConfig) (pipeline.Finalizer, error)

// Task is a background loop started with the gateway and stopped with its
// context.
type Task func(ctx context.Context) error

// BuildContext is what builders see while a route is being assembled.
type BuildContext struct {
	RouteID string
	Metrics *metrics.Collector

	gw *Gateway
}

// Redis returns the shared Redis client, or an error if none is configured.
func (bc *BuildContext) Redis() (redis.UniversalClient, error) {
	if bc.gw.redis == nil {
		return nil, fmt.Errorf("route %s: redis.address is not configured", bc.RouteID)
	}
	return bc.gw.redis, nil
}

// Go registers a background task for the route.
func (bc *BuildContext) Go(name string, t Task) {
	bc.gw.tasks = append(bc.gw.tasks, namedTask{name: bc.RouteID + "/" + name, run: t})
}

// Registry maps config type names to builders.
type Registry struct {
	mu         sync.RWMutex
	handlers   map[string]HandlerBuilder
	hooks      map[string]HookBuilder
	finalizers map[string]FinalizerBuilder
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers:   make(map[string]HandlerBuilder),
		hooks:      make(map[string]HookBuilder),
		finalizers: make(map[string]FinalizerBuilder),
	}
}

// DefaultRegistry creates a registry holding the built-in types.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	registerBuiltins(r)
	return r
}

// RegisterHandler adds or replaces a handler type.
func (r *Registry) RegisterHandler(name string, b HandlerBuilder) {
	r.mu.Lock()
	r.handlers[name] = b
	r.mu.Unlock()
}

// RegisterHook adds or replaces a hook type.
func (r *Registry) RegisterHook(name string, b HookBuilder) {
	r.mu.Lock()
	r.hooks[name] = b
	r.mu.Unlock()
}

// RegisterFinalizer adds or replaces a finalizer type.
func (r *Registry) RegisterFinalizer(name string, b FinalizerBuilder) {
	r.mu.Lock()
	r.finalizers[name] = b
	r.mu.Unlock()
}

func (r *Registry) handler(name string) (HandlerBuilder, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.handlers[name]
	return b, ok
}

func (r *Registry) hook(name string) (HookBuilder, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.hooks[name]
	return b, ok
}

func (r *Registry) finalizer(name string) (FinalizerBuilder, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.finalizers[name]
	return b, ok
}

// Types lists the registered type names of each kind, sorted.
func (r *Registry) Types() (handlers, hooks, finalizers []string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.handlers), sortedKeys(r.hooks), sortedKeys(r.finalizers)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
