// Package gateway assembles routes from configuration and runs them behind
// the HTTP listener and the admin API.
package gateway

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wudi/prefixgate/internal/circuitbreaker"
	"github.com/wudi/prefixgate/internal/config"
	"github.com/wudi/prefixgate/internal/logging"
	"github.com/wudi/prefixgate/internal/metrics"
	"github.com/wudi/prefixgate/internal/middleware"
	"github.com/wudi/prefixgate/internal/middleware/subscription"
	"github.com/wudi/prefixgate/internal/pipeline"
	"github.com/wudi/prefixgate/internal/proxy"
	"github.com/wudi/prefixgate/internal/router"
)

type namedTask struct {
	name string
	run  Task
}

// endpointInfo keeps what the admin API reports about an endpoint.
type endpointInfo struct {
	endpoint *proxy.Endpoint
	breaker  *circuitbreaker.Breaker
}

// Gateway is the route table plus the state shared by its handlers.
type Gateway struct {
	cfg      *config.Config
	router   *router.Router
	metrics  *metrics.Collector
	redis    redis.UniversalClient
	registry *Registry
	handler  http.Handler

	mu        sync.RWMutex
	gates     map[string][]*subscription.Gate
	endpoints map[string][]endpointInfo

	tasks []namedTask
}

// New builds every configured route. reg may be nil, in which case the
// built-in types are used.
func New(cfg *config.Config, reg *Registry) (*Gateway, error) {
	if reg == nil {
		reg = DefaultRegistry()
	}

	g := &Gateway{
		cfg:       cfg,
		router:    router.New(),
		metrics:   metrics.NewCollector(),
		registry:  reg,
		gates:     make(map[string][]*subscription.Gate),
		endpoints: make(map[string][]endpointInfo),
	}
	g.router.SetMetrics(g.metrics)

	if cfg.Redis.Address != "" {
		g.redis = newRedisClient(cfg.Redis)
	}

	for _, rc := range cfg.Routes {
		if err := g.addRoute(rc); err != nil {
			g.Close()
			return nil, fmt.Errorf("route %s: %w", rc.ID, err)
		}
	}

	g.handler = middleware.NewChain(middleware.Recovery()).Then(g.router)
	return g, nil
}

func newRedisClient(cfg config.RedisConfig) *redis.Client {
	opts := &redis.Options{
		Addr:        cfg.Address,
		Password:    cfg.Password,
		DB:          cfg.DB,
		PoolSize:    cfg.PoolSize,
		DialTimeout: cfg.DialTimeout,
	}
	if cfg.TLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return redis.NewClient(opts)
}

func (g *Gateway) addRoute(rc config.RouteConfig) error {
	endpoints := make([]*proxy.Endpoint, 0, len(rc.Endpoints))
	for i, ec := range rc.Endpoints {
		ep, info, err := g.buildEndpoint(rc.ID, i, ec)
		if err != nil {
			return fmt.Errorf("endpoint %d: %w", i, err)
		}
		endpoints = append(endpoints, ep)
		g.endpoints[rc.ID] = append(g.endpoints[rc.ID], info)
	}

	p, err := g.buildPipeline(rc)
	if err != nil {
		return err
	}

	route, err := proxy.NewRoute(rc.ID, rc.Prefix, endpoints, p)
	if err != nil {
		return err
	}
	if err := g.router.AddRoute(route); err != nil {
		return err
	}

	logging.Info("route added",
		zap.String("id", rc.ID),
		zap.String("prefix", rc.Prefix),
		zap.Int("endpoints", len(endpoints)),
		zap.Int("handlers", len(p.Handlers())),
		zap.Int("hooks", p.HookCount()),
		zap.Bool("finalizer", p.HasFinalizer()),
	)
	return nil
}

func (g *Gateway) buildEndpoint(routeID string, idx int, ec config.EndpointConfig) (*proxy.Endpoint, endpointInfo, error) {
	transport, err := proxy.TransportForScheme(ec.Scheme)
	if err != nil {
		return nil, endpointInfo{}, err
	}

	tcfg := proxy.MergeTransportConfigs(proxy.DefaultTransportConfig,
		config.MergeNonZero(g.cfg.Transport, ec.Transport))
	client, err := proxy.NewClient(tcfg)
	if err != nil {
		return nil, endpointInfo{}, err
	}

	var (
		c       proxy.Client = client
		breaker *circuitbreaker.Breaker
	)
	if ec.CircuitBreaker.Enabled {
		breaker = circuitbreaker.NewBreaker(fmt.Sprintf("%s/%d", routeID, idx), ec.CircuitBreaker, client)
		c = breaker
	}

	ep, err := proxy.NewEndpoint(ec.Host, ec.Port, transport, c)
	if err != nil {
		return nil, endpointInfo{}, err
	}
	return ep, endpointInfo{endpoint: ep, breaker: breaker}, nil
}

func (g *Gateway) buildPipeline(rc config.RouteConfig) (*pipeline.Pipeline, error) {
	bc := &BuildContext{RouteID: rc.ID, Metrics: g.metrics, gw: g}
	p := pipeline.New()

	for i, hc := range rc.Handlers {
		build, ok := g.registry.handler(hc.Type)
		if !ok {
			return nil, fmt.Errorf("handler %d: unknown type %q", i, hc.Type)
		}
		h, err := build(bc, hc)
		if err != nil {
			return nil, fmt.Errorf("handler %d (%s): %w", i, hc.Type, err)
		}
		p.Use(h)
	}

	for i, hc := range rc.Hooks {
		build, ok := g.registry.hook(hc.Type)
		if !ok {
			return nil, fmt.Errorf("hook %d: unknown type %q", i, hc.Type)
		}
		f, err := build(bc, hc)
		if err != nil {
			return nil, fmt.Errorf("hook %d (%s): %w", i, hc.Type, err)
		}
		p.UseHook(f)
	}

	if fc := rc.Finalizer; fc != nil {
		build, ok := g.registry.finalizer(fc.Type)
		if !ok {
			return nil, fmt.Errorf("finalizer: unknown type %q", fc.Type)
		}
		f, err := build(bc, *fc)
		if err != nil {
			return nil, fmt.Errorf("finalizer (%s): %w", fc.Type, err)
		}
		p.FinalizeWith(f)
	}

	return p, nil
}

func (g *Gateway) addGate(routeID string, gate *subscription.Gate) {
	g.mu.Lock()
	g.gates[routeID] = append(g.gates[routeID], gate)
	g.mu.Unlock()
}

// Gates returns the subscription gates attached to a route.
func (g *Gateway) Gates(routeID string) []*subscription.Gate {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.gates[routeID]
}

// Handler returns the root handler: panic recovery in front of the router.
func (g *Gateway) Handler() http.Handler {
	return g.handler
}

// Router returns the route table.
func (g *Gateway) Router() *router.Router {
	return g.router
}

// Metrics returns the gateway's collector.
func (g *Gateway) Metrics() *metrics.Collector {
	return g.metrics
}

// Run runs the background tasks registered by route builders until ctx is
// cancelled or one of them fails.
func (g *Gateway) Run(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)
	for _, t := range g.tasks {
		eg.Go(func() error {
			if err := t.run(ctx); err != nil {
				return fmt.Errorf("%s: %w", t.name, err)
			}
			return nil
		})
	}
	return eg.Wait()
}

// Close releases the shared Redis client.
func (g *Gateway) Close() error {
	if g.redis != nil {
		return g.redis.Close()
	}
	return nil
}
