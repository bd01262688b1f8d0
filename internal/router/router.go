// Package router matches inbound requests to routes by path prefix and turns
// each route's outcome into the HTTP response written to the client.
package router

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	gwerrors "github.com/wudi/prefixgate/internal/errors"
	"github.com/wudi/prefixgate/internal/logging"
	"github.com/wudi/prefixgate/internal/metrics"
	"github.com/wudi/prefixgate/internal/proxy"
)

// HealthPath always answers 200, whatever routes are configured.
const HealthPath = "/health"

// Router holds the route table. Routes are added before serving starts and
// never change afterwards.
type Router struct {
	routes  []*proxy.Route
	byID    map[string]*proxy.Route
	metrics *metrics.Collector
}

// New creates an empty router
func New() *Router {
	return &Router{
		byID: make(map[string]*proxy.Route),
	}
}

// SetMetrics installs the collector request metrics are recorded on.
func (rt *Router) SetMetrics(c *metrics.Collector) {
	rt.metrics = c
}

// AddRoute appends a route. Matching tries routes in the order they were
// added.
func (rt *Router) AddRoute(route *proxy.Route) error {
	if route == nil {
		return fmt.Errorf("nil route")
	}
	if _, exists := rt.byID[route.ID()]; exists {
		return fmt.Errorf("duplicate route id: %s", route.ID())
	}
	rt.routes = append(rt.routes, route)
	rt.byID[route.ID()] = route
	return nil
}

// Match returns the first added route whose prefix matches, or nil.
//
// Ties between overlapping prefixes go to the earlier route, not the longer
// prefix: "/a" added before "/a/b" shadows it.
func (rt *Router) Match(r *http.Request) *proxy.Route {
	for _, route := range rt.routes {
		if route.Matches(r) {
			return route
		}
	}
	return nil
}

// GetRoute returns a route by id
func (rt *Router) GetRoute(id string) *proxy.Route {
	return rt.byID[id]
}

// GetRoutes returns all routes in match order
func (rt *Router) GetRoutes() []*proxy.Route {
	out := make([]*proxy.Route, len(rt.routes))
	copy(out, rt.routes)
	return out
}

// ServeHTTP implements http.Handler.
func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == HealthPath {
		w.Header().Set("Content-Length", "0")
		w.WriteHeader(http.StatusOK)
		return
	}

	route := rt.Match(r)
	if route == nil {
		logging.Debug("no route matched",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
		)
		gwerrors.ErrNotFound.Write(w)
		return
	}

	start := time.Now()
	status := rt.serveRoute(w, r, route)
	rt.metrics.RecordRequest(route.ID(), r.Method, status, time.Since(start))
}

func (rt *Router) serveRoute(w http.ResponseWriter, r *http.Request, route *proxy.Route) int {
	res, err := route.Proxy(r)
	if err != nil {
		if errors.Is(err, proxy.ErrUpstreamDispatch) {
			logging.Error("upstream dispatch failed",
				zap.String("route", route.ID()),
				zap.String("path", r.URL.Path),
				zap.Error(err),
			)
		} else {
			logging.Error("route failed",
				zap.String("route", route.ID()),
				zap.Error(err),
			)
		}
		gwerrors.ErrBadGateway.Write(w)
		return http.StatusBadGateway
	}

	if _, err := proxy.WriteResponse(w, res); err != nil {
		// Headers are already out; the client sees a truncated body.
		logging.Warn("writing response body failed",
			zap.String("route", route.ID()),
			zap.Error(err),
		)
	}
	return res.StatusCode
}
