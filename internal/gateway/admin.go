package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/julienschmidt/httprouter"

	"github.com/wudi/prefixgate/internal/circuitbreaker"
	"github.com/wudi/prefixgate/internal/config"
	"github.com/wudi/prefixgate/internal/middleware/subscription"
)

const publishTimeout = 2 * time.Second

// adminHandler serves health, metrics, the route table and subscription
// management on the admin listener.
func (s *Server) adminHandler() http.Handler {
	r := httprouter.New()

	r.HandlerFunc(http.MethodGet, "/health", s.handleHealth)
	r.HandlerFunc(http.MethodGet, "/stats", s.handleStats)
	r.Handler(http.MethodGet, "/metrics", s.gateway.Metrics().Handler())
	r.HandlerFunc(http.MethodGet, "/routes", s.handleRoutes)
	r.HandlerFunc(http.MethodGet, "/config", s.handleConfig)

	r.GET("/routes/:id/subscriptions", s.handleListSubscriptions)
	r.PUT("/routes/:id/subscriptions/:key", s.handleSubscription(subscription.Subscribe))
	r.DELETE("/routes/:id/subscriptions/:key", s.handleSubscription(subscription.Revoke))

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{}
	status := http.StatusOK
	statusStr := "ok"

	if rc := s.gateway.redis; rc != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := rc.Ping(ctx).Err(); err != nil {
			checks["redis"] = "unavailable: " + err.Error()
			status = http.StatusServiceUnavailable
			statusStr = "degraded"
		} else {
			checks["redis"] = "ok"
		}
	}

	writeJSON(w, status, map[string]interface{}{
		"status":    statusStr,
		"timestamp": time.Now().Format(time.RFC3339),
		"uptime":    time.Since(s.started).String(),
		"checks":    checks,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"routes":    len(s.gateway.Router().GetRoutes()),
		"listeners": s.manager.List(),
		"tasks":     len(s.gateway.tasks),
	})
}

// handleConfig returns the running configuration as YAML with secrets
// redacted.
func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	red, err := config.RedactConfig(s.config)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	data, err := yaml.Marshal(red)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.Write(data)
}

type endpointStatus struct {
	Address   string                          `json:"address"`
	Transport string                          `json:"transport"`
	Breaker   *circuitbreaker.BreakerSnapshot `json:"circuit_breaker,omitempty"`
}

type routeStatus struct {
	ID               string           `json:"id"`
	Prefix           string           `json:"prefix"`
	Endpoints        []endpointStatus `json:"endpoints"`
	Handlers         []string         `json:"handlers"`
	Hooks            []string         `json:"hooks"`
	Finalizer        string           `json:"finalizer,omitempty"`
	SubscriptionKeys *int             `json:"subscription_keys,omitempty"`
}

func (s *Server) handleRoutes(w http.ResponseWriter, r *http.Request) {
	result := make([]routeStatus, 0, len(s.config.Routes))
	for _, rc := range s.config.Routes {
		result = append(result, s.routeStatus(rc))
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) routeStatus(rc config.RouteConfig) routeStatus {
	rs := routeStatus{
		ID:       rc.ID,
		Prefix:   rc.Prefix,
		Handlers: make([]string, 0, len(rc.Handlers)),
		Hooks:    make([]string, 0, len(rc.Hooks)),
	}

	s.gateway.mu.RLock()
	infos := s.gateway.endpoints[rc.ID]
	s.gateway.mu.RUnlock()
	for _, info := range infos {
		es := endpointStatus{
			Address:   info.endpoint.Address(),
			Transport: info.endpoint.Transport().String(),
		}
		if info.breaker != nil {
			snap := info.breaker.Snapshot()
			es.Breaker = &snap
		}
		rs.Endpoints = append(rs.Endpoints, es)
	}

	for _, hc := range rc.Handlers {
		rs.Handlers = append(rs.Handlers, hc.Type)
	}
	for _, hc := range rc.Hooks {
		rs.Hooks = append(rs.Hooks, hc.Type)
	}
	if rc.Finalizer != nil {
		rs.Finalizer = rc.Finalizer.Type
	}

	if gates := s.gateway.Gates(rc.ID); len(gates) > 0 {
		n := 0
		for _, g := range gates {
			n += len(g.Keys())
		}
		rs.SubscriptionKeys = &n
	}
	return rs
}

func (s *Server) handleListSubscriptions(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	gates := s.gateway.Gates(ps.ByName("id"))
	if len(gates) == 0 {
		writeError(w, http.StatusNotFound, "route has no subscription handler")
		return
	}

	result := make([]map[string]interface{}, 0, len(gates))
	for _, g := range gates {
		result = append(result, map[string]interface{}{
			"header": g.Header(),
			"keys":   g.Keys(),
		})
	}
	writeJSON(w, http.StatusOK, result)
}

// handleSubscription queues an event for every gate on the route. The
// change is applied asynchronously, so success is 202.
func (s *Server) handleSubscription(action subscription.Action) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		gates := s.gateway.Gates(ps.ByName("id"))
		if len(gates) == 0 {
			writeError(w, http.StatusNotFound, "route has no subscription handler")
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), publishTimeout)
		defer cancel()

		ev := subscription.Event{Action: action, Key: ps.ByName("key")}
		for _, g := range gates {
			if err := g.Publish(ctx, ev); err != nil {
				writeError(w, http.StatusServiceUnavailable, err.Error())
				return
			}
		}

		writeJSON(w, http.StatusAccepted, map[string]interface{}{
			"route":  ps.ByName("id"),
			"action": action.String(),
			"key":    ev.Key,
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
