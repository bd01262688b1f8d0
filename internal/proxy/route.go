package proxy

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/wudi/prefixgate/internal/pipeline"
)

// ErrUpstreamDispatch matches every DispatchError.
var ErrUpstreamDispatch = errors.New("upstream dispatch failed")

// DispatchError reports a transport-level failure reaching an endpoint.
type DispatchError struct {
	Route    string
	Endpoint string
	Err      error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("route %s: dispatch to %s: %v", e.Route, e.Endpoint, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

// Is reports whether target is ErrUpstreamDispatch.
func (e *DispatchError) Is(target error) bool { return target == ErrUpstreamDispatch }

// Route binds a path prefix to its endpoints and handler pipeline.
type Route struct {
	id        string
	prefix    string
	endpoints []*Endpoint
	pipeline  *pipeline.Pipeline
}

// NewRoute creates a route. A nil pipeline forwards without handlers.
func NewRoute(id, prefix string, endpoints []*Endpoint, p *pipeline.Pipeline) (*Route, error) {
	if !strings.HasPrefix(prefix, "/") {
		return nil, fmt.Errorf("route %s: prefix %q must start with /", id, prefix)
	}
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("route %s: at least one endpoint is required", id)
	}
	for i, ep := range endpoints {
		if ep == nil {
			return nil, fmt.Errorf("route %s: endpoint %d is nil", id, i)
		}
	}
	if p == nil {
		p = pipeline.New()
	}

	eps := make([]*Endpoint, len(endpoints))
	copy(eps, endpoints)

	return &Route{id: id, prefix: prefix, endpoints: eps, pipeline: p}, nil
}

// ID returns the route identifier.
func (r *Route) ID() string { return r.id }

// Prefix returns the matched path prefix.
func (r *Route) Prefix() string { return r.prefix }

// Endpoints returns the configured endpoints in order.
func (r *Route) Endpoints() []*Endpoint {
	out := make([]*Endpoint, len(r.endpoints))
	copy(out, r.endpoints)
	return out
}

// Pipeline returns the route's handler pipeline.
func (r *Route) Pipeline() *pipeline.Pipeline { return r.pipeline }

// Matches reports whether the request path starts with the route prefix.
func (r *Route) Matches(req *http.Request) bool {
	return strings.HasPrefix(req.URL.EscapedPath(), r.prefix)
}

// SelectEndpoint picks the endpoint a request is sent to.
//
// Single-candidate policy: the first configured endpoint is always chosen.
// Health or latency aware selection would plug in here.
func (r *Route) SelectEndpoint(*http.Request) *Endpoint {
	return r.endpoints[0]
}

// UpstreamURL strips prefix from the escaped path and query of u and joins
// the remainder onto the endpoint's scheme and address. A prefix longer than
// the path and query leaves an empty remainder. A remainder that does not
// begin with "/" or "?" gets a leading "/".
func UpstreamURL(prefix string, u *url.URL, ep *Endpoint) (*url.URL, error) {
	pathAndQuery := u.EscapedPath()
	if u.ForceQuery || u.RawQuery != "" {
		pathAndQuery += "?" + u.RawQuery
	}

	var rest string
	if len(prefix) < len(pathAndQuery) {
		rest = pathAndQuery[len(prefix):]
	}
	if rest != "" && rest[0] != '/' && rest[0] != '?' {
		rest = "/" + rest
	}

	return ep.TargetURL(rest)
}

// Proxy sends req to the selected endpoint through the route pipeline. The
// returned error is always a *DispatchError; handler outcomes, including
// Breaks, come back as responses.
func (r *Route) Proxy(req *http.Request) (*http.Response, error) {
	ep := r.SelectEndpoint(req)

	target, err := UpstreamURL(r.prefix, req.URL, ep)
	if err != nil {
		return nil, &DispatchError{Route: r.id, Endpoint: ep.Address(), Err: err}
	}

	out := req.Clone(req.Context())
	out.URL = target
	out.RequestURI = ""

	return r.pipeline.Run(out, func(up *http.Request) (*http.Response, error) {
		res, err := ep.Client().Do(up)
		if err != nil {
			return nil, &DispatchError{Route: r.id, Endpoint: ep.Address(), Err: err}
		}
		return res, nil
	})
}
