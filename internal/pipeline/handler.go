// Package pipeline defines the three handler contracts a route runs around
// an upstream call and the linear runner that threads a request and its
// response through them.
//
// Global handlers are long-lived and shared by every request on a route; they
// see both phases and may short-circuit with Break. Scoped hooks are created
// fresh per round-trip by a HookFactory, observe both phases, and cannot
// short-circuit. A finalizer rewrites the whole response once per request.
package pipeline

import (
	"context"
	"net/http"

	"github.com/wudi/prefixgate/internal/errors"
)

// Outcome is the result of a global handler invocation: Continue, or Break
// carrying the response to return instead.
type Outcome struct {
	response *http.Response
}

// Continue moves on to the next handler.
var Continue = Outcome{}

// Break stops the current phase and returns res.
func Break(res *http.Response) Outcome {
	if res == nil {
		res = errors.ErrInternalServer.Response()
	}
	return Outcome{response: res}
}

// BreakWithStatus stops the current phase with an empty-bodied response.
func BreakWithStatus(code int) Outcome {
	return Outcome{response: errors.StatusResponse(code)}
}

// IsBreak reports whether the outcome short-circuits.
func (o Outcome) IsBreak() bool {
	return o.response != nil
}

// Response returns the response carried by a Break, or nil for Continue.
func (o Outcome) Response() *http.Response {
	return o.response
}

// GlobalHandler is invoked for every request on a route. Implementations are
// shared across concurrent requests and must synchronize their own state.
type GlobalHandler interface {
	HandleRequest(req *http.Request) Outcome
	HandleResponse(res *http.Response) Outcome
}

// ScopedHook observes a single round-trip. OnRequest and OnResponse are each
// called at most once, in that order, by the goroutine serving the request.
type ScopedHook interface {
	OnRequest(req *http.Request)
	OnResponse(res *http.Response)
}

// HookFactory creates a new ScopedHook for each request.
type HookFactory interface {
	NewHook() ScopedHook
}

// HookFactoryFunc adapts a function to HookFactory.
type HookFactoryFunc func() ScopedHook

// NewHook calls f.
func (f HookFactoryFunc) NewHook() ScopedHook {
	return f()
}

// Finalizer transforms a complete response into another complete response.
// It owns res: it must either return res or close its body.
type Finalizer interface {
	Finalize(ctx context.Context, res *http.Response) *http.Response
}

// FinalizerFunc adapts a function to Finalizer.
type FinalizerFunc func(ctx context.Context, res *http.Response) *http.Response

// Finalize calls f.
func (f FinalizerFunc) Finalize(ctx context.Context, res *http.Response) *http.Response {
	return f(ctx, res)
}

// RequestOnly is embedded by handlers that only act on the request phase.
type RequestOnly struct{}

// HandleResponse always continues.
func (RequestOnly) HandleResponse(*http.Response) Outcome { return Continue }

// ResponseOnly is embedded by handlers that only act on the response phase.
type ResponseOnly struct{}

// HandleRequest always continues.
func (ResponseOnly) HandleRequest(*http.Request) Outcome { return Continue }
