package pipeline

import (
	"net/http"

	"github.com/wudi/prefixgate/internal/errors"
)

// Stage identifies how far a single round-trip progressed.
type Stage int

const (
	StageMatched Stage = iota
	StageRequestHandlersRun
	StageBreakToTerminal
	StageUpstreamDispatched
	StageResponseHandlersRun
	StageFinalized
	StageHooksNotified
	StageDone
)

func (s Stage) String() string {
	switch s {
	case StageMatched:
		return "matched"
	case StageRequestHandlersRun:
		return "request_handlers_run"
	case StageBreakToTerminal:
		return "break_to_terminal"
	case StageUpstreamDispatched:
		return "upstream_dispatched"
	case StageResponseHandlersRun:
		return "response_handlers_run"
	case StageFinalized:
		return "finalized"
	case StageHooksNotified:
		return "hooks_notified"
	case StageDone:
		return "done"
	default:
		return "unknown"
	}
}

// Dispatcher sends the rewritten request upstream.
type Dispatcher func(req *http.Request) (*http.Response, error)

// TraceFunc is called on every stage transition of a round-trip.
type TraceFunc func(req *http.Request, stage Stage)

// Pipeline holds the ordered handlers of one route. It is assembled once at
// startup and must not be modified once requests are being served.
type Pipeline struct {
	handlers  []GlobalHandler
	factories []HookFactory
	finalizer Finalizer
	trace     TraceFunc
}

// New creates an empty pipeline.
func New() *Pipeline {
	return &Pipeline{}
}

// Use appends a global handler.
func (p *Pipeline) Use(h GlobalHandler) *Pipeline {
	p.handlers = append(p.handlers, h)
	return p
}

// UseHook appends a scoped hook factory.
func (p *Pipeline) UseHook(f HookFactory) *Pipeline {
	p.factories = append(p.factories, f)
	return p
}

// FinalizeWith sets the response finalizer, replacing any previous one.
func (p *Pipeline) FinalizeWith(f Finalizer) *Pipeline {
	p.finalizer = f
	return p
}

// Trace installs a stage observer.
func (p *Pipeline) Trace(fn TraceFunc) *Pipeline {
	p.trace = fn
	return p
}

// Handlers returns a copy of the global handlers in registration order.
func (p *Pipeline) Handlers() []GlobalHandler {
	out := make([]GlobalHandler, len(p.handlers))
	copy(out, p.handlers)
	return out
}

// HookCount returns the number of registered hook factories.
func (p *Pipeline) HookCount() int {
	return len(p.factories)
}

// HasFinalizer reports whether a finalizer is configured.
func (p *Pipeline) HasFinalizer() bool {
	return p.finalizer != nil
}

// Run threads req through the pipeline around dispatch:
//
//	hooks created → request handlers → hooks OnRequest → dispatch →
//	response handlers → finalizer → hooks OnResponse
//
// A Break from a request handler returns its response immediately; dispatch
// and every hook callback are skipped. A Break from a response handler
// replaces the response and skips the remaining response handlers, but the
// finalizer and hooks still run. A dispatch error is returned unchanged.
func (p *Pipeline) Run(req *http.Request, dispatch Dispatcher) (*http.Response, error) {
	p.mark(req, StageMatched)

	hooks := p.newHooks()

	if res, broke := p.handleRequest(req); broke {
		p.mark(req, StageBreakToTerminal)
		return res, nil
	}
	p.mark(req, StageRequestHandlersRun)

	for _, h := range hooks {
		h.OnRequest(req)
	}

	res, err := dispatch(req)
	if err != nil {
		return nil, err
	}
	p.mark(req, StageUpstreamDispatched)

	res = p.handleResponse(res)
	p.mark(req, StageResponseHandlersRun)

	if p.finalizer != nil {
		res = p.finalize(req, res)
		p.mark(req, StageFinalized)
	}

	for _, h := range hooks {
		h.OnResponse(res)
	}
	p.mark(req, StageHooksNotified)

	p.mark(req, StageDone)
	return res, nil
}

func (p *Pipeline) newHooks() []ScopedHook {
	if len(p.factories) == 0 {
		return nil
	}
	hooks := make([]ScopedHook, len(p.factories))
	for i, f := range p.factories {
		hooks[i] = f.NewHook()
	}
	return hooks
}

func (p *Pipeline) handleRequest(req *http.Request) (*http.Response, bool) {
	for _, h := range p.handlers {
		if out := h.HandleRequest(req); out.IsBreak() {
			return out.Response(), true
		}
	}
	return nil, false
}

func (p *Pipeline) handleResponse(res *http.Response) *http.Response {
	for _, h := range p.handlers {
		out := h.HandleResponse(res)
		if !out.IsBreak() {
			continue
		}
		replacement := out.Response()
		if replacement != res && res.Body != nil {
			res.Body.Close()
		}
		return replacement
	}
	return res
}

func (p *Pipeline) finalize(req *http.Request, res *http.Response) *http.Response {
	out := p.finalizer.Finalize(req.Context(), res)
	if out == nil {
		return errors.ErrInternalServer.Response()
	}
	return out
}

func (p *Pipeline) mark(req *http.Request, s Stage) {
	if p.trace != nil {
		p.trace(req, s)
	}
}
