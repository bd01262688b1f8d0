package accesslog

import (
	"net/http"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wudi/prefixgate/internal/logging"
	"github.com/wudi/prefixgate/internal/pipeline"
)

// HookFactory creates one access log hook per request.
type HookFactory struct {
	route  string
	level  zapcore.Level
	filter *Filter
}

// NewHookFactory creates a factory logging at level for route.
func NewHookFactory(route string, level zapcore.Level, filter *Filter) *HookFactory {
	if filter == nil {
		filter = &Filter{}
	}
	return &HookFactory{route: route, level: level, filter: filter}
}

// NewHook implements pipeline.HookFactory.
func (f *HookFactory) NewHook() pipeline.ScopedHook {
	return &hook{factory: f}
}

// hook is owned by a single request.
type hook struct {
	factory *HookFactory
	start   time.Time
	method  string
	path    string
}

func (h *hook) OnRequest(r *http.Request) {
	h.start = time.Now()
	h.method = r.Method
	h.path = r.URL.RequestURI()
}

func (h *hook) OnResponse(res *http.Response) {
	f := h.factory
	if !f.filter.ShouldLog(res.StatusCode, h.method) {
		return
	}
	logging.Log(f.level, "access",
		zap.String("route", f.route),
		zap.String("method", h.method),
		zap.String("path", h.path),
		zap.Int("status", res.StatusCode),
		zap.Duration("duration", time.Since(h.start)),
	)
}
