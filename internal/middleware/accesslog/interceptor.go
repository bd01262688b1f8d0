package accesslog

import (
	"net/http"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wudi/prefixgate/internal/logging"
	"github.com/wudi/prefixgate/internal/pipeline"
)

// RequestLogger logs every request passing through a route. It never breaks.
type RequestLogger struct {
	pipeline.RequestOnly

	route  string
	level  zapcore.Level
	filter *Filter
}

// NewRequestLogger creates a request interceptor.
func NewRequestLogger(route string, level zapcore.Level, filter *Filter) *RequestLogger {
	if filter == nil {
		filter = &Filter{}
	}
	return &RequestLogger{route: route, level: level, filter: filter}
}

// HandleRequest implements pipeline.GlobalHandler.
func (l *RequestLogger) HandleRequest(r *http.Request) pipeline.Outcome {
	if l.filter.methods == nil || l.filter.methods[r.Method] {
		logging.Log(l.level, "request",
			zap.String("route", l.route),
			zap.String("method", r.Method),
			zap.String("uri", r.URL.RequestURI()),
			zap.Any("headers", l.filter.CaptureHeaders(r.Header)),
		)
	}
	return pipeline.Continue
}

// ResponseLogger logs every response leaving a route. It never breaks.
type ResponseLogger struct {
	pipeline.ResponseOnly

	route  string
	level  zapcore.Level
	filter *Filter
}

// NewResponseLogger creates a response interceptor.
func NewResponseLogger(route string, level zapcore.Level, filter *Filter) *ResponseLogger {
	if filter == nil {
		filter = &Filter{}
	}
	return &ResponseLogger{route: route, level: level, filter: filter}
}

// HandleResponse implements pipeline.GlobalHandler.
func (l *ResponseLogger) HandleResponse(res *http.Response) pipeline.Outcome {
	method := ""
	if res.Request != nil {
		method = res.Request.Method
	}
	if l.filter.ShouldLog(res.StatusCode, method) {
		logging.Log(l.level, "response",
			zap.String("route", l.route),
			zap.Int("status", res.StatusCode),
			zap.Any("headers", l.filter.CaptureHeaders(res.Header)),
		)
	}
	return pipeline.Continue
}
