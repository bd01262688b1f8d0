// Package correlation tags each round-trip with a correlation id. An id on
// the inbound request is kept; otherwise a fresh UUID is set before
// dispatch. The same id is copied onto the response.
package correlation

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/wudi/prefixgate/internal/pipeline"
)

func init() {
	// Batch crypto/rand reads into a pool to avoid a syscall per UUID.
	uuid.EnableRandPool()
}

// DefaultHeader is used when Config.Header is empty.
const DefaultHeader = "X-Correlation-Id"

// Config configures the correlation hook factory.
type Config struct {
	Header    string
	Generator func() string
}

// Factory creates one correlation hook per request.
type Factory struct {
	header    string
	generator func() string
}

// NewFactory creates a factory with cfg.
func NewFactory(cfg Config) *Factory {
	if cfg.Header == "" {
		cfg.Header = DefaultHeader
	}
	if cfg.Generator == nil {
		cfg.Generator = uuid.NewString
	}
	return &Factory{
		header:    http.CanonicalHeaderKey(cfg.Header),
		generator: cfg.Generator,
	}
}

// NewHook implements pipeline.HookFactory.
func (f *Factory) NewHook() pipeline.ScopedHook {
	return &hook{factory: f}
}

type hook struct {
	factory *Factory
	id      string
}

func (h *hook) OnRequest(r *http.Request) {
	h.id = r.Header.Get(h.factory.header)
	if h.id == "" {
		h.id = h.factory.generator()
		r.Header.Set(h.factory.header, h.id)
	}
}

func (h *hook) OnResponse(res *http.Response) {
	if h.id == "" {
		return
	}
	if res.Header == nil {
		res.Header = make(http.Header)
	}
	res.Header.Set(h.factory.header, h.id)
}
