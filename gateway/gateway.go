// Package gateway is the embeddable entry point: load a configuration,
// register custom pipeline types, and run the server.
package gateway

import (
	"context"
	"fmt"
	"net/http"
	"time"

	igw "github.com/wudi/prefixgate/internal/gateway"
)

// GatewayBuilder constructs a gateway Server with custom pipeline types.
type GatewayBuilder struct {
	cfg         *Config
	features    []Feature
	handlers    map[string]HandlerBuilder
	hooks       map[string]HookBuilder
	finalizers  map[string]FinalizerBuilder
	useDefaults bool
}

// New creates a new GatewayBuilder for the given configuration.
func New(cfg *Config) *GatewayBuilder {
	return &GatewayBuilder{
		cfg:        cfg,
		handlers:   make(map[string]HandlerBuilder),
		hooks:      make(map[string]HookBuilder),
		finalizers: make(map[string]FinalizerBuilder),
	}
}

// WithDefaults registers the built-in handler, hook and finalizer types.
// This is what cmd/gateway uses. Without this call only custom types
// registered on the builder are available.
func (b *GatewayBuilder) WithDefaults() *GatewayBuilder {
	b.useDefaults = true
	return b
}

// WithFeatures registers multiple custom features at once.
func (b *GatewayBuilder) WithFeatures(ff ...Feature) *GatewayBuilder {
	b.features = append(b.features, ff...)
	return b
}

// AddFeature registers a single custom feature.
func (b *GatewayBuilder) AddFeature(f Feature) *GatewayBuilder {
	b.features = append(b.features, f)
	return b
}

// RegisterHandler adds a global handler type, replacing a built-in of the
// same name.
func (b *GatewayBuilder) RegisterHandler(name string, build HandlerBuilder) *GatewayBuilder {
	b.handlers[name] = build
	return b
}

// RegisterHook adds a scoped hook type.
func (b *GatewayBuilder) RegisterHook(name string, build HookBuilder) *GatewayBuilder {
	b.hooks[name] = build
	return b
}

// RegisterFinalizer adds a finalizer type.
func (b *GatewayBuilder) RegisterFinalizer(name string, build FinalizerBuilder) *GatewayBuilder {
	b.finalizers[name] = build
	return b
}

// Build validates the configuration and constructs a ready-to-run Server.
func (b *GatewayBuilder) Build() (*Server, error) {
	if b.cfg == nil {
		return nil, fmt.Errorf("gateway: config is required")
	}

	for _, f := range b.features {
		if cv, ok := f.(ConfigValidator); ok {
			if err := cv.ValidateConfig(b.cfg); err != nil {
				return nil, fmt.Errorf("feature %q config validation: %w", f.Name(), err)
			}
		}
	}

	reg := igw.NewRegistry()
	if b.useDefaults {
		reg = igw.DefaultRegistry()
	}
	for _, f := range b.features {
		f.Register(reg)
	}
	for name, build := range b.handlers {
		reg.RegisterHandler(name, build)
	}
	for name, build := range b.hooks {
		reg.RegisterHook(name, build)
	}
	for name, build := range b.finalizers {
		reg.RegisterFinalizer(name, build)
	}

	srv, err := igw.NewServer(b.cfg, reg)
	if err != nil {
		return nil, err
	}
	return &Server{internal: srv}, nil
}

// Server wraps the internal gateway server with a public API.
type Server struct {
	internal *igw.Server
}

// Run starts the server and blocks until ctx is cancelled, then shuts down.
func (s *Server) Run(ctx context.Context) error {
	return s.internal.Run(ctx)
}

// Start binds the listeners without blocking. Background tasks such as
// subscription updates only run under Run.
func (s *Server) Start(ctx context.Context) error {
	return s.internal.Start(ctx)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(timeout time.Duration) error {
	return s.internal.Shutdown(timeout)
}

// Handler returns the server's root http.Handler, useful for testing
// or embedding in other servers.
func (s *Server) Handler() http.Handler {
	return s.internal.Gateway().Handler()
}

// Addr returns the bound gateway address.
func (s *Server) Addr() string {
	return s.internal.Addr()
}
