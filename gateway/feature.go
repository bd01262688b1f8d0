package gateway

import (
	igw "github.com/wudi/prefixgate/internal/gateway"
	"github.com/wudi/prefixgate/internal/pipeline"
)

// Pipeline contracts, re-exported for custom types.
type (
	GlobalHandler = pipeline.GlobalHandler
	ScopedHook    = pipeline.ScopedHook
	HookFactory   = pipeline.HookFactory
	Finalizer     = pipeline.Finalizer
	Outcome       = pipeline.Outcome
)

// Builder signatures and the context they receive while a route is built.
type (
	BuildContext     = igw.BuildContext
	HandlerBuilder   = igw.HandlerBuilder
	HookBuilder      = igw.HookBuilder
	FinalizerBuilder = igw.FinalizerBuilder
	Registry         = igw.Registry
)

// Feature bundles custom handler, hook and finalizer types under one name.
type Feature interface {
	Name() string
	Register(reg *Registry)
}

// ConfigValidator is an optional interface for features that want to validate
// the configuration at Build() time, before any routes are added.
type ConfigValidator interface {
	ValidateConfig(cfg *Config) error
}
