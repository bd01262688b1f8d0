package config

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/goccy/go-yaml"
)

// Loader handles configuration loading and parsing
type Loader struct {
	envPattern *regexp.Regexp
	secrets    *SecretRegistry
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		envPattern: regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`),
		secrets:    NewSecretRegistry(),
	}
}

// RegisterSecretProvider adds a provider for ${scheme:ref} values.
func (l *Loader) RegisterSecretProvider(p SecretProvider) *Loader {
	l.secrets.Register(p)
	return l
}

// Load reads and parses a configuration file
func (l *Loader) Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return l.Parse(data)
}

// Parse parses configuration from YAML bytes
func (l *Loader) Parse(data []byte) (*Config, error) {
	expanded := l.expandEnvVars(string(data))

	cfg := DefaultConfig()

	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := resolveSecretRefs(context.Background(), cfg, l.secrets); err != nil {
		return nil, err
	}

	applyRouteDefaults(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} with environment variable values
func (l *Loader) expandEnvVars(input string) string {
	return l.envPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := strings.TrimPrefix(strings.TrimSuffix(match, "}"), "${")
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match // Keep original if env var not set
	})
}

func applyRouteDefaults(cfg *Config) {
	for i := range cfg.Routes {
		route := &cfg.Routes[i]
		for j := range route.Endpoints {
			ep := &route.Endpoints[j]
			if ep.Scheme == "" {
				ep.Scheme = "http"
			}
			if ep.Scheme == "https" && ep.Port == 0 {
				ep.Port = 443
			}
		}
		for j := range route.Handlers {
			h := &route.Handlers[j]
			switch h.Type {
			case HandlerRateLimit:
				if h.RateLimit.Mode == "" {
					h.RateLimit.Mode = "local"
				}
				if h.RateLimit.Key == "" {
					h.RateLimit.Key = route.ID
				}
			case HandlerSubscription:
				if h.Subscription.Header == "" {
					h.Subscription.Header = DefaultSubscriptionHeader
				}
			}
		}
		for j := range route.Hooks {
			if route.Hooks[j].Type == HookCorrelationID && route.Hooks[j].Header == "" {
				route.Hooks[j].Header = DefaultCorrelationHeader
			}
		}
	}
}

// Validate checks configuration for errors
func Validate(cfg *Config) error {
	if cfg.Listener.Address == "" {
		return fmt.Errorf("listener: address is required")
	}
	if cfg.Admin.Enabled && cfg.Admin.Address == "" {
		return fmt.Errorf("admin: address is required when enabled")
	}

	routeIDs := make(map[string]bool)
	for i, route := range cfg.Routes {
		if route.ID == "" {
			return fmt.Errorf("route %d: id is required", i)
		}
		if routeIDs[route.ID] {
			return fmt.Errorf("duplicate route id: %s", route.ID)
		}
		routeIDs[route.ID] = true

		if err := validateRoute(cfg, route); err != nil {
			return fmt.Errorf("route %s: %w", route.ID, err)
		}
	}

	return nil
}

func validateRoute(cfg *Config, route RouteConfig) error {
	if !strings.HasPrefix(route.Prefix, "/") {
		return fmt.Errorf("prefix %q must start with /", route.Prefix)
	}
	if len(route.Endpoints) == 0 {
		return fmt.Errorf("at least one endpoint is required")
	}

	for i, ep := range route.Endpoints {
		if err := validateEndpoint(ep); err != nil {
			return fmt.Errorf("endpoint %d: %w", i, err)
		}
	}

	for i, h := range route.Handlers {
		if err := validateHandler(cfg, h); err != nil {
			return fmt.Errorf("handler %d (%s): %w", i, h.Type, err)
		}
	}

	for i, h := range route.Hooks {
		if h.Type == "" {
			return fmt.Errorf("hook %d: type is required", i)
		}
	}

	if f := route.Finalizer; f != nil {
		if f.Type == "" {
			return fmt.Errorf("finalizer: type is required")
		}
		if f.Type == FinalizerJSONPointer && f.Pointer != "" && !strings.HasPrefix(f.Pointer, "/") {
			return fmt.Errorf("finalizer: pointer %q must be empty or start with /", f.Pointer)
		}
		if f.Type == FinalizerJMESPath && f.Expression == "" {
			return fmt.Errorf("finalizer: expression is required for jmespath")
		}
	}

	return nil
}

func validateEndpoint(ep EndpointConfig) error {
	switch ep.Scheme {
	case "http", "https":
	default:
		return fmt.Errorf("invalid scheme: %s", ep.Scheme)
	}
	if ep.Host == "" {
		return fmt.Errorf("host is required")
	}
	if strings.ContainsAny(ep.Host, "/?#") {
		return fmt.Errorf("host %q must not contain a path", ep.Host)
	}
	if ep.Port == 0 {
		return fmt.Errorf("port is required for %s endpoints", ep.Scheme)
	}
	if ep.Port < 0 || ep.Port > 65535 {
		return fmt.Errorf("port %d out of range", ep.Port)
	}

	cb := ep.CircuitBreaker
	if cb.Enabled {
		if cb.FailureThreshold < 0 {
			return fmt.Errorf("circuit_breaker: failure_threshold must be >= 0")
		}
		if cb.MaxRequests < 0 {
			return fmt.Errorf("circuit_breaker: max_requests must be >= 0")
		}
		if cb.Timeout < 0 {
			return fmt.Errorf("circuit_breaker: timeout must be >= 0")
		}
	}
	return nil
}

func validateHandler(cfg *Config, h HandlerConfig) error {
	switch h.Type {
	case "":
		return fmt.Errorf("type is required")

	case HandlerLogRequest, HandlerLogResponse:
		switch h.Level {
		case "", "debug", "info", "warn", "error":
		default:
			return fmt.Errorf("invalid log level: %s", h.Level)
		}

	case HandlerRateLimit:
		rl := h.RateLimit
		if rl.Capacity <= 0 {
			return fmt.Errorf("capacity must be > 0")
		}
		if rl.Window <= 0 {
			return fmt.Errorf("window must be > 0")
		}
		switch rl.Mode {
		case "local":
		case "distributed":
			if cfg.Redis.Address == "" {
				return fmt.Errorf("distributed mode requires redis.address")
			}
		default:
			return fmt.Errorf("invalid mode: %s", rl.Mode)
		}

	case HandlerSubscription:
		sub := h.Subscription
		if sub.RedisChannel != "" && cfg.Redis.Address == "" {
			return fmt.Errorf("redis_channel requires redis.address")
		}
		if sub.Buffer < 0 {
			return fmt.Errorf("buffer must be >= 0")
		}
		for _, k := range sub.Keys {
			if k == "" {
				return fmt.Errorf("empty key")
			}
		}
	}
	return nil
}
