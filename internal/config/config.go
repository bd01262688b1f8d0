package config

import "time"

// Config represents the complete gateway configuration
type Config struct {
	Listener  ListenerConfig  `yaml:"listener"`
	Admin     AdminConfig     `yaml:"admin"`
	Logging   LoggingConfig   `yaml:"logging"`
	Redis     RedisConfig     `yaml:"redis"`     // Shared by distributed rate limits and subscription channels
	Transport TransportConfig `yaml:"transport"` // Defaults for every endpoint client
	Routes    []RouteConfig   `yaml:"routes"`
}

// ListenerConfig defines the public HTTP listener
type ListenerConfig struct {
	Address           string        `yaml:"address"` // e.g., "127.0.0.1:8080"
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	MaxHeaderBytes    int           `yaml:"max_header_bytes"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

// AdminConfig defines the admin API listener
type AdminConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// LoggingConfig defines logging settings
type LoggingConfig struct {
	Level    string            `yaml:"level"`
	Output   string            `yaml:"output"` // "stdout", "stderr" or a file path
	Rotation LogRotationConfig `yaml:"rotation"`
}

// LogRotationConfig defines log file rotation settings (powered by lumberjack).
type LogRotationConfig struct {
	MaxSize    int  `yaml:"max_size"`    // max megabytes before rotation (default 100)
	MaxBackups int  `yaml:"max_backups"` // old rotated files to keep (default 3)
	MaxAge     int  `yaml:"max_age"`     // days to retain old files (default 28)
	Compress   bool `yaml:"compress"`    // gzip rotated files (default true)
	LocalTime  bool `yaml:"local_time"`  // use local time in backup filenames (default false)
}

// RedisConfig defines the Redis connection
type RedisConfig struct {
	Address     string        `yaml:"address"`
	Password    string        `yaml:"password" redact:"true"`
	DB          int           `yaml:"db"`
	TLS         bool          `yaml:"tls"`
	PoolSize    int           `yaml:"pool_size"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// TransportConfig defines upstream client settings
type TransportConfig struct {
	MaxIdleConns          int           `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost   int           `yaml:"max_idle_conns_per_host"`
	MaxConnsPerHost       int           `yaml:"max_conns_per_host"`
	IdleConnTimeout       time.Duration `yaml:"idle_conn_timeout"`
	DialTimeout           time.Duration `yaml:"dial_timeout"`
	TLSHandshakeTimeout   time.Duration `yaml:"tls_handshake_timeout"`
	ResponseHeaderTimeout time.Duration `yaml:"response_header_timeout"`
	DisableKeepAlives     bool          `yaml:"disable_keep_alives"`
	InsecureSkipVerify    bool          `yaml:"insecure_skip_verify"`
	CAFile                string        `yaml:"ca_file"`
}

// RouteConfig binds a path prefix to endpoints and a handler pipeline
type RouteConfig struct {
	ID        string           `yaml:"id"`
	Prefix    string           `yaml:"prefix"`
	Endpoints []EndpointConfig `yaml:"endpoints"`
	Handlers  []HandlerConfig  `yaml:"handlers"`  // Global handlers, in invocation order
	Hooks     []HookConfig     `yaml:"hooks"`     // Scoped hook factories, in invocation order
	Finalizer *FinalizerConfig `yaml:"finalizer"` // Optional
}

// EndpointConfig defines one upstream target
type EndpointConfig struct {
	Scheme         string               `yaml:"scheme"` // "http" or "https"
	Host           string               `yaml:"host"`
	Port           int                  `yaml:"port"` // required for http, defaults to 443 for https
	Transport      TransportConfig      `yaml:"transport"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// CircuitBreakerConfig defines per-endpoint circuit breaking
type CircuitBreakerConfig struct {
	Enabled          bool          `yaml:"enabled"`
	FailureThreshold int           `yaml:"failure_threshold"` // consecutive failures before opening
	MaxRequests      int           `yaml:"max_requests"`      // probes allowed while half-open
	Timeout          time.Duration `yaml:"timeout"`           // open duration before probing
}

// Built-in global handler types
const (
	HandlerLogRequest   = "log_request"
	HandlerLogResponse  = "log_response"
	HandlerRateLimit    = "rate_limit"
	HandlerSubscription = "subscription"
)

// Built-in hook types
const (
	HookCorrelationID = "correlation_id"
	HookAccessLog     = "access_log"
)

// Built-in finalizer types
const (
	FinalizerJSONPointer = "json_pointer"
	FinalizerJMESPath    = "jmespath"
)

// HandlerConfig defines one global handler
type HandlerConfig struct {
	Type         string             `yaml:"type"`
	Level        string             `yaml:"level"` // log_request, log_response
	RateLimit    RateLimitConfig    `yaml:"rate_limit"`
	Subscription SubscriptionConfig `yaml:"subscription"`
	Options      map[string]string  `yaml:"options"` // Free-form settings for custom handler types
}

// RateLimitConfig defines the sliding-window log limiter
type RateLimitConfig struct {
	Capacity int           `yaml:"capacity"`
	Window   time.Duration `yaml:"window"`
	Mode     string        `yaml:"mode"` // "local" (default) or "distributed" (Redis-backed)
	Key      string        `yaml:"key"`  // Redis key, defaults to the route id
}

// SubscriptionConfig defines the API-key gate
type SubscriptionConfig struct {
	Header       string   `yaml:"header"`
	Keys         []string `yaml:"keys" redact:"true"` // Authorized at startup
	KeysFile     string   `yaml:"keys_file"`          // One key per line, watched for changes
	RedisChannel string   `yaml:"redis_channel"`      // Pub/sub channel carrying subscribe/revoke events
	Buffer       int      `yaml:"buffer"`             // Event channel capacity
}

// HookConfig defines one scoped hook factory
type HookConfig struct {
	Type    string            `yaml:"type"`
	Header  string            `yaml:"header"` // correlation_id
	Level   string            `yaml:"level"`  // access_log
	Options map[string]string `yaml:"options"`
}

// FinalizerConfig defines the response finalizer
type FinalizerConfig struct {
	Type       string            `yaml:"type"`
	Pointer    string            `yaml:"pointer"`    // json_pointer, RFC 6901
	Expression string            `yaml:"expression"` // jmespath
	Wrap       string            `yaml:"wrap"`       // Optional key the extracted value is nested under
	Options    map[string]string `yaml:"options"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Listener: ListenerConfig{
			Address:         "127.0.0.1:8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Admin: AdminConfig{
			Address: "127.0.0.1:8081",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: "stdout",
			Rotation: LogRotationConfig{
				MaxSize:    100,
				MaxBackups: 3,
				MaxAge:     28,
				Compress:   true,
			},
		},
		Redis: RedisConfig{
			DialTimeout: 5 * time.Second,
		},
	}
}

// DefaultSubscriptionHeader is used when a subscription handler names no header.
const DefaultSubscriptionHeader = "X-Api-Key"

// DefaultCorrelationHeader is used when a correlation_id hook names no header.
const DefaultCorrelationHeader = "X-Correlation-Id"
