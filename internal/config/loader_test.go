package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoaderParse(t *testing.T) {
	yaml := `
listener:
  address: "127.0.0.1:9090"
  read_timeout: 10s

logging:
  level: debug

routes:
  - id: orders
    prefix: /orders
    endpoints:
      - scheme: http
        host: localhost
        port: 8000
    handlers:
      - type: rate_limit
        rate_limit:
          capacity: 2
          window: 1s
      - type: subscription
        subscription:
          keys: ["k1"]
    hooks:
      - type: correlation_id
      - type: access_log
    finalizer:
      type: json_pointer
      pointer: /data/items
  - id: secure
    prefix: /secure
    endpoints:
      - scheme: https
        host: api.example.com
`

	cfg, err := NewLoader().Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if cfg.Listener.Address != "127.0.0.1:9090" {
		t.Errorf("expected address 127.0.0.1:9090, got %s", cfg.Listener.Address)
	}
	if cfg.Listener.ReadTimeout != 10*time.Second {
		t.Errorf("expected read_timeout 10s, got %v", cfg.Listener.ReadTimeout)
	}
	if cfg.Listener.WriteTimeout != 30*time.Second {
		t.Errorf("expected default write_timeout 30s, got %v", cfg.Listener.WriteTimeout)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected level debug, got %s", cfg.Logging.Level)
	}
	if len(cfg.Routes) != 2 {
		t.Fatalf("expected 2 routes, got %d", len(cfg.Routes))
	}

	orders := cfg.Routes[0]
	if orders.Handlers[0].RateLimit.Window != time.Second {
		t.Errorf("expected window 1s, got %v", orders.Handlers[0].RateLimit.Window)
	}
	if orders.Handlers[0].RateLimit.Mode != "local" {
		t.Errorf("expected default mode local, got %q", orders.Handlers[0].RateLimit.Mode)
	}
	if orders.Handlers[0].RateLimit.Key != "orders" {
		t.Errorf("expected default key orders, got %q", orders.Handlers[0].RateLimit.Key)
	}
	if orders.Handlers[1].Subscription.Header != DefaultSubscriptionHeader {
		t.Errorf("expected default header, got %q", orders.Handlers[1].Subscription.Header)
	}
	if orders.Hooks[0].Header != DefaultCorrelationHeader {
		t.Errorf("expected default correlation header, got %q", orders.Hooks[0].Header)
	}
	if orders.Finalizer == nil || orders.Finalizer.Pointer != "/data/items" {
		t.Errorf("unexpected finalizer: %+v", orders.Finalizer)
	}

	secure := cfg.Routes[1].Endpoints[0]
	if secure.Port != 443 {
		t.Errorf("expected https port to default to 443, got %d", secure.Port)
	}
}

func TestLoaderEnvExpansion(t *testing.T) {
	t.Setenv("TEST_UPSTREAM_HOST", "backend.internal")
	t.Setenv("TEST_REDIS_ADDR", "redis:6379")

	yaml := `
redis:
  address: ${TEST_REDIS_ADDR}
routes:
  - id: api
    prefix: /api
    endpoints:
      - host: ${TEST_UPSTREAM_HOST}
        port: 80
    handlers:
      - type: subscription
        subscription:
          keys: ["${TEST_UNSET_VAR_XYZ}"]
`

	cfg, err := NewLoader().Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if cfg.Redis.Address != "redis:6379" {
		t.Errorf("expected redis:6379, got %s", cfg.Redis.Address)
	}
	if cfg.Routes[0].Endpoints[0].Host != "backend.internal" {
		t.Errorf("expected backend.internal, got %s", cfg.Routes[0].Endpoints[0].Host)
	}
	if cfg.Routes[0].Endpoints[0].Scheme != "http" {
		t.Errorf("expected default scheme http, got %s", cfg.Routes[0].Endpoints[0].Scheme)
	}
	if got := cfg.Routes[0].Handlers[0].Subscription.Keys[0]; got != "${TEST_UNSET_VAR_XYZ}" {
		t.Errorf("unset variable should be kept, got %q", got)
	}
}

func TestLoaderDefaults(t *testing.T) {
	cfg, err := NewLoader().Parse([]byte("{}"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if cfg.Listener.Address != "127.0.0.1:8080" {
		t.Errorf("expected default address, got %s", cfg.Listener.Address)
	}
	if cfg.Admin.Enabled {
		t.Error("admin should be disabled by default")
	}
	if cfg.Logging.Output != "stdout" || cfg.Logging.Rotation.MaxSize != 100 {
		t.Errorf("unexpected logging defaults: %+v", cfg.Logging)
	}
	if len(cfg.Routes) != 0 {
		t.Errorf("expected no routes, got %d", len(cfg.Routes))
	}
}

func TestLoaderValidation(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name: "missing route id",
			yaml: `
routes:
  - prefix: /a
    endpoints: [{host: a, port: 80}]
`,
			wantErr: "id is required",
		},
		{
			name: "duplicate route id",
			yaml: `
routes:
  - id: a
    prefix: /a
    endpoints: [{host: a, port: 80}]
  - id: a
    prefix: /b
    endpoints: [{host: b, port: 80}]
`,
			wantErr: "duplicate route id",
		},
		{
			name: "prefix without slash",
			yaml: `
routes:
  - id: a
    prefix: api
    endpoints: [{host: a, port: 80}]
`,
			wantErr: "must start with /",
		},
		{
			name: "no endpoints",
			yaml: `
routes:
  - id: a
    prefix: /a
`,
			wantErr: "at least one endpoint",
		},
		{
			name: "http without port",
			yaml: `
routes:
  - id: a
    prefix: /a
    endpoints: [{scheme: http, host: a}]
`,
			wantErr: "port is required",
		},
		{
			name: "bad scheme",
			yaml: `
routes:
  - id: a
    prefix: /a
    endpoints: [{scheme: ftp, host: a, port: 21}]
`,
			wantErr: "invalid scheme",
		},
		{
			name: "zero capacity",
			yaml: `
routes:
  - id: a
    prefix: /a
    endpoints: [{host: a, port: 80}]
    handlers:
      - type: rate_limit
        rate_limit: {capacity: 0, window: 1s}
`,
			wantErr: "capacity must be > 0",
		},
		{
			name: "distributed without redis",
			yaml: `
routes:
  - id: a
    prefix: /a
    endpoints: [{host: a, port: 80}]
    handlers:
      - type: rate_limit
        rate_limit: {capacity: 1, window: 1s, mode: distributed}
`,
			wantErr: "requires redis.address",
		},
		{
			name: "bad log level",
			yaml: `
routes:
  - id: a
    prefix: /a
    endpoints: [{host: a, port: 80}]
    handlers:
      - type: log_request
        level: loud
`,
			wantErr: "invalid log level",
		},
		{
			name: "relative pointer",
			yaml: `
routes:
  - id: a
    prefix: /a
    endpoints: [{host: a, port: 80}]
    finalizer: {type: json_pointer, pointer: data}
`,
			wantErr: "must be empty or start with /",
		},
		{
			name: "jmespath without expression",
			yaml: `
routes:
  - id: a
    prefix: /a
    endpoints: [{host: a, port: 80}]
    finalizer: {type: jmespath}
`,
			wantErr: "expression is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLoader().Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoaderLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	if err := os.WriteFile(path, []byte("listener:\n  address: \":0\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := NewLoader().Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Listener.Address != ":0" {
		t.Errorf("expected :0, got %s", cfg.Listener.Address)
	}

	if _, err := NewLoader().Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
