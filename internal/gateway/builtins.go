package gateway

import (
	"context"
	"fmt"

	"github.com/wudi/prefixgate/internal/config"
	"github.com/wudi/prefixgate/internal/logging"
	"github.com/wudi/prefixgate/internal/middleware/accesslog"
	"github.com/wudi/prefixgate/internal/middleware/correlation"
	"github.com/wudi/prefixgate/internal/middleware/jmespath"
	"github.com/wudi/prefixgate/internal/middleware/jsonpointer"
	"github.com/wudi/prefixgate/internal/middleware/ratelimit"
	"github.com/wudi/prefixgate/internal/middleware/subscription"
	"github.com/wudi/prefixgate/internal/pipeline"
)

func registerBuiltins(r *Registry) {
	r.RegisterHandler(config.HandlerLogRequest, buildRequestLogger)
	r.RegisterHandler(config.HandlerLogResponse, buildResponseLogger)
	r.RegisterHandler(config.HandlerRateLimit, buildRateLimiter)
	r.RegisterHandler(config.HandlerSubscription, buildSubscription)

	r.RegisterHook(config.HookCorrelationID, buildCorrelation)
	r.RegisterHook(config.HookAccessLog, buildAccessLog)

	r.RegisterFinalizer(config.FinalizerJSONPointer, buildJSONPointer)
	r.RegisterFinalizer(config.FinalizerJMESPath, buildJMESPath)
}

func buildRequestLogger(bc *BuildContext, cfg config.HandlerConfig) (pipeline.GlobalHandler, error) {
	f, err := accesslog.Compile(cfg.Options)
	if err != nil {
		return nil, err
	}
	return accesslog.NewRequestLogger(bc.RouteID, logging.ParseLevel(cfg.Level), f), nil
}

func buildResponseLogger(bc *BuildContext, cfg config.HandlerConfig) (pipeline.GlobalHandler, error) {
	f, err := accesslog.Compile(cfg.Options)
	if err != nil {
		return nil, err
	}
	return accesslog.NewResponseLogger(bc.RouteID, logging.ParseLevel(cfg.Level), f), nil
}

func buildRateLimiter(bc *BuildContext, cfg config.HandlerConfig) (pipeline.GlobalHandler, error) {
	rl := cfg.RateLimit

	var store ratelimit.Store
	switch rl.Mode {
	case "", "local":
		store = ratelimit.NewMemoryStore(rl.Capacity)
	case "distributed":
		client, err := bc.Redis()
		if err != nil {
			return nil, err
		}
		key := rl.Key
		if key == "" {
			key = bc.RouteID
		}
		store = ratelimit.NewRedisStore(client, key)
	default:
		return nil, fmt.Errorf("unknown rate limit mode %q", rl.Mode)
	}

	return ratelimit.New(ratelimit.Config{
		Route:    bc.RouteID,
		Capacity: rl.Capacity,
		Window:   rl.Window,
		Store:    store,
		Metrics:  bc.Metrics,
	})
}

func buildSubscription(bc *BuildContext, cfg config.HandlerConfig) (pipeline.GlobalHandler, error) {
	sc := cfg.Subscription

	var fileSrc *subscription.FileSource
	if sc.KeysFile != "" {
		fileSrc = subscription.NewFileSource(sc.KeysFile)
		if err := fileSrc.Check(); err != nil {
			return nil, err
		}
	}

	header := sc.Header
	if header == "" {
		header = config.DefaultSubscriptionHeader
	}
	gate, err := subscription.New(subscription.Config{
		Route:   bc.RouteID,
		Header:  header,
		Keys:    sc.Keys,
		Buffer:  sc.Buffer,
		Metrics: bc.Metrics,
	})
	if err != nil {
		return nil, err
	}

	bc.Go("subscription", gate.Run)

	if fileSrc != nil {
		bc.Go("keys-file", func(ctx context.Context) error { return fileSrc.Run(ctx, gate) })
	}
	if sc.RedisChannel != "" {
		client, err := bc.Redis()
		if err != nil {
			return nil, err
		}
		src := subscription.NewRedisSource(client, sc.RedisChannel)
		bc.Go("keys-redis", func(ctx context.Context) error { return src.Run(ctx, gate) })
	}

	bc.gw.addGate(bc.RouteID, gate)
	return gate, nil
}

func buildCorrelation(_ *BuildContext, cfg config.HookConfig) (pipeline.HookFactory, error) {
	return correlation.NewFactory(correlation.Config{Header: cfg.Header}), nil
}

func buildAccessLog(bc *BuildContext, cfg config.HookConfig) (pipeline.HookFactory, error) {
	f, err := accesslog.Compile(cfg.Options)
	if err != nil {
		return nil, err
	}
	return accesslog.NewHookFactory(bc.RouteID, logging.ParseLevel(cfg.Level), f), nil
}

func buildJSONPointer(_ *BuildContext, cfg config.FinalizerConfig) (pipeline.Finalizer, error) {
	return jsonpointer.New(jsonpointer.Config{Pointer: cfg.Pointer, Wrap: cfg.Wrap})
}

func buildJMESPath(_ *BuildContext, cfg config.FinalizerConfig) (pipeline.Finalizer, error) {
	return jmespath.New(jmespath.Config{
		Expression:      cfg.Expression,
		WrapCollections: cfg.Options["wrap_collections"] == "true",
	})
}
