package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wudi/prefixgate/internal/config"
	"github.com/wudi/prefixgate/internal/listener"
	"github.com/wudi/prefixgate/internal/logging"
	"github.com/wudi/prefixgate/internal/router"
)

const (
	mainListenerID  = "gateway"
	adminListenerID = "admin"
)

// Server wraps the gateway with its HTTP listeners
type Server struct {
	gateway *Gateway
	config  *config.Config
	manager *listener.Manager
	main    *listener.HTTPListener
	admin   *listener.HTTPListener
	started time.Time

	shutdownOnce sync.Once
	shutdownErr  error
}

// NewServer builds the gateway and its listeners. reg may be nil.
func NewServer(cfg *config.Config, reg *Registry) (*Server, error) {
	gw, err := New(cfg, reg)
	if err != nil {
		return nil, err
	}

	s := &Server{
		gateway: gw,
		config:  cfg,
		manager: listener.NewManager(),
	}

	lc := cfg.Listener
	s.main, err = listener.NewHTTPListener(listener.HTTPListenerConfig{
		ID:                mainListenerID,
		Address:           lc.Address,
		Handler:           gw.Handler(),
		ReadTimeout:       lc.ReadTimeout,
		WriteTimeout:      lc.WriteTimeout,
		IdleTimeout:       lc.IdleTimeout,
		MaxHeaderBytes:    lc.MaxHeaderBytes,
		ReadHeaderTimeout: lc.ReadHeaderTimeout,
	})
	if err != nil {
		gw.Close()
		return nil, err
	}
	if err := s.manager.Add(s.main); err != nil {
		gw.Close()
		return nil, err
	}

	if cfg.Admin.Enabled {
		s.admin, err = listener.NewHTTPListener(listener.HTTPListenerConfig{
			ID:           adminListenerID,
			Address:      cfg.Admin.Address,
			Handler:      s.adminHandler(),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		})
		if err != nil {
			gw.Close()
			return nil, err
		}
		if err := s.manager.Add(s.admin); err != nil {
			gw.Close()
			return nil, err
		}
	}

	return s, nil
}

// Start binds all listeners without blocking
func (s *Server) Start(ctx context.Context) error {
	if err := s.manager.StartAll(ctx); err != nil {
		return err
	}
	s.started = time.Now()
	return nil
}

// Run starts the listeners, waits until the gateway answers its health
// check, and serves until ctx is cancelled or a component fails. It then
// shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		s.gateway.Close()
		return err
	}

	healthURL := "http://" + s.main.Addr() + router.HealthPath
	if err := listener.WaitReady(ctx, healthURL, 5*time.Second); err != nil {
		s.Shutdown(s.config.Listener.ShutdownTimeout)
		return err
	}
	logging.Info("gateway ready",
		zap.String("address", s.main.Addr()),
		zap.Int("routes", len(s.gateway.Router().GetRoutes())),
	)

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error { return s.gateway.Run(ctx) })
	eg.Go(func() error { return s.main.Wait() })
	if s.admin != nil {
		eg.Go(func() error { return s.admin.Wait() })
	}
	eg.Go(func() error {
		<-ctx.Done()
		logging.Info("shutting down gracefully")
		return s.Shutdown(s.config.Listener.ShutdownTimeout)
	})

	return eg.Wait()
}

// Shutdown gracefully stops the listeners and releases shared clients.
// Later calls return the result of the first.
func (s *Server) Shutdown(timeout time.Duration) error {
	s.shutdownOnce.Do(func() {
		s.shutdownErr = s.shutdown(timeout)
	})
	return s.shutdownErr
}

func (s *Server) shutdown(timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var firstErr error
	if err := s.manager.StopAll(ctx); err != nil {
		logging.Error("listener shutdown error", zap.Error(err))
		firstErr = fmt.Errorf("stopping listeners: %w", err)
	}
	if err := s.gateway.Close(); err != nil {
		logging.Error("gateway close error", zap.Error(err))
		if firstErr == nil {
			firstErr = err
		}
	}

	logging.Info("server shutdown complete")
	return firstErr
}

// Gateway returns the underlying gateway
func (s *Server) Gateway() *Gateway {
	return s.gateway
}

// Addr returns the bound gateway address
func (s *Server) Addr() string {
	return s.main.Addr()
}

// AdminAddr returns the bound admin address, or "" when the admin API is off
func (s *Server) AdminAddr() string {
	if s.admin == nil {
		return ""
	}
	return s.admin.Addr()
}
