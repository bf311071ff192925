// Package metrics exposes the Prometheus and pprof listeners plus the
// service's own instrumentation counters.
package metrics

import (
	"context"
	"net/http"

	"github.com/obytehq/walletsrv/pkg/config"
	"go.uber.org/zap"
)

// Service serves metrics over one or more configured listeners.
type Service struct {
	servers     []*http.Server
	config      config.BasicService
	log         *zap.Logger
	serviceType string
}

// NewService configures logger and returns new service instance.
func NewService(name string, servers []*http.Server, cfg config.BasicService, log *zap.Logger) *Service {
	return &Service{
		servers:     servers,
		config:      cfg,
		log:         log.With(zap.String("service", name)),
		serviceType: name,
	}
}

// Start runs the HTTP listeners on the configured addresses.
func (ms *Service) Start() {
	if ms == nil {
		return
	}
	if !ms.config.Enabled {
		ms.log.Info("service hasn't started since it's disabled")
		return
	}
	for _, srv := range ms.servers {
		srv := srv
		ms.log.Info("service is running", zap.String("endpoint", srv.Addr))
		go func() {
			err := srv.ListenAndServe()
			if err != nil && err != http.ErrServerClosed {
				ms.log.Error("failed to start service", zap.String("endpoint", srv.Addr), zap.Error(err))
			}
		}()
	}
}

// ShutDown stops the service.
func (ms *Service) ShutDown() {
	if ms == nil || !ms.config.Enabled {
		return
	}
	for _, srv := range ms.servers {
		ms.log.Info("shutting down service", zap.String("endpoint", srv.Addr))
		if err := srv.Shutdown(context.Background()); err != nil {
			ms.log.Error("can't shut service down", zap.Error(err))
		}
	}
}
