// Package gateway provides the HTTP front door: webhook ingestion,
// health, status and metrics endpoints.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/tgrelay/tgrelay/internal/core"
	"github.com/tgrelay/tgrelay/internal/monitor"
	"github.com/tgrelay/tgrelay/internal/rpc"
	"github.com/tgrelay/tgrelay/internal/webhook"
	"gopkg.in/yaml.v3"
)

func init() {
	core.RegisterModule(&Module{})
}

// Compile-time interface guards.
var (
	_ core.Configurable = (*Module)(nil)
	_ core.Provisioner  = (*Module)(nil)
	_ core.Starter      = (*Module)(nil)
	_ core.Stopper      = (*Module)(nil)
)

// statusSource supplies per-account relay status for the status endpoint.
type statusSource interface {
	Snapshot() []monitor.Status
}

// prober checks outbound reachability for every account.
type prober interface {
	ProbeAll(ctx context.Context) []rpc.ProbeResult
}

// Module is the HTTP gateway module.
type Module struct {
	config   Config
	logger   *slog.Logger
	appCtx   *core.AppContext
	registry *webhook.Registry

	status  statusSource
	prober  prober
	server  *http.Server
	cron    *cron.Cron
	started time.Time
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "gateway.http",
		New: func() core.Module { return &Module{} },
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	if err := node.Decode(&m.config); err != nil {
		return fmt.Errorf("gateway: decode config: %w", err)
	}
	return nil
}

// Provision implements core.Provisioner. The webhook registry is created
// here and published so account modules can register their targets before
// the listener opens.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.config.defaults()
	m.logger = ctx.Logger
	m.appCtx = ctx

	m.registry = webhook.NewRegistry(ctx.Logger)
	ctx.RegisterService("webhook.registry", m.registry)

	if m.config.Auth.IsConfigured() {
		m.logger.Info("status endpoint auth enabled")
	} else {
		m.logger.Warn("status endpoint has no auth configured")
	}
	return nil
}

// Start implements core.Starter. Status and prober services come from
// modules that provision after the gateway, so they resolve here rather
// than in Provision.
func (m *Module) Start() error {
	if svc, ok := m.appCtx.Service("relay.status"); ok {
		if src, ok := svc.(statusSource); ok {
			m.status = src
		}
	}
	if svc, ok := m.appCtx.Service("relay.prober"); ok {
		if p, ok := svc.(prober); ok {
			m.prober = p
		}
	}

	lc := net.ListenConfig{}
	listener, err := lc.Listen(context.Background(), "tcp", m.config.Bind)
	if err != nil {
		return fmt.Errorf("gateway: listen on %s: %w", m.config.Bind, err)
	}

	m.started = time.Now()
	m.server = &http.Server{
		Handler:      m.buildRouter(),
		ReadTimeout:  m.config.ReadTimeout,
		WriteTimeout: m.config.WriteTimeout,
	}

	go func() {
		if err := m.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Error("gateway server error", "error", err)
		}
	}()

	if m.config.Probe.Enabled {
		if err := m.startProbeJob(); err != nil {
			return err
		}
	}

	m.logger.Info("gateway listening", "bind", m.config.Bind)
	return nil
}

// Stop implements core.Stopper.
func (m *Module) Stop(ctx context.Context) error {
	if m.cron != nil {
		m.cron.Stop()
	}
	if m.server == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, m.config.ShutdownTimeout)
	defer cancel()
	if err := m.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("gateway: shutdown: %w", err)
	}
	m.logger.Info("gateway stopped")
	return nil
}

// Registry returns the webhook registry owned by the gateway.
func (m *Module) Registry() *webhook.Registry {
	return m.registry
}
