package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/tgrelay/tgrelay/internal/core"
	"github.com/tgrelay/tgrelay/internal/pairing"
	"github.com/tgrelay/tgrelay/internal/relay"
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
	_ core.Validator    = (*Module)(nil)
	_ core.Starter      = (*Module)(nil)
	_ core.Stopper      = (*Module)(nil)
)

// Module wires configured accounts into the webhook registry and runs
// their update pipelines.
type Module struct {
	config   Config
	logger   *slog.Logger
	registry *webhook.Registry
	status   *StatusSink
	accounts []*Account

	unregister []func()
	initCtx    context.Context
	initCancel context.CancelFunc
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "relay.accounts",
		New: func() core.Module { return &Module{} },
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	if err := node.Decode(&m.config); err != nil {
		return fmt.Errorf("monitor: decode config: %w", err)
	}
	return nil
}

// Provision implements core.Provisioner. Collaborators come from the
// service registry: the webhook registry and processor are required, the
// pairing store is optional (accounts without a pairing policy never
// need it).
func (m *Module) Provision(ctx *core.AppContext) error {
	m.logger = ctx.Logger

	if err := m.config.validate(); err != nil {
		return err
	}

	svc, ok := ctx.Service("webhook.registry")
	if !ok {
		return fmt.Errorf("monitor: webhook.registry service not available (is gateway.http configured?)")
	}
	registry, ok := svc.(*webhook.Registry)
	if !ok {
		return fmt.Errorf("monitor: webhook.registry service has unexpected type %T", svc)
	}
	m.registry = registry

	svc, ok = ctx.Service("relay.processor")
	if !ok {
		return fmt.Errorf("monitor: relay.processor service not available (configure a processor module)")
	}
	processor, ok := svc.(Processor)
	if !ok {
		return fmt.Errorf("monitor: relay.processor service has unexpected type %T", svc)
	}

	var store pairing.Store
	if svc, ok := ctx.Service("pairing.store"); ok {
		if typed, ok := svc.(pairing.Store); ok {
			store = typed
		}
	}

	m.status = NewStatusSink()
	client := &http.Client{Timeout: 30 * time.Second}

	deps := accountDeps{
		processor:    processor,
		pairingStore: store,
		sender:       relay.NewSender(client, ctx.Logger),
		status:       m.status,
		client:       client,
		logger:       ctx.Logger,
	}

	for _, accCfg := range m.config.Accounts {
		if !accCfg.enabled() {
			m.logger.Info("account disabled, skipping", "account", accCfg.ID)
			continue
		}
		acc, err := newAccount(accCfg, m.config.Defaults, deps)
		if err != nil {
			return err
		}
		m.status.Track(acc.ID, acc.BotName, acc.WebhookPath)
		m.accounts = append(m.accounts, acc)
	}

	ctx.RegisterService("relay.status", m.status)
	ctx.RegisterService("relay.prober", m)

	m.logger.Info("accounts provisioned", "count", len(m.accounts))
	return nil
}

// Validate implements core.Validator.
func (m *Module) Validate() error {
	if len(m.accounts) == 0 {
		return fmt.Errorf("monitor: no enabled accounts")
	}
	return nil
}

// Start implements core.Starter. Each account resolves its identity
// (retrying transient failures) and only then becomes routable. An
// exhausted identity init aborts startup.
func (m *Module) Start() error {
	m.initCtx, m.initCancel = context.WithCancel(context.Background())

	for _, acc := range m.accounts {
		if err := acc.InitIdentity(m.initCtx); err != nil {
			return err
		}
		m.status.Track(acc.ID, acc.BotName, acc.WebhookPath)
		m.unregister = append(m.unregister, m.registry.Register(acc.Target()))
		m.logger.Info("account started", "account", acc.ID, "path", acc.WebhookPath, "bot", acc.BotName)
	}
	return nil
}

// Stop implements core.Stopper. It aborts any in-flight identity retry
// sleep and withdraws the webhook registrations.
func (m *Module) Stop(_ context.Context) error {
	if m.initCancel != nil {
		m.initCancel()
	}
	for _, unreg := range m.unregister {
		unreg()
	}
	m.unregister = nil
	m.logger.Info("accounts stopped")
	return nil
}

// Accounts returns the enabled accounts.
func (m *Module) Accounts() []*Account {
	return m.accounts
}

// Account returns the account with the given id, or nil.
func (m *Module) Account(id string) *Account {
	for _, acc := range m.accounts {
		if acc.ID == id {
			return acc
		}
	}
	return nil
}

// ProbeAll checks every account's endpoint reachability and records the
// results in the status sink.
func (m *Module) ProbeAll(ctx context.Context) []rpc.ProbeResult {
	results := make([]rpc.ProbeResult, 0, len(m.accounts))
	for _, acc := range m.accounts {
		results = append(results, acc.Probe(ctx))
	}
	return results
}
