// Package echo provides a trivial processor that mirrors inbound text
// back to the chat. Useful for verifying end-to-end relay wiring.
package echo

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tgrelay/tgrelay/internal/core"
	"github.com/tgrelay/tgrelay/internal/monitor"
	"github.com/tgrelay/tgrelay/pkg/message"
	"gopkg.in/yaml.v3"
)

func init() {
	core.RegisterModule(&Module{})
}

var (
	_ core.Configurable = (*Module)(nil)
	_ core.Provisioner  = (*Module)(nil)
	_ monitor.Processor = (*Module)(nil)
)

// Config holds echo processor configuration.
type Config struct {
	// Prefix is prepended to every reply. Defaults to "echo: ".
	Prefix string `yaml:"prefix"`
}

// Module echoes inbound messages back through the relay.
type Module struct {
	config Config
	logger *slog.Logger
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "processor.echo",
		New: func() core.Module { return &Module{} },
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	if err := node.Decode(&m.config); err != nil {
		return fmt.Errorf("echo: decode config: %w", err)
	}
	return nil
}

// Provision implements core.Provisioner.
func (m *Module) Provision(ctx *core.AppContext) error {
	if m.config.Prefix == "" {
		m.config.Prefix = "echo: "
	}
	m.logger = ctx.Logger
	ctx.RegisterService("relay.processor", m)
	return nil
}

// Process implements monitor.Processor.
func (m *Module) Process(ctx context.Context, msg *message.InboundMessage, deliver monitor.DeliverFunc) error {
	text := strings.TrimSpace(msg.TextContent())
	if text == "" {
		m.logger.Debug("no text to echo", "account", msg.AccountID, "chat", msg.Chat.ID)
		return nil
	}

	out := message.NewTextMessage(msg.Chat, m.config.Prefix+text)
	out.ReplyToID = msg.ID

	results := deliver(ctx, out)
	for _, res := range results {
		if res.Error != "" {
			return fmt.Errorf("echo: delivery failed: %s", res.Error)
		}
	}
	return nil
}
