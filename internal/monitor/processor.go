// Package monitor runs the per-account relay pipeline: it owns account
// configuration, identity initialization, webhook registration, and the
// per-update processing flow.
package monitor

import (
	"context"

	"github.com/tgrelay/tgrelay/internal/relay"
	"github.com/tgrelay/tgrelay/pkg/message"
)

// DeliverFunc forwards an outbound message through the account's relay
// endpoint and reports per-payload outcomes.
type DeliverFunc func(ctx context.Context, out message.OutboundMessage) []relay.Result

// Processor consumes admitted inbound messages. Implementations reply by
// calling deliver, zero or more times.
type Processor interface {
	Process(ctx context.Context, msg *message.InboundMessage, deliver DeliverFunc) error
}

// ProcessorFunc adapts a function to the Processor interface.
type ProcessorFunc func(ctx context.Context, msg *message.InboundMessage, deliver DeliverFunc) error

func (f ProcessorFunc) Process(ctx context.Context, msg *message.InboundMessage, deliver DeliverFunc) error {
	return f(ctx, msg, deliver)
}
