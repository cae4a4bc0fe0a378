package monitor

import (
	"context"
	"fmt"
	"strings"

	"github.com/tgrelay/tgrelay/internal/access"
	"github.com/tgrelay/tgrelay/internal/pairing"
	"github.com/tgrelay/tgrelay/internal/relay"
	"github.com/tgrelay/tgrelay/internal/telegram"
	"github.com/tgrelay/tgrelay/pkg/message"
)

// HandleUpdate processes one verified webhook update. It runs on its own
// goroutine; the HTTP response is long gone, so every outcome here is
// reported via logs, status, and metrics only.
func (a *Account) HandleUpdate(ctx context.Context, update *telegram.Update) {
	a.status.RecordUpdate(a.ID)
	updatesReceived.WithLabelValues(a.ID).Inc()

	msg, err := telegram.Normalize(update, a.BotName, a.ID)
	if err != nil {
		a.logger.Debug("update skipped", "error", err)
		a.rejected("unparseable")
		return
	}

	decision := a.resolver.Resolve(ctx, &msg)
	switch decision.Action {
	case access.ActionReject:
		// Silent by design: the sender sees nothing.
		a.logger.Debug("update rejected",
			"reason", decision.Reason,
			"chat", msg.Chat.ID,
			"sender", msg.Sender.ID,
		)
		a.rejected(decision.Reason)
		return
	case access.ActionPairRequest:
		a.handlePairing(ctx, &msg)
		return
	}

	if msg.IsGroup() {
		result := access.EvaluateMention(access.MentionInput{
			RequireMention: decision.Entry != nil && decision.Entry.RequireMention,
			WasMentioned:   msg.Mentions != nil && msg.Mentions.IsMentioned,
			HasAnyMention:  msg.Mentions != nil && msg.Mentions.HasAny,
			HasCommand:     strings.HasPrefix(strings.TrimSpace(msg.TextContent()), "/"),
			Authorized:     a.commandAllow.Contains(msg.Sender.ID, msg.Sender.Username),
		})
		if result.ShouldSkip {
			a.logger.Debug("update skipped by mention gate", "chat", msg.Chat.ID)
			a.rejected("not mentioned")
			return
		}
		msg.WasMentioned = result.EffectiveWasMentioned
	} else {
		// Direct messages always address the bot.
		msg.WasMentioned = true
	}

	a.status.RecordAccepted(a.ID)

	if err := a.processor.Process(ctx, &msg, a.deliver); err != nil {
		a.logger.Error("processing failed", "update", msg.ID, "error", err)
		a.status.RecordError(a.ID, err)
	}
}

func (a *Account) rejected(reason string) {
	a.status.RecordRejected(a.ID)
	updatesRejected.WithLabelValues(a.ID, reason).Inc()
}

// deliver forwards a reply and records per-payload outcomes. With a
// transformer configured every payload travels as a platform-API call
// through it; otherwise payloads are posted straight to the relay
// endpoint.
func (a *Account) deliver(ctx context.Context, out message.OutboundMessage) []relay.Result {
	var results []relay.Result
	if a.transformer != nil {
		results = a.sender.SendVia(ctx, a.apiCall, a.Endpoint.MaxMessageLength, out)
	} else {
		results = a.sender.Send(ctx, a.Endpoint, out)
	}
	for _, r := range results {
		if r.OK {
			deliveries.WithLabelValues(a.ID, "ok").Inc()
		} else {
			deliveries.WithLabelValues(a.ID, "failed").Inc()
			a.status.RecordError(a.ID, fmt.Errorf("delivery: %s", r.Error))
		}
	}
	return results
}

// handlePairing runs the pairing flow for an unpaired DM sender. The
// code reply is sent only when a new request was created; resends stay
// silent because the store already holds an outstanding code.
func (a *Account) handlePairing(ctx context.Context, msg *message.InboundMessage) {
	a.rejected("pairing required")

	if a.pairingStore == nil {
		a.logger.Warn("pairing policy active but no pairing store available")
		return
	}

	code, created, err := a.pairingStore.Request(ctx, pairing.Request{
		Channel:    a.ID,
		ExternalID: msg.Sender.ID,
		ChatID:     msg.Chat.ID,
		Username:   msg.Sender.Username,
	})
	if err != nil {
		a.logger.Warn("pairing request failed", "sender", msg.Sender.ID, "error", err)
		a.status.RecordError(a.ID, err)
		return
	}
	if !created {
		a.logger.Debug("pairing code already outstanding", "sender", msg.Sender.ID)
		return
	}

	a.logger.Info("pairing code issued", "sender", msg.Sender.ID, "chat", msg.Chat.ID)

	text := fmt.Sprintf("Pairing code: %s\n\nAsk an operator to approve it with: tgrelay pairing approve %s", code, code)
	if res := a.sendText(ctx, msg.Chat.ID, text); !res.OK {
		a.logger.Warn("pairing code delivery failed", "chat", msg.Chat.ID, "error", res.Error)
	}
}

// PairedNotification is the message sent to a chat once its pairing
// request has been approved. The CLI sends the same text when approving
// offline.
const PairedNotification = "Pairing approved. You can start chatting now."

// NotifyPaired tells a freshly approved chat that pairing succeeded.
func (a *Account) NotifyPaired(ctx context.Context, chatID string) relay.Result {
	return a.sendText(ctx, chatID, PairedNotification)
}

// sendText delivers a single text reply through whichever delivery
// strategy the account is configured with.
func (a *Account) sendText(ctx context.Context, chatID, text string) relay.Result {
	out := message.NewTextMessage(message.Chat{ID: chatID}, text)
	results := a.deliver(ctx, out)
	if len(results) == 0 {
		return relay.Result{Error: "nothing to send"}
	}
	return results[0]
}
