package access

import (
	"context"
	"log/slog"

	"github.com/tgrelay/tgrelay/pkg/message"
)

// Action is the outcome of resolving a message against an account's
// policies.
type Action string

const (
	// ActionAllow lets the message continue through the pipeline.
	ActionAllow Action = "allow"
	// ActionReject drops the message silently. Rejections are policy
	// decisions, not faults: the sender gets no response.
	ActionReject Action = "reject"
	// ActionPairRequest drops the message but asks the caller to start
	// the pairing flow for the sender.
	ActionPairRequest Action = "pair_request"
)

// Decision is the result of Resolver.Resolve. Entry carries the resolved
// group configuration for group messages so the caller can apply
// per-group mention gating without resolving twice.
type Decision struct {
	Action Action
	Reason string
	Entry  *GroupEntry
}

func allow(entry *GroupEntry) Decision {
	return Decision{Action: ActionAllow, Entry: entry}
}

func reject(reason string) Decision {
	return Decision{Action: ActionReject, Reason: reason}
}

// PairedLookup is the subset of the pairing store the resolver needs: the
// identifiers of senders approved for a channel.
type PairedLookup interface {
	AllowEntries(ctx context.Context, channel string) ([]string, error)
}

// Config holds one account's access policies.
type Config struct {
	DMPolicy        DMPolicy
	DMAllow         []string
	GroupPolicy     GroupPolicy
	Groups          map[string]*GroupEntry
	GroupAllowUsers []string
}

// Resolver evaluates inbound messages against one account's policies.
type Resolver struct {
	cfg     Config
	channel string
	pairing PairedLookup
	logger  *slog.Logger
}

// NewResolver creates a Resolver. pairing may be nil when the account
// never uses the pairing policy; channel keys the pairing store lookups.
func NewResolver(cfg Config, channel string, pairing PairedLookup, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{cfg: cfg, channel: channel, pairing: pairing, logger: logger}
}

// Resolve decides whether msg may be processed. Group decisions carry the
// resolved GroupEntry; mention gating is the caller's next step and is
// not evaluated here.
func (r *Resolver) Resolve(ctx context.Context, msg *message.InboundMessage) Decision {
	if msg.IsGroup() {
		return r.resolveGroup(msg)
	}
	return r.resolveDM(ctx, msg)
}

func (r *Resolver) resolveDM(ctx context.Context, msg *message.InboundMessage) Decision {
	switch r.cfg.DMPolicy {
	case DMDisabled:
		return reject("dm policy disabled")
	case DMOpen:
		// Open intentionally admits bot-authored senders too.
		return allow(nil)
	}

	if msg.Sender.IsBot {
		return reject("bot sender")
	}

	set := r.effectiveAllowSet(ctx)
	if set.Contains(msg.Sender.ID, msg.Sender.Username) {
		return allow(nil)
	}

	if r.cfg.DMPolicy == DMPairing {
		return Decision{Action: ActionPairRequest, Reason: "sender not paired"}
	}
	return reject("sender not on allowlist")
}

// effectiveAllowSet merges the configured DM allowlist with the pairing
// store's approved senders. The store is only consulted here, never on
// the open or disabled paths. A store failure degrades to the configured
// list alone.
func (r *Resolver) effectiveAllowSet(ctx context.Context) AllowSet {
	if r.pairing == nil {
		return NewAllowSet(r.cfg.DMAllow)
	}
	paired, err := r.pairing.AllowEntries(ctx, r.channel)
	if err != nil {
		r.logger.Warn("pairing store lookup failed", "channel", r.channel, "error", err)
		return NewAllowSet(r.cfg.DMAllow)
	}
	return NewAllowSet(r.cfg.DMAllow, paired)
}

func (r *Resolver) resolveGroup(msg *message.InboundMessage) Decision {
	if r.cfg.GroupPolicy == GroupDisabled {
		return reject("group policy disabled")
	}

	if msg.Sender.IsBot {
		return reject("bot sender")
	}

	entry := ResolveGroupEntry(r.cfg.Groups, msg.Chat.ID, msg.Chat.Title)

	if r.cfg.GroupPolicy == GroupAllowlist {
		// Fail closed: no configuration means no group is allowed.
		if len(r.cfg.Groups) == 0 {
			return reject("no groups configured")
		}
		if entry == nil {
			return reject("group not on allowlist")
		}
	}

	if entry != nil {
		if !entry.enabled() {
			return reject("group disabled")
		}
		if !entry.allowed() {
			return reject("group not allowed")
		}
	}

	// Per-entry user allowlist, falling back to the account-level one.
	// Identity checks run before mention gating on purpose: they are
	// cheaper than entity scanning.
	users := r.cfg.GroupAllowUsers
	if entry != nil && len(entry.AllowUsers) > 0 {
		users = entry.AllowUsers
	}
	if len(users) > 0 {
		if !NewAllowSet(users).Contains(msg.Sender.ID, msg.Sender.Username) {
			return reject("sender not on group allowlist")
		}
	}

	return allow(entry)
}
