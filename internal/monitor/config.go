package monitor

import (
	"fmt"
	"time"

	"github.com/tgrelay/tgrelay/internal/access"
	"github.com/tgrelay/tgrelay/internal/relay"
)

// Settings is the overridable part of an account's configuration. It
// appears twice in the module config: once under defaults and once per
// account, with per-account values winning field by field.
type Settings struct {
	WebhookPath      string                        `yaml:"webhook_path"`
	Secret           string                        `yaml:"secret"`
	OutboundURL      string                        `yaml:"outbound_url"`
	Headers          map[string]string             `yaml:"headers"`
	BotName          string                        `yaml:"bot_name"`
	DMPolicy         string                        `yaml:"dm_policy"`
	DMAllow          []string                      `yaml:"dm_allow"`
	GroupPolicy      string                        `yaml:"group_policy"`
	Groups           map[string]*access.GroupEntry `yaml:"groups"`
	GroupAllowUsers  []string                      `yaml:"group_allow_users"`
	CommandAllow     []string                      `yaml:"command_allow"`
	MaxMessageLength int                           `yaml:"max_message_length"`
	MaxMediaBytes    int64                         `yaml:"max_media_bytes"`
	RPC              *RPCSettings                  `yaml:"rpc"`
}

// RPCSettings configures the optional RPC transformer path.
type RPCSettings struct {
	URL     string            `yaml:"url"`
	Timeout time.Duration     `yaml:"timeout"`
	Exclude []string          `yaml:"exclude"`
	Headers map[string]string `yaml:"headers"`
}

// AccountConfig is one account section.
type AccountConfig struct {
	ID       string `yaml:"id"`
	Enabled  *bool  `yaml:"enabled"`
	Settings `yaml:",inline"`
}

func (a *AccountConfig) enabled() bool {
	return a.Enabled == nil || *a.Enabled
}

// Config is the relay.accounts module configuration.
type Config struct {
	Defaults Settings        `yaml:"defaults"`
	Accounts []AccountConfig `yaml:"accounts"`
}

func (c *Config) validate() error {
	if len(c.Accounts) == 0 {
		return fmt.Errorf("monitor: at least one account is required")
	}
	seen := make(map[string]struct{}, len(c.Accounts))
	for i, acc := range c.Accounts {
		if acc.ID == "" {
			return fmt.Errorf("monitor: account %d has no id", i)
		}
		if _, dup := seen[acc.ID]; dup {
			return fmt.Errorf("monitor: duplicate account id %q", acc.ID)
		}
		seen[acc.ID] = struct{}{}
	}
	return nil
}

// ResolveEndpoint returns the merged relay endpoint for one account.
// Offline tools use it to deliver notifications without building the
// whole module.
func (c *Config) ResolveEndpoint(accountID string) (relay.Endpoint, error) {
	for _, acc := range c.Accounts {
		if acc.ID != accountID {
			continue
		}
		s := mergeSettings(c.Defaults, acc.Settings)
		return relay.Endpoint{
			URL:              s.OutboundURL,
			Headers:          s.Headers,
			MaxMessageLength: s.MaxMessageLength,
		}, nil
	}
	return relay.Endpoint{}, fmt.Errorf("monitor: unknown account %q", accountID)
}

// mergeSettings overlays per-account values on the defaults. Scalars are
// replaced when set; maps are merged key-wise with the account value
// winning; slices are replaced wholesale when the account declares them.
func mergeSettings(base, over Settings) Settings {
	out := base

	if over.WebhookPath != "" {
		out.WebhookPath = over.WebhookPath
	}
	if over.Secret != "" {
		out.Secret = over.Secret
	}
	if over.OutboundURL != "" {
		out.OutboundURL = over.OutboundURL
	}
	if over.BotName != "" {
		out.BotName = over.BotName
	}
	if over.DMPolicy != "" {
		out.DMPolicy = over.DMPolicy
	}
	if over.DMAllow != nil {
		out.DMAllow = over.DMAllow
	}
	if over.GroupPolicy != "" {
		out.GroupPolicy = over.GroupPolicy
	}
	if over.GroupAllowUsers != nil {
		out.GroupAllowUsers = over.GroupAllowUsers
	}
	if over.CommandAllow != nil {
		out.CommandAllow = over.CommandAllow
	}
	if over.MaxMessageLength != 0 {
		out.MaxMessageLength = over.MaxMessageLength
	}
	if over.MaxMediaBytes != 0 {
		out.MaxMediaBytes = over.MaxMediaBytes
	}

	out.Headers = mergeStringMap(base.Headers, over.Headers)
	out.Groups = mergeGroupMap(base.Groups, over.Groups)

	if over.RPC != nil {
		merged := *over.RPC
		if base.RPC != nil {
			if merged.URL == "" {
				merged.URL = base.RPC.URL
			}
			if merged.Timeout == 0 {
				merged.Timeout = base.RPC.Timeout
			}
			if merged.Exclude == nil {
				merged.Exclude = base.RPC.Exclude
			}
			merged.Headers = mergeStringMap(base.RPC.Headers, merged.Headers)
		}
		out.RPC = &merged
	}

	return out
}

func mergeStringMap(base, over map[string]string) map[string]string {
	if len(base) == 0 && len(over) == 0 {
		return nil
	}
	out := make(map[string]string, len(base)+len(over))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range over {
		out[k] = v
	}
	return out
}

func mergeGroupMap(base, over map[string]*access.GroupEntry) map[string]*access.GroupEntry {
	if len(base) == 0 && len(over) == 0 {
		return nil
	}
	out := make(map[string]*access.GroupEntry, len(base)+len(over))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range over {
		out[k] = v
	}
	return out
}
