// Package access decides whether an inbound message is processed. It
// covers per-account DM and group policies, allowlist matching, group
// configuration resolution, and mention gating.
package access

import "fmt"

// DMPolicy controls who may talk to an account in direct messages.
type DMPolicy string

const (
	// DMOpen accepts every sender, including bot-authored messages.
	DMOpen DMPolicy = "open"
	// DMAllowlist accepts only senders on the effective allow set.
	DMAllowlist DMPolicy = "allowlist"
	// DMPairing accepts paired senders and issues a pairing code to others.
	DMPairing DMPolicy = "pairing"
	// DMDisabled rejects all direct messages.
	DMDisabled DMPolicy = "disabled"
)

// ParseDMPolicy validates a policy string from configuration.
// The empty string defaults to pairing, the safest interactive mode.
func ParseDMPolicy(s string) (DMPolicy, error) {
	switch DMPolicy(s) {
	case DMOpen, DMAllowlist, DMPairing, DMDisabled:
		return DMPolicy(s), nil
	case "":
		return DMPairing, nil
	default:
		return "", fmt.Errorf("access: unknown dm policy %q", s)
	}
}

// GroupPolicy controls which group chats an account listens in.
type GroupPolicy string

const (
	// GroupOpen accepts messages from any group.
	GroupOpen GroupPolicy = "open"
	// GroupAllowlist accepts only groups with a matching configuration
	// entry. No entries configured means every group is rejected.
	GroupAllowlist GroupPolicy = "allowlist"
	// GroupDisabled rejects all group messages.
	GroupDisabled GroupPolicy = "disabled"
)

// ParseGroupPolicy validates a policy string from configuration.
// The empty string defaults to allowlist, which rejects until groups are
// explicitly configured.
func ParseGroupPolicy(s string) (GroupPolicy, error) {
	switch GroupPolicy(s) {
	case GroupOpen, GroupAllowlist, GroupDisabled:
		return GroupPolicy(s), nil
	case "":
		return GroupAllowlist, nil
	default:
		return "", fmt.Errorf("access: unknown group policy %q", s)
	}
}
