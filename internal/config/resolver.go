package config

import (
	"maps"
	"slices"
)

// Resolve flattens the modules section into the load order: IDs sorted
// lexically. That order is load-bearing for service wiring — gateway.http
// sorts before relay.accounts, so the webhook registry exists by the
// time accounts register their targets.
func Resolve(cfg *Config) []string {
	return slices.Sorted(maps.Keys(cfg.Modules))
}
