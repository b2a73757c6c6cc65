package ratelimit

import (
	"sort"
	"time"
)

// Named admission policies shared across the service. Other subsystems
// bind to these by name, so the values are part of the contract.
const (
	PolicyStrict   = "STRICT"
	PolicyModerate = "MODERATE"
	PolicyGenerous = "GENEROUS"
	PolicyAuth     = "AUTH"
	PolicyUpload   = "UPLOAD"
)

var policies = map[string]Config{
	PolicyStrict:   {Window: 15 * time.Minute, MaxRequests: 100, Strategy: SlidingWindow},
	PolicyModerate: {Window: 15 * time.Minute, MaxRequests: 500, Strategy: FixedWindow},
	PolicyGenerous: {Window: 15 * time.Minute, MaxRequests: 1000, Strategy: TokenBucket, BurstLimit: 50, RefillRate: 10},
	PolicyAuth:     {Window: 15 * time.Minute, MaxRequests: 5, Strategy: FixedWindow},
	PolicyUpload:   {Window: 60 * time.Minute, MaxRequests: 10, Strategy: TokenBucket, BurstLimit: 3, RefillRate: 10.0 / 3600},
}

// Policy returns the named preset.
func Policy(name string) (Config, bool) {
	c, ok := policies[name]
	return c, ok
}

// Policies returns a copy of the preset table, so callers can attach
// custom key functions without touching the shared values.
func Policies() map[string]Config {
	out := make(map[string]Config, len(policies))
	for name, c := range policies {
		out[name] = c
	}
	return out
}

// PolicyNames lists the registered presets in stable order.
func PolicyNames() []string {
	names := make([]string, 0, len(policies))
	for name := range policies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
