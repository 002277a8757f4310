package ratelimit

import (
	"fmt"
	"os"
	"strconv"
)

// PolicyConfig holds the per-category rate limit policies. Values are
// injected explicitly into NewResolver; there is no ambient global state.
type PolicyConfig struct {
	// Global is the catch-all policy for uncategorized endpoints.
	Global Policy

	// Auth covers login/register endpoints. Kept strict for brute-force
	// resistance.
	Auth Policy

	// Transaction covers the CRUD endpoints.
	Transaction Policy

	// AIFeatures covers endpoints that call paid external APIs.
	AIFeatures Policy
}

// DefaultPolicyConfig returns the stock policy set.
func DefaultPolicyConfig() PolicyConfig {
	return PolicyConfig{
		Global:      Policy{PermitLimit: 100, WindowSeconds: 60},
		Auth:        Policy{PermitLimit: 5, WindowSeconds: 900},
		Transaction: Policy{PermitLimit: 50, WindowSeconds: 60},
		AIFeatures:  Policy{PermitLimit: 10, WindowSeconds: 300},
	}
}

// PolicyConfigFromEnv loads policies from environment variables, falling
// back to DefaultPolicyConfig for anything unset.
//
// Environment variables (all integers):
//   - RATE_LIMIT_GLOBAL_PERMIT, RATE_LIMIT_GLOBAL_WINDOW
//   - RATE_LIMIT_AUTH_PERMIT, RATE_LIMIT_AUTH_WINDOW
//   - RATE_LIMIT_TRANSACTION_PERMIT, RATE_LIMIT_TRANSACTION_WINDOW
//   - RATE_LIMIT_AI_PERMIT, RATE_LIMIT_AI_WINDOW
//
// Windows are in seconds.
func PolicyConfigFromEnv() PolicyConfig {
	cfg := DefaultPolicyConfig()
	loadPolicyEnv(&cfg.Global, "RATE_LIMIT_GLOBAL")
	loadPolicyEnv(&cfg.Auth, "RATE_LIMIT_AUTH")
	loadPolicyEnv(&cfg.Transaction, "RATE_LIMIT_TRANSACTION")
	loadPolicyEnv(&cfg.AIFeatures, "RATE_LIMIT_AI")
	return cfg
}

// Validate checks that every policy has a positive limit and window.
func (c PolicyConfig) Validate() error {
	for _, p := range []struct {
		name string
		pol  Policy
	}{
		{"global", c.Global},
		{"auth", c.Auth},
		{"transaction", c.Transaction},
		{"aifeatures", c.AIFeatures},
	} {
		if p.pol.PermitLimit <= 0 || p.pol.WindowSeconds <= 0 {
			return fmt.Errorf("ratelimit: %s policy: permit limit and window must be positive", p.name)
		}
	}
	return nil
}

func loadPolicyEnv(p *Policy, prefix string) {
	if v := getEnvInt(prefix + "_PERMIT"); v > 0 {
		p.PermitLimit = v
	}
	if v := getEnvInt(prefix + "_WINDOW"); v > 0 {
		p.WindowSeconds = v
	}
}

func getEnvInt(name string) int {
	raw := os.Getenv(name)
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return n
}
