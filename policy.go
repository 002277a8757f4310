package ratelimit

import (
	"strings"
	"time"
)

// Policy is an immutable (permit limit, window size) pair for one endpoint
// category.
type Policy struct {
	// PermitLimit is the number of requests allowed per window.
	PermitLimit int

	// WindowSeconds is the trailing window length in seconds.
	WindowSeconds int
}

// Window returns the window size as a Duration.
func (p Policy) Window() time.Duration {
	return time.Duration(p.WindowSeconds) * time.Second
}

// Endpoint category prefixes. All routes under a prefix share one policy
// and one bucket per caller.
const (
	CategoryAuth        = "/api/v1/auth"
	CategoryAIFeatures  = "/api/v1/aifeatures"
	CategoryTransaction = "/api/v1/transaction"
)

// Resolver maps request paths to policies using an ordered list of
// case-insensitive prefix rules with a default fallback. Construct with
// NewResolver; the zero value has no rules and no fallback.
type Resolver struct {
	rules    []rule
	fallback Policy
}

type rule struct {
	prefix string
	policy Policy
}

// NewResolver builds a Resolver from explicit configuration. Specific
// categories are tested before the global default falls through.
func NewResolver(cfg PolicyConfig) *Resolver {
	return &Resolver{
		rules: []rule{
			{prefix: CategoryAuth, policy: cfg.Auth},
			{prefix: CategoryAIFeatures, policy: cfg.AIFeatures},
			{prefix: CategoryTransaction, policy: cfg.Transaction},
		},
		fallback: cfg.Global,
	}
}

// Resolve returns the policy for a request path. A path matching no rule
// gets the global default; this is never an error.
func (r *Resolver) Resolve(path string) Policy {
	for _, ru := range r.rules {
		if hasPrefixFold(path, ru.prefix) {
			return ru.policy
		}
	}
	return r.fallback
}

// Category normalizes a path to its endpoint category, collapsing e.g.
// /api/v1/transaction/123 and /api/v1/transaction to one bucket. Paths
// outside every category keep their own path.
func (r *Resolver) Category(path string) string {
	for _, ru := range r.rules {
		if hasPrefixFold(path, ru.prefix) {
			return ru.prefix
		}
	}
	return path
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}
