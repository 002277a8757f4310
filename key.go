package ratelimit

// PartitionKey derives the stable string key for one rate limit bucket.
//
// Authenticated callers are partitioned by identity, everyone else by
// client address. The user/ip discriminator keeps the two namespaces from
// colliding even if an address string ever matched a user id.
//
//	PartitionKey("42", "", "/api/v1/transaction")  → "ratelimit:user:42:/api/v1/transaction"
//	PartitionKey("", "10.0.0.1", "/api/v1/auth")   → "ratelimit:ip:10.0.0.1:/api/v1/auth"
//
// An empty clientAddr collapses to "unknown" so requests from an
// indeterminate source share one bucket instead of bypassing limiting.
func PartitionKey(identity, clientAddr, category string) string {
	if identity != "" {
		return "ratelimit:user:" + identity + ":" + category
	}
	if clientAddr == "" {
		clientAddr = "unknown"
	}
	return "ratelimit:ip:" + clientAddr + ":" + category
}
