package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Category selects the TTL and tier policy applied to an entry.
type Category string

const (
	CategoryExternalAPI  Category = "external_api"
	CategorySearch       Category = "search"
	CategoryAnalysis     Category = "analysis"
	CategoryVerification Category = "verification"
	CategoryMetadata     Category = "metadata"
)

type categoryPolicy struct {
	prefix string
	ttl    time.Duration
	// l1Eligible controls whether entries may live in the in-process
	// tier. Verification results are durable-tier only.
	l1Eligible bool
}

var policies = map[Category]categoryPolicy{
	CategoryExternalAPI:  {prefix: "extapi:", ttl: time.Hour, l1Eligible: true},
	CategorySearch:       {prefix: "search:", ttl: 30 * time.Minute, l1Eligible: true},
	CategoryAnalysis:     {prefix: "analysis:", ttl: 10 * time.Minute, l1Eligible: true},
	CategoryVerification: {prefix: "verify:", ttl: 24 * time.Hour, l1Eligible: false},
	CategoryMetadata:     {prefix: "meta:", ttl: 2 * time.Hour, l1Eligible: true},
}

// Categories returns every known category.
func Categories() []Category {
	return []Category{
		CategoryExternalAPI,
		CategorySearch,
		CategoryAnalysis,
		CategoryVerification,
		CategoryMetadata,
	}
}

func policyFor(category Category) (categoryPolicy, bool) {
	policy, ok := policies[category]
	return policy, ok
}

// entryKey derives the storage key: category prefix plus a stable hash of
// the logical identifier, so every process maps the same identifier to
// the same key.
func entryKey(policy categoryPolicy, identifier string) string {
	sum := sha256.Sum256([]byte(identifier))
	return policy.prefix + hex.EncodeToString(sum[:])
}
