package registry

import (
	"context"
	"fmt"
	"time"

	"oneiric/internal/api"
)

// HealthFunc is an optional health probe attached to an in-process
// candidate registration. It receives the live instance and returns nil
// when healthy.
type HealthFunc func(ctx context.Context, instance interface{}) error

// Candidate is a registered implementation for a (domain, key) pair,
// distinguished by provider. Candidates are immutable after registration;
// replacing one means registering a new candidate with the same identity.
type Candidate struct {
	Domain   api.Domain `json:"domain"`
	Key      string     `json:"key"`
	Provider string     `json:"provider"`

	// Factory names the entry in the factory dispatch table that builds
	// instances of this candidate.
	Factory string `json:"factory"`

	// StackLevel is the numeric precedence carried by the candidate;
	// higher wins (tier 3).
	StackLevel int `json:"stackLevel"`

	// Priority is the tie-breaker within a stack level. It participates
	// in explain metadata only; ordering between equal stack levels falls
	// through to registration order.
	Priority int `json:"priority"`

	// Seq is the globally unique registration sequence number, assigned
	// at insertion (tier 4, larger wins).
	Seq uint64 `json:"seq"`

	// Source labels where the registration came from (local, remote,
	// plugin, ...). Consulted for inferred priority (tier 2).
	Source string `json:"source"`

	Version  string                 `json:"version,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// Health is an optional in-process health probe. Manifest-derived
	// candidates rely on instance capability interfaces instead.
	Health HealthFunc `json:"-"`

	RegisteredAt time.Time `json:"registeredAt"`
}

// Identity returns the (domain, key, provider) triple as a single string.
func (c *Candidate) Identity() string {
	return fmt.Sprintf("%s/%s@%s", c.Domain, c.Key, c.Provider)
}

// pairKey identifies a (domain, key) pair inside the registry indices.
type pairKey struct {
	domain api.Domain
	key    string
}

func (p pairKey) String() string {
	return fmt.Sprintf("%s/%s", p.domain, p.key)
}
