package api

import (
	"time"
)

// Domain partitions the candidate registry by purpose. The five built-in
// domains cover the surfaces the runtime manages; custom domains are
// permitted anywhere a Domain is accepted.
type Domain string

const (
	DomainAdapter  Domain = "adapter"
	DomainService  Domain = "service"
	DomainTask     Domain = "task"
	DomainEvent    Domain = "event"
	DomainWorkflow Domain = "workflow"
)

// Domains returns the built-in domains in their canonical order.
func Domains() []Domain {
	return []Domain{DomainAdapter, DomainService, DomainTask, DomainEvent, DomainWorkflow}
}

// LifecycleState represents the state of a (domain, key) binding.
type LifecycleState string

const (
	StateInactive   LifecycleState = "inactive"
	StateActivating LifecycleState = "activating"
	StateReady      LifecycleState = "ready"
	StateFailed     LifecycleState = "failed"
)

// Source labels identify where a candidate registration came from.
const (
	SourceLocal  = "local"
	SourceRemote = "remote"
	SourcePlugin = "plugin"
)

// StackEntry assigns a numeric priority to a registration source label.
// Higher priority wins during resolution (tier 2 of the precedence order).
type StackEntry struct {
	Source   string `yaml:"source" json:"source"`
	Priority int    `yaml:"priority" json:"priority"`
}

// Environment carries the process-wide policy values that would otherwise
// live in global state: stack ordering, trusted signing keys, the factory
// allowlist and the working directories. It is constructed once from
// Settings and passed explicitly to component constructors.
type Environment struct {
	// ConfigDir is the directory holding config.yaml and selections/.
	ConfigDir string

	// CacheDir is the directory for persisted state and cached artifacts.
	CacheDir string

	// StackOrder maps source labels to inferred priorities.
	StackOrder []StackEntry

	// TrustedPublicKeys holds base64-encoded Ed25519 public keys accepted
	// for manifest signature verification.
	TrustedPublicKeys []string

	// FactoryAllowlist holds glob or regex patterns a factory reference
	// must match before the lifecycle manager will instantiate it.
	FactoryAllowlist []string
}

// StackPriority returns the inferred priority for a source label and
// whether the label appears in the stack order at all.
func (e *Environment) StackPriority(source string) (int, bool) {
	for _, entry := range e.StackOrder {
		if entry.Source == source {
			return entry.Priority, true
		}
	}
	return 0, false
}

// Handle is the value a domain bridge returns from Use: the activated
// instance together with everything a caller needs to audit the decision.
type Handle struct {
	Domain   Domain                 `json:"domain"`
	Key      string                 `json:"key"`
	Provider string                 `json:"provider"`
	Instance interface{}            `json:"-"`
	Settings interface{}            `json:"-"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// ActivityState is the per-(domain, key) operator-controlled activity
// record consulted before swaps are applied.
type ActivityState struct {
	Domain    Domain    `json:"domain"`
	Key       string    `json:"key"`
	Paused    bool      `json:"paused"`
	Draining  bool      `json:"draining"`
	Note      string    `json:"note,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ActivityDecision is the outcome of an activity check before a swap.
type ActivityDecision int

const (
	// ActivityAccept means the swap may proceed.
	ActivityAccept ActivityDecision = iota
	// ActivityReject means the target is paused; the swap is skipped.
	ActivityReject
	// ActivityDefer means the target is draining; retry after a delay.
	ActivityDefer
)

func (d ActivityDecision) String() string {
	switch d {
	case ActivityAccept:
		return "accept"
	case ActivityReject:
		return "reject"
	case ActivityDefer:
		return "defer"
	default:
		return "unknown"
	}
}
