package registry

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"oneiric/internal/api"
	"oneiric/pkg/logging"
)

// Scoring tiers, in the order they are consulted. Each tier is reached
// only when every previous tier ties.
const (
	TierOverride          = "override"
	TierInferredPriority  = "inferred_priority"
	TierStackLevel        = "stack_level"
	TierRegistrationOrder = "registration_order"
)

// Explanation is one element of an explain trace: a contending candidate,
// whether it won, and the tier on which it lost against the winner.
type Explanation struct {
	Candidate *Candidate `json:"candidate"`
	Selected  bool       `json:"selected"`
	LostOn    string     `json:"lostOn,omitempty"`
}

// Registry stores candidates and maintains the active/shadowed partition
// for every (domain, key) pair. All operations share a single mutex;
// recomputation is atomic with registration so readers never observe the
// indices disagreeing with the candidate map.
type Registry struct {
	mu sync.Mutex

	env        *api.Environment
	candidates map[string]*Candidate // identity -> candidate
	active     map[pairKey]*Candidate
	shadowed   map[pairKey][]*Candidate
	seq        uint64
}

// New creates an empty registry using the given environment for inferred
// stack priorities.
func New(env *api.Environment) *Registry {
	if env == nil {
		env = &api.Environment{}
	}
	return &Registry{
		env:        env,
		candidates: make(map[string]*Candidate),
		active:     make(map[pairKey]*Candidate),
		shadowed:   make(map[pairKey][]*Candidate),
	}
}

// Register inserts a candidate, assigns its sequence number and recomputes
// the active/shadowed partition for the affected (domain, key). A
// candidate with an already-registered identity replaces the earlier
// registration and keeps the later sequence number.
func (r *Registry) Register(c Candidate) (*Candidate, error) {
	if c.Domain == "" || c.Key == "" || c.Provider == "" {
		return nil, fmt.Errorf("candidate requires domain, key and provider (got %q/%q@%q)", c.Domain, c.Key, c.Provider)
	}
	if c.Source == "" {
		c.Source = api.SourceLocal
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	c.Seq = r.seq
	if c.RegisteredAt.IsZero() {
		c.RegisteredAt = time.Now()
	}
	stored := c
	if prev, exists := r.candidates[stored.Identity()]; exists {
		logging.Debug("Registry", "Replacing candidate %s (seq %d -> %d)", prev.Identity(), prev.Seq, stored.Seq)
	}
	r.candidates[stored.Identity()] = &stored
	r.recomputeLocked(pairKey{domain: stored.Domain, key: stored.Key})
	return &stored, nil
}

// Resolve returns the active candidate for (domain, key), or, when an
// override provider is named, the registered candidate with that provider.
// An unknown (domain, key) yields (nil, false), not an error.
func (r *Registry) Resolve(domain api.Domain, key, override string) (*Candidate, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if override != "" {
		c, ok := r.candidates[(&Candidate{Domain: domain, Key: key, Provider: override}).Identity()]
		return c, ok
	}
	c, ok := r.active[pairKey{domain: domain, key: key}]
	return c, ok
}

// ListActive returns the active candidates, optionally filtered to one
// domain. Ordering is stable by (domain, key).
func (r *Registry) ListActive(domain api.Domain) []*Candidate {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*Candidate
	for pk, c := range r.active {
		if domain != "" && pk.domain != domain {
			continue
		}
		out = append(out, c)
	}
	sortByPair(out)
	return out
}

// ListShadowed returns the shadowed candidates, optionally filtered to one
// domain.
func (r *Registry) ListShadowed(domain api.Domain) []*Candidate {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*Candidate
	for pk, list := range r.shadowed {
		if domain != "" && pk.domain != domain {
			continue
		}
		out = append(out, list...)
	}
	sortByPair(out)
	return out
}

// Explain scores every contender for (domain, key) and returns them in
// ranking order. The winner is always the first element and carries
// Selected=true; every other element records the tier on which it lost.
func (r *Registry) Explain(domain api.Domain, key, override string) []Explanation {
	r.mu.Lock()
	defer r.mu.Unlock()

	contenders := r.contendersLocked(pairKey{domain: domain, key: key})
	if len(contenders) == 0 {
		return nil
	}
	r.rankLocked(contenders, override)

	winner := contenders[0]
	out := make([]Explanation, 0, len(contenders))
	for i, c := range contenders {
		e := Explanation{Candidate: c, Selected: i == 0}
		if i > 0 {
			e.LostOn = r.losingTierLocked(c, winner, override)
		}
		out = append(out, e)
	}
	return out
}

// Len reports the number of registered candidates.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.candidates)
}

// contendersLocked collects all candidates for a pair. Callers hold r.mu.
func (r *Registry) contendersLocked(pk pairKey) []*Candidate {
	var out []*Candidate
	for _, c := range r.candidates {
		if c.Domain == pk.domain && c.Key == pk.key {
			out = append(out, c)
		}
	}
	return out
}

// recomputeLocked rebuilds the active/shadowed partition for one pair.
// Callers hold r.mu.
func (r *Registry) recomputeLocked(pk pairKey) {
	contenders := r.contendersLocked(pk)
	if len(contenders) == 0 {
		delete(r.active, pk)
		delete(r.shadowed, pk)
		return
	}
	r.rankLocked(contenders, "")
	r.active[pk] = contenders[0]
	if len(contenders) > 1 {
		r.shadowed[pk] = contenders[1:]
	} else {
		delete(r.shadowed, pk)
	}
}

// rankLocked sorts contenders best-first under the 4-tier precedence
// ordering. Callers hold r.mu.
func (r *Registry) rankLocked(contenders []*Candidate, override string) {
	sort.SliceStable(contenders, func(i, j int) bool {
		return r.compareLocked(contenders[i], contenders[j], override) > 0
	})
}

// compareLocked returns >0 when a outranks b, <0 when b outranks a. The
// tiers are consulted strictly in order; sequence numbers are unique so
// the comparison never ties. Callers hold r.mu.
func (r *Registry) compareLocked(a, b *Candidate, override string) int {
	if override != "" {
		aOver, bOver := a.Provider == override, b.Provider == override
		if aOver != bOver {
			if aOver {
				return 1
			}
			return -1
		}
	}
	aPrio := r.inferredPriorityLocked(a)
	bPrio := r.inferredPriorityLocked(b)
	if aPrio != bPrio {
		return aPrio - bPrio
	}
	if a.StackLevel != b.StackLevel {
		return a.StackLevel - b.StackLevel
	}
	if a.Seq > b.Seq {
		return 1
	}
	return -1
}

// losingTierLocked names the first tier on which loser compares below
// winner. Callers hold r.mu.
func (r *Registry) losingTierLocked(loser, winner *Candidate, override string) string {
	if override != "" && winner.Provider == override && loser.Provider != override {
		return TierOverride
	}
	if r.inferredPriorityLocked(loser) != r.inferredPriorityLocked(winner) {
		return TierInferredPriority
	}
	if loser.StackLevel != winner.StackLevel {
		return TierStackLevel
	}
	return TierRegistrationOrder
}

// inferredPriorityLocked returns the stack-order priority for a source
// label, 0 when the label is not listed. Callers hold r.mu.
func (r *Registry) inferredPriorityLocked(c *Candidate) int {
	prio, ok := r.env.StackPriority(c.Source)
	if !ok {
		return 0
	}
	return prio
}

func sortByPair(cs []*Candidate) {
	sort.Slice(cs, func(i, j int) bool {
		if cs[i].Domain != cs[j].Domain {
			return cs[i].Domain < cs[j].Domain
		}
		if cs[i].Key != cs[j].Key {
			return cs[i].Key < cs[j].Key
		}
		return cs[i].Provider < cs[j].Provider
	})
}
