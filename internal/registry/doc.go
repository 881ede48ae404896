// Package registry stores provider candidates and resolves which one
// serves each (domain, key) pair.
//
// # Candidates
//
// A candidate offers one provider for one key within one domain. It
// carries the factory reference that builds its instances, an optional
// in-process health probe, and the precedence inputs: source label,
// stack level and the registration sequence number assigned at insert.
//
// # Resolution
//
// Resolution is deterministic and proceeds tier by tier:
//
//  1. Override: an explicitly named provider wins outright when present.
//  2. Source priority: the configured stack order assigns priorities to
//     source labels; a higher priority wins. Sources without a configured
//     priority lose to sources with one.
//  3. Stack level: the candidate's own numeric precedence, higher wins.
//  4. Registration order: the later registration (larger sequence) wins.
//
// The active/shadowed partition is recomputed atomically with every
// registration and unregistration, so readers never observe the indices
// disagreeing with the candidate map.
//
// # Explain
//
// Explain returns the full trace of a resolution: every contender in
// rank order, the winner marked, and for each loser the first tier where
// it fell behind the winner. The trace is what 'oneiric explain' renders.
package registry
