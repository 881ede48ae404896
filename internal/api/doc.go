// Package api holds the shared vocabulary of the runtime: domains,
// lifecycle states, activity records, handles, the environment passed to
// component constructors, and the structured error types every layer
// agrees on.
//
// Errors carry machine-readable classification (not-found, lifecycle
// reason codes, remote sync sub-codes, path traversal, forbidden
// factory, config) so callers branch on type, not on message text. The
// Is* helpers unwrap through fmt.Errorf chains.
package api
