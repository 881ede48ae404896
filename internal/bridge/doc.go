// Package bridge gives each domain a facade over the shared registry,
// lifecycle manager and activity store.
//
// All five bridges in a process share those collaborators; a bridge adds
// the domain label, the provider settings registry, and domain-scoped
// listings, explain traces and pause/drain controls.
//
// # Use
//
// Use is the hot path: it resolves the key's provider, reuses the
// existing binding when that provider is already bound and ready, and
// otherwise activates it. forceReload requests a fresh swap even for an
// unchanged provider, subject to the forceReloadSwaps policy.
//
// # Settings
//
// Providers may register a typed settings model. On activation the raw
// settings document stored for the (key, provider) is decoded into a
// fresh instance of the model and handed to the factory and the handle.
// Without a model the raw document passes through untouched.
//
// The event and workflow bridges extend the plain bridge with accessors
// that read routing rules and DAG definitions out of candidate metadata.
package bridge
