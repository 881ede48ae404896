// Package remote syncs candidate registrations from a remote manifest.
//
// A sync fetches the manifest over HTTP with retries behind a circuit
// breaker, validates and signature-checks it, then registers each entry
// with the shared registry under the remote source label. Entries fail
// individually: a bad artifact or registration skips that entry and the
// rest of the manifest still lands.
//
// Artifacts referenced by entries are cached under artifacts/ in the
// cache directory, keyed by their SHA-256 digest. A digest mismatch
// rejects the entry; a cache hit skips the download entirely.
//
// The telemetry of the most recent sync attempt is persisted to
// remote_status.json. RunRefreshLoop repeats the sync on a fixed
// interval until its context is cancelled, treating failures as
// transient.
package remote
