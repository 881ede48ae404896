// Package lifecycle activates resolved candidates and hot-swaps their
// live instances.
//
// # Swap Pipeline
//
// Activate and Swap share one pipeline per (domain, key) pair, serialized
// by a per-pair mutex so concurrent swaps of distinct pairs proceed in
// parallel:
//
//  1. Resolve the candidate (honoring an override).
//  2. Check the factory reference against the allowlist.
//  3. Run pre-swap hooks; a failure aborts before anything is built.
//  4. Build the new instance through the factory dispatch table, bounded
//     by the activation timeout.
//  5. Probe health: the candidate's HealthFunc when set, otherwise the
//     instance's HealthChecker interface, otherwise assumed healthy.
//     Force skips the probe.
//  6. Bind the new instance, remembering the previous one.
//  7. Clean up the replaced instance (Cleaner interface plus cleanup
//     hooks). Cleanup failures are reported as events, never as swap
//     failures.
//  8. Run post-swap hooks. A post-hook failure keeps the new binding and
//     surfaces as a hook_error.
//
// Any failure before bind leaves the previous binding untouched; callers
// keep a working instance while the pair reports StateFailed.
//
// # Status
//
// Every pair's outcome is persisted to lifecycle_status.json in the
// cache directory via temp-file-then-rename. The record keeps the
// current and previous provider, the last success and failure, and a
// bounded ring of recent swap durations for percentile reporting. A
// missing or corrupt file starts the table empty instead of blocking
// startup.
//
// Once a swap has started it runs to completion even when the caller's
// context is cancelled mid-flight; the cancellation is surfaced after
// the binding and its status are consistent.
package lifecycle
