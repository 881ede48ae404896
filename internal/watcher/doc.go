// Package watcher applies selection documents to a domain bridge.
//
// A watcher polls its selection source on a fixed interval and, for
// file-backed sources, additionally wakes up on fsnotify events with a
// short debounce. Each pass compares every selected provider against the
// applied lifecycle state and swaps only the pairs that differ, so an
// unchanged selection file never causes churn.
//
// Before swapping, the watcher consults the activity store: a paused key
// is skipped, a draining key is deferred and retried after a delay.
// Swap failures are published as events and do not stop the pass; the
// remaining keys are still applied.
package watcher
