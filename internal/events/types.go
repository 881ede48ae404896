package events

import (
	"time"

	"oneiric/internal/api"
)

// Class represents the severity of an event.
type Class string

const (
	// ClassNormal indicates normal, non-problematic events.
	ClassNormal Class = "Normal"

	// ClassWarning indicates events that may require attention.
	ClassWarning Class = "Warning"
)

// Reason represents the reason code for an event.
type Reason string

// Registration events
const (
	// ReasonCandidateRegistered indicates a candidate was added to the registry.
	ReasonCandidateRegistered Reason = "CandidateRegistered"

	// ReasonCandidateReplaced indicates a re-registration replaced an earlier candidate.
	ReasonCandidateReplaced Reason = "CandidateReplaced"
)

// Lifecycle events
const (
	// ReasonSwapStarted indicates activation of a new provider began.
	ReasonSwapStarted Reason = "SwapStarted"

	// ReasonSwapSucceeded indicates the new instance is bound and ready.
	ReasonSwapSucceeded Reason = "SwapSucceeded"

	// ReasonSwapFailed indicates activation failed and the previous binding was kept.
	ReasonSwapFailed Reason = "SwapFailed"

	// ReasonHealthCheckFailed indicates a new instance failed its health probe.
	ReasonHealthCheckFailed Reason = "HealthCheckFailed"

	// ReasonCleanupFailed indicates cleanup of a replaced instance failed.
	ReasonCleanupFailed Reason = "CleanupFailed"

	// ReasonStatusLoadFailed indicates persisted lifecycle status could not be read.
	ReasonStatusLoadFailed Reason = "StatusLoadFailed"
)

// Remote pipeline events
const (
	// ReasonRemoteSyncSucceeded indicates a manifest sync registered its entries.
	ReasonRemoteSyncSucceeded Reason = "RemoteSyncSucceeded"

	// ReasonRemoteSyncFailed indicates a manifest sync failed.
	ReasonRemoteSyncFailed Reason = "RemoteSyncFailed"

	// ReasonRemoteBreakerOpen indicates the remote circuit breaker short-circuited a sync.
	ReasonRemoteBreakerOpen Reason = "RemoteBreakerOpen"

	// ReasonArtifactDigestMismatch indicates a fetched artifact did not match its digest.
	ReasonArtifactDigestMismatch Reason = "ArtifactDigestMismatch"

	// ReasonManifestEntrySkipped indicates an invalid manifest entry was skipped.
	ReasonManifestEntrySkipped Reason = "ManifestEntrySkipped"
)

// Watcher and activity events
const (
	// ReasonSwapSkippedPaused indicates a selection change was skipped because the target is paused.
	ReasonSwapSkippedPaused Reason = "SwapSkippedPaused"

	// ReasonSwapDeferredDraining indicates a selection change was deferred because the target is draining.
	ReasonSwapDeferredDraining Reason = "SwapDeferredDraining"

	// ReasonActivityChanged indicates an operator changed pause/drain state.
	ReasonActivityChanged Reason = "ActivityChanged"

	// ReasonWatcherStarted indicates a selection watcher started.
	ReasonWatcherStarted Reason = "WatcherStarted"

	// ReasonWatcherStopped indicates a selection watcher stopped.
	ReasonWatcherStopped Reason = "WatcherStopped"

	// ReasonWatcherSwapFailed indicates a watcher-triggered swap failed.
	ReasonWatcherSwapFailed Reason = "WatcherSwapFailed"
)

// Orchestrator events
const (
	// ReasonRuntimeStarted indicates the orchestrator started.
	ReasonRuntimeStarted Reason = "RuntimeStarted"

	// ReasonRuntimeStopped indicates the orchestrator stopped.
	ReasonRuntimeStopped Reason = "RuntimeStopped"
)

// Event is the structured record emitted for every decision the core
// makes: registrations, swaps, vetoes, syncs, failures.
type Event struct {
	Reason    Reason                 `json:"reason"`
	Class     Class                  `json:"class"`
	Domain    api.Domain             `json:"domain,omitempty"`
	Key       string                 `json:"key,omitempty"`
	Provider  string                 `json:"provider,omitempty"`
	Message   string                 `json:"message,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// classFor returns the appropriate Class for a given Reason.
func classFor(reason Reason) Class {
	switch reason {
	case ReasonSwapFailed,
		ReasonHealthCheckFailed,
		ReasonCleanupFailed,
		ReasonStatusLoadFailed,
		ReasonRemoteSyncFailed,
		ReasonRemoteBreakerOpen,
		ReasonArtifactDigestMismatch,
		ReasonManifestEntrySkipped,
		ReasonSwapSkippedPaused,
		ReasonSwapDeferredDraining,
		ReasonWatcherSwapFailed:
		return ClassWarning
	default:
		return ClassNormal
	}
}
