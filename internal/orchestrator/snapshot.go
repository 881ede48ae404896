package orchestrator

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"oneiric/internal/api"
	"oneiric/pkg/logging"
)

// HealthFileName is the runtime health snapshot file under the cache
// directory.
const HealthFileName = "runtime_health.json"

// SwapLatency carries the per-pair swap duration percentiles in
// milliseconds.
type SwapLatency struct {
	P50 float64 `json:"p50_ms"`
	P95 float64 `json:"p95_ms"`
	P99 float64 `json:"p99_ms"`
}

// HealthSnapshot is the orchestrator's periodically persisted view of the
// runtime: watcher liveness, remote sync telemetry, registration counts,
// operator activity and swap latencies.
type HealthSnapshot struct {
	RunID           string `json:"run_id"`
	WatchersRunning bool   `json:"watchers_running"`
	RemoteEnabled   bool   `json:"remote_enabled"`

	LastRemoteSyncAt     *time.Time `json:"last_remote_sync_at,omitempty"`
	LastRemoteError      string     `json:"last_remote_error,omitempty"`
	LastRemoteRegistered int        `json:"last_remote_registered"`

	// PerDomainCandidates counts registered candidates (active plus
	// shadowed) per domain.
	PerDomainCandidates map[string]int `json:"per_domain_candidates"`

	Activity []api.ActivityState `json:"activity,omitempty"`

	// SwapLatencies is keyed by "domain/key".
	SwapLatencies map[string]SwapLatency `json:"swap_latencies,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// writeSnapshotFile persists the snapshot via temp-file-then-rename. A
// write failure is logged, never surfaced: health reporting must not take
// down the runtime.
func writeSnapshotFile(cacheDir string, snapshot *HealthSnapshot) {
	path := filepath.Join(cacheDir, HealthFileName)
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		logging.Error("Orchestrator", err, "Could not marshal health snapshot")
		return
	}
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		logging.Error("Orchestrator", err, "Could not create cache directory for health snapshot")
		return
	}
	tmp, err := os.CreateTemp(cacheDir, ".runtime_health-*.tmp")
	if err != nil {
		logging.Error("Orchestrator", err, "Could not create temp health snapshot")
		return
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		logging.Error("Orchestrator", err, "Could not write health snapshot")
		return
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		logging.Error("Orchestrator", err, "Could not close health snapshot")
		return
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		logging.Error("Orchestrator", err, "Could not place health snapshot")
	}
}

// LoadHealthSnapshot reads the persisted snapshot. A missing file yields
// (nil, nil).
func LoadHealthSnapshot(cacheDir string) (*HealthSnapshot, error) {
	data, err := os.ReadFile(filepath.Join(cacheDir, HealthFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var snapshot HealthSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, err
	}
	return &snapshot, nil
}
