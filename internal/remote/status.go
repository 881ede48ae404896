package remote

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	"oneiric/pkg/logging"
)

// StatusFileName is the remote sync telemetry file under the cache
// directory.
const StatusFileName = "remote_status.json"

// SyncResult summarizes one manifest sync.
type SyncResult struct {
	// Source is the manifest's self-declared source label.
	Source string `json:"source"`
	URL    string `json:"url"`

	// Registered counts entries registered as candidates; Skipped counts
	// entries rejected individually (bad artifact, registration failure).
	Registered int            `json:"registered"`
	Skipped    int            `json:"skipped"`
	PerDomain  map[string]int `json:"per_domain"`

	// Digests tallies artifact digest outcomes: cached, match, mismatch.
	Digests map[string]int `json:"digest_outcomes"`

	DurationMS int64 `json:"duration_ms"`
}

// Status is the persisted telemetry of the most recent sync attempt.
type Status struct {
	URL        string         `json:"url"`
	SyncedAt   time.Time      `json:"synced_at"`
	DurationMS int64          `json:"duration_ms"`
	Registered int            `json:"registered"`
	Skipped    int            `json:"skipped"`
	PerDomain  map[string]int `json:"per_domain,omitempty"`
	LastError  string         `json:"last_error,omitempty"`
}

// persistStatus writes the sync telemetry via temp-file-then-rename. A
// persistence failure is logged, never surfaced: telemetry must not fail
// a sync.
func (l *Loader) persistStatus(status *Status) {
	path := filepath.Join(l.cacheDir, StatusFileName)
	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		logging.Error("Remote", err, "Could not marshal sync status")
		return
	}
	if err := os.MkdirAll(l.cacheDir, 0o755); err != nil {
		logging.Error("Remote", err, "Could not create cache directory for sync status")
		return
	}
	tmp, err := os.CreateTemp(l.cacheDir, ".remote_status-*.tmp")
	if err != nil {
		logging.Error("Remote", err, "Could not create temp sync status file")
		return
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		logging.Error("Remote", err, "Could not write sync status")
		return
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		logging.Error("Remote", err, "Could not close sync status file")
		return
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		logging.Error("Remote", err, "Could not place sync status file")
	}
}

// LoadStatus reads the persisted sync telemetry. A missing file yields
// (nil, nil).
func LoadStatus(cacheDir string) (*Status, error) {
	data, err := os.ReadFile(filepath.Join(cacheDir, StatusFileName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var status Status
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, err
	}
	return &status, nil
}
