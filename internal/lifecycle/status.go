package lifecycle

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"oneiric/internal/api"
	"oneiric/pkg/logging"
)

// maxDurationSamples bounds the per-pair swap duration history used for
// percentile reporting.
const maxDurationSamples = 50

// StatusFileName is the lifecycle status file under the cache directory.
const StatusFileName = "lifecycle_status.json"

// Status is the persisted lifecycle record for one (domain, key) binding.
type Status struct {
	Domain           api.Domain     `json:"domain"`
	Key              string         `json:"key"`
	State            api.LifecycleState `json:"state"`
	CurrentProvider  string         `json:"current_provider,omitempty"`
	PreviousProvider string         `json:"previous_provider,omitempty"`
	LastSuccessAt    *time.Time     `json:"last_success_at,omitempty"`
	LastFailureAt    *time.Time     `json:"last_failure_at,omitempty"`
	LastError        string         `json:"last_error,omitempty"`

	// RecentDurations holds the latest swap durations in milliseconds,
	// newest last, bounded at maxDurationSamples.
	RecentDurations []float64 `json:"recent_durations,omitempty"`
}

// appendDuration records a swap duration sample, evicting the oldest when
// the ring is full.
func (s *Status) appendDuration(d time.Duration) {
	s.RecentDurations = append(s.RecentDurations, float64(d.Milliseconds()))
	if len(s.RecentDurations) > maxDurationSamples {
		s.RecentDurations = s.RecentDurations[len(s.RecentDurations)-maxDurationSamples:]
	}
}

// Percentiles returns the p50/p95/p99 of the recent duration samples in
// milliseconds. Zeroes when no samples exist.
func (s *Status) Percentiles() (p50, p95, p99 float64) {
	if len(s.RecentDurations) == 0 {
		return 0, 0, 0
	}
	sorted := make([]float64, len(s.RecentDurations))
	copy(sorted, s.RecentDurations)
	sort.Float64s(sorted)
	at := func(q float64) float64 {
		idx := int(q * float64(len(sorted)-1))
		return sorted[idx]
	}
	return at(0.50), at(0.95), at(0.99)
}

// LoadStatuses reads the persisted status table under cacheDir. Missing
// and corrupt files both yield an empty table.
func LoadStatuses(cacheDir string) []*Status {
	statuses, _ := loadStatusFile(filepath.Join(cacheDir, StatusFileName))
	return statuses
}

// saveStatusFile writes the full status table as a JSON list via a temp
// file renamed into place, so readers never observe a partial file.
func saveStatusFile(path string, statuses []*Status) error {
	sort.Slice(statuses, func(i, j int) bool {
		if statuses[i].Domain != statuses[j].Domain {
			return statuses[i].Domain < statuses[j].Domain
		}
		return statuses[i].Key < statuses[j].Key
	})
	data, err := json.MarshalIndent(statuses, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling lifecycle status: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating status directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".lifecycle_status-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp status file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing temp status file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp status file: %w", err)
	}
	return os.Rename(tmpName, path)
}

// loadStatusFile reads a persisted status table. A missing file yields an
// empty table; a corrupt file yields an empty table with a warning, so a
// damaged cache never blocks startup.
func loadStatusFile(path string) ([]*Status, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logging.Warn("Lifecycle", "Could not read status file %s: %v", path, err)
			return nil, false
		}
		return nil, true
	}
	var statuses []*Status
	if err := json.Unmarshal(data, &statuses); err != nil {
		logging.Warn("Lifecycle", "Status file %s is corrupt, starting empty: %v", path, err)
		return nil, false
	}
	return statuses, true
}
