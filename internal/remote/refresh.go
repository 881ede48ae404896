package remote

import (
	"context"
	"time"

	"oneiric/pkg/logging"
)

// RunRefreshLoop repeats Sync every interval until the context is
// cancelled. Syncs run one at a time; ticks arriving while a sync is in
// flight coalesce into at most one pending tick. Sync errors are reported
// through onResult and logged; they never stop the loop, so a flaky
// manifest server recovers without operator intervention.
//
// onResult is invoked after every completed iteration with the result or
// error; a nil onResult is permitted.
func (l *Loader) RunRefreshLoop(ctx context.Context, url string, interval time.Duration, onResult func(*SyncResult, error)) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logging.Info("Remote", "Refresh loop started for %s (every %s)", url, interval)
	defer logging.Info("Remote", "Refresh loop stopped for %s", url)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		result, err := l.Sync(ctx, url)
		if err != nil && ctx.Err() != nil {
			return
		}
		if err != nil {
			logging.Warn("Remote", "Refresh sync failed: %v", err)
		}
		if onResult != nil {
			onResult(result, err)
		}
	}
}
