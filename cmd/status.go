package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"oneiric/internal/lifecycle"
	"oneiric/internal/orchestrator"
	"oneiric/internal/remote"

	"github.com/spf13/cobra"
)

// newStatusCmd creates the command that reports the persisted runtime
// state: lifecycle bindings, the last manifest sync, and the health
// snapshot written by a running 'oneiric serve'.
func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show persisted lifecycle, sync and runtime health state",
		Args:  cobra.NoArgs,
		RunE:  runStatus,
	}
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadSettings()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	snapshot, err := orchestrator.LoadHealthSnapshot(cfg.CacheDir)
	if err != nil {
		return fmt.Errorf("reading health snapshot: %w", err)
	}
	if snapshot == nil {
		fmt.Fprintln(out, "Runtime: never started")
	} else {
		state := "stopped"
		if snapshot.WatchersRunning {
			state = "running"
		}
		fmt.Fprintf(out, "Runtime: %s (run %s, updated %s)\n", state, snapshot.RunID, snapshot.UpdatedAt.Format(time.RFC3339))
		for _, activity := range snapshot.Activity {
			flags := ""
			if activity.Paused {
				flags = "paused"
			}
			if activity.Draining {
				if flags != "" {
					flags += ", "
				}
				flags += "draining"
			}
			if flags == "" {
				continue
			}
			fmt.Fprintf(out, "  %s/%s: %s (%s)\n", activity.Domain, activity.Key, flags, activity.Note)
		}
	}

	remoteStatus, err := remote.LoadStatus(cfg.CacheDir)
	if err != nil {
		return fmt.Errorf("reading remote status: %w", err)
	}
	switch {
	case remoteStatus == nil:
		fmt.Fprintln(out, "Remote:  never synced")
	case remoteStatus.LastError != "":
		fmt.Fprintf(out, "Remote:  %s failed at %s: %s\n", remoteStatus.URL, remoteStatus.SyncedAt.Format(time.RFC3339), remoteStatus.LastError)
	default:
		fmt.Fprintf(out, "Remote:  %s synced at %s (%d registered, %d skipped)\n",
			remoteStatus.URL, remoteStatus.SyncedAt.Format(time.RFC3339), remoteStatus.Registered, remoteStatus.Skipped)
	}

	statuses := lifecycle.LoadStatuses(cfg.CacheDir)
	if len(statuses) == 0 {
		fmt.Fprintln(out, "Bindings: none")
		return nil
	}
	fmt.Fprintln(out, "Bindings:")
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "  DOMAIN/KEY\tSTATE\tPROVIDER\tP50\tP99\tLAST ERROR")
	for _, status := range statuses {
		p50, _, p99 := status.Percentiles()
		fmt.Fprintf(w, "  %s/%s\t%s\t%s\t%.0fms\t%.0fms\t%s\n",
			status.Domain, status.Key, status.State, status.CurrentProvider, p50, p99, status.LastError)
	}
	return w.Flush()
}
