package cmd

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"oneiric/internal/orchestrator"

	"github.com/spf13/cobra"
)

// serveManifestURL overrides the manifest URL from config.yaml.
var serveManifestURL string

// serveRefreshInterval overrides the manifest refresh cadence. Zero
// disables the refresh loop; the seed sync still runs.
var serveRefreshInterval time.Duration

// newServeCmd creates the command that runs the full runtime until
// interrupted.
func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the runtime with watchers and the manifest refresh loop",
		Long: `Starts the full runtime: the shared registry and lifecycle manager, one
selection watcher per domain, and (when a manifest URL is configured) the
remote refresh loop. Runs until SIGINT or SIGTERM.

Runtime health is written to runtime_health.json in the cache directory
while the process runs; 'oneiric status' reads it back.`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
	cmd.Flags().StringVar(&serveManifestURL, "manifest-url", "", "remote manifest URL (overrides config)")
	cmd.Flags().DurationVar(&serveRefreshInterval, "refresh-interval", 0, "manifest refresh interval (overrides config)")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadSettings()
	if err != nil {
		return err
	}

	manifestURL := serveManifestURL
	if manifestURL == "" {
		manifestURL = cfg.Remote.URL
	}
	refreshInterval := serveRefreshInterval
	if refreshInterval == 0 {
		refreshInterval = cfg.Remote.RefreshInterval
	}

	o, err := orchestrator.New(cfg, nil)
	if err != nil {
		return fmt.Errorf("initializing runtime: %w", err)
	}
	defer o.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(cmd.OutOrStdout(), "oneiric %s running (run %s), press Ctrl+C to stop\n", GetVersion(), o.RunID())
	return o.Run(ctx, manifestURL, refreshInterval)
}
