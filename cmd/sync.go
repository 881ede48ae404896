package cmd

import (
	"fmt"
	"sort"
	"time"

	"oneiric/internal/events"
	"oneiric/internal/manifest"
	"oneiric/internal/registry"
	"oneiric/internal/remote"

	"github.com/spf13/cobra"
)

// syncManifestURL overrides the manifest URL from config.yaml.
var syncManifestURL string

// newSyncCmd creates the command for a one-shot manifest sync.
func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Fetch the remote manifest once and report what it registers",
		Long: `Fetches the configured remote manifest, verifies its signature against
the trusted keys, registers its entries and caches any referenced
artifacts. The outcome is also persisted to remote_status.json in the
cache directory.`,
		Args: cobra.NoArgs,
		RunE: runSync,
	}
	cmd.Flags().StringVar(&syncManifestURL, "manifest-url", "", "remote manifest URL (overrides config)")
	return cmd
}

func runSync(cmd *cobra.Command, args []string) error {
	cfg, err := loadSettings()
	if err != nil {
		return err
	}
	url := syncManifestURL
	if url == "" {
		url = cfg.Remote.URL
	}
	if url == "" {
		return fmt.Errorf("no manifest URL configured; set remote.url or pass --manifest-url")
	}

	reg := registry.New(cfg.Environment())
	bus := events.NewBus(events.NewMetrics())
	trusted := manifest.ParseTrustedKeys(cfg.TrustedPublicKeys)
	loader := remote.NewLoader(reg, bus, cfg.Remote, cfg.CacheDir, trusted)

	started := time.Now()
	result, err := loader.Sync(cmd.Context(), url)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Synced %s from %s in %s\n", result.Source, result.URL, time.Since(started).Round(time.Millisecond))
	fmt.Fprintf(out, "  registered: %d, skipped: %d\n", result.Registered, result.Skipped)
	for _, domain := range sortedKeys(result.PerDomain) {
		fmt.Fprintf(out, "  %s: %d\n", domain, result.PerDomain[domain])
	}
	for _, outcome := range sortedKeys(result.Digests) {
		fmt.Fprintf(out, "  artifacts %s: %d\n", outcome, result.Digests[outcome])
	}
	return nil
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
