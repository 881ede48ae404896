package cmd

import (
	"fmt"
	"text/tabwriter"

	"oneiric/internal/api"
	"oneiric/internal/events"
	"oneiric/internal/manifest"
	"oneiric/internal/registry"
	"oneiric/internal/remote"
	"oneiric/pkg/logging"

	"github.com/spf13/cobra"
)

// explainOverride names a provider to pin during the trace.
var explainOverride string

// newExplainCmd creates the command that renders a resolution trace for
// one (domain, key) pair. Candidates are seeded from the configured
// remote manifest; locally registered candidates only exist inside a
// running host process and do not appear here.
func newExplainCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "explain <domain> <key>",
		Short: "Show why a provider wins resolution for a key",
		Long: `Renders the full resolution trace for one (domain, key) pair: every
candidate in precedence order, the winner marked, and for each loser the
tier it lost on (override, source priority, stack level or registration
order).`,
		Args: cobra.ExactArgs(2),
		RunE: runExplain,
	}
	cmd.Flags().StringVar(&explainOverride, "override", "", "pin a provider and trace with the override applied")
	return cmd
}

func runExplain(cmd *cobra.Command, args []string) error {
	domain := api.Domain(args[0])
	key := args[1]
	if !validDomain(domain) {
		return fmt.Errorf("unknown domain %q (expected one of %v)", args[0], api.Domains())
	}

	cfg, err := loadSettings()
	if err != nil {
		return err
	}

	reg := registry.New(cfg.Environment())
	if cfg.Remote.URL != "" {
		bus := events.NewBus(events.NewMetrics())
		trusted := manifest.ParseTrustedKeys(cfg.TrustedPublicKeys)
		loader := remote.NewLoader(reg, bus, cfg.Remote, cfg.CacheDir, trusted)
		if _, err := loader.Sync(cmd.Context(), cfg.Remote.URL); err != nil {
			logging.Warn("CLI", "Manifest sync failed, tracing without remote candidates: %v", err)
		}
	}

	trace := reg.Explain(domain, key, explainOverride)
	if len(trace) == 0 {
		return api.NewCandidateNotFoundError(domain, key, explainOverride)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PROVIDER\tSOURCE\tSTACK\tSEQ\tRESULT")
	for _, e := range trace {
		result := "selected"
		if !e.Selected {
			result = "lost on " + e.LostOn
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n",
			e.Candidate.Provider, e.Candidate.Source, e.Candidate.StackLevel, e.Candidate.Seq, result)
	}
	return w.Flush()
}

func validDomain(domain api.Domain) bool {
	for _, d := range api.Domains() {
		if d == domain {
			return true
		}
	}
	return false
}
