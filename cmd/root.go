package cmd

import (
	"errors"
	"os"

	"oneiric/internal/api"
	"oneiric/internal/config"
	"oneiric/pkg/logging"

	"github.com/spf13/cobra"
)

// Exit codes for CLI commands.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error (command failed, invalid arguments).
	ExitCodeError = 1
	// ExitCodeNotFound indicates the requested domain/key pair has no candidate.
	ExitCodeNotFound = 2
	// ExitCodeRemoteSync indicates a manifest sync failure.
	ExitCodeRemoteSync = 3
)

// rootConfigPath overrides the configuration directory for all commands.
var rootConfigPath string

// rootDebug enables debug-level logging.
var rootDebug bool

// rootCmd represents the base command for the oneiric runtime.
var rootCmd = &cobra.Command{
	Use:   "oneiric",
	Short: "Resolve, activate and hot-swap pluggable providers",
	Long: `oneiric manages pluggable providers across five domains (adapters,
services, tasks, events, workflows): candidates register locally or via a
signed remote manifest, a deterministic resolver picks one provider per
key, and the lifecycle manager activates it with health-checked hot swaps.

Selections live in YAML files under <config>/selections/ and are applied
by per-domain watchers while 'oneiric serve' runs.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := logging.LevelInfo
		if rootDebug {
			level = logging.LevelDebug
		}
		logging.InitForCLI(level, os.Stderr)
		return nil
	},
}

// SetVersion sets the version for the root command. Called from main to
// inject the build version.
func SetVersion(v string) {
	rootCmd.Version = v
}

// GetVersion returns the current version of the application.
func GetVersion() string {
	return rootCmd.Version
}

// Execute is the main entry point for the CLI application.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "oneiric version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(getExitCode(err))
	}
}

// getExitCode maps error types to semantic exit codes for scripting.
func getExitCode(err error) int {
	if api.IsNotFound(err) {
		return ExitCodeNotFound
	}
	var syncErr *api.RemoteSyncError
	if errors.As(err, &syncErr) {
		return ExitCodeRemoteSync
	}
	return ExitCodeError
}

// loadSettings resolves the configuration directory (flag, then
// ONEIRIC_CONFIG, then the per-user default) and loads settings from it.
func loadSettings() (*config.Settings, error) {
	configPath := rootConfigPath
	if configPath == "" {
		var err error
		configPath, err = config.GetDefaultConfigPath()
		if err != nil {
			return nil, err
		}
	}
	settings, err := config.LoadSettings(configPath)
	if err != nil {
		return nil, err
	}
	return &settings, nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rootConfigPath, "config", "", "configuration directory (default is $HOME/.config/oneiric)")
	rootCmd.PersistentFlags().BoolVar(&rootDebug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newSyncCmd())
	rootCmd.AddCommand(newExplainCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newVersionCmd())
}
