package config

import (
	"time"

	"oneiric/internal/api"
)

// Settings is the top-level configuration structure for the runtime.
type Settings struct {
	// ConfigDir is where config.yaml and selections/ live. Defaults to
	// ~/.config/oneiric when unset.
	ConfigDir string `yaml:"configDir,omitempty"`

	// CacheDir holds persisted state and cached artifacts.
	CacheDir string `yaml:"cacheDir,omitempty"`

	// StackOrder assigns inferred priorities to registration sources.
	StackOrder []api.StackEntry `yaml:"stackOrder,omitempty"`

	Remote    RemoteSettings    `yaml:"remote,omitempty"`
	Lifecycle LifecycleSettings `yaml:"lifecycle,omitempty"`
	Plugins   PluginSettings    `yaml:"plugins,omitempty"`
	Watcher   WatcherSettings   `yaml:"watcher,omitempty"`

	// FactoryAllowlist holds glob or regex patterns permitted for factory
	// references. An empty list permits every registered factory.
	FactoryAllowlist []string `yaml:"factoryAllowlist,omitempty"`

	// TrustedPublicKeys holds base64 Ed25519 public keys for manifest
	// verification. Usually populated from ONEIRIC_TRUSTED_PUBLIC_KEYS.
	TrustedPublicKeys []string `yaml:"trustedPublicKeys,omitempty"`
}

// RemoteSettings configures the remote manifest pipeline.
type RemoteSettings struct {
	URL              string        `yaml:"url,omitempty"`
	RefreshInterval  time.Duration `yaml:"refreshInterval,omitempty"`
	Timeout          time.Duration `yaml:"timeout,omitempty"`
	RequireSignature bool          `yaml:"requireSignature,omitempty"`
	Retry            RetryPolicy   `yaml:"retryPolicy,omitempty"`
	Breaker          BreakerPolicy `yaml:"breakerPolicy,omitempty"`
}

// RetryPolicy bounds retries of remote fetches.
type RetryPolicy struct {
	Attempts  int           `yaml:"attempts,omitempty" json:"attempts,omitempty"`
	BaseDelay time.Duration `yaml:"baseDelay,omitempty" json:"baseDelay,omitempty"`
	MaxDelay  time.Duration `yaml:"maxDelay,omitempty" json:"maxDelay,omitempty"`
	Jitter    float64       `yaml:"jitter,omitempty" json:"jitter,omitempty"`
}

// BreakerPolicy configures the remote-loader circuit breaker.
type BreakerPolicy struct {
	// MaxFailures is the number of consecutive failures that opens the
	// breaker.
	MaxFailures int `yaml:"maxFailures,omitempty"`

	// ResetTimeout is how long the breaker stays open before allowing a
	// probe request.
	ResetTimeout time.Duration `yaml:"resetTimeout,omitempty"`
}

// LifecycleSettings bounds the lifecycle manager's operations.
type LifecycleSettings struct {
	ActivationTimeout time.Duration `yaml:"activationTimeout,omitempty"`
	HealthTimeout     time.Duration `yaml:"healthTimeout,omitempty"`
	CleanupTimeout    time.Duration `yaml:"cleanupTimeout,omitempty"`
	HookTimeout       time.Duration `yaml:"hookTimeout,omitempty"`

	// ForceReloadSwaps controls whether a forceReload request swaps even
	// when the selected provider is unchanged.
	ForceReloadSwaps *bool `yaml:"forceReloadSwaps,omitempty"`
}

// ForceReload reports the effective forceReload policy (default true).
func (l LifecycleSettings) ForceReload() bool {
	if l.ForceReloadSwaps == nil {
		return true
	}
	return *l.ForceReloadSwaps
}

// PluginSettings configures in-process plugin registration.
type PluginSettings struct {
	AutoLoad    bool     `yaml:"autoLoad,omitempty"`
	EntryPoints []string `yaml:"entryPoints,omitempty"`
}

// WatcherSettings configures the per-domain selection watchers.
type WatcherSettings struct {
	// PollInterval is the base polling cadence for selection sources.
	PollInterval time.Duration `yaml:"pollInterval,omitempty"`

	// DrainRetryDelay is how long a watcher waits before retrying a swap
	// deferred by a draining target.
	DrainRetryDelay time.Duration `yaml:"drainRetryDelay,omitempty"`
}

// Environment derives the explicit policy value passed to component
// constructors from the loaded settings.
func (s *Settings) Environment() *api.Environment {
	return &api.Environment{
		ConfigDir:         s.ConfigDir,
		CacheDir:          s.CacheDir,
		StackOrder:        s.StackOrder,
		TrustedPublicKeys: s.TrustedPublicKeys,
		FactoryAllowlist:  s.FactoryAllowlist,
	}
}
