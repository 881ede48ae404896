package config

import "time"

const (
	// DefaultCacheDir is the cache directory used when none is configured.
	DefaultCacheDir = ".oneiric_cache"

	// DefaultActivationTimeout bounds factory instantiation.
	DefaultActivationTimeout = 30 * time.Second

	// DefaultHealthTimeout bounds a single health probe.
	DefaultHealthTimeout = 10 * time.Second

	// DefaultCleanupTimeout bounds cleanup of a replaced instance.
	DefaultCleanupTimeout = 10 * time.Second

	// DefaultHookTimeout bounds a single pre/post-swap hook.
	DefaultHookTimeout = 5 * time.Second

	// DefaultRemoteTimeout bounds a single remote HTTP request.
	DefaultRemoteTimeout = 15 * time.Second

	// DefaultPollInterval is the selection watcher cadence.
	DefaultPollInterval = 2 * time.Second

	// DefaultDrainRetryDelay is the deferred-swap retry delay.
	DefaultDrainRetryDelay = 5 * time.Second
)

// GetDefaultSettings returns the baseline settings every load starts from.
func GetDefaultSettings() Settings {
	return Settings{
		CacheDir: DefaultCacheDir,
		Remote: RemoteSettings{
			Timeout: DefaultRemoteTimeout,
			Retry: RetryPolicy{
				Attempts:  3,
				BaseDelay: 500 * time.Millisecond,
				MaxDelay:  10 * time.Second,
				Jitter:    0.2,
			},
			Breaker: BreakerPolicy{
				MaxFailures:  5,
				ResetTimeout: 30 * time.Second,
			},
		},
		Lifecycle: LifecycleSettings{
			ActivationTimeout: DefaultActivationTimeout,
			HealthTimeout:     DefaultHealthTimeout,
			CleanupTimeout:    DefaultCleanupTimeout,
			HookTimeout:       DefaultHookTimeout,
		},
		Watcher: WatcherSettings{
			PollInterval:    DefaultPollInterval,
			DrainRetryDelay: DefaultDrainRetryDelay,
		},
	}
}
