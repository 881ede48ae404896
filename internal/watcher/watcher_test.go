package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"oneiric/internal/activity"
	"oneiric/internal/api"
	"oneiric/internal/bridge"
	"oneiric/internal/config"
	"oneiric/internal/events"
	"oneiric/internal/factory"
	"oneiric/internal/lifecycle"
	"oneiric/internal/registry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type watchedInstance struct {
	provider string
	serial   int64
}

type watcherFixture struct {
	deps   bridge.Deps
	table  *factory.Table
	bridge *bridge.Bridge
	bus    *events.Bus
	built  int64
}

func newWatcherFixture(t *testing.T, domain api.Domain) *watcherFixture {
	t.Helper()
	f := &watcherFixture{table: factory.NewTable(), bus: events.NewBus(nil)}
	reg := registry.New(nil)
	store, err := activity.Open(t.TempDir(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	manager := lifecycle.NewManager(reg, f.table, factory.NewAllowlist(nil), f.bus, config.LifecycleSettings{}, t.TempDir())
	f.deps = bridge.Deps{Registry: reg, Manager: manager, Activity: store}
	f.bridge = bridge.New(domain, reg, manager, store, config.LifecycleSettings{})
	return f
}

func (f *watcherFixture) register(t *testing.T, domain api.Domain, key, provider string) {
	t.Helper()
	name := fmt.Sprintf("%s_%s_%s", domain, key, provider)
	require.NoError(t, f.table.Register(name, func(ctx context.Context, spec factory.Spec) (interface{}, error) {
		return &watchedInstance{provider: spec.Provider, serial: atomic.AddInt64(&f.built, 1)}, nil
	}))
	_, err := f.deps.Registry.Register(registry.Candidate{
		Domain: domain, Key: key, Provider: provider, Factory: name,
	})
	require.NoError(t, err)
}

func countReason(bus *events.Bus, reason events.Reason) int {
	n := 0
	for _, event := range bus.Recent() {
		if event.Reason == reason {
			n++
		}
	}
	return n
}

func TestRunOnceAppliesSelections(t *testing.T) {
	f := newWatcherFixture(t, api.DomainService)
	f.register(t, api.DomainService, "status", "v1")
	source := config.NewStaticSelectionSource(map[string]string{"status": "v1"})
	w := New(f.bridge, source, f.bus, config.WatcherSettings{})

	require.NoError(t, w.RunOnce(context.Background()))

	status, ok := f.bridge.Status("status")
	require.True(t, ok)
	assert.Equal(t, api.StateReady, status.State)
	assert.Equal(t, "v1", status.CurrentProvider)
}

func TestRunOnceIsIdempotentWhenApplied(t *testing.T) {
	f := newWatcherFixture(t, api.DomainService)
	f.register(t, api.DomainService, "status", "v1")
	source := config.NewStaticSelectionSource(map[string]string{"status": "v1"})
	w := New(f.bridge, source, f.bus, config.WatcherSettings{})

	require.NoError(t, w.RunOnce(context.Background()))
	require.NoError(t, w.RunOnce(context.Background()))
	assert.Equal(t, int64(1), atomic.LoadInt64(&f.built), "unchanged selection must not re-swap")
}

func TestRunOnceSwapsOnSelectionChange(t *testing.T) {
	f := newWatcherFixture(t, api.DomainService)
	f.register(t, api.DomainService, "status", "v1")
	f.register(t, api.DomainService, "status", "v2")
	source := config.NewStaticSelectionSource(map[string]string{"status": "v1"})
	w := New(f.bridge, source, f.bus, config.WatcherSettings{})

	require.NoError(t, w.RunOnce(context.Background()))
	source.Set("status", "v2")
	require.NoError(t, w.RunOnce(context.Background()))

	status, _ := f.bridge.Status("status")
	assert.Equal(t, "v2", status.CurrentProvider)
	assert.Equal(t, "v1", status.PreviousProvider)
}

func TestPausedKeySkipsSwapAndResumesAfterUnpause(t *testing.T) {
	f := newWatcherFixture(t, api.DomainService)
	f.register(t, api.DomainService, "status", "v1")
	f.register(t, api.DomainService, "status", "v2")
	source := config.NewStaticSelectionSource(map[string]string{"status": "v1"})
	w := New(f.bridge, source, f.bus, config.WatcherSettings{})
	ctx := context.Background()

	require.NoError(t, w.RunOnce(ctx))

	_, err := f.bridge.SetPaused(ctx, "status", true, "deploy window")
	require.NoError(t, err)
	source.Set("status", "v2")
	require.NoError(t, w.RunOnce(ctx))

	status, _ := f.bridge.Status("status")
	assert.Equal(t, "v1", status.CurrentProvider, "paused key must not swap")
	assert.Equal(t, 1, countReason(f.bus, events.ReasonSwapSkippedPaused))

	snapshot, err := f.bridge.ActivitySnapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snapshot, 1)
	assert.True(t, snapshot[0].Paused)
	assert.Equal(t, "deploy window", snapshot[0].Note)

	// Unpausing lets the next tick apply the pending selection.
	_, err = f.bridge.SetPaused(ctx, "status", false, "window closed")
	require.NoError(t, err)
	require.NoError(t, w.RunOnce(ctx))
	status, _ = f.bridge.Status("status")
	assert.Equal(t, "v2", status.CurrentProvider)
}

func TestDrainingKeyDefersSwap(t *testing.T) {
	f := newWatcherFixture(t, api.DomainService)
	f.register(t, api.DomainService, "status", "v1")
	f.register(t, api.DomainService, "status", "v2")
	source := config.NewStaticSelectionSource(map[string]string{"status": "v1"})
	w := New(f.bridge, source, f.bus, config.WatcherSettings{DrainRetryDelay: 10 * time.Millisecond})
	ctx := context.Background()

	require.NoError(t, w.RunOnce(ctx))
	_, err := f.bridge.SetDraining(ctx, "status", true, "finishing requests")
	require.NoError(t, err)
	source.Set("status", "v2")
	require.NoError(t, w.RunOnce(ctx))

	status, _ := f.bridge.Status("status")
	assert.Equal(t, "v1", status.CurrentProvider)
	assert.Equal(t, 1, countReason(f.bus, events.ReasonSwapDeferredDraining))

	_, err = f.bridge.SetDraining(ctx, "status", false, "drained")
	require.NoError(t, err)
	require.NoError(t, w.RunOnce(ctx))
	status, _ = f.bridge.Status("status")
	assert.Equal(t, "v2", status.CurrentProvider)
}

func TestSwapFailureEmitsEventAndContinues(t *testing.T) {
	f := newWatcherFixture(t, api.DomainService)
	f.register(t, api.DomainService, "good", "v1")
	// "bad" selects a provider that is not registered.
	source := config.NewStaticSelectionSource(map[string]string{
		"good": "v1",
		"bad":  "ghost",
	})
	w := New(f.bridge, source, f.bus, config.WatcherSettings{})

	require.NoError(t, w.RunOnce(context.Background()))

	status, ok := f.bridge.Status("good")
	require.True(t, ok)
	assert.Equal(t, api.StateReady, status.State)
	assert.Equal(t, 1, countReason(f.bus, events.ReasonWatcherSwapFailed))
}

func TestStartTwiceIsAnError(t *testing.T) {
	f := newWatcherFixture(t, api.DomainService)
	source := config.NewStaticSelectionSource(nil)
	w := New(f.bridge, source, f.bus, config.WatcherSettings{PollInterval: 10 * time.Millisecond})

	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()
	assert.Error(t, w.Start(context.Background()))
}

func TestStopIsIdempotent(t *testing.T) {
	f := newWatcherFixture(t, api.DomainService)
	source := config.NewStaticSelectionSource(nil)
	w := New(f.bridge, source, f.bus, config.WatcherSettings{PollInterval: 10 * time.Millisecond})

	require.NoError(t, w.Start(context.Background()))
	assert.True(t, w.Running())
	w.Stop()
	assert.False(t, w.Running())
	w.Stop() // no-op

	assert.Equal(t, 1, countReason(f.bus, events.ReasonWatcherStarted))
	assert.Equal(t, 1, countReason(f.bus, events.ReasonWatcherStopped))
}

func TestRunningWatcherAppliesSelectionChanges(t *testing.T) {
	f := newWatcherFixture(t, api.DomainService)
	f.register(t, api.DomainService, "status", "v1")
	f.register(t, api.DomainService, "status", "v2")
	source := config.NewStaticSelectionSource(map[string]string{"status": "v1"})
	w := New(f.bridge, source, f.bus, config.WatcherSettings{PollInterval: 10 * time.Millisecond})

	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	require.Eventually(t, func() bool {
		status, ok := f.bridge.Status("status")
		return ok && status.CurrentProvider == "v1"
	}, 2*time.Second, 5*time.Millisecond)

	source.Set("status", "v2")
	require.Eventually(t, func() bool {
		status, _ := f.bridge.Status("status")
		return status.CurrentProvider == "v2"
	}, 2*time.Second, 5*time.Millisecond)
}

func TestFileBackedWatcherPicksUpEdits(t *testing.T) {
	f := newWatcherFixture(t, api.DomainAdapter)
	f.register(t, api.DomainAdapter, "cache", "memory")
	f.register(t, api.DomainAdapter, "cache", "redis")

	configDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(configDir, "selections"), 0o755))
	selectionPath := filepath.Join(configDir, "selections", "adapter.yaml")
	require.NoError(t, os.WriteFile(selectionPath, []byte("cache: memory\n"), 0o644))

	source := config.NewFileSelectionSource(configDir, api.DomainAdapter)
	w := New(f.bridge, source, f.bus, config.WatcherSettings{PollInterval: time.Hour})

	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	require.Eventually(t, func() bool {
		status, ok := f.bridge.Status("cache")
		return ok && status.CurrentProvider == "memory"
	}, 2*time.Second, 5*time.Millisecond)

	// The poll interval is an hour; only the fsnotify wake-up can apply
	// this edit promptly.
	require.NoError(t, os.WriteFile(selectionPath, []byte("cache: redis\n"), 0o644))
	require.Eventually(t, func() bool {
		status, _ := f.bridge.Status("cache")
		return status.CurrentProvider == "redis"
	}, 3*time.Second, 10*time.Millisecond)
}
