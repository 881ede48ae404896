package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"oneiric/internal/activity"
	"oneiric/internal/api"
	"oneiric/internal/bridge"
	"oneiric/internal/config"
	"oneiric/internal/events"
	"oneiric/internal/factory"
	"oneiric/internal/lifecycle"
	"oneiric/internal/manifest"
	"oneiric/internal/registry"
	"oneiric/internal/remote"
	"oneiric/internal/watcher"
	"oneiric/pkg/logging"
)

// stopGrace bounds how long Stop waits for watchers and the refresh loop
// to wind down.
const stopGrace = 10 * time.Second

// Orchestrator composes the runtime: one registry, one lifecycle manager
// and one activity store shared by five domain bridges, a selection
// watcher per bridge, and an optional remote refresh loop. It owns the
// runtime health snapshot file.
type Orchestrator struct {
	cfg      *config.Settings
	bus      *events.Bus
	registry *registry.Registry
	table    *factory.Table
	manager  *lifecycle.Manager
	activity *activity.Store
	loader   *remote.Loader

	bridges  map[api.Domain]*bridge.Bridge
	event    *bridge.EventBridge
	workflow *bridge.WorkflowBridge
	watchers map[api.Domain]*watcher.Watcher

	runID string

	mu        sync.Mutex
	running   bool
	cancel    context.CancelFunc
	loops     *errgroup.Group
	remoteURL string

	remoteMu             sync.Mutex
	lastRemoteSyncAt     *time.Time
	lastRemoteError      string
	lastRemoteRegistered int
}

// New builds the full runtime from settings. The caller registers
// factories on Factories() before Start.
func New(cfg *config.Settings, bus *events.Bus) (*Orchestrator, error) {
	if bus == nil {
		bus = events.NewBus(events.NewMetrics())
	}
	env := cfg.Environment()
	reg := registry.New(env)
	table := factory.NewTable()
	allowlist := factory.NewAllowlist(cfg.FactoryAllowlist)
	manager := lifecycle.NewManager(reg, table, allowlist, bus, cfg.Lifecycle, cfg.CacheDir)

	store, err := activity.Open(cfg.CacheDir, bus)
	if err != nil {
		return nil, fmt.Errorf("opening activity store: %w", err)
	}

	trusted := manifest.ParseTrustedKeys(cfg.TrustedPublicKeys)
	loader := remote.NewLoader(reg, bus, cfg.Remote, cfg.CacheDir, trusted)

	o := &Orchestrator{
		cfg:      cfg,
		bus:      bus,
		registry: reg,
		table:    table,
		manager:  manager,
		activity: store,
		loader:   loader,
		bridges:  make(map[api.Domain]*bridge.Bridge),
		watchers: make(map[api.Domain]*watcher.Watcher),
		runID:    uuid.New().String(),
	}

	deps := bridge.Deps{Registry: reg, Manager: manager, Activity: store, Lifecycle: cfg.Lifecycle}
	o.bridges[api.DomainAdapter] = bridge.NewAdapter(deps)
	o.bridges[api.DomainService] = bridge.NewService(deps)
	o.bridges[api.DomainTask] = bridge.NewTask(deps)
	o.event = bridge.NewEvent(deps)
	o.bridges[api.DomainEvent] = o.event.Bridge
	o.workflow = bridge.NewWorkflow(deps)
	o.bridges[api.DomainWorkflow] = o.workflow.Bridge

	for domain, b := range o.bridges {
		source := config.NewFileSelectionSource(cfg.ConfigDir, domain)
		o.watchers[domain] = watcher.New(b, source, bus, cfg.Watcher)
	}
	return o, nil
}

// Factories returns the dispatch table hosts register their factories on.
func (o *Orchestrator) Factories() *factory.Table {
	return o.table
}

// Registry returns the shared candidate registry.
func (o *Orchestrator) Registry() *registry.Registry {
	return o.registry
}

// Bridge returns the bridge for a domain.
func (o *Orchestrator) Bridge(domain api.Domain) (*bridge.Bridge, bool) {
	b, ok := o.bridges[domain]
	return b, ok
}

// EventBridge returns the event-domain bridge with routing accessors.
func (o *Orchestrator) EventBridge() *bridge.EventBridge {
	return o.event
}

// WorkflowBridge returns the workflow-domain bridge with DAG accessors.
func (o *Orchestrator) WorkflowBridge() *bridge.WorkflowBridge {
	return o.workflow
}

// Lifecycle returns the shared lifecycle manager.
func (o *Orchestrator) Lifecycle() *lifecycle.Manager {
	return o.manager
}

// Activity returns the shared activity store.
func (o *Orchestrator) Activity() *activity.Store {
	return o.activity
}

// Events returns the runtime's event bus.
func (o *Orchestrator) Events() *events.Bus {
	return o.bus
}

// RunID identifies this orchestrator instance in health snapshots.
func (o *Orchestrator) RunID() string {
	return o.runID
}

// Start brings the runtime up: an optional one-shot manifest sync to seed
// candidates, all five watchers, the optional refresh loop, and the
// initial health snapshot. Starting a running orchestrator is an error.
func (o *Orchestrator) Start(ctx context.Context, manifestURL string, refreshInterval time.Duration) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return fmt.Errorf("orchestrator is already running")
	}

	runCtx, cancel := context.WithCancel(context.Background())
	group, groupCtx := errgroup.WithContext(runCtx)

	if manifestURL != "" {
		// Seed failures are not fatal: the refresh loop (when enabled)
		// keeps retrying, and locally registered candidates still work.
		if result, err := o.loader.Sync(ctx, manifestURL); err != nil {
			logging.Warn("Orchestrator", "Seed manifest sync failed: %v", err)
			o.recordRemote(nil, err)
		} else {
			o.recordRemote(result, nil)
		}
	}

	for domain, w := range o.watchers {
		if err := w.Start(groupCtx); err != nil {
			cancel()
			o.stopWatchersLocked()
			return fmt.Errorf("starting %s watcher: %w", domain, err)
		}
	}

	remoteEnabled := manifestURL != ""
	if remoteEnabled && refreshInterval > 0 {
		group.Go(func() error {
			o.loader.RunRefreshLoop(groupCtx, manifestURL, refreshInterval, func(result *remote.SyncResult, err error) {
				o.recordRemote(result, err)
				o.writeSnapshot(true, true)
			})
			return nil
		})
	}

	// Swap completions refresh the latency section of the snapshot.
	swapEvents := o.bus.Subscribe()
	group.Go(func() error {
		for {
			select {
			case <-groupCtx.Done():
				return nil
			case event := <-swapEvents:
				if event.Reason == events.ReasonSwapSucceeded {
					o.writeSnapshot(true, remoteEnabled)
				}
			}
		}
	})

	o.running = true
	o.cancel = cancel
	o.loops = group
	o.remoteURL = manifestURL

	o.bus.Publish(events.Event{Reason: events.ReasonRuntimeStarted, Message: o.runID})
	o.writeSnapshot(true, remoteEnabled)
	logging.Info("Orchestrator", "Runtime %s started (%d watchers, remote=%v)", o.runID, len(o.watchers), remoteEnabled)
	return nil
}

// Stop winds the runtime down: watchers and loops are cancelled and
// awaited under a grace period, then the final snapshot marks watchers
// stopped. Stopping a stopped orchestrator is a no-op.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.running {
		return
	}

	o.cancel()
	o.stopWatchersLocked()

	done := make(chan struct{})
	loops := o.loops
	go func() {
		loops.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(stopGrace):
		logging.Warn("Orchestrator", "Background loops did not stop within %s", stopGrace)
	}

	o.running = false
	o.cancel = nil
	o.loops = nil

	o.bus.Publish(events.Event{Reason: events.ReasonRuntimeStopped, Message: o.runID})
	o.writeSnapshot(false, o.remoteURL != "")
	logging.Info("Orchestrator", "Runtime %s stopped", o.runID)
}

// Run starts the runtime and blocks until the context is cancelled, then
// stops it. The scoped form of Start/Stop for callers that want shutdown
// guaranteed on every exit path.
func (o *Orchestrator) Run(ctx context.Context, manifestURL string, refreshInterval time.Duration) error {
	if err := o.Start(ctx, manifestURL, refreshInterval); err != nil {
		return err
	}
	defer o.Stop()
	<-ctx.Done()
	return nil
}

// Close stops the runtime and releases resources held beyond Stop (the
// activity store).
func (o *Orchestrator) Close() error {
	o.Stop()
	return o.activity.Close()
}

// Snapshot assembles the current runtime health view.
func (o *Orchestrator) Snapshot() *HealthSnapshot {
	o.mu.Lock()
	running := o.running
	remoteEnabled := o.remoteURL != ""
	o.mu.Unlock()
	return o.snapshot(running && o.watchersRunning(), remoteEnabled)
}

func (o *Orchestrator) watchersRunning() bool {
	for _, w := range o.watchers {
		if !w.Running() {
			return false
		}
	}
	return true
}

// stopWatchersLocked stops all watchers concurrently. Callers hold o.mu.
func (o *Orchestrator) stopWatchersLocked() {
	var wg sync.WaitGroup
	for _, w := range o.watchers {
		wg.Add(1)
		go func(w *watcher.Watcher) {
			defer wg.Done()
			w.Stop()
		}(w)
	}
	wg.Wait()
}

func (o *Orchestrator) recordRemote(result *remote.SyncResult, err error) {
	now := time.Now()
	o.remoteMu.Lock()
	defer o.remoteMu.Unlock()
	o.lastRemoteSyncAt = &now
	if err != nil {
		o.lastRemoteError = err.Error()
		return
	}
	o.lastRemoteError = ""
	if result != nil {
		o.lastRemoteRegistered = result.Registered
	}
}

func (o *Orchestrator) writeSnapshot(watchersRunning, remoteEnabled bool) {
	writeSnapshotFile(o.cfg.CacheDir, o.snapshot(watchersRunning, remoteEnabled))
}

// snapshot assembles the health view without touching o.mu, so callers
// may hold it.
func (o *Orchestrator) snapshot(watchersRunning, remoteEnabled bool) *HealthSnapshot {
	snapshot := &HealthSnapshot{
		RunID:               o.runID,
		WatchersRunning:     watchersRunning,
		RemoteEnabled:       remoteEnabled,
		PerDomainCandidates: make(map[string]int),
		SwapLatencies:       make(map[string]SwapLatency),
		UpdatedAt:           time.Now(),
	}

	o.remoteMu.Lock()
	snapshot.LastRemoteSyncAt = o.lastRemoteSyncAt
	snapshot.LastRemoteError = o.lastRemoteError
	snapshot.LastRemoteRegistered = o.lastRemoteRegistered
	o.remoteMu.Unlock()

	for _, domain := range api.Domains() {
		count := len(o.registry.ListActive(domain)) + len(o.registry.ListShadowed(domain))
		snapshot.PerDomainCandidates[string(domain)] = count
	}

	for _, status := range o.manager.AllStatuses() {
		if len(status.RecentDurations) == 0 {
			continue
		}
		p50, p95, p99 := status.Percentiles()
		snapshot.SwapLatencies[string(status.Domain)+"/"+status.Key] = SwapLatency{P50: p50, P95: p95, P99: p99}
	}

	states, err := o.activity.SnapshotAll(context.Background())
	if err != nil {
		logging.Warn("Orchestrator", "Could not read activity snapshot: %v", err)
	} else {
		snapshot.Activity = states
	}
	return snapshot
}
