package lifecycle

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"oneiric/internal/api"
	"oneiric/internal/config"
	"oneiric/internal/events"
	"oneiric/internal/factory"
	"oneiric/internal/registry"
	"oneiric/pkg/logging"
)

// HealthChecker is the capability interface an instance implements to
// participate in post-activation health checks.
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}

// Cleaner is the capability interface a replaced instance implements to
// release its resources. Instances without it are simply dropped.
type Cleaner interface {
	Cleanup(ctx context.Context) error
}

// SwapHook observes a swap around instantiation. Pre-swap hooks run
// before the factory is invoked; post-swap hooks run after the previous
// instance was cleaned up. A hook error aborts the swap at its point of
// failure.
type SwapHook func(ctx context.Context, domain api.Domain, key string, candidate *registry.Candidate) error

// CleanupHook observes cleanup of a replaced instance.
type CleanupHook func(ctx context.Context, domain api.Domain, key string, instance interface{}) error

// ActivateOptions modify one activation request.
type ActivateOptions struct {
	// Override names a specific provider instead of the resolver's pick.
	Override string

	// Force skips the health check on the new instance.
	Force bool

	// Settings is the materialized provider settings value handed to the
	// factory. Supplied by the domain bridge.
	Settings interface{}
}

// Manager performs health-checked, rollback-safe activation of resolved
// candidates and persists a status snapshot after every state transition.
// Swaps for the same (domain, key) are serialized; different pairs swap
// concurrently. Each activation produces a fresh instance; nothing is
// cached across calls.
type Manager struct {
	registry  *registry.Registry
	table     *factory.Table
	allowlist *factory.Allowlist
	bus       *events.Bus
	cfg       config.LifecycleSettings

	statusPath string

	mu        sync.Mutex
	instances map[string]interface{}
	statuses  map[string]*Status
	pairLocks map[string]*sync.Mutex

	hookMu       sync.RWMutex
	preHooks     []SwapHook
	postHooks    []SwapHook
	cleanupHooks []CleanupHook
}

// NewManager creates a lifecycle manager. Previously persisted status is
// loaded tolerantly: a missing or corrupt file starts empty.
func NewManager(reg *registry.Registry, table *factory.Table, allowlist *factory.Allowlist, bus *events.Bus, cfg config.LifecycleSettings, cacheDir string) *Manager {
	m := &Manager{
		registry:   reg,
		table:      table,
		allowlist:  allowlist,
		bus:        bus,
		cfg:        cfg,
		statusPath: filepath.Join(cacheDir, StatusFileName),
		instances:  make(map[string]interface{}),
		statuses:   make(map[string]*Status),
		pairLocks:  make(map[string]*sync.Mutex),
	}
	loaded, clean := loadStatusFile(m.statusPath)
	if !clean {
		m.publish(events.Event{Reason: events.ReasonStatusLoadFailed, Message: "persisted lifecycle status unreadable, starting empty"})
	}
	for _, s := range loaded {
		// Instances do not survive restarts; persisted bindings come back
		// inactive until something activates them again.
		s.State = api.StateInactive
		m.statuses[pairID(s.Domain, s.Key)] = s
	}
	return m
}

// AddPreSwapHook registers a hook invoked before instantiation.
func (m *Manager) AddPreSwapHook(h SwapHook) {
	m.hookMu.Lock()
	defer m.hookMu.Unlock()
	m.preHooks = append(m.preHooks, h)
}

// AddPostSwapHook registers a hook invoked after a successful swap.
func (m *Manager) AddPostSwapHook(h SwapHook) {
	m.hookMu.Lock()
	defer m.hookMu.Unlock()
	m.postHooks = append(m.postHooks, h)
}

// AddCleanupHook registers a hook invoked when a replaced instance is
// cleaned up.
func (m *Manager) AddCleanupHook(h CleanupHook) {
	m.hookMu.Lock()
	defer m.hookMu.Unlock()
	m.cleanupHooks = append(m.cleanupHooks, h)
}

// Activate resolves, instantiates, health-checks and binds the selected
// provider for (domain, key). On health or hook failure the previous
// binding stays in place and a LifecycleError is returned. The in-flight
// swap is shielded from caller cancellation; cancellation surfaces after
// status persistence.
func (m *Manager) Activate(ctx context.Context, domain api.Domain, key string, opts ActivateOptions) (interface{}, error) {
	unlock := m.lockPair(domain, key)
	defer unlock()

	instance, err := m.activateLocked(ctx, domain, key, opts)
	if cancelErr := ctx.Err(); cancelErr != nil && err == nil {
		// The swap completed under shield; surface the cancellation now
		// that state is persisted.
		return instance, cancelErr
	}
	return instance, err
}

// Swap is Activate with explicit replace semantics: provider optionally
// overrides the resolver's pick and force skips the health check.
func (m *Manager) Swap(ctx context.Context, domain api.Domain, key, provider string, force bool) (interface{}, error) {
	return m.Activate(ctx, domain, key, ActivateOptions{Override: provider, Force: force})
}

// GetInstance returns the currently bound instance for (domain, key).
func (m *Manager) GetInstance(domain api.Domain, key string) (interface{}, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.instances[pairID(domain, key)]
	return inst, ok
}

// GetStatus returns a copy of the status record for (domain, key).
func (m *Manager) GetStatus(domain api.Domain, key string) (*Status, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.statuses[pairID(domain, key)]
	if !ok {
		return nil, false
	}
	cp := *s
	cp.RecentDurations = append([]float64(nil), s.RecentDurations...)
	return &cp, true
}

// AllStatuses returns a copy of every status record.
func (m *Manager) AllStatuses() []*Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Status, 0, len(m.statuses))
	for _, s := range m.statuses {
		cp := *s
		cp.RecentDurations = append([]float64(nil), s.RecentDurations...)
		out = append(out, &cp)
	}
	return out
}

// ProbeHealth runs the health check against the currently bound instance.
// The bool result is absent when nothing is bound.
func (m *Manager) ProbeHealth(ctx context.Context, domain api.Domain, key string) (bool, bool) {
	m.mu.Lock()
	inst, ok := m.instances[pairID(domain, key)]
	m.mu.Unlock()
	if !ok {
		return false, false
	}
	candidate, _ := m.registry.Resolve(domain, key, "")
	err := m.checkHealth(ctx, candidate, inst)
	return err == nil, true
}

// activateLocked runs the activation algorithm while holding the pair
// lock.
func (m *Manager) activateLocked(ctx context.Context, domain api.Domain, key string, opts ActivateOptions) (interface{}, error) {
	started := time.Now()

	candidate, ok := m.registry.Resolve(domain, key, opts.Override)
	if !ok {
		return nil, api.NewCandidateNotFoundError(domain, key, opts.Override)
	}

	if err := m.allowlist.Check(candidate.Factory); err != nil {
		m.failPair(domain, key, candidate.Provider, api.ReasonFactoryError, err)
		return nil, err
	}
	factoryFn, ok := m.table.Lookup(candidate.Factory)
	if !ok {
		err := api.NewLifecycleError(api.ReasonFactoryError, domain, key, candidate.Provider,
			fmt.Sprintf("factory %q is not registered in the dispatch table", candidate.Factory), nil)
		m.failPair(domain, key, candidate.Provider, api.ReasonFactoryError, err)
		return nil, err
	}

	m.transition(domain, key, api.StateActivating, candidate.Provider, nil)
	m.publish(events.Event{Reason: events.ReasonSwapStarted, Domain: domain, Key: key, Provider: candidate.Provider})

	// The swap runs shielded: caller cancellation must not leave a
	// half-built binding. Timeouts bound each phase instead.
	shielded := context.WithoutCancel(ctx)

	if err := m.runSwapHooks(shielded, m.snapshotHooks(&m.preHooks), domain, key, candidate); err != nil {
		lerr := api.NewLifecycleError(api.ReasonHookError, domain, key, candidate.Provider, "pre-swap hook failed", err)
		m.failPair(domain, key, candidate.Provider, api.ReasonHookError, lerr)
		return nil, lerr
	}

	instance, err := m.instantiate(shielded, factoryFn, candidate, opts.Settings)
	if err != nil {
		reason := api.ReasonFactoryError
		if api.IsLifecycleError(err, api.ReasonTimeout) {
			reason = api.ReasonTimeout
		}
		m.failPair(domain, key, candidate.Provider, reason, err)
		return nil, err
	}

	if !opts.Force {
		if err := m.checkHealthBounded(shielded, candidate, instance); err != nil {
			m.publish(events.Event{
				Reason: events.ReasonHealthCheckFailed, Domain: domain, Key: key,
				Provider: candidate.Provider, Error: err.Error(),
			})
			lerr := err
			if !api.IsLifecycleError(err, "") {
				lerr = api.NewLifecycleError(api.ReasonHealthFailed, domain, key, candidate.Provider, "health check failed", err)
			}
			m.failPair(domain, key, candidate.Provider, api.ReasonHealthFailed, lerr)
			return nil, lerr
		}
	}

	previous := m.bind(domain, key, candidate.Provider, instance)
	if previous != nil {
		m.cleanupPrevious(shielded, domain, key, previous)
	}

	if err := m.runSwapHooks(shielded, m.snapshotHooks(&m.postHooks), domain, key, candidate); err != nil {
		// The previous instance is gone; the new binding stays, but the
		// failure is recorded and surfaced.
		lerr := api.NewLifecycleError(api.ReasonHookError, domain, key, candidate.Provider, "post-swap hook failed", err)
		m.failPair(domain, key, candidate.Provider, api.ReasonHookError, lerr)
		return instance, lerr
	}

	elapsed := time.Since(started)
	m.succeed(domain, key, candidate.Provider, elapsed)
	m.publish(events.Event{
		Reason: events.ReasonSwapSucceeded, Domain: domain, Key: key, Provider: candidate.Provider,
		Fields: map[string]interface{}{"duration_ms": elapsed.Milliseconds()},
	})
	if sink := m.metricsSink(); sink != nil {
		sink.ObserveSwap(string(domain), elapsed)
	}
	return instance, nil
}

// instantiate invokes the factory under the activation timeout. The
// factory runs in its own goroutine so a factory that ignores its context
// cannot stall the swap past the deadline.
func (m *Manager) instantiate(ctx context.Context, fn factory.Func, candidate *registry.Candidate, settings interface{}) (interface{}, error) {
	timeout := m.cfg.ActivationTimeout
	if timeout <= 0 {
		timeout = config.DefaultActivationTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		instance interface{}
		err      error
	}
	done := make(chan result, 1)
	go func() {
		inst, err := fn(callCtx, factory.Spec{
			Domain:   candidate.Domain,
			Key:      candidate.Key,
			Provider: candidate.Provider,
			Settings: settings,
			Metadata: candidate.Metadata,
		})
		done <- result{instance: inst, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return nil, api.NewLifecycleError(api.ReasonFactoryError, candidate.Domain, candidate.Key, candidate.Provider, "factory failed", res.err)
		}
		return res.instance, nil
	case <-callCtx.Done():
		return nil, api.NewLifecycleError(api.ReasonTimeout, candidate.Domain, candidate.Key, candidate.Provider,
			fmt.Sprintf("activation exceeded %s", timeout), callCtx.Err())
	}
}

// checkHealthBounded applies the health timeout around checkHealth.
func (m *Manager) checkHealthBounded(ctx context.Context, candidate *registry.Candidate, instance interface{}) error {
	timeout := m.cfg.HealthTimeout
	if timeout <= 0 {
		timeout = config.DefaultHealthTimeout
	}
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- m.checkHealth(probeCtx, candidate, instance) }()
	select {
	case err := <-done:
		return err
	case <-probeCtx.Done():
		return api.NewLifecycleError(api.ReasonTimeout, candidate.Domain, candidate.Key, candidate.Provider,
			fmt.Sprintf("health check exceeded %s", timeout), probeCtx.Err())
	}
}

// checkHealth prefers the candidate's registered health func, then the
// instance's HealthChecker capability. Absence of both is healthy.
func (m *Manager) checkHealth(ctx context.Context, candidate *registry.Candidate, instance interface{}) error {
	if candidate != nil && candidate.Health != nil {
		return candidate.Health(ctx, instance)
	}
	if hc, ok := instance.(HealthChecker); ok {
		return hc.CheckHealth(ctx)
	}
	return nil
}

// cleanupPrevious releases the replaced instance under the cleanup
// timeout. A cleanup failure is surfaced as an event, not a swap failure:
// the new binding is already live.
func (m *Manager) cleanupPrevious(ctx context.Context, domain api.Domain, key string, previous interface{}) {
	timeout := m.cfg.CleanupTimeout
	if timeout <= 0 {
		timeout = config.DefaultCleanupTimeout
	}
	cleanupCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		if c, ok := previous.(Cleaner); ok {
			if err := c.Cleanup(cleanupCtx); err != nil {
				done <- err
				return
			}
		}
		for _, h := range m.snapshotCleanupHooks() {
			if err := h(cleanupCtx, domain, key, previous); err != nil {
				done <- err
				return
			}
		}
		done <- nil
	}()

	var err error
	select {
	case err = <-done:
	case <-cleanupCtx.Done():
		err = cleanupCtx.Err()
	}
	if err != nil {
		logging.Error("Lifecycle", err, "Cleanup of replaced instance failed for %s/%s", domain, key)
		m.publish(events.Event{Reason: events.ReasonCleanupFailed, Domain: domain, Key: key, Error: err.Error()})
	}
}

// runSwapHooks runs hooks sequentially, each under the hook timeout.
func (m *Manager) runSwapHooks(ctx context.Context, hooks []SwapHook, domain api.Domain, key string, candidate *registry.Candidate) error {
	timeout := m.cfg.HookTimeout
	if timeout <= 0 {
		timeout = config.DefaultHookTimeout
	}
	for _, h := range hooks {
		hookCtx, cancel := context.WithTimeout(ctx, timeout)
		err := h(hookCtx, domain, key, candidate)
		cancel()
		if err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) snapshotHooks(src *[]SwapHook) []SwapHook {
	m.hookMu.RLock()
	defer m.hookMu.RUnlock()
	return append([]SwapHook(nil), *src...)
}

func (m *Manager) snapshotCleanupHooks() []CleanupHook {
	m.hookMu.RLock()
	defer m.hookMu.RUnlock()
	return append([]CleanupHook(nil), m.cleanupHooks...)
}

// bind atomically replaces the bound instance, returning the previous one.
func (m *Manager) bind(domain api.Domain, key, provider string, instance interface{}) interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := pairID(domain, key)
	previous := m.instances[id]
	m.instances[id] = instance
	s := m.statusLocked(domain, key)
	if s.CurrentProvider != "" {
		s.PreviousProvider = s.CurrentProvider
	}
	s.CurrentProvider = provider
	return previous
}

// transition updates state and persists the table.
func (m *Manager) transition(domain api.Domain, key string, state api.LifecycleState, provider string, err error) {
	m.mu.Lock()
	s := m.statusLocked(domain, key)
	s.State = state
	if err != nil {
		s.LastError = err.Error()
	}
	m.persistLocked()
	m.mu.Unlock()
}

// succeed marks the pair ready and appends the duration sample.
func (m *Manager) succeed(domain api.Domain, key, provider string, elapsed time.Duration) {
	now := time.Now()
	m.mu.Lock()
	s := m.statusLocked(domain, key)
	s.State = api.StateReady
	s.CurrentProvider = provider
	s.LastSuccessAt = &now
	s.LastError = ""
	s.appendDuration(elapsed)
	m.persistLocked()
	m.mu.Unlock()
}

// failPair marks the pair failed, keeping the previous binding in place,
// and emits the failure event.
func (m *Manager) failPair(domain api.Domain, key, provider string, reason api.LifecycleReason, err error) {
	now := time.Now()
	m.mu.Lock()
	s := m.statusLocked(domain, key)
	s.State = api.StateFailed
	s.LastFailureAt = &now
	s.LastError = err.Error()
	m.persistLocked()
	m.mu.Unlock()

	m.publish(events.Event{
		Reason: events.ReasonSwapFailed, Domain: domain, Key: key, Provider: provider,
		Error: err.Error(), Fields: map[string]interface{}{"reason": string(reason)},
	})
	if sink := m.metricsSink(); sink != nil {
		sink.ObserveSwapFailure(string(domain), string(reason))
	}
}

// statusLocked returns (creating if needed) the status record. Callers
// hold m.mu.
func (m *Manager) statusLocked(domain api.Domain, key string) *Status {
	id := pairID(domain, key)
	s, ok := m.statuses[id]
	if !ok {
		s = &Status{Domain: domain, Key: key, State: api.StateInactive}
		m.statuses[id] = s
	}
	return s
}

// persistLocked writes the status table. Callers hold m.mu.
func (m *Manager) persistLocked() {
	statuses := make([]*Status, 0, len(m.statuses))
	for _, s := range m.statuses {
		cp := *s
		statuses = append(statuses, &cp)
	}
	if err := saveStatusFile(m.statusPath, statuses); err != nil {
		logging.Error("Lifecycle", err, "Failed to persist lifecycle status")
	}
}

// lockPair serializes swaps per (domain, key).
func (m *Manager) lockPair(domain api.Domain, key string) func() {
	id := pairID(domain, key)
	m.mu.Lock()
	l, ok := m.pairLocks[id]
	if !ok {
		l = &sync.Mutex{}
		m.pairLocks[id] = l
	}
	m.mu.Unlock()
	l.Lock()
	return l.Unlock
}

func (m *Manager) publish(event events.Event) {
	if m.bus != nil {
		m.bus.Publish(event)
	}
}

func (m *Manager) metricsSink() *events.Metrics {
	if m.bus == nil {
		return nil
	}
	return m.bus.MetricsSink()
}

func pairID(domain api.Domain, key string) string {
	return string(domain) + "/" + key
}
