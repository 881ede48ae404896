package bridge

import (
	"context"
	"fmt"
	"sync"

	"gopkg.in/yaml.v3"

	"oneiric/internal/activity"
	"oneiric/internal/api"
	"oneiric/internal/config"
	"oneiric/internal/lifecycle"
	"oneiric/internal/registry"
)

// SettingsFactory returns a fresh zero value (a pointer to a typed
// struct) that a provider's settings document is decoded into.
type SettingsFactory func() interface{}

// Bridge ties one domain to the shared resolver, lifecycle manager and
// activity store. All bridges in a process share those collaborators;
// only the domain label and the settings schema registry differ.
type Bridge struct {
	domain   api.Domain
	registry *registry.Registry
	manager  *lifecycle.Manager
	activity *activity.Store
	cfg      config.LifecycleSettings

	mu       sync.RWMutex
	schemas  map[string]SettingsFactory
	settings map[string]map[string]interface{}
}

// New creates a bridge for the given domain over the shared components.
// The activity store may be nil when pause/drain control is not needed.
func New(domain api.Domain, reg *registry.Registry, manager *lifecycle.Manager, store *activity.Store, cfg config.LifecycleSettings) *Bridge {
	return &Bridge{
		domain:   domain,
		registry: reg,
		manager:  manager,
		activity: store,
		cfg:      cfg,
		schemas:  make(map[string]SettingsFactory),
		settings: make(map[string]map[string]interface{}),
	}
}

// Domain returns the bridge's domain label.
func (b *Bridge) Domain() api.Domain {
	return b.domain
}

// RegisterSettingsSchema associates a typed settings model with a
// provider. On activation the provider's raw settings document is decoded
// into a fresh instance of the model and injected into the handle.
func (b *Bridge) RegisterSettingsSchema(provider string, factory SettingsFactory) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.schemas[provider] = factory
}

// SetProviderSettings stores the raw settings document for a (key,
// provider). An empty key applies the document to the provider under any
// key.
func (b *Bridge) SetProviderSettings(key, provider string, raw map[string]interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.settings[settingsID(key, provider)] = raw
}

// Use resolves and activates the provider for key, returning a handle
// carrying the instance, its materialized settings and the candidate
// metadata. When the selected provider is already bound and ready, the
// existing instance is reused unless forceReload requests a fresh swap
// (subject to the forceReloadSwaps policy).
func (b *Bridge) Use(ctx context.Context, key, providerOverride string, forceReload bool) (api.Handle, error) {
	candidate, ok := b.registry.Resolve(b.domain, key, providerOverride)
	if !ok {
		return api.Handle{}, api.NewCandidateNotFoundError(b.domain, key, providerOverride)
	}

	wantSwap := forceReload && b.cfg.ForceReload()
	if !wantSwap {
		if handle, ok := b.currentHandle(key, candidate); ok {
			return handle, nil
		}
	}

	settings, err := b.materializeSettings(key, candidate.Provider)
	if err != nil {
		return api.Handle{}, err
	}
	instance, err := b.manager.Activate(ctx, b.domain, key, lifecycle.ActivateOptions{
		Override: providerOverride,
		Settings: settings,
	})
	if err != nil {
		return api.Handle{}, err
	}
	return api.Handle{
		Domain:   b.domain,
		Key:      key,
		Provider: candidate.Provider,
		Instance: instance,
		Settings: settings,
		Metadata: candidate.Metadata,
	}, nil
}

// currentHandle returns the existing handle when the candidate's provider
// is already bound and ready.
func (b *Bridge) currentHandle(key string, candidate *registry.Candidate) (api.Handle, bool) {
	status, ok := b.manager.GetStatus(b.domain, key)
	if !ok || status.State != api.StateReady || status.CurrentProvider != candidate.Provider {
		return api.Handle{}, false
	}
	instance, ok := b.manager.GetInstance(b.domain, key)
	if !ok {
		return api.Handle{}, false
	}
	settings, err := b.materializeSettings(key, candidate.Provider)
	if err != nil {
		return api.Handle{}, false
	}
	return api.Handle{
		Domain:   b.domain,
		Key:      key,
		Provider: candidate.Provider,
		Instance: instance,
		Settings: settings,
		Metadata: candidate.Metadata,
	}, true
}

// materializeSettings decodes the provider's raw settings document into
// its registered typed model. Without a schema the raw document is handed
// through as-is; without a document a schema still yields its zero model.
func (b *Bridge) materializeSettings(key, provider string) (interface{}, error) {
	b.mu.RLock()
	factory := b.schemas[provider]
	raw, ok := b.settings[settingsID(key, provider)]
	if !ok {
		raw = b.settings[settingsID("", provider)]
	}
	b.mu.RUnlock()

	if factory == nil {
		if raw == nil {
			return nil, nil
		}
		return raw, nil
	}
	model := factory()
	if raw == nil {
		return model, nil
	}
	data, err := yaml.Marshal(raw)
	if err != nil {
		return nil, api.NewConfigError(fmt.Sprintf("settings for %s/%s@%s", b.domain, key, provider), "could not encode settings document", err)
	}
	if err := yaml.Unmarshal(data, model); err != nil {
		return nil, api.NewConfigError(fmt.Sprintf("settings for %s/%s@%s", b.domain, key, provider), "settings document does not match the provider's model", err)
	}
	return model, nil
}

// Status returns the lifecycle status record for key in this domain.
func (b *Bridge) Status(key string) (*lifecycle.Status, bool) {
	return b.manager.GetStatus(b.domain, key)
}

// ListActive returns the active candidates in this bridge's domain.
func (b *Bridge) ListActive() []*registry.Candidate {
	return b.registry.ListActive(b.domain)
}

// ListShadowed returns the shadowed candidates in this bridge's domain.
func (b *Bridge) ListShadowed() []*registry.Candidate {
	return b.registry.ListShadowed(b.domain)
}

// Explain returns the resolution trace for key within this domain.
func (b *Bridge) Explain(key string) []registry.Explanation {
	return b.registry.Explain(b.domain, key, "")
}

// SetPaused pauses or unpauses swaps for key, recording the operator
// note.
func (b *Bridge) SetPaused(ctx context.Context, key string, paused bool, note string) (api.ActivityState, error) {
	if b.activity == nil {
		return api.ActivityState{}, fmt.Errorf("bridge for %s has no activity store", b.domain)
	}
	return b.activity.SetPaused(ctx, b.domain, key, paused, note)
}

// SetDraining marks or unmarks key as draining, recording the operator
// note.
func (b *Bridge) SetDraining(ctx context.Context, key string, draining bool, note string) (api.ActivityState, error) {
	if b.activity == nil {
		return api.ActivityState{}, fmt.Errorf("bridge for %s has no activity store", b.domain)
	}
	return b.activity.SetDraining(ctx, b.domain, key, draining, note)
}

// ActivitySnapshot returns the activity records for this bridge's domain.
func (b *Bridge) ActivitySnapshot(ctx context.Context) ([]api.ActivityState, error) {
	if b.activity == nil {
		return nil, nil
	}
	all, err := b.activity.SnapshotAll(ctx)
	if err != nil {
		return nil, err
	}
	var out []api.ActivityState
	for _, state := range all {
		if state.Domain == b.domain {
			out = append(out, state)
		}
	}
	return out, nil
}

// ShouldAcceptWork is the activity veto consulted before swaps.
func (b *Bridge) ShouldAcceptWork(ctx context.Context, key string) (api.ActivityDecision, error) {
	if b.activity == nil {
		return api.ActivityAccept, nil
	}
	return b.activity.ShouldAcceptWork(ctx, b.domain, key)
}

func settingsID(key, provider string) string {
	return key + "@" + provider
}
