package bridge

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"oneiric/internal/activity"
	"oneiric/internal/api"
	"oneiric/internal/config"
	"oneiric/internal/events"
	"oneiric/internal/factory"
	"oneiric/internal/lifecycle"
	"oneiric/internal/manifest"
	"oneiric/internal/registry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type redisSettings struct {
	Addr     string `yaml:"addr"`
	PoolSize int    `yaml:"poolSize"`
}

type testInstance struct {
	provider string
	settings interface{}
	serial   int64
}

type bridgeFixture struct {
	deps  Deps
	table *factory.Table
	built int64
}

func newBridgeFixture(t *testing.T) *bridgeFixture {
	t.Helper()
	f := &bridgeFixture{table: factory.NewTable()}
	reg := registry.New(nil)
	store, err := activity.Open(t.TempDir(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	manager := lifecycle.NewManager(reg, f.table, factory.NewAllowlist(nil), events.NewBus(nil), config.LifecycleSettings{}, t.TempDir())
	f.deps = Deps{Registry: reg, Manager: manager, Activity: store, Lifecycle: config.LifecycleSettings{}}
	return f
}

func (f *bridgeFixture) register(t *testing.T, domain api.Domain, key, provider string, stackLevel int) {
	t.Helper()
	name := fmt.Sprintf("%s_%s_%s", domain, key, provider)
	require.NoError(t, f.table.Register(name, func(ctx context.Context, spec factory.Spec) (interface{}, error) {
		return &testInstance{
			provider: spec.Provider,
			settings: spec.Settings,
			serial:   atomic.AddInt64(&f.built, 1),
		}, nil
	}))
	_, err := f.deps.Registry.Register(registry.Candidate{
		Domain: domain, Key: key, Provider: provider, Factory: name, StackLevel: stackLevel,
	})
	require.NoError(t, err)
}

func TestUseActivatesAndReturnsHandle(t *testing.T) {
	f := newBridgeFixture(t)
	f.register(t, api.DomainAdapter, "cache", "redis", 0)
	bridge := NewAdapter(f.deps)

	handle, err := bridge.Use(context.Background(), "cache", "", false)
	require.NoError(t, err)
	assert.Equal(t, api.DomainAdapter, handle.Domain)
	assert.Equal(t, "cache", handle.Key)
	assert.Equal(t, "redis", handle.Provider)
	require.IsType(t, &testInstance{}, handle.Instance)
}

func TestUseReusesReadyBinding(t *testing.T) {
	f := newBridgeFixture(t)
	f.register(t, api.DomainAdapter, "cache", "redis", 0)
	bridge := NewAdapter(f.deps)

	first, err := bridge.Use(context.Background(), "cache", "", false)
	require.NoError(t, err)
	second, err := bridge.Use(context.Background(), "cache", "", false)
	require.NoError(t, err)
	assert.Same(t, first.Instance, second.Instance, "ready binding with unchanged provider is reused")
	assert.Equal(t, int64(1), atomic.LoadInt64(&f.built))
}

func TestUseForceReloadSwapsEvenWhenUnchanged(t *testing.T) {
	f := newBridgeFixture(t)
	f.register(t, api.DomainAdapter, "cache", "redis", 0)
	bridge := NewAdapter(f.deps)

	first, err := bridge.Use(context.Background(), "cache", "", false)
	require.NoError(t, err)
	second, err := bridge.Use(context.Background(), "cache", "", true)
	require.NoError(t, err)
	assert.NotSame(t, first.Instance, second.Instance)
	assert.Equal(t, int64(2), atomic.LoadInt64(&f.built))
}

func TestUseForceReloadDisabledByPolicy(t *testing.T) {
	f := newBridgeFixture(t)
	f.register(t, api.DomainAdapter, "cache", "redis", 0)
	disabled := false
	f.deps.Lifecycle.ForceReloadSwaps = &disabled
	bridge := NewAdapter(f.deps)

	first, err := bridge.Use(context.Background(), "cache", "", false)
	require.NoError(t, err)
	second, err := bridge.Use(context.Background(), "cache", "", true)
	require.NoError(t, err)
	assert.Same(t, first.Instance, second.Instance, "forceReloadSwaps=false downgrades force to reuse")
}

func TestUseSwapsWhenSelectionChanges(t *testing.T) {
	f := newBridgeFixture(t)
	f.register(t, api.DomainService, "status", "v1", 0)
	bridge := NewService(f.deps)

	first, err := bridge.Use(context.Background(), "status", "", false)
	require.NoError(t, err)
	assert.Equal(t, "v1", first.Provider)

	f.register(t, api.DomainService, "status", "v2", 5)
	second, err := bridge.Use(context.Background(), "status", "", false)
	require.NoError(t, err)
	assert.Equal(t, "v2", second.Provider)
	assert.NotSame(t, first.Instance, second.Instance)
}

func TestUseMaterializesTypedSettings(t *testing.T) {
	f := newBridgeFixture(t)
	f.register(t, api.DomainAdapter, "cache", "redis", 0)
	bridge := NewAdapter(f.deps)
	bridge.RegisterSettingsSchema("redis", func() interface{} { return &redisSettings{} })
	bridge.SetProviderSettings("cache", "redis", map[string]interface{}{
		"addr":     "localhost:6379",
		"poolSize": 8,
	})

	handle, err := bridge.Use(context.Background(), "cache", "", false)
	require.NoError(t, err)
	settings, ok := handle.Settings.(*redisSettings)
	require.True(t, ok)
	assert.Equal(t, "localhost:6379", settings.Addr)
	assert.Equal(t, 8, settings.PoolSize)

	// The factory received the same materialized value.
	assert.Same(t, settings, handle.Instance.(*testInstance).settings)
}

func TestUseRejectsMalformedSettings(t *testing.T) {
	f := newBridgeFixture(t)
	f.register(t, api.DomainAdapter, "cache", "redis", 0)
	bridge := NewAdapter(f.deps)
	bridge.RegisterSettingsSchema("redis", func() interface{} { return &redisSettings{} })
	bridge.SetProviderSettings("cache", "redis", map[string]interface{}{
		"poolSize": "not a number",
	})

	_, err := bridge.Use(context.Background(), "cache", "", false)
	require.Error(t, err)
	assert.True(t, api.IsConfigError(err))
}

func TestUsePassesRawSettingsWithoutSchema(t *testing.T) {
	f := newBridgeFixture(t)
	f.register(t, api.DomainAdapter, "cache", "memory", 0)
	bridge := NewAdapter(f.deps)
	raw := map[string]interface{}{"maxEntries": 1000}
	bridge.SetProviderSettings("", "memory", raw)

	handle, err := bridge.Use(context.Background(), "cache", "", false)
	require.NoError(t, err)
	assert.Equal(t, raw, handle.Settings)
}

func TestUseUnknownKeyReturnsNotFound(t *testing.T) {
	f := newBridgeFixture(t)
	bridge := NewAdapter(f.deps)

	_, err := bridge.Use(context.Background(), "missing", "", false)
	require.Error(t, err)
	assert.True(t, api.IsNotFound(err))
}

func TestListingsAndExplainAreDomainScoped(t *testing.T) {
	f := newBridgeFixture(t)
	f.register(t, api.DomainAdapter, "cache", "memory", 0)
	f.register(t, api.DomainAdapter, "cache", "redis", 10)
	f.register(t, api.DomainService, "status", "v1", 0)
	bridge := NewAdapter(f.deps)

	active := bridge.ListActive()
	require.Len(t, active, 1)
	assert.Equal(t, "redis", active[0].Provider)

	shadowed := bridge.ListShadowed()
	require.Len(t, shadowed, 1)
	assert.Equal(t, "memory", shadowed[0].Provider)

	trace := bridge.Explain("cache")
	require.Len(t, trace, 2)
	assert.True(t, trace[0].Selected)
	assert.Equal(t, "redis", trace[0].Candidate.Provider)
	assert.Equal(t, registry.TierStackLevel, trace[1].LostOn)
}

func TestActivityControlsRoundTrip(t *testing.T) {
	f := newBridgeFixture(t)
	bridge := NewService(f.deps)
	ctx := context.Background()

	state, err := bridge.SetPaused(ctx, "status", true, "deploy window")
	require.NoError(t, err)
	assert.True(t, state.Paused)

	decision, err := bridge.ShouldAcceptWork(ctx, "status")
	require.NoError(t, err)
	assert.Equal(t, api.ActivityReject, decision)

	// Activity snapshots are scoped to the bridge's domain.
	_, err = f.deps.Activity.SetDraining(ctx, api.DomainTask, "reindex", true, "")
	require.NoError(t, err)
	snapshot, err := bridge.ActivitySnapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snapshot, 1)
	assert.Equal(t, "status", snapshot[0].Key)
	assert.Equal(t, "deploy window", snapshot[0].Note)
}

func TestEventBridgeRouting(t *testing.T) {
	f := newBridgeFixture(t)
	name := "events_audit_kafka"
	require.NoError(t, f.table.Register(name, func(ctx context.Context, spec factory.Spec) (interface{}, error) {
		return &testInstance{provider: spec.Provider}, nil
	}))
	entry := manifest.Entry{
		Domain: "event", Key: "audit", Provider: "kafka", Factory: name,
		EventTopics:       []string{"audit.created", "audit.deleted"},
		EventPriority:     7,
		EventFanoutPolicy: "exclusive",
		EventFilters:      []manifest.EventFilter{{Path: "payload.tenant", Equals: "acme"}},
	}
	_, err := f.deps.Registry.Register(registry.Candidate{
		Domain: api.DomainEvent, Key: "audit", Provider: "kafka", Factory: name,
		Metadata: entry.AuditMetadata(),
	})
	require.NoError(t, err)

	bridge := NewEvent(f.deps)
	routing, ok := bridge.Routing("audit")
	require.True(t, ok)
	assert.Equal(t, []string{"audit.created", "audit.deleted"}, routing.Topics)
	assert.Equal(t, 7, routing.Priority)
	assert.Equal(t, "exclusive", routing.FanoutPolicy)
	require.Len(t, routing.Filters, 1)
	assert.Equal(t, "payload.tenant", routing.Filters[0].Path)
}

func TestWorkflowBridgeDAG(t *testing.T) {
	f := newBridgeFixture(t)
	entry := manifest.Entry{
		Domain: "workflow", Key: "deploy", Provider: "v1", Factory: "wf",
		Workflow: &manifest.WorkflowDAG{Nodes: []manifest.WorkflowNode{
			{ID: "build"},
			{ID: "release", DependsOn: []string{"build"}},
		}},
	}
	_, err := f.deps.Registry.Register(registry.Candidate{
		Domain: api.DomainWorkflow, Key: "deploy", Provider: "v1", Factory: "wf",
		Metadata: entry.AuditMetadata(),
	})
	require.NoError(t, err)

	bridge := NewWorkflow(f.deps)
	dag, ok := bridge.DAG("deploy")
	require.True(t, ok)
	require.Len(t, dag.Nodes, 2)
	assert.Equal(t, []string{"build"}, dag.Nodes[1].DependsOn)

	_, ok = bridge.DAG("unknown")
	assert.False(t, ok)
}
