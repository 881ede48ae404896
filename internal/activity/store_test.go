package activity

import (
	"context"
	"testing"

	"oneiric/internal/api"
	"oneiric/internal/events"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T, bus *events.Bus) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := Open(dir, bus)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store, dir
}

func TestGetUnknownPairIsAbsentNotError(t *testing.T) {
	store, _ := openTestStore(t, nil)

	_, ok, err := store.Get(context.Background(), api.DomainService, "status")
	require.NoError(t, err)
	assert.False(t, ok)

	decision, err := store.ShouldAcceptWork(context.Background(), api.DomainService, "status")
	require.NoError(t, err)
	assert.Equal(t, api.ActivityAccept, decision)
}

func TestPausedPairRejectsWork(t *testing.T) {
	store, _ := openTestStore(t, nil)

	state, err := store.SetPaused(context.Background(), api.DomainService, "status", true, "deploy window")
	require.NoError(t, err)
	assert.True(t, state.Paused)
	assert.Equal(t, "deploy window", state.Note)
	assert.False(t, state.UpdatedAt.IsZero())

	decision, err := store.ShouldAcceptWork(context.Background(), api.DomainService, "status")
	require.NoError(t, err)
	assert.Equal(t, api.ActivityReject, decision)

	_, err = store.SetPaused(context.Background(), api.DomainService, "status", false, "window closed")
	require.NoError(t, err)
	decision, err = store.ShouldAcceptWork(context.Background(), api.DomainService, "status")
	require.NoError(t, err)
	assert.Equal(t, api.ActivityAccept, decision)
}

func TestDrainingPairDefersWork(t *testing.T) {
	store, _ := openTestStore(t, nil)

	_, err := store.SetDraining(context.Background(), api.DomainTask, "reindex", true, "finishing batch")
	require.NoError(t, err)

	decision, err := store.ShouldAcceptWork(context.Background(), api.DomainTask, "reindex")
	require.NoError(t, err)
	assert.Equal(t, api.ActivityDefer, decision)
}

func TestPausedTakesPrecedenceOverDraining(t *testing.T) {
	store, _ := openTestStore(t, nil)

	_, err := store.Set(context.Background(), api.DomainService, "status", true, true, "both set")
	require.NoError(t, err)

	decision, err := store.ShouldAcceptWork(context.Background(), api.DomainService, "status")
	require.NoError(t, err)
	assert.Equal(t, api.ActivityReject, decision)
}

func TestMutationRequiresIdentity(t *testing.T) {
	store, _ := openTestStore(t, nil)

	_, err := store.SetPaused(context.Background(), "", "status", true, "")
	assert.Error(t, err)
	_, err = store.SetPaused(context.Background(), api.DomainService, "", true, "")
	assert.Error(t, err)
}

func TestStateSurvivesReopen(t *testing.T) {
	store, dir := openTestStore(t, nil)
	_, err := store.SetPaused(context.Background(), api.DomainService, "status", true, "deploy window")
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := Open(dir, nil)
	require.NoError(t, err)
	defer reopened.Close()

	state, ok, err := reopened.Get(context.Background(), api.DomainService, "status")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, state.Paused)
	assert.Equal(t, "deploy window", state.Note)
}

func TestSnapshotAllIsOrdered(t *testing.T) {
	store, _ := openTestStore(t, nil)
	ctx := context.Background()

	_, err := store.SetPaused(ctx, api.DomainService, "status", true, "")
	require.NoError(t, err)
	_, err = store.SetDraining(ctx, api.DomainAdapter, "cache", true, "")
	require.NoError(t, err)
	_, err = store.Set(ctx, api.DomainAdapter, "blob", false, false, "watch this one")
	require.NoError(t, err)

	snapshot, err := store.SnapshotAll(ctx)
	require.NoError(t, err)
	require.Len(t, snapshot, 3)
	assert.Equal(t, "blob", snapshot[0].Key)
	assert.Equal(t, "cache", snapshot[1].Key)
	assert.Equal(t, "status", snapshot[2].Key)
}

func TestGlobalCounts(t *testing.T) {
	store, _ := openTestStore(t, nil)
	ctx := context.Background()

	_, err := store.SetPaused(ctx, api.DomainService, "status", true, "deploy")
	require.NoError(t, err)
	_, err = store.SetPaused(ctx, api.DomainService, "metrics", true, "")
	require.NoError(t, err)
	_, err = store.SetDraining(ctx, api.DomainTask, "reindex", true, "")
	require.NoError(t, err)
	_, err = store.Set(ctx, api.DomainAdapter, "cache", false, false, "note only")
	require.NoError(t, err)

	counts, err := store.GlobalCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, Counts{Paused: 2, Draining: 1, NoteOnly: 1}, counts.Overall)
	assert.Equal(t, Counts{Paused: 2}, counts.PerDomain[api.DomainService])
	assert.Equal(t, Counts{Draining: 1}, counts.PerDomain[api.DomainTask])
	assert.Equal(t, Counts{NoteOnly: 1}, counts.PerDomain[api.DomainAdapter])
}

func TestMutationsEmitEventsAndHistory(t *testing.T) {
	bus := events.NewBus(nil)
	store, _ := openTestStore(t, bus)
	ctx := context.Background()

	_, err := store.SetPaused(ctx, api.DomainService, "status", true, "deploy window")
	require.NoError(t, err)
	_, err = store.SetPaused(ctx, api.DomainService, "status", false, "window closed")
	require.NoError(t, err)

	recent := bus.Recent()
	require.Len(t, recent, 2)
	assert.Equal(t, events.ReasonActivityChanged, recent[0].Reason)
	assert.Equal(t, "deploy window", recent[0].Message)
	assert.Equal(t, true, recent[0].Fields["paused"])
	assert.Equal(t, false, recent[1].Fields["paused"])

	history, err := store.History(ctx, api.DomainService, "status", 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	// Newest first.
	assert.False(t, history[0].Paused)
	assert.True(t, history[1].Paused)
	assert.Equal(t, "window closed", history[0].Note)
}

func TestHistoryLimit(t *testing.T) {
	store, _ := openTestStore(t, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := store.SetPaused(ctx, api.DomainService, "status", i%2 == 0, "")
		require.NoError(t, err)
	}
	history, err := store.History(ctx, api.DomainService, "status", 3)
	require.NoError(t, err)
	assert.Len(t, history, 3)
}
