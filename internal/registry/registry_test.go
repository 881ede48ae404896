package registry

import (
	"fmt"
	"sync"
	"testing"

	"oneiric/internal/api"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEnv() *api.Environment {
	return &api.Environment{
		StackOrder: []api.StackEntry{
			{Source: "plugin", Priority: 1},
			{Source: "local", Priority: 5},
			{Source: "remote", Priority: 3},
		},
	}
}

func TestRegisterAssignsSequenceNumbers(t *testing.T) {
	r := New(nil)

	first, err := r.Register(Candidate{Domain: api.DomainAdapter, Key: "cache", Provider: "memory"})
	require.NoError(t, err)
	second, err := r.Register(Candidate{Domain: api.DomainAdapter, Key: "cache", Provider: "redis"})
	require.NoError(t, err)

	assert.Equal(t, uint64(1), first.Seq)
	assert.Equal(t, uint64(2), second.Seq)
	assert.Equal(t, 2, r.Len())
}

func TestRegisterRejectsIncompleteIdentity(t *testing.T) {
	r := New(nil)

	_, err := r.Register(Candidate{Domain: api.DomainAdapter, Key: "cache"})
	assert.Error(t, err)

	_, err = r.Register(Candidate{Key: "cache", Provider: "memory"})
	assert.Error(t, err)
}

func TestStackLevelPrecedence(t *testing.T) {
	r := New(nil)

	_, err := r.Register(Candidate{Domain: api.DomainAdapter, Key: "cache", Provider: "memory", StackLevel: 0})
	require.NoError(t, err)
	_, err = r.Register(Candidate{Domain: api.DomainAdapter, Key: "cache", Provider: "redis", StackLevel: 10})
	require.NoError(t, err)

	active, ok := r.Resolve(api.DomainAdapter, "cache", "")
	require.True(t, ok)
	assert.Equal(t, "redis", active.Provider)

	trace := r.Explain(api.DomainAdapter, "cache", "")
	require.Len(t, trace, 2)
	assert.True(t, trace[0].Selected)
	assert.Equal(t, "redis", trace[0].Candidate.Provider)
	assert.Equal(t, "memory", trace[1].Candidate.Provider)
	assert.Equal(t, TierStackLevel, trace[1].LostOn)

	shadowed := r.ListShadowed(api.DomainAdapter)
	require.Len(t, shadowed, 1)
	assert.Equal(t, "memory", shadowed[0].Provider)
}

func TestLastRegisteredWinsOnFullTie(t *testing.T) {
	r := New(nil)

	_, err := r.Register(Candidate{Domain: api.DomainService, Key: "status", Provider: "v1", StackLevel: 5})
	require.NoError(t, err)
	_, err = r.Register(Candidate{Domain: api.DomainService, Key: "status", Provider: "v2", StackLevel: 5})
	require.NoError(t, err)

	active, ok := r.Resolve(api.DomainService, "status", "")
	require.True(t, ok)
	assert.Equal(t, "v2", active.Provider)

	trace := r.Explain(api.DomainService, "status", "")
	require.Len(t, trace, 2)
	assert.Equal(t, TierRegistrationOrder, trace[1].LostOn)
}

func TestInferredPriorityBeatsStackLevel(t *testing.T) {
	r := New(testEnv())

	// remote carries a huge stack level but local outranks remote in the
	// configured stack order.
	_, err := r.Register(Candidate{Domain: api.DomainAdapter, Key: "cache", Provider: "remote-redis", Source: "remote", StackLevel: 100})
	require.NoError(t, err)
	_, err = r.Register(Candidate{Domain: api.DomainAdapter, Key: "cache", Provider: "local-memory", Source: "local", StackLevel: 0})
	require.NoError(t, err)

	active, ok := r.Resolve(api.DomainAdapter, "cache", "")
	require.True(t, ok)
	assert.Equal(t, "local-memory", active.Provider)

	trace := r.Explain(api.DomainAdapter, "cache", "")
	require.Len(t, trace, 2)
	assert.Equal(t, TierInferredPriority, trace[1].LostOn)
}

func TestOverrideWinsUnconditionally(t *testing.T) {
	r := New(testEnv())

	_, err := r.Register(Candidate{Domain: api.DomainAdapter, Key: "cache", Provider: "memory", StackLevel: 0})
	require.NoError(t, err)
	_, err = r.Register(Candidate{Domain: api.DomainAdapter, Key: "cache", Provider: "redis", StackLevel: 10})
	require.NoError(t, err)

	c, ok := r.Resolve(api.DomainAdapter, "cache", "memory")
	require.True(t, ok)
	assert.Equal(t, "memory", c.Provider)

	trace := r.Explain(api.DomainAdapter, "cache", "memory")
	require.Len(t, trace, 2)
	assert.Equal(t, "memory", trace[0].Candidate.Provider)
	assert.Equal(t, TierOverride, trace[1].LostOn)
}

func TestOverrideUnknownProvider(t *testing.T) {
	r := New(nil)

	_, err := r.Register(Candidate{Domain: api.DomainAdapter, Key: "cache", Provider: "memory"})
	require.NoError(t, err)

	_, ok := r.Resolve(api.DomainAdapter, "cache", "ghost")
	assert.False(t, ok)
}

func TestResolveUnknownPairIsNotAnError(t *testing.T) {
	r := New(nil)

	c, ok := r.Resolve(api.DomainTask, "missing", "")
	assert.False(t, ok)
	assert.Nil(t, c)
	assert.Nil(t, r.Explain(api.DomainTask, "missing", ""))
}

func TestReRegistrationReplacesAndKeepsLaterSeq(t *testing.T) {
	r := New(nil)

	_, err := r.Register(Candidate{Domain: api.DomainAdapter, Key: "cache", Provider: "memory", Version: "1.0"})
	require.NoError(t, err)
	replacement, err := r.Register(Candidate{Domain: api.DomainAdapter, Key: "cache", Provider: "memory", Version: "2.0"})
	require.NoError(t, err)

	assert.Equal(t, 1, r.Len())
	active, ok := r.Resolve(api.DomainAdapter, "cache", "")
	require.True(t, ok)
	assert.Equal(t, "2.0", active.Version)
	assert.Equal(t, uint64(2), replacement.Seq)
}

func TestExplainOrderMatchesResolve(t *testing.T) {
	r := New(testEnv())

	providers := []struct {
		name   string
		source string
		level  int
	}{
		{"a", "plugin", 3},
		{"b", "remote", 0},
		{"c", "local", 0},
		{"d", "local", 7},
		{"e", "unlabeled", 2},
	}
	for _, p := range providers {
		_, err := r.Register(Candidate{Domain: api.DomainTask, Key: "index", Provider: p.name, Source: p.source, StackLevel: p.level})
		require.NoError(t, err)
	}

	trace := r.Explain(api.DomainTask, "index", "")
	require.Len(t, trace, len(providers))

	active, ok := r.Resolve(api.DomainTask, "index", "")
	require.True(t, ok)
	assert.Equal(t, active.Provider, trace[0].Candidate.Provider)
	assert.True(t, trace[0].Selected)
	for _, e := range trace[1:] {
		assert.False(t, e.Selected)
		assert.NotEmpty(t, e.LostOn)
	}
}

func TestConcurrentRegistrationAtomicity(t *testing.T) {
	const workers = 8
	const perWorker = 250

	r := New(nil)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				_, err := r.Register(Candidate{
					Domain:     api.DomainAdapter,
					Key:        fmt.Sprintf("key-%d", i%16),
					Provider:   fmt.Sprintf("p-%d-%d", w, i),
					StackLevel: i % 5,
				})
				assert.NoError(t, err)
			}
		}(w)
	}
	wg.Wait()

	require.Equal(t, workers*perWorker, r.Len())

	// Sequence numbers must be unique and dense.
	seen := make(map[uint64]bool)
	for _, c := range append(r.ListActive(""), r.ListShadowed("")...) {
		assert.False(t, seen[c.Seq], "duplicate seq %d", c.Seq)
		seen[c.Seq] = true
		assert.LessOrEqual(t, c.Seq, uint64(workers*perWorker))
		assert.Greater(t, c.Seq, uint64(0))
	}
	assert.Len(t, seen, workers*perWorker)

	// Every pair's active candidate must equal the explain head, which is
	// what a single-threaded replay in seq order would have selected.
	for i := 0; i < 16; i++ {
		key := fmt.Sprintf("key-%d", i)
		active, ok := r.Resolve(api.DomainAdapter, key, "")
		require.True(t, ok)
		trace := r.Explain(api.DomainAdapter, key, "")
		require.NotEmpty(t, trace)
		assert.Equal(t, trace[0].Candidate.Identity(), active.Identity())

		// The winner has the max (stack level, seq) among contenders.
		for _, e := range trace[1:] {
			c := e.Candidate
			if c.StackLevel == active.StackLevel {
				assert.Less(t, c.Seq, active.Seq)
			} else {
				assert.Less(t, c.StackLevel, active.StackLevel)
			}
		}
	}
}
