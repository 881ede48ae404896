package factory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"oneiric/internal/api"
)

// Spec carries everything a factory needs to build an instance: the
// identity being activated, the materialized provider settings and the
// candidate metadata.
type Spec struct {
	Domain   api.Domain
	Key      string
	Provider string
	Settings interface{}
	Metadata map[string]interface{}
}

// Func builds one instance. Factories run under the lifecycle manager's
// activation timeout; long-running setup must honor the context.
type Func func(ctx context.Context, spec Spec) (interface{}, error)

// Table is the process-wide factory dispatch table. Manifest factory
// reference strings resolve through it by name; no dynamic symbol lookup
// ever happens.
type Table struct {
	mu        sync.RWMutex
	factories map[string]Func
}

// NewTable creates an empty dispatch table.
func NewTable() *Table {
	return &Table{factories: make(map[string]Func)}
}

// Register adds a factory under the given reference name. Re-registering a
// name replaces the earlier factory.
func (t *Table) Register(name string, fn Func) error {
	if name == "" {
		return fmt.Errorf("factory name cannot be empty")
	}
	if fn == nil {
		return fmt.Errorf("cannot register nil factory %q", name)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.factories[name] = fn
	return nil
}

// Lookup returns the factory registered under name.
func (t *Table) Lookup(name string) (Func, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	fn, ok := t.factories[name]
	return fn, ok
}

// Names returns the registered factory names, sorted.
func (t *Table) Names() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	names := make([]string, 0, len(t.factories))
	for name := range t.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
