package bridge

import (
	"oneiric/internal/activity"
	"oneiric/internal/api"
	"oneiric/internal/config"
	"oneiric/internal/lifecycle"
	"oneiric/internal/manifest"
	"oneiric/internal/registry"
)

// Deps are the shared collaborators every bridge is built over.
type Deps struct {
	Registry  *registry.Registry
	Manager   *lifecycle.Manager
	Activity  *activity.Store
	Lifecycle config.LifecycleSettings
}

// NewAdapter creates the adapter-domain bridge.
func NewAdapter(deps Deps) *Bridge {
	return New(api.DomainAdapter, deps.Registry, deps.Manager, deps.Activity, deps.Lifecycle)
}

// NewService creates the service-domain bridge.
func NewService(deps Deps) *Bridge {
	return New(api.DomainService, deps.Registry, deps.Manager, deps.Activity, deps.Lifecycle)
}

// NewTask creates the task-domain bridge.
func NewTask(deps Deps) *Bridge {
	return New(api.DomainTask, deps.Registry, deps.Manager, deps.Activity, deps.Lifecycle)
}

// EventBridge is the event-domain bridge. Event candidates additionally
// carry routing metadata: topics, payload filters, priority and the
// fanout policy.
type EventBridge struct {
	*Bridge
}

// NewEvent creates the event-domain bridge.
func NewEvent(deps Deps) *EventBridge {
	return &EventBridge{Bridge: New(api.DomainEvent, deps.Registry, deps.Manager, deps.Activity, deps.Lifecycle)}
}

// Routing describes how an event candidate participates in dispatch.
// Consumed by an external dispatcher; the core only carries it.
type Routing struct {
	Topics       []string
	Filters      []manifest.EventFilter
	Priority     int
	FanoutPolicy string
	RetryPolicy  *manifest.RetryPolicy
}

// Routing returns the routing metadata of the active candidate for key.
// Candidates without routing metadata yield the zero Routing.
func (b *EventBridge) Routing(key string) (Routing, bool) {
	candidate, ok := b.registry.Resolve(b.domain, key, "")
	if !ok {
		return Routing{}, false
	}
	r := Routing{
		Topics:       stringSlice(candidate.Metadata["event_topics"]),
		Priority:     intValue(candidate.Metadata["event_priority"]),
		FanoutPolicy: stringValue(candidate.Metadata["event_fanout_policy"]),
	}
	if filters, ok := candidate.Metadata["event_filters"].([]manifest.EventFilter); ok {
		r.Filters = filters
	}
	if policy, ok := candidate.Metadata["retry_policy"].(*manifest.RetryPolicy); ok {
		r.RetryPolicy = policy
	}
	return r, true
}

// WorkflowBridge is the workflow-domain bridge. Workflow candidates may
// carry a DAG executed by an external scheduler.
type WorkflowBridge struct {
	*Bridge
}

// NewWorkflow creates the workflow-domain bridge.
func NewWorkflow(deps Deps) *WorkflowBridge {
	return &WorkflowBridge{Bridge: New(api.DomainWorkflow, deps.Registry, deps.Manager, deps.Activity, deps.Lifecycle)}
}

// DAG returns the workflow graph of the active candidate for key, when
// one is attached.
func (b *WorkflowBridge) DAG(key string) (*manifest.WorkflowDAG, bool) {
	candidate, ok := b.registry.Resolve(b.domain, key, "")
	if !ok {
		return nil, false
	}
	dag, ok := candidate.Metadata["workflow"].(*manifest.WorkflowDAG)
	return dag, ok
}

func stringSlice(v interface{}) []string {
	switch typed := v.(type) {
	case []string:
		return typed
	case []interface{}:
		out := make([]string, 0, len(typed))
		for _, item := range typed {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func stringValue(v interface{}) string {
	s, _ := v.(string)
	return s
}

func intValue(v interface{}) int {
	switch typed := v.(type) {
	case int:
		return typed
	case int64:
		return int(typed)
	case float64:
		return int(typed)
	default:
		return 0
	}
}
