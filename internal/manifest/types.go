package manifest

import (
	"fmt"

	"oneiric/internal/api"

	"sigs.k8s.io/yaml"
)

// Manifest is a remote document listing candidates for registration,
// optionally Ed25519-signed. The wire format is YAML or JSON; both decode
// through the same JSON-tagged structs.
type Manifest struct {
	// Source labels every candidate registered from this manifest.
	Source string `json:"source" validate:"required"`

	Entries []Entry `json:"entries" validate:"required,min=1,dive"`

	// Signature is the base64 Ed25519 signature over the canonical form
	// (the manifest with signature fields removed, serialized as
	// sorted-key compact JSON).
	Signature          string `json:"signature,omitempty"`
	SignatureAlgorithm string `json:"signature_algorithm,omitempty" validate:"omitempty,oneof=ed25519"`
}

// Entry describes one candidate inside a manifest.
type Entry struct {
	Domain   string `json:"domain" validate:"required"`
	Key      string `json:"key" validate:"required"`
	Provider string `json:"provider" validate:"required"`

	// Factory is the reference string resolved through the factory
	// dispatch table, subject to the allowlist.
	Factory string `json:"factory" validate:"required"`

	// URI optionally points at an artifact to fetch and cache. HTTP(S) or
	// a file path inside the cache directory.
	URI string `json:"uri,omitempty"`

	// SHA256 is the hex digest the fetched artifact must match.
	SHA256 string `json:"sha256,omitempty" validate:"omitempty,len=64,hexadecimal"`

	StackLevel int    `json:"stack_level,omitempty"`
	Priority   int    `json:"priority,omitempty"`
	Version    string `json:"version,omitempty"`

	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// Typed metadata groups (v2).
	Capabilities    []string     `json:"capabilities,omitempty"`
	Owner           string       `json:"owner,omitempty"`
	RequiresSecrets []string     `json:"requires_secrets,omitempty"`
	SettingsModel   string       `json:"settings_model,omitempty"`
	SideEffectFree  *bool        `json:"side_effect_free,omitempty"`
	TimeoutSeconds  float64      `json:"timeout_seconds,omitempty" validate:"omitempty,gte=0"`
	RetryPolicy     *RetryPolicy `json:"retry_policy,omitempty"`
	Requires        []string     `json:"requires,omitempty"`
	ConflictsWith   []string     `json:"conflicts_with,omitempty"`
	PythonVersion   string       `json:"python_version,omitempty"`
	OSPlatform      []string     `json:"os_platform,omitempty" validate:"omitempty,dive,oneof=linux darwin windows"`
	License         string       `json:"license,omitempty"`
	Documentation   string       `json:"documentation,omitempty" validate:"omitempty,url"`

	// Event-domain metadata.
	EventTopics       []string      `json:"event_topics,omitempty"`
	EventFilters      []EventFilter `json:"event_filters,omitempty" validate:"omitempty,dive"`
	EventPriority     int           `json:"event_priority,omitempty"`
	EventFanoutPolicy string        `json:"event_fanout_policy,omitempty" validate:"omitempty,oneof=broadcast exclusive"`

	// Workflow-domain metadata, consumed by an external executor.
	Workflow *WorkflowDAG `json:"workflow,omitempty"`
}

// RetryPolicy is the wire form of a retry policy attached to an entry.
// Delays are in seconds.
type RetryPolicy struct {
	Attempts             int     `json:"attempts,omitempty" validate:"omitempty,gte=0"`
	BaseDelay            float64 `json:"base_delay,omitempty" validate:"omitempty,gte=0"`
	MaxDelay             float64 `json:"max_delay,omitempty" validate:"omitempty,gte=0"`
	Jitter               float64 `json:"jitter,omitempty" validate:"omitempty,gte=0,lte=1"`
	RetriableStatusCodes []int   `json:"retriable_status_codes,omitempty"`
}

// EventFilter matches event payloads by path. Exactly one of Equals,
// AnyOf or Exists is meaningful per filter.
type EventFilter struct {
	Path   string        `json:"path" validate:"required"`
	Equals interface{}   `json:"equals,omitempty"`
	AnyOf  []interface{} `json:"any_of,omitempty"`
	Exists *bool         `json:"exists,omitempty"`
}

// WorkflowDAG is the workflow graph carried by workflow-domain entries.
type WorkflowDAG struct {
	Nodes       []WorkflowNode `json:"nodes" validate:"required,min=1,dive"`
	RetryPolicy *RetryPolicy   `json:"retry_policy,omitempty"`
	Scheduler   string         `json:"scheduler,omitempty"`
}

// WorkflowNode is one node of a workflow DAG.
type WorkflowNode struct {
	ID        string                 `json:"id" validate:"required"`
	Uses      string                 `json:"uses,omitempty"`
	DependsOn []string               `json:"depends_on,omitempty"`
	Params    map[string]interface{} `json:"params,omitempty"`
}

// Parse decodes a manifest from YAML or JSON bytes. Schema validation is
// separate; see Validate.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, api.NewRemoteSyncError(api.RemoteSyncParse, "", "manifest is not valid YAML or JSON", err)
	}
	return &m, nil
}

// Domain returns the entry's domain as a typed label.
func (e *Entry) DomainLabel() api.Domain {
	return api.Domain(e.Domain)
}

// AuditMetadata flattens the entry's full field set into the metadata map
// stored on the registered candidate, so explain traces carry the whole
// manifest record.
func (e *Entry) AuditMetadata() map[string]interface{} {
	out := make(map[string]interface{}, len(e.Metadata)+8)
	for k, v := range e.Metadata {
		out[k] = v
	}
	out["factory"] = e.Factory
	if e.URI != "" {
		out["uri"] = e.URI
	}
	if e.SHA256 != "" {
		out["sha256"] = e.SHA256
	}
	if len(e.Capabilities) > 0 {
		out["capabilities"] = e.Capabilities
	}
	if e.Owner != "" {
		out["owner"] = e.Owner
	}
	if len(e.RequiresSecrets) > 0 {
		out["requires_secrets"] = e.RequiresSecrets
	}
	if e.SettingsModel != "" {
		out["settings_model"] = e.SettingsModel
	}
	if e.SideEffectFree != nil {
		out["side_effect_free"] = *e.SideEffectFree
	}
	if e.TimeoutSeconds > 0 {
		out["timeout_seconds"] = e.TimeoutSeconds
	}
	if e.RetryPolicy != nil {
		out["retry_policy"] = e.RetryPolicy
	}
	if len(e.Requires) > 0 {
		out["requires"] = e.Requires
	}
	if len(e.ConflictsWith) > 0 {
		out["conflicts_with"] = e.ConflictsWith
	}
	if e.PythonVersion != "" {
		out["python_version"] = e.PythonVersion
	}
	if len(e.OSPlatform) > 0 {
		out["os_platform"] = e.OSPlatform
	}
	if e.License != "" {
		out["license"] = e.License
	}
	if e.Documentation != "" {
		out["documentation"] = e.Documentation
	}
	if len(e.EventTopics) > 0 {
		out["event_topics"] = e.EventTopics
	}
	if len(e.EventFilters) > 0 {
		out["event_filters"] = e.EventFilters
	}
	if e.EventPriority != 0 {
		out["event_priority"] = e.EventPriority
	}
	if e.EventFanoutPolicy != "" {
		out["event_fanout_policy"] = e.EventFanoutPolicy
	}
	if e.Workflow != nil {
		out["workflow"] = e.Workflow
	}
	return out
}

// String identifies an entry in logs.
func (e *Entry) String() string {
	return fmt.Sprintf("%s/%s@%s", e.Domain, e.Key, e.Provider)
}
