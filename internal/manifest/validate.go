package manifest

import (
	"fmt"
	"strings"

	"oneiric/internal/api"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the manifest against the schema: required fields,
// well-formed digests, supported OS values, valid URIs. Violations are
// RemoteSyncErrors with the schema sub-code.
func Validate(m *Manifest) error {
	if err := validate.Struct(m); err != nil {
		return api.NewRemoteSyncError(api.RemoteSyncSchema, "", describeValidation(err), err)
	}
	for i := range m.Entries {
		e := &m.Entries[i]
		if e.URI != "" && !validURIScheme(e.URI) {
			return api.NewRemoteSyncError(api.RemoteSyncSchema, "",
				fmt.Sprintf("entry %s: artifact URI %q must be http(s) or a file path", e.String(), e.URI), nil)
		}
		if err := validateEventFilters(e); err != nil {
			return err
		}
		if err := validateWorkflow(e); err != nil {
			return err
		}
	}
	return nil
}

func validURIScheme(uri string) bool {
	if strings.HasPrefix(uri, "http://") || strings.HasPrefix(uri, "https://") {
		return true
	}
	// Anything else is treated as a file path and checked against the
	// cache root during sync.
	return !strings.Contains(uri, "://")
}

func validateEventFilters(e *Entry) error {
	for _, f := range e.EventFilters {
		set := 0
		if f.Equals != nil {
			set++
		}
		if len(f.AnyOf) > 0 {
			set++
		}
		if f.Exists != nil {
			set++
		}
		if set != 1 {
			return api.NewRemoteSyncError(api.RemoteSyncSchema, "",
				fmt.Sprintf("entry %s: event filter on %q must set exactly one of equals, any_of, exists", e.String(), f.Path), nil)
		}
	}
	return nil
}

func validateWorkflow(e *Entry) error {
	if e.Workflow == nil {
		return nil
	}
	ids := make(map[string]bool, len(e.Workflow.Nodes))
	for _, n := range e.Workflow.Nodes {
		if ids[n.ID] {
			return api.NewRemoteSyncError(api.RemoteSyncSchema, "",
				fmt.Sprintf("entry %s: duplicate workflow node id %q", e.String(), n.ID), nil)
		}
		ids[n.ID] = true
	}
	for _, n := range e.Workflow.Nodes {
		for _, dep := range n.DependsOn {
			if !ids[dep] {
				return api.NewRemoteSyncError(api.RemoteSyncSchema, "",
					fmt.Sprintf("entry %s: workflow node %q depends on unknown node %q", e.String(), n.ID, dep), nil)
			}
		}
	}
	return nil
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if ok := AsValidationErrors(err, &verrs); ok && len(verrs) > 0 {
		parts := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			parts = append(parts, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
		}
		return "schema validation failed: " + strings.Join(parts, "; ")
	}
	return "schema validation failed"
}

// AsValidationErrors unwraps validator.ValidationErrors from err.
func AsValidationErrors(err error, target *validator.ValidationErrors) bool {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return false
	}
	*target = verrs
	return true
}
