package api

import (
	"errors"
	"fmt"
	"strings"
)

// NotFoundError represents a resource not found condition with contextual
// information. It is returned whenever a lookup names a candidate,
// provider or selection that is not registered.
type NotFoundError struct {
	// ResourceType categorizes the type of resource that was not found
	// (e.g., "candidate", "provider", "factory").
	ResourceType string

	// ResourceName is the specific identifier of the resource.
	ResourceName string

	// Message provides a custom error message if the default format is
	// insufficient.
	Message string
}

// Error implements the error interface for NotFoundError.
func (e *NotFoundError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("%s %s not found", e.ResourceType, e.ResourceName)
}

// IsNotFound checks if an error is a NotFoundError using error unwrapping.
func IsNotFound(err error) bool {
	var notFoundErr *NotFoundError
	return errors.As(err, &notFoundErr)
}

// NewNotFoundError creates a new NotFoundError with the specified resource
// type and name.
func NewNotFoundError(resourceType, resourceName string) *NotFoundError {
	return &NotFoundError{
		ResourceType: resourceType,
		ResourceName: resourceName,
	}
}

// NewCandidateNotFoundError creates a candidate not found error for a
// (domain, key) pair, optionally narrowed to a provider.
func NewCandidateNotFoundError(domain Domain, key, provider string) *NotFoundError {
	name := fmt.Sprintf("%s/%s", domain, key)
	if provider != "" {
		name = fmt.Sprintf("%s/%s@%s", domain, key, provider)
	}
	return NewNotFoundError("candidate", name)
}

// LifecycleReason is the structured sub-code carried by a LifecycleError.
type LifecycleReason string

const (
	ReasonHealthFailed LifecycleReason = "health_failed"
	ReasonFactoryError LifecycleReason = "factory_error"
	ReasonHookError    LifecycleReason = "hook_error"
	ReasonCleanupError LifecycleReason = "cleanup_error"
	ReasonTimeout      LifecycleReason = "timeout"
)

// LifecycleError represents an instantiation, health, hook, cleanup or
// timeout failure during activation or swap. The Reason sub-code makes the
// failure class machine-checkable without string matching.
type LifecycleError struct {
	Reason   LifecycleReason
	Domain   Domain
	Key      string
	Provider string
	Message  string
	Err      error
}

// Error implements the error interface for LifecycleError.
func (e *LifecycleError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	return fmt.Sprintf("Swap failed: %s (%s/%s@%s, reason=%s)", msg, e.Domain, e.Key, e.Provider, e.Reason)
}

// Unwrap returns the underlying cause, if any.
func (e *LifecycleError) Unwrap() error {
	return e.Err
}

// NewLifecycleError creates a LifecycleError with the given reason and
// identity.
func NewLifecycleError(reason LifecycleReason, domain Domain, key, provider, message string, err error) *LifecycleError {
	return &LifecycleError{
		Reason:   reason,
		Domain:   domain,
		Key:      key,
		Provider: provider,
		Message:  message,
		Err:      err,
	}
}

// IsLifecycleError checks if an error is a LifecycleError, optionally
// matching a specific reason. An empty reason matches any LifecycleError.
func IsLifecycleError(err error, reason LifecycleReason) bool {
	var le *LifecycleError
	if !errors.As(err, &le) {
		return false
	}
	return reason == "" || le.Reason == reason
}

// RemoteSyncSubcode classifies a remote manifest sync failure.
type RemoteSyncSubcode string

const (
	RemoteSyncNetwork   RemoteSyncSubcode = "network"
	RemoteSyncSchema    RemoteSyncSubcode = "schema"
	RemoteSyncSignature RemoteSyncSubcode = "signature"
	RemoteSyncDigest    RemoteSyncSubcode = "digest"
	RemoteSyncParse     RemoteSyncSubcode = "parse"
)

// RemoteSyncError represents a failure in the remote manifest pipeline:
// network, schema, signature, digest or parse.
type RemoteSyncError struct {
	Subcode RemoteSyncSubcode
	URL     string
	Message string
	Err     error
}

// Error implements the error interface for RemoteSyncError.
func (e *RemoteSyncError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.URL != "" {
		return fmt.Sprintf("remote sync failed (%s): %s (url=%s)", e.Subcode, msg, e.URL)
	}
	return fmt.Sprintf("remote sync failed (%s): %s", e.Subcode, msg)
}

// Unwrap returns the underlying cause, if any.
func (e *RemoteSyncError) Unwrap() error {
	return e.Err
}

// NewRemoteSyncError creates a RemoteSyncError with the given sub-code.
func NewRemoteSyncError(subcode RemoteSyncSubcode, url, message string, err error) *RemoteSyncError {
	return &RemoteSyncError{Subcode: subcode, URL: url, Message: message, Err: err}
}

// IsRemoteSyncError checks if an error is a RemoteSyncError, optionally
// matching a specific sub-code.
func IsRemoteSyncError(err error, subcode RemoteSyncSubcode) bool {
	var re *RemoteSyncError
	if !errors.As(err, &re) {
		return false
	}
	return subcode == "" || re.Subcode == subcode
}

// PathTraversalError represents an attempt to escape the cache directory
// through an absolute path or parent-directory components.
type PathTraversalError struct {
	Path string
	Root string
}

// Error implements the error interface for PathTraversalError.
func (e *PathTraversalError) Error() string {
	return fmt.Sprintf("path %q escapes cache root %q", e.Path, e.Root)
}

// IsPathTraversal checks if an error is a PathTraversalError.
func IsPathTraversal(err error) bool {
	var pe *PathTraversalError
	return errors.As(err, &pe)
}

// FactoryForbiddenError indicates a factory reference did not match any
// allowlist pattern. No factory code runs before this check.
type FactoryForbiddenError struct {
	Factory  string
	Patterns []string
}

// Error implements the error interface for FactoryForbiddenError.
func (e *FactoryForbiddenError) Error() string {
	return fmt.Sprintf("factory %q not permitted by allowlist [%s]", e.Factory, strings.Join(e.Patterns, ", "))
}

// IsFactoryForbidden checks if an error is a FactoryForbiddenError.
func IsFactoryForbidden(err error) bool {
	var fe *FactoryForbiddenError
	return errors.As(err, &fe)
}

// ConfigError represents malformed configuration input.
type ConfigError struct {
	Field   string
	Message string
	Err     error
}

// Error implements the error interface for ConfigError.
func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("config error in %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("config error: %s", e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// NewConfigError creates a ConfigError for the given field.
func NewConfigError(field, message string, err error) *ConfigError {
	return &ConfigError{Field: field, Message: message, Err: err}
}

// IsConfigError checks if an error is a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
