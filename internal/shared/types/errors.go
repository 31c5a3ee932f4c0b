package types

import (
	"errors"
	"fmt"
)

// Error taxonomy for lifecycle operations. Every failure surfaced by the
// engine is one of these; callers dispatch with errors.As or the Is*
// helpers rather than matching message text.

// ValidationError rejects malformed input before any mutation: illegal slug
// grammar, duplicate slug or port, unknown type, bad port range.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

// NotFoundError means the operation referenced a slug (or its unit) that
// does not exist. No mutation was performed.
type NotFoundError struct {
	Slug string
	// Resource names what was missing: "app", "unit", "logs".
	Resource string
}

func (e *NotFoundError) Error() string {
	res := e.Resource
	if res == "" {
		res = "app"
	}
	return fmt.Sprintf("%s %q not found", res, e.Slug)
}

// ToolErrorKind classifies an external tool failure.
type ToolErrorKind string

const (
	ToolFailed     ToolErrorKind = "failed"
	ToolTimeout    ToolErrorKind = "timeout"
	ToolPermission ToolErrorKind = "permission-denied"
	ToolMissing    ToolErrorKind = "not-found"
)

// ExternalToolError wraps a supervisor or proxy command that failed or
// timed out. Raised mid-orchestration it triggers compensating rollback.
type ExternalToolError struct {
	Tool   string // "systemctl", "journalctl", "nginx"
	Verb   string // "start", "reload", "-t", ...
	Kind   ToolErrorKind
	Detail string
	Err    error
}

func (e *ExternalToolError) Error() string {
	msg := fmt.Sprintf("%s %s: %s", e.Tool, e.Verb, e.Kind)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *ExternalToolError) Unwrap() error { return e.Err }

// ConfigRenderError means a rendered unit or route artifact failed to
// render or failed its target's own syntax validation. Caught before any
// active state changes.
type ConfigRenderError struct {
	Artifact string // "unit" or "route"
	Slug     string
	Detail   string
	Err      error
}

func (e *ConfigRenderError) Error() string {
	return fmt.Sprintf("render %s for %q: %s", e.Artifact, e.Slug, e.Detail)
}

func (e *ConfigRenderError) Unwrap() error { return e.Err }

// ConcurrencyError means the registry mutation lost the optimistic-write
// race more times than the bounded retry allows. Retryable by the caller.
type ConcurrencyError struct {
	Resource string
}

func (e *ConcurrencyError) Error() string {
	return fmt.Sprintf("concurrent modification of %s, retry", e.Resource)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var n *NotFoundError
	return errors.As(err, &n)
}

// IsTimeout reports whether err is an ExternalToolError of kind timeout.
func IsTimeout(err error) bool {
	var t *ExternalToolError
	return errors.As(err, &t) && t.Kind == ToolTimeout
}
