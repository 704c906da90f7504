package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the failure branches the orchestrator recovers from.
// None of these are fatal; they surface as dismissible user notices.
var (
	ErrNoTargetSelected   = errors.New("no target application selected")
	ErrAdUnavailable      = errors.New("ad source unavailable")
	ErrEntitlementCheck   = errors.New("entitlement check failed")
	ErrCatalogUnavailable = errors.New("application catalog unavailable")
)

// PermissionDeniedError reports a missing OS permission.
type PermissionDeniedError struct {
	Kind PermissionKind
}

func (e *PermissionDeniedError) Error() string {
	return fmt.Sprintf("permission denied: %s", e.Kind)
}

// AdLoadError wraps an error event from the ad SDK.
type AdLoadError struct {
	Code string
}

func (e *AdLoadError) Error() string {
	return fmt.Sprintf("ad load failed: %s", e.Code)
}

// NoFill reports whether the error means "no inventory available",
// which warrants a longer retry backoff than a generic failure.
func (e *AdLoadError) NoFill() bool {
	return strings.Contains(strings.ToLower(e.Code), "no-fill")
}

// PersistenceError wraps a failed durable write. The in-memory state is
// kept (optimistic); callers log and notify but do not roll back.
type PersistenceError struct {
	Key string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Key, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
