package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// HTTPError defines errors that can be mapped to HTTP status codes.
// Implementing this interface lets handlers translate domain failures
// without enumerating every concrete type.
type HTTPError interface {
	error
	StatusCode() int
}

// Sentinel errors - use with errors.Is()
var (
	ErrNotFound     = errors.New("not found")
	ErrCycle        = errors.New("cycle")
	ErrNotEmpty     = errors.New("not empty")
	ErrConflict     = errors.New("already exists")
	ErrValidation   = errors.New("validation failed")
	ErrUnauthorized = errors.New("unauthorized")
)

// NotFoundError indicates an operation referenced a target that no longer
// exists (for example a move that raced with a delete). Returned
// synchronously; no partial mutation is applied.
type NotFoundError struct {
	Kind string // "document" or "folder"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}
func (e *NotFoundError) StatusCode() int      { return http.StatusNotFound }
func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// CycleError indicates a folder reparent that would make a folder its own
// descendant's child. Rejected before any state mutation, never enqueued.
type CycleError struct {
	FolderID    string
	NewParentID string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("moving folder %s under %s would create a cycle", e.FolderID, e.NewParentID)
}
func (e *CycleError) StatusCode() int      { return http.StatusConflict }
func (e *CycleError) Is(target error) bool { return target == ErrCycle }

// NotEmptyError indicates a non-cascading delete of a folder that still has
// children.
type NotEmptyError struct {
	FolderID string
}

func (e *NotEmptyError) Error() string {
	return fmt.Sprintf("folder %s is not empty", e.FolderID)
}
func (e *NotEmptyError) StatusCode() int      { return http.StatusConflict }
func (e *NotEmptyError) Is(target error) bool { return target == ErrNotEmpty }

// ConflictError indicates a sibling name collision.
type ConflictError struct {
	Message      string
	ResourceType string // "document" or "folder"
	ResourceID   string // the existing, conflicting resource
}

func (e *ConflictError) Error() string        { return e.Message }
func (e *ConflictError) StatusCode() int      { return http.StatusConflict }
func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// ValidationError indicates invalid input.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string        { return e.Message }
func (e *ValidationError) StatusCode() int      { return http.StatusBadRequest }
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// UnauthorizedError indicates authentication failure.
type UnauthorizedError struct {
	Message string
}

func (e *UnauthorizedError) Error() string        { return e.Message }
func (e *UnauthorizedError) StatusCode() int      { return http.StatusUnauthorized }
func (e *UnauthorizedError) Is(target error) bool { return target == ErrUnauthorized }

// TransientSyncError marks a drain failure caused by unreachability
// (network error, timeout). The drainer retries it with backoff and the
// status surface shows offline, never error.
type TransientSyncError struct {
	Reason string
	Err    error
}

func (e *TransientSyncError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transient sync failure: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("transient sync failure: %s", e.Reason)
}
func (e *TransientSyncError) Unwrap() error { return e.Err }

// RejectedSyncError marks a definitive remote-side refusal (validation,
// authorization, missing target). It blocks the queue at that entry until
// explicitly cleared; silently dropping the mutation would corrupt the
// remote view of the hierarchy.
type RejectedSyncError struct {
	Reason string
	Err    error
}

func (e *RejectedSyncError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("sync rejected: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("sync rejected: %s", e.Reason)
}
func (e *RejectedSyncError) Unwrap() error { return e.Err }

// IsTransientSync reports whether err classifies as a retryable sync failure.
func IsTransientSync(err error) bool {
	var te *TransientSyncError
	return errors.As(err, &te)
}

// IsRejectedSync reports whether err classifies as a definitive remote refusal.
func IsRejectedSync(err error) bool {
	var re *RejectedSyncError
	return errors.As(err, &re)
}
