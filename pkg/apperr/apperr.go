// Package apperr defines the error taxonomy shared by all services.
// Handlers map these to HTTP statuses; services never return raw
// storage errors for conditions a caller can act on.
package apperr

import (
	"fmt"

	"github.com/google/uuid"
)

// ValidationError reports missing or invalid input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// Validation builds a ValidationError for a field.
func Validation(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// AlreadyQueuedError reports that the job seeker already holds an active
// queue entry. It carries enough context for the client to offer
// "resume existing queue" versus "leave current queue first".
type AlreadyQueuedError struct {
	BoothID  uuid.UUID
	Position int
	Status   string
}

func (e *AlreadyQueuedError) Error() string {
	return fmt.Sprintf("already queued at booth %s (position %d, status %s)", e.BoothID, e.Position, e.Status)
}

// InvalidTransitionError reports a state machine violation: either the
// requested transition is not in the graph, or a concurrent writer won
// the compare-and-set race.
type InvalidTransitionError struct {
	Entity string // "queue entry", "meeting", "call session", "interpreter request"
	From   string
	To     string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid %s transition: %s -> %s", e.Entity, e.From, e.To)
}

// InvalidTransition builds an InvalidTransitionError.
func InvalidTransition(entity, from, to string) *InvalidTransitionError {
	return &InvalidTransitionError{Entity: entity, From: from, To: to}
}

// ConcurrencyError reports that the single-retry budget for an admission
// race was exhausted.
type ConcurrencyError struct {
	Op string
}

func (e *ConcurrencyError) Error() string {
	return "concurrency: retry budget exhausted for " + e.Op
}

// NotFoundError reports an absent entry, meeting or call.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.ID)
}

// NotFound builds a NotFoundError.
func NotFound(entity, id string) *NotFoundError {
	return &NotFoundError{Entity: entity, ID: id}
}

// PermissionError reports a role or ownership check failure.
type PermissionError struct {
	Reason string
}

func (e *PermissionError) Error() string {
	return "permission denied: " + e.Reason
}

// Permission builds a PermissionError.
func Permission(reason string) *PermissionError {
	return &PermissionError{Reason: reason}
}
