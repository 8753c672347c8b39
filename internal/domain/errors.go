package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when a post does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition is returned for targets the state machine cannot reach.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrActionNotAllowed is returned when the action validator rejects a request.
	ErrActionNotAllowed = errors.New("action not allowed")
	// ErrAlreadyAssigned is returned when assigning a post that is not pending.
	ErrAlreadyAssigned = errors.New("post is already assigned")
	// ErrNotAssignedToActor is returned when an operator acts on someone else's post.
	ErrNotAssignedToActor = errors.New("post is not assigned to you")
	// ErrConflict signals a lost compare-and-set on the post status.
	ErrConflict = errors.New("concurrent status change")
	// ErrDuplicate marks an insert rejected by a unique identity constraint.
	ErrDuplicate = errors.New("duplicate post")
	// ErrMissingField is returned when a raw item lacks a required identity field.
	ErrMissingField = errors.New("missing required field")
	// ErrInvalidInput is returned for malformed request parameters.
	ErrInvalidInput = errors.New("invalid input")

	ErrSourceUnavailable = errors.New("source unavailable")
	ErrRateLimited       = errors.New("rate limited")
	ErrAuthFailed        = errors.New("authentication failed")
	ErrPostFailed        = errors.New("reply post failed")

	// ErrJobRunning is returned by a manual trigger while the job is in flight.
	ErrJobRunning = errors.New("job already running")
)

// RateLimitError carries the wait hint of a rate-limited upstream.
type RateLimitError struct {
	RetryAfter time.Duration
	Message    string
}

func (e *RateLimitError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("rate limited: %s (retry after %s)", e.Message, e.RetryAfter)
	}
	return fmt.Sprintf("rate limited (retry after %s)", e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// ActionError explains why the validator rejected an action.
type ActionError struct {
	Status  Status
	Action  Action
	Blocked bool
	Allowed []Action
	Detail  string
}

func (e *ActionError) Error() string {
	if e.Detail != "" {
		return e.Detail
	}
	verb := "not allowed"
	if e.Blocked {
		verb = "blocked"
	}
	names := make([]string, len(e.Allowed))
	for i, a := range e.Allowed {
		names[i] = string(a)
	}
	return fmt.Sprintf("action %q is %s for posts in %q status (allowed: %s)",
		e.Action, verb, e.Status, strings.Join(names, ", "))
}

func (e *ActionError) Unwrap() error { return ErrActionNotAllowed }
