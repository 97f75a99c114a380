package services

import (
	"fmt"

	"classpulse-backend/internal/models"
)

// Service errors carry just enough shape for the HTTP layer to pick a status
// code and message. Handlers translate them in one switch.

type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string { return "Validation error" }

type NotFoundError struct{ Message string }

func (e *NotFoundError) Error() string { return e.Message }

// UnauthorizedError is an identity mismatch between the caller and the
// targeted resource, such as a teacher touching someone else's session.
type UnauthorizedError struct{ Message string }

func (e *UnauthorizedError) Error() string { return e.Message }

// InvalidTransitionError reports a status change the state machine forbids.
type InvalidTransitionError struct {
	From models.StudentStatus
	To   models.StudentStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot move from %s to %s", e.From, e.To)
}

// InsufficientQuotaError rejects a batch before any student is touched.
type InsufficientQuotaError struct {
	Required  int
	Remaining int
}

func (e *InsufficientQuotaError) Error() string {
	return fmt.Sprintf("quota exhausted: %d generations requested, %d remaining", e.Required, e.Remaining)
}

type SessionNotLiveError struct{ Message string }

func (e *SessionNotLiveError) Error() string { return e.Message }

type SessionExpiredError struct{ Message string }

func (e *SessionExpiredError) Error() string { return e.Message }

// StoreUnavailableError separates "the live store is down" from "the key is
// absent". Absence is a domain answer; this is an outage, and live-session
// operations have no durable fallback.
type StoreUnavailableError struct{ Err error }

func (e *StoreUnavailableError) Error() string {
	return "live store unavailable: " + e.Err.Error()
}

func (e *StoreUnavailableError) Unwrap() error { return e.Err }

func storeErr(err error) error {
	return &StoreUnavailableError{Err: err}
}
