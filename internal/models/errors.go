package models

import "errors"

// Sentinel errors shared across packages.
var (
	// ErrExtractionDegraded marks a record produced by a fallback tier. It is informational.
	ErrExtractionDegraded = errors.New("extraction degraded to a fallback tier")
	// ErrConversionUnavailable is returned when no exchange rate could be obtained.
	ErrConversionUnavailable = errors.New("currency conversion unavailable")
	// ErrPersistenceConflict is returned when a write lost a race on the same identity.
	ErrPersistenceConflict = errors.New("persistence conflict")
	// ErrCollaboratorUnavailable wraps inbox, inference or notifier outages.
	ErrCollaboratorUnavailable = errors.New("collaborator unavailable")
	// ErrValidation is returned for rejected user edits or malformed input.
	ErrValidation = errors.New("validation failed")
	// ErrSessionBusy is returned when a session already has a run in flight.
	ErrSessionBusy = errors.New("session busy")
	// ErrIllegalTransition is returned for a state change not in the transition table.
	ErrIllegalTransition = errors.New("illegal session transition")
	// ErrPendingNotFound is returned when a staged record ID is unknown.
	ErrPendingNotFound = errors.New("pending record not found")
	// ErrSessionNotFound is returned when a session ID is unknown.
	ErrSessionNotFound = errors.New("session not found")
	// ErrRecordNotFound is returned when no record exists for a message ID.
	ErrRecordNotFound = errors.New("record not found")
)
