package orchestrator

import "errors"

var (
	// ErrResourceShortage means no account could be matched for a campaign
	// with several targets.
	ErrResourceShortage = errors.New("orchestrator: no accounts available for campaign")
	// ErrQueueExhausted marks the normal end of a campaign's target queue.
	ErrQueueExhausted = errors.New("orchestrator: target queue exhausted")
	// ErrNotFound is returned for unknown execution ids.
	ErrNotFound = errors.New("orchestrator: execution not found")
	// ErrInvalidTransition is returned when a status change is not allowed.
	ErrInvalidTransition = errors.New("orchestrator: invalid status transition")
	// ErrInvalidRequest is returned for malformed start requests.
	ErrInvalidRequest = errors.New("orchestrator: invalid request")
)
