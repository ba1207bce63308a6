package storage

import (
	"errors"
	"fmt"

	"watchtower/core"
)

// Storage error constants. Stores return them joined with the matching
// core error so callers can test either.
var (
	ErrEventNotFound    = errors.New("event not found")
	ErrAlertNotFound    = errors.New("alert not found")
	ErrIncidentNotFound = errors.New("incident not found")
	ErrRuleNotFound     = errors.New("correlation rule not found")

	// ErrConcurrentModification is returned when a versioned write loses a race
	ErrConcurrentModification = errors.New("concurrent modification")

	// ErrDuplicateEvent is returned when an event id is recorded twice
	ErrDuplicateEvent = errors.New("event already recorded")
)

func notFound(sentinel error, kind, id string) error {
	return fmt.Errorf("%w: %w", sentinel, &core.NotFoundError{Kind: kind, ID: id})
}

// conflict reports a lost compare-and-swap with the state observed after it
func conflict(kind, id, current, requested string) error {
	return fmt.Errorf("%w: %w", ErrConcurrentModification, &core.InvalidStateError{
		Kind:      kind,
		ID:        id,
		Current:   current,
		Requested: requested,
		Reason:    "modified concurrently, re-fetch and retry",
	})
}
