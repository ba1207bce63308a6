package core

import (
	"fmt"
	"time"
)

// UpdateStatus moves the incident forward. Skipping states is allowed,
// moving backward or staying put is not. CLOSED is only reachable through
// Resolve, which records the mandatory resolution.
func (i *SecurityIncident) UpdateStatus(newStatus IncidentStatus, actor, description string, now time.Time) error {
	if !newStatus.IsValid() {
		return NewValidationError("status", "unknown incident status %q", newStatus)
	}
	if actor == "" {
		return NewValidationError("actor", "is required")
	}
	if err := i.ensureOpen("closed incidents are immutable"); err != nil {
		return err
	}
	if !i.CanTransitionTo(newStatus) {
		return &InvalidStateError{
			Kind:      "incident",
			ID:        i.IncidentID,
			Current:   string(i.Status),
			Requested: string(newStatus),
			Reason:    "incident status can only move forward",
		}
	}
	if newStatus == IncidentStatusClosed {
		return &InvalidStateError{
			Kind:      "incident",
			ID:        i.IncidentID,
			Current:   string(i.Status),
			Requested: string(newStatus),
			Reason:    "an incident is closed by resolving it with a root cause and actions",
		}
	}

	now = now.UTC()
	from := i.Status
	i.Status = newStatus
	i.Phase = SuggestedPhase(newStatus)
	if description == "" {
		description = fmt.Sprintf("Status changed from %s to %s", from, newStatus)
	}
	i.appendEntry(TimelineEntry{
		Timestamp:   now,
		Action:      TimelineStatusChanged,
		Description: description,
		Actor:       actor,
		Data:        map[string]interface{}{"from": string(from), "to": string(newStatus)},
	})
	i.UpdatedAt = now
	return nil
}

// CanTransitionTo reports whether newStatus is strictly ahead of the
// current status
func (i *SecurityIncident) CanTransitionTo(newStatus IncidentStatus) bool {
	return newStatus.Order() > i.Status.Order() && i.Status.IsValid()
}

// GetAllowedTransitions returns every status ahead of the current one
func (i *SecurityIncident) GetAllowedTransitions() []IncidentStatus {
	all := []IncidentStatus{
		IncidentStatusDetected, IncidentStatusAcknowledged, IncidentStatusContained,
		IncidentStatusEradicated, IncidentStatusRecovered, IncidentStatusClosed,
	}
	var out []IncidentStatus
	for _, s := range all {
		if i.CanTransitionTo(s) {
			out = append(out, s)
		}
	}
	return out
}
