package core

import "fmt"

// validTransitions defines allowed state transitions for alerts
var validTransitions = map[AlertStatus][]AlertStatus{
	AlertStatusOpen:          {AlertStatusInvestigating, AlertStatusResolved, AlertStatusDismissed},
	AlertStatusInvestigating: {AlertStatusResolved, AlertStatusDismissed},
	AlertStatusResolved:      {}, // Final state
	AlertStatusDismissed:     {}, // Final state
}

// TransitionTo validates and applies an alert status change. Callers that
// need resolution bookkeeping use MarkInvestigating, Resolve or Dismiss.
func (a *SecurityAlert) TransitionTo(newStatus AlertStatus) error {
	if !newStatus.IsValid() {
		return NewValidationError("status", "unknown alert status %q", newStatus)
	}
	if !a.CanTransitionTo(newStatus) {
		return a.stateError(newStatus, fmt.Sprintf("allowed: %v", a.GetAllowedTransitions()))
	}
	a.Status = newStatus
	return nil
}

// CanTransitionTo checks if a transition is allowed without executing it
func (a *SecurityAlert) CanTransitionTo(newStatus AlertStatus) bool {
	for _, status := range validTransitions[a.Status] {
		if status == newStatus {
			return true
		}
	}
	return false
}

// GetAllowedTransitions returns all valid transitions from the current state
func (a *SecurityAlert) GetAllowedTransitions() []AlertStatus {
	allowed := validTransitions[a.Status]
	result := make([]AlertStatus, len(allowed))
	copy(result, allowed)
	return result
}

// IsFinalState checks if the alert is in a final state
func (a *SecurityAlert) IsFinalState() bool {
	allowed, exists := validTransitions[a.Status]
	return exists && len(allowed) == 0
}
