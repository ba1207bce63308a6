package core

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// AlertResolution records how and by whom an alert was closed
type AlertResolution struct {
	ResolvedBy     string         `json:"resolvedBy"`
	ResolutionType ResolutionType `json:"resolutionType"`
	Notes          string         `json:"notes,omitempty"`
	ResolvedAt     time.Time      `json:"resolvedAt"`
}

// SecurityAlert is raised by a correlation rule (or manually) and tracked
// through the alert lifecycle. Version increases on every persisted change
// and guards concurrent writers.
type SecurityAlert struct {
	AlertID           string           `json:"alertId"`
	CorrelationRuleID string           `json:"correlationRuleId,omitempty"`
	GroupKey          string           `json:"groupKey,omitempty"`
	Type              string           `json:"type" example:"BRUTE_FORCE"`
	Severity          Severity         `json:"severity"`
	Status            AlertStatus      `json:"status"`
	Title             string           `json:"title"`
	EvidenceEventIDs  []string         `json:"evidenceEventIds"`
	FirstSeen         time.Time        `json:"firstSeen"`
	LastSeen          time.Time        `json:"lastSeen"`
	AssignedTo        string           `json:"assignedTo,omitempty"`
	Resolution        *AlertResolution `json:"resolution,omitempty"`
	CreatedBy         string           `json:"createdBy,omitempty"`
	UpdatedAt         time.Time        `json:"updatedAt"`
	Version           int64            `json:"version"`
}

// NewRuleAlert builds the alert a rule raises for its first matching event
func NewRuleAlert(rule *CorrelationRule, event *SecurityEvent, groupKey string, now time.Time) *SecurityAlert {
	title := rule.Name
	if groupKey != "" {
		title += " (" + groupKey + ")"
	}
	return &SecurityAlert{
		AlertID:           uuid.New().String(),
		CorrelationRuleID: rule.ID,
		GroupKey:          groupKey,
		Type:              rule.ProducedAlertType,
		Severity:          rule.ProducedSeverity,
		Status:            AlertStatusOpen,
		Title:             title,
		EvidenceEventIDs:  []string{event.ID},
		FirstSeen:         event.Timestamp,
		LastSeen:          event.Timestamp,
		CreatedBy:         "correlation",
		UpdatedAt:         now.UTC(),
	}
}

// ManualAlertInput is an operator-raised alert
type ManualAlertInput struct {
	Type             string   `json:"type"`
	Severity         Severity `json:"severity"`
	Title            string   `json:"title"`
	EvidenceEventIDs []string `json:"evidenceEventIds,omitempty"`
	AssignedTo       string   `json:"assignedTo,omitempty"`
}

// NewManualAlert validates the input and builds an OPEN alert with no rule
func NewManualAlert(in ManualAlertInput, actor string, now time.Time) (*SecurityAlert, error) {
	if !alertTypePattern.MatchString(in.Type) {
		return nil, NewValidationError("type", "must be UPPER_SNAKE_CASE")
	}
	if !in.Severity.IsValid() {
		return nil, NewValidationError("severity", "unknown severity %q", in.Severity)
	}
	if strings.TrimSpace(in.Title) == "" {
		return nil, NewValidationError("title", "is required")
	}
	if actor == "" {
		return nil, NewValidationError("actor", "is required")
	}
	now = now.UTC()
	evidence := make([]string, 0, len(in.EvidenceEventIDs))
	for _, id := range in.EvidenceEventIDs {
		if !containsString(evidence, id) {
			evidence = append(evidence, id)
		}
	}
	return &SecurityAlert{
		AlertID:          uuid.New().String(),
		Type:             in.Type,
		Severity:         in.Severity,
		Status:           AlertStatusOpen,
		Title:            in.Title,
		EvidenceEventIDs: evidence,
		FirstSeen:        now,
		LastSeen:         now,
		AssignedTo:       in.AssignedTo,
		CreatedBy:        actor,
		UpdatedAt:        now,
	}, nil
}

// IsLiveFor reports whether the alert can absorb an event at time at for a
// rule with the given window
func (a *SecurityAlert) IsLiveFor(window time.Duration, at time.Time) bool {
	if !a.Status.IsLive() {
		return false
	}
	return at.Sub(a.LastSeen) <= window
}

// AppendEvidence merges an event into the alert. Re-adding a known event
// is a no-op. LastSeen only moves forward and FirstSeen only moves back.
func (a *SecurityAlert) AppendEvidence(eventID string, seen time.Time, now time.Time) error {
	if !a.Status.IsLive() {
		return a.stateError("", "evidence can only be added to OPEN or INVESTIGATING alerts")
	}
	if containsString(a.EvidenceEventIDs, eventID) {
		return nil
	}
	a.EvidenceEventIDs = append(a.EvidenceEventIDs, eventID)
	if seen.After(a.LastSeen) {
		a.LastSeen = seen
	}
	if seen.Before(a.FirstSeen) {
		a.FirstSeen = seen
	}
	a.UpdatedAt = now.UTC()
	return nil
}

// MarkInvestigating moves OPEN -> INVESTIGATING and assigns the actor when
// the alert is unassigned
func (a *SecurityAlert) MarkInvestigating(actor string, now time.Time) error {
	if err := a.TransitionTo(AlertStatusInvestigating); err != nil {
		return err
	}
	if a.AssignedTo == "" {
		a.AssignedTo = actor
	}
	a.UpdatedAt = now.UTC()
	return nil
}

// ResolveInput carries the operator's resolution
type ResolveInput struct {
	ResolvedBy     string         `json:"resolvedBy"`
	ResolutionType ResolutionType `json:"resolutionType"`
	Notes          string         `json:"notes,omitempty"`
}

// Resolve closes the alert as RESOLVED. A missing resolution type defaults
// to FIXED.
func (a *SecurityAlert) Resolve(in ResolveInput, now time.Time) error {
	if in.ResolvedBy == "" {
		return NewValidationError("resolvedBy", "is required")
	}
	if in.ResolutionType == "" {
		in.ResolutionType = ResolutionFixed
	}
	if !in.ResolutionType.IsValid() {
		return NewValidationError("resolutionType", "unknown resolution type %q", in.ResolutionType)
	}
	if err := a.TransitionTo(AlertStatusResolved); err != nil {
		return err
	}
	now = now.UTC()
	a.Resolution = &AlertResolution{
		ResolvedBy:     in.ResolvedBy,
		ResolutionType: in.ResolutionType,
		Notes:          in.Notes,
		ResolvedAt:     now,
	}
	a.UpdatedAt = now
	return nil
}

// Dismiss closes the alert as a false positive
func (a *SecurityAlert) Dismiss(actor, notes string, now time.Time) error {
	if actor == "" {
		return NewValidationError("actor", "is required")
	}
	if err := a.TransitionTo(AlertStatusDismissed); err != nil {
		return err
	}
	now = now.UTC()
	a.Resolution = &AlertResolution{
		ResolvedBy:     actor,
		ResolutionType: ResolutionFalsePositive,
		Notes:          notes,
		ResolvedAt:     now,
	}
	a.UpdatedAt = now
	return nil
}

// Assign changes the assignee of a live alert
func (a *SecurityAlert) Assign(assignee string, now time.Time) error {
	if !a.Status.IsLive() {
		return a.stateError("", "closed alerts cannot be reassigned")
	}
	a.AssignedTo = assignee
	a.UpdatedAt = now.UTC()
	return nil
}

// ResolutionDuration returns resolvedAt - firstSeen for resolved alerts
func (a *SecurityAlert) ResolutionDuration() (time.Duration, bool) {
	if a.Status != AlertStatusResolved || a.Resolution == nil {
		return 0, false
	}
	return a.Resolution.ResolvedAt.Sub(a.FirstSeen), true
}

func (a *SecurityAlert) stateError(requested AlertStatus, reason string) *InvalidStateError {
	return &InvalidStateError{
		Kind:      "alert",
		ID:        a.AlertID,
		Current:   string(a.Status),
		Requested: string(requested),
		Reason:    reason,
	}
}

func containsString(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}
