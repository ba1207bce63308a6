package core

import (
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

var alertTypePattern = regexp.MustCompile(`^[A-Z][A-Z0-9_]{1,63}$`)

// RulePredicate is the declarative condition a rule applies to one event.
// All present clauses must hold. GroupBy partitions windowed counting so
// that, for example, failures are counted per user.
type RulePredicate struct {
	EventTypes    []EventType       `json:"eventTypes,omitempty" yaml:"eventTypes,omitempty"`
	MinSeverity   Severity          `json:"minSeverity,omitempty" yaml:"minSeverity,omitempty"`
	FieldPatterns map[string]string `json:"fieldPatterns,omitempty" yaml:"fieldPatterns,omitempty"`
	GroupBy       []string          `json:"groupBy,omitempty" yaml:"groupBy,omitempty"`
}

// IsEmpty reports whether no clause is set
func (p RulePredicate) IsEmpty() bool {
	return len(p.EventTypes) == 0 && p.MinSeverity == "" && len(p.FieldPatterns) == 0
}

// Matches evaluates the predicate against a single event
func (p RulePredicate) Matches(e *SecurityEvent, m *PatternMatcher) (bool, error) {
	if len(p.EventTypes) > 0 && !containsType(p.EventTypes, e.Type) {
		return false, nil
	}
	if p.MinSeverity != "" && !e.Severity.AtLeast(p.MinSeverity) {
		return false, nil
	}
	for field, pattern := range p.FieldPatterns {
		value, ok := e.Field(field)
		if !ok {
			return false, nil
		}
		matched, err := m.Match(pattern, value)
		if err != nil {
			return false, err
		}
		if !matched {
			return false, nil
		}
	}
	return true, nil
}

// GroupKey derives the window partition for an event. Events missing a
// grouped field fall in the partition with an empty component.
func (p RulePredicate) GroupKey(e *SecurityEvent) string {
	if len(p.GroupBy) == 0 {
		return ""
	}
	parts := make([]string, len(p.GroupBy))
	for i, field := range p.GroupBy {
		v, _ := e.Field(field)
		parts[i] = field + "=" + v
	}
	return strings.Join(parts, "|")
}

// CorrelationRule turns matching events into alerts. A rule fires when
// Threshold matching events fall inside a WindowSeconds window ending at
// the triggering event.
type CorrelationRule struct {
	ID                string        `json:"id" yaml:"id"`
	Name              string        `json:"name" yaml:"name"`
	Description       string        `json:"description,omitempty" yaml:"description,omitempty"`
	Enabled           bool          `json:"enabled" yaml:"enabled"`
	Predicate         RulePredicate `json:"predicate" yaml:"predicate"`
	WindowSeconds     int           `json:"windowSeconds" yaml:"windowSeconds"`
	Threshold         int           `json:"threshold" yaml:"threshold"`
	ProducedSeverity  Severity      `json:"producedSeverity" yaml:"producedSeverity"`
	ProducedAlertType string        `json:"producedAlertType" yaml:"producedAlertType"`
	CreatedAt         time.Time     `json:"createdAt" yaml:"-"`
	UpdatedAt         time.Time     `json:"updatedAt" yaml:"-"`
}

// Window returns the rule window as a duration
func (r *CorrelationRule) Window() time.Duration {
	return time.Duration(r.WindowSeconds) * time.Second
}

// IsSingleEvent reports whether the rule needs no window lookup
func (r *CorrelationRule) IsSingleEvent() bool {
	return r.Threshold <= 1
}

// Validate checks the rule definition. Patterns are compiled with m so
// that invalid expressions are rejected before the rule is stored.
func (r *CorrelationRule) Validate(m *PatternMatcher) error {
	if strings.TrimSpace(r.Name) == "" {
		return NewValidationError("name", "is required")
	}
	if len(r.Name) > 200 {
		return NewValidationError("name", "exceeds 200 characters")
	}
	if r.Threshold < 1 {
		return NewValidationError("threshold", "must be at least 1")
	}
	if r.WindowSeconds < 0 {
		return NewValidationError("windowSeconds", "must not be negative")
	}
	if r.Threshold > 1 && r.WindowSeconds == 0 {
		return NewValidationError("windowSeconds", "is required when threshold > 1")
	}
	if !r.ProducedSeverity.IsValid() {
		return NewValidationError("producedSeverity", "unknown severity %q", r.ProducedSeverity)
	}
	if !alertTypePattern.MatchString(r.ProducedAlertType) {
		return NewValidationError("producedAlertType", "must be UPPER_SNAKE_CASE")
	}
	if r.Predicate.IsEmpty() {
		return NewValidationError("predicate", "at least one of eventTypes, minSeverity or fieldPatterns is required")
	}
	for _, t := range r.Predicate.EventTypes {
		if !t.IsValid() {
			return NewValidationError("predicate.eventTypes", "unknown event type %q", t)
		}
	}
	if r.Predicate.MinSeverity != "" && !r.Predicate.MinSeverity.IsValid() {
		return NewValidationError("predicate.minSeverity", "unknown severity %q", r.Predicate.MinSeverity)
	}
	for field, pattern := range r.Predicate.FieldPatterns {
		if !IsKnownField(field) {
			return NewValidationError("predicate.fieldPatterns", "unknown field %q", field)
		}
		if m != nil {
			if err := m.Compile(pattern); err != nil {
				return NewValidationError("predicate.fieldPatterns", "%s: %v", field, err)
			}
		}
	}
	for _, field := range r.Predicate.GroupBy {
		if !IsKnownField(field) {
			return NewValidationError("predicate.groupBy", "unknown field %q", field)
		}
	}
	return nil
}

// PrepareNew assigns id and timestamps to a rule being created
func (r *CorrelationRule) PrepareNew(now time.Time) {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	r.CreatedAt = now.UTC()
	r.UpdatedAt = r.CreatedAt
}
