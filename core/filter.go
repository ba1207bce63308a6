package core

import "time"

// TimeRange is a closed interval. Zero bounds are open.
type TimeRange struct {
	Start time.Time `json:"start,omitempty"`
	End   time.Time `json:"end,omitempty"`
}

// Contains reports whether t falls in the range
func (r TimeRange) Contains(t time.Time) bool {
	if !r.Start.IsZero() && t.Before(r.Start) {
		return false
	}
	if !r.End.IsZero() && t.After(r.End) {
		return false
	}
	return true
}

// Validate rejects inverted ranges
func (r TimeRange) Validate() error {
	if !r.Start.IsZero() && !r.End.IsZero() && r.End.Before(r.Start) {
		return NewValidationError("endTime", "must not be before startTime")
	}
	return nil
}

// DefaultRange fills a missing start with end-DefaultAnalyticsRange and a
// missing end with now.
func (r TimeRange) DefaultRange(now time.Time) TimeRange {
	out := r
	if out.End.IsZero() {
		out.End = now
	}
	if out.Start.IsZero() {
		out.Start = out.End.Add(-DefaultAnalyticsRange)
	}
	return out
}

// Pagination selects a page of results
type Pagination struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// Normalize clamps limit into [1, MaxPageLimit], defaulting to DefaultPageLimit
func (p Pagination) Normalize() Pagination {
	if p.Limit <= 0 {
		p.Limit = DefaultPageLimit
	}
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// Page is one page of a filtered listing
type Page[T any] struct {
	Items  []T   `json:"items"`
	Total  int64 `json:"total"`
	Limit  int   `json:"limit"`
	Offset int   `json:"offset"`
}

// SortOrder for event queries
type SortOrder string

const (
	SortDesc SortOrder = "desc"
	SortAsc  SortOrder = "asc"
)

// EventSort chooses the ordering of event query results. Only timestamp
// ordering is supported; ties break on id.
type EventSort struct {
	Order SortOrder `json:"order"`
}

// EventFilter is a conjunction over indexed event fields
type EventFilter struct {
	Types      []EventType `json:"types,omitempty"`
	Severities []Severity  `json:"severities,omitempty"`
	UserID     string      `json:"userId,omitempty"`
	SourceIP   string      `json:"sourceIp,omitempty"`
	Range      TimeRange   `json:"range"`
}

// Validate checks enum values and range ordering
func (f EventFilter) Validate() error {
	for _, t := range f.Types {
		if !t.IsValid() {
			return NewValidationError("type", "unknown event type %q", t)
		}
	}
	for _, s := range f.Severities {
		if !s.IsValid() {
			return NewValidationError("severity", "unknown severity %q", s)
		}
	}
	return f.Range.Validate()
}

// Matches applies the filter to a single event in memory
func (f EventFilter) Matches(e *SecurityEvent) bool {
	if len(f.Types) > 0 && !containsType(f.Types, e.Type) {
		return false
	}
	if len(f.Severities) > 0 && !containsSeverity(f.Severities, e.Severity) {
		return false
	}
	if f.UserID != "" && e.UserID != f.UserID {
		return false
	}
	if f.SourceIP != "" && e.SourceIP != f.SourceIP {
		return false
	}
	return f.Range.Contains(e.Timestamp)
}

// SearchQuery is an ad-hoc investigation query: free text matched against
// description, user, source IP and metadata values, optionally narrowed by
// a structured filter.
type SearchQuery struct {
	Text   string      `json:"query"`
	Filter EventFilter `json:"filter"`
	Limit  int         `json:"limit"`
}

// NormalizedLimit applies the default cap of DefaultSearchLimit
func (q SearchQuery) NormalizedLimit() int {
	if q.Limit <= 0 {
		return DefaultSearchLimit
	}
	if q.Limit > MaxSearchLimit {
		return MaxSearchLimit
	}
	return q.Limit
}

// AlertFilter selects alerts for listing
type AlertFilter struct {
	Statuses          []AlertStatus `json:"statuses,omitempty"`
	Severities        []Severity    `json:"severities,omitempty"`
	AssignedTo        string        `json:"assignedTo,omitempty"`
	CorrelationRuleID string        `json:"correlationRule,omitempty"`
	Range             TimeRange     `json:"range"`
}

// Validate checks enum values and range ordering
func (f AlertFilter) Validate() error {
	for _, s := range f.Statuses {
		if !s.IsValid() {
			return NewValidationError("status", "unknown alert status %q", s)
		}
	}
	for _, s := range f.Severities {
		if !s.IsValid() {
			return NewValidationError("severity", "unknown severity %q", s)
		}
	}
	return f.Range.Validate()
}

// IncidentFilter selects incidents for listing
type IncidentFilter struct {
	Statuses   []IncidentStatus `json:"statuses,omitempty"`
	Severities []Severity       `json:"severities,omitempty"`
	Types      []string         `json:"types,omitempty"`
	Phases     []IncidentPhase  `json:"phases,omitempty"`
	AssignedTo string           `json:"assignedTo,omitempty"`
	Range      TimeRange        `json:"range"`
}

// Validate checks enum values and range ordering
func (f IncidentFilter) Validate() error {
	for _, s := range f.Statuses {
		if !s.IsValid() {
			return NewValidationError("status", "unknown incident status %q", s)
		}
	}
	for _, s := range f.Severities {
		if !s.IsValid() {
			return NewValidationError("severity", "unknown severity %q", s)
		}
	}
	for _, p := range f.Phases {
		if !p.IsValid() {
			return NewValidationError("phase", "unknown phase %q", p)
		}
	}
	return f.Range.Validate()
}

func containsType(types []EventType, t EventType) bool {
	for _, x := range types {
		if x == t {
			return true
		}
	}
	return false
}

func containsSeverity(sevs []Severity, s Severity) bool {
	for _, x := range sevs {
		if x == s {
			return true
		}
	}
	return false
}
