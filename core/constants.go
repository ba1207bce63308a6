package core

import "time"

// Search and pagination limits
const (
	DefaultSearchLimit = 100
	MaxSearchLimit     = 1000
	DefaultPageLimit   = 50
	MaxPageLimit       = 1000

	// DefaultCorrelationTimeout bounds one correlation pass for a single event
	DefaultCorrelationTimeout = 2 * time.Second
	// DefaultRegexTimeout bounds a single field pattern match
	DefaultRegexTimeout = 100 * time.Millisecond

	// DefaultAnalyticsRange is used when a metrics request has no start time
	DefaultAnalyticsRange = 24 * time.Hour

	MaxDescriptionLength = 4096
	MaxMetadataEntries   = 64
	MaxMetadataKeyLength = 128
)

// Severity is an ordered event/alert/incident severity
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// AllSeverities lists severities from least to most severe
var AllSeverities = []Severity{SeverityInfo, SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}

// String returns the string representation
func (s Severity) String() string {
	return string(s)
}

// IsValid checks if the severity is known
func (s Severity) IsValid() bool {
	return s.Rank() > 0
}

// Rank orders severities: INFO=1 ... CRITICAL=5. Unknown severities rank 0.
func (s Severity) Rank() int {
	switch s {
	case SeverityInfo:
		return 1
	case SeverityLow:
		return 2
	case SeverityMedium:
		return 3
	case SeverityHigh:
		return 4
	case SeverityCritical:
		return 5
	default:
		return 0
	}
}

// AtLeast reports whether s is as severe as min
func (s Severity) AtLeast(min Severity) bool {
	return s.Rank() >= min.Rank()
}

// EventType tags a security event. The set is open-ended: new types are
// added to knownEventTypes, everything else is rejected at ingestion.
type EventType string

const (
	EventTypeAuthFailure        EventType = "AUTH_FAILURE"
	EventTypeAuthSuccess        EventType = "AUTH_SUCCESS"
	EventTypeLogout             EventType = "LOGOUT"
	EventTypePermissionDenied   EventType = "PERMISSION_DENIED"
	EventTypeDataAccess         EventType = "DATA_ACCESS"
	EventTypeDataExport         EventType = "DATA_EXPORT"
	EventTypeKeyRotation        EventType = "KEY_ROTATION"
	EventTypeEncryption         EventType = "ENCRYPTION_OPERATION"
	EventTypeConfigChange       EventType = "CONFIG_CHANGE"
	EventTypePrivilegeChange    EventType = "PRIVILEGE_CHANGE"
	EventTypeSuspiciousActivity EventType = "SUSPICIOUS_ACTIVITY"
	EventTypeRateLimitExceeded  EventType = "RATE_LIMIT_EXCEEDED"
	EventTypeMalwareDetected    EventType = "MALWARE_DETECTED"
	EventTypePolicyViolation    EventType = "POLICY_VIOLATION"
)

var knownEventTypes = map[EventType]struct{}{
	EventTypeAuthFailure:        {},
	EventTypeAuthSuccess:        {},
	EventTypeLogout:             {},
	EventTypePermissionDenied:   {},
	EventTypeDataAccess:         {},
	EventTypeDataExport:         {},
	EventTypeKeyRotation:        {},
	EventTypeEncryption:         {},
	EventTypeConfigChange:       {},
	EventTypePrivilegeChange:    {},
	EventTypeSuspiciousActivity: {},
	EventTypeRateLimitExceeded:  {},
	EventTypeMalwareDetected:    {},
	EventTypePolicyViolation:    {},
}

// String returns the string representation
func (t EventType) String() string {
	return string(t)
}

// IsValid checks the type against the allow-list
func (t EventType) IsValid() bool {
	_, ok := knownEventTypes[t]
	return ok
}

// KnownEventTypes returns the allow-list in no particular order
func KnownEventTypes() []EventType {
	types := make([]EventType, 0, len(knownEventTypes))
	for t := range knownEventTypes {
		types = append(types, t)
	}
	return types
}

// AlertStatus represents the status of an alert
type AlertStatus string

const (
	// AlertStatusOpen is a newly raised alert that still accepts evidence
	AlertStatusOpen AlertStatus = "OPEN"
	// AlertStatusInvestigating is an alert an operator has picked up
	AlertStatusInvestigating AlertStatus = "INVESTIGATING"
	// AlertStatusResolved is terminal
	AlertStatusResolved AlertStatus = "RESOLVED"
	// AlertStatusDismissed is terminal; the alert was a false positive
	AlertStatusDismissed AlertStatus = "DISMISSED"
)

// String returns the string representation
func (s AlertStatus) String() string {
	return string(s)
}

// IsValid checks if the status is valid
func (s AlertStatus) IsValid() bool {
	switch s {
	case AlertStatusOpen, AlertStatusInvestigating, AlertStatusResolved, AlertStatusDismissed:
		return true
	default:
		return false
	}
}

// IsLive reports whether an alert in this status can still absorb evidence
func (s AlertStatus) IsLive() bool {
	return s == AlertStatusOpen || s == AlertStatusInvestigating
}

// ResolutionType classifies how an alert was closed
type ResolutionType string

const (
	ResolutionFixed         ResolutionType = "FIXED"
	ResolutionMitigated     ResolutionType = "MITIGATED"
	ResolutionAcceptedRisk  ResolutionType = "ACCEPTED_RISK"
	ResolutionDuplicate     ResolutionType = "DUPLICATE"
	ResolutionFalsePositive ResolutionType = "FALSE_POSITIVE"
)

// IsValid checks if the resolution type is valid
func (r ResolutionType) IsValid() bool {
	switch r {
	case ResolutionFixed, ResolutionMitigated, ResolutionAcceptedRisk, ResolutionDuplicate, ResolutionFalsePositive:
		return true
	default:
		return false
	}
}

// IncidentStatus represents the response status of an incident
type IncidentStatus string

const (
	IncidentStatusDetected     IncidentStatus = "DETECTED"
	IncidentStatusAcknowledged IncidentStatus = "ACKNOWLEDGED"
	IncidentStatusContained    IncidentStatus = "CONTAINED"
	IncidentStatusEradicated   IncidentStatus = "ERADICATED"
	IncidentStatusRecovered    IncidentStatus = "RECOVERED"
	IncidentStatusClosed       IncidentStatus = "CLOSED"
)

// incidentStatusOrder is the forward order of the incident state machine
var incidentStatusOrder = map[IncidentStatus]int{
	IncidentStatusDetected:     1,
	IncidentStatusAcknowledged: 2,
	IncidentStatusContained:    3,
	IncidentStatusEradicated:   4,
	IncidentStatusRecovered:    5,
	IncidentStatusClosed:       6,
}

// String returns the string representation
func (s IncidentStatus) String() string {
	return string(s)
}

// IsValid checks if the status is valid
func (s IncidentStatus) IsValid() bool {
	_, ok := incidentStatusOrder[s]
	return ok
}

// Order returns the position in the forward state order (0 if unknown)
func (s IncidentStatus) Order() int {
	return incidentStatusOrder[s]
}

// IncidentPhase is an advisory response-phase label
type IncidentPhase string

const (
	PhaseIdentification IncidentPhase = "IDENTIFICATION"
	PhaseContainment    IncidentPhase = "CONTAINMENT"
	PhaseEradication    IncidentPhase = "ERADICATION"
	PhaseRecovery       IncidentPhase = "RECOVERY"
	PhaseLessonsLearned IncidentPhase = "LESSONS_LEARNED"
)

// IsValid checks if the phase is valid
func (p IncidentPhase) IsValid() bool {
	switch p {
	case PhaseIdentification, PhaseContainment, PhaseEradication, PhaseRecovery, PhaseLessonsLearned:
		return true
	default:
		return false
	}
}

// SuggestedPhase returns the phase that usually accompanies a status
func SuggestedPhase(status IncidentStatus) IncidentPhase {
	switch status {
	case IncidentStatusContained:
		return PhaseContainment
	case IncidentStatusEradicated:
		return PhaseEradication
	case IncidentStatusRecovered:
		return PhaseRecovery
	case IncidentStatusClosed:
		return PhaseLessonsLearned
	default:
		return PhaseIdentification
	}
}

// Timeline actions recorded automatically by the incident manager
const (
	TimelineIncidentCreated = "INCIDENT_CREATED"
	TimelineStatusChanged   = "STATUS_CHANGED"
	TimelinePhaseChanged    = "PHASE_CHANGED"
	TimelineAlertLinked     = "ALERT_LINKED"
	TimelineArtifactAdded   = "ARTIFACT_ADDED"
	TimelineAssigned        = "ASSIGNED"
	TimelineResolved        = "INCIDENT_RESOLVED"
)
