package core

import (
	"net"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Metadata is a free-form key/value bag attached to an event. Keys are
// preserved as given but never indexed.
type Metadata map[string]string

// Keys returns the metadata keys in sorted order
func (m Metadata) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns an independent copy
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// SecurityEvent is an immutable security fact. Once recorded it is never
// updated or deleted.
type SecurityEvent struct {
	ID          string    `json:"id" example:"6f1c7d8e-3a2b-4c5d-9e8f-0a1b2c3d4e5f"`
	Timestamp   time.Time `json:"timestamp"`
	Type        EventType `json:"type" example:"AUTH_FAILURE"`
	Severity    Severity  `json:"severity" example:"MEDIUM"`
	SourceIP    string    `json:"sourceIp,omitempty" example:"203.0.113.7"`
	UserID      string    `json:"userId,omitempty" example:"u-1042"`
	Description string    `json:"description" example:"invalid password"`
	Metadata    Metadata  `json:"metadata,omitempty"`
}

// EventInput is what producers hand to RecordEvent. ID and Timestamp are
// optional and assigned by the server when absent.
type EventInput struct {
	ID          string    `json:"id,omitempty" msgpack:"id,omitempty"`
	Timestamp   time.Time `json:"timestamp,omitempty" msgpack:"timestamp,omitempty"`
	Type        EventType `json:"type" msgpack:"type"`
	Severity    Severity  `json:"severity" msgpack:"severity"`
	SourceIP    string    `json:"sourceIp,omitempty" msgpack:"sourceIp,omitempty"`
	UserID      string    `json:"userId,omitempty" msgpack:"userId,omitempty"`
	Description string    `json:"description" msgpack:"description"`
	Metadata    Metadata  `json:"metadata,omitempty" msgpack:"metadata,omitempty"`
}

// Validate checks an ingestion input without mutating it
func (in EventInput) Validate() error {
	if in.Type == "" {
		return NewValidationError("type", "is required")
	}
	if !in.Type.IsValid() {
		return NewValidationError("type", "unknown event type %q", in.Type)
	}
	if in.Severity != "" && !in.Severity.IsValid() {
		return NewValidationError("severity", "unknown severity %q", in.Severity)
	}
	if strings.TrimSpace(in.Description) == "" {
		return NewValidationError("description", "is required")
	}
	if len(in.Description) > MaxDescriptionLength {
		return NewValidationError("description", "exceeds %d characters", MaxDescriptionLength)
	}
	if in.SourceIP != "" && net.ParseIP(in.SourceIP) == nil {
		return NewValidationError("sourceIp", "%q is not an IP address", in.SourceIP)
	}
	if in.ID != "" {
		if _, err := uuid.Parse(in.ID); err != nil {
			return NewValidationError("id", "must be a UUID")
		}
	}
	if len(in.Metadata) > MaxMetadataEntries {
		return NewValidationError("metadata", "exceeds %d entries", MaxMetadataEntries)
	}
	for k := range in.Metadata {
		if k == "" || len(k) > MaxMetadataKeyLength {
			return NewValidationError("metadata", "invalid key %q", k)
		}
	}
	return nil
}

// NewSecurityEvent validates the input and builds the event to persist.
// A missing severity defaults to INFO.
func NewSecurityEvent(in EventInput, now time.Time) (*SecurityEvent, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	ev := &SecurityEvent{
		ID:          in.ID,
		Timestamp:   in.Timestamp,
		Type:        in.Type,
		Severity:    in.Severity,
		SourceIP:    in.SourceIP,
		UserID:      in.UserID,
		Description: in.Description,
		Metadata:    in.Metadata.Clone(),
	}
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = now
	}
	ev.Timestamp = ev.Timestamp.UTC()
	if ev.Severity == "" {
		ev.Severity = SeverityInfo
	}
	return ev, nil
}

// Field returns the value of a named event field. Supported names are
// type, severity, sourceIp, userId, description and metadata.<key>.
func (e *SecurityEvent) Field(name string) (string, bool) {
	switch name {
	case "type":
		return string(e.Type), true
	case "severity":
		return string(e.Severity), true
	case "sourceIp":
		return e.SourceIP, e.SourceIP != ""
	case "userId":
		return e.UserID, e.UserID != ""
	case "description":
		return e.Description, true
	}
	if key, ok := strings.CutPrefix(name, "metadata."); ok {
		v, exists := e.Metadata[key]
		return v, exists
	}
	return "", false
}

// IsKnownField reports whether Field understands name
func IsKnownField(name string) bool {
	switch name {
	case "type", "severity", "sourceIp", "userId", "description":
		return true
	}
	key, ok := strings.CutPrefix(name, "metadata.")
	return ok && key != ""
}
