// Package notify fans alert and incident lifecycle changes out to live
// sinks: the websocket hub in api and a NATS subject tree.
package notify

import (
	"context"
	"strings"
	"time"

	"watchtower/metrics"

	"go.uber.org/zap"
)

// Kind names a lifecycle change
type Kind string

const (
	AlertCreated         Kind = "alert.created"
	AlertEvidenceMerged  Kind = "alert.evidence_merged"
	AlertTransitioned    Kind = "alert.transitioned"
	AlertAssigned        Kind = "alert.assigned"
	IncidentCreated      Kind = "incident.created"
	IncidentTransitioned Kind = "incident.transitioned"
	IncidentUpdated      Kind = "incident.updated"
)

// Entity returns the entity family of the change ("alerts" or "incidents")
func (k Kind) Entity() string {
	switch k {
	case IncidentCreated, IncidentTransitioned, IncidentUpdated:
		return "incidents"
	default:
		return "alerts"
	}
}

// Action returns the part of the kind after the entity prefix
func (k Kind) Action() string {
	if _, action, ok := strings.Cut(string(k), "."); ok {
		return action
	}
	return string(k)
}

// Notification is one lifecycle change. Payload is the alert or incident
// after the change.
type Notification struct {
	Kind     Kind        `json:"kind"`
	EntityID string      `json:"entityId"`
	Severity string      `json:"severity,omitempty"`
	From     string      `json:"from,omitempty"`
	To       string      `json:"to,omitempty"`
	Actor    string      `json:"actor,omitempty"`
	At       time.Time   `json:"at"`
	Payload  interface{} `json:"payload,omitempty"`
}

// Notifier delivers notifications to one sink
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// NotifierFunc adapts a function to Notifier
type NotifierFunc func(ctx context.Context, n Notification) error

// Notify calls f
func (f NotifierFunc) Notify(ctx context.Context, n Notification) error {
	return f(ctx, n)
}

// Nop discards every notification
type Nop struct{}

// Notify does nothing
func (Nop) Notify(context.Context, Notification) error { return nil }

type namedSink struct {
	name string
	n    Notifier
}

// Multi delivers to every registered sink. A failing sink is logged and
// counted; it never affects the others or the caller.
type Multi struct {
	sinks  []namedSink
	logger *zap.SugaredLogger
}

// NewMulti creates an empty fan-out
func NewMulti(logger *zap.SugaredLogger) *Multi {
	return &Multi{logger: logger}
}

// Add registers a sink under name, used in logs and metrics
func (m *Multi) Add(name string, n Notifier) *Multi {
	m.sinks = append(m.sinks, namedSink{name: name, n: n})
	return m
}

// Len returns the number of sinks
func (m *Multi) Len() int {
	return len(m.sinks)
}

// Notify always returns nil
func (m *Multi) Notify(ctx context.Context, n Notification) error {
	for _, s := range m.sinks {
		if err := s.n.Notify(ctx, n); err != nil {
			metrics.NotificationsDropped.WithLabelValues(s.name).Inc()
			m.logger.Warnw("Notification delivery failed",
				"sink", s.name, "kind", n.Kind, "entity_id", n.EntityID, "error", err)
		}
	}
	return nil
}
