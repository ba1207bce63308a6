package storage

import (
	"context"
	"time"

	"watchtower/core"
)

// EventStore is the append-only event log. Events are never updated.
type EventStore interface {
	InsertEvent(ctx context.Context, event *core.SecurityEvent) error
	GetEvent(ctx context.Context, id string) (*core.SecurityEvent, error)
	QueryEvents(ctx context.Context, filter core.EventFilter, page core.Pagination, sort core.EventSort) (*core.Page[core.SecurityEvent], error)
	SearchEvents(ctx context.Context, query core.SearchQuery) ([]core.SecurityEvent, error)
	// ScanEvents streams events matching filter in ascending timestamp order.
	// fn must not call back into the store; returning false stops the scan.
	ScanEvents(ctx context.Context, filter core.EventFilter, fn func(*core.SecurityEvent) bool) error
	CountByType(ctx context.Context, r core.TimeRange) ([]core.CountEntry, error)
	CountBySeverity(ctx context.Context, r core.TimeRange) ([]core.CountEntry, error)
	// TopValues returns the most frequent non-empty values of sourceIp or userId
	TopValues(ctx context.Context, field string, r core.TimeRange, limit int) ([]core.CountEntry, error)
	Close() error
}

// AlertStore persists alerts with optimistic concurrency on Version
type AlertStore interface {
	CreateAlert(ctx context.Context, alert *core.SecurityAlert) error
	GetAlert(ctx context.Context, id string) (*core.SecurityAlert, error)
	// UpdateAlert writes alert if the stored version still equals
	// expectedVersion, then sets alert.Version to the new version. A lost
	// race returns a core.InvalidStateError carrying the stored status.
	UpdateAlert(ctx context.Context, alert *core.SecurityAlert, expectedVersion int64) error
	// FindLiveAlert returns the most recent OPEN or INVESTIGATING alert for
	// (ruleID, groupKey) whose lastSeen is not before since, or nil.
	FindLiveAlert(ctx context.Context, ruleID, groupKey string, since time.Time) (*core.SecurityAlert, error)
	ListAlerts(ctx context.Context, filter core.AlertFilter, page core.Pagination) (*core.Page[core.SecurityAlert], error)
	AlertsExist(ctx context.Context, ids []string) ([]string, error)
	AlertMetrics(ctx context.Context, r core.TimeRange) (*core.AlertMetrics, error)
}

// IncidentStore persists incidents with optimistic concurrency on Version
type IncidentStore interface {
	CreateIncident(ctx context.Context, incident *core.SecurityIncident) error
	GetIncident(ctx context.Context, id string) (*core.SecurityIncident, error)
	UpdateIncident(ctx context.Context, incident *core.SecurityIncident, expectedVersion int64) error
	ListIncidents(ctx context.Context, filter core.IncidentFilter, page core.Pagination) (*core.Page[core.SecurityIncident], error)
	IncidentMetrics(ctx context.Context, r core.TimeRange) (*core.IncidentMetrics, error)
}

// RuleStore persists correlation rules. Every mutation bumps Revision.
type RuleStore interface {
	CreateRule(ctx context.Context, rule *core.CorrelationRule) error
	GetRule(ctx context.Context, id string) (*core.CorrelationRule, error)
	UpdateRule(ctx context.Context, rule *core.CorrelationRule) error
	DeleteRule(ctx context.Context, id string) error
	ListRules(ctx context.Context, enabledOnly bool) ([]core.CorrelationRule, error)
	Revision(ctx context.Context) (int64, error)
}

// AuditStore records who changed what
type AuditStore interface {
	RecordAudit(ctx context.Context, rec core.AuditRecord) error
	ListAudit(ctx context.Context, entityID string, limit int) ([]core.AuditRecord, error)
}

// RuleLocker serializes find-or-create of live alerts per rule. The
// returned release func must always be called.
type RuleLocker interface {
	Lock(ctx context.Context, ruleID string) (release func(), err error)
}
