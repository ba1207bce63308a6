// Package service is the SIEM facade: it owns event ingestion, the alert
// and incident managers, rule administration and analytics, coordinating
// the stores, the correlation engine and lifecycle notifications.
package service

import (
	"context"
	"time"

	"watchtower/core"
	"watchtower/correlation"
	"watchtower/notify"
	"watchtower/storage"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

// RuleInvalidator is told when rules change so the next evaluation
// reloads them
type RuleInvalidator interface {
	Invalidate()
}

// Deps are the collaborators of a SIEM. Events, Alerts, Incidents, Rules,
// Audit, Correlator and Logger are required.
type Deps struct {
	Events     storage.EventStore
	Alerts     storage.AlertStore
	Incidents  storage.IncidentStore
	Rules      storage.RuleStore
	Audit      storage.AuditStore
	Correlator correlation.Correlator
	// RuleCache is invalidated after every rule mutation; optional
	RuleCache RuleInvalidator
	Matcher   *core.PatternMatcher
	Notifier  notify.Notifier
	Tracer    trace.Tracer
	Logger    *zap.SugaredLogger
}

// SIEM is constructed once at startup and shared by every transport
type SIEM struct {
	events     storage.EventStore
	alerts     storage.AlertStore
	incidents  storage.IncidentStore
	rules      storage.RuleStore
	audit      storage.AuditStore
	correlator correlation.Correlator
	ruleCache  RuleInvalidator
	matcher    *core.PatternMatcher
	notifier   notify.Notifier
	tracer     trace.Tracer
	logger     *zap.SugaredLogger
	now        func() time.Time
}

// New wires a SIEM, panicking when a required dependency is missing
func New(d Deps) *SIEM {
	switch {
	case d.Events == nil:
		panic("event store is required")
	case d.Alerts == nil:
		panic("alert store is required")
	case d.Incidents == nil:
		panic("incident store is required")
	case d.Rules == nil:
		panic("rule store is required")
	case d.Audit == nil:
		panic("audit store is required")
	case d.Correlator == nil:
		panic("correlator is required")
	case d.Logger == nil:
		panic("logger is required")
	}
	if d.Matcher == nil {
		d.Matcher = core.NewPatternMatcher(0, 0)
	}
	if d.Notifier == nil {
		d.Notifier = notify.Nop{}
	}
	if d.Tracer == nil {
		d.Tracer = noop.NewTracerProvider().Tracer("")
	}
	return &SIEM{
		events:     d.Events,
		alerts:     d.Alerts,
		incidents:  d.Incidents,
		rules:      d.Rules,
		audit:      d.Audit,
		correlator: d.Correlator,
		ruleCache:  d.RuleCache,
		matcher:    d.Matcher,
		notifier:   d.Notifier,
		tracer:     d.Tracer,
		logger:     d.Logger,
		now:        time.Now,
	}
}

func (s *SIEM) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "service."+name, trace.WithAttributes(attrs...))
}

// endSpan records err on span, then ends it
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// recordAudit persists the record after the state change has been
// committed. A failed audit write is logged; the change stands.
func (s *SIEM) recordAudit(ctx context.Context, rec core.AuditRecord) {
	if rec.At.IsZero() {
		rec.At = s.now().UTC()
	}
	if err := s.audit.RecordAudit(context.WithoutCancel(ctx), rec); err != nil {
		s.logger.Errorw("Failed to write audit record",
			"entity_kind", rec.EntityKind, "entity_id", rec.EntityID, "action", rec.Action, "error", err)
	}
}

func (s *SIEM) publish(ctx context.Context, n notify.Notification) {
	if n.At.IsZero() {
		n.At = s.now().UTC()
	}
	if err := s.notifier.Notify(ctx, n); err != nil {
		s.logger.Warnw("Failed to publish notification", "kind", n.Kind, "entity_id", n.EntityID, "error", err)
	}
}

func requireActor(actor string) error {
	if actor == "" {
		return core.NewValidationError("actor", "is required")
	}
	return nil
}
