package service

import (
	"context"
	"errors"

	"watchtower/core"
	"watchtower/metrics"
	"watchtower/notify"

	"go.opentelemetry.io/otel/attribute"
)

// maxManualEvidence caps the evidence ids an operator can attach when
// raising an alert by hand
const maxManualEvidence = 100

// AlertStatusUpdate is the body of a generic status change request
type AlertStatusUpdate struct {
	Status         core.AlertStatus    `json:"status"`
	Notes          string              `json:"notes,omitempty"`
	ResolutionType core.ResolutionType `json:"resolutionType,omitempty"`
}

// GetAlert returns one alert by id
func (s *SIEM) GetAlert(ctx context.Context, id string) (*core.SecurityAlert, error) {
	if id == "" {
		return nil, core.NewValidationError("alertId", "is required")
	}
	return s.alerts.GetAlert(ctx, id)
}

// ListAlerts returns alerts most severe first, then most recently seen
func (s *SIEM) ListAlerts(ctx context.Context, filter core.AlertFilter, page core.Pagination) (*core.Page[core.SecurityAlert], error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	return s.alerts.ListAlerts(ctx, filter, page.Normalize())
}

// CreateManualAlert raises an OPEN alert with no rule. Evidence ids must
// name stored events.
func (s *SIEM) CreateManualAlert(ctx context.Context, in core.ManualAlertInput, actor string) (alert *core.SecurityAlert, err error) {
	ctx, span := s.startSpan(ctx, "CreateManualAlert", attribute.String("actor", actor))
	defer func() { endSpan(span, err) }()

	if len(in.EvidenceEventIDs) > maxManualEvidence {
		return nil, core.NewValidationError("evidenceEventIds", "at most %d ids", maxManualEvidence)
	}
	alert, err = core.NewManualAlert(in, actor, s.now())
	if err != nil {
		return nil, err
	}
	for _, id := range alert.EvidenceEventIDs {
		if _, err = s.events.GetEvent(ctx, id); err != nil {
			if errors.Is(err, core.ErrNotFound) {
				return nil, core.NewValidationError("evidenceEventIds", "unknown event %q", id)
			}
			return nil, err
		}
	}
	if err = s.alerts.CreateAlert(ctx, alert); err != nil {
		return nil, err
	}

	metrics.AlertsCreated.WithLabelValues(string(alert.Severity)).Inc()
	s.recordAudit(ctx, core.AuditRecord{
		EntityKind: core.AuditKindAlert, EntityID: alert.AlertID, Action: "created",
		To: string(alert.Status), Actor: actor, Details: map[string]interface{}{"manual": true},
	})
	s.publish(ctx, notify.Notification{
		Kind: notify.AlertCreated, EntityID: alert.AlertID, Severity: string(alert.Severity),
		To: string(alert.Status), Actor: actor, Payload: alert,
	})
	s.logger.Infow("Manual alert created", "alert_id", alert.AlertID, "actor", actor, "severity", alert.Severity)
	return alert, nil
}

// MarkInvestigating moves an OPEN alert to INVESTIGATING
func (s *SIEM) MarkInvestigating(ctx context.Context, id, actor string) (*core.SecurityAlert, error) {
	return s.mutateAlert(ctx, id, actor, "investigate", func(a *core.SecurityAlert) error {
		return a.MarkInvestigating(actor, s.now())
	})
}

// ResolveAlert closes a live alert as RESOLVED. The actor is recorded as
// resolvedBy.
func (s *SIEM) ResolveAlert(ctx context.Context, id string, in core.ResolveInput, actor string) (*core.SecurityAlert, error) {
	in.ResolvedBy = actor
	return s.mutateAlert(ctx, id, actor, "resolve", func(a *core.SecurityAlert) error {
		return a.Resolve(in, s.now())
	})
}

// DismissAlert closes a live alert as a false positive
func (s *SIEM) DismissAlert(ctx context.Context, id, actor, notes string) (*core.SecurityAlert, error) {
	return s.mutateAlert(ctx, id, actor, "dismiss", func(a *core.SecurityAlert) error {
		return a.Dismiss(actor, notes, s.now())
	})
}

// AssignAlert changes the assignee of a live alert; an empty assignee
// unassigns it
func (s *SIEM) AssignAlert(ctx context.Context, id, assignee, actor string) (*core.SecurityAlert, error) {
	return s.mutateAlert(ctx, id, actor, "assign", func(a *core.SecurityAlert) error {
		return a.Assign(assignee, s.now())
	})
}

// UpdateAlertStatus dispatches a generic status change to the matching
// lifecycle operation
func (s *SIEM) UpdateAlertStatus(ctx context.Context, id string, upd AlertStatusUpdate, actor string) (*core.SecurityAlert, error) {
	switch upd.Status {
	case core.AlertStatusInvestigating:
		return s.MarkInvestigating(ctx, id, actor)
	case core.AlertStatusResolved:
		return s.ResolveAlert(ctx, id, core.ResolveInput{ResolutionType: upd.ResolutionType, Notes: upd.Notes}, actor)
	case core.AlertStatusDismissed:
		return s.DismissAlert(ctx, id, actor, upd.Notes)
	case core.AlertStatusOpen:
		// nothing moves back to OPEN; report the state the alert is in
		return s.mutateAlert(ctx, id, actor, "reopen", func(a *core.SecurityAlert) error {
			return a.TransitionTo(core.AlertStatusOpen)
		})
	default:
		return nil, core.NewValidationError("status", "unknown alert status %q", upd.Status)
	}
}

// mutateAlert loads the alert, applies fn and writes it back conditioned
// on the version read. A concurrent change surfaces as InvalidStateError
// with the stored status; it is not retried.
func (s *SIEM) mutateAlert(ctx context.Context, id, actor, action string, fn func(*core.SecurityAlert) error) (alert *core.SecurityAlert, err error) {
	ctx, span := s.startSpan(ctx, "alert."+action, attribute.String("alert.id", id), attribute.String("actor", actor))
	defer func() { endSpan(span, err) }()

	if err = requireActor(actor); err != nil {
		return nil, err
	}
	alert, err = s.GetAlert(ctx, id)
	if err != nil {
		return nil, err
	}
	from, assignee, expected := alert.Status, alert.AssignedTo, alert.Version
	if err = fn(alert); err != nil {
		return nil, err
	}
	if err = s.alerts.UpdateAlert(ctx, alert, expected); err != nil {
		s.logger.Warnw("Alert update rejected", "alert_id", id, "action", action, "actor", actor, "error", err)
		return nil, err
	}

	rec := core.AuditRecord{EntityKind: core.AuditKindAlert, EntityID: id, Action: action, Actor: actor}
	note := notify.Notification{EntityID: id, Severity: string(alert.Severity), Actor: actor, Payload: alert}
	if alert.Status != from {
		metrics.AlertTransitions.WithLabelValues(string(alert.Status)).Inc()
		rec.From, rec.To = string(from), string(alert.Status)
		note.Kind, note.From, note.To = notify.AlertTransitioned, string(from), string(alert.Status)
	} else {
		note.Kind = notify.AlertAssigned
	}
	if alert.AssignedTo != assignee {
		rec.Details = map[string]interface{}{"assignedTo": alert.AssignedTo}
	}
	s.recordAudit(ctx, rec)
	s.publish(ctx, note)
	s.logger.Infow("Alert updated", "alert_id", id, "action", action, "actor", actor, "from", from, "to", alert.Status)
	return alert, nil
}
