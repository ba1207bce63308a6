package service

import (
	"context"
	"errors"
	"strings"

	"watchtower/core"
	"watchtower/metrics"
	"watchtower/notify"

	"go.opentelemetry.io/otel/attribute"
)

// IncidentStatusUpdate is the body of PATCH incidents/{id}/status
type IncidentStatusUpdate struct {
	Status      core.IncidentStatus `json:"status"`
	Description string              `json:"description,omitempty"`
}

// TimelineInput is an operator timeline entry
type TimelineInput struct {
	Action      string                 `json:"action"`
	Description string                 `json:"description"`
	Data        map[string]interface{} `json:"data,omitempty"`
}

// ArtifactInput is an artifact attached by an operator
type ArtifactInput struct {
	Name        string            `json:"name"`
	Type        string            `json:"type"`
	Description string            `json:"description,omitempty"`
	Location    string            `json:"location"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// CreateIncident opens an incident from zero or more existing alerts
func (s *SIEM) CreateIncident(ctx context.Context, in core.CreateIncidentInput, actor string) (inc *core.SecurityIncident, err error) {
	ctx, span := s.startSpan(ctx, "CreateIncident", attribute.String("actor", actor))
	defer func() { endSpan(span, err) }()

	inc, err = core.NewIncident(in, actor, s.now())
	if err != nil {
		return nil, err
	}
	if len(inc.RelatedAlertIDs) > 0 {
		missing, err := s.alerts.AlertsExist(ctx, inc.RelatedAlertIDs)
		if err != nil {
			return nil, err
		}
		if len(missing) > 0 {
			return nil, core.NewValidationError("alertIds", "unknown alerts: %s", strings.Join(missing, ", "))
		}
	}
	if err = s.incidents.CreateIncident(ctx, inc); err != nil {
		return nil, err
	}

	metrics.IncidentTransitions.WithLabelValues(string(inc.Status)).Inc()
	s.recordAudit(ctx, core.AuditRecord{
		EntityKind: core.AuditKindIncident, EntityID: inc.IncidentID, Action: "created",
		To: string(inc.Status), Actor: actor,
		Details: map[string]interface{}{"alertIds": inc.RelatedAlertIDs},
	})
	s.publish(ctx, notify.Notification{
		Kind: notify.IncidentCreated, EntityID: inc.IncidentID, Severity: string(inc.Severity),
		To: string(inc.Status), Actor: actor, Payload: inc,
	})
	s.logger.Infow("Incident created", "incident_id", inc.IncidentID, "actor", actor, "alerts", len(inc.RelatedAlertIDs))
	return inc, nil
}

// GetIncident returns one incident by id
func (s *SIEM) GetIncident(ctx context.Context, id string) (*core.SecurityIncident, error) {
	if id == "" {
		return nil, core.NewValidationError("incidentId", "is required")
	}
	return s.incidents.GetIncident(ctx, id)
}

// ListIncidents returns incidents newest first
func (s *SIEM) ListIncidents(ctx context.Context, filter core.IncidentFilter, page core.Pagination) (*core.Page[core.SecurityIncident], error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	return s.incidents.ListIncidents(ctx, filter, page.Normalize())
}

// UpdateIncidentStatus moves an incident forward. Closing goes through
// ResolveIncident.
func (s *SIEM) UpdateIncidentStatus(ctx context.Context, id string, upd IncidentStatusUpdate, actor string) (*core.SecurityIncident, error) {
	return s.mutateIncident(ctx, id, actor, "status", func(inc *core.SecurityIncident) error {
		return inc.UpdateStatus(upd.Status, actor, upd.Description, s.now())
	})
}

// AddTimelineEntry appends an operator entry to an open incident
func (s *SIEM) AddTimelineEntry(ctx context.Context, id string, in TimelineInput, actor string) (*core.SecurityIncident, error) {
	return s.mutateIncident(ctx, id, actor, "timeline", func(inc *core.SecurityIncident) error {
		return inc.AddTimelineEntry(core.TimelineEntry{
			Action:      in.Action,
			Description: in.Description,
			Actor:       actor,
			Data:        in.Data,
		}, s.now())
	})
}

// AddArtifact attaches an artifact to an open incident
func (s *SIEM) AddArtifact(ctx context.Context, id string, in ArtifactInput, actor string) (*core.SecurityIncident, error) {
	return s.mutateIncident(ctx, id, actor, "artifact", func(inc *core.SecurityIncident) error {
		return inc.AddArtifact(core.Artifact{
			Name:        in.Name,
			Type:        in.Type,
			Description: in.Description,
			Location:    in.Location,
			AddedBy:     actor,
			Metadata:    in.Metadata,
		}, s.now())
	})
}

// LinkAlert adds an existing alert to an open incident. Linking an alert
// twice leaves the incident unchanged.
func (s *SIEM) LinkAlert(ctx context.Context, id, alertID, actor string) (*core.SecurityIncident, error) {
	if alertID != "" {
		if _, err := s.alerts.GetAlert(ctx, alertID); err != nil {
			return nil, err
		}
	}
	return s.mutateIncident(ctx, id, actor, "link_alert", func(inc *core.SecurityIncident) error {
		linked, err := inc.LinkAlert(alertID, actor, s.now())
		if err == nil && !linked {
			return errUnchanged
		}
		return err
	})
}

// SetIncidentPhase changes the advisory phase of an open incident
func (s *SIEM) SetIncidentPhase(ctx context.Context, id string, phase core.IncidentPhase, actor string) (*core.SecurityIncident, error) {
	return s.mutateIncident(ctx, id, actor, "phase", func(inc *core.SecurityIncident) error {
		if phase == inc.Phase && !inc.IsClosed() {
			return errUnchanged
		}
		return inc.SetPhase(phase, actor, s.now())
	})
}

// AssignIncident changes the owner of an open incident
func (s *SIEM) AssignIncident(ctx context.Context, id, assignee, actor string) (*core.SecurityIncident, error) {
	return s.mutateIncident(ctx, id, actor, "assign", func(inc *core.SecurityIncident) error {
		return inc.Assign(assignee, actor, s.now())
	})
}

// ResolveIncident records the resolution and closes the incident
func (s *SIEM) ResolveIncident(ctx context.Context, id string, in core.IncidentResolveInput, actor string) (*core.SecurityIncident, error) {
	return s.mutateIncident(ctx, id, actor, "resolve", func(inc *core.SecurityIncident) error {
		return inc.Resolve(in, actor, s.now())
	})
}

// errUnchanged tells mutateIncident that fn accepted the request but had
// nothing to write
var errUnchanged = errors.New("unchanged")

// mutateIncident is the incident counterpart of mutateAlert
func (s *SIEM) mutateIncident(ctx context.Context, id, actor, action string, fn func(*core.SecurityIncident) error) (inc *core.SecurityIncident, err error) {
	ctx, span := s.startSpan(ctx, "incident."+action, attribute.String("incident.id", id), attribute.String("actor", actor))
	defer func() { endSpan(span, err) }()

	if err = requireActor(actor); err != nil {
		return nil, err
	}
	inc, err = s.GetIncident(ctx, id)
	if err != nil {
		return nil, err
	}
	from, expected := inc.Status, inc.Version
	if err = fn(inc); errors.Is(err, errUnchanged) {
		return inc, nil
	} else if err != nil {
		return nil, err
	}
	if err = s.incidents.UpdateIncident(ctx, inc, expected); err != nil {
		s.logger.Warnw("Incident update rejected", "incident_id", id, "action", action, "actor", actor, "error", err)
		return nil, err
	}

	rec := core.AuditRecord{EntityKind: core.AuditKindIncident, EntityID: id, Action: action, Actor: actor}
	note := notify.Notification{Kind: notify.IncidentUpdated, EntityID: id, Severity: string(inc.Severity), Actor: actor, Payload: inc}
	if inc.Status != from {
		metrics.IncidentTransitions.WithLabelValues(string(inc.Status)).Inc()
		rec.From, rec.To = string(from), string(inc.Status)
		note.Kind, note.From, note.To = notify.IncidentTransitioned, string(from), string(inc.Status)
	}
	s.recordAudit(ctx, rec)
	s.publish(ctx, note)
	s.logger.Infow("Incident updated", "incident_id", id, "action", action, "actor", actor, "status", inc.Status)
	return inc, nil
}
