package service

import (
	"context"
	"errors"
	"time"

	"watchtower/core"
	"watchtower/metrics"
	"watchtower/notify"

	"go.opentelemetry.io/otel/attribute"
)

// RecordEvent validates and stores an event, then runs one correlation
// pass before returning. Correlation problems are logged and never fail
// the call; a storage failure does, and skips correlation.
func (s *SIEM) RecordEvent(ctx context.Context, in core.EventInput) (ev *core.SecurityEvent, err error) {
	start := time.Now()
	ctx, span := s.startSpan(ctx, "RecordEvent", attribute.String("event.type", string(in.Type)))
	defer func() { endSpan(span, err) }()

	ev, err = core.NewSecurityEvent(in, s.now())
	if err != nil {
		return nil, err
	}
	if err = s.events.InsertEvent(ctx, ev); err != nil {
		s.logger.Errorw("Failed to store event", "event_id", ev.ID, "type", ev.Type, "error", err)
		return nil, err
	}
	metrics.EventsRecorded.WithLabelValues(string(ev.Type), string(ev.Severity)).Inc()
	span.SetAttributes(attribute.String("event.id", ev.ID))

	// the write is done; a caller that goes away now must not cost the
	// event its correlation pass, which has its own budget
	s.correlate(context.WithoutCancel(ctx), ev)

	metrics.EventRecordDuration.Observe(time.Since(start).Seconds())
	return ev, nil
}

func (s *SIEM) correlate(ctx context.Context, ev *core.SecurityEvent) {
	res, err := s.correlator.Correlate(ctx, ev)
	if err != nil {
		if errors.Is(err, core.ErrCorrelationTimeout) {
			s.logger.Warnw("Correlation pass timed out", "event_id", ev.ID, "error", err)
		} else {
			s.logger.Errorw("Correlation pass failed", "event_id", ev.ID, "error", err)
		}
	}
	if res == nil {
		return
	}
	for _, o := range res.Outcomes {
		switch {
		case o.Created:
			s.recordAudit(ctx, core.AuditRecord{
				EntityKind: core.AuditKindAlert,
				EntityID:   o.Alert.AlertID,
				Action:     "created",
				To:         string(o.Alert.Status),
				Actor:      o.Alert.CreatedBy,
				Details:    map[string]interface{}{"ruleId": o.RuleID, "eventId": ev.ID},
			})
			s.publish(ctx, notify.Notification{
				Kind: notify.AlertCreated, EntityID: o.Alert.AlertID, Severity: string(o.Alert.Severity),
				To: string(o.Alert.Status), Actor: o.Alert.CreatedBy, Payload: o.Alert,
			})
		case o.Merged:
			s.publish(ctx, notify.Notification{
				Kind: notify.AlertEvidenceMerged, EntityID: o.Alert.AlertID, Severity: string(o.Alert.Severity),
				Payload: o.Alert,
			})
		}
	}
}

// GetEvent returns one event by id
func (s *SIEM) GetEvent(ctx context.Context, id string) (*core.SecurityEvent, error) {
	if id == "" {
		return nil, core.NewValidationError("id", "is required")
	}
	return s.events.GetEvent(ctx, id)
}

// QueryEvents lists events matching filter, newest first unless sort says
// otherwise. An empty result is not an error.
func (s *SIEM) QueryEvents(ctx context.Context, filter core.EventFilter, page core.Pagination, sort core.EventSort) (*core.Page[core.SecurityEvent], error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	switch sort.Order {
	case "":
		sort.Order = core.SortDesc
	case core.SortAsc, core.SortDesc:
	default:
		return nil, core.NewValidationError("sort", "must be asc or desc")
	}
	return s.events.QueryEvents(ctx, filter, page.Normalize(), sort)
}

// SearchEvents runs an ad-hoc investigation query, capped at q's limit
// (default 100)
func (s *SIEM) SearchEvents(ctx context.Context, q core.SearchQuery) ([]core.SecurityEvent, error) {
	if err := q.Filter.Validate(); err != nil {
		return nil, err
	}
	q.Limit = q.NormalizedLimit()
	events, err := s.events.SearchEvents(ctx, q)
	if err != nil {
		return nil, err
	}
	if events == nil {
		events = []core.SecurityEvent{}
	}
	return events, nil
}
