package service

import (
	"context"

	"watchtower/core"
)

// topValuesLimit is the length of the top source/user lists in Analytics
const topValuesLimit = 10

// EventMetrics counts events by type and severity. A missing start
// defaults to 24h before the end, a missing end to now.
func (s *SIEM) EventMetrics(ctx context.Context, r core.TimeRange) (*core.EventMetrics, error) {
	r, err := s.metricsRange(r)
	if err != nil {
		return nil, err
	}
	byType, err := s.events.CountByType(ctx, r)
	if err != nil {
		return nil, err
	}
	bySeverity, err := s.events.CountBySeverity(ctx, r)
	if err != nil {
		return nil, err
	}
	return &core.EventMetrics{
		Range:      r,
		Total:      core.SumCounts(byType),
		ByType:     core.CountsToMap(byType),
		BySeverity: core.CountsToMap(bySeverity),
	}, nil
}

// AlertMetrics aggregates alerts first seen in the range
func (s *SIEM) AlertMetrics(ctx context.Context, r core.TimeRange) (*core.AlertMetrics, error) {
	r, err := s.metricsRange(r)
	if err != nil {
		return nil, err
	}
	return s.alerts.AlertMetrics(ctx, r)
}

// IncidentMetrics aggregates incidents created in the range
func (s *SIEM) IncidentMetrics(ctx context.Context, r core.TimeRange) (*core.IncidentMetrics, error) {
	r, err := s.metricsRange(r)
	if err != nil {
		return nil, err
	}
	return s.incidents.IncidentMetrics(ctx, r)
}

// Analytics combines the three metric views with the busiest sources and
// users over one range
func (s *SIEM) Analytics(ctx context.Context, r core.TimeRange) (*core.Analytics, error) {
	r, err := s.metricsRange(r)
	if err != nil {
		return nil, err
	}
	events, err := s.EventMetrics(ctx, r)
	if err != nil {
		return nil, err
	}
	alerts, err := s.alerts.AlertMetrics(ctx, r)
	if err != nil {
		return nil, err
	}
	incidents, err := s.incidents.IncidentMetrics(ctx, r)
	if err != nil {
		return nil, err
	}
	topIPs, err := s.events.TopValues(ctx, "sourceIp", r, topValuesLimit)
	if err != nil {
		return nil, err
	}
	topUsers, err := s.events.TopValues(ctx, "userId", r, topValuesLimit)
	if err != nil {
		return nil, err
	}
	return &core.Analytics{
		Range:        r,
		Events:       *events,
		Alerts:       *alerts,
		Incidents:    *incidents,
		TopSourceIPs: nonNilCounts(topIPs),
		TopUsers:     nonNilCounts(topUsers),
	}, nil
}

// ListAudit returns audit records for one entity in order, or the latest
// records overall when entityID is empty
func (s *SIEM) ListAudit(ctx context.Context, entityID string, limit int) ([]core.AuditRecord, error) {
	if limit <= 0 {
		limit = core.DefaultPageLimit
	}
	if limit > core.MaxPageLimit {
		limit = core.MaxPageLimit
	}
	recs, err := s.audit.ListAudit(ctx, entityID, limit)
	if err != nil {
		return nil, err
	}
	if recs == nil {
		recs = []core.AuditRecord{}
	}
	return recs, nil
}

func (s *SIEM) metricsRange(r core.TimeRange) (core.TimeRange, error) {
	if err := r.Validate(); err != nil {
		return r, err
	}
	return r.DefaultRange(s.now().UTC()), nil
}

func nonNilCounts(c []core.CountEntry) []core.CountEntry {
	if c == nil {
		return []core.CountEntry{}
	}
	return c
}
