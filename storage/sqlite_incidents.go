package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"watchtower/core"

	"go.uber.org/zap"
)

const incidentColumns = `incident_id, title, description, type, severity, status, phase, related_alerts,
	timeline, artifacts, resolution, assigned_to, created_by, created_at, updated_at, closed_at, version`

// SQLiteIncidentStore persists incidents. Timeline, artifacts and related
// alerts are stored as JSON documents on the incident row.
type SQLiteIncidentStore struct {
	sqlite *SQLite
	logger *zap.SugaredLogger
}

// NewSQLiteIncidentStore creates a new SQLite incident store
func NewSQLiteIncidentStore(sqlite *SQLite, logger *zap.SugaredLogger) *SQLiteIncidentStore {
	return &SQLiteIncidentStore{sqlite: sqlite, logger: logger}
}

type incidentDocs struct {
	alerts, timeline, artifacts string
	resolution                  sql.NullString
}

func encodeIncident(i *core.SecurityIncident) (*incidentDocs, error) {
	var (
		d   incidentDocs
		err error
	)
	if d.alerts, err = marshalList(i.RelatedAlertIDs); err != nil {
		return nil, fmt.Errorf("related alerts: %w", err)
	}
	if d.timeline, err = marshalList(i.Timeline); err != nil {
		return nil, fmt.Errorf("timeline: %w", err)
	}
	if d.artifacts, err = marshalList(i.Artifacts); err != nil {
		return nil, fmt.Errorf("artifacts: %w", err)
	}
	if d.resolution, err = marshalNullable(i.Resolution, i.Resolution == nil); err != nil {
		return nil, fmt.Errorf("resolution: %w", err)
	}
	return &d, nil
}

// CreateIncident inserts a new incident at version 1
func (s *SQLiteIncidentStore) CreateIncident(ctx context.Context, inc *core.SecurityIncident) error {
	docs, err := encodeIncident(inc)
	if err != nil {
		return core.NewStorageError("marshal incident", err)
	}

	_, err = s.sqlite.WriteDB.ExecContext(ctx, `
		INSERT INTO incidents (incident_id, title, description, type, severity, severity_rank, status, phase,
			related_alerts, timeline, artifacts, resolution, assigned_to, created_by, created_at, updated_at,
			closed_at, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`,
		inc.IncidentID, inc.Title, inc.Description, inc.Type, string(inc.Severity), inc.Severity.Rank(),
		string(inc.Status), string(inc.Phase), docs.alerts, docs.timeline, docs.artifacts, docs.resolution,
		inc.AssignedTo, inc.CreatedBy, toNanos(inc.CreatedAt), toNanos(inc.UpdatedAt), nullNanos(inc.ClosedAt),
	)
	if err != nil {
		return core.NewStorageError("insert incident", err)
	}
	inc.Version = 1
	return nil
}

// GetIncident retrieves an incident by id
func (s *SQLiteIncidentStore) GetIncident(ctx context.Context, id string) (*core.SecurityIncident, error) {
	row := s.sqlite.ReadDB.QueryRowContext(ctx, `SELECT `+incidentColumns+` FROM incidents WHERE incident_id = ?`, id)
	inc, err := scanIncident(row)
	if err == sql.ErrNoRows {
		return nil, notFound(ErrIncidentNotFound, "incident", id)
	}
	if err != nil {
		return nil, core.NewStorageError("get incident", err)
	}
	return inc, nil
}

// UpdateIncident writes the incident if nobody else has since expectedVersion
func (s *SQLiteIncidentStore) UpdateIncident(ctx context.Context, inc *core.SecurityIncident, expectedVersion int64) error {
	docs, err := encodeIncident(inc)
	if err != nil {
		return core.NewStorageError("marshal incident", err)
	}

	res, err := s.sqlite.WriteDB.ExecContext(ctx, `
		UPDATE incidents SET
			title = ?, description = ?, severity = ?, severity_rank = ?, status = ?, phase = ?,
			related_alerts = ?, timeline = ?, artifacts = ?, resolution = ?, assigned_to = ?,
			updated_at = ?, closed_at = ?, version = version + 1
		WHERE incident_id = ? AND version = ?`,
		inc.Title, inc.Description, string(inc.Severity), inc.Severity.Rank(), string(inc.Status),
		string(inc.Phase), docs.alerts, docs.timeline, docs.artifacts, docs.resolution, inc.AssignedTo,
		toNanos(inc.UpdatedAt), nullNanos(inc.ClosedAt), inc.IncidentID, expectedVersion,
	)
	if err != nil {
		return core.NewStorageError("update incident", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return core.NewStorageError("update incident", err)
	}
	if affected == 0 {
		current, getErr := s.GetIncident(ctx, inc.IncidentID)
		if getErr != nil {
			return getErr
		}
		return conflict("incident", inc.IncidentID, string(current.Status), string(inc.Status))
	}

	inc.Version = expectedVersion + 1
	return nil
}

// ListIncidents returns incidents newest first
func (s *SQLiteIncidentStore) ListIncidents(ctx context.Context, filter core.IncidentFilter, page core.Pagination) (*core.Page[core.SecurityIncident], error) {
	page = page.Normalize()
	where, args := incidentWhere(filter)

	var total int64
	if err := s.sqlite.ReadDB.QueryRowContext(ctx, `SELECT COUNT(*) FROM incidents`+where, args...).Scan(&total); err != nil {
		return nil, core.NewStorageError("count incidents", err)
	}

	rows, err := s.sqlite.ReadDB.QueryContext(ctx,
		`SELECT `+incidentColumns+` FROM incidents`+where+`
		ORDER BY created_at DESC, incident_id ASC
		LIMIT ? OFFSET ?`,
		append(args, page.Limit, page.Offset)...,
	)
	if err != nil {
		return nil, core.NewStorageError("list incidents", err)
	}
	defer rows.Close()

	items := []core.SecurityIncident{}
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, core.NewStorageError("list incidents", err)
		}
		items = append(items, *inc)
	}
	if err := rows.Err(); err != nil {
		return nil, core.NewStorageError("list incidents", err)
	}

	return &core.Page[core.SecurityIncident]{Items: items, Total: total, Limit: page.Limit, Offset: page.Offset}, nil
}

// IncidentMetrics aggregates incidents created in r
func (s *SQLiteIncidentStore) IncidentMetrics(ctx context.Context, r core.TimeRange) (*core.IncidentMetrics, error) {
	where, args := incidentWhere(core.IncidentFilter{Range: r})
	db := s.sqlite.ReadDB

	byStatus, err := groupCount(ctx, db, "incidents", "status", where, args)
	if err != nil {
		return nil, err
	}
	bySeverity, err := groupCount(ctx, db, "incidents", "severity", where, args)
	if err != nil {
		return nil, err
	}
	byType, err := groupCount(ctx, db, "incidents", "type", where, args)
	if err != nil {
		return nil, err
	}
	byPhase, err := groupCount(ctx, db, "incidents", "phase", where, args)
	if err != nil {
		return nil, err
	}

	m := &core.IncidentMetrics{
		Range:      r,
		Total:      core.SumCounts(byStatus),
		ByStatus:   core.CountsToMap(byStatus),
		BySeverity: core.CountsToMap(bySeverity),
		ByType:     core.CountsToMap(byType),
		ByPhase:    core.CountsToMap(byPhase),
	}

	closedWhere := where
	if closedWhere == "" {
		closedWhere = " WHERE "
	} else {
		closedWhere += " AND "
	}
	closedWhere += "closed_at IS NOT NULL"

	var avgNanos sql.NullFloat64
	err = db.QueryRowContext(ctx, `SELECT COUNT(*), AVG(closed_at - created_at) FROM incidents`+closedWhere, args...).
		Scan(&m.ClosedCount, &avgNanos)
	if err != nil {
		return nil, core.NewStorageError("incident time to close", err)
	}
	if avgNanos.Valid {
		m.AvgTimeToCloseSecs = avgNanos.Float64 / float64(time.Second)
	}
	return m, nil
}

func incidentWhere(f core.IncidentFilter) (string, []interface{}) {
	var clauses []string
	var args []interface{}

	if len(f.Statuses) > 0 {
		clauses = append(clauses, "status IN ("+placeholders(len(f.Statuses))+")")
		for _, st := range f.Statuses {
			args = append(args, string(st))
		}
	}
	if len(f.Severities) > 0 {
		clauses = append(clauses, "severity IN ("+placeholders(len(f.Severities))+")")
		for _, sev := range f.Severities {
			args = append(args, string(sev))
		}
	}
	if len(f.Types) > 0 {
		clauses = append(clauses, "type IN ("+placeholders(len(f.Types))+")")
		for _, t := range f.Types {
			args = append(args, t)
		}
	}
	if len(f.Phases) > 0 {
		clauses = append(clauses, "phase IN ("+placeholders(len(f.Phases))+")")
		for _, p := range f.Phases {
			args = append(args, string(p))
		}
	}
	if f.AssignedTo != "" {
		clauses = append(clauses, "assigned_to = ?")
		args = append(args, f.AssignedTo)
	}
	if !f.Range.Start.IsZero() {
		clauses = append(clauses, "created_at >= ?")
		args = append(args, toNanos(f.Range.Start))
	}
	if !f.Range.End.IsZero() {
		clauses = append(clauses, "created_at <= ?")
		args = append(args, toNanos(f.Range.End))
	}

	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func scanIncident(row rowScanner) (*core.SecurityIncident, error) {
	var (
		i                           core.SecurityIncident
		severity, status, phase     string
		alerts, timeline, artifacts string
		resolution                  sql.NullString
		createdAt, updatedAt        int64
		closedAt                    sql.NullInt64
	)
	err := row.Scan(&i.IncidentID, &i.Title, &i.Description, &i.Type, &severity, &status, &phase,
		&alerts, &timeline, &artifacts, &resolution, &i.AssignedTo, &i.CreatedBy, &createdAt, &updatedAt,
		&closedAt, &i.Version)
	if err != nil {
		return nil, err
	}
	i.Severity = core.Severity(severity)
	i.Status = core.IncidentStatus(status)
	i.Phase = core.IncidentPhase(phase)
	i.CreatedAt = fromNanos(createdAt)
	i.UpdatedAt = fromNanos(updatedAt)
	if closedAt.Valid {
		t := fromNanos(closedAt.Int64)
		i.ClosedAt = &t
	}
	if err := json.Unmarshal([]byte(alerts), &i.RelatedAlertIDs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal related alerts: %w", err)
	}
	if err := json.Unmarshal([]byte(timeline), &i.Timeline); err != nil {
		return nil, fmt.Errorf("failed to unmarshal timeline: %w", err)
	}
	if err := json.Unmarshal([]byte(artifacts), &i.Artifacts); err != nil {
		return nil, fmt.Errorf("failed to unmarshal artifacts: %w", err)
	}
	if resolution.Valid {
		i.Resolution = &core.IncidentResolution{}
		if err := json.Unmarshal([]byte(resolution.String), i.Resolution); err != nil {
			return nil, fmt.Errorf("failed to unmarshal resolution: %w", err)
		}
	}
	return &i, nil
}

// marshalList encodes a slice as a JSON array, never null
func marshalList[T any](list []T) (string, error) {
	if list == nil {
		list = []T{}
	}
	b, err := json.Marshal(list)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
