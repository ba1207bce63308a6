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

const alertColumns = `alert_id, rule_id, group_key, type, severity, status, title, evidence,
	first_seen, last_seen, assigned_to, resolution, created_by, updated_at, version`

// SQLiteAlertStore persists alerts. Updates are compare-and-swap on version.
type SQLiteAlertStore struct {
	sqlite *SQLite
	logger *zap.SugaredLogger
}

// NewSQLiteAlertStore creates a new SQLite alert store
func NewSQLiteAlertStore(sqlite *SQLite, logger *zap.SugaredLogger) *SQLiteAlertStore {
	return &SQLiteAlertStore{sqlite: sqlite, logger: logger}
}

// CreateAlert inserts a new alert at version 1
func (s *SQLiteAlertStore) CreateAlert(ctx context.Context, alert *core.SecurityAlert) error {
	evidence, resolution, resolvedAt, err := encodeAlert(alert)
	if err != nil {
		return core.NewStorageError("marshal alert", err)
	}

	alert.Version = 1
	_, err = s.sqlite.WriteDB.ExecContext(ctx, `
		INSERT INTO alerts (alert_id, rule_id, group_key, type, severity, severity_rank, status, title,
			evidence, first_seen, last_seen, assigned_to, resolution, resolved_at, created_by, updated_at, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		alert.AlertID, alert.CorrelationRuleID, alert.GroupKey, alert.Type, string(alert.Severity),
		alert.Severity.Rank(), string(alert.Status), alert.Title, evidence,
		toNanos(alert.FirstSeen), toNanos(alert.LastSeen), alert.AssignedTo, resolution, resolvedAt,
		alert.CreatedBy, toNanos(alert.UpdatedAt), alert.Version,
	)
	if err != nil {
		alert.Version = 0
		return core.NewStorageError("insert alert", err)
	}
	return nil
}

// GetAlert retrieves an alert by id
func (s *SQLiteAlertStore) GetAlert(ctx context.Context, id string) (*core.SecurityAlert, error) {
	row := s.sqlite.ReadDB.QueryRowContext(ctx, `SELECT `+alertColumns+` FROM alerts WHERE alert_id = ?`, id)
	alert, err := scanAlert(row)
	if err == sql.ErrNoRows {
		return nil, notFound(ErrAlertNotFound, "alert", id)
	}
	if err != nil {
		return nil, core.NewStorageError("get alert", err)
	}
	return alert, nil
}

// UpdateAlert writes the alert if nobody else has since expectedVersion
func (s *SQLiteAlertStore) UpdateAlert(ctx context.Context, alert *core.SecurityAlert, expectedVersion int64) error {
	evidence, resolution, resolvedAt, err := encodeAlert(alert)
	if err != nil {
		return core.NewStorageError("marshal alert", err)
	}

	res, err := s.sqlite.WriteDB.ExecContext(ctx, `
		UPDATE alerts SET
			severity = ?, severity_rank = ?, status = ?, title = ?, evidence = ?,
			last_seen = ?, assigned_to = ?, resolution = ?, resolved_at = ?, updated_at = ?,
			version = version + 1
		WHERE alert_id = ? AND version = ?`,
		string(alert.Severity), alert.Severity.Rank(), string(alert.Status), alert.Title, evidence,
		toNanos(alert.LastSeen), alert.AssignedTo, resolution, resolvedAt, toNanos(alert.UpdatedAt),
		alert.AlertID, expectedVersion,
	)
	if err != nil {
		return core.NewStorageError("update alert", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return core.NewStorageError("update alert", err)
	}
	if affected == 0 {
		current, getErr := s.GetAlert(ctx, alert.AlertID)
		if getErr != nil {
			return getErr
		}
		return conflict("alert", alert.AlertID, string(current.Status), string(alert.Status))
	}

	alert.Version = expectedVersion + 1
	return nil
}

// FindLiveAlert returns the newest live alert for the rule and group
func (s *SQLiteAlertStore) FindLiveAlert(ctx context.Context, ruleID, groupKey string, since time.Time) (*core.SecurityAlert, error) {
	row := s.sqlite.ReadDB.QueryRowContext(ctx, `
		SELECT `+alertColumns+` FROM alerts
		WHERE rule_id = ? AND group_key = ? AND status IN (?, ?) AND last_seen >= ?
		ORDER BY last_seen DESC
		LIMIT 1`,
		ruleID, groupKey, string(core.AlertStatusOpen), string(core.AlertStatusInvestigating), toNanos(since),
	)
	alert, err := scanAlert(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, core.NewStorageError("find live alert", err)
	}
	return alert, nil
}

// ListAlerts returns most severe first, then most recently seen
func (s *SQLiteAlertStore) ListAlerts(ctx context.Context, filter core.AlertFilter, page core.Pagination) (*core.Page[core.SecurityAlert], error) {
	page = page.Normalize()
	where, args := alertWhere(filter)

	var total int64
	if err := s.sqlite.ReadDB.QueryRowContext(ctx, `SELECT COUNT(*) FROM alerts`+where, args...).Scan(&total); err != nil {
		return nil, core.NewStorageError("count alerts", err)
	}

	rows, err := s.sqlite.ReadDB.QueryContext(ctx,
		`SELECT `+alertColumns+` FROM alerts`+where+`
		ORDER BY severity_rank DESC, last_seen DESC, alert_id ASC
		LIMIT ? OFFSET ?`,
		append(args, page.Limit, page.Offset)...,
	)
	if err != nil {
		return nil, core.NewStorageError("list alerts", err)
	}
	defer rows.Close()

	items := []core.SecurityAlert{}
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, core.NewStorageError("list alerts", err)
		}
		items = append(items, *alert)
	}
	if err := rows.Err(); err != nil {
		return nil, core.NewStorageError("list alerts", err)
	}

	return &core.Page[core.SecurityAlert]{Items: items, Total: total, Limit: page.Limit, Offset: page.Offset}, nil
}

// AlertsExist returns the ids from ids that are not stored
func (s *SQLiteAlertStore) AlertsExist(ctx context.Context, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.sqlite.ReadDB.QueryContext(ctx,
		`SELECT alert_id FROM alerts WHERE alert_id IN (`+placeholders(len(ids))+`)`, args...)
	if err != nil {
		return nil, core.NewStorageError("check alerts", err)
	}
	defer rows.Close()

	found := make(map[string]bool, len(ids))
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, core.NewStorageError("check alerts", err)
		}
		found[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, core.NewStorageError("check alerts", err)
	}

	var missing []string
	for _, id := range ids {
		if !found[id] {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

// AlertMetrics aggregates alerts whose firstSeen falls in r
func (s *SQLiteAlertStore) AlertMetrics(ctx context.Context, r core.TimeRange) (*core.AlertMetrics, error) {
	where, args := alertWhere(core.AlertFilter{Range: r})

	byStatus, err := s.groupCount(ctx, "status", where, args)
	if err != nil {
		return nil, err
	}
	bySeverity, err := s.groupCount(ctx, "severity", where, args)
	if err != nil {
		return nil, err
	}

	m := &core.AlertMetrics{
		Range:      r,
		Total:      core.SumCounts(byStatus),
		ByStatus:   core.CountsToMap(byStatus),
		BySeverity: core.CountsToMap(bySeverity),
	}

	resolvedWhere := where
	if resolvedWhere == "" {
		resolvedWhere = " WHERE "
	} else {
		resolvedWhere += " AND "
	}
	resolvedWhere += "status = ? AND resolved_at IS NOT NULL"

	var avgNanos sql.NullFloat64
	err = s.sqlite.ReadDB.QueryRowContext(ctx,
		`SELECT COUNT(*), AVG(resolved_at - first_seen) FROM alerts`+resolvedWhere,
		append(append([]interface{}{}, args...), string(core.AlertStatusResolved))...,
	).Scan(&m.ResolvedCount, &avgNanos)
	if err != nil {
		return nil, core.NewStorageError("alert resolution time", err)
	}
	if avgNanos.Valid {
		m.AvgResolutionSeconds = avgNanos.Float64 / float64(time.Second)
	}
	return m, nil
}

// groupCount only receives column names from fixed call sites
func (s *SQLiteAlertStore) groupCount(ctx context.Context, column, where string, args []interface{}) ([]core.CountEntry, error) {
	return groupCount(ctx, s.sqlite.ReadDB, "alerts", column, where, args)
}

func groupCount(ctx context.Context, db *sql.DB, table, column, where string, args []interface{}) ([]core.CountEntry, error) {
	query := fmt.Sprintf(`SELECT %s, COUNT(*) FROM %s%s GROUP BY %s ORDER BY %s`, column, table, where, column, column)
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, core.NewStorageError("count "+table, err)
	}
	defer rows.Close()

	entries := []core.CountEntry{}
	for rows.Next() {
		var e core.CountEntry
		if err := rows.Scan(&e.Key, &e.Count); err != nil {
			return nil, core.NewStorageError("count "+table, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, core.NewStorageError("count "+table, err)
	}
	return entries, nil
}

func alertWhere(f core.AlertFilter) (string, []interface{}) {
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
	if f.AssignedTo != "" {
		clauses = append(clauses, "assigned_to = ?")
		args = append(args, f.AssignedTo)
	}
	if f.CorrelationRuleID != "" {
		clauses = append(clauses, "rule_id = ?")
		args = append(args, f.CorrelationRuleID)
	}
	if !f.Range.Start.IsZero() {
		clauses = append(clauses, "first_seen >= ?")
		args = append(args, toNanos(f.Range.Start))
	}
	if !f.Range.End.IsZero() {
		clauses = append(clauses, "first_seen <= ?")
		args = append(args, toNanos(f.Range.End))
	}

	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func encodeAlert(a *core.SecurityAlert) (string, sql.NullString, sql.NullInt64, error) {
	evidence := a.EvidenceEventIDs
	if evidence == nil {
		evidence = []string{}
	}
	evidenceJSON, err := json.Marshal(evidence)
	if err != nil {
		return "", sql.NullString{}, sql.NullInt64{}, err
	}
	resolution, err := marshalNullable(a.Resolution, a.Resolution == nil)
	if err != nil {
		return "", sql.NullString{}, sql.NullInt64{}, err
	}
	var resolvedAt sql.NullInt64
	if a.Resolution != nil {
		resolvedAt = nullNanos(&a.Resolution.ResolvedAt)
	}
	return string(evidenceJSON), resolution, resolvedAt, nil
}

func scanAlert(row rowScanner) (*core.SecurityAlert, error) {
	var (
		a                   core.SecurityAlert
		severity, status    string
		evidence            string
		resolution          sql.NullString
		firstSeen, lastSeen int64
		updatedAt           int64
	)
	err := row.Scan(&a.AlertID, &a.CorrelationRuleID, &a.GroupKey, &a.Type, &severity, &status, &a.Title,
		&evidence, &firstSeen, &lastSeen, &a.AssignedTo, &resolution, &a.CreatedBy, &updatedAt, &a.Version)
	if err != nil {
		return nil, err
	}
	a.Severity = core.Severity(severity)
	a.Status = core.AlertStatus(status)
	a.FirstSeen = fromNanos(firstSeen)
	a.LastSeen = fromNanos(lastSeen)
	a.UpdatedAt = fromNanos(updatedAt)
	if err := json.Unmarshal([]byte(evidence), &a.EvidenceEventIDs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal evidence: %w", err)
	}
	if resolution.Valid {
		a.Resolution = &core.AlertResolution{}
		if err := json.Unmarshal([]byte(resolution.String), a.Resolution); err != nil {
			return nil, fmt.Errorf("failed to unmarshal resolution: %w", err)
		}
	}
	return &a, nil
}
