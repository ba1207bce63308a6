package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"watchtower/core"

	"go.uber.org/zap"
)

const eventColumns = `id, ts, type, severity, source_ip, user_id, description, metadata`

// SQLiteEventStore is the default event log
type SQLiteEventStore struct {
	sqlite *SQLite
	logger *zap.SugaredLogger
}

// NewSQLiteEventStore creates a new SQLite event store
func NewSQLiteEventStore(sqlite *SQLite, logger *zap.SugaredLogger) *SQLiteEventStore {
	return &SQLiteEventStore{sqlite: sqlite, logger: logger}
}

// InsertEvent appends an event. Re-using an id is rejected.
func (s *SQLiteEventStore) InsertEvent(ctx context.Context, event *core.SecurityEvent) error {
	metadata, err := marshalNullable(event.Metadata, len(event.Metadata) == 0)
	if err != nil {
		return core.NewStorageError("marshal event metadata", err)
	}

	_, err = s.sqlite.WriteDB.ExecContext(ctx, `
		INSERT INTO events (id, ts, type, severity, severity_rank, source_ip, user_id, description, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID, toNanos(event.Timestamp), string(event.Type), string(event.Severity), event.Severity.Rank(),
		event.SourceIP, event.UserID, event.Description, metadata,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %w", ErrDuplicateEvent, core.NewValidationError("id", "event %s already recorded", event.ID))
		}
		return core.NewStorageError("insert event", err)
	}
	return nil
}

// GetEvent retrieves a single event by id
func (s *SQLiteEventStore) GetEvent(ctx context.Context, id string) (*core.SecurityEvent, error) {
	row := s.sqlite.ReadDB.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id = ?`, id)
	event, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, notFound(ErrEventNotFound, "event", id)
	}
	if err != nil {
		return nil, core.NewStorageError("get event", err)
	}
	return event, nil
}

// QueryEvents returns one page of events matching filter
func (s *SQLiteEventStore) QueryEvents(ctx context.Context, filter core.EventFilter, page core.Pagination, sort core.EventSort) (*core.Page[core.SecurityEvent], error) {
	page = page.Normalize()
	where, args := eventWhere(filter)

	var total int64
	if err := s.sqlite.ReadDB.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`+where, args...).Scan(&total); err != nil {
		return nil, core.NewStorageError("count events", err)
	}

	order := "DESC"
	if sort.Order == core.SortAsc {
		order = "ASC"
	}
	query := fmt.Sprintf(`SELECT %s FROM events%s ORDER BY ts %s, rowid %s LIMIT ? OFFSET ?`, eventColumns, where, order, order)
	items, err := s.queryEvents(ctx, query, append(args, page.Limit, page.Offset)...)
	if err != nil {
		return nil, err
	}

	return &core.Page[core.SecurityEvent]{Items: items, Total: total, Limit: page.Limit, Offset: page.Offset}, nil
}

// SearchEvents matches free text against description, user, source IP and
// metadata, newest first
func (s *SQLiteEventStore) SearchEvents(ctx context.Context, q core.SearchQuery) ([]core.SecurityEvent, error) {
	where, args := eventWhere(q.Filter)
	if text := strings.TrimSpace(q.Text); text != "" {
		pattern := "%" + escapeLike(text) + "%"
		clause := `(description LIKE ? ESCAPE '\' OR user_id LIKE ? ESCAPE '\' OR source_ip LIKE ? ESCAPE '\' OR metadata LIKE ? ESCAPE '\')`
		if where == "" {
			where = " WHERE " + clause
		} else {
			where += " AND " + clause
		}
		args = append(args, pattern, pattern, pattern, pattern)
	}

	query := fmt.Sprintf(`SELECT %s FROM events%s ORDER BY ts DESC, rowid DESC LIMIT ?`, eventColumns, where)
	return s.queryEvents(ctx, query, append(args, q.NormalizedLimit())...)
}

// ScanEvents streams matching events oldest first
func (s *SQLiteEventStore) ScanEvents(ctx context.Context, filter core.EventFilter, fn func(*core.SecurityEvent) bool) error {
	where, args := eventWhere(filter)
	rows, err := s.sqlite.ReadDB.QueryContext(ctx, `SELECT `+eventColumns+` FROM events`+where+` ORDER BY ts ASC, rowid ASC`, args...)
	if err != nil {
		return core.NewStorageError("scan events", err)
	}
	defer rows.Close()

	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return core.NewStorageError("scan events", err)
		}
		if !fn(event) {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return core.NewStorageError("scan events", err)
	}
	return nil
}

// CountByType groups events in range by type
func (s *SQLiteEventStore) CountByType(ctx context.Context, r core.TimeRange) ([]core.CountEntry, error) {
	return s.countBy(ctx, "type", r, 0)
}

// CountBySeverity groups events in range by severity
func (s *SQLiteEventStore) CountBySeverity(ctx context.Context, r core.TimeRange) ([]core.CountEntry, error) {
	return s.countBy(ctx, "severity", r, 0)
}

// TopValues returns the most frequent values of sourceIp or userId
func (s *SQLiteEventStore) TopValues(ctx context.Context, field string, r core.TimeRange, limit int) ([]core.CountEntry, error) {
	column, ok := topValueColumns[field]
	if !ok {
		return nil, core.NewValidationError("field", "cannot rank by %q", field)
	}
	if limit <= 0 {
		limit = 10
	}
	return s.countBy(ctx, column, r, limit)
}

// Close is a no-op; the shared SQLite handle is closed by its owner
func (s *SQLiteEventStore) Close() error {
	return nil
}

var topValueColumns = map[string]string{
	"sourceIp": "source_ip",
	"userId":   "user_id",
}

// countBy only receives column names from fixed call sites above
func (s *SQLiteEventStore) countBy(ctx context.Context, column string, r core.TimeRange, limit int) ([]core.CountEntry, error) {
	where, args := eventWhere(core.EventFilter{Range: r})
	if limit > 0 {
		if where == "" {
			where = " WHERE "
		} else {
			where += " AND "
		}
		where += column + " != ''"
	}
	query := fmt.Sprintf(`SELECT %s, COUNT(*) AS n FROM events%s GROUP BY %s ORDER BY n DESC, %s ASC`, column, where, column, column)
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.sqlite.ReadDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, core.NewStorageError("count events", err)
	}
	defer rows.Close()

	entries := []core.CountEntry{}
	for rows.Next() {
		var e core.CountEntry
		if err := rows.Scan(&e.Key, &e.Count); err != nil {
			return nil, core.NewStorageError("count events", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, core.NewStorageError("count events", err)
	}
	return entries, nil
}

func (s *SQLiteEventStore) queryEvents(ctx context.Context, query string, args ...interface{}) ([]core.SecurityEvent, error) {
	rows, err := s.sqlite.ReadDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, core.NewStorageError("query events", err)
	}
	defer rows.Close()

	events := []core.SecurityEvent{}
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, core.NewStorageError("query events", err)
		}
		events = append(events, *event)
	}
	if err := rows.Err(); err != nil {
		return nil, core.NewStorageError("query events", err)
	}
	return events, nil
}

// eventWhere builds a parameterized WHERE clause; values are never inlined
func eventWhere(f core.EventFilter) (string, []interface{}) {
	var clauses []string
	var args []interface{}

	if len(f.Types) > 0 {
		clauses = append(clauses, "type IN ("+placeholders(len(f.Types))+")")
		for _, t := range f.Types {
			args = append(args, string(t))
		}
	}
	if len(f.Severities) > 0 {
		clauses = append(clauses, "severity IN ("+placeholders(len(f.Severities))+")")
		for _, sev := range f.Severities {
			args = append(args, string(sev))
		}
	}
	if f.UserID != "" {
		clauses = append(clauses, "user_id = ?")
		args = append(args, f.UserID)
	}
	if f.SourceIP != "" {
		clauses = append(clauses, "source_ip = ?")
		args = append(args, f.SourceIP)
	}
	if !f.Range.Start.IsZero() {
		clauses = append(clauses, "ts >= ?")
		args = append(args, toNanos(f.Range.Start))
	}
	if !f.Range.End.IsZero() {
		clauses = append(clauses, "ts <= ?")
		args = append(args, toNanos(f.Range.End))
	}

	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEvent(row rowScanner) (*core.SecurityEvent, error) {
	var (
		e        core.SecurityEvent
		ts       int64
		typ, sev string
		metadata sql.NullString
	)
	if err := row.Scan(&e.ID, &ts, &typ, &sev, &e.SourceIP, &e.UserID, &e.Description, &metadata); err != nil {
		return nil, err
	}
	e.Timestamp = fromNanos(ts)
	e.Type = core.EventType(typ)
	e.Severity = core.Severity(sev)
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &e.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	return &e, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// marshalNullable encodes v as JSON, or NULL when empty is true
func marshalNullable(v interface{}, empty bool) (sql.NullString, error) {
	if empty {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}
