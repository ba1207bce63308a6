package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"watchtower/core"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

// ClickHouseEventStore keeps the event log in ClickHouse for high volume
// deployments. Inserts are synchronous so a recorded event is immediately
// queryable. Recently written events are served from an LRU cache.
type ClickHouseEventStore struct {
	clickhouse *ClickHouse
	recent     *lru.Cache[string, core.SecurityEvent]
	logger     *zap.SugaredLogger
}

// NewClickHouseEventStore creates the events table if needed
func NewClickHouseEventStore(ctx context.Context, ch *ClickHouse, cacheSize int, logger *zap.SugaredLogger) (*ClickHouseEventStore, error) {
	if cacheSize <= 0 {
		cacheSize = 10000
	}
	cache, err := lru.New[string, core.SecurityEvent](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create event cache: %w", err)
	}
	if err := ch.CreateTablesIfNotExist(ctx); err != nil {
		return nil, err
	}
	return &ClickHouseEventStore{clickhouse: ch, recent: cache, logger: logger}, nil
}

// InsertEvent appends an event. Duplicate ids are only detected while
// the first copy is still cached.
func (s *ClickHouseEventStore) InsertEvent(ctx context.Context, event *core.SecurityEvent) error {
	if s.recent.Contains(event.ID) {
		return fmt.Errorf("%w: %w", ErrDuplicateEvent, core.NewValidationError("id", "event %s already recorded", event.ID))
	}
	metadata := ""
	if len(event.Metadata) > 0 {
		b, err := json.Marshal(event.Metadata)
		if err != nil {
			return core.NewStorageError("marshal event metadata", err)
		}
		metadata = string(b)
	}

	err := s.clickhouse.Conn.Exec(ctx, `
		INSERT INTO `+s.clickhouse.table("events")+`
			(id, ts, type, severity, severity_rank, source_ip, user_id, description, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID, toNanos(event.Timestamp), string(event.Type), string(event.Severity), uint8(event.Severity.Rank()),
		event.SourceIP, event.UserID, event.Description, metadata,
	)
	if err != nil {
		return core.NewStorageError("insert event", err)
	}
	s.recent.Add(event.ID, *event)
	return nil
}

// GetEvent retrieves an event by id
func (s *ClickHouseEventStore) GetEvent(ctx context.Context, id string) (*core.SecurityEvent, error) {
	if e, ok := s.recent.Get(id); ok {
		return &e, nil
	}
	events, err := s.query(ctx, `SELECT `+eventColumns+` FROM `+s.clickhouse.table("events")+` WHERE id = ? LIMIT 1`, id)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, notFound(ErrEventNotFound, "event", id)
	}
	return &events[0], nil
}

// QueryEvents returns one page of events matching filter
func (s *ClickHouseEventStore) QueryEvents(ctx context.Context, filter core.EventFilter, page core.Pagination, sort core.EventSort) (*core.Page[core.SecurityEvent], error) {
	page = page.Normalize()
	where, args := eventWhere(filter)

	var total uint64
	if err := s.clickhouse.Conn.QueryRow(ctx, `SELECT count() FROM `+s.clickhouse.table("events")+where, args...).Scan(&total); err != nil {
		return nil, core.NewStorageError("count events", err)
	}

	order := "DESC"
	if sort.Order == core.SortAsc {
		order = "ASC"
	}
	query := fmt.Sprintf(`SELECT %s FROM %s%s ORDER BY ts %s, ingested_at %s, id %s LIMIT ? OFFSET ?`,
		eventColumns, s.clickhouse.table("events"), where, order, order, order)
	items, err := s.query(ctx, query, append(args, page.Limit, page.Offset)...)
	if err != nil {
		return nil, err
	}
	return &core.Page[core.SecurityEvent]{Items: items, Total: int64(total), Limit: page.Limit, Offset: page.Offset}, nil
}

// SearchEvents matches free text case-insensitively, newest first
func (s *ClickHouseEventStore) SearchEvents(ctx context.Context, q core.SearchQuery) ([]core.SecurityEvent, error) {
	where, args := eventWhere(q.Filter)
	if text := strings.TrimSpace(q.Text); text != "" {
		clause := `(positionCaseInsensitive(description, ?) > 0 OR positionCaseInsensitive(user_id, ?) > 0
			OR positionCaseInsensitive(source_ip, ?) > 0 OR positionCaseInsensitive(metadata, ?) > 0)`
		if where == "" {
			where = " WHERE " + clause
		} else {
			where += " AND " + clause
		}
		args = append(args, text, text, text, text)
	}
	query := fmt.Sprintf(`SELECT %s FROM %s%s ORDER BY ts DESC, ingested_at DESC, id DESC LIMIT ?`, eventColumns, s.clickhouse.table("events"), where)
	return s.query(ctx, query, append(args, q.NormalizedLimit())...)
}

// ScanEvents streams matching events oldest first
func (s *ClickHouseEventStore) ScanEvents(ctx context.Context, filter core.EventFilter, fn func(*core.SecurityEvent) bool) error {
	where, args := eventWhere(filter)
	rows, err := s.clickhouse.Conn.Query(ctx, `SELECT `+eventColumns+` FROM `+s.clickhouse.table("events")+where+` ORDER BY ts ASC, ingested_at ASC, id ASC`, args...)
	if err != nil {
		return core.NewStorageError("scan events", err)
	}
	defer rows.Close()

	for rows.Next() {
		e, err := scanClickHouseEvent(rows)
		if err != nil {
			return core.NewStorageError("scan events", err)
		}
		if !fn(e) {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return core.NewStorageError("scan events", err)
	}
	return nil
}

// CountByType groups events in range by type
func (s *ClickHouseEventStore) CountByType(ctx context.Context, r core.TimeRange) ([]core.CountEntry, error) {
	return s.countBy(ctx, "type", r, 0)
}

// CountBySeverity groups events in range by severity
func (s *ClickHouseEventStore) CountBySeverity(ctx context.Context, r core.TimeRange) ([]core.CountEntry, error) {
	return s.countBy(ctx, "severity", r, 0)
}

// TopValues returns the most frequent values of sourceIp or userId
func (s *ClickHouseEventStore) TopValues(ctx context.Context, field string, r core.TimeRange, limit int) ([]core.CountEntry, error) {
	column, ok := topValueColumns[field]
	if !ok {
		return nil, core.NewValidationError("field", "cannot rank by %q", field)
	}
	if limit <= 0 {
		limit = 10
	}
	return s.countBy(ctx, column, r, limit)
}

// Close closes the underlying connection
func (s *ClickHouseEventStore) Close() error {
	return s.clickhouse.Close()
}

func (s *ClickHouseEventStore) countBy(ctx context.Context, column string, r core.TimeRange, limit int) ([]core.CountEntry, error) {
	where, args := eventWhere(core.EventFilter{Range: r})
	if limit > 0 {
		if where == "" {
			where = " WHERE "
		} else {
			where += " AND "
		}
		where += column + " != ''"
	}
	query := fmt.Sprintf(`SELECT %s, count() AS n FROM %s%s GROUP BY %s ORDER BY n DESC, %s ASC`,
		column, s.clickhouse.table("events"), where, column, column)
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.clickhouse.Conn.Query(ctx, query, args...)
	if err != nil {
		return nil, core.NewStorageError("count events", err)
	}
	defer rows.Close()

	entries := []core.CountEntry{}
	for rows.Next() {
		var (
			key string
			n   uint64
		)
		if err := rows.Scan(&key, &n); err != nil {
			return nil, core.NewStorageError("count events", err)
		}
		entries = append(entries, core.CountEntry{Key: key, Count: int64(n)})
	}
	if err := rows.Err(); err != nil {
		return nil, core.NewStorageError("count events", err)
	}
	return entries, nil
}

func (s *ClickHouseEventStore) query(ctx context.Context, query string, args ...interface{}) ([]core.SecurityEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	rows, err := s.clickhouse.Conn.Query(ctx, query, args...)
	if err != nil {
		return nil, core.NewStorageError("query events", err)
	}
	defer rows.Close()

	events := make([]core.SecurityEvent, 0)
	for rows.Next() {
		e, err := scanClickHouseEvent(rows)
		if err != nil {
			return nil, core.NewStorageError("query events", err)
		}
		events = append(events, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, core.NewStorageError("query events", err)
	}
	return events, nil
}

func scanClickHouseEvent(row rowScanner) (*core.SecurityEvent, error) {
	var (
		e                  core.SecurityEvent
		ts                 int64
		typ, sev, metadata string
	)
	if err := row.Scan(&e.ID, &ts, &typ, &sev, &e.SourceIP, &e.UserID, &e.Description, &metadata); err != nil {
		return nil, err
	}
	e.Timestamp = fromNanos(ts)
	e.Type = core.EventType(typ)
	e.Severity = core.Severity(sev)
	if metadata != "" {
		if err := json.Unmarshal([]byte(metadata), &e.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	return &e, nil
}
