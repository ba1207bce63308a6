package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"watchtower/core"

	"go.uber.org/zap"
)

// SQLiteAuditStore keeps the transition log alongside the entities
type SQLiteAuditStore struct {
	sqlite *SQLite
	logger *zap.SugaredLogger
}

// NewSQLiteAuditStore creates a new SQLite audit store
func NewSQLiteAuditStore(sqlite *SQLite, logger *zap.SugaredLogger) *SQLiteAuditStore {
	return &SQLiteAuditStore{sqlite: sqlite, logger: logger}
}

// RecordAudit appends a record
func (s *SQLiteAuditStore) RecordAudit(ctx context.Context, rec core.AuditRecord) error {
	details, err := marshalNullable(rec.Details, len(rec.Details) == 0)
	if err != nil {
		return core.NewStorageError("marshal audit details", err)
	}
	_, err = s.sqlite.WriteDB.ExecContext(ctx, `
		INSERT INTO audit_log (entity_kind, entity_id, action, from_state, to_state, actor, at, details)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.EntityKind, rec.EntityID, rec.Action, rec.From, rec.To, rec.Actor, toNanos(rec.At), details,
	)
	if err != nil {
		return core.NewStorageError("insert audit record", err)
	}
	return nil
}

// ListAudit returns records for entityID in the order they were written.
// An empty entityID lists the most recent records across all entities.
func (s *SQLiteAuditStore) ListAudit(ctx context.Context, entityID string, limit int) ([]core.AuditRecord, error) {
	if limit <= 0 || limit > core.MaxPageLimit {
		limit = core.DefaultPageLimit
	}

	var (
		rows *sql.Rows
		err  error
	)
	const cols = `entity_kind, entity_id, action, from_state, to_state, actor, at, details`
	if entityID != "" {
		rows, err = s.sqlite.ReadDB.QueryContext(ctx,
			`SELECT `+cols+` FROM audit_log WHERE entity_id = ? ORDER BY at ASC, id ASC LIMIT ?`, entityID, limit)
	} else {
		rows, err = s.sqlite.ReadDB.QueryContext(ctx,
			`SELECT `+cols+` FROM audit_log ORDER BY at DESC, id DESC LIMIT ?`, limit)
	}
	if err != nil {
		return nil, core.NewStorageError("list audit records", err)
	}
	defer rows.Close()

	records := []core.AuditRecord{}
	for rows.Next() {
		var (
			rec     core.AuditRecord
			at      int64
			details sql.NullString
		)
		if err := rows.Scan(&rec.EntityKind, &rec.EntityID, &rec.Action, &rec.From, &rec.To, &rec.Actor, &at, &details); err != nil {
			return nil, core.NewStorageError("list audit records", err)
		}
		rec.At = fromNanos(at)
		if details.Valid {
			if err := json.Unmarshal([]byte(details.String), &rec.Details); err != nil {
				return nil, core.NewStorageError("list audit records", fmt.Errorf("failed to unmarshal details: %w", err))
			}
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, core.NewStorageError("list audit records", err)
	}
	return records, nil
}
