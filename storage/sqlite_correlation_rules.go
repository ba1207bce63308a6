package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"watchtower/core"

	"go.uber.org/zap"
)

const ruleColumns = `id, name, description, enabled, predicate, window_seconds, threshold,
	produced_severity, produced_alert_type, created_at, updated_at`

// SQLiteCorrelationRuleStorage handles correlation rule persistence in SQLite.
// Each mutation bumps the rule revision inside the same transaction so
// rule caches can detect changes with a single read.
type SQLiteCorrelationRuleStorage struct {
	sqlite *SQLite
	logger *zap.SugaredLogger
}

// NewSQLiteCorrelationRuleStorage creates a new SQLite correlation rule storage handler
func NewSQLiteCorrelationRuleStorage(sqlite *SQLite, logger *zap.SugaredLogger) *SQLiteCorrelationRuleStorage {
	return &SQLiteCorrelationRuleStorage{
		sqlite: sqlite,
		logger: logger,
	}
}

// CreateRule inserts a rule
func (scrs *SQLiteCorrelationRuleStorage) CreateRule(ctx context.Context, rule *core.CorrelationRule) error {
	predicate, err := json.Marshal(rule.Predicate)
	if err != nil {
		return core.NewStorageError("marshal predicate", err)
	}

	return scrs.sqlite.WithTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO correlation_rules (id, name, description, enabled, predicate, window_seconds,
				threshold, produced_severity, produced_alert_type, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rule.ID, rule.Name, rule.Description, rule.Enabled, string(predicate), rule.WindowSeconds,
			rule.Threshold, string(rule.ProducedSeverity), rule.ProducedAlertType,
			toNanos(rule.CreatedAt), toNanos(rule.UpdatedAt),
		)
		if err != nil {
			if isUniqueViolation(err) {
				return core.NewValidationError("id", "rule %s already exists", rule.ID)
			}
			return core.NewStorageError("insert correlation rule", err)
		}
		return bumpRevision(ctx, tx)
	})
}

// GetRule retrieves a rule by id
func (scrs *SQLiteCorrelationRuleStorage) GetRule(ctx context.Context, id string) (*core.CorrelationRule, error) {
	row := scrs.sqlite.ReadDB.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM correlation_rules WHERE id = ?`, id)
	rule, err := scanRule(row)
	if err == sql.ErrNoRows {
		return nil, notFound(ErrRuleNotFound, "rule", id)
	}
	if err != nil {
		return nil, core.NewStorageError("get correlation rule", err)
	}
	return rule, nil
}

// UpdateRule replaces every mutable field of an existing rule
func (scrs *SQLiteCorrelationRuleStorage) UpdateRule(ctx context.Context, rule *core.CorrelationRule) error {
	predicate, err := json.Marshal(rule.Predicate)
	if err != nil {
		return core.NewStorageError("marshal predicate", err)
	}

	return scrs.sqlite.WithTransaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE correlation_rules SET
				name = ?, description = ?, enabled = ?, predicate = ?, window_seconds = ?, threshold = ?,
				produced_severity = ?, produced_alert_type = ?, updated_at = ?
			WHERE id = ?`,
			rule.Name, rule.Description, rule.Enabled, string(predicate), rule.WindowSeconds, rule.Threshold,
			string(rule.ProducedSeverity), rule.ProducedAlertType, toNanos(rule.UpdatedAt), rule.ID,
		)
		if err != nil {
			return core.NewStorageError("update correlation rule", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return core.NewStorageError("update correlation rule", err)
		} else if n == 0 {
			return notFound(ErrRuleNotFound, "rule", rule.ID)
		}
		return bumpRevision(ctx, tx)
	})
}

// DeleteRule removes a rule. Alerts it raised keep their rule id.
func (scrs *SQLiteCorrelationRuleStorage) DeleteRule(ctx context.Context, id string) error {
	return scrs.sqlite.WithTransaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM correlation_rules WHERE id = ?`, id)
		if err != nil {
			return core.NewStorageError("delete correlation rule", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return core.NewStorageError("delete correlation rule", err)
		} else if n == 0 {
			return notFound(ErrRuleNotFound, "rule", id)
		}
		return bumpRevision(ctx, tx)
	})
}

// ListRules returns rules oldest first so evaluation order is stable
func (scrs *SQLiteCorrelationRuleStorage) ListRules(ctx context.Context, enabledOnly bool) ([]core.CorrelationRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM correlation_rules`
	if enabledOnly {
		query += ` WHERE enabled = 1`
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := scrs.sqlite.ReadDB.QueryContext(ctx, query)
	if err != nil {
		return nil, core.NewStorageError("list correlation rules", err)
	}
	defer rows.Close()

	// non-nil so an empty set serializes as []
	rules := make([]core.CorrelationRule, 0)
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, core.NewStorageError("list correlation rules", err)
		}
		rules = append(rules, *rule)
	}
	if err := rows.Err(); err != nil {
		return nil, core.NewStorageError("list correlation rules", err)
	}
	return rules, nil
}

// Revision returns the rule set revision
func (scrs *SQLiteCorrelationRuleStorage) Revision(ctx context.Context) (int64, error) {
	var rev int64
	if err := scrs.sqlite.ReadDB.QueryRowContext(ctx, `SELECT revision FROM rule_revision WHERE id = 1`).Scan(&rev); err != nil {
		return 0, core.NewStorageError("read rule revision", err)
	}
	return rev, nil
}

func bumpRevision(ctx context.Context, tx *sql.Tx) error {
	if _, err := tx.ExecContext(ctx, `UPDATE rule_revision SET revision = revision + 1 WHERE id = 1`); err != nil {
		return core.NewStorageError("bump rule revision", err)
	}
	return nil
}

func scanRule(row rowScanner) (*core.CorrelationRule, error) {
	var (
		r                    core.CorrelationRule
		predicate, severity  string
		createdAt, updatedAt int64
	)
	err := row.Scan(&r.ID, &r.Name, &r.Description, &r.Enabled, &predicate, &r.WindowSeconds, &r.Threshold,
		&severity, &r.ProducedAlertType, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(predicate), &r.Predicate); err != nil {
		return nil, fmt.Errorf("failed to unmarshal predicate: %w", err)
	}
	r.ProducedSeverity = core.Severity(severity)
	r.CreatedAt = fromNanos(createdAt)
	r.UpdatedAt = fromNanos(updatedAt)
	return &r, nil
}
