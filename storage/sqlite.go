package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// SQLite holds the SQLite connection pools backing the relational stores.
// File databases get a single-connection write pool and a query_only read
// pool; in-memory databases share one single-connection pool.
type SQLite struct {
	DB      *sql.DB // same as WriteDB
	WriteDB *sql.DB
	ReadDB  *sql.DB
	Path    string
	Logger  *zap.SugaredLogger
}

// configureSQLiteConnection sets the pragmas every pool needs
func configureSQLiteConnection(db *sql.DB, inMemory bool) error {
	if !inMemory {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			return fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		return fmt.Errorf("failed to set busy timeout: %w", err)
	}
	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to ping SQLite database: %w", err)
	}
	return nil
}

// NewSQLite opens (or creates) the database at dbPath and creates the
// schema. ":memory:" gives every caller its own private database.
func NewSQLite(dbPath string, logger *zap.SugaredLogger) (*SQLite, error) {
	if err := validateDatabasePath(dbPath); err != nil {
		return nil, fmt.Errorf("invalid database path: %w", err)
	}

	inMemory := dbPath == ":memory:"
	dsn := dbPath
	if inMemory {
		// A named shared-cache database survives pool reconnects and is
		// isolated from other in-memory instances in the same process.
		dsn = fmt.Sprintf("file:watchtower-%s?mode=memory&cache=shared", uuid.New().String())
	} else if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	writeDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite write database: %w", err)
	}
	writeDB.SetMaxOpenConns(1)
	writeDB.SetMaxIdleConns(1)
	writeDB.SetConnMaxLifetime(0)
	if err := configureSQLiteConnection(writeDB, inMemory); err != nil {
		_ = writeDB.Close()
		return nil, fmt.Errorf("failed to configure write connection: %w", err)
	}

	readDB := writeDB
	if !inMemory {
		readDB, err = sql.Open("sqlite", dsn)
		if err != nil {
			_ = writeDB.Close()
			return nil, fmt.Errorf("failed to open SQLite read database: %w", err)
		}
		if err := configureSQLiteConnection(readDB, false); err != nil {
			_ = writeDB.Close()
			_ = readDB.Close()
			return nil, fmt.Errorf("failed to configure read connection: %w", err)
		}
		if _, err := readDB.Exec("PRAGMA query_only=ON"); err != nil {
			_ = writeDB.Close()
			_ = readDB.Close()
			return nil, fmt.Errorf("failed to enable query_only mode on read pool: %w", err)
		}
		readDB.SetMaxOpenConns(10)
		readDB.SetMaxIdleConns(5)
		readDB.SetConnMaxLifetime(5 * time.Minute)
		readDB.SetConnMaxIdleTime(10 * time.Minute)
	}

	s := &SQLite{
		DB:      writeDB,
		WriteDB: writeDB,
		ReadDB:  readDB,
		Path:    dbPath,
		Logger:  logger,
	}

	if err := s.createTables(); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Infof("SQLite database initialized at %s", dbPath)
	return s, nil
}

// WithTransaction executes fn within a write transaction, rolling back on
// error or panic
func (s *SQLite) WithTransaction(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.WriteDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("failed to rollback transaction (original error: %w, rollback error: %v)", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// createTables creates all necessary tables
func (s *SQLite) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		ts INTEGER NOT NULL, -- unix nanoseconds
		type TEXT NOT NULL,
		severity TEXT NOT NULL,
		severity_rank INTEGER NOT NULL,
		source_ip TEXT NOT NULL DEFAULT '',
		user_id TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL,
		metadata TEXT -- JSON object
	);
	CREATE INDEX IF NOT EXISTS idx_events_ts ON events(ts DESC);
	CREATE INDEX IF NOT EXISTS idx_events_type_ts ON events(type, ts DESC);
	CREATE INDEX IF NOT EXISTS idx_events_severity ON events(severity);
	CREATE INDEX IF NOT EXISTS idx_events_user ON events(user_id);
	CREATE INDEX IF NOT EXISTS idx_events_source_ip ON events(source_ip);

	CREATE TABLE IF NOT EXISTS correlation_rules (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		enabled INTEGER NOT NULL DEFAULT 1,
		predicate TEXT NOT NULL, -- JSON object
		window_seconds INTEGER NOT NULL,
		threshold INTEGER NOT NULL,
		produced_severity TEXT NOT NULL,
		produced_alert_type TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_correlation_rules_enabled ON correlation_rules(enabled);

	CREATE TABLE IF NOT EXISTS rule_revision (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		revision INTEGER NOT NULL
	);
	INSERT OR IGNORE INTO rule_revision (id, revision) VALUES (1, 0);

	CREATE TABLE IF NOT EXISTS alerts (
		alert_id TEXT PRIMARY KEY,
		rule_id TEXT NOT NULL DEFAULT '',
		group_key TEXT NOT NULL DEFAULT '',
		type TEXT NOT NULL,
		severity TEXT NOT NULL,
		severity_rank INTEGER NOT NULL,
		status TEXT NOT NULL,
		title TEXT NOT NULL,
		evidence TEXT NOT NULL, -- JSON array of event ids
		first_seen INTEGER NOT NULL,
		last_seen INTEGER NOT NULL,
		assigned_to TEXT NOT NULL DEFAULT '',
		resolution TEXT, -- JSON object
		resolved_at INTEGER,
		created_by TEXT NOT NULL DEFAULT '',
		updated_at INTEGER NOT NULL,
		version INTEGER NOT NULL DEFAULT 1
	);
	CREATE INDEX IF NOT EXISTS idx_alerts_live ON alerts(rule_id, group_key, status, last_seen DESC);
	CREATE INDEX IF NOT EXISTS idx_alerts_status ON alerts(status);
	CREATE INDEX IF NOT EXISTS idx_alerts_sort ON alerts(severity_rank DESC, last_seen DESC);
	CREATE INDEX IF NOT EXISTS idx_alerts_first_seen ON alerts(first_seen);

	CREATE TABLE IF NOT EXISTS incidents (
		incident_id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		type TEXT NOT NULL,
		severity TEXT NOT NULL,
		severity_rank INTEGER NOT NULL,
		status TEXT NOT NULL,
		phase TEXT NOT NULL,
		related_alerts TEXT NOT NULL, -- JSON array
		timeline TEXT NOT NULL, -- JSON array
		artifacts TEXT NOT NULL, -- JSON array
		resolution TEXT, -- JSON object
		assigned_to TEXT NOT NULL DEFAULT '',
		created_by TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		closed_at INTEGER,
		version INTEGER NOT NULL DEFAULT 1
	);
	CREATE INDEX IF NOT EXISTS idx_incidents_status ON incidents(status);
	CREATE INDEX IF NOT EXISTS idx_incidents_created_at ON incidents(created_at DESC);

	CREATE TABLE IF NOT EXISTS audit_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		entity_kind TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		action TEXT NOT NULL,
		from_state TEXT NOT NULL DEFAULT '',
		to_state TEXT NOT NULL DEFAULT '',
		actor TEXT NOT NULL,
		at INTEGER NOT NULL,
		details TEXT -- JSON object
	);
	CREATE INDEX IF NOT EXISTS idx_audit_entity ON audit_log(entity_id, at);

	CREATE TABLE IF NOT EXISTS dead_letter_queue (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		source TEXT NOT NULL,
		origin TEXT NOT NULL DEFAULT '', -- e.g. topic/partition/offset
		content_type TEXT NOT NULL DEFAULT '',
		payload BLOB NOT NULL,
		reason TEXT NOT NULL,
		details TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'pending',
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_dlq_created_at ON dead_letter_queue(created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_dlq_status ON dead_letter_queue(status);
	`
	if _, err := s.WriteDB.Exec(schema); err != nil {
		return err
	}
	return nil
}

// Close closes the SQLite database connections (both read and write pools)
func (s *SQLite) Close() error {
	var writeErr, readErr error
	if s.WriteDB != nil {
		writeErr = s.WriteDB.Close()
	}
	if s.ReadDB != nil && s.ReadDB != s.WriteDB {
		readErr = s.ReadDB.Close()
	}
	if writeErr != nil {
		return fmt.Errorf("failed to close write pool: %w", writeErr)
	}
	if readErr != nil {
		return fmt.Errorf("failed to close read pool: %w", readErr)
	}
	return nil
}

// HealthCheck verifies the database connection is alive
func (s *SQLite) HealthCheck(ctx context.Context) error {
	return s.WriteDB.PingContext(ctx)
}

func validateDatabasePath(dbPath string) error {
	if dbPath == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if dbPath == ":memory:" {
		return nil
	}
	if len(dbPath) > 512 {
		return fmt.Errorf("database path exceeds maximum length of 512 characters")
	}
	if strings.Contains(dbPath, "..") {
		return fmt.Errorf("path traversal not allowed (..): %s", dbPath)
	}
	if strings.Contains(dbPath, "\x00") {
		return fmt.Errorf("null bytes not allowed in path")
	}
	return nil
}

func toNanos(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func nullNanos(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toNanos(*t), Valid: true}
}
