package storage

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"regexp"
	"time"

	"watchtower/config"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"
)

var validDatabaseNameRegex = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// ClickHouse holds the ClickHouse connection used by the columnar event store
type ClickHouse struct {
	Conn   driver.Conn
	Config config.ClickHouseConfig
	Logger *zap.SugaredLogger
}

// NewClickHouse connects, verifies the connection and ensures the database exists
func NewClickHouse(cfg config.ClickHouseConfig, logger *zap.SugaredLogger) (*ClickHouse, error) {
	if err := validateDatabaseName(cfg.Database); err != nil {
		return nil, fmt.Errorf("invalid database name: %w", err)
	}
	poolSize := cfg.MaxPoolSize
	if poolSize <= 0 {
		poolSize = 10
	}

	options := &clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: "default",
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout: 10 * time.Second,
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
		MaxOpenConns:     poolSize,
		MaxIdleConns:     poolSize / 2,
		ConnMaxLifetime:  time.Hour,
		ConnOpenStrategy: clickhouse.ConnOpenInOrder,
		DialContext: func(ctx context.Context, addr string) (net.Conn, error) {
			var d net.Dialer
			d.Timeout = 10 * time.Second
			d.KeepAlive = 30 * time.Second
			return d.DialContext(ctx, "tcp", addr)
		},
	}
	if cfg.TLS {
		options.TLS = &tls.Config{MinVersion: tls.VersionTLS13}
	}

	conn, err := clickhouse.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}
	logger.Info("Connected to ClickHouse successfully")

	query := fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s`", cfg.Database)
	if err := conn.Exec(ctx, query); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to create database: %w", err)
	}

	return &ClickHouse{Conn: conn, Config: cfg, Logger: logger}, nil
}

func validateDatabaseName(database string) error {
	if database == "" {
		return fmt.Errorf("database name cannot be empty")
	}
	if len(database) > 64 {
		return fmt.Errorf("database name too long (max 64 characters)")
	}
	if !validDatabaseNameRegex.MatchString(database) {
		return fmt.Errorf("database name contains invalid characters (only alphanumeric and underscore allowed)")
	}
	return nil
}

// table qualifies a table name with the configured database
func (ch *ClickHouse) table(name string) string {
	return fmt.Sprintf("`%s`.%s", ch.Config.Database, name)
}

// HealthCheck performs a health check on the ClickHouse connection
func (ch *ClickHouse) HealthCheck(ctx context.Context) error {
	return ch.Conn.Ping(ctx)
}

// Close closes the ClickHouse connection
func (ch *ClickHouse) Close() error {
	return ch.Conn.Close()
}

// GetVersion returns the ClickHouse server version
func (ch *ClickHouse) GetVersion(ctx context.Context) (string, error) {
	var version string
	if err := ch.Conn.QueryRow(ctx, "SELECT version()").Scan(&version); err != nil {
		return "", fmt.Errorf("failed to get version: %w", err)
	}
	return version, nil
}

// CreateTablesIfNotExist creates the events table. Timestamps are stored
// as Int64 unix nanoseconds, matching the SQLite layout. ingested_at orders
// events that share a timestamp by arrival.
func (ch *ClickHouse) CreateTablesIfNotExist(ctx context.Context) error {
	eventsTable := `
	CREATE TABLE IF NOT EXISTS ` + ch.table("events") + ` (
		id String,
		ts Int64,
		type LowCardinality(String),
		severity LowCardinality(String),
		severity_rank UInt8,
		source_ip String,
		user_id String,
		description String,
		metadata String,
		ingested_at Int64 DEFAULT toUnixTimestamp64Nano(now64(9)),
		INDEX idx_user_id user_id TYPE bloom_filter(0.01) GRANULARITY 1,
		INDEX idx_source_ip source_ip TYPE bloom_filter(0.01) GRANULARITY 1,
		INDEX idx_id id TYPE bloom_filter(0.01) GRANULARITY 1
	) ENGINE = MergeTree()
	PARTITION BY toYYYYMM(fromUnixTimestamp64Nano(ts))
	ORDER BY (type, ts, id)
	SETTINGS index_granularity = 8192
	`
	if err := ch.Conn.Exec(ctx, eventsTable); err != nil {
		return fmt.Errorf("failed to create events table: %w", err)
	}
	// Tables created before arrival order was tracked.
	if err := ch.Conn.Exec(ctx, `ALTER TABLE `+ch.table("events")+` ADD COLUMN IF NOT EXISTS ingested_at Int64 DEFAULT toUnixTimestamp64Nano(now64(9))`); err != nil {
		return fmt.Errorf("failed to add ingested_at column: %w", err)
	}
	ch.Logger.Info("Events table created/verified")
	return nil
}
