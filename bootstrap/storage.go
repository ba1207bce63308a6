package bootstrap

import (
	"context"
	"fmt"
	"os"
	"time"

	"watchtower/config"
	"watchtower/storage"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// StorageComponents holds all storage-related components.
type StorageComponents struct {
	SQLite     *storage.SQLite
	ClickHouse *storage.ClickHouse // nil unless storage.event_backend=clickhouse
	MongoDB    *storage.MongoDB    // nil unless mongodb.enabled
	Redis      *redis.Client       // nil unless redis.enabled

	Events    storage.EventStore
	Alerts    storage.AlertStore
	Incidents storage.IncidentStore
	Rules     storage.RuleStore
	Audit     storage.AuditStore
	Locker    storage.RuleLocker
}

// InitStorage opens every configured backend. SQLite is always opened: it
// holds rules, alerts and incidents, and events and audit records unless
// another backend takes them.
func InitStorage(ctx context.Context, cfg *config.Config, sugar *zap.SugaredLogger) (_ *StorageComponents, err error) {
	sc := &StorageComponents{}
	defer func() {
		if err != nil {
			sc.Close(sugar)
		}
	}()

	if sc.SQLite, err = InitSQLite(cfg.Storage.SQLitePath, sugar); err != nil {
		return nil, err
	}
	sc.Alerts = storage.NewSQLiteAlertStore(sc.SQLite, sugar)
	sc.Incidents = storage.NewSQLiteIncidentStore(sc.SQLite, sugar)
	sc.Rules = storage.NewSQLiteCorrelationRuleStorage(sc.SQLite, sugar)

	switch cfg.Storage.EventBackend {
	case config.EventBackendClickHouse:
		if sc.ClickHouse, err = InitClickHouse(cfg.ClickHouse, sugar); err != nil {
			return nil, err
		}
		events, err := storage.NewClickHouseEventStore(ctx, sc.ClickHouse, cfg.ClickHouse.CacheSize, sugar)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize ClickHouse event store: %w", err)
		}
		sc.Events = events
		sugar.Info("ClickHouse event store initialized successfully")
	default:
		sc.Events = storage.NewSQLiteEventStore(sc.SQLite, sugar)
	}

	if cfg.MongoDB.Enabled {
		if sc.MongoDB, err = storage.NewMongoDB(cfg.MongoDB.URI, cfg.MongoDB.Database, cfg.MongoDB.MaxPoolSize, sugar); err != nil {
			return nil, err
		}
		audit, err := storage.NewMongoAuditStore(ctx, sc.MongoDB, sugar)
		if err != nil {
			return nil, err
		}
		sc.Audit = audit
		sugar.Info("MongoDB audit archive initialized successfully")
	} else {
		sc.Audit = storage.NewSQLiteAuditStore(sc.SQLite, sugar)
	}

	if cfg.Redis.Enabled {
		if sc.Redis, err = InitRedis(ctx, cfg, sugar); err != nil {
			return nil, err
		}
		sc.Locker = storage.NewRedisRuleLocker(sc.Redis, cfg.Redis.LockTTL, sugar)
	} else {
		sc.Locker = storage.NewLocalRuleLocker()
	}

	return sc, nil
}

// Close releases every opened backend, logging failures
func (sc *StorageComponents) Close(sugar *zap.SugaredLogger) {
	if sc == nil {
		return
	}
	if sc.ClickHouse != nil {
		if err := sc.ClickHouse.Close(); err != nil {
			sugar.Errorw("Failed to close ClickHouse connection", "error", err)
		}
	}
	if sc.MongoDB != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := sc.MongoDB.Close(ctx); err != nil {
			sugar.Errorw("Failed to disconnect MongoDB", "error", err)
		}
	}
	if sc.Redis != nil {
		if err := sc.Redis.Close(); err != nil {
			sugar.Errorw("Failed to close Redis client", "error", err)
		}
	}
	if sc.SQLite != nil {
		if err := sc.SQLite.Close(); err != nil {
			sugar.Errorw("Failed to close SQLite", "error", err)
		}
	}
}

// InitClickHouse initializes ClickHouse connection with retry logic.
func InitClickHouse(cfg config.ClickHouseConfig, sugar *zap.SugaredLogger) (*storage.ClickHouse, error) {
	const maxRetries = 3
	retryDelays := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}

	var clickhouse *storage.ClickHouse
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			sugar.Infow("Retrying ClickHouse connection",
				"attempt", attempt,
				"max_retries", maxRetries,
				"delay", retryDelays[attempt-1])
			time.Sleep(retryDelays[attempt-1])
		}

		clickhouse, lastErr = storage.NewClickHouse(cfg, sugar)
		if lastErr == nil {
			break
		}

		sugar.Warnw("ClickHouse connection attempt failed",
			"attempt", attempt+1,
			"error", lastErr)
	}

	if lastErr != nil {
		printFatal("ClickHouse Connection Failed", ClassifyConnectionError(lastErr, cfg.Addr))
		return nil, fmt.Errorf("failed to connect to ClickHouse after %d attempts: %w", maxRetries+1, lastErr)
	}
	return clickhouse, nil
}

// InitSQLite initializes SQLite connection.
func InitSQLite(path string, sugar *zap.SugaredLogger) (*storage.SQLite, error) {
	sqlite, err := storage.NewSQLite(path, sugar)
	if err != nil {
		printFatal("SQLite Initialization Failed", ClassifySQLiteError(err, path))
		return nil, fmt.Errorf("failed to initialize SQLite: %w", err)
	}

	sugar.Infow("SQLite initialized successfully", "path", path)
	return sqlite, nil
}

// InitRedis connects the client used for distributed rule locks
func InitRedis(ctx context.Context, cfg *config.Config, sugar *zap.SugaredLogger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Redis.Addr, err)
	}

	sugar.Infow("Connected to Redis", "addr", cfg.Redis.Addr, "lock_ttl", cfg.Redis.LockTTL)
	return client, nil
}

func printFatal(title, detail string) {
	fmt.Fprintf(os.Stderr, "\n========================================\n")
	fmt.Fprintf(os.Stderr, "FATAL: %s\n", title)
	fmt.Fprintf(os.Stderr, "========================================\n")
	fmt.Fprintf(os.Stderr, "%s\n", detail)
	fmt.Fprintf(os.Stderr, "========================================\n\n")
}
