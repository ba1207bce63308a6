package bootstrap

import (
	"fmt"
	"os"

	"watchtower/config"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// InitLogger builds the zap logger. format "json" selects structured JSON
// output; anything else gives colored console output.
func InitLogger(level, format string) (*zap.Logger, *zap.SugaredLogger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var encoder zapcore.Encoder
	if format == "json" {
		encoderConfig := zap.NewProductionEncoderConfig()
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	} else {
		encoderConfig := zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder // Colored levels
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder        // Readable timestamps
		encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder      // Short file paths
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), lvl)
	logger := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	return logger, logger.Sugar(), nil
}

// InitConfig loads the application configuration. An empty file searches
// ./config.yaml and ./config/config.yaml.
func InitConfig(file string) (*config.Config, error) {
	cfg, err := config.Load(file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to load config: %v\n", err)
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// logConfig records the effective settings that shape startup
func logConfig(cfg *config.Config, sugar *zap.SugaredLogger) {
	sugar.Infow("Config loaded",
		"api_port", cfg.API.Port,
		"tls", cfg.API.TLS,
		"auth_enabled", cfg.Auth.Enabled,
		"event_backend", cfg.Storage.EventBackend,
		"sqlite_path", cfg.Storage.SQLitePath,
		"secrets_provider", cfg.Secrets.Provider)

	sugar.Infow("Optional integrations",
		"mongodb_audit", cfg.MongoDB.Enabled,
		"redis_locks", cfg.Redis.Enabled,
		"kafka_ingest", cfg.Kafka.Enabled,
		"nats_notifications", cfg.NATS.Enabled,
		"tracing", cfg.Tracing.Enabled)

	if !cfg.Auth.Enabled {
		sugar.Warn("Authentication is disabled; mutations require an X-Actor header")
	}
}
