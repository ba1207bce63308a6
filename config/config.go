package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"
)

// Event backends
const (
	EventBackendSQLite     = "sqlite"
	EventBackendClickHouse = "clickhouse"
)

// ClickHouseConfig holds the columnar event store connection settings
type ClickHouseConfig struct {
	Addr        string `mapstructure:"addr"`
	Database    string `mapstructure:"database"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	TLS         bool   `mapstructure:"tls"`
	MaxPoolSize int    `mapstructure:"max_pool_size"`
	// CacheSize bounds the recent-event read cache
	CacheSize int `mapstructure:"cache_size"`
}

// RateLimitConfig is a token bucket per client IP
type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// Config holds the application configuration
type Config struct {
	API struct {
		Port                 int             `mapstructure:"port"`
		TLS                  bool            `mapstructure:"tls"`
		CertFile             string          `mapstructure:"cert_file"`
		KeyFile              string          `mapstructure:"key_file"`
		AllowedOrigins       []string        `mapstructure:"allowed_origins"`
		TrustProxy           bool            `mapstructure:"trust_proxy"`
		TrustedProxyNetworks []string        `mapstructure:"trusted_proxy_networks"`
		RateLimit            RateLimitConfig `mapstructure:"rate_limit"`
		IngestRateLimit      RateLimitConfig `mapstructure:"ingest_rate_limit"`
		MaxAuthFailures      int             `mapstructure:"max_auth_failures"`
		BodyLimit            int64           `mapstructure:"body_limit"`
	} `mapstructure:"api"`

	Auth struct {
		Enabled        bool   `mapstructure:"enabled"`
		Username       string `mapstructure:"username"`
		Password       string `mapstructure:"password"`
		HashedPassword string
		BcryptCost     int           `mapstructure:"bcrypt_cost"`
		JWTSecret      string        `mapstructure:"jwt_secret"`
		JWTExpiry      time.Duration `mapstructure:"jwt_expiry"`
	} `mapstructure:"auth"`

	Storage struct {
		EventBackend string `mapstructure:"event_backend"`
		SQLitePath   string `mapstructure:"sqlite_path"`
	} `mapstructure:"storage"`

	ClickHouse ClickHouseConfig `mapstructure:"clickhouse"`

	MongoDB struct {
		Enabled     bool   `mapstructure:"enabled"`
		URI         string `mapstructure:"uri"`
		Database    string `mapstructure:"database"`
		MaxPoolSize uint64 `mapstructure:"max_pool_size"`
	} `mapstructure:"mongodb"`

	Redis struct {
		Enabled  bool          `mapstructure:"enabled"`
		Addr     string        `mapstructure:"addr"`
		Password string        `mapstructure:"password"`
		DB       int           `mapstructure:"db"`
		PoolSize int           `mapstructure:"pool_size"`
		LockTTL  time.Duration `mapstructure:"lock_ttl"`
	} `mapstructure:"redis"`

	Correlation struct {
		Timeout            time.Duration `mapstructure:"timeout"`
		RegexTimeout       time.Duration `mapstructure:"regex_timeout"`
		RuleReloadInterval time.Duration `mapstructure:"rule_reload_interval"`
		PatternCacheSize   int           `mapstructure:"pattern_cache_size"`
		MaxMergeAttempts   int           `mapstructure:"max_merge_attempts"`
	} `mapstructure:"correlation"`

	Kafka struct {
		Enabled bool     `mapstructure:"enabled"`
		Brokers []string `mapstructure:"brokers"`
		Topic   string   `mapstructure:"topic"`
		GroupID string   `mapstructure:"group_id"`
		// RetryBackoff is the pause before re-reading after a storage failure
		RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	} `mapstructure:"kafka"`

	NATS struct {
		Enabled       bool   `mapstructure:"enabled"`
		URL           string `mapstructure:"url"`
		SubjectPrefix string `mapstructure:"subject_prefix"`
	} `mapstructure:"nats"`

	Tracing struct {
		Enabled     bool    `mapstructure:"enabled"`
		SampleRatio float64 `mapstructure:"sample_ratio"`
		ServiceName string  `mapstructure:"service_name"`
	} `mapstructure:"tracing"`

	Logging struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"logging"`

	Secrets struct {
		Provider string `mapstructure:"provider"`
		Vault    struct {
			Address string `mapstructure:"address"`
			Token   string `mapstructure:"token"`
			Path    string `mapstructure:"path"`
		} `mapstructure:"vault"`
		AWS struct {
			Region    string `mapstructure:"region"`
			SecretID  string `mapstructure:"secret_id"`
			AccessKey string `mapstructure:"access_key"`
			SecretKey string `mapstructure:"secret_key"`
		} `mapstructure:"aws"`
	} `mapstructure:"secrets"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.port", 8081)
	v.SetDefault("api.tls", false)
	v.SetDefault("api.cert_file", "server.crt")
	v.SetDefault("api.key_file", "server.key")
	v.SetDefault("api.allowed_origins", []string{"http://localhost:3000", "https://localhost:3000"})
	v.SetDefault("api.trust_proxy", false)
	v.SetDefault("api.trusted_proxy_networks", []string{})
	v.SetDefault("api.rate_limit.requests_per_second", 100)
	v.SetDefault("api.rate_limit.burst", 100)
	v.SetDefault("api.ingest_rate_limit.requests_per_second", 1000)
	v.SetDefault("api.ingest_rate_limit.burst", 2000)
	v.SetDefault("api.max_auth_failures", 5)
	v.SetDefault("api.body_limit", 1048576) // 1MB

	v.SetDefault("auth.enabled", true)
	v.SetDefault("auth.username", "admin")
	v.SetDefault("auth.password", "")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.bcrypt_cost", bcrypt.DefaultCost)
	v.SetDefault("auth.jwt_expiry", 24*time.Hour)

	v.SetDefault("storage.event_backend", EventBackendSQLite)
	v.SetDefault("storage.sqlite_path", "./data/watchtower.db")

	// 127.0.0.1 rather than localhost avoids IPv6 resolution on some hosts
	v.SetDefault("clickhouse.addr", "127.0.0.1:9000")
	v.SetDefault("clickhouse.database", "watchtower")
	v.SetDefault("clickhouse.username", "default")
	v.SetDefault("clickhouse.password", "")
	v.SetDefault("clickhouse.tls", false)
	v.SetDefault("clickhouse.max_pool_size", 10)
	v.SetDefault("clickhouse.cache_size", 10000)

	v.SetDefault("mongodb.enabled", false)
	v.SetDefault("mongodb.uri", "mongodb://localhost:27017")
	v.SetDefault("mongodb.database", "watchtower")
	v.SetDefault("mongodb.max_pool_size", 10)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.lock_ttl", 10*time.Second)

	v.SetDefault("correlation.timeout", 2*time.Second)
	v.SetDefault("correlation.regex_timeout", 100*time.Millisecond)
	v.SetDefault("correlation.rule_reload_interval", 30*time.Second)
	v.SetDefault("correlation.pattern_cache_size", 512)
	v.SetDefault("correlation.max_merge_attempts", 3)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "security-events")
	v.SetDefault("kafka.group_id", "watchtower")
	v.SetDefault("kafka.retry_backoff", 2*time.Second)

	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("nats.subject_prefix", "watchtower")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.sample_ratio", 0.1)
	v.SetDefault("tracing.service_name", "watchtower")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	v.SetDefault("secrets.provider", "env")
	v.SetDefault("secrets.vault.address", "")
	v.SetDefault("secrets.vault.token", "")
	v.SetDefault("secrets.vault.path", defaultVaultPath)
	v.SetDefault("secrets.aws.region", "us-east-1")
	v.SetDefault("secrets.aws.secret_id", defaultAWSSecretID)
	v.SetDefault("secrets.aws.access_key", "")
	v.SetDefault("secrets.aws.secret_key", "")
}

// loadFromEnv sets up environment variable loading. WATCHTOWER_API_PORT
// overrides api.port.
func loadFromEnv(v *viper.Viper) {
	v.SetEnvPrefix("WATCHTOWER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("storage.sqlite_path", "WATCHTOWER_SQLITE_PATH")
	_ = v.BindEnv("auth.jwt_secret", "WATCHTOWER_JWT_SECRET")
}

var weakSecrets = []string{
	"secret", "password", "changeme", "default", "admin",
	"jwt_secret", "supersecret", "mysecret", "test", "example",
}

// validateAndHash validates and hashes the password
func validateAndHash(config *Config) error {
	if config.Auth.Enabled {
		if len(config.Auth.JWTSecret) < 32 {
			return fmt.Errorf("JWT secret must be at least 32 characters (256 bits)")
		}
		lowerSecret := strings.ToLower(config.Auth.JWTSecret)
		for _, weak := range weakSecrets {
			if strings.Contains(lowerSecret, weak) {
				return fmt.Errorf("JWT secret appears to contain weak/default value: please use a cryptographically secure random string")
			}
		}
	}

	if config.Auth.Password != "" {
		hashed, err := bcrypt.GenerateFromPassword([]byte(config.Auth.Password), config.Auth.BcryptCost)
		if err != nil {
			return fmt.Errorf("failed to hash password: %w", err)
		}
		config.Auth.HashedPassword = string(hashed)
		config.Auth.Password = ""
	}

	if err := validateConfig(config); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

// LoadConfig loads configuration from config.yaml (in . or ./config) and
// environment variables
func LoadConfig() (*Config, error) {
	return Load("")
}

// Load reads file when non-empty, otherwise searches the default paths.
// A missing default file is not an error.
func Load(file string) (*Config, error) {
	v := viper.New()
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	setDefaults(v)
	loadFromEnv(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := LoadSecrets(&config); err != nil {
		return nil, err
	}

	if err := validateAndHash(&config); err != nil {
		return nil, err
	}
	return &config, nil
}

func validateConfig(config *Config) error {
	if config.API.Port < 1 || config.API.Port > 65535 {
		return fmt.Errorf("invalid API port: %d (must be 1-65535)", config.API.Port)
	}
	if config.API.TLS && (config.API.CertFile == "" || config.API.KeyFile == "") {
		return fmt.Errorf("api.cert_file and api.key_file are required when TLS is enabled")
	}
	for name, rl := range map[string]RateLimitConfig{
		"api.rate_limit":        config.API.RateLimit,
		"api.ingest_rate_limit": config.API.IngestRateLimit,
	} {
		if rl.RequestsPerSecond <= 0 || rl.Burst < 1 {
			return fmt.Errorf("%s requires positive requests_per_second and burst", name)
		}
	}

	if config.Auth.Enabled && config.Auth.Username == "" {
		return fmt.Errorf("auth.username cannot be empty when auth is enabled")
	}
	if config.Auth.Enabled && config.Auth.HashedPassword == "" {
		return fmt.Errorf("auth.password is required when auth is enabled")
	}
	if config.Auth.JWTExpiry <= 0 {
		return fmt.Errorf("auth.jwt_expiry must be positive")
	}

	switch config.Storage.EventBackend {
	case EventBackendSQLite:
	case EventBackendClickHouse:
		if config.ClickHouse.Addr == "" {
			return fmt.Errorf("clickhouse.addr is required for the clickhouse event backend")
		}
	default:
		return fmt.Errorf("invalid storage.event_backend %q (must be sqlite or clickhouse)", config.Storage.EventBackend)
	}
	if config.Storage.SQLitePath == "" {
		return fmt.Errorf("storage.sqlite_path cannot be empty")
	}

	if config.MongoDB.Enabled {
		if !strings.HasPrefix(config.MongoDB.URI, "mongodb://") && !strings.HasPrefix(config.MongoDB.URI, "mongodb+srv://") {
			return fmt.Errorf("invalid MongoDB URI: must start with mongodb:// or mongodb+srv://")
		}
		parsed, err := url.Parse(config.MongoDB.URI)
		if err != nil {
			return fmt.Errorf("invalid MongoDB URI: %w", err)
		}
		if parsed.Host == "" {
			return fmt.Errorf("invalid MongoDB URI: missing host")
		}
		if config.MongoDB.Database == "" {
			return fmt.Errorf("MongoDB database cannot be empty")
		}
	}

	if config.Redis.Enabled && config.Redis.LockTTL < time.Second {
		return fmt.Errorf("redis.lock_ttl must be at least 1s, got %v", config.Redis.LockTTL)
	}

	if config.Correlation.Timeout <= 0 || config.Correlation.Timeout > time.Minute {
		return fmt.Errorf("correlation.timeout must be within (0, 1m], got %v", config.Correlation.Timeout)
	}
	if config.Correlation.RegexTimeout < time.Millisecond || config.Correlation.RegexTimeout > config.Correlation.Timeout {
		return fmt.Errorf("correlation.regex_timeout must be between 1ms and correlation.timeout, got %v", config.Correlation.RegexTimeout)
	}
	if config.Correlation.PatternCacheSize < 1 {
		return fmt.Errorf("correlation.pattern_cache_size must be positive")
	}

	if config.Kafka.Enabled && (len(config.Kafka.Brokers) == 0 || config.Kafka.Topic == "" || config.Kafka.GroupID == "") {
		return fmt.Errorf("kafka requires brokers, topic and group_id")
	}
	if config.NATS.Enabled && config.NATS.URL == "" {
		return fmt.Errorf("nats.url cannot be empty when nats is enabled")
	}
	if config.Tracing.SampleRatio < 0 || config.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be between 0 and 1, got %v", config.Tracing.SampleRatio)
	}

	switch config.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging.level %q", config.Logging.Level)
	}
	switch config.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("invalid logging.format %q (must be console or json)", config.Logging.Format)
	}
	return nil
}
