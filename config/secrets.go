package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/secretsmanager"
	"github.com/aws/aws-sdk-go/service/secretsmanager/secretsmanageriface"
	vault "github.com/hashicorp/vault/api"
)

// Well-known secret keys. Providers store them under these names.
const (
	SecretJWT            = "jwt_secret"
	SecretUsername       = "username"
	SecretPassword       = "password"
	SecretClickHousePass = "clickhouse_password"
	SecretRedisPassword  = "redis_password"
	SecretMongoURI       = "mongodb_uri"
)

const (
	defaultVaultPath   = "secret/watchtower"
	defaultAWSSecretID = "watchtower/secrets"
	vaultTimeout       = 10 * time.Second
)

// ErrSecretNotFound is returned when a provider has no value for a key
var ErrSecretNotFound = errors.New("secret not found")

// SecretManager retrieves named secrets from a backing provider
type SecretManager interface {
	GetSecret(key string) (string, error)
}

// EnvSecretManager reads WATCHTOWER_SECRET_<KEY> environment variables
type EnvSecretManager struct {
	lookup func(string) (string, bool)
}

func NewEnvSecretManager() *EnvSecretManager {
	return &EnvSecretManager{lookup: os.LookupEnv}
}

func (e *EnvSecretManager) GetSecret(key string) (string, error) {
	envKey := "WATCHTOWER_SECRET_" + strings.ToUpper(key)
	value, ok := e.lookup(envKey)
	if !ok || value == "" {
		return "", fmt.Errorf("%w: environment variable %s not set", ErrSecretNotFound, envKey)
	}
	return value, nil
}

// vaultReader is the subset of *vault.Logical used here
type vaultReader interface {
	Read(path string) (*vault.Secret, error)
}

// VaultSecretManager reads a single KV secret from HashiCorp Vault. Both
// KV v1 and KV v2 (nested "data") layouts are accepted.
type VaultSecretManager struct {
	path   string
	reader vaultReader
}

func NewVaultSecretManager(config *Config) (*VaultSecretManager, error) {
	client, err := vault.NewClient(&vault.Config{
		Address: config.Secrets.Vault.Address,
		Timeout: vaultTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}

	token := config.Secrets.Vault.Token
	if token == "" {
		token = os.Getenv("VAULT_TOKEN")
	}
	if token != "" {
		client.SetToken(token)
	}

	path := config.Secrets.Vault.Path
	if path == "" {
		path = defaultVaultPath
	}
	return &VaultSecretManager{path: path, reader: client.Logical()}, nil
}

func (v *VaultSecretManager) GetSecret(key string) (string, error) {
	secret, err := v.reader.Read(v.path)
	if err != nil {
		return "", fmt.Errorf("failed to read from Vault: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return "", fmt.Errorf("%w: no secret at path %s", ErrSecretNotFound, v.path)
	}

	data := secret.Data
	if nested, ok := data["data"].(map[string]interface{}); ok {
		data = nested
	}
	value, ok := data[key]
	if !ok {
		return "", fmt.Errorf("%w: key %s not in Vault secret %s", ErrSecretNotFound, key, v.path)
	}
	str, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("secret value for key %s is not a string", key)
	}
	return str, nil
}

// AWSSecretManager reads a JSON object stored in AWS Secrets Manager. The
// secret is fetched once and served from memory afterwards.
type AWSSecretManager struct {
	secretID string
	client   secretsmanageriface.SecretsManagerAPI

	once    sync.Once
	values  map[string]string
	loadErr error
}

func NewAWSSecretManager(config *Config) (*AWSSecretManager, error) {
	awsCfg := &aws.Config{Region: aws.String(config.Secrets.AWS.Region)}
	if config.Secrets.AWS.AccessKey != "" && config.Secrets.AWS.SecretKey != "" {
		awsCfg.Credentials = credentials.NewStaticCredentials(
			config.Secrets.AWS.AccessKey,
			config.Secrets.AWS.SecretKey,
			"",
		)
	}
	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	secretID := config.Secrets.AWS.SecretID
	if secretID == "" {
		secretID = defaultAWSSecretID
	}
	return &AWSSecretManager{secretID: secretID, client: secretsmanager.New(sess)}, nil
}

func (a *AWSSecretManager) load() {
	result, err := a.client.GetSecretValue(&secretsmanager.GetSecretValueInput{
		SecretId: aws.String(a.secretID),
	})
	if err != nil {
		a.loadErr = fmt.Errorf("failed to get secret from AWS: %w", err)
		return
	}
	if result.SecretString == nil {
		a.loadErr = fmt.Errorf("AWS secret %s has no string value", a.secretID)
		return
	}
	if err := json.Unmarshal([]byte(*result.SecretString), &a.values); err != nil {
		a.loadErr = fmt.Errorf("failed to parse AWS secret JSON: %w", err)
	}
}

func (a *AWSSecretManager) GetSecret(key string) (string, error) {
	a.once.Do(a.load)
	if a.loadErr != nil {
		return "", a.loadErr
	}
	value, ok := a.values[key]
	if !ok {
		return "", fmt.Errorf("%w: key %s not in AWS secret %s", ErrSecretNotFound, key, a.secretID)
	}
	return value, nil
}

// NewSecretManager creates the secret manager named by secrets.provider
func NewSecretManager(config *Config) (SecretManager, error) {
	switch config.Secrets.Provider {
	case "", "env":
		return NewEnvSecretManager(), nil
	case "vault":
		return NewVaultSecretManager(config)
	case "aws":
		return NewAWSSecretManager(config)
	default:
		return nil, fmt.Errorf("unsupported secret provider: %s", config.Secrets.Provider)
	}
}

// LoadSecrets overlays secrets from the configured provider
func LoadSecrets(config *Config) error {
	manager, err := NewSecretManager(config)
	if err != nil {
		return fmt.Errorf("failed to create secret manager: %w", err)
	}
	return applySecrets(config, manager)
}

// applySecrets copies every secret the provider has onto config. Missing
// keys keep the configured value; other provider errors are fatal.
func applySecrets(config *Config, manager SecretManager) error {
	targets := []struct {
		key string
		dst *string
	}{
		{SecretJWT, &config.Auth.JWTSecret},
		{SecretUsername, &config.Auth.Username},
		{SecretPassword, &config.Auth.Password},
		{SecretClickHousePass, &config.ClickHouse.Password},
		{SecretRedisPassword, &config.Redis.Password},
		{SecretMongoURI, &config.MongoDB.URI},
	}
	for _, t := range targets {
		value, err := manager.GetSecret(t.key)
		if errors.Is(err, ErrSecretNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to load secret %s: %w", t.key, err)
		}
		*t.dst = value
	}
	return nil
}
