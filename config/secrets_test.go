package config

import (
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/secretsmanager"
	"github.com/aws/aws-sdk-go/service/secretsmanager/secretsmanageriface"
	vault "github.com/hashicorp/vault/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapSecrets map[string]string

func (m mapSecrets) GetSecret(key string) (string, error) {
	if v, ok := m[key]; ok {
		return v, nil
	}
	return "", ErrSecretNotFound
}

type failingSecrets struct{}

func (failingSecrets) GetSecret(string) (string, error) {
	return "", errors.New("provider unreachable")
}

type fakeVault struct {
	secret *vault.Secret
	err    error
}

func (f fakeVault) Read(string) (*vault.Secret, error) { return f.secret, f.err }

type fakeSecretsManager struct {
	secretsmanageriface.SecretsManagerAPI
	value *string
	calls int
}

func (f *fakeSecretsManager) GetSecretValue(*secretsmanager.GetSecretValueInput) (*secretsmanager.GetSecretValueOutput, error) {
	f.calls++
	return &secretsmanager.GetSecretValueOutput{SecretString: f.value}, nil
}

func TestEnvSecretManager(t *testing.T) {
	t.Setenv("WATCHTOWER_SECRET_JWT_SECRET", "from-env")
	m := NewEnvSecretManager()

	v, err := m.GetSecret(SecretJWT)
	require.NoError(t, err)
	assert.Equal(t, "from-env", v)

	_, err = m.GetSecret(SecretRedisPassword)
	assert.ErrorIs(t, err, ErrSecretNotFound)
}

func TestVaultSecretManager(t *testing.T) {
	t.Run("kv v1", func(t *testing.T) {
		m := &VaultSecretManager{path: "secret/watchtower", reader: fakeVault{secret: &vault.Secret{
			Data: map[string]interface{}{"jwt_secret": "v1-secret"},
		}}}
		v, err := m.GetSecret(SecretJWT)
		require.NoError(t, err)
		assert.Equal(t, "v1-secret", v)
	})

	t.Run("kv v2 nests data", func(t *testing.T) {
		m := &VaultSecretManager{path: "secret/data/watchtower", reader: fakeVault{secret: &vault.Secret{
			Data: map[string]interface{}{"data": map[string]interface{}{"password": "v2-pass"}},
		}}}
		v, err := m.GetSecret(SecretPassword)
		require.NoError(t, err)
		assert.Equal(t, "v2-pass", v)
	})

	t.Run("missing path", func(t *testing.T) {
		m := &VaultSecretManager{path: "secret/none", reader: fakeVault{}}
		_, err := m.GetSecret(SecretJWT)
		assert.ErrorIs(t, err, ErrSecretNotFound)
	})

	t.Run("non-string value", func(t *testing.T) {
		m := &VaultSecretManager{path: "p", reader: fakeVault{secret: &vault.Secret{
			Data: map[string]interface{}{"jwt_secret": 42},
		}}}
		_, err := m.GetSecret(SecretJWT)
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrSecretNotFound)
	})
}

func TestAWSSecretManager_FetchesOnce(t *testing.T) {
	sm := &fakeSecretsManager{value: aws.String(`{"jwt_secret":"aws-secret","username":"ops"}`)}
	m := &AWSSecretManager{secretID: "watchtower/secrets", client: sm}

	v, err := m.GetSecret(SecretJWT)
	require.NoError(t, err)
	assert.Equal(t, "aws-secret", v)
	v, err = m.GetSecret(SecretUsername)
	require.NoError(t, err)
	assert.Equal(t, "ops", v)
	_, err = m.GetSecret(SecretMongoURI)
	assert.ErrorIs(t, err, ErrSecretNotFound)

	assert.Equal(t, 1, sm.calls)
}

func TestAWSSecretManager_BadJSON(t *testing.T) {
	m := &AWSSecretManager{secretID: "x", client: &fakeSecretsManager{value: aws.String("not json")}}
	_, err := m.GetSecret(SecretJWT)
	assert.ErrorContains(t, err, "parse")
}

func TestNewSecretManager_UnknownProvider(t *testing.T) {
	c := newTestConfig(t)
	c.Secrets.Provider = "gcp"
	_, err := NewSecretManager(&c)
	assert.Error(t, err)
}

func TestApplySecrets(t *testing.T) {
	c := newTestConfig(t)
	c.ClickHouse.Password = "configured"

	err := applySecrets(&c, mapSecrets{
		SecretJWT:           "overlaid-jwt",
		SecretRedisPassword: "redis-pass",
	})
	require.NoError(t, err)
	assert.Equal(t, "overlaid-jwt", c.Auth.JWTSecret)
	assert.Equal(t, "redis-pass", c.Redis.Password)
	assert.Equal(t, "configured", c.ClickHouse.Password, "missing keys keep configured value")

	assert.Error(t, applySecrets(&c, failingSecrets{}))
}
