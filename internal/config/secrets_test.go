package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecretsRoundTrip(t *testing.T) {
	svc, err := NewSecretsService("test-master-key")
	require.NoError(t, err)

	encrypted, err := svc.Encrypt("super-secret-api-key")
	require.NoError(t, err)
	assert.NotEqual(t, "super-secret-api-key", encrypted)

	decrypted, err := svc.Decrypt(encrypted)
	require.NoError(t, err)
	assert.Equal(t, "super-secret-api-key", decrypted)
}

func TestSecretsDeterministicKeyDerivation(t *testing.T) {
	// 相同密码短语派生的密钥必须能解密彼此的密文（模拟服务重启）
	first, err := NewSecretsService("shared-passphrase")
	require.NoError(t, err)
	second, err := NewSecretsService("shared-passphrase")
	require.NoError(t, err)

	encrypted, err := first.Encrypt("postgres://user:pass@db:5432/assistant")
	require.NoError(t, err)

	decrypted, err := second.Decrypt(encrypted)
	require.NoError(t, err)
	assert.Equal(t, "postgres://user:pass@db:5432/assistant", decrypted)
}

func TestSecretsEncryptDecryptConfig(t *testing.T) {
	svc, err := NewSecretsService("test-master-key")
	require.NoError(t, err)

	cfg := &Config{}
	cfg.Database.URL = "postgres://user:pass@db:5432/assistant"
	cfg.Assistant.Embedding.APIKey = "sk-abc123"
	cfg.Assistant.Storage.SecretKey = "miniosecret"

	require.NoError(t, svc.EncryptConfig(cfg))
	assert.True(t, svc.IsEncrypted(cfg.Database.URL))
	assert.True(t, svc.IsEncrypted(cfg.Assistant.Embedding.APIKey))

	require.NoError(t, svc.DecryptConfig(cfg))
	assert.Equal(t, "postgres://user:pass@db:5432/assistant", cfg.Database.URL)
	assert.Equal(t, "sk-abc123", cfg.Assistant.Embedding.APIKey)
	assert.Equal(t, "miniosecret", cfg.Assistant.Storage.SecretKey)
}

func TestSecretsEmptyFieldsSkipped(t *testing.T) {
	svc, err := NewSecretsService("test-master-key")
	require.NoError(t, err)

	cfg := &Config{}
	require.NoError(t, svc.EncryptConfig(cfg))
	assert.Empty(t, cfg.Database.URL)

	require.NoError(t, svc.DecryptConfig(cfg))
	assert.Empty(t, cfg.Assistant.Embedding.APIKey)
}
