package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const encryptedPrefix = "encrypted:"

// 密钥派生盐值，配合CONFIG_ENCRYPTION_KEY使用
var secretsSalt = []byte("assistant-config-secrets")

// SecretsService 配置敏感字段加解密服务
type SecretsService struct {
	key []byte
}

// NewSecretsService 创建加密服务
func NewSecretsService(masterKey string) (*SecretsService, error) {
	if masterKey == "" {
		// 尝试从环境变量获取
		masterKey = os.Getenv("CONFIG_ENCRYPTION_KEY")
		if masterKey == "" {
			// 生成随机密钥（仅用于开发环境）
			key := make([]byte, 32)
			if _, err := rand.Read(key); err != nil {
				return nil, fmt.Errorf("failed to generate encryption key: %w", err)
			}
			fmt.Println("Warning: Using randomly generated encryption key. Set CONFIG_ENCRYPTION_KEY for production.")
			return &SecretsService{key: key}, nil
		}
	}

	// 从密码短语确定性派生密钥，保证重启后仍可解密
	key := pbkdf2.Key([]byte(masterKey), secretsSalt, 4096, 32, sha256.New)

	return &SecretsService{key: key}, nil
}

// Encrypt 加密数据
func (s *SecretsService) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	block, err := aes.NewCipher(s.key)
	if err != nil {
		return "", err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err = io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt 解密数据
func (s *SecretsService) Decrypt(encrypted string) (string, error) {
	if encrypted == "" {
		return "", nil
	}

	ciphertext, err := base64.StdEncoding.DecodeString(encrypted)
	if err != nil {
		return "", err
	}

	block, err := aes.NewCipher(s.key)
	if err != nil {
		return "", err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", err
	}

	return string(plaintext), nil
}

// IsEncrypted 检查字段是否携带加密前缀
func (s *SecretsService) IsEncrypted(value string) bool {
	return strings.HasPrefix(value, encryptedPrefix)
}

// EncryptConfig 加密配置中的敏感字段
func (s *SecretsService) EncryptConfig(cfg *Config) error {
	fields := s.sensitiveFields(cfg)

	for name, field := range fields {
		if *field == "" || strings.HasPrefix(*field, encryptedPrefix) {
			continue
		}
		encrypted, err := s.Encrypt(*field)
		if err != nil {
			return fmt.Errorf("failed to encrypt %s: %w", name, err)
		}
		*field = encryptedPrefix + encrypted
	}

	return nil
}

// DecryptConfig 解密配置中的敏感字段
func (s *SecretsService) DecryptConfig(cfg *Config) error {
	fields := s.sensitiveFields(cfg)

	for name, field := range fields {
		if !strings.HasPrefix(*field, encryptedPrefix) {
			continue
		}
		decrypted, err := s.Decrypt(strings.TrimPrefix(*field, encryptedPrefix))
		if err != nil {
			return fmt.Errorf("failed to decrypt %s: %w", name, err)
		}
		*field = decrypted
	}

	return nil
}

// sensitiveFields 列出需要加密保护的配置字段
func (s *SecretsService) sensitiveFields(cfg *Config) map[string]*string {
	return map[string]*string{
		"database.url":                            &cfg.Database.URL,
		"assistant.embedding.api_key":             &cfg.Assistant.Embedding.APIKey,
		"assistant.storage.secret_key":            &cfg.Assistant.Storage.SecretKey,
		"assistant.vector_store.milvus.password":  &cfg.Assistant.VectorStore.Milvus.Password,
		"assistant.search.elasticsearch.password": &cfg.Assistant.Search.Elasticsearch.Password,
	}
}
