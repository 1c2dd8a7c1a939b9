package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"github.com/aihub/assistant-go/internal/config"
	"github.com/aihub/assistant-go/internal/errors"
	"github.com/aihub/assistant-go/internal/logger"
)

const defaultBasePath = "assistant"

var globalStore *ObjectStore

// InitGlobalStore 初始化全局对象存储实例
func InitGlobalStore(cfg config.ObjectStorageConfig) error {
	store, err := NewObjectStore(cfg)
	if err != nil {
		return err
	}
	globalStore = store
	return nil
}

// GetObjectStore 获取全局对象存储实例；未初始化时返回nil
func GetObjectStore() *ObjectStore {
	return globalStore
}

// ObjectStore 原始上传内容的MinIO存储
//
// 核心管道只处理抽取后的文本；原始字节仅在这里落盘，
// 对象键为 {basePath}/{documentID}。
type ObjectStore struct {
	client   *minio.Client
	bucket   string
	basePath string
}

// NewObjectStore 创建对象存储客户端并确保bucket存在
func NewObjectStore(cfg config.ObjectStorageConfig) (*ObjectStore, error) {
	if cfg.Provider != "minio" && cfg.Provider != "s3" {
		return nil, errors.NewConfigurationError("storage", fmt.Sprintf("unsupported object storage provider %q", cfg.Provider))
	}
	if cfg.Endpoint == "" {
		return nil, errors.NewConfigurationError("storage", "object storage endpoint not configured")
	}

	bucket := cfg.Bucket
	if bucket == "" {
		bucket = "assistant"
	}
	basePath := strings.Trim(cfg.BasePath, "/")
	if basePath == "" {
		basePath = defaultBasePath
	}

	// minio.New的endpoint不带协议前缀
	endpoint := strings.TrimPrefix(cfg.Endpoint, "http://")
	endpoint = strings.TrimPrefix(endpoint, "https://")

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	store := &ObjectStore{
		client:   client,
		bucket:   bucket,
		basePath: basePath,
	}

	if err := store.ensureBucket(); err != nil {
		return nil, err
	}
	return store, nil
}

// ensureBucket 确保bucket存在；MinIO可能晚于本进程就绪，做有限重试
func (s *ObjectStore) ensureBucket() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(attempt) * 2 * time.Second)
		}

		exists, err := s.client.BucketExists(ctx, s.bucket)
		if err != nil {
			lastErr = err
			logger.Warn("minio bucket check failed",
				zap.Int("attempt", attempt+1),
				zap.String("bucket", s.bucket),
				zap.Error(err))
			continue
		}
		if exists {
			return nil
		}

		err = s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{})
		if err == nil {
			logger.Info("minio bucket created", zap.String("bucket", s.bucket))
			return nil
		}
		// 被别的实例抢先创建也算成功
		if strings.Contains(err.Error(), "BucketAlreadyExists") ||
			strings.Contains(err.Error(), "BucketAlreadyOwnedByYou") {
			return nil
		}
		lastErr = err
	}
	return fmt.Errorf("failed to ensure bucket %s: %w", s.bucket, lastErr)
}

// Bucket 返回使用的bucket名
func (s *ObjectStore) Bucket() string {
	return s.bucket
}

func (s *ObjectStore) objectKey(documentID string) string {
	return path.Join(s.basePath, documentID)
}

// PutDocument 保存文档原始字节，返回对象键
func (s *ObjectStore) PutDocument(ctx context.Context, documentID string, reader io.Reader, size int64, contentType string) (string, error) {
	if s == nil || s.client == nil {
		return "", errors.NewConfigurationError("storage", "object store not initialized")
	}

	key := s.objectKey(documentID)
	_, err := s.client.PutObject(ctx, s.bucket, key, reader, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", errors.NewBackendUnavailableError("minio", fmt.Errorf("failed to store object %s: %w", key, err))
	}
	return key, nil
}

// GetDocument 读取文档原始字节
func (s *ObjectStore) GetDocument(ctx context.Context, documentID string) (io.ReadCloser, error) {
	if s == nil || s.client == nil {
		return nil, errors.NewConfigurationError("storage", "object store not initialized")
	}

	key := s.objectKey(documentID)
	object, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, errors.NewBackendUnavailableError("minio", fmt.Errorf("failed to read object %s: %w", key, err))
	}
	return object, nil
}

// DeleteDocument 删除文档原始字节；对象不存在视为成功
func (s *ObjectStore) DeleteDocument(ctx context.Context, documentID string) error {
	if s == nil || s.client == nil {
		return nil
	}

	key := s.objectKey(documentID)
	err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{})
	if err != nil {
		return errors.NewBackendUnavailableError("minio", fmt.Errorf("failed to delete object %s: %w", key, err))
	}
	return nil
}

// PresignedURL 生成临时下载链接
func (s *ObjectStore) PresignedURL(ctx context.Context, documentID string, expires time.Duration) (string, error) {
	if s == nil || s.client == nil {
		return "", errors.NewConfigurationError("storage", "object store not initialized")
	}
	if expires <= 0 {
		expires = 24 * time.Hour
	}

	u, err := s.client.PresignedGetObject(ctx, s.bucket, s.objectKey(documentID), expires, nil)
	if err != nil {
		return "", errors.NewBackendUnavailableError("minio", err)
	}
	return u.String(), nil
}

// Ready 探测对象存储可达性
func (s *ObjectStore) Ready(ctx context.Context) error {
	if s == nil || s.client == nil {
		return errors.NewConfigurationError("storage", "object store not initialized")
	}

	if _, err := s.client.BucketExists(ctx, s.bucket); err != nil {
		return errors.NewBackendUnavailableError("minio", err)
	}
	return nil
}
