package middleware

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aihub/assistant-go/internal/database"
)

// 缓存TTL
const (
	DocumentStatusTTL = 24 * time.Hour
	QueryCacheTTL     = 5 * time.Minute
	AnalysisCacheTTL  = 30 * time.Minute
)

// RedisService Redis缓存服务
//
// Redis未配置时写操作静默跳过，读操作返回未命中，主流程不受影响。
type RedisService struct {
	client *redis.Client
}

// NewRedisService 创建Redis服务实例
func NewRedisService() *RedisService {
	return &RedisService{
		client: database.RedisClient,
	}
}

// Enabled Redis是否可用
func (s *RedisService) Enabled() bool {
	return s != nil && s.client != nil
}

// documentStatusKey 文档摄取状态键
func documentStatusKey(documentID string) string {
	return fmt.Sprintf("assistant:doc:status:%s", documentID)
}

// QueryCacheKey 查询结果缓存键；问题取sha1避免键超长
func QueryCacheKey(question string, topK int) string {
	sum := sha1.Sum([]byte(question))
	return fmt.Sprintf("assistant:query:%s:%d", hex.EncodeToString(sum[:]), topK)
}

// analysisCacheKey 文档分析缓存键
func analysisCacheKey(documentID, mode string) string {
	return fmt.Sprintf("assistant:analysis:%s:%s", documentID, mode)
}

// SetCache 设置缓存
func (s *RedisService) SetCache(key string, value interface{}, ttl time.Duration) error {
	if !s.Enabled() {
		return nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return err
	}

	ctx := context.Background()
	return s.client.SetEx(ctx, key, string(data), ttl).Err()
}

// GetCache 读取缓存并反序列化到out；返回是否命中
func (s *RedisService) GetCache(key string, out interface{}) (bool, error) {
	if !s.Enabled() {
		return false, nil
	}

	ctx := context.Background()
	val, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if err := json.Unmarshal([]byte(val), out); err != nil {
		return false, fmt.Errorf("failed to decode cached value: %w", err)
	}
	return true, nil
}

// DeleteCache 删除缓存
func (s *RedisService) DeleteCache(keys ...string) error {
	if !s.Enabled() || len(keys) == 0 {
		return nil
	}

	ctx := context.Background()
	return s.client.Del(ctx, keys...).Err()
}

// DeleteCachePattern 按模式删除缓存
func (s *RedisService) DeleteCachePattern(pattern string) error {
	if !s.Enabled() {
		return nil
	}

	ctx := context.Background()
	iter := s.client.Scan(ctx, 0, pattern, 0).Iterator()

	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}

	if len(keys) > 0 {
		return s.client.Del(ctx, keys...).Err()
	}
	return nil
}

// SetDocumentStatus 写入文档摄取状态
func (s *RedisService) SetDocumentStatus(documentID, status string, extra map[string]interface{}) error {
	payload := map[string]interface{}{
		"status":     status,
		"updated_at": time.Now().Format(time.RFC3339),
	}
	for k, v := range extra {
		payload[k] = v
	}
	return s.SetCache(documentStatusKey(documentID), payload, DocumentStatusTTL)
}

// GetDocumentStatus 读取文档摄取状态
func (s *RedisService) GetDocumentStatus(documentID string) (map[string]interface{}, bool, error) {
	var status map[string]interface{}
	hit, err := s.GetCache(documentStatusKey(documentID), &status)
	return status, hit, err
}

// DeleteDocumentStatus 删除文档摄取状态
func (s *RedisService) DeleteDocumentStatus(documentID string) error {
	return s.DeleteCache(documentStatusKey(documentID))
}

// CacheQueryResult 缓存查询响应
func (s *RedisService) CacheQueryResult(question string, topK int, payload interface{}) error {
	return s.SetCache(QueryCacheKey(question, topK), payload, QueryCacheTTL)
}

// GetCachedQueryResult 读取查询响应缓存
func (s *RedisService) GetCachedQueryResult(question string, topK int, out interface{}) (bool, error) {
	return s.GetCache(QueryCacheKey(question, topK), out)
}

// CacheAnalysis 缓存文档分析结果
func (s *RedisService) CacheAnalysis(documentID, mode string, payload interface{}) error {
	return s.SetCache(analysisCacheKey(documentID, mode), payload, AnalysisCacheTTL)
}

// GetCachedAnalysis 读取文档分析缓存
func (s *RedisService) GetCachedAnalysis(documentID, mode string, out interface{}) (bool, error) {
	return s.GetCache(analysisCacheKey(documentID, mode), out)
}

// InvalidateDocument 文档变更时清掉相关缓存
func (s *RedisService) InvalidateDocument(documentID string) error {
	if err := s.DeleteCache(documentStatusKey(documentID)); err != nil {
		return err
	}
	return s.DeleteCachePattern(fmt.Sprintf("assistant:analysis:%s:*", documentID))
}

// AcquireLock 获取分布式锁
func (s *RedisService) AcquireLock(lockKey string, ttl time.Duration) (bool, error) {
	if !s.Enabled() {
		return true, nil
	}

	ctx := context.Background()
	key := fmt.Sprintf("assistant:lock:%s", lockKey)
	return s.client.SetNX(ctx, key, "locked", ttl).Result()
}

// ReleaseLock 释放分布式锁
func (s *RedisService) ReleaseLock(lockKey string) error {
	if !s.Enabled() {
		return nil
	}

	ctx := context.Background()
	return s.client.Del(ctx, fmt.Sprintf("assistant:lock:%s", lockKey)).Err()
}

// GetCacheStats 获取缓存统计
func (s *RedisService) GetCacheStats() (map[string]interface{}, error) {
	if !s.Enabled() {
		return nil, fmt.Errorf("redis client not initialized")
	}

	ctx := context.Background()
	info, err := s.client.Info(ctx, "stats", "memory", "clients").Result()
	if err != nil {
		return nil, err
	}

	stats := make(map[string]interface{})
	stats["info"] = info

	dbSize, _ := s.client.DBSize(ctx).Result()
	stats["db_size"] = dbSize

	return stats, nil
}
