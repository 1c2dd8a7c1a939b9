package middleware

import (
	"context"
	"time"

	"github.com/aihub/assistant-go/internal/database"
	"github.com/aihub/assistant-go/internal/storage"
)

// MiddlewareManager 可选后端管理器
//
// 聚合redis/kafka/minio的可用状态供健康端点使用；
// 任一后端缺席时进程照常运行，状态标记为degraded。
type MiddlewareManager struct {
	redis *RedisService
	kafka *KafkaService
	minio *storage.ObjectStore
}

var globalMiddlewareManager *MiddlewareManager

// HealthStatus 健康状态
type HealthStatus struct {
	Status    string        `json:"status"` // healthy, unhealthy, degraded
	Latency   time.Duration `json:"latency"`
	Message   string        `json:"message,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// NewMiddlewareManager 创建中间件管理器；在各后端初始化之后调用
func NewMiddlewareManager() *MiddlewareManager {
	if globalMiddlewareManager != nil {
		return globalMiddlewareManager
	}

	manager := &MiddlewareManager{
		redis: NewRedisService(),
		kafka: NewKafkaService(),
		minio: storage.GetObjectStore(),
	}

	globalMiddlewareManager = manager
	return manager
}

// GetMiddlewareManager 获取全局中间件管理器
func GetMiddlewareManager() *MiddlewareManager {
	return globalMiddlewareManager
}

// Redis 返回Redis服务
func (m *MiddlewareManager) Redis() *RedisService {
	if m == nil {
		return NewRedisService()
	}
	return m.redis
}

// Kafka 返回Kafka服务
func (m *MiddlewareManager) Kafka() *KafkaService {
	if m == nil {
		return NewKafkaService()
	}
	return m.kafka
}

// CheckHealth 检查可选后端健康状态
func (m *MiddlewareManager) CheckHealth() map[string]HealthStatus {
	health := make(map[string]HealthStatus)
	now := time.Now()

	if m.redis.Enabled() {
		start := time.Now()
		err := database.RedisClient.Ping(context.Background()).Err()
		latency := time.Since(start)
		if err != nil {
			health["redis"] = HealthStatus{Status: "unhealthy", Latency: latency, Message: err.Error(), Timestamp: now}
		} else {
			health["redis"] = HealthStatus{Status: "healthy", Latency: latency, Timestamp: now}
		}
	} else {
		health["redis"] = HealthStatus{Status: "degraded", Message: "not configured", Timestamp: now}
	}

	if m.kafka.Enabled() {
		health["kafka"] = HealthStatus{Status: "healthy", Timestamp: now}
	} else {
		health["kafka"] = HealthStatus{Status: "degraded", Message: "not configured", Timestamp: now}
	}

	if m.minio != nil {
		start := time.Now()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err := m.minio.Ready(ctx)
		cancel()
		latency := time.Since(start)
		if err != nil {
			health["minio"] = HealthStatus{Status: "unhealthy", Latency: latency, Message: err.Error(), Timestamp: now}
		} else {
			health["minio"] = HealthStatus{Status: "healthy", Latency: latency, Timestamp: now}
		}
	} else {
		health["minio"] = HealthStatus{Status: "degraded", Message: "not configured", Timestamp: now}
	}

	return health
}
