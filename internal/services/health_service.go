package services

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aihub/assistant-go/internal/inference"
	"github.com/aihub/assistant-go/internal/middleware"
	"github.com/aihub/assistant-go/internal/rag"
)

const healthProbeTimeout = 2 * time.Second

// HealthReport 各依赖的可达性汇总
type HealthReport struct {
	Healthy            bool                               `json:"healthy"`
	IndexReachable     bool                               `json:"index_reachable"`
	EmbedderReachable  bool                               `json:"embedder_reachable"`
	InferenceReachable bool                               `json:"inference_reachable"`
	Backends           map[string]middleware.HealthStatus `json:"backends,omitempty"`
	CheckedAt          time.Time                          `json:"checked_at"`
}

// HealthService 健康检查
//
// 三个依赖并发探测，单个探测超时2秒；探测失败只降级健康位，
// 不阻塞其余探测。
type HealthService struct {
	store      rag.VectorStore
	embedder   rag.Embedder
	client     inference.Client
	middleware *middleware.MiddlewareManager
	logger     *zap.Logger
}

// NewHealthService 创建健康检查服务
func NewHealthService(store rag.VectorStore, embedder rag.Embedder, client inference.Client, mw *middleware.MiddlewareManager, logger *zap.Logger) *HealthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthService{
		store:      store,
		embedder:   embedder,
		client:     client,
		middleware: mw,
		logger:     logger,
	}
}

// Check 并发探测所有依赖
func (s *HealthService) Check(ctx context.Context) *HealthReport {
	status := &HealthReport{CheckedAt: time.Now()}

	var wg sync.WaitGroup
	probe := func(name string, target *bool, fn func(context.Context) error) {
		defer wg.Done()
		probeCtx, cancel := context.WithTimeout(ctx, healthProbeTimeout)
		defer cancel()
		if err := fn(probeCtx); err != nil {
			s.logger.Warn("health probe failed", zap.String("dependency", name), zap.Error(err))
			return
		}
		*target = true
	}

	wg.Add(3)
	go probe("vector_index", &status.IndexReachable, s.store.Ready)
	go probe("embedder", &status.EmbedderReachable, s.embedder.Ready)
	go probe("inference", &status.InferenceReachable, s.client.Ready)
	wg.Wait()

	status.Healthy = status.IndexReachable && status.EmbedderReachable && status.InferenceReachable

	if s.middleware != nil {
		status.Backends = s.middleware.CheckHealth()
	}
	return status
}
