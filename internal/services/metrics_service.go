package services

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 包级注册：服务实例在测试里会被反复构造，指标只注册一次
var (
	queryRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_query_requests_total",
			Help: "Total query requests by outcome",
		},
		[]string{"outcome"},
	)

	queryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "assistant_query_duration_seconds",
			Help:    "End to end query latency",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	analysisRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_analysis_requests_total",
			Help: "Total document analysis requests by mode and outcome",
		},
		[]string{"mode", "outcome"},
	)

	inferenceFallbacksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "assistant_inference_fallbacks_total",
			Help: "Queries answered with the canned fallback because inference was unreachable",
		},
	)

	ingestDocumentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_ingest_documents_total",
			Help: "Total document ingestions by result",
		},
		[]string{"result"},
	)

	ingestChunksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "assistant_ingest_chunks_total",
			Help: "Total chunks written to the vector index",
		},
	)
)

// MetricsService 运行指标服务
type MetricsService struct{}

// NewMetricsService 创建指标服务
func NewMetricsService() *MetricsService {
	return &MetricsService{}
}

// RecordQuery 记录一次问答请求
func (ms *MetricsService) RecordQuery(outcome string, latency time.Duration) {
	queryRequestsTotal.WithLabelValues(outcome).Inc()
	queryDuration.Observe(latency.Seconds())
}

// RecordAnalysis 记录一次文档分析
func (ms *MetricsService) RecordAnalysis(mode, outcome string) {
	analysisRequestsTotal.WithLabelValues(mode, outcome).Inc()
}

// RecordInferenceFallback 记录一次推理降级
func (ms *MetricsService) RecordInferenceFallback() {
	inferenceFallbacksTotal.Inc()
}

// RecordIngest 记录一次文档摄取
func (ms *MetricsService) RecordIngest(result string, chunkCount int) {
	ingestDocumentsTotal.WithLabelValues(result).Inc()
	if chunkCount > 0 {
		ingestChunksTotal.Add(float64(chunkCount))
	}
}

// BreakerStats 汇总熔断器状态，供运维端点展示
func (ms *MetricsService) BreakerStats() []map[string]interface{} {
	return AllCircuitBreakerStats()
}

// Handler 返回Prometheus指标的HTTP处理器
func (ms *MetricsService) Handler() http.Handler {
	return promhttp.Handler()
}

// ServeHTTP 实现http.Handler接口
func (ms *MetricsService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ms.Handler().ServeHTTP(w, r)
}
