package di

import (
	"fmt"
	"time"

	"go.uber.org/dig"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/aihub/assistant-go/internal/config"
	"github.com/aihub/assistant-go/internal/database"
	"github.com/aihub/assistant-go/internal/fileparse"
	"github.com/aihub/assistant-go/internal/guardrails"
	"github.com/aihub/assistant-go/internal/inference"
	"github.com/aihub/assistant-go/internal/logger"
	"github.com/aihub/assistant-go/internal/middleware"
	"github.com/aihub/assistant-go/internal/rag"
	"github.com/aihub/assistant-go/internal/services"
	"github.com/aihub/assistant-go/internal/storage"
)

// RegisterProviders 注册所有依赖提供者
//
// 构造函数在Invoke时才执行，调用方需保证数据库等底层后端
// 已经先行初始化。
func RegisterProviders(container *dig.Container) error {
	providers := []interface{}{
		provideConfig,
		provideLogger,
		provideDB,
		provideChunker,
		provideEmbedder,
		provideVectorStore,
		provideKeywordIndexer,
		provideRetriever,
		provideRuleLoader,
		provideGuardEngine,
		provideInferenceClient,
		provideRedisService,
		provideKafkaService,
		provideMiddlewareManager,
		provideMetricsService,
		provideIngestService,
		provideAssistantService,
		provideHealthService,
		fileparse.NewManager,
	}

	for _, provider := range providers {
		if err := container.Provide(provider); err != nil {
			return err
		}
	}
	return nil
}

func provideConfig() (*config.Config, error) {
	cfg := config.GetAppConfig()
	if cfg == nil {
		return nil, fmt.Errorf("config not loaded, call config.LoadConfig first")
	}
	return cfg, nil
}

func provideLogger() *zap.Logger {
	return logger.GetLogger()
}

func provideDB() (*gorm.DB, error) {
	if database.DB == nil {
		return nil, fmt.Errorf("database not initialized, call database.InitDB first")
	}
	return database.DB, nil
}

func provideChunker(cfg *config.Config) (*rag.Chunker, error) {
	return rag.NewChunker(cfg.Assistant.ChunkSize, cfg.Assistant.ChunkOverlap)
}

func provideEmbedder(cfg *config.Config) rag.Embedder {
	embedding := cfg.Assistant.Embedding
	switch embedding.Provider {
	case "openai", "ollama":
		return rag.NewOpenAIEmbedder(rag.EmbedderOptions{
			BaseURL:    embedding.BaseURL,
			APIKey:     embedding.APIKey,
			Model:      embedding.Model,
			Dimensions: embedding.Dimensions,
			Timeout:    time.Duration(embedding.Timeout) * time.Second,
		})
	default:
		return &rag.NoopEmbedder{}
	}
}

func provideVectorStore(cfg *config.Config) (rag.VectorStore, error) {
	store := cfg.Assistant.VectorStore
	switch store.Provider {
	case "milvus":
		return rag.NewMilvusVectorStore(rag.MilvusOptions{
			Address:    store.Milvus.Address,
			Username:   store.Milvus.Username,
			Password:   store.Milvus.Password,
			Collection: store.Milvus.Collection,
			Database:   store.Milvus.Database,
			UseTLS:     store.Milvus.TLS,
			VectorSize: store.Milvus.VectorSize,
			Distance:   store.Milvus.Distance,
		})
	default:
		return rag.NewMemoryVectorStore(cfg.Assistant.Embedding.Dimensions), nil
	}
}

func provideKeywordIndexer(cfg *config.Config) (rag.KeywordIndexer, error) {
	search := cfg.Assistant.Search
	if search.Provider != "elasticsearch" {
		return &rag.NoopIndexer{}, nil
	}
	return rag.NewElasticsearchIndexer(rag.ElasticsearchOptions{
		Addresses:   search.Elasticsearch.Addresses,
		Username:    search.Elasticsearch.Username,
		Password:    search.Elasticsearch.Password,
		APIKey:      search.Elasticsearch.APIKey,
		IndexPrefix: search.Elasticsearch.IndexPrefix,
	})
}

func provideRetriever(cfg *config.Config, embedder rag.Embedder, store rag.VectorStore, indexer rag.KeywordIndexer, log *zap.Logger) *rag.Retriever {
	search := cfg.Assistant.Search
	return rag.NewRetriever(embedder, store, indexer, search.VectorWeight, search.KeywordWeight, log.Named("retriever"))
}

func provideRuleLoader(cfg *config.Config, log *zap.Logger) (*guardrails.RuleLoader, error) {
	loader := guardrails.NewRuleLoader(cfg.Assistant.Guardrails.RulesPath, log.Named("guardrails"))
	if _, err := loader.Load(); err != nil {
		return nil, err
	}
	if cfg.Assistant.Guardrails.HotReload {
		if err := loader.StartWatching(); err != nil {
			return nil, err
		}
	}
	return loader, nil
}

func provideGuardEngine(loader *guardrails.RuleLoader, log *zap.Logger) *guardrails.Engine {
	return guardrails.NewEngine(loader, log.Named("guardrails"))
}

func provideInferenceClient(cfg *config.Config, log *zap.Logger) (inference.Client, error) {
	inf := cfg.Assistant.Inference
	breaker := services.GetCircuitBreaker("inference")
	return inference.NewOllamaClient(inference.OllamaOptions{
		BaseURL:         inf.BaseURL,
		FallbackBaseURL: inf.FallbackBaseURL,
		Model:           inf.Model,
		Timeout:         time.Duration(inf.TimeoutSeconds) * time.Second,
		MaxRetries:      inf.MaxRetries,
		RetryBackoff:    time.Duration(inf.RetryBackoffMs) * time.Millisecond,
	}, breaker, log.Named("inference"))
}

func provideRedisService() *middleware.RedisService {
	return middleware.NewRedisService()
}

func provideKafkaService() *middleware.KafkaService {
	return middleware.NewKafkaService()
}

func provideMiddlewareManager() *middleware.MiddlewareManager {
	return middleware.NewMiddlewareManager()
}

func provideMetricsService() *services.MetricsService {
	return services.NewMetricsService()
}

func provideIngestService(cfg *config.Config, chunker *rag.Chunker, embedder rag.Embedder, store rag.VectorStore, indexer rag.KeywordIndexer, db *gorm.DB, redis *middleware.RedisService, kafka *middleware.KafkaService, metrics *services.MetricsService, log *zap.Logger) (*services.IngestService, error) {
	return services.NewIngestService(chunker, embedder, store, services.IngestOptions{
		Indexer:        indexer,
		DB:             db,
		Redis:          redis,
		Kafka:          kafka,
		ObjectStore:    storage.GetObjectStore(),
		Metrics:        metrics,
		EmbedBatchSize: cfg.Assistant.EmbedBatchSize,
	}, log.Named("ingest"))
}

func provideAssistantService(cfg *config.Config, retriever *rag.Retriever, guard *guardrails.Engine, client inference.Client, db *gorm.DB, redis *middleware.RedisService, metrics *services.MetricsService, log *zap.Logger) (*services.AssistantService, error) {
	assistant := cfg.Assistant
	return services.NewAssistantService(retriever, guard, client, services.AssistantOptions{
		TopK:             assistant.Retrieval.TopK,
		MaxPromptTokens:  assistant.Retrieval.MaxPromptTokens,
		MaxQuestionChars: assistant.Guardrails.MaxQuestionChars,
		MaxDocumentChars: assistant.MaxDocumentChars,
		Temperature:      float32(assistant.Inference.Temperature),
		MaxTokens:        assistant.Inference.MaxTokens,
		Timeout:          time.Duration(assistant.Inference.TimeoutSeconds) * time.Second,
		DB:               db,
		Redis:            redis,
		Metrics:          metrics,
	}, log.Named("assistant"))
}

func provideHealthService(store rag.VectorStore, embedder rag.Embedder, client inference.Client, manager *middleware.MiddlewareManager, log *zap.Logger) *services.HealthService {
	return services.NewHealthService(store, embedder, client, manager, log.Named("health"))
}
