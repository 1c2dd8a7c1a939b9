package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/aihub/assistant-go/internal/errors"
	"github.com/aihub/assistant-go/internal/kafka"
	"github.com/aihub/assistant-go/internal/middleware"
	"github.com/aihub/assistant-go/internal/models"
	"github.com/aihub/assistant-go/internal/rag"
	"github.com/aihub/assistant-go/internal/storage"
)

const (
	defaultEmbedBatchSize = 4
	defaultEmbedRetries   = 2
	embedRetryBackoff     = 200 * time.Millisecond
	maxEventRetries       = 3
)

// IngestResult 一次摄取的结果
type IngestResult struct {
	DocumentID  string `json:"document_id"`
	ContentHash string `json:"content_hash"`
	ChunkCount  int    `json:"chunk_count"`
	Duplicate   bool   `json:"duplicate"`
	Status      string `json:"status"`
}

// IngestService 文档摄取服务
//
// 管道：分块 → 批量嵌入（整批重试）→ 向量写入 → 关键词索引 →
// 数据库行 → Redis状态。同一文档的摄取串行（keyed mutex），
// 不同文档完全并行。重摄取先级联清除旧条目再写新集合。
type IngestService struct {
	chunker  *rag.Chunker
	embedder rag.Embedder
	store    rag.VectorStore
	indexer  rag.KeywordIndexer
	db       *gorm.DB
	redis    *middleware.RedisService
	kafkaSvc *middleware.KafkaService
	objects  *storage.ObjectStore
	metrics  *MetricsService
	logger   *zap.Logger

	batchSize    int
	embedRetries int

	mu       sync.Mutex
	docLocks map[string]*sync.Mutex
	hashes   map[string]string
}

// IngestOptions 摄取服务可选依赖
type IngestOptions struct {
	Indexer        rag.KeywordIndexer
	DB             *gorm.DB
	Redis          *middleware.RedisService
	Kafka          *middleware.KafkaService
	ObjectStore    *storage.ObjectStore
	Metrics        *MetricsService
	EmbedBatchSize int
	EmbedRetries   int
}

// NewIngestService 创建摄取服务
func NewIngestService(chunker *rag.Chunker, embedder rag.Embedder, store rag.VectorStore, opts IngestOptions, logger *zap.Logger) (*IngestService, error) {
	if chunker == nil || embedder == nil || store == nil {
		return nil, errors.NewConfigurationError("ingest", "chunker, embedder and vector store are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	batchSize := opts.EmbedBatchSize
	if batchSize <= 0 {
		batchSize = defaultEmbedBatchSize
	}
	embedRetries := opts.EmbedRetries
	if embedRetries < 0 {
		embedRetries = defaultEmbedRetries
	}

	redis := opts.Redis
	if redis == nil {
		redis = middleware.NewRedisService()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = NewMetricsService()
	}

	return &IngestService{
		chunker:      chunker,
		embedder:     embedder,
		store:        store,
		indexer:      opts.Indexer,
		db:           opts.DB,
		redis:        redis,
		kafkaSvc:     opts.Kafka,
		objects:      opts.ObjectStore,
		metrics:      metrics,
		logger:       logger,
		batchSize:    batchSize,
		embedRetries: embedRetries,
		docLocks:     make(map[string]*sync.Mutex),
		hashes:       make(map[string]string),
	}, nil
}

// ContentHash 计算内容指纹
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// lockDocument 获取文档级互斥锁
func (s *IngestService) lockDocument(documentID string) func() {
	s.mu.Lock()
	lock, ok := s.docLocks[documentID]
	if !ok {
		lock = &sync.Mutex{}
		s.docLocks[documentID] = lock
	}
	s.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

func (s *IngestService) rememberHash(documentID, hash string) {
	s.mu.Lock()
	s.hashes[documentID] = hash
	s.mu.Unlock()
}

func (s *IngestService) forgetHash(documentID string) {
	s.mu.Lock()
	delete(s.hashes, documentID)
	s.mu.Unlock()
}

// lookupHash 查询文档当前内容指纹，内存缓存优先，数据库兜底
func (s *IngestService) lookupHash(documentID string) (string, bool) {
	s.mu.Lock()
	hash, ok := s.hashes[documentID]
	s.mu.Unlock()
	if ok {
		return hash, true
	}

	if s.db != nil {
		var doc models.Document
		if err := s.db.Select("content_hash", "status").First(&doc, "id = ?", documentID).Error; err == nil {
			if doc.Status == models.DocumentStatusIndexed && doc.ContentHash != "" {
				s.rememberHash(documentID, doc.ContentHash)
				return doc.ContentHash, true
			}
		}
	}
	return "", false
}

// findHashOwner 查找同内容的其它文档（仅用于日志）
func (s *IngestService) findHashOwner(hash, excludeID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, h := range s.hashes {
		if h == hash && id != excludeID {
			return id
		}
	}
	return ""
}

// Ingest 同步执行完整摄取管道
func (s *IngestService) Ingest(ctx context.Context, documentID, text string, meta map[string]string) (*IngestResult, error) {
	if strings.TrimSpace(documentID) == "" {
		return nil, errors.NewEmptyInputError("document_id")
	}
	if strings.TrimSpace(text) == "" {
		return nil, errors.NewEmptyInputError("text")
	}

	unlock := s.lockDocument(documentID)
	defer unlock()

	hash := ContentHash(text)

	// 同ID同内容：幂等短路，索引保持原样
	if prev, ok := s.lookupHash(documentID); ok && prev == hash {
		s.logger.Info("document content unchanged, skipping ingestion",
			zap.String("document_id", documentID))
		s.metrics.RecordIngest("duplicate", 0)
		return &IngestResult{
			DocumentID:  documentID,
			ContentHash: hash,
			ChunkCount:  s.chunkCount(documentID),
			Duplicate:   true,
			Status:      models.DocumentStatusIndexed,
		}, nil
	}

	// 同内容不同ID属正常摄取，仅留痕
	if owner := s.findHashOwner(hash, documentID); owner != "" {
		s.logger.Info("content already ingested under another document id",
			zap.String("document_id", documentID),
			zap.String("duplicate_of", owner))
	}

	_ = s.redis.SetDocumentStatus(documentID, models.DocumentStatusProcessing, nil)

	chunks := s.chunker.Split(documentID, text)
	if len(chunks) == 0 {
		return nil, errors.NewEmptyInputError("text")
	}

	entries, err := s.embedChunks(ctx, chunks, meta)
	if err != nil {
		s.markFailed(ctx, documentID, err)
		s.metrics.RecordIngest("failed", 0)
		return nil, err
	}

	// 重摄取：文档锁内先原子清除旧条目，再写入新集合
	if err := s.store.DeleteDocument(ctx, documentID); err != nil {
		s.markFailed(ctx, documentID, err)
		s.metrics.RecordIngest("failed", 0)
		return nil, err
	}
	if err := s.store.Upsert(ctx, entries); err != nil {
		if !errors.IsDimensionMismatch(err) {
			s.markFailed(ctx, documentID, err)
			s.metrics.RecordIngest("failed", 0)
			return nil, err
		}
		// 维度守卫拒绝的条目已被剔除，其余照常入索引
		s.logger.Warn("dimension guard rejected some chunks",
			zap.String("document_id", documentID),
			zap.Error(err))
	}

	if s.indexer != nil {
		if err := s.indexer.IndexChunks(ctx, entries); err != nil {
			s.logger.Warn("keyword indexing failed, document is vector-only",
				zap.String("document_id", documentID),
				zap.Error(err))
		}
	}

	if err := s.persist(ctx, documentID, text, hash, meta, chunks); err != nil {
		s.markFailed(ctx, documentID, err)
		s.metrics.RecordIngest("failed", 0)
		return nil, err
	}

	s.rememberHash(documentID, hash)
	_ = s.redis.SetDocumentStatus(documentID, models.DocumentStatusIndexed, map[string]interface{}{
		"chunk_count":  len(chunks),
		"content_hash": hash,
	})
	s.metrics.RecordIngest("indexed", len(chunks))

	s.logger.Info("document ingested",
		zap.String("document_id", documentID),
		zap.Int("chunks", len(chunks)))

	return &IngestResult{
		DocumentID:  documentID,
		ContentHash: hash,
		ChunkCount:  len(chunks),
		Status:      models.DocumentStatusIndexed,
	}, nil
}

// embedChunks 批量嵌入；任一批失败时整批重试，避免半批索引污染
func (s *IngestService) embedChunks(ctx context.Context, chunks []rag.Chunk, meta map[string]string) ([]rag.IndexEntry, error) {
	entries := make([]rag.IndexEntry, 0, len(chunks))

	for start := 0; start < len(chunks); start += s.batchSize {
		end := start + s.batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		texts := make([]string, len(batch))
		for i, chunk := range batch {
			texts[i] = chunk.Text
		}

		var vectors [][]float32
		var err error
		for attempt := 0; attempt <= s.embedRetries; attempt++ {
			if attempt > 0 {
				s.logger.Warn("re-embedding batch",
					zap.Int("attempt", attempt),
					zap.Int("batch_start", start),
					zap.Error(err))
				select {
				case <-ctx.Done():
					return nil, errors.NewBackendUnavailableError("embedding", ctx.Err())
				case <-time.After(embedRetryBackoff * time.Duration(attempt)):
				}
			}
			vectors, err = s.embedder.EmbedMany(ctx, texts)
			if err == nil {
				break
			}
		}
		if err != nil {
			return nil, err
		}

		for i, chunk := range batch {
			entries = append(entries, rag.IndexEntry{
				ChunkID:     chunk.Key(),
				DocumentID:  chunk.DocumentID,
				Seq:         chunk.Seq,
				Vector:      vectors[i],
				Text:        chunk.Text,
				StartOffset: chunk.StartOffset,
				EndOffset:   chunk.EndOffset,
				Metadata:    meta,
			})
		}
	}
	return entries, nil
}

// persist 写文档与分块行；分块替换与文档行在同一事务内
func (s *IngestService) persist(ctx context.Context, documentID, text, hash string, meta map[string]string, chunks []rag.Chunk) error {
	if s.db == nil {
		return nil
	}

	now := time.Now()
	doc := models.Document{
		ID:          documentID,
		Title:       meta["title"],
		Content:     text,
		Source:      meta["source"],
		ContentHash: hash,
		CharCount:   len([]rune(text)),
		ChunkCount:  len(chunks),
		Status:      models.DocumentStatusIndexed,
		ContentType: meta["content_type"],
		StoragePath: meta["storage_path"],
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	rows := make([]models.DocumentChunk, len(chunks))
	for i, chunk := range chunks {
		rows[i] = models.DocumentChunk{
			DocumentID:  documentID,
			Seq:         chunk.Seq,
			ChunkKey:    chunk.Key(),
			Text:        chunk.Text,
			StartOffset: chunk.StartOffset,
			EndOffset:   chunk.EndOffset,
			Embedded:    true,
			CreatedAt:   now,
		}
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).Create(&doc).Error; err != nil {
			return err
		}
		if err := tx.Where("document_id = ?", documentID).Delete(&models.DocumentChunk{}).Error; err != nil {
			return err
		}
		return tx.Create(&rows).Error
	})
	if err != nil {
		return fmt.Errorf("failed to persist document rows: %w", err)
	}
	return nil
}

// markFailed 标记摄取失败状态
func (s *IngestService) markFailed(ctx context.Context, documentID string, cause error) {
	s.logger.Error("document ingestion failed",
		zap.String("document_id", documentID),
		zap.Error(cause))

	_ = s.redis.SetDocumentStatus(documentID, models.DocumentStatusFailed, map[string]interface{}{
		"error": cause.Error(),
	})

	if s.db != nil {
		s.db.WithContext(ctx).Model(&models.Document{}).
			Where("id = ?", documentID).
			Updates(map[string]interface{}{
				"status":     models.DocumentStatusFailed,
				"last_error": cause.Error(),
				"updated_at": time.Now(),
			})
	}
}

// chunkCount 查询文档当前分块数
func (s *IngestService) chunkCount(documentID string) int {
	if s.db == nil {
		return 0
	}
	var count int64
	s.db.Model(&models.DocumentChunk{}).Where("document_id = ?", documentID).Count(&count)
	return int(count)
}

// IngestAsync 记录文档并发布处理事件；Kafka不可用时降级为同步goroutine
func (s *IngestService) IngestAsync(ctx context.Context, documentID, text string, meta map[string]string) error {
	if strings.TrimSpace(documentID) == "" {
		return errors.NewEmptyInputError("document_id")
	}
	if strings.TrimSpace(text) == "" {
		return errors.NewEmptyInputError("text")
	}

	hash := ContentHash(text)

	// 先落库存文本，消费端按ID取回内容
	if s.db != nil {
		now := time.Now()
		doc := models.Document{
			ID:          documentID,
			Title:       meta["title"],
			Content:     text,
			Source:      meta["source"],
			ContentHash: hash,
			CharCount:   len([]rune(text)),
			Status:      models.DocumentStatusPending,
			ContentType: meta["content_type"],
			StoragePath: meta["storage_path"],
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).Create(&doc).Error; err != nil {
			return fmt.Errorf("failed to record document: %w", err)
		}
	}

	_ = s.redis.SetDocumentStatus(documentID, models.DocumentStatusPending, nil)

	event := &kafka.IngestEvent{
		DocumentID:  documentID,
		Action:      kafka.ActionProcess,
		ContentHash: hash,
		Source:      meta["source"],
	}
	if s.kafkaSvc != nil {
		if err := s.kafkaSvc.PublishIngestEvent(event); err == nil {
			return nil
		} else {
			s.logger.Warn("failed to publish ingest event, processing synchronously",
				zap.String("document_id", documentID),
				zap.Error(err))
		}
	}

	// 降级：后台同步处理
	go func() {
		bgCtx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		if _, err := s.Ingest(bgCtx, documentID, text, meta); err != nil {
			s.logger.Error("background ingestion failed",
				zap.String("document_id", documentID),
				zap.Error(err))
		}
	}()
	return nil
}

// HandleIngestEvent 消费摄取事件；实现kafka.MessageHandler
//
// 失败时带RetryCount重新入队，超过上限标记失败并推进offset，
// 避免毒消息阻塞分区。
func (s *IngestService) HandleIngestEvent(ctx context.Context, message *sarama.ConsumerMessage) error {
	event, err := kafka.ParseIngestEvent(message.Value)
	if err != nil {
		s.logger.Error("dropping malformed ingest event", zap.Error(err))
		return nil
	}

	switch event.Action {
	case kafka.ActionDelete:
		if err := s.RemoveDocument(ctx, event.DocumentID); err != nil {
			s.logger.Error("failed to process delete event",
				zap.String("document_id", event.DocumentID),
				zap.Error(err))
			return s.requeue(event, err)
		}
		return nil

	case kafka.ActionProcess:
		text, meta, err := s.loadDocumentContent(ctx, event.DocumentID)
		if err != nil {
			s.logger.Error("failed to load document for processing",
				zap.String("document_id", event.DocumentID),
				zap.Error(err))
			return s.requeue(event, err)
		}
		if _, err := s.Ingest(ctx, event.DocumentID, text, meta); err != nil {
			return s.requeue(event, err)
		}
		return nil

	default:
		s.logger.Warn("unknown ingest event action",
			zap.String("action", event.Action),
			zap.String("document_id", event.DocumentID))
		return nil
	}
}

// requeue 失败事件重新入队或熔断
func (s *IngestService) requeue(event *kafka.IngestEvent, cause error) error {
	if event.RetryCount >= maxEventRetries {
		s.logger.Error("ingest event exhausted retries",
			zap.String("document_id", event.DocumentID),
			zap.Int("retry_count", event.RetryCount),
			zap.Error(cause))
		s.markFailed(context.Background(), event.DocumentID, cause)
		return nil
	}

	retry := *event
	retry.RetryCount++
	retry.Timestamp = time.Now()
	if s.kafkaSvc != nil {
		if err := s.kafkaSvc.PublishIngestEvent(&retry); err == nil {
			return nil
		}
	}
	// 无法重新入队时不标记offset，等待重平衡后重投
	return cause
}

// loadDocumentContent 从数据库取回文档文本
func (s *IngestService) loadDocumentContent(ctx context.Context, documentID string) (string, map[string]string, error) {
	if s.db == nil {
		return "", nil, errors.NewConfigurationError("ingest", "database not configured for async processing")
	}

	var doc models.Document
	if err := s.db.WithContext(ctx).First(&doc, "id = ?", documentID).Error; err != nil {
		return "", nil, fmt.Errorf("failed to load document %s: %w", documentID, err)
	}
	if strings.TrimSpace(doc.Content) == "" {
		return "", nil, errors.NewEmptyInputError("document content")
	}

	meta := map[string]string{
		"title":        doc.Title,
		"source":       doc.Source,
		"content_type": doc.ContentType,
		"storage_path": doc.StoragePath,
	}
	return doc.Content, meta, nil
}

// RemoveDocument 级联删除：向量索引、关键词索引、数据库行、对象存储、缓存
func (s *IngestService) RemoveDocument(ctx context.Context, documentID string) error {
	if strings.TrimSpace(documentID) == "" {
		return errors.NewEmptyInputError("document_id")
	}

	unlock := s.lockDocument(documentID)
	defer unlock()

	if err := s.store.DeleteDocument(ctx, documentID); err != nil {
		return err
	}

	if s.indexer != nil {
		if err := s.indexer.DeleteDocument(ctx, documentID); err != nil {
			s.logger.Warn("failed to remove document from keyword index",
				zap.String("document_id", documentID),
				zap.Error(err))
		}
	}

	if s.db != nil {
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Where("document_id = ?", documentID).Delete(&models.DocumentChunk{}).Error; err != nil {
				return err
			}
			return tx.Delete(&models.Document{}, "id = ?", documentID).Error
		})
		if err != nil {
			return fmt.Errorf("failed to delete document rows: %w", err)
		}
	}

	if s.objects != nil {
		if err := s.objects.DeleteDocument(ctx, documentID); err != nil {
			s.logger.Warn("failed to remove stored object",
				zap.String("document_id", documentID),
				zap.Error(err))
		}
	}

	s.forgetHash(documentID)
	_ = s.redis.InvalidateDocument(documentID)

	s.logger.Info("document removed", zap.String("document_id", documentID))
	return nil
}

// GetDocument 查询文档记录
func (s *IngestService) GetDocument(ctx context.Context, documentID string) (*models.Document, error) {
	if s.db == nil {
		return nil, errors.NewNotFoundError("document")
	}

	var doc models.Document
	if err := s.db.WithContext(ctx).First(&doc, "id = ?", documentID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, errors.NewNotFoundError("document")
		}
		return nil, err
	}
	return &doc, nil
}

// ListDocuments 分页列出文档
func (s *IngestService) ListDocuments(ctx context.Context, page, limit int) ([]models.Document, int64, error) {
	if s.db == nil {
		return nil, 0, nil
	}
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	var total int64
	if err := s.db.WithContext(ctx).Model(&models.Document{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var docs []models.Document
	err := s.db.WithContext(ctx).
		Select("id", "title", "source", "content_hash", "char_count", "chunk_count", "status", "content_type", "created_at", "updated_at").
		Order("created_at DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&docs).Error
	if err != nil {
		return nil, 0, err
	}
	return docs, total, nil
}

// DocumentStatus 查询摄取状态，缓存优先数据库兜底
func (s *IngestService) DocumentStatus(ctx context.Context, documentID string) (map[string]interface{}, error) {
	if status, hit, err := s.redis.GetDocumentStatus(documentID); err == nil && hit {
		return status, nil
	}

	doc, err := s.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"status":      doc.Status,
		"chunk_count": doc.ChunkCount,
		"updated_at":  doc.UpdatedAt.Format(time.RFC3339),
	}, nil
}
