package rag

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"

	"github.com/aihub/assistant-go/internal/errors"
)

// MilvusOptions Milvus客户端配置
type MilvusOptions struct {
	Address    string
	Username   string
	Password   string
	Collection string
	Database   string
	UseTLS     bool
	VectorSize int
	Distance   string
	Timeout    time.Duration
}

// MilvusVectorStore 基于Milvus的向量存储
type MilvusVectorStore struct {
	milvusClient client.Client
	collection   string
	vectorSize   int
	distance     string

	mu      sync.Mutex
	ensured bool
}

// NewMilvusVectorStore 创建Milvus向量存储
func NewMilvusVectorStore(opts MilvusOptions) (*MilvusVectorStore, error) {
	if opts.Address == "" {
		opts.Address = "localhost:19530"
	}
	if opts.Collection == "" {
		opts.Collection = "assistant_chunks"
	}
	if opts.VectorSize <= 0 {
		return nil, errors.NewConfigurationError("milvus", "vector size must be positive")
	}
	if opts.Database == "" {
		opts.Database = "default"
	}

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	milvusClient, err := client.NewClient(ctx, client.Config{
		Address:       opts.Address,
		DBName:        opts.Database,
		Username:      opts.Username,
		Password:      opts.Password,
		EnableTLSAuth: opts.UseTLS,
	})
	if err != nil {
		return nil, errors.NewBackendUnavailableError("milvus", err)
	}

	return &MilvusVectorStore{
		milvusClient: milvusClient,
		collection:   opts.Collection,
		vectorSize:   opts.VectorSize,
		distance:     formatMilvusDistance(opts.Distance),
	}, nil
}

func formatMilvusDistance(value string) string {
	switch strings.ToUpper(value) {
	case "DOT", "IP", "INNER_PRODUCT":
		return "IP"
	case "L2", "EUCLIDEAN":
		return "L2"
	default:
		return "COSINE"
	}
}

func (s *MilvusVectorStore) metricType() entity.MetricType {
	return entity.MetricType(s.distance)
}

func (s *MilvusVectorStore) ensureCollection(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ensured {
		return nil
	}

	hasCollection, err := s.milvusClient.HasCollection(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}

	if !hasCollection {
		schema := &entity.Schema{
			CollectionName: s.collection,
			Description:    "Assistant document chunk vectors",
			Fields: []*entity.Field{
				{
					Name:       "chunk_id",
					DataType:   entity.FieldTypeVarChar,
					PrimaryKey: true,
					TypeParams: map[string]string{
						"max_length": "255",
					},
				},
				{
					Name:     "document_id",
					DataType: entity.FieldTypeVarChar,
					TypeParams: map[string]string{
						"max_length": "128",
					},
				},
				{
					Name:     "seq",
					DataType: entity.FieldTypeInt64,
				},
				{
					Name:     "content",
					DataType: entity.FieldTypeVarChar,
					TypeParams: map[string]string{
						"max_length": "65535",
					},
				},
				{
					Name:     "start_offset",
					DataType: entity.FieldTypeInt64,
				},
				{
					Name:     "end_offset",
					DataType: entity.FieldTypeInt64,
				},
				{
					Name:     "vector",
					DataType: entity.FieldTypeFloatVector,
					TypeParams: map[string]string{
						"dim": fmt.Sprintf("%d", s.vectorSize),
					},
				},
			},
		}

		if err := s.milvusClient.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
			return fmt.Errorf("failed to create collection: %w", err)
		}

		// 创建索引 - 根据距离类型选择索引
		var index entity.Index
		var indexErr error
		switch s.distance {
		case "IP":
			index, indexErr = entity.NewIndexHNSW(entity.IP, 8, 64)
		case "L2":
			index, indexErr = entity.NewIndexHNSW(entity.L2, 8, 64)
		default:
			index, indexErr = entity.NewIndexHNSW(entity.COSINE, 8, 64)
		}
		if indexErr != nil {
			// 如果HNSW失败，尝试使用IVF_FLAT
			switch s.distance {
			case "IP":
				index, indexErr = entity.NewIndexIvfFlat(entity.IP, 128)
			case "L2":
				index, indexErr = entity.NewIndexIvfFlat(entity.L2, 128)
			default:
				index, indexErr = entity.NewIndexIvfFlat(entity.COSINE, 128)
			}
			if indexErr != nil {
				return fmt.Errorf("failed to create index: %w", indexErr)
			}
		}

		if err := s.milvusClient.CreateIndex(ctx, s.collection, "vector", index, false); err != nil {
			// 索引创建失败不影响使用，只记录警告
			fmt.Printf("warning: failed to create index for collection %s: %v\n", s.collection, err)
		}
	}

	// 搜索前集合必须加载到内存
	if err := s.milvusClient.LoadCollection(ctx, s.collection, false); err != nil {
		fmt.Printf("warning: failed to load collection %s: %v\n", s.collection, err)
	}

	s.ensured = true
	return nil
}

func escapeMilvusString(value string) string {
	value = strings.ReplaceAll(value, `\`, `\\`)
	return strings.ReplaceAll(value, `"`, `\"`)
}

// Upsert 幂等写入，先按chunk_id删除旧值再插入
// 维度不符的条目被拒绝跳过，不做补零，合法条目照常写入
func (s *MilvusVectorStore) Upsert(ctx context.Context, entries []IndexEntry) error {
	if len(entries) == 0 {
		return nil
	}

	var rejected []string
	firstBadDims := -1
	valid := make([]IndexEntry, 0, len(entries))
	for _, entry := range entries {
		if len(entry.Vector) != s.vectorSize {
			rejected = append(rejected, entry.ChunkID)
			if firstBadDims < 0 {
				firstBadDims = len(entry.Vector)
			}
			continue
		}
		valid = append(valid, entry)
	}

	if len(valid) > 0 {
		if err := s.ensureCollection(ctx); err != nil {
			return errors.NewBackendUnavailableError("milvus", err)
		}

		chunkIDs := make([]string, len(valid))
		documentIDs := make([]string, len(valid))
		seqs := make([]int64, len(valid))
		contents := make([]string, len(valid))
		startOffsets := make([]int64, len(valid))
		endOffsets := make([]int64, len(valid))
		vectors := make([][]float32, len(valid))
		quoted := make([]string, len(valid))
		for i, entry := range valid {
			chunkIDs[i] = entry.ChunkID
			documentIDs[i] = entry.DocumentID
			seqs[i] = int64(entry.Seq)
			contents[i] = entry.Text
			startOffsets[i] = int64(entry.StartOffset)
			endOffsets[i] = int64(entry.EndOffset)
			vectors[i] = entry.Vector
			quoted[i] = fmt.Sprintf("%q", escapeMilvusString(entry.ChunkID))
		}

		// 删除旧条目保证幂等
		expr := fmt.Sprintf("chunk_id in [%s]", strings.Join(quoted, ", "))
		if err := s.milvusClient.Delete(ctx, s.collection, "", expr); err != nil {
			fmt.Printf("warning: failed to delete stale chunks: %v\n", err)
		}

		_, err := s.milvusClient.Insert(ctx, s.collection, "",
			entity.NewColumnVarChar("chunk_id", chunkIDs),
			entity.NewColumnVarChar("document_id", documentIDs),
			entity.NewColumnInt64("seq", seqs),
			entity.NewColumnVarChar("content", contents),
			entity.NewColumnInt64("start_offset", startOffsets),
			entity.NewColumnInt64("end_offset", endOffsets),
			entity.NewColumnFloatVector("vector", s.vectorSize, vectors),
		)
		if err != nil {
			return errors.NewBackendUnavailableError("milvus", fmt.Errorf("milvus insert failed: %w", err))
		}

		if err := s.milvusClient.Flush(ctx, s.collection, false); err != nil {
			// 刷新失败不影响插入，只记录警告
			fmt.Printf("warning: failed to flush collection %s: %v\n", s.collection, err)
		}
	}

	if len(rejected) > 0 {
		return errors.NewDimensionMismatchError(s.vectorSize, firstBadDims).
			WithDetails(map[string]interface{}{
				"rejected_chunk_ids": rejected,
				"rejected_count":     len(rejected),
				"accepted_count":     len(valid),
			})
	}
	return nil
}

// DeleteDocument 删除文档的全部条目
func (s *MilvusVectorStore) DeleteDocument(ctx context.Context, documentID string) error {
	if err := s.ensureCollection(ctx); err != nil {
		return errors.NewBackendUnavailableError("milvus", err)
	}

	expr := fmt.Sprintf("document_id == %q", escapeMilvusString(documentID))
	if err := s.milvusClient.Delete(ctx, s.collection, "", expr); err != nil {
		return errors.NewBackendUnavailableError("milvus", fmt.Errorf("milvus delete failed: %w", err))
	}

	if err := s.milvusClient.Flush(ctx, s.collection, false); err != nil {
		fmt.Printf("warning: failed to flush after delete: %v\n", err)
	}
	return nil
}

// Search 向量检索，输出经过统一的确定性排序
func (s *MilvusVectorStore) Search(ctx context.Context, queryVector []float32, topK int) ([]ScoredChunk, error) {
	if topK <= 0 {
		topK = 10
	}
	if len(queryVector) != s.vectorSize {
		return nil, errors.NewDimensionMismatchError(s.vectorSize, len(queryVector))
	}
	if err := s.ensureCollection(ctx); err != nil {
		return nil, errors.NewBackendUnavailableError("milvus", err)
	}

	sp, _ := entity.NewIndexHNSWSearchParam(64)
	searchResults, err := s.milvusClient.Search(
		ctx,
		s.collection,
		[]string{},
		"",
		[]string{"chunk_id", "document_id", "seq", "content", "start_offset", "end_offset"},
		[]entity.Vector{entity.FloatVector(queryVector)},
		"vector",
		s.metricType(),
		topK,
		sp,
	)
	if err != nil {
		return nil, errors.NewBackendUnavailableError("milvus", fmt.Errorf("milvus search failed: %w", err))
	}

	if len(searchResults) == 0 {
		return []ScoredChunk{}, nil
	}
	result := searchResults[0]
	if result.Err != nil {
		return nil, errors.NewBackendUnavailableError("milvus", fmt.Errorf("milvus search error: %w", result.Err))
	}
	if result.ResultCount == 0 {
		return []ScoredChunk{}, nil
	}

	var chunkIDs, documentIDs, contents []string
	var seqs, startOffsets, endOffsets []int64
	for _, field := range result.Fields {
		switch field.Name() {
		case "chunk_id":
			if val, ok := field.(*entity.ColumnVarChar); ok {
				chunkIDs = val.Data()
			}
		case "document_id":
			if val, ok := field.(*entity.ColumnVarChar); ok {
				documentIDs = val.Data()
			}
		case "seq":
			if val, ok := field.(*entity.ColumnInt64); ok {
				seqs = val.Data()
			}
		case "content":
			if val, ok := field.(*entity.ColumnVarChar); ok {
				contents = val.Data()
			}
		case "start_offset":
			if val, ok := field.(*entity.ColumnInt64); ok {
				startOffsets = val.Data()
			}
		case "end_offset":
			if val, ok := field.(*entity.ColumnInt64); ok {
				endOffsets = val.Data()
			}
		}
	}
	if len(chunkIDs) == 0 {
		if idCol, ok := result.IDs.(*entity.ColumnVarChar); ok {
			chunkIDs = idCol.Data()
		}
	}

	chunks := make([]ScoredChunk, 0, result.ResultCount)
	for i := 0; i < result.ResultCount; i++ {
		chunk := ScoredChunk{}
		if i < len(chunkIDs) {
			chunk.ChunkID = chunkIDs[i]
		}
		if i < len(documentIDs) {
			chunk.DocumentID = documentIDs[i]
		}
		if i < len(seqs) {
			chunk.Seq = int(seqs[i])
		}
		if i < len(contents) {
			chunk.Text = contents[i]
		}
		if i < len(startOffsets) {
			chunk.StartOffset = int(startOffsets[i])
		}
		if i < len(endOffsets) {
			chunk.EndOffset = int(endOffsets[i])
		}
		if i < len(result.Scores) {
			chunk.Score = result.Scores[i]
		}
		chunks = append(chunks, chunk)
	}

	sortScoredChunks(chunks)
	if len(chunks) > topK {
		chunks = chunks[:topK]
	}
	return chunks, nil
}

// Count 返回集合当前行数
func (s *MilvusVectorStore) Count(ctx context.Context) (int, error) {
	if err := s.ensureCollection(ctx); err != nil {
		return 0, errors.NewBackendUnavailableError("milvus", err)
	}

	stats, err := s.milvusClient.GetCollectionStatistics(ctx, s.collection)
	if err != nil {
		return 0, errors.NewBackendUnavailableError("milvus", err)
	}
	count, err := strconv.Atoi(stats["row_count"])
	if err != nil {
		return 0, nil
	}
	return count, nil
}

// Dimensions 返回配置的向量维度
func (s *MilvusVectorStore) Dimensions() int {
	return s.vectorSize
}

// Ready 检查Milvus连接是否可用
func (s *MilvusVectorStore) Ready(ctx context.Context) error {
	if s.milvusClient == nil {
		return errors.NewBackendUnavailableError("milvus", fmt.Errorf("milvus client not initialized"))
	}
	checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if _, err := s.milvusClient.ListCollections(checkCtx); err != nil {
		return errors.NewBackendUnavailableError("milvus", err)
	}
	return nil
}

// Close 关闭Milvus连接
func (s *MilvusVectorStore) Close() error {
	if s.milvusClient == nil {
		return nil
	}
	return s.milvusClient.Close()
}
