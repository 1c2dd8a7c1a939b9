package rag

import (
	"context"
	"sync"

	"github.com/aihub/assistant-go/internal/errors"
)

type memoryRecord struct {
	entry IndexEntry
	norm  float64
}

// MemoryVectorStore 进程内向量存储，参考实现
//
// 读多写少场景用RWMutex：并发Search互不阻塞，写入与删除独占。
// docChunks按文档维护chunk集合，级联删除为O(文档块数)。
type MemoryVectorStore struct {
	mu         sync.RWMutex
	records    map[string]memoryRecord
	docChunks  map[string]map[string]struct{}
	dimensions int
}

// NewMemoryVectorStore 创建内存向量存储
// dimensions为0时采用首批写入向量的维度
func NewMemoryVectorStore(dimensions int) *MemoryVectorStore {
	if dimensions < 0 {
		dimensions = 0
	}
	return &MemoryVectorStore{
		records:    make(map[string]memoryRecord),
		docChunks:  make(map[string]map[string]struct{}),
		dimensions: dimensions,
	}
}

// Upsert 幂等写入条目，按ChunkID覆盖
// 维度不符的条目被拒绝跳过，合法条目照常写入，错误中列出被拒绝的ID
func (s *MemoryVectorStore) Upsert(ctx context.Context, entries []IndexEntry) error {
	if len(entries) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var rejected []string
	firstBadDims := -1
	for _, entry := range entries {
		if len(entry.Vector) == 0 {
			rejected = append(rejected, entry.ChunkID)
			if firstBadDims < 0 {
				firstBadDims = 0
			}
			continue
		}
		if s.dimensions == 0 {
			s.dimensions = len(entry.Vector)
		}
		if len(entry.Vector) != s.dimensions {
			rejected = append(rejected, entry.ChunkID)
			if firstBadDims < 0 {
				firstBadDims = len(entry.Vector)
			}
			continue
		}

		vector := make([]float32, len(entry.Vector))
		copy(vector, entry.Vector)
		stored := entry
		stored.Vector = vector

		if prev, ok := s.records[entry.ChunkID]; ok && prev.entry.DocumentID != entry.DocumentID {
			s.removeFromDocLocked(prev.entry.DocumentID, entry.ChunkID)
		}
		s.records[entry.ChunkID] = memoryRecord{
			entry: stored,
			norm:  vectorNorm(vector),
		}
		if _, ok := s.docChunks[entry.DocumentID]; !ok {
			s.docChunks[entry.DocumentID] = make(map[string]struct{})
		}
		s.docChunks[entry.DocumentID][entry.ChunkID] = struct{}{}
	}

	if len(rejected) > 0 {
		return errors.NewDimensionMismatchError(s.dimensions, firstBadDims).
			WithDetails(map[string]interface{}{
				"rejected_chunk_ids": rejected,
				"rejected_count":     len(rejected),
				"accepted_count":     len(entries) - len(rejected),
			})
	}
	return nil
}

func (s *MemoryVectorStore) removeFromDocLocked(documentID, chunkID string) {
	if set, ok := s.docChunks[documentID]; ok {
		delete(set, chunkID)
		if len(set) == 0 {
			delete(s.docChunks, documentID)
		}
	}
}

// Search 余弦相似度检索
// 空索引返回空结果；查询向量维度不符返回错误
func (s *MemoryVectorStore) Search(ctx context.Context, queryVector []float32, topK int) ([]ScoredChunk, error) {
	if topK <= 0 {
		topK = 10
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.records) == 0 {
		return []ScoredChunk{}, nil
	}
	if len(queryVector) != s.dimensions {
		return nil, errors.NewDimensionMismatchError(s.dimensions, len(queryVector))
	}

	queryNorm := vectorNorm(queryVector)
	results := make([]ScoredChunk, 0, len(s.records))
	for _, record := range s.records {
		score := cosineSimilarity(queryVector, record.entry.Vector, queryNorm, record.norm)
		results = append(results, ScoredChunk{
			ChunkID:     record.entry.ChunkID,
			DocumentID:  record.entry.DocumentID,
			Seq:         record.entry.Seq,
			Text:        record.entry.Text,
			StartOffset: record.entry.StartOffset,
			EndOffset:   record.entry.EndOffset,
			Score:       float32(score),
			Metadata:    record.entry.Metadata,
		})
	}

	sortScoredChunks(results)
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// DeleteDocument 原子删除文档的全部条目
// 不存在的文档视为已删除，不报错
func (s *MemoryVectorStore) DeleteDocument(ctx context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	chunkIDs, ok := s.docChunks[documentID]
	if !ok {
		return nil
	}
	for chunkID := range chunkIDs {
		delete(s.records, chunkID)
	}
	delete(s.docChunks, documentID)
	return nil
}

// Count 返回当前条目总数
func (s *MemoryVectorStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records), nil
}

// Dimensions 返回当前向量维度，尚未写入且未配置时为0
func (s *MemoryVectorStore) Dimensions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dimensions
}

// Ready 内存存储始终可用
func (s *MemoryVectorStore) Ready(ctx context.Context) error {
	return nil
}
