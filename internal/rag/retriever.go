package rag

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/aihub/assistant-go/internal/errors"
)

const defaultTopK = 3

// Retriever 组合向量检索与可选的关键词检索
type Retriever struct {
	embedder      Embedder
	store         VectorStore
	indexer       KeywordIndexer
	vectorWeight  float64
	keywordWeight float64
	logger        *zap.Logger
}

// NewRetriever 创建检索器
// indexer可为nil或Noop，此时仅做向量检索
func NewRetriever(embedder Embedder, store VectorStore, indexer KeywordIndexer, vectorWeight, keywordWeight float64, logger *zap.Logger) *Retriever {
	if vectorWeight <= 0 || keywordWeight <= 0 {
		vectorWeight = 0.7
		keywordWeight = 0.3
	} else {
		// 归一化权重
		total := vectorWeight + keywordWeight
		vectorWeight = vectorWeight / total
		keywordWeight = keywordWeight / total
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retriever{
		embedder:      embedder,
		store:         store,
		indexer:       indexer,
		vectorWeight:  vectorWeight,
		keywordWeight: keywordWeight,
		logger:        logger,
	}
}

// Retrieve 检索与查询最相关的topK个chunk
// 空索引返回空结果而不是错误，由上层决定如何回答
func (r *Retriever) Retrieve(ctx context.Context, query string, topK int) ([]ScoredChunk, error) {
	if strings.TrimSpace(query) == "" {
		return nil, errors.NewEmptyInputError("query")
	}
	if topK <= 0 {
		topK = defaultTopK
	}

	queryVector, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	useKeyword := r.indexer != nil && r.indexer.Ready(ctx) == nil

	fetchK := topK
	if useKeyword {
		// 融合前多取候选
		fetchK = topK * 2
	}

	vectorResults, err := r.store.Search(ctx, queryVector, fetchK)
	if err != nil {
		return nil, err
	}

	if !useKeyword {
		if len(vectorResults) > topK {
			vectorResults = vectorResults[:topK]
		}
		return vectorResults, nil
	}

	keywordResults, err := r.indexer.Search(ctx, query, fetchK)
	if err != nil {
		// 关键词检索失败时降级为纯向量检索
		r.logger.Warn("keyword search failed, falling back to vector-only retrieval", zap.Error(err))
		if len(vectorResults) > topK {
			vectorResults = vectorResults[:topK]
		}
		return vectorResults, nil
	}

	fused := r.fuse(vectorResults, keywordResults)
	if len(fused) > topK {
		fused = fused[:topK]
	}
	return fused, nil
}

// fuse 加权融合：向量得分×vectorWeight + 归一化关键词得分×keywordWeight
func (r *Retriever) fuse(vectorResults, keywordResults []ScoredChunk) []ScoredChunk {
	var maxKeywordScore float32
	for _, item := range keywordResults {
		if item.Score > maxKeywordScore {
			maxKeywordScore = item.Score
		}
	}

	scoreMap := make(map[string]*ScoredChunk, len(vectorResults)+len(keywordResults))

	for _, item := range vectorResults {
		chunk := item
		chunk.Score = chunk.Score * float32(r.vectorWeight)
		scoreMap[chunk.ChunkID] = &chunk
	}

	for _, item := range keywordResults {
		normalized := normalizeScore(item.Score, maxKeywordScore)
		if existing, ok := scoreMap[item.ChunkID]; ok {
			existing.Score += normalized * float32(r.keywordWeight)
			if existing.Text == "" {
				existing.Text = item.Text
			}
		} else {
			chunk := item
			chunk.Score = normalized * float32(r.keywordWeight)
			scoreMap[item.ChunkID] = &chunk
		}
	}

	results := make([]ScoredChunk, 0, len(scoreMap))
	for _, item := range scoreMap {
		results = append(results, *item)
	}
	sortScoredChunks(results)
	return results
}

// normalizeScore 将BM25得分线性归一化到0-1
func normalizeScore(score, maxScore float32) float32 {
	if maxScore == 0 {
		return 0
	}
	normalized := score / maxScore
	if normalized > 1.0 {
		normalized = 1.0
	}
	return normalized
}
