package rag

import (
	"context"
	"math"
	"sort"
)

// IndexEntry 向量索引条目
type IndexEntry struct {
	ChunkID     string
	DocumentID  string
	Seq         int
	Vector      []float32
	Text        string
	StartOffset int
	EndOffset   int
	Metadata    map[string]string
}

// ScoredChunk 带相似度得分的检索结果
type ScoredChunk struct {
	ChunkID     string
	DocumentID  string
	Seq         int
	Text        string
	StartOffset int
	EndOffset   int
	Score       float32
	Metadata    map[string]string
}

// VectorStore 向量存储抽象
//
// Upsert按ChunkID幂等写入；维度不符的条目被拒绝并跳过，批次继续。
// Search按余弦相似度降序返回，得分相同时按Seq升序、再按DocumentID
// 字典序排序，保证输出确定。DeleteDocument对并发Search原子生效：
// 进行中的检索要么看到文档全部条目，要么一个都看不到。
type VectorStore interface {
	Upsert(ctx context.Context, entries []IndexEntry) error
	Search(ctx context.Context, queryVector []float32, topK int) ([]ScoredChunk, error)
	DeleteDocument(ctx context.Context, documentID string) error
	Count(ctx context.Context) (int, error)
	Dimensions() int
	Ready(ctx context.Context) error
}

// sortScoredChunks 统一的确定性排序：得分降序 → Seq升序 → DocumentID字典序
func sortScoredChunks(chunks []ScoredChunk) {
	sort.Slice(chunks, func(i, j int) bool {
		if chunks[i].Score != chunks[j].Score {
			return chunks[i].Score > chunks[j].Score
		}
		if chunks[i].Seq != chunks[j].Seq {
			return chunks[i].Seq < chunks[j].Seq
		}
		return chunks[i].DocumentID < chunks[j].DocumentID
	})
}

func vectorNorm(vec []float32) float64 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum)
}

// cosineSimilarity 计算余弦相似度，normA为预先算好的查询向量范数
// 调用方保证两个向量维度一致
func cosineSimilarity(a, b []float32, normA, normB float64) float64 {
	if normA == 0 || normB == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot / (normA * normB)
}
