package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aihub/assistant-go/internal/errors"
	"github.com/aihub/assistant-go/internal/rag"
)

func newTestIngest(t *testing.T) (*IngestService, *rag.MemoryVectorStore) {
	t.Helper()
	chunker, err := rag.NewChunker(20, 5)
	require.NoError(t, err)
	store := rag.NewMemoryVectorStore(64)
	svc, err := NewIngestService(chunker, &wordVecEmbedder{dims: 64}, store, IngestOptions{}, zap.NewNop())
	require.NoError(t, err)
	return svc, store
}

func TestIngestSplitsAndIndexes(t *testing.T) {
	svc, store := newTestIngest(t)

	result, err := svc.Ingest(context.Background(), "doc-1", "The sky is blue. Water is wet.", nil)
	require.NoError(t, err)

	assert.Equal(t, "doc-1", result.DocumentID)
	assert.GreaterOrEqual(t, result.ChunkCount, 2)
	assert.False(t, result.Duplicate)
	assert.NotEmpty(t, result.ContentHash)

	count, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, result.ChunkCount, count)
}

// 同ID同内容重复摄取短路，索引保持原样
func TestIngestIdempotent(t *testing.T) {
	svc, store := newTestIngest(t)

	first, err := svc.Ingest(context.Background(), "doc-1", "The sky is blue. Water is wet.", nil)
	require.NoError(t, err)

	second, err := svc.Ingest(context.Background(), "doc-1", "The sky is blue. Water is wet.", nil)
	require.NoError(t, err)

	assert.True(t, second.Duplicate)
	assert.Equal(t, first.ContentHash, second.ContentHash)

	count, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first.ChunkCount, count)
}

// 同ID新内容重摄取：旧chunk全部被替换，不残留
func TestIngestReplaceOnContentChange(t *testing.T) {
	svc, store := newTestIngest(t)

	_, err := svc.Ingest(context.Background(), "doc-1", "The sky is blue. Water is wet.", nil)
	require.NoError(t, err)

	updated, err := svc.Ingest(context.Background(), "doc-1", "Grass is green.", nil)
	require.NoError(t, err)
	assert.False(t, updated.Duplicate)

	count, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, updated.ChunkCount, count, "old chunks must not survive re-ingestion")
}

// 同内容不同ID是两份独立文档
func TestIngestSameContentDifferentID(t *testing.T) {
	svc, store := newTestIngest(t)

	first, err := svc.Ingest(context.Background(), "doc-1", "The sky is blue.", nil)
	require.NoError(t, err)

	second, err := svc.Ingest(context.Background(), "doc-2", "The sky is blue.", nil)
	require.NoError(t, err)
	assert.False(t, second.Duplicate)

	count, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first.ChunkCount+second.ChunkCount, count)
}

func TestIngestEmptyInput(t *testing.T) {
	svc, _ := newTestIngest(t)

	_, err := svc.Ingest(context.Background(), "", "some text", nil)
	require.Error(t, err)
	assert.True(t, errors.IsEmptyInput(err))

	_, err = svc.Ingest(context.Background(), "doc-1", "   ", nil)
	require.Error(t, err)
	assert.True(t, errors.IsEmptyInput(err))
}

// 嵌入后端不可达时整次摄取失败，不留半批索引
func TestIngestEmbeddingOutage(t *testing.T) {
	chunker, err := rag.NewChunker(20, 5)
	require.NoError(t, err)
	store := rag.NewMemoryVectorStore(64)
	embedder := &wordVecEmbedder{dims: 64, err: errors.NewBackendUnavailableError("embedding", nil)}
	svc, err := NewIngestService(chunker, embedder, store, IngestOptions{EmbedRetries: 1}, zap.NewNop())
	require.NoError(t, err)

	_, err = svc.Ingest(context.Background(), "doc-1", "The sky is blue. Water is wet.", nil)
	require.Error(t, err)
	assert.True(t, errors.IsBackendUnavailable(err))

	count, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
}
