package rag

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aihub/assistant-go/internal/errors"
)

type fakeEmbedder struct {
	vectors map[string][]float32
	dims    int
	err     error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	if vector, ok := f.vectors[text]; ok {
		return vector, nil
	}
	vector := make([]float32, f.dims)
	vector[0] = 1
	return vector, nil
}

func (f *fakeEmbedder) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	result := make([][]float32, 0, len(texts))
	for _, text := range texts {
		vector, err := f.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		result = append(result, vector)
	}
	return result, nil
}

func (f *fakeEmbedder) Dimensions() int { return f.dims }

func (f *fakeEmbedder) Ready(ctx context.Context) error { return f.err }

type fakeIndexer struct {
	results   []ScoredChunk
	ready     error
	searchErr error
	calls     int
}

func (f *fakeIndexer) IndexChunks(ctx context.Context, entries []IndexEntry) error { return nil }

func (f *fakeIndexer) DeleteDocument(ctx context.Context, documentID string) error { return nil }

func (f *fakeIndexer) Search(ctx context.Context, query string, topK int) ([]ScoredChunk, error) {
	f.calls++
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.results, nil
}

func (f *fakeIndexer) Ready(ctx context.Context) error { return f.ready }

func seedStore(t *testing.T) *MemoryVectorStore {
	t.Helper()
	store := NewMemoryVectorStore(2)
	require.NoError(t, store.Upsert(context.Background(), []IndexEntry{
		makeEntry("doc1", 0, []float32{1, 0}),
		makeEntry("doc1", 1, []float32{0.6, 0.4}),
		makeEntry("doc2", 0, []float32{0, 1}),
	}))
	return store
}

func TestRetrieverVectorOnly(t *testing.T) {
	store := seedStore(t)
	embedder := &fakeEmbedder{
		dims:    2,
		vectors: map[string][]float32{"sky question": {1, 0}},
	}

	retriever := NewRetriever(embedder, store, nil, 0.7, 0.3, zap.NewNop())

	results, err := retriever.Retrieve(context.Background(), "sky question", 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "doc1:0", results[0].ChunkID)
	assert.Equal(t, "doc1:1", results[1].ChunkID)
}

func TestRetrieverEmptyIndex(t *testing.T) {
	store := NewMemoryVectorStore(2)
	embedder := &fakeEmbedder{dims: 2}

	retriever := NewRetriever(embedder, store, nil, 0.7, 0.3, zap.NewNop())

	results, err := retriever.Retrieve(context.Background(), "anything", 3)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestRetrieverBlankQuery(t *testing.T) {
	retriever := NewRetriever(&fakeEmbedder{dims: 2}, NewMemoryVectorStore(2), nil, 0.7, 0.3, zap.NewNop())

	_, err := retriever.Retrieve(context.Background(), "   \n", 3)
	require.Error(t, err)
	assert.True(t, errors.IsEmptyInput(err))
}

func TestRetrieverEmbedderOutagePropagates(t *testing.T) {
	store := seedStore(t)
	embedder := &fakeEmbedder{
		dims: 2,
		err:  errors.NewBackendUnavailableError("embedding", assert.AnError),
	}

	retriever := NewRetriever(embedder, store, nil, 0.7, 0.3, zap.NewNop())

	_, err := retriever.Retrieve(context.Background(), "question", 3)
	require.Error(t, err)
	assert.True(t, errors.IsBackendUnavailable(err))
}

// 融合模式：向量得分×0.7 + 归一化关键词得分×0.3
func TestRetrieverKeywordFusion(t *testing.T) {
	store := NewMemoryVectorStore(2)
	ctx := context.Background()
	require.NoError(t, store.Upsert(ctx, []IndexEntry{
		makeEntry("a", 0, []float32{1, 0}),
		makeEntry("b", 0, []float32{0.5, 0.866}),
	}))

	indexer := &fakeIndexer{
		results: []ScoredChunk{
			{ChunkID: "b:0", DocumentID: "b", Seq: 0, Text: "chunk 0 of b", Score: 10},
			{ChunkID: "c:0", DocumentID: "c", Seq: 0, Text: "keyword only", Score: 5},
		},
	}
	embedder := &fakeEmbedder{dims: 2, vectors: map[string][]float32{"query": {1, 0}}}

	retriever := NewRetriever(embedder, store, indexer, 0.7, 0.3, zap.NewNop())

	results, err := retriever.Retrieve(ctx, "query", 3)
	require.NoError(t, err)
	require.Len(t, results, 3)

	// a:0 纯向量 1.0*0.7=0.7；b:0 融合 0.5*0.7+1.0*0.3=0.65；c:0 纯关键词 0.5*0.3=0.15
	assert.Equal(t, "a:0", results[0].ChunkID)
	assert.Equal(t, "b:0", results[1].ChunkID)
	assert.Equal(t, "c:0", results[2].ChunkID)
	assert.InDelta(t, 0.70, float64(results[0].Score), 0.01)
	assert.InDelta(t, 0.65, float64(results[1].Score), 0.01)
	assert.InDelta(t, 0.15, float64(results[2].Score), 0.01)
	assert.Equal(t, 1, indexer.calls)
}

func TestRetrieverKeywordFailureFallsBackToVector(t *testing.T) {
	store := seedStore(t)
	indexer := &fakeIndexer{searchErr: assert.AnError}
	embedder := &fakeEmbedder{dims: 2, vectors: map[string][]float32{"query": {1, 0}}}

	retriever := NewRetriever(embedder, store, indexer, 0.7, 0.3, zap.NewNop())

	results, err := retriever.Retrieve(context.Background(), "query", 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "doc1:0", results[0].ChunkID)
}

func TestRetrieverKeywordNotReadySkipsFusion(t *testing.T) {
	store := seedStore(t)
	indexer := &fakeIndexer{ready: assert.AnError}
	embedder := &fakeEmbedder{dims: 2, vectors: map[string][]float32{"query": {1, 0}}}

	retriever := NewRetriever(embedder, store, indexer, 0.7, 0.3, zap.NewNop())

	results, err := retriever.Retrieve(context.Background(), "query", 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, 0, indexer.calls)
}

// 融合模式下的确定性：得分并列按DocumentID字典序
func TestRetrieverFusedDeterministic(t *testing.T) {
	store := NewMemoryVectorStore(2)
	ctx := context.Background()
	require.NoError(t, store.Upsert(ctx, []IndexEntry{
		makeEntry("zeta", 0, []float32{2, 0}),
		makeEntry("alpha", 0, []float32{1, 0}),
	}))

	indexer := &fakeIndexer{results: nil}
	embedder := &fakeEmbedder{dims: 2, vectors: map[string][]float32{"query": {1, 0}}}
	retriever := NewRetriever(embedder, store, indexer, 0.7, 0.3, zap.NewNop())

	first, err := retriever.Retrieve(ctx, "query", 2)
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, "alpha:0", first[0].ChunkID)
	assert.Equal(t, "zeta:0", first[1].ChunkID)

	for i := 0; i < 50; i++ {
		again, err := retriever.Retrieve(ctx, "query", 2)
		require.NoError(t, err)
		require.Equal(t, first, again)
	}
}
