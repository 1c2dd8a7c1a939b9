package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aihub/assistant-go/internal/errors"
	"github.com/aihub/assistant-go/internal/rag"
	"go.uber.org/zap"
)

func TestHealthCheckAllHealthy(t *testing.T) {
	svc := NewHealthService(rag.NewMemoryVectorStore(4), &wordVecEmbedder{dims: 4}, &stubClient{}, nil, zap.NewNop())

	report := svc.Check(context.Background())

	assert.True(t, report.Healthy)
	assert.True(t, report.IndexReachable)
	assert.True(t, report.EmbedderReachable)
	assert.True(t, report.InferenceReachable)
	assert.False(t, report.CheckedAt.IsZero())
}

func TestHealthCheckDegraded(t *testing.T) {
	embedder := &wordVecEmbedder{dims: 4, err: errors.NewBackendUnavailableError("embedding", nil)}
	client := &stubClient{readyErr: errors.NewBackendUnavailableError("ollama", nil)}
	svc := NewHealthService(rag.NewMemoryVectorStore(4), embedder, client, nil, zap.NewNop())

	report := svc.Check(context.Background())

	assert.False(t, report.Healthy)
	assert.True(t, report.IndexReachable)
	assert.False(t, report.EmbedderReachable)
	assert.False(t, report.InferenceReachable)
}
