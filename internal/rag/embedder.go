package rag

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/aihub/assistant-go/internal/errors"
)

// Embedder 定义文本向量化接口
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedMany(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Ready(ctx context.Context) error
}

// NoopEmbedder 默认占位实现
type NoopEmbedder struct{}

func (n *NoopEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, errors.NewBackendUnavailableError("embedding", fmt.Errorf("embedding provider not configured"))
}

func (n *NoopEmbedder) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, errors.NewBackendUnavailableError("embedding", fmt.Errorf("embedding provider not configured"))
}

func (n *NoopEmbedder) Dimensions() int {
	return 0
}

func (n *NoopEmbedder) Ready(ctx context.Context) error {
	return errors.NewBackendUnavailableError("embedding", fmt.Errorf("embedding provider not configured"))
}

var embeddingDimensions = map[string]int{
	"text-embedding-3-large": 3072,
	"text-embedding-3-small": 1536,
	"text-embedding-ada-002": 1536,
	"nomic-embed-text":       768,
	"mxbai-embed-large":      1024,
	"snowflake-arctic-embed": 1024,
	"all-minilm":             384,
	"bge-m3":                 1024,
}

// EmbedderOptions 嵌入向量生成器配置
type EmbedderOptions struct {
	BaseURL    string
	APIKey     string
	Model      string
	Dimensions int
	Timeout    time.Duration
}

// OpenAIEmbedder 通过OpenAI兼容接口生成嵌入向量
// BaseURL可指向Ollama的/v1兼容端点或任意托管服务
type OpenAIEmbedder struct {
	client     *openai.Client
	model      string
	dimensions int
	limiter    sync.Mutex
}

// NewOpenAIEmbedder 创建嵌入向量生成器
func NewOpenAIEmbedder(opts EmbedderOptions) *OpenAIEmbedder {
	apiKey := strings.TrimSpace(opts.APIKey)
	if apiKey == "" {
		// Ollama等本地端点不校验凭证，但SDK要求非空token
		apiKey = "ollama"
	}
	model := opts.Model
	if model == "" {
		model = "nomic-embed-text"
	}

	clientConfig := openai.DefaultConfig(apiKey)
	if opts.BaseURL != "" {
		clientConfig.BaseURL = strings.TrimSuffix(opts.BaseURL, "/")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	clientConfig.HTTPClient = &http.Client{Timeout: timeout}

	dims := opts.Dimensions
	if dims <= 0 {
		if known, ok := embeddingDimensions[model]; ok {
			dims = known
		} else {
			dims = 768
		}
	}

	return &OpenAIEmbedder{
		client:     openai.NewClientWithConfig(clientConfig),
		model:      model,
		dimensions: dims,
	}
}

// Embed 生成单条文本的嵌入向量
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedMany(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedMany 批量生成嵌入向量，结果顺序与输入一致
// 不做内部重试：调用方整批重嵌以避免索引写入一半
func (e *OpenAIEmbedder) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, errors.NewEmptyInputError("texts")
	}
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			return nil, errors.NewEmptyInputError(fmt.Sprintf("texts[%d]", i))
		}
	}

	e.limiter.Lock()
	defer e.limiter.Unlock()

	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(e.model),
		Input: texts,
	})
	if err != nil {
		return nil, errors.NewBackendUnavailableError("embedding", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, errors.NewBackendUnavailableError("embedding",
			fmt.Errorf("embedding response has %d vectors for %d inputs", len(resp.Data), len(texts)))
	}

	// 按Index恢复输入顺序，部分服务不保证返回顺序
	data := make([]openai.Embedding, len(resp.Data))
	copy(data, resp.Data)
	sort.Slice(data, func(i, j int) bool {
		return data[i].Index < data[j].Index
	})

	vectors := make([][]float32, len(data))
	for i, item := range data {
		vector := make([]float32, len(item.Embedding))
		copy(vector, item.Embedding)
		vectors[i] = vector
	}
	return vectors, nil
}

// Dimensions 返回声明的向量维度
func (e *OpenAIEmbedder) Dimensions() int {
	return e.dimensions
}

// Ready 检查嵌入服务是否可达
func (e *OpenAIEmbedder) Ready(ctx context.Context) error {
	if e.client == nil {
		return errors.NewBackendUnavailableError("embedding", fmt.Errorf("openai client not initialized"))
	}
	if _, err := e.client.ListModels(ctx); err != nil {
		return errors.NewBackendUnavailableError("embedding", err)
	}
	return nil
}
