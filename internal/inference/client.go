package inference

import (
	"context"
	"fmt"
	"time"
)

// Options 单次生成调用参数，零值字段沿用后端默认值
type Options struct {
	Temperature float32
	MaxTokens   int
	Timeout     time.Duration
}

// Result 一次推理调用的结果
type Result struct {
	Text         string
	Model        string
	PromptTokens int
	OutputTokens int
	Latency      time.Duration
}

// Client LLM推理客户端接口
//
// Complete不截断、不改写prompt；调用失败时返回类型化错误，
// 永远不向调用方暴露原始传输错误。
type Client interface {
	Complete(ctx context.Context, prompt string, opts Options) (*Result, error)
	Ready(ctx context.Context) error
	Model() string
}

// Breaker 后端调用熔断接口
//
// 熔断打开时Call不执行fn直接返回错误，调用方据此短路到降级响应。
type Breaker interface {
	Call(fn func() error) error
}

// Error Ollama API错误响应
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("ollama API error: HTTP %d - %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("ollama API error: HTTP %d", e.StatusCode)
}
