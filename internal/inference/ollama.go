package inference

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aihub/assistant-go/internal/errors"
)

const (
	defaultOllamaBaseURL = "http://localhost:11434"
	defaultOllamaModel   = "llama3"
	defaultOllamaTimeout = 60 * time.Second // LLM生成可能耗时较长
	defaultRetryBackoff  = 250 * time.Millisecond

	// 流式响应的单行上限：末行携带context数组，可能远超Scanner默认缓冲
	maxStreamLineBytes = 1024 * 1024
)

// OllamaOptions Ollama客户端配置
type OllamaOptions struct {
	BaseURL         string
	FallbackBaseURL string
	Model           string
	Timeout         time.Duration
	MaxRetries      int
	RetryBackoff    time.Duration
}

// OllamaClient 基于Ollama原生API的推理客户端
//
// /api/generate承载生成请求，/api/tags作为轻量可达性探测。
// 主地址连接失败时，同一请求会先对备用地址重发一次，再回到重试循环。
type OllamaClient struct {
	baseURL      string
	fallbackURL  string
	model        string
	maxRetries   int
	retryBackoff time.Duration
	client       *http.Client
	breaker      Breaker
	limiter      sync.Mutex
	logger       *zap.Logger
}

// generateRequest /api/generate请求体
type generateRequest struct {
	Model   string           `json:"model"`
	Prompt  string           `json:"prompt"`
	Stream  bool             `json:"stream"`
	Options *generateOptions `json:"options,omitempty"`
}

type generateOptions struct {
	Temperature float32 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

// generateResponse /api/generate响应体；流式模式下每行一条，末行done为true
type generateResponse struct {
	Model           string `json:"model"`
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}

type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// NewOllamaClient 创建Ollama客户端；breaker与logger可为nil
func NewOllamaClient(opts OllamaOptions, breaker Breaker, logger *zap.Logger) (*OllamaClient, error) {
	baseURL := strings.TrimSuffix(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultOllamaBaseURL
	}
	fallbackURL := strings.TrimSuffix(strings.TrimSpace(opts.FallbackBaseURL), "/")

	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = defaultOllamaModel
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultOllamaTimeout
	}

	maxRetries := opts.MaxRetries
	if maxRetries < 0 {
		return nil, errors.NewConfigurationError("inference", "max retries must not be negative")
	}

	backoff := opts.RetryBackoff
	if backoff <= 0 {
		backoff = defaultRetryBackoff
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	return &OllamaClient{
		baseURL:      baseURL,
		fallbackURL:  fallbackURL,
		model:        model,
		maxRetries:   maxRetries,
		retryBackoff: backoff,
		client: &http.Client{
			Timeout: timeout,
		},
		breaker: breaker,
		logger:  logger,
	}, nil
}

// Model 返回配置的模型名
func (c *OllamaClient) Model() string {
	return c.model
}

// Complete 执行一次生成调用
//
// prompt原样发送，绝不截断。重试耗尽或熔断打开时返回BackendUnavailable。
func (c *OllamaClient) Complete(ctx context.Context, prompt string, opts Options) (*Result, error) {
	return c.complete(ctx, prompt, opts, nil)
}

// CompleteStream 流式生成，每个文本片段经onFragment回调交付
//
// 片段按到达顺序回调，完整文本在返回的Result中重新组装；
// 一旦有片段交付便不再重试，避免重复输出。onFragment返回错误时中止生成。
func (c *OllamaClient) CompleteStream(ctx context.Context, prompt string, opts Options, onFragment func(fragment string) error) (*Result, error) {
	if onFragment == nil {
		return nil, errors.NewConfigurationError("inference", "stream fragment callback must not be nil")
	}
	return c.complete(ctx, prompt, opts, onFragment)
}

func (c *OllamaClient) complete(ctx context.Context, prompt string, opts Options, onFragment func(string) error) (*Result, error) {
	if c == nil || c.client == nil {
		return nil, errors.NewConfigurationError("inference", "ollama client not initialized")
	}
	if strings.TrimSpace(prompt) == "" {
		return nil, errors.NewEmptyInputError("prompt")
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = c.client.Timeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var result *Result
	run := func() error {
		res, err := c.completeWithRetry(callCtx, prompt, opts, onFragment)
		if err != nil {
			return err
		}
		result = res
		return nil
	}

	var err error
	if c.breaker != nil {
		err = c.breaker.Call(run)
	} else {
		err = run()
	}
	if err != nil {
		var appErr *errors.AppError
		if stderrors.As(err, &appErr) {
			return nil, appErr
		}
		// 熔断打开等未类型化的失败统一归为后端不可用
		return nil, errors.NewBackendUnavailableError("inference", err)
	}
	return result, nil
}

// completeWithRetry 带退避的重试循环
//
// 可重试条件：超时、连接失败、5xx。主地址连接失败时先对备用地址
// 重发一次；流式模式下已交付过片段则立即停止重试。
func (c *OllamaClient) completeWithRetry(ctx context.Context, prompt string, opts Options, onFragment func(string) error) (*Result, error) {
	c.limiter.Lock()
	defer c.limiter.Unlock()

	start := time.Now()

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := c.retryBackoff << (attempt - 1)
			c.logger.Warn("retrying ollama generate request",
				zap.Int("attempt", attempt),
				zap.Duration("backoff", backoff),
				zap.Error(lastErr))
			select {
			case <-ctx.Done():
				return nil, errors.NewBackendUnavailableError("inference", ctx.Err())
			case <-time.After(backoff):
			}
		}

		delivered := 0
		resp, err := c.generate(ctx, c.baseURL, prompt, opts, onFragment, &delivered)
		if err == nil {
			return c.toResult(resp, start), nil
		}
		lastErr = err

		if delivered == 0 && c.fallbackURL != "" && isConnectionError(err) {
			fresp, ferr := c.generate(ctx, c.fallbackURL, prompt, opts, onFragment, &delivered)
			if ferr == nil {
				c.logger.Warn("primary ollama host unreachable, served by fallback host",
					zap.String("primary", c.baseURL),
					zap.String("fallback", c.fallbackURL))
				return c.toResult(fresp, start), nil
			}
			lastErr = ferr
		}

		if delivered > 0 || !isRetryable(lastErr) {
			break
		}
	}

	return nil, errors.NewBackendUnavailableError("inference", lastErr)
}

// generate 对指定地址发起一次/api/generate调用
func (c *OllamaClient) generate(ctx context.Context, baseURL, prompt string, opts Options, onFragment func(string) error, delivered *int) (*generateResponse, error) {
	reqBody := generateRequest{
		Model:  c.model,
		Prompt: prompt,
		Stream: onFragment != nil,
	}
	if opts.Temperature > 0 || opts.MaxTokens > 0 {
		reqBody.Options = &generateOptions{
			Temperature: opts.Temperature,
			NumPredict:  opts.MaxTokens,
		}
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal generate request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", fmt.Sprintf("%s/api/generate", baseURL), bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to build generate request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ollama request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.decodeError(resp)
	}

	if onFragment != nil {
		return c.readStream(resp.Body, onFragment, delivered)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read generate response: %w", err)
	}

	var genResp generateResponse
	if err := json.Unmarshal(body, &genResp); err != nil {
		return nil, fmt.Errorf("failed to parse generate response: %w", err)
	}
	return &genResp, nil
}

// readStream 逐行消费流式响应，组装完整文本
func (c *OllamaClient) readStream(body io.Reader, onFragment func(string) error, delivered *int) (*generateResponse, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxStreamLineBytes)

	var assembled strings.Builder
	final := &generateResponse{}
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var chunk generateResponse
		if err := json.Unmarshal(line, &chunk); err != nil {
			return nil, fmt.Errorf("failed to parse stream chunk: %w", err)
		}

		if chunk.Response != "" {
			*delivered++
			if err := onFragment(chunk.Response); err != nil {
				return nil, fmt.Errorf("stream consumer aborted: %w", err)
			}
			assembled.WriteString(chunk.Response)
		}
		if chunk.Done {
			final = &chunk
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read stream: %w", err)
	}
	if !final.Done {
		return nil, fmt.Errorf("ollama stream ended before completion")
	}

	final.Response = assembled.String()
	return final, nil
}

// decodeError 将非200响应解析为类型化错误
func (c *OllamaClient) decodeError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var apiErr struct {
		Message string `json:"error"`
	}
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Message != "" {
		return &Error{StatusCode: resp.StatusCode, Message: apiErr.Message}
	}
	return &Error{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
}

func (c *OllamaClient) toResult(resp *generateResponse, start time.Time) *Result {
	model := resp.Model
	if model == "" {
		model = c.model
	}
	return &Result{
		Text:         resp.Response,
		Model:        model,
		PromptTokens: resp.PromptEvalCount,
		OutputTokens: resp.EvalCount,
		Latency:      time.Since(start),
	}
}

// Ready 通过/api/tags探测后端可达性；主备任一可达即视为就绪
func (c *OllamaClient) Ready(ctx context.Context) error {
	if c == nil || c.client == nil {
		return errors.NewConfigurationError("inference", "ollama client not initialized")
	}

	err := c.ping(ctx, c.baseURL)
	if err == nil {
		return nil
	}
	if c.fallbackURL != "" {
		if ferr := c.ping(ctx, c.fallbackURL); ferr == nil {
			return nil
		}
	}
	return errors.NewBackendUnavailableError("inference", err)
}

func (c *OllamaClient) ping(ctx context.Context, baseURL string) error {
	httpReq, err := http.NewRequestWithContext(ctx, "GET", fmt.Sprintf("%s/api/tags", baseURL), nil)
	if err != nil {
		return fmt.Errorf("failed to build tags request: %w", err)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("ollama tags probe failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.decodeError(resp)
	}

	var tags tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return fmt.Errorf("failed to parse tags response: %w", err)
	}
	return nil
}

// isConnectionError 判断是否为连接级错误（握手失败、超时等传输错误）
func isConnectionError(err error) bool {
	var apiErr *Error
	if stderrors.As(err, &apiErr) {
		return false
	}
	var netErr net.Error
	if stderrors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	if stderrors.As(err, &urlErr) {
		return true
	}
	return stderrors.Is(err, context.DeadlineExceeded)
}

// isRetryable 超时、连接失败与5xx可重试，其余立即失败
func isRetryable(err error) bool {
	var apiErr *Error
	if stderrors.As(err, &apiErr) {
		return apiErr.StatusCode >= http.StatusInternalServerError
	}
	return isConnectionError(err)
}
