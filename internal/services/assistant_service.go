package services

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/aihub/assistant-go/internal/errors"
	"github.com/aihub/assistant-go/internal/guardrails"
	"github.com/aihub/assistant-go/internal/inference"
	"github.com/aihub/assistant-go/internal/middleware"
	"github.com/aihub/assistant-go/internal/models"
	"github.com/aihub/assistant-go/internal/rag"
)

// RequestState 单个请求的状态机状态
type RequestState int

const (
	StateReceived RequestState = iota
	StatePreGuard
	StateRetrieving
	StatePromptBuilt
	StateInferring
	StatePostGuard
	StateResponded
	StateFallbackResponded
)

func (s RequestState) String() string {
	switch s {
	case StateReceived:
		return "received"
	case StatePreGuard:
		return "pre_guard"
	case StateRetrieving:
		return "retrieving"
	case StatePromptBuilt:
		return "prompt_built"
	case StateInferring:
		return "inferring"
	case StatePostGuard:
		return "post_guard"
	case StateResponded:
		return "responded"
	case StateFallbackResponded:
		return "fallback_responded"
	default:
		return "unknown"
	}
}

// 归一化后的请求结局，对外只暴露这四种
const (
	OutcomeSuccess  = "success"
	OutcomeBlocked  = "blocked"
	OutcomeDegraded = "degraded"
	OutcomeFailed   = "failed"
)

// CategoryBackendUnreachable 推理后端不可达时选取预设回答的类别
const CategoryBackendUnreachable = "backend_unreachable"

// 提示词模板沿用原服务的组织价值观措辞；问题永远完整保留，
// 上下文按预算从低分到高分丢弃
const promptTemplate = `You are a helpful assistant for answering questions about an organization's private documents.
Always respond in a manner consistent with the organizational values of respect, integrity, and service.
Use only the provided context to answer. If the context does not contain the answer, say so honestly instead of guessing.

Context:
%CONTEXT%

Question: %QUESTION%

Answer:`

const noContextPlaceholder = "(no relevant documents found)"

// SourceChunk 回答引用的来源分块
type SourceChunk struct {
	ChunkID    string  `json:"chunk_id"`
	DocumentID string  `json:"document_id"`
	Seq        int     `json:"seq"`
	Text       string  `json:"text"`
	Score      float32 `json:"score"`
}

// QueryResponse 问答响应
type QueryResponse struct {
	Answer          string        `json:"answer"`
	Sources         []SourceChunk `json:"sources"`
	Outcome         string        `json:"outcome"`
	VerdictCategory string        `json:"verdict_category,omitempty"`
	Model           string        `json:"model,omitempty"`
	LatencyMs       int64         `json:"latency_ms"`
	Cached          bool          `json:"cached,omitempty"`
}

// AssistantOptions 编排器可调参数与可选依赖
type AssistantOptions struct {
	TopK             int
	MaxPromptTokens  int
	MaxQuestionChars int
	MaxDocumentChars int
	Temperature      float32
	MaxTokens        int
	Timeout          time.Duration
	DB               *gorm.DB
	Redis            *middleware.RedisService
	Metrics          *MetricsService
}

// AssistantService RAG编排器
//
// 问答路径：PreGuard → Retrieving → PromptBuilt → Inferring →
// PostGuard → Responded；PreGuard/Inferring/PostGuard可转入
// FallbackResponded。文档分析走同一条受护栏保护的推理路径，
// 只是跳过Retrieving。所有结局归一化为success/blocked/degraded/failed。
type AssistantService struct {
	retriever *rag.Retriever
	guard     *guardrails.Engine
	client    inference.Client
	db        *gorm.DB
	redis     *middleware.RedisService
	metrics   *MetricsService
	logger    *zap.Logger

	topK             int
	maxPromptTokens  int
	maxQuestionChars int
	maxDocumentChars int
	temperature      float32
	maxTokens        int
	timeout          time.Duration
}

// NewAssistantService 创建编排器
func NewAssistantService(retriever *rag.Retriever, guard *guardrails.Engine, client inference.Client, opts AssistantOptions, logger *zap.Logger) (*AssistantService, error) {
	if retriever == nil || guard == nil || client == nil {
		return nil, errors.NewConfigurationError("assistant", "retriever, guardrail engine and inference client are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	topK := opts.TopK
	if topK <= 0 {
		topK = 3
	}
	maxPromptTokens := opts.MaxPromptTokens
	if maxPromptTokens <= 0 {
		maxPromptTokens = 3000
	}
	maxDocumentChars := opts.MaxDocumentChars
	if maxDocumentChars <= 0 {
		maxDocumentChars = 8000
	}
	redis := opts.Redis
	if redis == nil {
		redis = middleware.NewRedisService()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = NewMetricsService()
	}

	return &AssistantService{
		retriever:        retriever,
		guard:            guard,
		client:           client,
		db:               opts.DB,
		redis:            redis,
		metrics:          metrics,
		logger:           logger,
		topK:             topK,
		maxPromptTokens:  maxPromptTokens,
		maxQuestionChars: opts.MaxQuestionChars,
		maxDocumentChars: maxDocumentChars,
		temperature:      opts.Temperature,
		maxTokens:        opts.MaxTokens,
		timeout:          opts.Timeout,
	}, nil
}

// AnswerQuery 处理一次问答请求
//
// 护栏拦截与推理降级是设计内的结局，不作为error返回；
// error只用于空输入等调用方错误。
func (s *AssistantService) AnswerQuery(ctx context.Context, question string) (*QueryResponse, error) {
	start := time.Now()

	if strings.TrimSpace(question) == "" {
		return nil, errors.NewEmptyInputError("question")
	}
	if s.maxQuestionChars > 0 && len([]rune(question)) > s.maxQuestionChars {
		return nil, errors.NewInvalidInputError("question", "question exceeds the configured length limit")
	}

	var cached QueryResponse
	if hit, err := s.redis.GetCachedQueryResult(question, s.topK, &cached); err == nil && hit {
		cached.Cached = true
		cached.LatencyMs = time.Since(start).Milliseconds()
		s.metrics.RecordQuery(cached.Outcome, time.Since(start))
		return &cached, nil
	}

	// 整个请求使用同一份规则快照，热更新只影响后续请求
	snap := s.guard.Snapshot()
	state := StateReceived

	s.transition(&state, StatePreGuard)
	if verdict := snap.PreCheck(question); verdict.Decision != guardrails.DecisionAllow {
		return s.finishBlocked(&state, snap, question, nil, verdict, start), nil
	}

	s.transition(&state, StateRetrieving)
	chunks, err := s.retriever.Retrieve(ctx, question, s.topK)
	if err != nil {
		// 检索自身不终止请求；嵌入后端不可达时优雅降级
		s.logger.Warn("retrieval failed, degrading to fallback response", zap.Error(err))
		return s.finishDegraded(&state, snap, question, start), nil
	}

	s.transition(&state, StatePromptBuilt)
	prompt, used := s.buildPrompt(question, chunks)

	// 组装后的prompt再过一次前置检查，覆盖被污染文档带入的注入内容
	if verdict := snap.PreCheck(prompt); verdict.Decision != guardrails.DecisionAllow {
		return s.finishBlocked(&state, snap, question, used, verdict, start), nil
	}

	s.transition(&state, StateInferring)
	result, err := s.complete(ctx, prompt)
	if err != nil {
		s.logger.Warn("inference unavailable, responding with fallback",
			zap.String("model", s.client.Model()),
			zap.Error(err))
		return s.finishDegraded(&state, snap, question, start), nil
	}

	s.transition(&state, StatePostGuard)
	if verdict := snap.PostCheck(result.Text); verdict.Decision != guardrails.DecisionAllow {
		if verdict.Decision == guardrails.DecisionFallback {
			// 后置Fallback专用于推理中途才暴露的不可达（如流式中断）
			return s.finishDegraded(&state, snap, question, start), nil
		}
		return s.finishBlocked(&state, snap, question, used, verdict, start), nil
	}

	s.transition(&state, StateResponded)
	resp := &QueryResponse{
		Answer:    guardrails.SanitizeAnswer(result.Text),
		Sources:   used,
		Outcome:   OutcomeSuccess,
		Model:     result.Model,
		LatencyMs: time.Since(start).Milliseconds(),
	}

	_ = s.redis.CacheQueryResult(question, s.topK, resp)
	s.recordQuery(question, resp, result)
	s.metrics.RecordQuery(OutcomeSuccess, time.Since(start))
	return resp, nil
}

// complete 调用推理客户端；超时配置通过Options传递并传播到请求context
func (s *AssistantService) complete(ctx context.Context, prompt string) (*inference.Result, error) {
	return s.client.Complete(ctx, prompt, inference.Options{
		Temperature: s.temperature,
		MaxTokens:   s.maxTokens,
		Timeout:     s.timeout,
	})
}

// finishBlocked 护栏拦截收尾：按类别替换为安全提示
func (s *AssistantService) finishBlocked(state *RequestState, snap *guardrails.Snapshot, question string, sources []SourceChunk, verdict guardrails.Verdict, start time.Time) *QueryResponse {
	s.transition(state, StateFallbackResponded)

	resp := &QueryResponse{
		Answer:          snap.FallbackResponse(verdict.Category),
		Sources:         sources,
		Outcome:         OutcomeBlocked,
		VerdictCategory: verdict.Category,
		LatencyMs:       time.Since(start).Milliseconds(),
	}
	s.recordQuery(question, resp, nil)
	s.metrics.RecordQuery(OutcomeBlocked, time.Since(start))
	return resp
}

// finishDegraded 后端不可达收尾：替换为预设降级回答
func (s *AssistantService) finishDegraded(state *RequestState, snap *guardrails.Snapshot, question string, start time.Time) *QueryResponse {
	s.transition(state, StateFallbackResponded)

	resp := &QueryResponse{
		Answer:          snap.FallbackResponse(CategoryBackendUnreachable),
		Outcome:         OutcomeDegraded,
		VerdictCategory: CategoryBackendUnreachable,
		LatencyMs:       time.Since(start).Milliseconds(),
	}
	s.recordQuery(question, resp, nil)
	s.metrics.RecordInferenceFallback()
	s.metrics.RecordQuery(OutcomeDegraded, time.Since(start))
	return resp
}

// transition 推进状态机并留痕
func (s *AssistantService) transition(state *RequestState, next RequestState) {
	s.logger.Debug("request state transition",
		zap.String("from", state.String()),
		zap.String("to", next.String()))
	*state = next
}

// buildPrompt 组装提示词并执行上下文预算
//
// 问题完整保留；检索结果已按得分降序排列，从高分到低分
// 装入直至预算耗尽，等价于从最低分开始丢弃。
func (s *AssistantService) buildPrompt(question string, chunks []rag.ScoredChunk) (string, []SourceChunk) {
	overhead := estimateTokens(promptTemplate) + estimateTokens(question)
	budget := s.maxPromptTokens - overhead

	var parts []string
	var used []SourceChunk
	spent := 0
	for _, chunk := range chunks {
		cost := estimateTokens(chunk.Text)
		if spent+cost > budget {
			break
		}
		parts = append(parts, chunk.Text)
		used = append(used, SourceChunk{
			ChunkID:    chunk.ChunkID,
			DocumentID: chunk.DocumentID,
			Seq:        chunk.Seq,
			Text:       chunk.Text,
			Score:      chunk.Score,
		})
		spent += cost
	}

	contextText := noContextPlaceholder
	if len(parts) > 0 {
		contextText = strings.Join(parts, "\n\n")
	}

	prompt := strings.Replace(promptTemplate, "%CONTEXT%", contextText, 1)
	prompt = strings.Replace(prompt, "%QUESTION%", question, 1)
	return prompt, used
}

// recordQuery 问答记录落库，尽力而为不影响响应
func (s *AssistantService) recordQuery(question string, resp *QueryResponse, result *inference.Result) {
	if s.db == nil {
		return
	}

	chunkIDs := make([]string, len(resp.Sources))
	for i, source := range resp.Sources {
		chunkIDs[i] = source.ChunkID
	}
	encoded, _ := json.Marshal(chunkIDs)

	record := models.QueryRecord{
		Question:      question,
		Answer:        resp.Answer,
		Outcome:       resp.Outcome,
		BlockCategory: resp.VerdictCategory,
		SourceChunks:  string(encoded),
		ModelName:     resp.Model,
		TopK:          s.topK,
		ChunksUsed:    len(resp.Sources),
		LatencyMs:     resp.LatencyMs,
		CreatedAt:     time.Now(),
	}
	if result != nil {
		record.PromptTokens = result.PromptTokens
	}

	// 请求context可能已取消，落库用独立的短超时context
	dbCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.db.WithContext(dbCtx).Create(&record).Error; err != nil {
		s.logger.Warn("failed to persist query record", zap.Error(err))
	}
}

// estimateTokens 估算token数量，仅用于上下文预算
// 中文字符逐字计数，英文按单词计，再乘安全系数
func estimateTokens(content string) int {
	units := 0
	for _, word := range strings.Fields(content) {
		hasCJK := false
		for _, r := range word {
			if r >= 0x4e00 && r <= 0x9fff {
				units++
				hasCJK = true
			}
		}
		if !hasCJK {
			units++
		}
	}
	return int(float64(units) * 1.3)
}
