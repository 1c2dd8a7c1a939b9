package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/aihub/assistant-go/internal/errors"
	"github.com/aihub/assistant-go/internal/guardrails"
	"github.com/aihub/assistant-go/internal/models"
)

// 文档分析模式
const (
	AnalysisModeSummarize = "summarize"
	AnalysisModeClassify  = "classify"
)

// AnalysisResponse 文档分析响应
type AnalysisResponse struct {
	DocumentID      string `json:"document_id,omitempty"`
	Mode            string `json:"mode"`
	Result          string `json:"result"`
	Outcome         string `json:"outcome"`
	VerdictCategory string `json:"verdict_category,omitempty"`
	Model           string `json:"model,omitempty"`
	Truncated       bool   `json:"truncated,omitempty"`
	LatencyMs       int64  `json:"latency_ms"`
	Cached          bool   `json:"cached,omitempty"`
}

const summarizePromptTemplate = `You are a helpful assistant for analyzing an organization's private documents.
Always respond in a manner consistent with the organizational values of respect, integrity, and service.

Summarize the following document in a few short paragraphs. Cover the document's purpose, its main points, and any actions it asks of the reader. Do not add information that is not in the document.

Document:
%DOCUMENT%

Summary:`

const classifyPromptTemplate = `You are a helpful assistant for analyzing an organization's private documents.
Always respond in a manner consistent with the organizational values of respect, integrity, and service.

Analyze the following document and respond with exactly these four sections:
KEY_TOPICS: a comma-separated list of the main topics covered.
MAIN_SECTIONS: a comma-separated list of the document's major sections.
OUTDATED_ELEMENTS: any dates, policies or references that appear outdated, or "none".
POLICY_SUMMARY: one sentence describing what this document governs.

Document:
%DOCUMENT%

Analysis:`

// AnalyzeDocument 按ID分析已入库的文档
//
// 分析不走检索，文档内容直接作为推理输入；护栏语义与问答一致。
func (s *AssistantService) AnalyzeDocument(ctx context.Context, documentID, mode string) (*AnalysisResponse, error) {
	if strings.TrimSpace(documentID) == "" {
		return nil, errors.NewEmptyInputError("document_id")
	}
	if s.db == nil {
		return nil, errors.NewConfigurationError("analyzer", "document analysis requires a database")
	}

	var cached AnalysisResponse
	if hit, err := s.redis.GetCachedAnalysis(documentID, mode, &cached); err == nil && hit {
		cached.Cached = true
		s.metrics.RecordAnalysis(mode, cached.Outcome)
		return &cached, nil
	}

	var doc models.Document
	if err := s.db.WithContext(ctx).First(&doc, "id = ?", documentID).Error; err != nil {
		return nil, errors.NewNotFoundError("document " + documentID)
	}
	if doc.Content == "" {
		return nil, errors.NewEmptyInputError("document content")
	}

	resp, err := s.AnalyzeText(ctx, doc.Content, mode)
	if err != nil {
		return nil, err
	}
	resp.DocumentID = documentID

	_ = s.redis.CacheAnalysis(documentID, mode, resp)
	s.recordAnalysis(documentID, resp)
	return resp, nil
}

// AnalyzeText 分析一段原始文本
//
// 超长文档按字符截断到配置上限后分析，响应中标记Truncated。
func (s *AssistantService) AnalyzeText(ctx context.Context, text, mode string) (*AnalysisResponse, error) {
	start := time.Now()

	if strings.TrimSpace(text) == "" {
		return nil, errors.NewEmptyInputError("text")
	}
	template, err := analysisTemplate(mode)
	if err != nil {
		return nil, err
	}

	truncated := false
	runes := []rune(text)
	if s.maxDocumentChars > 0 && len(runes) > s.maxDocumentChars {
		text = string(runes[:s.maxDocumentChars])
		truncated = true
	}

	snap := s.guard.Snapshot()
	state := StateReceived

	s.transition(&state, StatePreGuard)
	if verdict := snap.PreCheck(text); verdict.Decision != guardrails.DecisionAllow {
		resp := &AnalysisResponse{
			Mode:            mode,
			Result:          snap.FallbackResponse(verdict.Category),
			Outcome:         OutcomeBlocked,
			VerdictCategory: verdict.Category,
			Truncated:       truncated,
			LatencyMs:       time.Since(start).Milliseconds(),
		}
		s.transition(&state, StateFallbackResponded)
		s.metrics.RecordAnalysis(mode, OutcomeBlocked)
		return resp, nil
	}

	s.transition(&state, StatePromptBuilt)
	prompt := strings.Replace(template, "%DOCUMENT%", text, 1)

	s.transition(&state, StateInferring)
	result, err := s.complete(ctx, prompt)
	if err != nil {
		s.logger.Warn("inference unavailable during analysis, responding with fallback",
			zap.String("mode", mode),
			zap.Error(err))
		resp := &AnalysisResponse{
			Mode:            mode,
			Result:          snap.FallbackResponse(CategoryBackendUnreachable),
			Outcome:         OutcomeDegraded,
			VerdictCategory: CategoryBackendUnreachable,
			Truncated:       truncated,
			LatencyMs:       time.Since(start).Milliseconds(),
		}
		s.transition(&state, StateFallbackResponded)
		s.metrics.RecordInferenceFallback()
		s.metrics.RecordAnalysis(mode, OutcomeDegraded)
		return resp, nil
	}

	s.transition(&state, StatePostGuard)
	if verdict := snap.PostCheck(result.Text); verdict.Decision != guardrails.DecisionAllow {
		resp := &AnalysisResponse{
			Mode:            mode,
			Result:          snap.FallbackResponse(verdict.Category),
			Outcome:         OutcomeBlocked,
			VerdictCategory: verdict.Category,
			Truncated:       truncated,
			LatencyMs:       time.Since(start).Milliseconds(),
		}
		s.transition(&state, StateFallbackResponded)
		s.metrics.RecordAnalysis(mode, OutcomeBlocked)
		return resp, nil
	}

	s.transition(&state, StateResponded)
	resp := &AnalysisResponse{
		Mode:      mode,
		Result:    guardrails.SanitizeAnswer(result.Text),
		Outcome:   OutcomeSuccess,
		Model:     result.Model,
		Truncated: truncated,
		LatencyMs: time.Since(start).Milliseconds(),
	}
	s.metrics.RecordAnalysis(mode, OutcomeSuccess)
	return resp, nil
}

func analysisTemplate(mode string) (string, error) {
	switch mode {
	case AnalysisModeSummarize:
		return summarizePromptTemplate, nil
	case AnalysisModeClassify:
		return classifyPromptTemplate, nil
	default:
		return "", errors.NewInvalidInputError("mode", fmt.Sprintf("unsupported analysis mode %q, expected summarize or classify", mode))
	}
}

// recordAnalysis 分析记录落库，尽力而为
func (s *AssistantService) recordAnalysis(documentID string, resp *AnalysisResponse) {
	if s.db == nil {
		return
	}

	encoded, _ := json.Marshal(resp)
	record := models.DocumentAnalysis{
		DocumentID:   documentID,
		AnalysisType: resp.Mode,
		Outcome:      resp.Outcome,
		Result:       string(encoded),
		LatencyMs:    resp.LatencyMs,
		CreatedAt:    time.Now(),
	}

	dbCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.db.WithContext(dbCtx).Create(&record).Error; err != nil {
		s.logger.Warn("failed to persist analysis record", zap.Error(err))
	}
}
