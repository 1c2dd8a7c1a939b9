package services

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aihub/assistant-go/internal/errors"
)

func TestAnalyzeTextSummarize(t *testing.T) {
	var captured string
	client := &stubClient{
		reply: func(prompt string) string {
			captured = prompt
			return "This document describes the vacation policy."
		},
	}
	svc, _ := newTestAssistant(t, client, AssistantOptions{})

	resp, err := svc.AnalyzeText(context.Background(), "Employees accrue 20 vacation days per year.", AnalysisModeSummarize)
	require.NoError(t, err)

	assert.Equal(t, OutcomeSuccess, resp.Outcome)
	assert.Equal(t, AnalysisModeSummarize, resp.Mode)
	assert.Contains(t, resp.Result, "vacation policy")
	assert.False(t, resp.Truncated)
	assert.Contains(t, captured, "Employees accrue 20 vacation days")
	assert.Contains(t, captured, "Summarize the following document")
}

func TestAnalyzeTextClassify(t *testing.T) {
	var captured string
	client := &stubClient{
		reply: func(prompt string) string {
			captured = prompt
			return "KEY_TOPICS: vacation, leave\nMAIN_SECTIONS: accrual, approval\nOUTDATED_ELEMENTS: none\nPOLICY_SUMMARY: Governs employee vacation."
		},
	}
	svc, _ := newTestAssistant(t, client, AssistantOptions{})

	resp, err := svc.AnalyzeText(context.Background(), "Employees accrue 20 vacation days per year.", AnalysisModeClassify)
	require.NoError(t, err)

	assert.Equal(t, OutcomeSuccess, resp.Outcome)
	assert.Contains(t, resp.Result, "KEY_TOPICS")
	assert.Contains(t, resp.Result, "POLICY_SUMMARY")
	assert.Contains(t, captured, "KEY_TOPICS")
}

func TestAnalyzeTextUnknownMode(t *testing.T) {
	svc, _ := newTestAssistant(t, &stubClient{}, AssistantOptions{})

	_, err := svc.AnalyzeText(context.Background(), "some document", "translate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "translate")
}

func TestAnalyzeTextEmpty(t *testing.T) {
	svc, _ := newTestAssistant(t, &stubClient{}, AssistantOptions{})

	_, err := svc.AnalyzeText(context.Background(), "  ", AnalysisModeSummarize)
	require.Error(t, err)
	assert.True(t, errors.IsEmptyInput(err))
}

// 超长文档截断到配置上限后分析
func TestAnalyzeTextTruncation(t *testing.T) {
	var captured string
	client := &stubClient{
		reply: func(prompt string) string {
			captured = prompt
			return "summary"
		},
	}
	svc, _ := newTestAssistant(t, client, AssistantOptions{MaxDocumentChars: 50})

	long := strings.Repeat("vacation policy text ", 20)
	resp, err := svc.AnalyzeText(context.Background(), long, AnalysisModeSummarize)
	require.NoError(t, err)

	assert.True(t, resp.Truncated)
	assert.NotContains(t, captured, long, "the full document must not reach the model")
	assert.Contains(t, captured, long[:50])
}

// 文档内容触发护栏时不调用推理
func TestAnalyzeTextBlocked(t *testing.T) {
	client := &stubClient{}
	svc, _ := newTestAssistant(t, client, AssistantOptions{})

	resp, err := svc.AnalyzeText(context.Background(), "Employee record: SSN 123-45-6789.", AnalysisModeSummarize)
	require.NoError(t, err)

	assert.Equal(t, OutcomeBlocked, resp.Outcome)
	assert.Equal(t, "pii", resp.VerdictCategory)
	assert.Equal(t, int32(0), client.calls.Load())
}

func TestAnalyzeTextDegradedOnOutage(t *testing.T) {
	client := &stubClient{err: errors.NewBackendUnavailableError("ollama", nil)}
	svc, _ := newTestAssistant(t, client, AssistantOptions{})

	resp, err := svc.AnalyzeText(context.Background(), "Employees accrue 20 vacation days per year.", AnalysisModeSummarize)
	require.NoError(t, err)

	assert.Equal(t, OutcomeDegraded, resp.Outcome)
	assert.Equal(t, CategoryBackendUnreachable, resp.VerdictCategory)
	assert.Contains(t, resp.Result, "temporarily unavailable")
}

func TestAnalyzeDocumentRequiresID(t *testing.T) {
	svc, _ := newTestAssistant(t, &stubClient{}, AssistantOptions{})

	_, err := svc.AnalyzeDocument(context.Background(), "", AnalysisModeSummarize)
	require.Error(t, err)
	assert.True(t, errors.IsEmptyInput(err))
}
