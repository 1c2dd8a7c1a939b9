package controllers

import (
	"encoding/json"
	"net/http"

	"github.com/aihub/assistant-go/app/bootstrap"
	"github.com/aihub/assistant-go/internal/services"
)

// AssistantController 问答与文档分析入口
type AssistantController struct {
	BaseController
	assistant *services.AssistantService
}

func (c *AssistantController) Prepare() {
	if app := bootstrap.GetApp(); app != nil {
		c.assistant = app.Assistant
	}
}

type queryRequest struct {
	Question string `json:"question"`
}

// POST /api/assistant/query
func (c *AssistantController) Query() {
	if c.assistant == nil {
		c.JSONError(http.StatusServiceUnavailable, "assistant service not initialized")
		return
	}

	var req queryRequest
	if err := json.Unmarshal(c.Ctx.Input.RequestBody, &req); err != nil {
		c.JSONError(http.StatusBadRequest, "invalid request body")
		return
	}

	resp, err := c.assistant.AnswerQuery(c.Ctx.Request.Context(), req.Question)
	if err != nil {
		c.JSONAppError(err)
		return
	}

	c.JSONSuccess(resp)
}

type analyzeRequest struct {
	DocumentID string `json:"document_id"`
	Text       string `json:"text"`
	Mode       string `json:"mode"`
}

// POST /api/assistant/analyze
//
// 传document_id分析已入库文档，传text分析裸文本；二选一。
func (c *AssistantController) Analyze() {
	if c.assistant == nil {
		c.JSONError(http.StatusServiceUnavailable, "assistant service not initialized")
		return
	}

	var req analyzeRequest
	if err := json.Unmarshal(c.Ctx.Input.RequestBody, &req); err != nil {
		c.JSONError(http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Mode == "" {
		req.Mode = services.AnalysisModeSummarize
	}

	var (
		resp *services.AnalysisResponse
		err  error
	)
	switch {
	case req.DocumentID != "":
		resp, err = c.assistant.AnalyzeDocument(c.Ctx.Request.Context(), req.DocumentID, req.Mode)
	case req.Text != "":
		resp, err = c.assistant.AnalyzeText(c.Ctx.Request.Context(), req.Text, req.Mode)
	default:
		c.JSONError(http.StatusBadRequest, "either document_id or text is required")
		return
	}
	if err != nil {
		c.JSONAppError(err)
		return
	}

	c.JSONSuccess(resp)
}
