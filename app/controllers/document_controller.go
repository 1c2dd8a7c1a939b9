package controllers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aihub/assistant-go/app/bootstrap"
	"github.com/aihub/assistant-go/internal/config"
	"github.com/aihub/assistant-go/internal/fileparse"
	"github.com/aihub/assistant-go/internal/logger"
	"github.com/aihub/assistant-go/internal/services"
	"github.com/aihub/assistant-go/internal/storage"
)

// DocumentController 文档上传与管理入口
type DocumentController struct {
	BaseController
	ingest *services.IngestService
	parser *fileparse.Manager
}

func (c *DocumentController) Prepare() {
	if app := bootstrap.GetApp(); app != nil {
		c.ingest = app.Ingest
		c.parser = app.FileParser
	}
}

type uploadRequest struct {
	DocumentID string `json:"document_id"`
	Title      string `json:"title"`
	Source     string `json:"source"`
	Text       string `json:"text"`
	Async      bool   `json:"async"`
}

// POST /api/assistant/upload
//
// multipart上传走文件解析，JSON直接携带text；
// 原始文件归档到对象存储，摄取核心只拿解析后的纯文本。
func (c *DocumentController) Upload() {
	if c.ingest == nil {
		c.JSONError(http.StatusServiceUnavailable, "ingest service not initialized")
		return
	}

	contentType := c.Ctx.Input.Header("Content-Type")
	if strings.HasPrefix(contentType, "multipart/form-data") {
		c.uploadFile()
		return
	}
	c.uploadJSON()
}

func (c *DocumentController) uploadJSON() {
	var req uploadRequest
	if err := json.Unmarshal(c.Ctx.Input.RequestBody, &req); err != nil {
		c.JSONError(http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		c.JSONError(http.StatusBadRequest, "text is required")
		return
	}

	documentID := req.DocumentID
	if documentID == "" {
		documentID = uuid.NewString()
	}
	meta := map[string]string{
		"title":        req.Title,
		"source":       req.Source,
		"content_type": "text/plain",
	}

	if req.Async {
		if err := c.ingest.IngestAsync(c.Ctx.Request.Context(), documentID, req.Text, meta); err != nil {
			c.JSONAppError(err)
			return
		}
		c.JSONSuccess(map[string]interface{}{
			"document_id": documentID,
			"status":      "processing",
		})
		return
	}

	result, err := c.ingest.Ingest(c.Ctx.Request.Context(), documentID, req.Text, meta)
	if err != nil {
		c.JSONAppError(err)
		return
	}
	c.JSONSuccess(result)
}

func (c *DocumentController) uploadFile() {
	file, header, err := c.GetFile("file")
	if err != nil {
		c.JSONError(http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	if cfg := config.GetAppConfig(); cfg != nil && cfg.FileUpload.MaxSize > 0 && header.Size > cfg.FileUpload.MaxSize {
		c.JSONError(http.StatusRequestEntityTooLarge,
			fmt.Sprintf("file exceeds the %d byte limit", cfg.FileUpload.MaxSize))
		return
	}

	raw, err := io.ReadAll(file)
	if err != nil {
		c.JSONError(http.StatusBadRequest, "failed to read uploaded file")
		return
	}

	text, contentType, err := c.parser.Parse(bytes.NewReader(raw), header.Filename)
	if err != nil {
		c.JSONAppError(err)
		return
	}
	if strings.TrimSpace(text) == "" {
		c.JSONError(http.StatusBadRequest, "no extractable text in uploaded file")
		return
	}

	documentID := c.GetString("document_id")
	if documentID == "" {
		documentID = uuid.NewString()
	}

	meta := map[string]string{
		"title":        header.Filename,
		"source":       c.GetString("source", "upload"),
		"content_type": contentType,
	}

	// 原始文件归档尽力而为，失败不阻断摄取
	if store := storage.GetObjectStore(); store != nil {
		path, err := store.PutDocument(c.Ctx.Request.Context(), documentID, bytes.NewReader(raw), header.Size, contentType)
		if err != nil {
			logger.Warn("failed to archive uploaded file",
				zap.String("document_id", documentID),
				zap.Error(err))
		} else {
			meta["storage_path"] = path
		}
	}

	result, err := c.ingest.Ingest(c.Ctx.Request.Context(), documentID, text, meta)
	if err != nil {
		c.JSONAppError(err)
		return
	}
	c.JSONSuccess(result)
}

// GET /api/assistant/documents
func (c *DocumentController) List() {
	if c.ingest == nil {
		c.JSONError(http.StatusServiceUnavailable, "ingest service not initialized")
		return
	}

	page, _ := strconv.Atoi(c.GetString("page", "1"))
	limit, _ := strconv.Atoi(c.GetString("limit", "20"))

	docs, total, err := c.ingest.ListDocuments(c.Ctx.Request.Context(), page, limit)
	if err != nil {
		c.JSONAppError(err)
		return
	}

	c.JSONSuccess(map[string]interface{}{
		"documents": docs,
		"total":     total,
		"page":      page,
		"limit":     limit,
	})
}

// GET /api/assistant/documents/:id
func (c *DocumentController) Get() {
	if c.ingest == nil {
		c.JSONError(http.StatusServiceUnavailable, "ingest service not initialized")
		return
	}

	documentID := c.Ctx.Input.Param(":id")
	doc, err := c.ingest.GetDocument(c.Ctx.Request.Context(), documentID)
	if err != nil {
		c.JSONAppError(err)
		return
	}

	c.JSONSuccess(doc)
}

// GET /api/assistant/documents/:id/status
func (c *DocumentController) Status() {
	if c.ingest == nil {
		c.JSONError(http.StatusServiceUnavailable, "ingest service not initialized")
		return
	}

	documentID := c.Ctx.Input.Param(":id")
	status, err := c.ingest.DocumentStatus(c.Ctx.Request.Context(), documentID)
	if err != nil {
		c.JSONAppError(err)
		return
	}

	c.JSONSuccess(status)
}

// DELETE /api/assistant/documents/:id
func (c *DocumentController) Delete() {
	if c.ingest == nil {
		c.JSONError(http.StatusServiceUnavailable, "ingest service not initialized")
		return
	}

	documentID := c.Ctx.Input.Param(":id")
	if err := c.ingest.RemoveDocument(c.Ctx.Request.Context(), documentID); err != nil {
		c.JSONAppError(err)
		return
	}

	c.JSONSuccess(map[string]interface{}{
		"document_id": documentID,
		"deleted_at":  time.Now().Format(time.RFC3339),
	})
}
