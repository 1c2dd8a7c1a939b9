package controllers

import (
	"net/http"
	"strings"
	"time"

	"github.com/beego/beego/v2/server/web"

	"github.com/aihub/assistant-go/internal/errors"
)

var (
	errorTranslator = errors.NewErrorTranslator()
	errorMonitor    = errors.NewErrorMonitor()
)

// BaseController provides helpers for consistent JSON responses.
type BaseController struct {
	web.Controller
}

// JSON writes a JSON response with the supplied HTTP status code.
func (c *BaseController) JSON(status int, payload interface{}) {
	c.Ctx.Output.SetStatus(status)
	c.Data["json"] = payload
	c.ServeJSON()
}

// JSONSuccess writes a standard success envelope.
func (c *BaseController) JSONSuccess(data interface{}) {
	c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    data,
	})
}

// JSONError writes an error envelope with message.
func (c *BaseController) JSONError(status int, message string) {
	c.JSON(status, map[string]interface{}{
		"success": false,
		"error":   message,
	})
}

// JSONAppError 将任意错误归一为类型化错误，映射到HTTP状态码并输出错误码
func (c *BaseController) JSONAppError(err error) {
	appErr := errorTranslator.Translate(err)
	errorMonitor.RecordError(c.Ctx.Request.Context(), appErr, c.Ctx.Input.URL(), time.Duration(0))
	c.JSON(appErr.HTTPCode, map[string]interface{}{
		"success": false,
		"code":    appErr.Code,
		"error":   appErr.Message,
	})
}

// getClientIP 获取客户端真实IP地址
func (c *BaseController) getClientIP() string {
	if xForwardedFor := c.Ctx.Input.Header("X-Forwarded-For"); xForwardedFor != "" {
		ips := strings.Split(xForwardedFor, ",")
		return strings.TrimSpace(ips[0])
	}
	if xRealIP := c.Ctx.Input.Header("X-Real-IP"); xRealIP != "" {
		return xRealIP
	}
	return c.Ctx.Input.IP()
}
