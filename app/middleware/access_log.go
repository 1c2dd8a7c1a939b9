package middleware

import (
	"time"

	"github.com/beego/beego/v2/server/web/context"
	"go.uber.org/zap"

	"github.com/aihub/assistant-go/internal/logger"
)

const requestStartKey = "accessLogStart"

// RequestTimerFilter 在路由前记录请求开始时间，供访问日志计算耗时。
func RequestTimerFilter(ctx *context.Context) {
	ctx.Input.SetData(requestStartKey, time.Now())
}

// AccessLogFilter 请求完成后输出一条结构化访问日志。
func AccessLogFilter(ctx *context.Context) {
	var latency time.Duration
	if v := ctx.Input.GetData(requestStartKey); v != nil {
		if start, ok := v.(time.Time); ok {
			latency = time.Since(start)
		}
	}

	clientIP := ctx.Request.RemoteAddr
	if forwarded := ctx.Request.Header.Get("X-Forwarded-For"); forwarded != "" {
		clientIP = forwarded
	}

	logger.Named("access").Info("request",
		zap.String("method", ctx.Input.Method()),
		zap.String("path", ctx.Input.URL()),
		zap.Int("status", ctx.ResponseWriter.Status),
		zap.Duration("latency", latency),
		zap.String("client_ip", clientIP),
	)
}
