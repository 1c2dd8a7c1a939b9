package controllers

import (
	"net/http"

	"github.com/aihub/assistant-go/app/bootstrap"
	"github.com/aihub/assistant-go/internal/services"
)

// HealthController 健康检查入口
type HealthController struct {
	BaseController
	health *services.HealthService
}

func (c *HealthController) Prepare() {
	if app := bootstrap.GetApp(); app != nil {
		c.health = app.Health
	}
}

// GET /health
//
// 单个依赖不可达返回503，负载均衡器据此摘除实例；
// 响应体始终携带各依赖的明细。
func (c *HealthController) Check() {
	if c.health == nil {
		c.JSONError(http.StatusServiceUnavailable, "health service not initialized")
		return
	}

	report := c.health.Check(c.Ctx.Request.Context())
	status := http.StatusOK
	if !report.Healthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, report)
}
