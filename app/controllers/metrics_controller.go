package controllers

import (
	"net/http"

	"github.com/aihub/assistant-go/app/bootstrap"
	"github.com/aihub/assistant-go/internal/services"
)

// MetricsController Prometheus指标导出
type MetricsController struct {
	BaseController
	metrics *services.MetricsService
}

func (c *MetricsController) Prepare() {
	if app := bootstrap.GetApp(); app != nil {
		c.metrics = app.Metrics
	} else {
		c.metrics = services.NewMetricsService()
	}
}

// GET /metrics
func (c *MetricsController) Metrics() {
	c.metrics.ServeHTTP(c.Ctx.ResponseWriter, c.Ctx.Request)
}

// GET /api/assistant/breakers 熔断器状态，运维排障用
func (c *MetricsController) Breakers() {
	c.JSON(http.StatusOK, map[string]interface{}{
		"success":  true,
		"breakers": c.metrics.BreakerStats(),
	})
}
