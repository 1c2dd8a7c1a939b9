package router

import (
	"github.com/beego/beego/v2/server/web"

	"github.com/aihub/assistant-go/app/controllers"
	"github.com/aihub/assistant-go/app/middleware"
)

// Init 注册全部路由。须在配置加载完成后调用。
func Init() {
	web.InsertFilter("/*", web.BeforeRouter, middleware.RequestTimerFilter)
	web.InsertFilter("/*", web.BeforeRouter, middleware.CORSMiddleware)
	web.InsertFilter("/*", web.FinishRouter, middleware.AccessLogFilter, web.WithReturnOnOutput(false))

	web.Router("/health", &controllers.HealthController{}, "get:Check")
	web.Router("/metrics", &controllers.MetricsController{}, "get:Metrics")

	// 问答与文档分析
	assistantController := &controllers.AssistantController{}
	web.Router("/api/assistant/query", assistantController, "post:Query")
	web.Router("/api/assistant/analyze", assistantController, "post:Analyze")

	// 文档摄取与管理
	documentController := &controllers.DocumentController{}
	web.Router("/api/assistant/upload", documentController, "post:Upload")
	web.Router("/api/assistant/documents", documentController, "get:List")
	// 注意：具体路由必须在参数路由之前注册
	web.Router("/api/assistant/documents/:id/status", documentController, "get:Status")
	web.Router("/api/assistant/documents/:id", documentController, "get:Get;delete:Delete")

	// 运维端点
	web.Router("/api/assistant/breakers", &controllers.MetricsController{}, "get:Breakers")
}
