package main

import (
	"log"
	"os"
	"strconv"

	"github.com/beego/beego/v2/server/web"
	"go.uber.org/zap"

	"github.com/aihub/assistant-go/app/bootstrap"
	"github.com/aihub/assistant-go/app/router"
	"github.com/aihub/assistant-go/internal/logger"
)

func main() {
	port := 8000
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			port = p
		}
	}

	app, err := bootstrap.Init()
	if err != nil {
		log.Fatalf("failed to bootstrap application: %v", err)
	}
	defer app.Shutdown()

	router.Init()

	web.BConfig.AppName = "Assistant Service"
	web.BConfig.CopyRequestBody = true
	web.BConfig.Listen.HTTPPort = port

	logger.Info("🚀 Starting Assistant Service", zap.Int("port", port))
	web.Run()
}
