package bootstrap

import (
	"context"
	"log"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/aihub/assistant-go/internal/config"
	"github.com/aihub/assistant-go/internal/database"
	"github.com/aihub/assistant-go/internal/di"
	"github.com/aihub/assistant-go/internal/discovery"
	"github.com/aihub/assistant-go/internal/fileparse"
	"github.com/aihub/assistant-go/internal/kafka"
	"github.com/aihub/assistant-go/internal/logger"
	"github.com/aihub/assistant-go/internal/services"
	"github.com/aihub/assistant-go/internal/storage"
)

// App 持有进程生命周期内的共享资源
//
// beego按请求反射实例化controller，注入到controller字段的依赖
// 活不过一次请求，因此controller统一在Prepare里从全局App取服务。
type App struct {
	cleanupTasks []func() error
	registrar    discovery.Registrar

	Assistant  *services.AssistantService
	Ingest     *services.IngestService
	Health     *services.HealthService
	Metrics    *services.MetricsService
	FileParser *fileparse.Manager
}

var globalApp *App

// GetApp 返回全局App实例
func GetApp() *App {
	return globalApp
}

// SetGlobalApp 设置全局App实例
func SetGlobalApp(app *App) {
	globalApp = app
}

// Init 初始化配置、日志、存储后端与服务图
//
// 数据库与护栏规则是硬依赖，初始化失败直接返回错误；
// redis/minio/kafka/注册中心缺席时降级运行。
func Init() (*App, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	if err := logger.InitLogger(); err != nil {
		return nil, err
	}

	if err := config.LoadConfig(); err != nil {
		return nil, err
	}
	cfg := config.AppConfig

	app := &App{}

	if _, err := database.InitDB(); err != nil {
		return nil, err
	}
	app.cleanupTasks = append(app.cleanupTasks, database.CloseDB)

	if _, err := database.InitRedis(); err != nil {
		logger.Warn("Failed to initialize Redis, caching disabled", zap.Error(err))
	} else {
		app.cleanupTasks = append(app.cleanupTasks, database.CloseRedis)
	}

	if cfg.Assistant.Storage.Endpoint != "" {
		if err := storage.InitGlobalStore(cfg.Assistant.Storage); err != nil {
			logger.Warn("Failed to initialize MinIO, raw file archiving disabled", zap.Error(err))
		}
	}

	if cfg.Kafka.Enabled {
		if err := kafka.InitProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic); err != nil {
			logger.Warn("Failed to initialize Kafka producer, ingestion runs synchronously", zap.Error(err))
		} else {
			app.cleanupTasks = append(app.cleanupTasks, func() error {
				if producer := kafka.GetProducer(); producer != nil {
					return producer.Close()
				}
				return nil
			})
		}

		if err := kafka.InitConsumer(cfg.Kafka.Brokers, cfg.Kafka.GroupID, []string{cfg.Kafka.Topic}); err != nil {
			logger.Warn("Failed to initialize Kafka consumer", zap.Error(err))
		} else if consumer := kafka.GetConsumer(); consumer != nil {
			app.cleanupTasks = append(app.cleanupTasks, consumer.Close)
		}
	}

	// 组装服务图；护栏规则加载失败会在这里冒出来并终止启动
	container := di.InitContainer()
	if err := di.RegisterProviders(container); err != nil {
		return nil, err
	}
	err := container.Invoke(func(
		assistant *services.AssistantService,
		ingest *services.IngestService,
		health *services.HealthService,
		metrics *services.MetricsService,
		fileParser *fileparse.Manager,
	) {
		app.Assistant = assistant
		app.Ingest = ingest
		app.Health = health
		app.Metrics = metrics
		app.FileParser = fileParser
	})
	if err != nil {
		return nil, err
	}

	// 摄取事件消费：处理失败由服务内部带重试计数重新入队
	if consumer := kafka.GetConsumer(); consumer != nil {
		consumer.RegisterHandler(cfg.Kafka.Topic, app.Ingest.HandleIngestEvent)
		consumer.Start()
	}

	registrar, err := discovery.New(cfg, logger.GetLogger())
	if err != nil {
		logger.Warn("Failed to initialize service discovery", zap.Error(err))
	} else {
		if err := registrar.Register(context.Background()); err != nil {
			logger.Warn("Failed to register service", zap.Error(err))
		} else {
			app.registrar = registrar
			app.cleanupTasks = append(app.cleanupTasks, registrar.Deregister)
		}
	}

	SetGlobalApp(app)
	return app, nil
}

// Shutdown 逆序执行清理任务
func (a *App) Shutdown() {
	for i := len(a.cleanupTasks) - 1; i >= 0; i-- {
		if err := a.cleanupTasks[i](); err != nil {
			log.Printf("Cleanup error: %v\n", err)
		}
	}

	logger.Sync()
}
