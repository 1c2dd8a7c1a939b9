package database

import (
	"context"
	"fmt"
	"log"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/aihub/assistant-go/internal/config"
	"github.com/aihub/assistant-go/internal/models"
)

var (
	DB *gorm.DB

	healthChecker    *HealthChecker
	metricsCollector *MetricsCollector
)

func InitDB() (*gorm.DB, error) {
	cfg := config.AppConfig
	if cfg == nil {
		return nil, fmt.Errorf("config not loaded")
	}

	db, err := gorm.Open(postgres.Open(cfg.Database.URL), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Info),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// 获取底层的sql.DB设置连接池
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	maxIdle := cfg.Database.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = 10
	}
	maxOpen := cfg.Database.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 100
	}
	sqlDB.SetMaxIdleConns(maxIdle)
	sqlDB.SetMaxOpenConns(maxOpen)
	if cfg.Database.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)
	}
	if cfg.Database.ConnMaxIdleTime > 0 {
		sqlDB.SetConnMaxIdleTime(cfg.Database.ConnMaxIdleTime)
	}

	// 连接池指标与周期性健康检查
	if cfg.Prometheus.Enabled {
		metricsCollector = NewMetricsCollector(sqlDB, logrus.StandardLogger())
		metricsCollector.Start()
	}
	healthChecker = NewHealthChecker(sqlDB, logrus.StandardLogger())
	go healthChecker.Start(context.Background())

	// 自动迁移问答助手相关表
	if err := autoMigrate(db); err != nil {
		log.Printf("⚠️  Database migration warning: %v", err)
	}

	DB = db
	log.Println("✅ Database connected successfully")
	return db, nil
}

// autoMigrate 自动迁移问答助手相关表
func autoMigrate(db *gorm.DB) error {
	// 按依赖顺序创建表
	// 1. 先创建文档主表
	if err := db.AutoMigrate(&models.Document{}); err != nil {
		log.Printf("⚠️  Failed to migrate documents: %v", err)
		// 继续执行，可能表已存在
	}

	// 2. 创建分块表
	if err := db.AutoMigrate(&models.DocumentChunk{}); err != nil {
		log.Printf("⚠️  Failed to migrate document_chunks: %v", err)
		// 如果 AutoMigrate 失败，尝试手动创建
		db.Exec(`
			CREATE TABLE IF NOT EXISTS document_chunks (
				id bigserial PRIMARY KEY,
				document_id varchar(64) NOT NULL,
				seq integer NOT NULL,
				chunk_key varchar(255) UNIQUE NOT NULL,
				text text NOT NULL,
				start_offset integer NOT NULL,
				end_offset integer NOT NULL,
				embedded boolean DEFAULT false,
				created_at timestamptz DEFAULT NOW(),
				CONSTRAINT fk_documents_chunks FOREIGN KEY (document_id) REFERENCES documents(id) ON DELETE CASCADE
			)
		`)
	}

	// 3. 创建问答记录表
	if err := db.AutoMigrate(&models.QueryRecord{}); err != nil {
		log.Printf("⚠️  Failed to migrate query_records: %v", err)
		db.Exec(`
			CREATE TABLE IF NOT EXISTS query_records (
				id bigserial PRIMARY KEY,
				question text NOT NULL,
				answer text,
				outcome varchar(20) NOT NULL,
				block_category varchar(50),
				model_name varchar(100),
				top_k integer NOT NULL,
				chunks_used integer DEFAULT 0,
				prompt_tokens integer DEFAULT 0,
				latency_ms bigint DEFAULT 0,
				created_at timestamptz DEFAULT NOW()
			)
		`)
	}

	// 4. 创建文档分析记录表
	if err := db.AutoMigrate(&models.DocumentAnalysis{}); err != nil {
		log.Printf("⚠️  Failed to migrate document_analyses: %v", err)
		db.Exec(`
			CREATE TABLE IF NOT EXISTS document_analyses (
				id bigserial PRIMARY KEY,
				document_id varchar(64),
				analysis_type varchar(30) NOT NULL,
				outcome varchar(20) NOT NULL,
				result jsonb,
				latency_ms bigint DEFAULT 0,
				created_at timestamptz DEFAULT NOW()
			)
		`)
	}

	return nil
}

func CloseDB() error {
	if healthChecker != nil {
		healthChecker.Stop()
		healthChecker = nil
	}
	if metricsCollector != nil {
		metricsCollector.Stop()
		metricsCollector = nil
	}
	if DB == nil {
		return nil
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return err
	}

	return sqlDB.Close()
}
