package discovery

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/aihub/assistant-go/internal/config"
)

// Registrar 服务注册接口
//
// Register在进程就绪后调用，Deregister挂到关闭清理链上；
// 未启用任何注册中心时返回noop实现，调用方无需判空。
type Registrar interface {
	Register(ctx context.Context) error
	Deregister() error
}

// instanceInfo 注册到注册中心的实例描述
type instanceInfo struct {
	ID          string
	Name        string
	Address     string
	Port        int
	HealthCheck string
	Tags        []string
	Meta        map[string]string
}

// New 按配置选择注册中心；consul与etcd同时启用时consul优先
func New(cfg *config.Config, logger *zap.Logger) (Registrar, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	switch {
	case cfg.Consul.Enabled:
		return newConsulRegistrar(cfg, logger)
	case cfg.Etcd.Enabled:
		return newEtcdRegistrar(cfg, logger)
	default:
		logger.Info("service discovery disabled")
		return &noopRegistrar{}, nil
	}
}

// buildInstanceInfo 从配置推导实例注册信息
func buildInstanceInfo(cfg *config.Config, serviceID, serviceName string) instanceInfo {
	hostname := os.Getenv("SERVICE_HOST")
	if hostname == "" {
		hostname = "localhost"
	}

	port := 8000
	if cfg.Server.Port != "" {
		if _, err := fmt.Sscanf(cfg.Server.Port, "%d", &port); err != nil {
			port = 8000
		}
	}

	if serviceName == "" {
		serviceName = "assistant-go"
	}
	if serviceID == "" {
		serviceID = fmt.Sprintf("%s-%s-%d", serviceName, hostname, port)
	}

	return instanceInfo{
		ID:          serviceID,
		Name:        serviceName,
		Address:     hostname,
		Port:        port,
		HealthCheck: fmt.Sprintf("http://%s:%d/health", hostname, port),
		Tags:        []string{"api", "go", "assistant", cfg.Server.Env},
		Meta: map[string]string{
			"version": "1.0.0",
			"env":     cfg.Server.Env,
		},
	}
}

type noopRegistrar struct{}

func (n *noopRegistrar) Register(ctx context.Context) error { return nil }

func (n *noopRegistrar) Deregister() error { return nil }
