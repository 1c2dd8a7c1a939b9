package discovery

import (
	"context"
	"fmt"

	"github.com/hashicorp/consul/api"
	"go.uber.org/zap"

	"github.com/aihub/assistant-go/internal/config"
)

// consulRegistrar 基于Consul agent的服务注册，健康检查走HTTP探测
type consulRegistrar struct {
	client   *api.Client
	instance instanceInfo
	logger   *zap.Logger
}

func newConsulRegistrar(cfg *config.Config, logger *zap.Logger) (Registrar, error) {
	apiConfig := api.DefaultConfig()
	if cfg.Consul.Address != "" {
		apiConfig.Address = cfg.Consul.Address
	}

	client, err := api.NewClient(apiConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create consul client: %w", err)
	}

	// 连接探测失败时降级为noop，注册中心不可用不阻止启动
	if _, _, err := client.Health().State(api.HealthAny, nil); err != nil {
		logger.Warn("consul unreachable, service registration disabled", zap.Error(err))
		return &noopRegistrar{}, nil
	}

	return &consulRegistrar{
		client:   client,
		instance: buildInstanceInfo(cfg, cfg.Consul.ServiceID, cfg.Consul.ServiceName),
		logger:   logger,
	}, nil
}

func (r *consulRegistrar) Register(ctx context.Context) error {
	registration := &api.AgentServiceRegistration{
		ID:      r.instance.ID,
		Name:    r.instance.Name,
		Tags:    r.instance.Tags,
		Address: r.instance.Address,
		Port:    r.instance.Port,
		Check: &api.AgentServiceCheck{
			HTTP:                           r.instance.HealthCheck,
			Interval:                       "10s",
			Timeout:                        "3s",
			DeregisterCriticalServiceAfter: "30s",
		},
		Meta: r.instance.Meta,
	}

	if err := r.client.Agent().ServiceRegister(registration); err != nil {
		return fmt.Errorf("failed to register with consul: %w", err)
	}

	r.logger.Info("service registered with consul",
		zap.String("service_id", r.instance.ID),
		zap.String("service_name", r.instance.Name),
		zap.String("address", r.instance.Address),
		zap.Int("port", r.instance.Port))
	return nil
}

func (r *consulRegistrar) Deregister() error {
	if err := r.client.Agent().ServiceDeregister(r.instance.ID); err != nil {
		return fmt.Errorf("failed to deregister from consul: %w", err)
	}
	r.logger.Info("service deregistered from consul", zap.String("service_id", r.instance.ID))
	return nil
}
