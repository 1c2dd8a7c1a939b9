package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"

	"github.com/aihub/assistant-go/internal/config"
)

const etcdLeaseTTL = 30

// etcdRegistrar 基于etcd租约的服务注册
// 实例键 /services/{name}/instances/{id}，租约到期自动下线
type etcdRegistrar struct {
	client     *clientv3.Client
	instance   instanceInfo
	serviceKey string
	leaseID    clientv3.LeaseID
	logger     *zap.Logger
}

func newEtcdRegistrar(cfg *config.Config, logger *zap.Logger) (Registrar, error) {
	endpoints := cfg.Etcd.Endpoints
	if len(endpoints) == 0 {
		endpoints = []string{"http://localhost:2379"}
	}

	client, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create etcd client: %w", err)
	}

	statusCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if _, err := client.Status(statusCtx, endpoints[0]); err != nil {
		logger.Warn("etcd unreachable, service registration disabled", zap.Error(err))
		client.Close()
		return &noopRegistrar{}, nil
	}

	instance := buildInstanceInfo(cfg, cfg.Etcd.ServiceID, cfg.Etcd.ServiceName)
	return &etcdRegistrar{
		client:     client,
		instance:   instance,
		serviceKey: fmt.Sprintf("/services/%s/instances/%s", instance.Name, instance.ID),
		logger:     logger,
	}, nil
}

func (r *etcdRegistrar) Register(ctx context.Context) error {
	payload, err := json.Marshal(map[string]interface{}{
		"id":           r.instance.ID,
		"name":         r.instance.Name,
		"address":      r.instance.Address,
		"port":         r.instance.Port,
		"health_check": r.instance.HealthCheck,
		"tags":         r.instance.Tags,
		"meta":         r.instance.Meta,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal instance info: %w", err)
	}

	lease, err := r.client.Grant(ctx, etcdLeaseTTL)
	if err != nil {
		return fmt.Errorf("failed to create lease: %w", err)
	}
	r.leaseID = lease.ID

	if _, err := r.client.Put(ctx, r.serviceKey, string(payload), clientv3.WithLease(lease.ID)); err != nil {
		return fmt.Errorf("failed to register with etcd: %w", err)
	}

	keepAlive, err := r.client.KeepAlive(context.Background(), lease.ID)
	if err != nil {
		return fmt.Errorf("failed to keep lease alive: %w", err)
	}
	go func() {
		for range keepAlive {
		}
		r.logger.Warn("etcd keep-alive channel closed", zap.String("service_id", r.instance.ID))
	}()

	r.logger.Info("service registered with etcd",
		zap.String("service_id", r.instance.ID),
		zap.String("service_name", r.instance.Name),
		zap.String("key", r.serviceKey))
	return nil
}

func (r *etcdRegistrar) Deregister() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if r.leaseID != 0 {
		if _, err := r.client.Revoke(ctx, r.leaseID); err != nil {
			return fmt.Errorf("failed to revoke lease: %w", err)
		}
	} else {
		if _, err := r.client.Delete(ctx, r.serviceKey); err != nil {
			return fmt.Errorf("failed to delete service key: %w", err)
		}
	}

	r.logger.Info("service deregistered from etcd", zap.String("service_id", r.instance.ID))
	return r.client.Close()
}
