package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPingableMock(t *testing.T) (*HealthChecker, sqlmock.Sqlmock, func()) {
	t.Helper()

	// MonitorPingsOption开启后sqlmock才会拦截Ping调用
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	checker := NewHealthChecker(db, logger)
	return checker, mock, func() { db.Close() }
}

func TestHealthChecker_Basic(t *testing.T) {
	checker, mock, cleanup := newPingableMock(t)
	defer cleanup()

	// 设置mock期望ping成功
	mock.ExpectPing()

	err := checker.Check(context.Background())
	assert.NoError(t, err)
	assert.True(t, checker.IsHealthy())

	result := checker.GetHealthResult()
	assert.True(t, result.Healthy)
	assert.Empty(t, result.LastError)
	assert.False(t, result.LastCheck.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHealthChecker_PingFailure(t *testing.T) {
	checker, mock, cleanup := newPingableMock(t)
	defer cleanup()

	// 设置mock期望ping失败
	mock.ExpectPing().WillReturnError(errors.New("connection refused"))

	err := checker.Check(context.Background())
	assert.Error(t, err)
	assert.False(t, checker.IsHealthy())

	result := checker.GetHealthResult()
	assert.False(t, result.Healthy)
	assert.Contains(t, result.LastError, "connection refused")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHealthChecker_Recovery(t *testing.T) {
	checker, mock, cleanup := newPingableMock(t)
	defer cleanup()

	// 第一次失败，第二次恢复
	mock.ExpectPing().WillReturnError(errors.New("temporary outage"))
	mock.ExpectPing()

	ctx := context.Background()

	require.Error(t, checker.Check(ctx))
	assert.False(t, checker.IsHealthy())

	require.NoError(t, checker.Check(ctx))
	assert.True(t, checker.IsHealthy())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHealthChecker_BackgroundMonitoring(t *testing.T) {
	checker, mock, cleanup := newPingableMock(t)
	defer cleanup()

	// 启动时会立即执行一次检查，间隔设长避免触发后续检查
	mock.ExpectPing()
	checker.SetCheckInterval(time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go checker.Start(ctx)

	// 等待初始检查完成
	assert.Eventually(t, func() bool {
		return checker.IsHealthy()
	}, 2*time.Second, 10*time.Millisecond)

	checker.Stop()
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHealthChecker_WaitForHealthy(t *testing.T) {
	checker, mock, cleanup := newPingableMock(t)
	defer cleanup()

	mock.ExpectPing()
	require.NoError(t, checker.Check(context.Background()))

	// 已经健康时应在首个轮询周期内返回
	err := checker.WaitForHealthy(context.Background(), 3*time.Second)
	assert.NoError(t, err)
}

func TestHealthChecker_WaitForHealthyTimeout(t *testing.T) {
	checker, mock, cleanup := newPingableMock(t)
	defer cleanup()

	// 保持不健康状态
	mock.ExpectPing().WillReturnError(errors.New("down"))
	require.Error(t, checker.Check(context.Background()))

	err := checker.WaitForHealthy(context.Background(), 50*time.Millisecond)
	assert.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestHealthChecker_SetRetryConfig(t *testing.T) {
	checker, _, cleanup := newPingableMock(t)
	defer cleanup()

	checker.SetRetryConfig(100*time.Millisecond, 5)
	checker.SetCheckInterval(10 * time.Second)

	// 配置变更不应影响未启动的检查器
	assert.False(t, checker.IsHealthy())
}
