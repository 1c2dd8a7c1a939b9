package errors

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// promauto指标在进程内只能注册一次，测试共用同一个监控器实例
var testMonitor = NewErrorMonitor()

func TestGetErrorTypeString(t *testing.T) {
	assert.Equal(t, "system", getErrorTypeString(ErrorTypeSystem))
	assert.Equal(t, "business", getErrorTypeString(ErrorTypeBusiness))
	assert.Equal(t, "validation", getErrorTypeString(ErrorTypeValidation))
	assert.Equal(t, "external", getErrorTypeString(ErrorTypeExternal))
	assert.Equal(t, "unknown", getErrorTypeString(ErrorType(99)))
}

func TestMonitorRecordError(t *testing.T) {
	testMonitor.Reset()

	appErr := NewBackendUnavailableError("inference", nil)
	testMonitor.RecordError(context.Background(), appErr, "/api/assistant/query", 20*time.Millisecond)
	testMonitor.RecordError(context.Background(), appErr, "/api/assistant/query", 40*time.Millisecond)

	stats := testMonitor.GetStats()
	key := string(appErr.Code) + ":/api/assistant/query"
	entry, ok := stats[key]
	require.True(t, ok)
	assert.Equal(t, int64(2), entry.Count)
	assert.Equal(t, "external", entry.Type)
}

func TestMonitorRecordNilError(t *testing.T) {
	testMonitor.Reset()

	testMonitor.RecordError(context.Background(), nil, "/health", 0)
	assert.Empty(t, testMonitor.GetStats())
}
