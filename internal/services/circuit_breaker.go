package services

import (
	"sync"
	"time"
)

// CircuitBreakerState 熔断器状态
type CircuitBreakerState int32

const (
	StateClosed CircuitBreakerState = iota
	StateOpen
	StateHalfOpen
)

// String 返回状态字符串
func (s CircuitBreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreaker 熔断器
//
// closed下连续失败达到阈值转open；open经过timeout后放行试探请求转
// half-open；half-open连续成功达到阈值转closed，任一失败回到open。
type CircuitBreaker struct {
	name string

	failureThreshold int
	successThreshold int
	timeout          time.Duration

	mutex           sync.Mutex
	state           CircuitBreakerState
	failureCount    int
	successCount    int
	lastFailureTime time.Time
}

// NewCircuitBreaker 创建熔断器
func NewCircuitBreaker(name string, failureThreshold, successThreshold int, timeout time.Duration) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if successThreshold <= 0 {
		successThreshold = 3
	}
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &CircuitBreaker{
		name:             name,
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		timeout:          timeout,
		state:            StateClosed,
	}
}

// Call 执行函数调用（带熔断保护）
func (cb *CircuitBreaker) Call(fn func() error) error {
	if !cb.canExecute() {
		return &CircuitBreakerError{
			Name:  cb.name,
			State: cb.GetState(),
			Err:   errCircuitOpen,
		}
	}

	err := fn()
	cb.recordResult(err == nil)

	if err != nil {
		return &CircuitBreakerError{
			Name:  cb.name,
			State: cb.GetState(),
			Err:   err,
		}
	}
	return nil
}

// canExecute 检查是否可以执行请求，open超时后转half-open
func (cb *CircuitBreaker) canExecute() bool {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	switch cb.state {
	case StateClosed, StateHalfOpen:
		return true
	case StateOpen:
		if time.Since(cb.lastFailureTime) >= cb.timeout {
			cb.state = StateHalfOpen
			cb.successCount = 0
			return true
		}
		return false
	default:
		return false
	}
}

// recordResult 记录执行结果并推进状态机
func (cb *CircuitBreaker) recordResult(success bool) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	if success {
		switch cb.state {
		case StateHalfOpen:
			cb.successCount++
			if cb.successCount >= cb.successThreshold {
				cb.state = StateClosed
				cb.failureCount = 0
			}
		case StateClosed:
			cb.failureCount = 0
		}
		return
	}

	cb.lastFailureTime = time.Now()
	switch cb.state {
	case StateHalfOpen:
		cb.state = StateOpen
		cb.successCount = 0
	case StateClosed:
		cb.failureCount++
		if cb.failureCount >= cb.failureThreshold {
			cb.state = StateOpen
		}
	}
}

// GetState 获取当前状态
func (cb *CircuitBreaker) GetState() CircuitBreakerState {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.state
}

// GetStats 获取统计信息
func (cb *CircuitBreaker) GetStats() map[string]interface{} {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	return map[string]interface{}{
		"name":              cb.name,
		"state":             cb.state.String(),
		"failure_count":     cb.failureCount,
		"success_count":     cb.successCount,
		"failure_threshold": cb.failureThreshold,
		"success_threshold": cb.successThreshold,
		"timeout":           cb.timeout.String(),
		"last_failure_time": cb.lastFailureTime,
	}
}

// CircuitBreakerError 熔断器错误
type CircuitBreakerError struct {
	Name  string
	State CircuitBreakerState
	Err   error
}

func (e *CircuitBreakerError) Error() string {
	return e.Err.Error()
}

func (e *CircuitBreakerError) Unwrap() error {
	return e.Err
}

// IsCircuitOpen 检查错误是否为熔断打开导致
func IsCircuitOpen(err error) bool {
	cbErr, ok := err.(*CircuitBreakerError)
	return ok && cbErr.Err == errCircuitOpen
}

var errCircuitOpen = &CircuitOpenError{}

// CircuitOpenError 熔断器打开错误
type CircuitOpenError struct{}

func (e *CircuitOpenError) Error() string {
	return "circuit breaker is open"
}

// 全局熔断器注册表，供指标端点汇总
var (
	globalCircuitBreakers = make(map[string]*CircuitBreaker)
	circuitBreakerMutex   sync.RWMutex
)

// GetCircuitBreaker 获取或创建全局熔断器
func GetCircuitBreaker(name string) *CircuitBreaker {
	circuitBreakerMutex.RLock()
	cb, exists := globalCircuitBreakers[name]
	circuitBreakerMutex.RUnlock()
	if exists {
		return cb
	}

	circuitBreakerMutex.Lock()
	defer circuitBreakerMutex.Unlock()
	if cb, exists = globalCircuitBreakers[name]; exists {
		return cb
	}
	cb = NewCircuitBreaker(name, 5, 3, time.Minute)
	globalCircuitBreakers[name] = cb
	return cb
}

// AllCircuitBreakerStats 汇总所有熔断器统计
func AllCircuitBreakerStats() []map[string]interface{} {
	circuitBreakerMutex.RLock()
	defer circuitBreakerMutex.RUnlock()

	stats := make([]map[string]interface{}, 0, len(globalCircuitBreakers))
	for _, cb := range globalCircuitBreakers {
		stats = append(stats, cb.GetStats())
	}
	return stats
}
