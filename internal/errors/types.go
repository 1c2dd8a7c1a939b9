package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode 错误码类型
type ErrorCode string

// 预定义错误码
const (
	// 通用错误
	ErrCodeInternalServer  ErrorCode = "INTERNAL_SERVER_ERROR"
	ErrCodeBadRequest      ErrorCode = "BAD_REQUEST"
	ErrCodeNotFound        ErrorCode = "NOT_FOUND"
	ErrCodeConflict        ErrorCode = "CONFLICT"
	ErrCodeTooManyRequests ErrorCode = "TOO_MANY_REQUESTS"

	// 验证错误
	ErrCodeValidationFailed ErrorCode = "VALIDATION_FAILED"
	ErrCodeInvalidInput     ErrorCode = "INVALID_INPUT"
	ErrCodeEmptyInput       ErrorCode = "EMPTY_INPUT"

	// 业务逻辑错误
	ErrCodeResourceNotFound ErrorCode = "RESOURCE_NOT_FOUND"
	ErrCodeOperationFailed  ErrorCode = "OPERATION_FAILED"
	ErrCodeInvalidState     ErrorCode = "INVALID_STATE"

	// 流水线错误
	ErrCodeConfiguration     ErrorCode = "CONFIGURATION_ERROR"
	ErrCodeDimensionMismatch ErrorCode = "DIMENSION_MISMATCH"
	ErrCodeGuardrailBlock    ErrorCode = "GUARDRAIL_BLOCK"

	// 数据库错误
	ErrCodeDatabaseError    ErrorCode = "DATABASE_ERROR"
	ErrCodeConnectionFailed ErrorCode = "CONNECTION_FAILED"

	// 外部服务错误
	ErrCodeBackendUnavailable ErrorCode = "BACKEND_UNAVAILABLE"
	ErrCodeExternalService    ErrorCode = "EXTERNAL_SERVICE_ERROR"
	ErrCodeTimeout            ErrorCode = "TIMEOUT"

	// 文件处理错误
	ErrCodeFileTooLarge      ErrorCode = "FILE_TOO_LARGE"
	ErrCodeInvalidFileFormat ErrorCode = "INVALID_FILE_FORMAT"
	ErrCodeUploadFailed      ErrorCode = "UPLOAD_FAILED"
)

// ErrorType 错误类型
type ErrorType int

const (
	ErrorTypeSystem ErrorType = iota
	ErrorTypeBusiness
	ErrorTypeValidation
	ErrorTypeExternal
)

// AppError 应用错误结构体
type AppError struct {
	Code      ErrorCode   `json:"code"`
	Message   string      `json:"message"`
	Type      ErrorType   `json:"type"`
	HTTPCode  int         `json:"-"`
	Details   interface{} `json:"details,omitempty"`
	Cause     error       `json:"-"`
	RequestID string      `json:"-"`
}

// Error 实现error接口
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap 返回底层错误
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithDetails 添加错误详情
func (e *AppError) WithDetails(details interface{}) *AppError {
	e.Details = details
	return e
}

// WithCause 添加错误原因
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// WithRequestID 添加请求ID
func (e *AppError) WithRequestID(requestID string) *AppError {
	e.RequestID = requestID
	return e
}

// 错误构造函数

// NewSystemError 创建系统错误
func NewSystemError(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:     code,
		Message:  message,
		Type:     ErrorTypeSystem,
		HTTPCode: http.StatusInternalServerError,
	}
}

// NewBusinessError 创建业务错误
func NewBusinessError(code ErrorCode, message string) *AppError {
	httpCode := getHTTPCodeForError(code)
	return &AppError{
		Code:     code,
		Message:  message,
		Type:     ErrorTypeBusiness,
		HTTPCode: httpCode,
	}
}

// NewValidationError 创建验证错误
func NewValidationError(message string) *AppError {
	return &AppError{
		Code:     ErrCodeValidationFailed,
		Message:  message,
		Type:     ErrorTypeValidation,
		HTTPCode: http.StatusBadRequest,
	}
}

// NewNotFoundError 创建资源未找到错误
func NewNotFoundError(resource string) *AppError {
	return &AppError{
		Code:     ErrCodeResourceNotFound,
		Message:  fmt.Sprintf("%s not found", resource),
		Type:     ErrorTypeBusiness,
		HTTPCode: http.StatusNotFound,
	}
}

// NewInvalidInputError 创建输入无效错误
func NewInvalidInputError(field, reason string) *AppError {
	return &AppError{
		Code:     ErrCodeInvalidInput,
		Message:  fmt.Sprintf("Invalid input for field '%s': %s", field, reason),
		Type:     ErrorTypeValidation,
		HTTPCode: http.StatusBadRequest,
	}
}

// NewEmptyInputError 创建空输入错误
func NewEmptyInputError(field string) *AppError {
	return &AppError{
		Code:     ErrCodeEmptyInput,
		Message:  fmt.Sprintf("Input '%s' must not be empty or whitespace-only", field),
		Type:     ErrorTypeValidation,
		HTTPCode: http.StatusBadRequest,
	}
}

// NewConfigurationError 创建配置错误
func NewConfigurationError(component, reason string) *AppError {
	return &AppError{
		Code:     ErrCodeConfiguration,
		Message:  fmt.Sprintf("Invalid configuration for %s: %s", component, reason),
		Type:     ErrorTypeSystem,
		HTTPCode: http.StatusInternalServerError,
	}
}

// NewBackendUnavailableError 创建后端不可用错误
func NewBackendUnavailableError(backend string, cause error) *AppError {
	return &AppError{
		Code:     ErrCodeBackendUnavailable,
		Message:  fmt.Sprintf("Backend '%s' is unreachable", backend),
		Type:     ErrorTypeExternal,
		HTTPCode: http.StatusServiceUnavailable,
		Cause:    cause,
	}
}

// NewDimensionMismatchError 创建向量维度不匹配错误
func NewDimensionMismatchError(expected, actual int) *AppError {
	return &AppError{
		Code:     ErrCodeDimensionMismatch,
		Message:  fmt.Sprintf("Vector dimension mismatch: expected %d, got %d", expected, actual),
		Type:     ErrorTypeValidation,
		HTTPCode: http.StatusInternalServerError,
	}
}

// NewGuardrailBlockError 创建护栏拦截错误
func NewGuardrailBlockError(category, reason string) *AppError {
	return &AppError{
		Code:     ErrCodeGuardrailBlock,
		Message:  fmt.Sprintf("Request blocked by guardrail policy (%s): %s", category, reason),
		Type:     ErrorTypeBusiness,
		HTTPCode: http.StatusUnprocessableEntity,
		Details:  map[string]string{"category": category, "reason": reason},
	}
}

// getHTTPCodeForError 根据错误码获取HTTP状态码
func getHTTPCodeForError(code ErrorCode) int {
	switch code {
	case ErrCodeResourceNotFound:
		return http.StatusNotFound
	case ErrCodeConflict:
		return http.StatusConflict
	case ErrCodeTooManyRequests:
		return http.StatusTooManyRequests
	case ErrCodeValidationFailed, ErrCodeInvalidInput, ErrCodeEmptyInput:
		return http.StatusBadRequest
	case ErrCodeGuardrailBlock:
		return http.StatusUnprocessableEntity
	case ErrCodeBackendUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// IsAppError 检查是否为AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr)
}

// GetAppError 获取AppError，如果不是则包装为系统错误
func GetAppError(err error) *AppError {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}

	return NewSystemError(ErrCodeInternalServer, "Internal server error").WithCause(err)
}

// HasCode 检查错误链中是否包含指定错误码
func HasCode(err error, code ErrorCode) bool {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// IsBackendUnavailable 检查是否为后端不可用错误
func IsBackendUnavailable(err error) bool {
	return HasCode(err, ErrCodeBackendUnavailable)
}

// IsGuardrailBlock 检查是否为护栏拦截错误
func IsGuardrailBlock(err error) bool {
	return HasCode(err, ErrCodeGuardrailBlock)
}

// IsEmptyInput 检查是否为空输入错误
func IsEmptyInput(err error) bool {
	return HasCode(err, ErrCodeEmptyInput)
}

// IsDimensionMismatch 检查是否为维度不匹配错误
func IsDimensionMismatch(err error) bool {
	return HasCode(err, ErrCodeDimensionMismatch)
}

// IsConfiguration 检查是否为配置错误
func IsConfiguration(err error) bool {
	return HasCode(err, ErrCodeConfiguration)
}
