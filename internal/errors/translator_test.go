package errors

import (
	"fmt"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestTranslateNil(t *testing.T) {
	translator := NewErrorTranslator()
	assert.Nil(t, translator.Translate(nil))
}

func TestTranslateRecordNotFound(t *testing.T) {
	translator := NewErrorTranslator()

	appErr := translator.Translate(gorm.ErrRecordNotFound)
	assert.Equal(t, ErrCodeResourceNotFound, appErr.Code)
}

func TestTranslateConnectionRefused(t *testing.T) {
	translator := NewErrorTranslator()

	// 上游推理服务连接失败应归类为后端不可用
	err := fmt.Errorf("Post \"http://localhost:11434/api/generate\": dial tcp: connection refused")
	appErr := translator.Translate(err)
	assert.Equal(t, ErrCodeBackendUnavailable, appErr.Code)
	assert.Equal(t, ErrorTypeExternal, appErr.Type)
}

func TestTranslateDuplicateKey(t *testing.T) {
	translator := NewErrorTranslator()

	err := fmt.Errorf("pq: duplicate key value violates unique constraint \"documents_pkey\"")
	appErr := translator.Translate(err)
	assert.Equal(t, ErrCodeConflict, appErr.Code)
}

func TestTranslateValidationErrors(t *testing.T) {
	translator := NewErrorTranslator()
	validate := validator.New()

	type queryRequest struct {
		Question string `validate:"required"`
		TopK     int    `validate:"gte=1,lte=50"`
	}

	err := validate.Struct(queryRequest{Question: "", TopK: 100})
	require.Error(t, err)

	appErr := translator.Translate(err)
	assert.Equal(t, ErrCodeValidationFailed, appErr.Code)
	assert.NotNil(t, appErr.Details)
}

func TestTranslatePassesThroughAppError(t *testing.T) {
	translator := NewErrorTranslator()

	original := NewGuardrailBlockError("prompt_injection", "matched banned pattern")
	appErr := translator.Translate(fmt.Errorf("pipeline: %w", original))
	assert.Equal(t, original, appErr)
}
