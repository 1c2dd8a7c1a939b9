package guardrails

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aihub/assistant-go/internal/errors"
)

const validRulesYAML = `
version: 1
checks:
  pre:
    - blocklist
    - injection_heuristic
  post:
    - output_sanity
    - blocklist
blocklist:
  - category: pii
    patterns:
      - '\b\d{3}-\d{2}-\d{4}\b'
  - category: toxic_language
    keywords:
      - "shut up"
fallback_responses:
  default: "I'm sorry, but I can't help with that request."
  pii: "I can't process personal identifiers."
  backend_unreachable: "The assistant is temporarily unavailable."
`

func writeRuleFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "guardrails.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRuleLoaderLoad(t *testing.T) {
	path := writeRuleFile(t, validRulesYAML)
	loader := NewRuleLoader(path, zap.NewNop())

	rules, err := loader.Load()
	require.NoError(t, err)
	require.NotNil(t, rules)

	assert.Equal(t, 1, rules.Version)
	require.Len(t, rules.PreChecks(), 2)
	assert.Equal(t, "blocklist", rules.PreChecks()[0].Name())
	assert.Equal(t, "injection_heuristic", rules.PreChecks()[1].Name())
	require.Len(t, rules.PostChecks(), 2)
	assert.Equal(t, "output_sanity", rules.PostChecks()[0].Name())

	assert.Equal(t, "I can't process personal identifiers.", rules.FallbackResponse("pii"))
	assert.Equal(t, "The assistant is temporarily unavailable.", rules.FallbackResponse("backend_unreachable"))
	// 未配置的类别退回default
	assert.Equal(t, "I'm sorry, but I can't help with that request.", rules.FallbackResponse("unknown_category"))

	assert.Same(t, rules, loader.Active())
}

func TestRuleLoaderMissingFile(t *testing.T) {
	loader := NewRuleLoader(filepath.Join(t.TempDir(), "absent.yaml"), zap.NewNop())

	_, err := loader.Load()
	require.Error(t, err)
	assert.True(t, errors.IsConfiguration(err))
}

func TestRuleLoaderInvalidYAML(t *testing.T) {
	path := writeRuleFile(t, "checks: [not: valid: yaml")
	loader := NewRuleLoader(path, zap.NewNop())

	_, err := loader.Load()
	require.Error(t, err)
	assert.True(t, errors.IsConfiguration(err))
}

func TestRuleLoaderValidationFailure(t *testing.T) {
	// 缺少blocklist和fallback_responses
	path := writeRuleFile(t, `
version: 1
checks:
  pre: [blocklist]
  post: [output_sanity]
`)
	loader := NewRuleLoader(path, zap.NewNop())

	_, err := loader.Load()
	require.Error(t, err)
	assert.True(t, errors.IsConfiguration(err))
}

func TestRuleLoaderUnknownCheckName(t *testing.T) {
	path := writeRuleFile(t, `
version: 1
checks:
  pre: [blocklist, custom_plugin_check]
  post: [output_sanity]
blocklist:
  - category: pii
    patterns: ['\d+']
fallback_responses:
  default: "no"
`)
	loader := NewRuleLoader(path, zap.NewNop())

	_, err := loader.Load()
	require.Error(t, err)
	assert.True(t, errors.IsConfiguration(err))
	assert.Contains(t, err.Error(), "custom_plugin_check")
}

func TestRuleLoaderInvalidRegex(t *testing.T) {
	path := writeRuleFile(t, `
version: 1
checks:
  pre: [blocklist]
  post: [output_sanity]
blocklist:
  - category: broken
    patterns: ['(']
fallback_responses:
  default: "no"
`)
	loader := NewRuleLoader(path, zap.NewNop())

	_, err := loader.Load()
	require.Error(t, err)
	assert.True(t, errors.IsConfiguration(err))
}

func TestRuleLoaderManualReload(t *testing.T) {
	path := writeRuleFile(t, validRulesYAML)
	loader := NewRuleLoader(path, zap.NewNop())

	first, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, 1, first.Version)

	updated := `
version: 2
checks:
  pre: [blocklist]
  post: [output_sanity]
blocklist:
  - category: pii
    patterns: ['\b\d{3}-\d{2}-\d{4}\b']
fallback_responses:
  default: "updated response"
`
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o644))
	require.NoError(t, loader.Reload())

	active := loader.Active()
	assert.Equal(t, 2, active.Version)
	assert.Equal(t, "updated response", active.FallbackResponse("anything"))
	// 旧快照不受影响
	assert.Equal(t, 1, first.Version)
}

// 重载失败保留旧规则集
func TestRuleLoaderReloadFailureKeepsOldRules(t *testing.T) {
	path := writeRuleFile(t, validRulesYAML)
	loader := NewRuleLoader(path, zap.NewNop())

	first, err := loader.Load()
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("version: [broken"), 0o644))
	require.Error(t, loader.Reload())

	assert.Same(t, first, loader.Active())
}

func TestRuleLoaderHotReload(t *testing.T) {
	path := writeRuleFile(t, validRulesYAML)
	loader := NewRuleLoader(path, zap.NewNop())

	_, err := loader.Load()
	require.NoError(t, err)
	require.NoError(t, loader.StartWatching())

	// 重复启动监听应报错
	require.Error(t, loader.StartWatching())

	updated := `
version: 3
checks:
  pre: [injection_heuristic]
  post: [output_sanity]
blocklist:
  - category: pii
    patterns: ['\b\d{3}-\d{2}-\d{4}\b']
fallback_responses:
  default: "hot reloaded"
`
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o644))

	assert.Eventually(t, func() bool {
		return loader.Active().Version == 3
	}, 3*time.Second, 50*time.Millisecond, "rule set should be swapped after file change")
}
