package guardrails

import (
	"fmt"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/aihub/assistant-go/internal/errors"
)

// 任何类别都没有配置预设回答时的最终兜底
const defaultFallbackResponse = "I'm sorry, but I can't help with that request."

// BlocklistRule 规则文件中的单个拦截类别
type BlocklistRule struct {
	Category    string   `mapstructure:"category" validate:"required"`
	Description string   `mapstructure:"description"`
	Patterns    []string `mapstructure:"patterns"`
	Keywords    []string `mapstructure:"keywords"`
}

// CheckOrder 各检查点启用的检查及其优先级顺序
type CheckOrder struct {
	Pre  []string `mapstructure:"pre" validate:"required,min=1"`
	Post []string `mapstructure:"post" validate:"required,min=1"`
}

// InjectionRules 注入启发式的补充模式
type InjectionRules struct {
	Patterns []string `mapstructure:"patterns"`
}

// RuleFile 护栏规则文件的YAML结构
type RuleFile struct {
	Version           int               `mapstructure:"version" validate:"required,gte=1"`
	Checks            CheckOrder        `mapstructure:"checks" validate:"required"`
	Blocklist         []BlocklistRule   `mapstructure:"blocklist" validate:"required,min=1,dive"`
	Injection         InjectionRules    `mapstructure:"injection"`
	FallbackResponses map[string]string `mapstructure:"fallback_responses" validate:"required,min=1"`
}

// CompiledRuleSet 编译后的规则集，加载成功后只读
type CompiledRuleSet struct {
	Version    int
	preChecks  []Check
	postChecks []Check
	fallbacks  map[string]string
}

// PreChecks 前置检查点按优先级排列的检查
func (rs *CompiledRuleSet) PreChecks() []Check {
	return rs.preChecks
}

// PostChecks 后置检查点按优先级排列的检查
func (rs *CompiledRuleSet) PostChecks() []Check {
	return rs.postChecks
}

// FallbackResponse 按类别返回预设回答，未配置时退回default再退回内建兜底
func (rs *CompiledRuleSet) FallbackResponse(category string) string {
	if response, ok := rs.fallbacks[category]; ok && response != "" {
		return response
	}
	if response, ok := rs.fallbacks["default"]; ok && response != "" {
		return response
	}
	return defaultFallbackResponse
}

// compileRuleFile 解析并编译规则文件，未知检查名视为配置错误
func compileRuleFile(file *RuleFile) (*CompiledRuleSet, error) {
	blocklist, err := NewBlocklistCheck(file.Blocklist)
	if err != nil {
		return nil, err
	}
	injection, err := NewInjectionHeuristicCheck(file.Injection.Patterns)
	if err != nil {
		return nil, err
	}
	output := NewOutputSanityCheck()

	available := map[string]Check{
		checkNameBlocklist: blocklist,
		checkNameInjection: injection,
		checkNameOutput:    output,
	}

	resolve := func(names []string, stage string) ([]Check, error) {
		checks := make([]Check, 0, len(names))
		for _, name := range names {
			check, ok := available[name]
			if !ok {
				return nil, fmt.Errorf("unknown check %q in %s stage", name, stage)
			}
			checks = append(checks, check)
		}
		return checks, nil
	}

	pre, err := resolve(file.Checks.Pre, "pre")
	if err != nil {
		return nil, err
	}
	post, err := resolve(file.Checks.Post, "post")
	if err != nil {
		return nil, err
	}

	fallbacks := make(map[string]string, len(file.FallbackResponses))
	for category, response := range file.FallbackResponses {
		fallbacks[category] = response
	}

	return &CompiledRuleSet{
		Version:    file.Version,
		preChecks:  pre,
		postChecks: post,
		fallbacks:  fallbacks,
	}, nil
}

// RuleLoader 规则文件加载器，支持fsnotify热更新
// 启动时加载失败直接报配置错误；运行期间重载失败保留旧规则集
type RuleLoader struct {
	viper     *viper.Viper
	validator *validator.Validate
	logger    *zap.Logger
	path      string

	mu       sync.RWMutex
	active   *CompiledRuleSet
	watching bool
}

// NewRuleLoader 创建规则加载器
func NewRuleLoader(path string, logger *zap.Logger) *RuleLoader {
	if logger == nil {
		logger = zap.NewNop()
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	return &RuleLoader{
		viper:     v,
		validator: validator.New(),
		logger:    logger,
		path:      path,
	}
}

// Load 加载并激活规则文件
func (l *RuleLoader) Load() (*CompiledRuleSet, error) {
	compiled, err := l.read()
	if err != nil {
		return nil, errors.NewConfigurationError("guardrails", err.Error())
	}

	l.mu.Lock()
	l.active = compiled
	l.mu.Unlock()

	l.logger.Info("guardrail rules loaded",
		zap.String("path", l.path),
		zap.Int("version", compiled.Version),
		zap.Int("pre_checks", len(compiled.preChecks)),
		zap.Int("post_checks", len(compiled.postChecks)))
	return compiled, nil
}

func (l *RuleLoader) read() (*CompiledRuleSet, error) {
	if err := l.viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read rule file: %w", err)
	}

	var file RuleFile
	if err := l.viper.Unmarshal(&file); err != nil {
		return nil, fmt.Errorf("failed to unmarshal rule file: %w", err)
	}
	if err := l.validator.Struct(&file); err != nil {
		return nil, fmt.Errorf("rule file validation failed: %w", err)
	}

	return compileRuleFile(&file)
}

// StartWatching 开始监听规则文件变化
func (l *RuleLoader) StartWatching() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.watching {
		return fmt.Errorf("rule watcher is already running")
	}

	l.viper.WatchConfig()
	l.viper.OnConfigChange(func(e fsnotify.Event) {
		l.logger.Info("guardrail rule file changed", zap.String("file", e.Name))
		l.handleRuleChange()
	})

	l.watching = true
	l.logger.Info("guardrail rule hot reload enabled", zap.String("path", l.path))
	return nil
}

// handleRuleChange 重载失败时保留旧规则集继续服务
func (l *RuleLoader) handleRuleChange() {
	compiled, err := l.read()
	if err != nil {
		l.logger.Error("guardrail rule reload failed, keeping previous rules", zap.Error(err))
		return
	}

	l.mu.Lock()
	l.active = compiled
	l.mu.Unlock()

	l.logger.Info("guardrail rules reloaded", zap.Int("version", compiled.Version))
}

// Reload 手动重新加载规则
func (l *RuleLoader) Reload() error {
	compiled, err := l.read()
	if err != nil {
		return errors.NewConfigurationError("guardrails", err.Error())
	}

	l.mu.Lock()
	l.active = compiled
	l.mu.Unlock()
	return nil
}

// Active 返回当前生效的规则集指针
// 调用方整个请求期间持有同一个快照，重载只影响后续请求
func (l *RuleLoader) Active() *CompiledRuleSet {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.active
}
