package guardrails

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var verdictCounter = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "assistant_guardrail_verdicts_total",
		Help: "Total number of guardrail verdicts by stage, decision and category",
	},
	[]string{"stage", "decision", "category"},
)

// RuleProvider 提供当前生效的规则集
type RuleProvider interface {
	Active() *CompiledRuleSet
}

// Engine 护栏引擎
// 检查按配置顺序执行，第一个拦截者胜出并短路后续检查
type Engine struct {
	provider RuleProvider
	logger   *zap.Logger
}

// NewEngine 创建护栏引擎
func NewEngine(provider RuleProvider, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		provider: provider,
		logger:   logger,
	}
}

// Snapshot 获取当前规则集快照
// 每个请求取一次快照，确保同一请求的前后置检查使用同一套规则
func (e *Engine) Snapshot() *Snapshot {
	return &Snapshot{
		rules:  e.provider.Active(),
		logger: e.logger,
	}
}

// PreCheck 便捷入口：对文本执行一次前置检查
func (e *Engine) PreCheck(text string) Verdict {
	return e.Snapshot().PreCheck(text)
}

// PostCheck 便捷入口：对文本执行一次后置检查
func (e *Engine) PostCheck(text string) Verdict {
	return e.Snapshot().PostCheck(text)
}

// FallbackResponse 便捷入口：按类别取预设回答
func (e *Engine) FallbackResponse(category string) string {
	return e.Snapshot().FallbackResponse(category)
}

// Snapshot 单个请求期间不变的规则集视图
type Snapshot struct {
	rules  *CompiledRuleSet
	logger *zap.Logger
}

// PreCheck 执行前置检查，第一个拦截者胜出
func (s *Snapshot) PreCheck(text string) Verdict {
	return s.run("pre", s.checks(true), text)
}

// PostCheck 执行后置检查，第一个拦截者胜出
func (s *Snapshot) PostCheck(text string) Verdict {
	return s.run("post", s.checks(false), text)
}

// FallbackResponse 按类别取预设回答
func (s *Snapshot) FallbackResponse(category string) string {
	if s.rules == nil {
		return defaultFallbackResponse
	}
	return s.rules.FallbackResponse(category)
}

func (s *Snapshot) checks(pre bool) []Check {
	if s.rules == nil {
		return nil
	}
	if pre {
		return s.rules.PreChecks()
	}
	return s.rules.PostChecks()
}

func (s *Snapshot) run(stage string, checks []Check, text string) Verdict {
	for _, check := range checks {
		verdict := check.Inspect(text)
		if verdict.Decision == DecisionAllow {
			continue
		}

		verdictCounter.WithLabelValues(stage, verdict.Decision.String(), verdict.Category).Inc()
		s.logger.Warn("guardrail verdict",
			zap.String("stage", stage),
			zap.String("check", verdict.Check),
			zap.String("decision", verdict.Decision.String()),
			zap.String("category", verdict.Category),
			zap.String("reason", verdict.Reason))
		return verdict
	}

	verdictCounter.WithLabelValues(stage, DecisionAllow.String(), "none").Inc()
	return Allowed
}
