package guardrails

// Decision 护栏裁决结果
type Decision int

const (
	// DecisionAllow 放行
	DecisionAllow Decision = iota
	// DecisionBlock 拦截，按类别返回安全提示
	DecisionBlock
	// DecisionFallback 降级，替换为预设回答
	DecisionFallback
)

func (d Decision) String() string {
	switch d {
	case DecisionBlock:
		return "block"
	case DecisionFallback:
		return "fallback"
	default:
		return "allow"
	}
}

// Verdict 单次检查的裁决
// Reason仅用于日志，对外只暴露Category
type Verdict struct {
	Decision Decision
	Category string
	Reason   string
	Check    string
}

// Allowed 放行裁决
var Allowed = Verdict{Decision: DecisionAllow}

// Blocked 构造拦截裁决
func Blocked(check, category, reason string) Verdict {
	return Verdict{
		Decision: DecisionBlock,
		Category: category,
		Reason:   reason,
		Check:    check,
	}
}

// Check 内容检查接口
// 检查集合是封闭的：全部实现都在本包内，不支持运行时注册
type Check interface {
	Name() string
	Inspect(text string) Verdict
}
