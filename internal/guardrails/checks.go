package guardrails

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	checkNameBlocklist = "blocklist"
	checkNameInjection = "injection_heuristic"
	checkNameOutput    = "output_sanity"

	categoryPromptInjection = "prompt_injection"
	categoryOutputSanity    = "output_sanity"
)

type compiledBlocklistRule struct {
	category string
	patterns []*regexp.Regexp
	keywords []string
}

// BlocklistCheck 按类别匹配正则与关键词的拦截检查
type BlocklistCheck struct {
	rules []compiledBlocklistRule
}

// NewBlocklistCheck 编译规则文件中的blocklist配置
func NewBlocklistCheck(rules []BlocklistRule) (*BlocklistCheck, error) {
	compiled := make([]compiledBlocklistRule, 0, len(rules))
	for _, rule := range rules {
		item := compiledBlocklistRule{category: rule.Category}
		for _, pattern := range rule.Patterns {
			re, err := regexp.Compile(pattern)
			if err != nil {
				return nil, fmt.Errorf("category %s pattern %q: %w", rule.Category, pattern, err)
			}
			item.patterns = append(item.patterns, re)
		}
		for _, keyword := range rule.Keywords {
			keyword = strings.ToLower(strings.TrimSpace(keyword))
			if keyword != "" {
				item.keywords = append(item.keywords, keyword)
			}
		}
		compiled = append(compiled, item)
	}
	return &BlocklistCheck{rules: compiled}, nil
}

func (c *BlocklistCheck) Name() string {
	return checkNameBlocklist
}

func (c *BlocklistCheck) Inspect(text string) Verdict {
	lowered := strings.ToLower(text)
	for _, rule := range c.rules {
		for _, re := range rule.patterns {
			if re.MatchString(text) {
				return Blocked(c.Name(), rule.category, "matched blocked pattern")
			}
		}
		for _, keyword := range rule.keywords {
			if strings.Contains(lowered, keyword) {
				return Blocked(c.Name(), rule.category, "matched blocked keyword")
			}
		}
	}
	return Allowed
}

// 指令覆盖式注入的内建启发式特征
var builtinInjectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore\s+(all\s+|any\s+)?(previous|prior|above|earlier)\s+instructions`),
	regexp.MustCompile(`(?i)disregard\s+.{0,30}(instructions|rules|guidelines)`),
	regexp.MustCompile(`(?i)forget\s+(all\s+)?(previous|prior|your)\s+(instructions|rules|training)`),
	regexp.MustCompile(`(?i)system\s+prompt`),
	regexp.MustCompile(`(?i)reveal\s+.{0,30}(prompt|instructions|rules)`),
	regexp.MustCompile(`(?i)you\s+are\s+now\s+(a|an|in)\b`),
	regexp.MustCompile(`(?i)pretend\s+(that\s+)?you\s+(are|have)\b`),
	regexp.MustCompile(`(?i)respond\s+without\s+(any\s+)?(restrictions|filters|guardrails)`),
}

// InjectionHeuristicCheck 检测查询或检索上下文中的指令覆盖企图
// 在组装后的prompt检查点执行，覆盖被污染文档带入的注入内容
type InjectionHeuristicCheck struct {
	patterns []*regexp.Regexp
}

// NewInjectionHeuristicCheck 组合内建特征与规则文件的补充模式
func NewInjectionHeuristicCheck(extraPatterns []string) (*InjectionHeuristicCheck, error) {
	patterns := make([]*regexp.Regexp, 0, len(builtinInjectionPatterns)+len(extraPatterns))
	patterns = append(patterns, builtinInjectionPatterns...)
	for _, pattern := range extraPatterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("injection pattern %q: %w", pattern, err)
		}
		patterns = append(patterns, re)
	}
	return &InjectionHeuristicCheck{patterns: patterns}, nil
}

func (c *InjectionHeuristicCheck) Name() string {
	return checkNameInjection
}

func (c *InjectionHeuristicCheck) Inspect(text string) Verdict {
	for _, re := range c.patterns {
		if re.MatchString(text) {
			return Blocked(c.Name(), categoryPromptInjection, "instruction override attempt")
		}
	}
	return Allowed
}

// OutputSanityCheck 拒绝空的或编码损坏的模型输出，仅用于后置检查
type OutputSanityCheck struct{}

// NewOutputSanityCheck 创建输出合法性检查
func NewOutputSanityCheck() *OutputSanityCheck {
	return &OutputSanityCheck{}
}

func (c *OutputSanityCheck) Name() string {
	return checkNameOutput
}

func (c *OutputSanityCheck) Inspect(text string) Verdict {
	if strings.TrimSpace(text) == "" {
		return Blocked(c.Name(), categoryOutputSanity, "empty model output")
	}
	if !utf8.ValidString(text) {
		return Blocked(c.Name(), categoryOutputSanity, "output is not valid UTF-8")
	}
	return Allowed
}

// 模型输出中常见的免责声明套话，放行前从答案中剥离
var builtinDisclaimerPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)as an AI language model[,，]?\s*`),
	regexp.MustCompile(`(?i)I cannot answer that[.。]?\s*`),
	regexp.MustCompile(`(?i)I don't have personal opinions[,，.。]?\s*`),
}

// SanitizeAnswer 剥离模型答案中的免责声明并去掉首尾空白
func SanitizeAnswer(text string) string {
	for _, re := range builtinDisclaimerPatterns {
		text = re.ReplaceAllString(text, "")
	}
	return strings.TrimSpace(text)
}
