package ruleset

import (
	"fmt"
	"iter"
	"slices"
	"strings"

	"github.com/John-Robertt/radextract/internal/domain"
)

// DuplicateFieldError 表示两条规则使用了同一个字段名（配置错误，立即失败）。
type DuplicateFieldError struct {
	Name string
}

func (e *DuplicateFieldError) Error() string {
	return fmt.Sprintf("重复的字段名：%q", e.Name)
}

// Ruleset 是有序、字段名唯一、构造后只读的规则集合。
//
// 声明顺序决定：输出字段顺序；以及同一段文本被多个字段争用时谁先占用。
type Ruleset struct {
	rules  []domain.FieldRule
	byName map[string]int
}

// New 校验并构造 Ruleset。规则按传入顺序保存。
func New(rules ...domain.FieldRule) (Ruleset, error) {
	byName := make(map[string]int, len(rules))
	out := make([]domain.FieldRule, 0, len(rules))
	for _, r := range rules {
		r.Name = strings.TrimSpace(r.Name)
		if r.Name == "" {
			return Ruleset{}, fmt.Errorf("规则缺少字段名")
		}
		if _, ok := byName[r.Name]; ok {
			return Ruleset{}, &DuplicateFieldError{Name: r.Name}
		}
		if r.Pattern == nil {
			return Ruleset{}, fmt.Errorf("字段 %q 缺少 pattern", r.Name)
		}
		vt, err := domain.ParseValueType(string(r.Type))
		if err != nil {
			return Ruleset{}, fmt.Errorf("字段 %q：%w", r.Name, err)
		}
		r.Type = vt
		mul, err := domain.ParseMultiplicity(string(r.Multiplicity))
		if err != nil {
			return Ruleset{}, fmt.Errorf("字段 %q：%w", r.Name, err)
		}
		r.Multiplicity = mul
		if r.Type == domain.TypeEnum && len(r.Enum) == 0 {
			return Ruleset{}, fmt.Errorf("字段 %q 的 type=enum 但未提供 enum 取值", r.Name)
		}
		for alias, canonical := range r.Aliases {
			if !slices.Contains(r.Enum, canonical) {
				return Ruleset{}, fmt.Errorf("字段 %q 的别名 %q 指向不存在的取值 %q", r.Name, alias, canonical)
			}
		}
		r.Enum = append([]string(nil), r.Enum...)
		r.Layouts = append([]string(nil), r.Layouts...)
		if r.Aliases != nil {
			aliases := make(map[string]string, len(r.Aliases))
			for k, v := range r.Aliases {
				aliases[k] = v
			}
			r.Aliases = aliases
		}

		byName[r.Name] = len(out)
		out = append(out, r)
	}
	return Ruleset{rules: out, byName: byName}, nil
}

func (s Ruleset) Len() int { return len(s.rules) }

// Rules 返回规则副本（声明顺序）。
func (s Ruleset) Rules() []domain.FieldRule {
	return append([]domain.FieldRule(nil), s.rules...)
}

// All 按声明顺序迭代规则。
func (s Ruleset) All() iter.Seq2[int, domain.FieldRule] {
	return func(yield func(int, domain.FieldRule) bool) {
		for i, r := range s.rules {
			if !yield(i, r) {
				return
			}
		}
	}
}

func (s Ruleset) Lookup(name string) (domain.FieldRule, bool) {
	if s.byName == nil {
		return domain.FieldRule{}, false
	}
	i, ok := s.byName[strings.TrimSpace(name)]
	if !ok {
		return domain.FieldRule{}, false
	}
	return s.rules[i], true
}

// Required 返回所有必填字段名（声明顺序）。
func (s Ruleset) Required() []string {
	var out []string
	for _, r := range s.rules {
		if r.Required {
			out = append(out, r.Name)
		}
	}
	return out
}

// Names 返回全部字段名（声明顺序），供表格输出生成列。
func (s Ruleset) Names() []string {
	out := make([]string, 0, len(s.rules))
	for _, r := range s.rules {
		out = append(out, r.Name)
	}
	return out
}
