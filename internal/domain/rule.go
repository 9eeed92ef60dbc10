package domain

import (
	"fmt"
	"regexp"
)

// ValueType 决定匹配文本被规范化成哪种类型。
type ValueType string

const (
	TypeString ValueType = "string"
	TypeNumber ValueType = "number"
	TypeDate   ValueType = "date"
	TypeEnum   ValueType = "enum"
)

// ParseValueType 解析配置中的 type 字段；空串视为 string。
func ParseValueType(s string) (ValueType, error) {
	switch ValueType(s) {
	case "", TypeString:
		return TypeString, nil
	case TypeNumber, TypeDate, TypeEnum:
		return ValueType(s), nil
	default:
		return "", fmt.Errorf("未知的 type：%q（只能是 string/number/date/enum）", s)
	}
}

// Multiplicity 描述一个字段保留几个匹配。
type Multiplicity string

const (
	Single   Multiplicity = "single"
	Repeated Multiplicity = "repeated"
)

func ParseMultiplicity(s string) (Multiplicity, error) {
	switch Multiplicity(s) {
	case "", Single:
		return Single, nil
	case Repeated:
		return Repeated, nil
	default:
		return "", fmt.Errorf("未知的 multiplicity：%q（只能是 single/repeated）", s)
	}
}

// FieldRule 定义如何从文本中抽取一个字段。
//
// 约束：
// - Name 在 Ruleset 内唯一
// - Pattern 若含命名分组 value，则以该分组作为值文本；否则取第 1 个分组；都没有则取整个匹配
// - Enum/Aliases 仅对 TypeEnum 有意义；Layouts 仅对 TypeDate 有意义
type FieldRule struct {
	Name         string
	Pattern      *regexp.Regexp
	Type         ValueType
	Required     bool
	Multiplicity Multiplicity

	Enum    []string
	Aliases map[string]string // alias -> canonical
	Layouts []string
}
