package matcher

import (
	"iter"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/John-Robertt/radextract/internal/domain"
)

type stringMatcher struct{}

func (stringMatcher) Candidates(text string, rule domain.FieldRule, claimed []domain.Span) iter.Seq[domain.FieldMatch] {
	return candidates(text, rule, claimed, normalizeString)
}

// normalizeString 去首尾空白并压缩内部空白。
func normalizeString(_ domain.FieldRule, s string) (any, domain.Confidence) {
	v := strings.Join(strings.Fields(s), " ")
	if v == "" {
		return nil, domain.Ambiguous
	}
	return v, domain.Exact
}

type numberMatcher struct{}

func (numberMatcher) Candidates(text string, rule domain.FieldRule, claimed []domain.Span) iter.Seq[domain.FieldMatch] {
	return candidates(text, rule, claimed, normalizeNumber)
}

var plainNumberRE = regexp.MustCompile(`^[-+]?\d+(\.\d+)?$`)

// normalizeNumber：纯数字 => EXACT；去掉千分位/下划线/百分号后可解析 => INFERRED。
func normalizeNumber(_ domain.FieldRule, s string) (any, domain.Confidence) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, domain.Ambiguous
	}
	if plainNumberRE.MatchString(s) {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, domain.Ambiguous
		}
		return f, domain.Exact
	}

	cleaned := strings.TrimSuffix(s, "%")
	cleaned = strings.NewReplacer(",", "", "_", "").Replace(strings.TrimSpace(cleaned))
	if !plainNumberRE.MatchString(cleaned) {
		return nil, domain.Ambiguous
	}
	f, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return nil, domain.Ambiguous
	}
	return f, domain.Inferred
}

type dateMatcher struct{}

func (dateMatcher) Candidates(text string, rule domain.FieldRule, claimed []domain.Span) iter.Seq[domain.FieldMatch] {
	return candidates(text, rule, claimed, normalizeDate)
}

// ISODate 是 EXACT 日期的唯一形态，也是输出格式。
const ISODate = "2006-01-02"

// 数字形态用不补零的 layout：time.Parse 对 "1"/"2" 同时接受一位和两位数字。
var fallbackLayouts = []string{
	"2006-1-2",
	"2006/1/2",
	"1/2/2006",
	"2.1.2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"2 Jan 2006",
	"2 January 2006",
}

func normalizeDate(rule domain.FieldRule, s string) (any, domain.Confidence) {
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return nil, domain.Ambiguous
	}
	if t, err := time.Parse(ISODate, s); err == nil {
		return t, domain.Exact
	}
	// 规则自带的 layout 优先于内置兜底列表。
	for _, layouts := range [][]string{rule.Layouts, fallbackLayouts} {
		for _, l := range layouts {
			if t, err := time.Parse(l, s); err == nil {
				return t, domain.Inferred
			}
		}
	}
	return nil, domain.Ambiguous
}

type enumMatcher struct{}

func (enumMatcher) Candidates(text string, rule domain.FieldRule, claimed []domain.Span) iter.Seq[domain.FieldMatch] {
	return candidates(text, rule, claimed, normalizeEnum)
}

// normalizeEnum：精确命中成员 => EXACT；大小写不敏感命中或别名 => INFERRED（值为规范成员）。
func normalizeEnum(rule domain.FieldRule, s string) (any, domain.Confidence) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, domain.Ambiguous
	}
	for _, v := range rule.Enum {
		if v == s {
			return v, domain.Exact
		}
	}
	for _, v := range rule.Enum {
		if strings.EqualFold(v, s) {
			return v, domain.Inferred
		}
	}
	if c, ok := rule.Aliases[s]; ok {
		return c, domain.Inferred
	}
	// 别名同样大小写不敏感；遍历顺序按成员顺序固定，保证确定性。
	for _, v := range rule.Enum {
		for alias, canonical := range rule.Aliases {
			if canonical == v && strings.EqualFold(alias, s) {
				return canonical, domain.Inferred
			}
		}
	}
	return nil, domain.Ambiguous
}
