package matcher

import (
	"fmt"
	"iter"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/John-Robertt/radextract/internal/domain"
)

// Matcher 把一条规则应用到文本上，产出该字段的候选匹配。
//
// 约束：
// - 必须是纯函数：相同 (text, rule, claimed) => 相同序列
// - 返回的序列是惰性的、有限的，可重复迭代
// - 与 claimed 中任一区间相交的候选必须被排除
type Matcher interface {
	Candidates(text string, rule domain.FieldRule, claimed []domain.Span) iter.Seq[domain.FieldMatch]
}

// Set 按 ValueType 索引 Matcher；新增字段类型 = 新增一个实现，而不是在单个 matcher 里加分支。
type Set map[domain.ValueType]Matcher

// Default 返回内置的四种类型。
func Default() Set {
	return Set{
		domain.TypeString: stringMatcher{},
		domain.TypeNumber: numberMatcher{},
		domain.TypeDate:   dateMatcher{},
		domain.TypeEnum:   enumMatcher{},
	}
}

func (s Set) For(t domain.ValueType) (Matcher, error) {
	if t == "" {
		t = domain.TypeString
	}
	m, ok := s[t]
	if !ok || m == nil {
		return nil, fmt.Errorf("没有 type=%q 的 matcher", t)
	}
	return m, nil
}

// normalizeFunc 把值文本转成类型化的值；失败时返回 (nil, Ambiguous)。
type normalizeFunc func(rule domain.FieldRule, s string) (any, domain.Confidence)

// candidates 是各类型共享的扫描流程：找候选 -> 消解重叠 -> 规范化 -> 按 multiplicity 取舍。
func candidates(text string, rule domain.FieldRule, claimed []domain.Span, norm normalizeFunc) iter.Seq[domain.FieldMatch] {
	return func(yield func(domain.FieldMatch) bool) {
		if rule.Pattern == nil || text == "" {
			return
		}

		spans := resolve(scan(text, rule.Pattern, claimed))
		if len(spans) == 0 {
			return
		}

		matches := make([]domain.FieldMatch, 0, len(spans))
		for _, c := range spans {
			v, conf := norm(rule, c.value)
			matches = append(matches, domain.FieldMatch{
				Field:      rule.Name,
				Type:       rule.Type,
				Raw:        text[c.span.Start:c.span.End],
				ValueText:  c.value,
				Value:      v,
				Span:       c.span,
				Confidence: conf,
			})
		}

		if rule.Multiplicity != domain.Repeated {
			first := matches[0]
			if hasConflict(matches) {
				first.Confidence = domain.Ambiguous
			}
			yield(first)
			return
		}

		for _, m := range matches {
			if !yield(m) {
				return
			}
		}
	}
}

type candidate struct {
	span  domain.Span
	value string
}

// scan 在原文上搜索候选，与 claimed 相交的丢弃。
//
// 同时跑 leftmost-first 与 leftmost-longest 两种语义，两者结果可能相互重叠，交给 resolve 消解。
// 跨越 claimed 的匹配会吞掉其旁边本可成立的候选，所以再对 claimed 之间的每一段单独扫描；
// 段边界会改变 ^ $ \b 的判断，段内找到的候选必须回到原文（带真实的前后字符）复核。
func scan(text string, re *regexp.Regexp, claimed []domain.Span) []candidate {
	longest := regexp.MustCompile(re.String())
	longest.Longest()
	group := valueGroup(re)

	seen := map[domain.Span]struct{}{}
	out := make([]candidate, 0, 8)
	for _, r := range []*regexp.Regexp{re, longest} {
		for _, loc := range r.FindAllStringSubmatchIndex(text, -1) {
			sp := domain.Span{Start: loc[0], End: loc[1]}
			if sp.Len() == 0 || overlapsAny(sp, claimed) {
				continue
			}
			if _, ok := seen[sp]; ok {
				continue
			}
			seen[sp] = struct{}{}
			out = append(out, candidate{span: sp, value: groupText(text, loc, group)})
		}
	}
	if len(claimed) == 0 {
		return out
	}

	v := verifier{pattern: re.String()}
	for _, seg := range gaps(len(text), claimed) {
		part := text[seg.Start:seg.End]
		for _, r := range []*regexp.Regexp{re, longest} {
			for _, loc := range r.FindAllStringSubmatchIndex(part, -1) {
				sp := domain.Span{Start: seg.Start + loc[0], End: seg.Start + loc[1]}
				if sp.Len() == 0 {
					continue
				}
				if _, ok := seen[sp]; ok {
					continue
				}
				seen[sp] = struct{}{}
				full, ok := v.match(text, sp)
				if !ok {
					continue
				}
				out = append(out, candidate{span: sp, value: groupText(text, full, group)})
			}
		}
	}
	return out
}

// verifier 判断 pattern 能否在原文中恰好匹配某个区间。
//
// 把区间前后各一个字符一并截取，用 \A(?s:.)(?:pattern)(?s:.)\z 做两端锚定的完整匹配：
// 前后字符只被消费，不参与取值，但 \b ^ $ 等零宽断言看到的是原文的真实上下文。
type verifier struct {
	pattern string
	cache   map[[2]bool]*regexp.Regexp
}

// match 返回以原文偏移表示的子匹配位置（与 FindStringSubmatchIndex 同形）。
func (v *verifier) match(text string, sp domain.Span) ([]int, bool) {
	lo, hi := sp.Start, sp.End
	prev, next := lo > 0, hi < len(text)
	if prev {
		_, n := utf8.DecodeLastRuneInString(text[:lo])
		lo -= n
	}
	if next {
		_, n := utf8.DecodeRuneInString(text[hi:])
		hi += n
	}

	re, err := v.compile(prev, next)
	if err != nil {
		return nil, false
	}
	loc := re.FindStringSubmatchIndex(text[lo:hi])
	if loc == nil {
		return nil, false
	}
	for i := range loc {
		if loc[i] >= 0 {
			loc[i] += lo
		}
	}
	loc[0], loc[1] = sp.Start, sp.End
	return loc, true
}

func (v *verifier) compile(prev, next bool) (*regexp.Regexp, error) {
	key := [2]bool{prev, next}
	if re, ok := v.cache[key]; ok {
		return re, nil
	}
	var b strings.Builder
	b.WriteString(`\A`)
	if prev {
		b.WriteString(`(?s:.)`)
	}
	b.WriteString(`(?:` + v.pattern + `)`)
	if next {
		b.WriteString(`(?s:.)`)
	}
	b.WriteString(`\z`)
	re, err := regexp.Compile(b.String())
	if err != nil {
		return nil, err
	}
	if v.cache == nil {
		v.cache = map[[2]bool]*regexp.Regexp{}
	}
	v.cache[key] = re
	return re, nil
}

// gaps 返回 [0, n) 中未被 claimed 覆盖的区间（升序）。
func gaps(n int, claimed []domain.Span) []domain.Span {
	sorted := append([]domain.Span(nil), claimed...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })

	var out []domain.Span
	cur := 0
	for _, c := range sorted {
		start, end := max(c.Start, 0), min(c.End, n)
		if start > cur {
			out = append(out, domain.Span{Start: cur, End: start})
		}
		cur = max(cur, end)
	}
	if cur < n {
		out = append(out, domain.Span{Start: cur, End: n})
	}
	return out
}

// groupText 取值分组对应的文本；可选分组未参与匹配时为空串。
func groupText(text string, loc []int, group int) string {
	if group == 0 {
		return text[loc[0]:loc[1]]
	}
	s, e := loc[2*group], loc[2*group+1]
	if s < 0 || e < 0 {
		return ""
	}
	return text[s:e]
}

// resolve 贪心选择互不重叠的候选：最长优先，其次起点最早；结果按文档顺序返回。
func resolve(cands []candidate) []candidate {
	if len(cands) == 0 {
		return nil
	}
	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i].span, cands[j].span
		if a.Len() != b.Len() {
			return a.Len() > b.Len()
		}
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		return a.End < b.End
	})

	picked := make([]candidate, 0, len(cands))
	for _, c := range cands {
		ok := true
		for _, p := range picked {
			if c.span.Overlaps(p.span) {
				ok = false
				break
			}
		}
		if ok {
			picked = append(picked, c)
		}
	}

	sort.Slice(picked, func(i, j int) bool { return picked[i].span.Start < picked[j].span.Start })
	return picked
}

// valueGroup：命名分组 value > 第 1 个分组 > 整个匹配（0）。
func valueGroup(re *regexp.Regexp) int {
	if i := re.SubexpIndex("value"); i > 0 {
		return i
	}
	if re.NumSubexp() > 0 {
		return 1
	}
	return 0
}

func overlapsAny(sp domain.Span, claimed []domain.Span) bool {
	for _, c := range claimed {
		if sp.Overlaps(c) {
			return true
		}
	}
	return false
}

// hasConflict 判断 single 字段的候选是否规范化出多个不同取值。
func hasConflict(matches []domain.FieldMatch) bool {
	if len(matches) < 2 {
		return false
	}
	first := valueKey(matches[0])
	for _, m := range matches[1:] {
		if valueKey(m) != first {
			return true
		}
	}
	return false
}

func valueKey(m domain.FieldMatch) string {
	if m.Value == nil {
		return "raw:" + m.ValueText
	}
	return fmt.Sprintf("%T:%v", m.Value, m.Value)
}
