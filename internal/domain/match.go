package domain

// Confidence 描述一个匹配值的可信程度。
type Confidence string

const (
	// Exact：文本本身就是规范形态。
	Exact Confidence = "EXACT"
	// Inferred：经过宽松规范化（别名、大小写、千分位、非 ISO 日期等）得到的值。
	Inferred Confidence = "INFERRED"
	// Ambiguous：规范化失败，或 single 字段出现多个不同取值。
	Ambiguous Confidence = "AMBIGUOUS"
)

// Span 是文本中的半开区间 [Start, End)，单位为字节偏移。
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

func (s Span) Len() int { return s.End - s.Start }

// Overlaps 判断两个区间是否相交（相邻不算相交）。
func (s Span) Overlaps(o Span) bool {
	return s.Start < o.End && o.Start < s.End
}

// FieldMatch 是一次匹配的结果。
//
// 不变量：doc.Text[Span.Start:Span.End] == Raw。
// 规范化失败时 Value 为 nil，但 Raw/ValueText 必须保留，便于调用方排查。
type FieldMatch struct {
	Field      string
	Type       ValueType
	Raw        string
	ValueText  string
	Value      any // string | float64 | time.Time | nil
	Span       Span
	Confidence Confidence
}
