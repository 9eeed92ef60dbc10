package domain

// RecordStatus 是一条抽取记录的整体状态。
type RecordStatus string

const (
	StatusComplete RecordStatus = "COMPLETE"
	StatusPartial  RecordStatus = "PARTIAL"
	StatusFailed   RecordStatus = "FAILED"
)

// FieldResult 是某个字段在一份文档中的抽取结果。
// Missing=true 表示必填字段没有任何候选（此时 Matches 为空）。
type FieldResult struct {
	Name    string
	Missing bool
	Matches []FieldMatch
}

// First 返回第一个匹配；没有匹配时 ok=false。
func (f FieldResult) First() (FieldMatch, bool) {
	if len(f.Matches) == 0 {
		return FieldMatch{}, false
	}
	return f.Matches[0], true
}

// ExtractedRecord 是一份文档的结构化抽取结果。
//
// 不变量：
// - Fields 按 Ruleset 声明顺序排列
// - 每个 required 字段都有条目（匹配或 Missing）；optional 字段无匹配时不出现
// - Status=FAILED 当且仅当 Error != nil（文档无法读取/解码）
type ExtractedRecord struct {
	DocumentID string
	Fields     []FieldResult
	Status     RecordStatus
	Error      *FileError
}

// Field 按字段名查找条目。
func (r ExtractedRecord) Field(name string) (FieldResult, bool) {
	for _, f := range r.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldResult{}, false
}

// MissingFields 返回所有 Missing 的字段名（声明顺序）。
func (r ExtractedRecord) MissingFields() []string {
	var out []string
	for _, f := range r.Fields {
		if f.Missing {
			out = append(out, f.Name)
		}
	}
	return out
}
