package render

import (
	"fmt"
	"strconv"
	"time"

	"github.com/John-Robertt/radextract/internal/domain"
)

// MatchView 是 FieldMatch 的输出形态：值统一为带类型标记的文本。
type MatchView struct {
	Type       string       `json:"type" yaml:"type"`
	Value      string       `json:"value" yaml:"value"`
	Raw        string       `json:"raw" yaml:"raw"`
	Confidence string       `json:"confidence" yaml:"confidence"`
	Span       *domain.Span `json:"span,omitempty" yaml:"span,omitempty"`
}

// FieldView 中 Missing=true 表示必填字段未抽取到，不会被省略。
type FieldView struct {
	Name    string      `json:"name" yaml:"name"`
	Missing bool        `json:"missing" yaml:"missing"`
	Matches []MatchView `json:"matches,omitempty" yaml:"matches,omitempty"`
}

type ErrorView struct {
	Path    string `json:"path" yaml:"path"`
	Kind    string `json:"kind" yaml:"kind"`
	Message string `json:"message" yaml:"message"`
}

type RecordView struct {
	Document string      `json:"document" yaml:"document"`
	Status   string      `json:"status" yaml:"status"`
	Fields   []FieldView `json:"fields" yaml:"fields"`
	Error    *ErrorView  `json:"error,omitempty" yaml:"error,omitempty"`
}

type OutcomeView struct {
	Path   string      `json:"path" yaml:"path"`
	Record *RecordView `json:"record,omitempty" yaml:"record,omitempty"`
	Error  *ErrorView  `json:"error,omitempty" yaml:"error,omitempty"`
}

type SummaryView struct {
	Total     int `json:"total" yaml:"total"`
	Succeeded int `json:"succeeded" yaml:"succeeded"`
	Partial   int `json:"partial" yaml:"partial"`
	Failed    int `json:"failed" yaml:"failed"`
}

type BatchView struct {
	Dir      string        `json:"dir" yaml:"dir"`
	Pattern  string        `json:"pattern" yaml:"pattern"`
	Summary  SummaryView   `json:"summary" yaml:"summary"`
	Outcomes []OutcomeView `json:"outcomes" yaml:"outcomes"`
}

// Options 控制视图中的可选信息。
type Options struct {
	// OmitSpans 为 true 时不输出偏移。
	OmitSpans bool
}

func Record(rec domain.ExtractedRecord, opt Options) RecordView {
	v := RecordView{
		Document: rec.DocumentID,
		Status:   string(rec.Status),
		Fields:   make([]FieldView, 0, len(rec.Fields)),
		Error:    errorView(rec.Error),
	}
	for _, f := range rec.Fields {
		fv := FieldView{Name: f.Name, Missing: f.Missing}
		for _, m := range f.Matches {
			fv.Matches = append(fv.Matches, matchView(m, opt))
		}
		v.Fields = append(v.Fields, fv)
	}
	return v
}

func Batch(res domain.BatchResult, opt Options) BatchView {
	s := res.Summary()
	v := BatchView{
		Dir:     res.Dir,
		Pattern: res.Pattern,
		Summary: SummaryView{
			Total:     s.Total,
			Succeeded: s.Succeeded,
			Partial:   s.Partial,
			Failed:    s.Failed,
		},
		Outcomes: make([]OutcomeView, 0, len(res.Outcomes)),
	}
	for _, o := range res.Outcomes {
		ov := OutcomeView{Path: o.Path, Error: errorView(o.Err)}
		if o.Record != nil {
			rv := Record(*o.Record, opt)
			ov.Record = &rv
		}
		v.Outcomes = append(v.Outcomes, ov)
	}
	return v
}

func matchView(m domain.FieldMatch, opt Options) MatchView {
	typ := string(m.Type)
	if typ == "" {
		typ = string(domain.TypeString)
	}
	v := MatchView{
		Type:       typ,
		Value:      ValueText(m.Value),
		Raw:        m.Raw,
		Confidence: string(m.Confidence),
	}
	if !opt.OmitSpans {
		sp := m.Span
		v.Span = &sp
	}
	return v
}

func errorView(e *domain.FileError) *ErrorView {
	if e == nil {
		return nil
	}
	return &ErrorView{Path: e.Path, Kind: e.Kind, Message: e.Message}
}

// ValueText 把规范化后的值转成稳定文本：数字不带多余的 0，日期为 ISO 形式，nil 为空串。
func ValueText(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case time.Time:
		return x.Format(time.DateOnly)
	default:
		return fmt.Sprint(x)
	}
}
