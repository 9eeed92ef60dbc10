package render

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/John-Robertt/radextract/internal/domain"
)

// Entity 是标注视图中的一个区间：JSON 形态为 [start, end, text, label]。
// label 形如 "field:CONFIDENCE"。
type Entity struct {
	Start int
	End   int
	Text  string
	Field string
	Conf  domain.Confidence
}

func (e Entity) Label() string {
	return e.Field + ":" + string(e.Conf)
}

func (e Entity) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{e.Start, e.End, e.Text, e.Label()})
}

// Annotated 是原文加标注区间，供调用方在原文上直接画出每个字段。
type Annotated struct {
	Document string   `json:"document"`
	Text     string   `json:"text"`
	Fields   []string `json:"fields"`
	Entities []Entity `json:"entities"`
}

// Annotate 把记录中的匹配投影到原文上。only 非空时只保留这些字段（按字段过滤）。
//
// Fields 是图例：按规则声明顺序列出有匹配的字段，颜色按此顺序分配。
func Annotate(doc domain.RawDocument, rec domain.ExtractedRecord, only []string) Annotated {
	a := Annotated{Document: doc.ID, Text: doc.Text, Fields: []string{}, Entities: []Entity{}}
	for _, f := range rec.Fields {
		if f.Missing || len(f.Matches) == 0 {
			continue
		}
		if len(only) > 0 && !slices.Contains(only, f.Name) {
			continue
		}
		a.Fields = append(a.Fields, f.Name)
		for _, m := range f.Matches {
			a.Entities = append(a.Entities, Entity{
				Start: m.Span.Start,
				End:   m.Span.End,
				Text:  m.Raw,
				Field: f.Name,
				Conf:  m.Confidence,
			})
		}
	}
	sort.SliceStable(a.Entities, func(i, j int) bool { return a.Entities[i].Start < a.Entities[j].Start })
	return a
}

// WriteAnnotatedJSON 输出 {"document","text","fields","entities"}。
func WriteAnnotatedJSON(w io.Writer, a Annotated) error {
	return writeJSON(w, a)
}

// 字段颜色按图例顺序循环分配；AMBIGUOUS 统一用黄色加粗。
var palette = []lipgloss.Color{"2", "4", "5", "6", "10", "12"}

const uncertainColor = lipgloss.Color("3")

// WriteAnnotatedText 在终端中高亮原文：先输出图例，再输出标注后的全文。
//
// color=false 时用 [原文|field] 标记区间，便于重定向到文件或日志。
func WriteAnnotatedText(w io.Writer, a Annotated, color bool) error {
	r := lipgloss.NewRenderer(w)
	r.SetColorProfile(termenv.ANSI)
	base := r.NewStyle().TabWidth(lipgloss.NoTabConversion)
	uncertain := base.Foreground(uncertainColor).Bold(true)

	styles := make(map[string]lipgloss.Style, len(a.Fields))
	var b strings.Builder

	b.WriteString("图例：\n")
	for i, f := range a.Fields {
		st := base.Foreground(palette[i%len(palette)])
		styles[f] = st
		if color {
			fmt.Fprintf(&b, "  %s %s\n", st.Render("■"), f)
		} else {
			fmt.Fprintf(&b, "  [%s]\n", f)
		}
	}
	if color {
		fmt.Fprintf(&b, "  %s %s\n", uncertain.Render("■"), domain.Ambiguous)
	}
	if len(a.Fields) == 0 {
		b.WriteString("  （无匹配）\n")
	}
	b.WriteString("\n")

	cur := 0
	for _, e := range a.Entities {
		if e.Start < cur || e.End > len(a.Text) {
			continue
		}
		b.WriteString(a.Text[cur:e.Start])
		switch {
		case !color:
			fmt.Fprintf(&b, "[%s|%s]", e.Text, e.Field)
		case e.Conf == domain.Ambiguous:
			b.WriteString(renderLines(uncertain, e.Text))
		default:
			b.WriteString(renderLines(styles[e.Field], e.Text))
		}
		cur = e.End
	}
	b.WriteString(a.Text[cur:])
	if !strings.HasSuffix(a.Text, "\n") {
		b.WriteString("\n")
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// renderLines 逐行着色：lipgloss 对多行文本会按最长行补齐空格，不能直接整段 Render。
func renderLines(st lipgloss.Style, s string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		if l != "" {
			lines[i] = st.Render(l)
		}
	}
	return strings.Join(lines, "\n")
}
