package render

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/xuri/excelize/v2"
	"gopkg.in/yaml.v3"

	"github.com/John-Robertt/radextract/internal/domain"
)

func sampleBatch() domain.BatchResult {
	date := time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC)
	return domain.BatchResult{
		Dir:     "/reports",
		Pattern: "*.txt",
		Outcomes: []domain.Outcome{
			{Path: "a.txt", Record: &domain.ExtractedRecord{
				DocumentID: "a.txt",
				Status:     domain.StatusComplete,
				Fields: []domain.FieldResult{
					{Name: "age", Matches: []domain.FieldMatch{{
						Field: "age", Type: domain.TypeNumber, Raw: "Age: 54", ValueText: "54",
						Value: float64(54), Span: domain.Span{Start: 8, End: 15}, Confidence: domain.Exact,
					}}},
					{Name: "exam_date", Matches: []domain.FieldMatch{{
						Field: "exam_date", Type: domain.TypeDate, Raw: "Date: 03/09/2024", ValueText: "03/09/2024",
						Value: date, Span: domain.Span{Start: 20, End: 36}, Confidence: domain.Inferred,
					}}},
				},
			}},
			{Path: "b.txt", Err: &domain.FileError{Path: "b.txt", Kind: domain.ErrKindDecodeFailed, Message: "空文档"}},
			{Path: "c.txt", Record: &domain.ExtractedRecord{
				DocumentID: "c.txt",
				Status:     domain.StatusPartial,
				Fields:     []domain.FieldResult{{Name: "age", Missing: true}},
			}},
		},
	}
}

func TestWriteBatch_JSONKeepsMissingAndSummary(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteBatch(&buf, FormatJSON, sampleBatch()); err != nil {
		t.Fatalf("不期望错误：%v", err)
	}

	var got BatchView
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("输出不是合法 JSON：%v\n%s", err, buf.String())
	}
	if diff := cmp.Diff(SummaryView{Total: 3, Succeeded: 1, Partial: 1, Failed: 1}, got.Summary); diff != "" {
		t.Fatalf("summary 不符合预期:\n%s", diff)
	}
	c := got.Outcomes[2].Record
	if c == nil || len(c.Fields) != 1 || !c.Fields[0].Missing {
		t.Fatalf("MISSING 字段必须显式输出：%+v", c)
	}
	if !strings.Contains(buf.String(), `"missing": true`) {
		t.Fatalf("JSON 中缺少 missing 标记：\n%s", buf.String())
	}
	a := got.Outcomes[0].Record
	if a.Fields[0].Matches[0].Value != "54" || a.Fields[1].Matches[0].Value != "2024-03-09" {
		t.Fatalf("值文本不符合预期：%+v", a.Fields)
	}
	if got.Outcomes[1].Error == nil || got.Outcomes[1].Error.Kind != domain.ErrKindDecodeFailed {
		t.Fatalf("文件错误未输出：%+v", got.Outcomes[1])
	}
}

func TestWriteBatch_YAML(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteBatch(&buf, FormatYAML, sampleBatch()); err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	var got BatchView
	if err := yaml.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("输出不是合法 YAML：%v", err)
	}
	if diff := cmp.Diff(Batch(sampleBatch(), Options{}), got); diff != "" {
		t.Fatalf("YAML 往返不一致:\n%s", diff)
	}
}

func TestWriteBatch_CSVHasMissingRow(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteBatch(&buf, FormatCSV, sampleBatch()); err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("输出不是合法 CSV：%v", err)
	}

	want := [][]string{
		Columns,
		{"a.txt", "COMPLETE", "age", "number", "54", "EXACT", "Age: 54", "8", "15", ""},
		{"a.txt", "COMPLETE", "exam_date", "date", "2024-03-09", "INFERRED", "Date: 03/09/2024", "20", "36", ""},
		{"b.txt", "FAILED", "", "", "", "", "", "", "", "decode_failed: 空文档"},
		{"c.txt", "PARTIAL", "age", "", "", "MISSING", "", "", "", ""},
	}
	if diff := cmp.Diff(want, rows); diff != "" {
		t.Fatalf("CSV 不符合预期 (-want +got):\n%s", diff)
	}
}

func TestWriteBatch_XLSX(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteBatch(&buf, FormatXLSX, sampleBatch()); err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("无法打开 xlsx：%v", err)
	}
	defer func() { _ = f.Close() }()

	rows, err := f.GetRows(resultsSheet)
	if err != nil {
		t.Fatalf("读取工作表失败：%v", err)
	}
	if len(rows) != 5 || rows[4][5] != MissingConfidence {
		t.Fatalf("Results 工作表不符合预期：%v", rows)
	}
	sum, err := f.GetRows(summarySheet)
	if err != nil {
		t.Fatalf("读取工作表失败：%v", err)
	}
	if diff := cmp.Diff([]string{"failed", "1"}, sum[3]); diff != "" {
		t.Fatalf("Summary 工作表不符合预期:\n%s", diff)
	}
}

func TestWriteRecord_FailedRecordCarriesError(t *testing.T) {
	rec := domain.ExtractedRecord{
		DocumentID: "x.txt",
		Status:     domain.StatusFailed,
		Error:      &domain.FileError{Path: "x.txt", Kind: domain.ErrKindReadFailed, Message: "permission denied"},
	}
	var buf bytes.Buffer
	if err := WriteRecord(&buf, FormatJSON, rec); err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	var got RecordView
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("输出不是合法 JSON：%v", err)
	}
	if got.Status != "FAILED" || got.Error == nil || got.Error.Kind != domain.ErrKindReadFailed {
		t.Fatalf("失败记录输出不符合预期：%+v", got)
	}
}

func TestWrite_UnsupportedFormat(t *testing.T) {
	err := WriteRecord(&bytes.Buffer{}, "pdf", domain.ExtractedRecord{})
	var fe *UnsupportedFormatError
	if !errors.As(err, &fe) {
		t.Fatalf("期望 UnsupportedFormatError，实际 %v", err)
	}
	if _, err := ParseFormat(" XLSX "); err != nil {
		t.Fatalf("ParseFormat 应大小写不敏感：%v", err)
	}
}

func TestValueText(t *testing.T) {
	cases := []struct {
		in   any
		want string
	}{
		{nil, ""},
		{"left", "left"},
		{float64(1200.5), "1200.5"},
		{float64(3), "3"},
		{time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC), "2023-01-02"},
	}
	for _, c := range cases {
		if got := ValueText(c.in); got != c.want {
			t.Fatalf("ValueText(%v)=%q，期望 %q", c.in, got, c.want)
		}
	}
}
