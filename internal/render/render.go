package render

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
	"gopkg.in/yaml.v3"

	"github.com/John-Robertt/radextract/internal/domain"
)

const (
	FormatJSON = "json"
	FormatYAML = "yaml"
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
)

// MissingConfidence 是表格输出中 MISSING 字段的置信度列取值。
const MissingConfidence = "MISSING"

// UnsupportedFormatError 表示未知的输出格式。
type UnsupportedFormatError struct {
	Format string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("不支持的输出格式：%q", e.Format)
}

// Columns 是 csv/xlsx 的固定表头；一行对应一个匹配（或一个 MISSING 字段、一个失败文件）。
var Columns = []string{"document", "status", "field", "type", "value", "confidence", "raw", "start", "end", "error"}

// WriteRecord 渲染单个文档的抽取结果。
func WriteRecord(w io.Writer, format string, rec domain.ExtractedRecord) error {
	v := Record(rec, Options{})
	switch format {
	case FormatJSON:
		return writeJSON(w, v)
	case FormatYAML:
		return writeYAML(w, v)
	case FormatCSV:
		return writeCSV(w, recordRows(v))
	case FormatXLSX:
		return writeXLSX(w, recordRows(v), nil)
	default:
		return &UnsupportedFormatError{Format: format}
	}
}

// WriteBatch 渲染整个批次；嵌套格式带 summary，xlsx 额外输出 Summary 工作表。
func WriteBatch(w io.Writer, format string, res domain.BatchResult) error {
	v := Batch(res, Options{})
	switch format {
	case FormatJSON:
		return writeJSON(w, v)
	case FormatYAML:
		return writeYAML(w, v)
	case FormatCSV:
		return writeCSV(w, batchRows(v))
	case FormatXLSX:
		return writeXLSX(w, batchRows(v), &v.Summary)
	default:
		return &UnsupportedFormatError{Format: format}
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

func recordRows(v RecordView) [][]string {
	if v.Error != nil {
		return [][]string{errorRow(v.Document, v.Status, v.Error)}
	}
	var rows [][]string
	for _, f := range v.Fields {
		if f.Missing {
			rows = append(rows, []string{v.Document, v.Status, f.Name, "", "", MissingConfidence, "", "", "", ""})
			continue
		}
		for _, m := range f.Matches {
			start, end := "", ""
			if m.Span != nil {
				start, end = strconv.Itoa(m.Span.Start), strconv.Itoa(m.Span.End)
			}
			rows = append(rows, []string{v.Document, v.Status, f.Name, m.Type, m.Value, m.Confidence, m.Raw, start, end, ""})
		}
	}
	if len(rows) == 0 {
		// 没有任何字段输出时保留一行，避免文档在表格里消失。
		rows = append(rows, []string{v.Document, v.Status, "", "", "", "", "", "", "", ""})
	}
	return rows
}

func batchRows(v BatchView) [][]string {
	var rows [][]string
	for _, o := range v.Outcomes {
		switch {
		case o.Error != nil:
			rows = append(rows, errorRow(o.Path, string(domain.StatusFailed), o.Error))
		case o.Record != nil:
			rows = append(rows, recordRows(*o.Record)...)
		}
	}
	return rows
}

func errorRow(doc, status string, e *ErrorView) []string {
	return []string{doc, status, "", "", "", "", "", "", "", e.Kind + ": " + e.Message}
}

func writeCSV(w io.Writer, rows [][]string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return err
	}
	if err := cw.WriteAll(rows); err != nil {
		return err
	}
	return cw.Error()
}

const (
	resultsSheet = "Results"
	summarySheet = "Summary"
)

func writeXLSX(w io.Writer, rows [][]string, summary *SummaryView) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", resultsSheet); err != nil {
		return fmt.Errorf("xlsx sheet: %w", err)
	}
	if err := writeSheet(f, resultsSheet, append([][]string{Columns}, rows...)); err != nil {
		return err
	}
	_ = f.SetColWidth(resultsSheet, "A", "A", 36) // document
	_ = f.SetColWidth(resultsSheet, "C", "C", 20) // field
	_ = f.SetColWidth(resultsSheet, "E", "E", 24) // value
	_ = f.SetColWidth(resultsSheet, "G", "G", 40) // raw
	_ = f.SetColWidth(resultsSheet, "J", "J", 48) // error

	if summary != nil {
		if _, err := f.NewSheet(summarySheet); err != nil {
			return fmt.Errorf("xlsx sheet: %w", err)
		}
		if err := writeSheet(f, summarySheet, [][]string{
			{"total", strconv.Itoa(summary.Total)},
			{"succeeded", strconv.Itoa(summary.Succeeded)},
			{"partial", strconv.Itoa(summary.Partial)},
			{"failed", strconv.Itoa(summary.Failed)},
		}); err != nil {
			return err
		}
	}

	idx, _ := f.GetSheetIndex(resultsSheet)
	f.SetActiveSheet(idx)
	if err := f.Write(w); err != nil {
		return fmt.Errorf("xlsx write: %w", err)
	}
	return nil
}

func writeSheet(f *excelize.File, sheet string, rows [][]string) error {
	for r, row := range rows {
		for c, val := range row {
			cell, err := excelize.CoordinatesToCellName(c+1, r+1)
			if err != nil {
				return err
			}
			if err := f.SetCellStr(sheet, cell, val); err != nil {
				return fmt.Errorf("xlsx %s: %w", cell, err)
			}
		}
	}
	return nil
}

// ParseFormat 规范化格式名（大小写不敏感）。
func ParseFormat(s string) (string, error) {
	f := strings.ToLower(strings.TrimSpace(s))
	switch f {
	case FormatJSON, FormatYAML, FormatCSV, FormatXLSX:
		return f, nil
	default:
		return "", &UnsupportedFormatError{Format: s}
	}
}
