package extract

import (
	"errors"
	"fmt"

	"github.com/John-Robertt/radextract/internal/domain"
	"github.com/John-Robertt/radextract/internal/infra/textx"
	"github.com/John-Robertt/radextract/internal/matcher"
	"github.com/John-Robertt/radextract/internal/ruleset"
)

// UnexpectedExtractionError 表示某条规则在匹配过程中出现了非预期失败（包括 panic）。
// 批处理层把它记录为该文件的 FileError，不影响其他文件。
type UnexpectedExtractionError struct {
	Field string
	Err   error
}

func (e *UnexpectedExtractionError) Error() string {
	return fmt.Sprintf("字段 %q 抽取失败：%v", e.Field, e.Err)
}

func (e *UnexpectedExtractionError) Unwrap() error { return e.Err }

// Extractor 把 Ruleset 应用到单个文档。零值使用内置 matcher。
type Extractor struct {
	Matchers matcher.Set
}

// Extract 使用内置 matcher 抽取一个文档。
func Extract(doc domain.RawDocument, rs ruleset.Ruleset) (domain.ExtractedRecord, error) {
	return Extractor{}.Extract(doc, rs)
}

// Extract 按声明顺序逐条应用规则。
//
// 规则：
// - 前面字段已占用的区间不再参与后续字段匹配（同一段文本不会同时满足两个字段）
// - required 字段无候选 => Missing，记录降级为 PARTIAL（不是 FAILED）
// - 同样的 (doc, rs) 总是得到同样的记录
func (x Extractor) Extract(doc domain.RawDocument, rs ruleset.Ruleset) (rec domain.ExtractedRecord, err error) {
	set := x.Matchers
	if set == nil {
		set = matcher.Default()
	}

	rec = domain.ExtractedRecord{
		DocumentID: doc.ID,
		Fields:     make([]domain.FieldResult, 0, rs.Len()),
		Status:     domain.StatusComplete,
	}

	current := ""
	defer func() {
		if r := recover(); r != nil {
			rec = domain.ExtractedRecord{}
			err = &UnexpectedExtractionError{Field: current, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	var claimed []domain.Span
	for _, rule := range rs.All() {
		current = rule.Name

		m, e := set.For(rule.Type)
		if e != nil {
			return domain.ExtractedRecord{}, &UnexpectedExtractionError{Field: rule.Name, Err: e}
		}

		var matches []domain.FieldMatch
		for fm := range m.Candidates(doc.Text, rule, claimed) {
			matches = append(matches, fm)
		}

		if len(matches) == 0 {
			if rule.Required {
				rec.Fields = append(rec.Fields, domain.FieldResult{Name: rule.Name, Missing: true})
				rec.Status = domain.StatusPartial
			}
			continue
		}

		for _, fm := range matches {
			claimed = append(claimed, fm.Span)
		}
		rec.Fields = append(rec.Fields, domain.FieldResult{Name: rule.Name, Matches: matches})
	}
	return rec, nil
}

// File 读取并抽取单个文件。
//
// 读取/解码失败时返回 FAILED 记录（带 FileError）以及原始错误；
// 字段缺失不是错误。
func File(path string, rs ruleset.Ruleset, src textx.Source) (domain.ExtractedRecord, error) {
	return Extractor{}.File(path, rs, src)
}

func (x Extractor) File(path string, rs ruleset.Ruleset, src textx.Source) (domain.ExtractedRecord, error) {
	doc, err := src.Load(path)
	if err != nil {
		fe := FileErrorFrom(src.ID(path), err)
		return domain.ExtractedRecord{
			DocumentID: fe.Path,
			Status:     domain.StatusFailed,
			Error:      fe,
		}, err
	}

	rec, err := x.Extract(doc, rs)
	if err != nil {
		fe := FileErrorFrom(doc.ID, err)
		return domain.ExtractedRecord{
			DocumentID: doc.ID,
			Status:     domain.StatusFailed,
			Error:      fe,
		}, err
	}
	return rec, nil
}

// FileErrorFrom 把错误归类为稳定的 error kind。
func FileErrorFrom(path string, err error) *domain.FileError {
	kind := domain.ErrKindExtractFailed

	var re *textx.DocumentReadError
	var de *textx.DocumentDecodeError
	switch {
	case errors.As(err, &re):
		kind = domain.ErrKindReadFailed
	case errors.As(err, &de):
		kind = domain.ErrKindDecodeFailed
	}
	return &domain.FileError{Path: path, Kind: kind, Message: err.Error()}
}
