package textx

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"github.com/John-Robertt/radextract/internal/domain"
)

// DocumentReadError 表示文件无法读取（权限、被删除、是目录等）。
type DocumentReadError struct {
	Path string
	Err  error
}

func (e *DocumentReadError) Error() string {
	return fmt.Sprintf("读取文档失败 %q：%v", e.Path, e.Err)
}

func (e *DocumentReadError) Unwrap() error { return e.Err }

// DocumentDecodeError 表示内容不是可用的 UTF-8 文本（含空文档）。
type DocumentDecodeError struct {
	Path   string
	Reason string
}

func (e *DocumentDecodeError) Error() string {
	return fmt.Sprintf("解码文档失败 %q：%s", e.Path, e.Reason)
}

// Source 负责把磁盘文件变成 RawDocument。
//
// 约束：
// - 文件句柄只在一次 Load 内存在
// - 输出的 Text 只做无损清洗（BOM、CRLF）；HTML 导出的报告在 StripHTML 时取可见文本
type Source struct {
	// Root 非空时，RawDocument.ID 使用相对 Root 的 slash 路径。
	Root string
	// StripHTML 对 .html/.htm 文件提取可见文本。
	StripHTML bool
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

func (s Source) Load(path string) (domain.RawDocument, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return domain.RawDocument{}, &DocumentReadError{Path: path, Err: err}
	}
	text, err := s.Decode(path, b)
	if err != nil {
		return domain.RawDocument{}, err
	}
	return domain.RawDocument{
		ID:   s.ID(path),
		Text: text,
		Size: int64(len(b)),
	}, nil
}

// Decode 把原始字节解码为文本；path 仅用于错误信息与扩展名判断。
func (s Source) Decode(path string, b []byte) (string, error) {
	b = bytes.TrimPrefix(b, utf8BOM)
	if !utf8.Valid(b) {
		return "", &DocumentDecodeError{Path: path, Reason: "不是合法的 UTF-8"}
	}
	if bytes.IndexByte(b, 0) >= 0 {
		return "", &DocumentDecodeError{Path: path, Reason: "包含 NUL 字节（疑似二进制文件）"}
	}

	text := strings.ReplaceAll(string(b), "\r\n", "\n")
	if s.StripHTML && IsHTML(path) {
		t, err := HTMLText(text)
		if err != nil {
			return "", &DocumentDecodeError{Path: path, Reason: "HTML 解析失败：" + err.Error()}
		}
		text = t
	}

	if strings.TrimSpace(text) == "" {
		return "", &DocumentDecodeError{Path: path, Reason: "文档为空"}
	}
	return text, nil
}

// ID 返回 path 对应的文档标识（相对 Root 的 slash 路径）。
func (s Source) ID(path string) string {
	if strings.TrimSpace(s.Root) == "" {
		return filepath.ToSlash(path)
	}
	rel, err := filepath.Rel(s.Root, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}

func IsHTML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".html", ".htm":
		return true
	default:
		return false
	}
}

// blockSelector 里的元素在输出中各自成行，避免相邻单元格/段落粘连成一个词。
const blockSelector = "p, div, br, li, tr, h1, h2, h3, h4, h5, h6, section, article, pre, td, th, dt, dd"

// HTMLText 提取 HTML 的可见文本：丢弃 script/style/head，块级元素换行，行内空白压缩。
func HTMLText(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", err
	}
	doc.Find("script, style, noscript, head, template").Remove()
	doc.Find(blockSelector).Each(func(_ int, sel *goquery.Selection) {
		sel.AppendHtml("\n")
	})

	root := doc.Find("body")
	if root.Length() == 0 {
		root = doc.Selection
	}

	lines := strings.Split(root.Text(), "\n")
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		l = strings.Join(strings.Fields(l), " ")
		if l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n"), nil
}
