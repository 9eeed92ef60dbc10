package scan

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/John-Robertt/radextract/internal/domain"
)

// InvalidPatternError 表示 glob 不合法；必须在读取任何文件之前返回。
type InvalidPatternError struct {
	Pattern string
}

func (e *InvalidPatternError) Error() string {
	return fmt.Sprintf("非法的 glob：%q", e.Pattern)
}

// DirectoryError 表示扫描根目录不存在或不是目录。
type DirectoryError struct {
	Path string
	Err  error
}

func (e *DirectoryError) Error() string {
	return fmt.Sprintf("无法扫描目录 %q：%v", e.Path, e.Err)
}

func (e *DirectoryError) Unwrap() error { return e.Err }

// Options 控制文件发现。
type Options struct {
	Pattern   string
	Recursive bool
	// ExcludeDirs 相对 root 的目录（绝对路径按绝对路径处理）；仅 Recursive 时有意义。
	ExcludeDirs []string
}

// ValidatePattern 校验 glob（shell 风格：* ? [...]）。
func ValidatePattern(pattern string) error {
	if strings.TrimSpace(pattern) == "" || !doublestar.ValidatePattern(pattern) {
		return &InvalidPatternError{Pattern: pattern}
	}
	return nil
}

// Filter 判断单个路径是否会被 Discover 选中；watch 模式逐个事件判断时复用同一套规则。
type Filter struct {
	root      string
	opt       Options
	excluded  []string
	matchPath bool
}

// NewFilter 校验 pattern 并固定 root（不访问文件系统）。
func NewFilter(root string, opt Options) (Filter, error) {
	if err := ValidatePattern(opt.Pattern); err != nil {
		return Filter{}, err
	}
	abs, err := filepath.Abs(filepath.Clean(root))
	if err != nil {
		return Filter{}, &DirectoryError{Path: root, Err: err}
	}
	return Filter{
		root:      abs,
		opt:       opt,
		excluded:  buildExcluded(abs, opt.ExcludeDirs),
		matchPath: strings.Contains(opt.Pattern, "/"),
	}, nil
}

func (f Filter) Root() string { return f.root }

// Descend 报告目录 path 是否需要进入（root 本身总是进入）。
func (f Filter) Descend(path string) bool {
	path = filepath.Clean(path)
	if path == f.root {
		return true
	}
	if !isUnder(path, f.root) {
		return false
	}
	return f.opt.Recursive && !isExcluded(path, f.excluded)
}

// Match 报告文件 path 是否被选中；返回相对 root 的 slash 路径。
// 只按路径判断，调用方负责确认它是普通文件。
func (f Filter) Match(path string) (string, bool) {
	path = filepath.Clean(path)
	rel, err := filepath.Rel(f.root, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", false
	}
	if !f.Descend(filepath.Dir(path)) {
		return "", false
	}
	rel = filepath.ToSlash(rel)

	subject := filepath.Base(path)
	if f.matchPath {
		subject = rel
	}
	ok, err := doublestar.Match(f.opt.Pattern, subject)
	if err != nil || !ok {
		return "", false
	}
	return rel, true
}

// Discover 列出 root 下匹配 pattern 的普通文件。
//
// 规则：
// - 默认只看 root 一层；Recursive 时递归并跳过 ExcludeDirs
// - pattern 不含 '/' 时匹配文件名；含 '/' 时匹配相对 root 的 slash 路径
// - 输出按 RelPath 字典序排序，保证跨平台/跨次运行稳定
//
// 注意：发现阶段只做 stat，不读文件内容。
func Discover(root string, opt Options) ([]domain.SourceFile, error) {
	f, err := NewFilter(root, opt)
	if err != nil {
		return nil, err
	}
	root = f.Root()

	fi, err := os.Stat(root)
	if err != nil {
		return nil, &DirectoryError{Path: root, Err: err}
	}
	if !fi.IsDir() {
		return nil, &DirectoryError{Path: root, Err: fmt.Errorf("不是目录")}
	}

	files := make([]domain.SourceFile, 0, 64)
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}

		if d.IsDir() {
			if !f.Descend(path) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		rel, ok := f.Match(path)
		if !ok {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		files = append(files, domain.SourceFile{
			AbsPath: path,
			RelPath: rel,
			Size:    info.Size(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	// 强制稳定输出，避免不同平台/文件系统的 ReadDir 顺序差异。
	sort.Slice(files, func(i, j int) bool { return files[i].RelPath < files[j].RelPath })
	return files, nil
}

func buildExcluded(root string, excludeDirs []string) []string {
	excluded := make([]string, 0, len(excludeDirs))
	for _, x := range excludeDirs {
		x = strings.TrimSpace(x)
		if x == "" {
			continue
		}
		if filepath.IsAbs(x) {
			excluded = append(excluded, filepath.Clean(x))
			continue
		}
		excluded = append(excluded, filepath.Clean(filepath.Join(root, x)))
	}
	sort.Strings(excluded)
	return excluded
}

func isExcluded(path string, excluded []string) bool {
	path = filepath.Clean(path)
	for _, base := range excluded {
		if isUnder(path, base) {
			return true
		}
	}
	return false
}

func isUnder(path, base string) bool {
	if path == base {
		return true
	}
	sep := string(filepath.Separator)
	return strings.HasPrefix(path, base+sep)
}
