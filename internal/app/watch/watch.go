package watch

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/John-Robertt/radextract/internal/app/run"
	"github.com/John-Robertt/radextract/internal/domain"
	"github.com/John-Robertt/radextract/internal/extract"
	"github.com/John-Robertt/radextract/internal/infra/logx"
	"github.com/John-Robertt/radextract/internal/infra/textx"
	"github.com/John-Robertt/radextract/internal/ruleset"
	"github.com/John-Robertt/radextract/internal/scan"
)

// DefaultDebounce 合并编辑器保存时的连续写事件。
const DefaultDebounce = 300 * time.Millisecond

type Options struct {
	Dir         string
	Pattern     string
	Recursive   bool
	ExcludeDirs []string
	StripHTML   bool

	Debounce time.Duration
	// InitialScan 为 true 时先按批量规则处理已存在的文件。
	InitialScan bool

	Extractor extract.Extractor
	Logger    *zap.Logger
}

// Run 监听 Dir，对新建/写入且匹配 Pattern 的文件做抽取，每个结果交给 onOutcome。
//
// 约束：
// - 文件选择规则与批量模式一致（scan.Filter）
// - onOutcome 只在本 goroutine 内调用，按路径字典序逐个回调
// - ctx 取消时返回 nil；只有准备阶段失败才返回 error
func Run(ctx context.Context, opt Options, rs ruleset.Ruleset, onOutcome func(domain.Outcome)) error {
	log := logx.OrNop(opt.Logger)

	sopt := scan.Options{Pattern: opt.Pattern, Recursive: opt.Recursive, ExcludeDirs: opt.ExcludeDirs}
	filter, err := scan.NewFilter(opt.Dir, sopt)
	if err != nil {
		return err
	}
	root := filter.Root()
	fi, err := os.Stat(root)
	if err != nil {
		return &scan.DirectoryError{Path: root, Err: err}
	}
	if !fi.IsDir() {
		return &scan.DirectoryError{Path: root, Err: fmt.Errorf("不是目录")}
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("创建文件监听失败：%w", err)
	}
	defer func() { _ = w.Close() }()

	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if !d.IsDir() {
			return nil
		}
		if !filter.Descend(path) {
			return filepath.SkipDir
		}
		return w.Add(path)
	})
	if err != nil {
		return fmt.Errorf("监听目录失败：%w", err)
	}

	src := textx.Source{Root: root, StripHTML: opt.StripHTML}
	handle := func(f domain.SourceFile) {
		o := run.ProcessFile(opt.Extractor, src, f, rs)
		if o.Err != nil {
			log.Warn("watch.file.failed",
				zap.String("path", o.Path),
				zap.String("kind", o.Err.Kind),
				zap.String("msg", o.Err.Message),
			)
		} else {
			log.Debug("watch.file.done", zap.String("path", o.Path), zap.String("status", string(o.Record.Status)))
		}
		if onOutcome != nil {
			onOutcome(o)
		}
	}

	if opt.InitialScan {
		files, err := scan.Discover(root, sopt)
		if err != nil {
			return err
		}
		for _, f := range files {
			if ctx.Err() != nil {
				return nil
			}
			handle(f)
		}
	}

	debounce := opt.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	log.Info("watch.start", zap.String("dir", root), zap.String("pattern", opt.Pattern))

	var (
		pending = map[string]struct{}{}
		timer   *time.Timer
		fire    <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	flush := func() {
		paths := make([]string, 0, len(pending))
		for p := range pending {
			paths = append(paths, p)
		}
		clear(pending)
		sort.Strings(paths)

		for _, p := range paths {
			fi, err := os.Stat(p)
			if err != nil || !fi.Mode().IsRegular() {
				// 事件之后又被删除或替换成目录。
				continue
			}
			rel, ok := filter.Match(p)
			if !ok {
				continue
			}
			handle(domain.SourceFile{AbsPath: p, RelPath: rel, Size: fi.Size()})
		}
	}

	for {
		select {
		case <-ctx.Done():
			log.Info("watch.stop", zap.String("dir", root))
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) {
				if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
					if filter.Descend(ev.Name) {
						if err := w.Add(ev.Name); err != nil {
							log.Warn("watch.add_dir.failed", zap.String("path", ev.Name), zap.Error(err))
						}
					}
					continue
				}
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			if _, ok := filter.Match(ev.Name); !ok {
				continue
			}
			pending[filepath.Clean(ev.Name)] = struct{}{}
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				timer.Reset(debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			flush()

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn("watch.error", zap.Error(err))
		}
	}
}
