package run

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/John-Robertt/radextract/internal/domain"
	"github.com/John-Robertt/radextract/internal/extract"
	"github.com/John-Robertt/radextract/internal/infra/logx"
	"github.com/John-Robertt/radextract/internal/infra/textx"
	"github.com/John-Robertt/radextract/internal/ruleset"
	"github.com/John-Robertt/radextract/internal/scan"
)

// DefaultConcurrency 是未指定并发时的 worker 数。
const DefaultConcurrency = 1

// Options 是一次批量抽取的输入（已由配置层合并、规范化）。
type Options struct {
	Dir         string
	Pattern     string
	Recursive   bool
	ExcludeDirs []string

	// Concurrency<=1 时严格串行；>1 时按文件并发，输出顺序不受完成顺序影响。
	Concurrency int

	// StripHTML 对 .html/.htm 报告先提取可见文本。
	StripHTML bool

	Extractor extract.Extractor
	Logger    *zap.Logger
	Observer  Observer
}

// Execute 扫描 Dir 下匹配 Pattern 的文件并逐个抽取。
//
// 错误语义：
// - 只有准备阶段（非法 glob、目录不可用）返回 error，此时不会读取任何文件
// - 单个文件的读取/解码/抽取失败都记录为该文件的 FileError，批次继续
// - ctx 取消后，尚未开始的文件记为 cancelled；已开始的文件照常完成
//
// 返回的 Outcomes 数量恒等于发现的文件数，顺序为发现顺序。
func Execute(ctx context.Context, opt Options, rs ruleset.Ruleset) (domain.BatchResult, error) {
	log := logx.OrNop(opt.Logger)
	obs := opt.Observer

	dir, err := filepath.Abs(filepath.Clean(opt.Dir))
	if err != nil {
		return domain.BatchResult{}, &scan.DirectoryError{Path: opt.Dir, Err: err}
	}
	if err := scan.ValidatePattern(opt.Pattern); err != nil {
		return domain.BatchResult{}, err
	}

	if obs != nil {
		obs.OnStart(opt)
	}

	discoverStarted := time.Now()
	files, err := scan.Discover(dir, scan.Options{
		Pattern:     opt.Pattern,
		Recursive:   opt.Recursive,
		ExcludeDirs: opt.ExcludeDirs,
	})
	if err != nil {
		return domain.BatchResult{}, err
	}
	discoverDur := time.Since(discoverStarted)

	log.Debug("batch.discover.done",
		zap.String("dir", dir),
		zap.String("pattern", opt.Pattern),
		zap.Int("files", len(files)),
		zap.Duration("elapsed", discoverDur),
	)

	workers := opt.Concurrency
	if workers < 1 {
		workers = DefaultConcurrency
	}
	if workers > len(files) && len(files) > 0 {
		workers = len(files)
	}

	if obs != nil {
		obs.OnPhaseDone("discover", map[string]any{"files": len(files)}, discoverDur)
		obs.OnPhaseDone("extract", map[string]any{"workers": workers, "total_files": len(files)}, 0)
	}

	res := domain.BatchResult{
		Dir:      dir,
		Pattern:  opt.Pattern,
		Outcomes: make([]domain.Outcome, len(files)),
	}
	src := textx.Source{Root: dir, StripHTML: opt.StripHTML}

	// 每个 worker 只写自己的下标：输出顺序即发现顺序，与完成顺序无关，无需加锁。
	var (
		g    errgroup.Group
		done atomic.Int64
	)
	g.SetLimit(workers)

	finish := func(i int, o domain.Outcome, dur time.Duration) {
		res.Outcomes[i] = o
		if o.Err != nil {
			log.Warn("batch.file.failed",
				zap.String("path", o.Path),
				zap.String("kind", o.Err.Kind),
				zap.String("msg", o.Err.Message),
			)
		}
		n := int(done.Add(1))
		if obs != nil {
			obs.OnFileDone(n, len(files), o, dur)
		}
	}

	for i := range files {
		f := files[i]
		if err := ctx.Err(); err != nil {
			finish(i, cancelled(f, err), 0)
			continue
		}
		g.Go(func() error {
			started := time.Now()
			if err := ctx.Err(); err != nil {
				finish(i, cancelled(f, err), 0)
				return nil
			}
			finish(i, ProcessFile(opt.Extractor, src, f, rs), time.Since(started))
			return nil
		})
	}
	_ = g.Wait()

	s := res.Summary()
	log.Info("batch.done",
		zap.String("dir", dir),
		zap.Int("total", s.Total),
		zap.Int("succeeded", s.Succeeded),
		zap.Int("partial", s.Partial),
		zap.Int("failed", s.Failed),
	)
	return res, nil
}

// ProcessFile 是单文件的隔离边界：任何失败都转成该文件的 FileError。
func ProcessFile(x extract.Extractor, src textx.Source, f domain.SourceFile, rs ruleset.Ruleset) (o domain.Outcome) {
	o.Path = f.RelPath
	defer func() {
		if r := recover(); r != nil {
			o = domain.Outcome{
				Path: f.RelPath,
				Err: &domain.FileError{
					Path:    f.RelPath,
					Kind:    domain.ErrKindExtractFailed,
					Message: fmt.Sprintf("panic: %v", r),
				},
			}
		}
	}()

	rec, err := x.File(f.AbsPath, rs, src)
	if err != nil {
		fe := extract.FileErrorFrom(f.RelPath, err)
		o.Err = fe
		return o
	}
	o.Record = &rec
	return o
}

func cancelled(f domain.SourceFile, err error) domain.Outcome {
	return domain.Outcome{
		Path: f.RelPath,
		Err: &domain.FileError{
			Path:    f.RelPath,
			Kind:    domain.ErrKindCancelled,
			Message: fmt.Sprintf("未开始处理：%v", err),
		},
	}
}
