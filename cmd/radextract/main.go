package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"go.uber.org/zap"

	"github.com/John-Robertt/radextract/internal/app/run"
	"github.com/John-Robertt/radextract/internal/app/watch"
	"github.com/John-Robertt/radextract/internal/config"
	"github.com/John-Robertt/radextract/internal/domain"
	"github.com/John-Robertt/radextract/internal/extract"
	"github.com/John-Robertt/radextract/internal/infra/fsx"
	"github.com/John-Robertt/radextract/internal/infra/logx"
	"github.com/John-Robertt/radextract/internal/infra/store"
	"github.com/John-Robertt/radextract/internal/infra/textx"
	"github.com/John-Robertt/radextract/internal/render"
)

func main() {
	args := os.Args[1:]
	if len(args) == 0 || isHelp(args[0]) {
		printUsage(os.Stdout)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var code int
	switch args[0] {
	case "extract":
		code = extractCmd(ctx, args[1:], os.Stdout, os.Stderr)
	case "batch":
		code = batchCmd(ctx, args[1:], os.Stdout, os.Stderr)
	case "watch":
		code = watchCmd(ctx, args[1:], os.Stdout, os.Stderr)
	case "runs":
		code = runsCmd(ctx, args[1:], os.Stdout, os.Stderr)
	case "view":
		code = viewCmd(ctx, args[1:], os.Stdout, os.Stderr)
	default:
		fmt.Fprintf(os.Stderr, "未知命令：%q\n\n", args[0])
		printUsage(os.Stderr)
		code = 2
	}
	if code != 0 {
		stop()
		os.Exit(code)
	}
}

func extractCmd(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if wantsHelp(args) {
		fmt.Fprint(stdout, extractUsage)
		return 0
	}
	ca, err := parseArgs(args, flagConfig, flagFormat, flagOut, flagLogLevel)
	if err != nil || ca.Path == "" {
		if err == nil {
			err = fmt.Errorf("缺少报告文件路径")
		}
		return usageError(stderr, err, extractUsage)
	}

	file, err := filepath.Abs(ca.Path)
	if err != nil {
		fmt.Fprintf(stderr, "无效路径：%v\n", err)
		return 1
	}
	cli := ca.configArgs()
	cli.Path = filepath.Dir(file)

	eff, log, code := loadConfig(cli, stderr)
	if code != 0 {
		return code
	}
	defer func() { _ = log.Sync() }()
	if code := checkOutput(eff.Format, ca.Out, stdout, stderr); code != 0 {
		return code
	}

	src := textx.Source{Root: eff.Path, StripHTML: eff.StripHTML}
	rec, err := extract.Extractor{}.File(file, eff.Rules, src)
	if err != nil {
		log.Warn("extract.failed", zap.String("path", file), zap.Error(err))
	}

	if err := emit(ca.Out, stdout, func(w io.Writer) error {
		return render.WriteRecord(w, eff.Format, rec)
	}); err != nil {
		fmt.Fprintf(stderr, "写出结果失败：%v\n", err)
		return 1
	}

	fmt.Fprintf(stderr, "完成：%s status=%s missing=%s\n", rec.DocumentID, rec.Status, formatList(rec.MissingFields()))
	if rec.Status == domain.StatusFailed {
		return 1
	}
	return 0
}

func batchCmd(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if wantsHelp(args) {
		fmt.Fprint(stdout, batchUsage)
		return 0
	}
	ca, err := parseArgs(args, flagConfig, flagPattern, flagRecursive, flagFormat, flagOut, flagOutDir, flagDB, flagLogLevel)
	if err != nil {
		return usageError(stderr, err, batchUsage)
	}

	eff, log, code := loadConfig(ca.configArgs(), stderr)
	if code != 0 {
		return code
	}
	defer func() { _ = log.Sync() }()
	if code := checkOutput(eff.Format, ca.Out, stdout, stderr); code != 0 {
		return code
	}

	progressW, interactive := pickProgressWriter(stderr)
	var obs run.Observer
	if interactive {
		ui := newProgressUI(progressW)
		defer ui.Close()
		obs = ui
	}

	res, err := run.Execute(ctx, run.Options{
		Dir:         eff.Path,
		Pattern:     eff.Pattern,
		Recursive:   eff.Recursive,
		ExcludeDirs: eff.ExcludeDirs,
		Concurrency: eff.Concurrency,
		StripHTML:   eff.StripHTML,
		Logger:      log,
		Observer:    obs,
	}, eff.Rules)
	if err != nil {
		fmt.Fprintf(stderr, "批量抽取无法开始：%v\n", err)
		return 1
	}

	if err := emit(ca.Out, stdout, func(w io.Writer) error {
		return render.WriteBatch(w, eff.Format, res)
	}); err != nil {
		fmt.Fprintf(stderr, "写出结果失败：%v\n", err)
		return 1
	}
	if ca.OutDir != "" {
		if err := writeOutDir(ca.OutDir, eff.Format, res); err != nil {
			fmt.Fprintf(stderr, "写出结果失败：%v\n", err)
			return 1
		}
	}

	if eff.DB != "" {
		if err := saveRun(ctx, eff.DB, res, stderr); err != nil {
			fmt.Fprintf(stderr, "保存到数据库失败：%v\n", err)
			return 1
		}
	}

	emitSummary(stderr, res)
	if ca.Out != "" {
		fmt.Fprintf(stderr, "out: %s\n", ca.Out)
	}
	if res.OK() {
		return 0
	}
	return 1
}

func watchCmd(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if wantsHelp(args) {
		fmt.Fprint(stdout, watchUsage)
		return 0
	}
	ca, err := parseArgs(args, flagConfig, flagPattern, flagRecursive, flagLogLevel)
	if err != nil {
		return usageError(stderr, err, watchUsage)
	}

	eff, log, code := loadConfig(ca.configArgs(), stderr)
	if code != 0 {
		return code
	}
	defer func() { _ = log.Sync() }()

	// stdout 写失败（例如管道被关闭）时停止监听，不再继续抽取。
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var writeErr error

	// 每个结果一行 JSON，便于管道消费。
	enc := json.NewEncoder(stdout)
	enc.SetEscapeHTML(false)
	err = watch.Run(wctx, watch.Options{
		Dir:         eff.Path,
		Pattern:     eff.Pattern,
		Recursive:   eff.Recursive,
		ExcludeDirs: eff.ExcludeDirs,
		StripHTML:   eff.StripHTML,
		InitialScan: true,
		Logger:      log,
	}, eff.Rules, func(o domain.Outcome) {
		if writeErr != nil {
			return
		}
		one := render.Batch(domain.BatchResult{Outcomes: []domain.Outcome{o}}, render.Options{})
		if err := enc.Encode(one.Outcomes[0]); err != nil {
			writeErr = err
			log.Error("watch.output.failed", zap.String("path", o.Path), zap.Error(err))
			cancel()
		}
	})
	if err != nil {
		fmt.Fprintf(stderr, "监听失败：%v\n", err)
		return 1
	}
	if writeErr != nil {
		fmt.Fprintf(stderr, "写出结果失败：%v\n", writeErr)
		return 1
	}
	return 0
}

func runsCmd(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if wantsHelp(args) {
		fmt.Fprint(stdout, runsUsage)
		return 0
	}
	ca, err := parseArgs(args, flagConfig, flagDB)
	if err != nil {
		return usageError(stderr, err, runsUsage)
	}

	dbPath := ""
	if ca.DBSet {
		dbPath = ca.DB
	} else {
		cwd, err := os.Getwd()
		if err != nil {
			fmt.Fprintf(stderr, "读取当前目录失败：%v\n", err)
			return 1
		}
		eff, err := config.LoadEffective(cwd, ca.configArgs())
		if err != nil {
			return configError(stderr, err)
		}
		dbPath = eff.DB
	}
	if dbPath == "" {
		return usageError(stderr, fmt.Errorf("未指定数据库：请使用 --db 或在配置中设置 db"), runsUsage)
	}
	if _, err := os.Stat(dbPath); err != nil {
		fmt.Fprintf(stderr, "数据库不可用：%v\n", err)
		return 1
	}

	st, err := store.Open(dbPath)
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return 1
	}
	defer st.Close()

	runs, err := st.ListRuns(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "读取历史失败：%v\n", err)
		return 1
	}
	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCREATED\tDIR\tPATTERN\tTOTAL\tOK\tPARTIAL\tFAILED")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%d\n",
			r.ID, r.CreatedAt.Local().Format(time.DateTime), r.Dir, r.Pattern,
			r.Summary.Total, r.Summary.Succeeded, r.Summary.Partial, r.Summary.Failed,
		)
	}
	if err := tw.Flush(); err != nil {
		return 1
	}
	return 0
}

func viewCmd(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if wantsHelp(args) {
		fmt.Fprint(stdout, viewUsage)
		return 0
	}
	ca, err := parseArgs(args, flagConfig, flagFields, flagJSON, flagOut, flagLogLevel)
	if err != nil || ca.Path == "" {
		if err == nil {
			err = fmt.Errorf("缺少报告文件路径")
		}
		return usageError(stderr, err, viewUsage)
	}

	file, err := filepath.Abs(ca.Path)
	if err != nil {
		fmt.Fprintf(stderr, "无效路径：%v\n", err)
		return 1
	}
	cli := ca.configArgs()
	cli.Path = filepath.Dir(file)

	eff, log, code := loadConfig(cli, stderr)
	if code != 0 {
		return code
	}
	defer func() { _ = log.Sync() }()
	for _, f := range ca.Fields {
		if _, ok := eff.Rules.Lookup(f); !ok {
			return usageError(stderr, fmt.Errorf("未知字段 %q（可选 %s）", f, formatList(eff.Rules.Names())), viewUsage)
		}
	}

	src := textx.Source{Root: eff.Path, StripHTML: eff.StripHTML}
	doc, err := src.Load(file)
	if err != nil {
		fmt.Fprintf(stderr, "读取报告失败：%v\n", err)
		return 1
	}
	rec, err := extract.Extractor{}.Extract(doc, eff.Rules)
	if err != nil {
		log.Error("view.extract.failed", zap.String("path", file), zap.Error(err))
		fmt.Fprintf(stderr, "抽取失败：%v\n", err)
		return 1
	}

	a := render.Annotate(doc, rec, ca.Fields)
	color := ca.Out == "" && isTTYWriter(stdout)
	if err := emit(ca.Out, stdout, func(w io.Writer) error {
		if ca.JSON {
			return render.WriteAnnotatedJSON(w, a)
		}
		return render.WriteAnnotatedText(w, a, color)
	}); err != nil {
		fmt.Fprintf(stderr, "写出结果失败：%v\n", err)
		return 1
	}
	return 0
}

// loadConfig 读取生效配置并按配置构造 logger；返回非 0 表示应直接退出。
func loadConfig(cli config.CLIArgs, stderr io.Writer) (config.EffectiveConfig, *zap.Logger, int) {
	cwd, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(stderr, "读取当前目录失败：%v\n", err)
		return config.EffectiveConfig{}, nil, 1
	}
	eff, err := config.LoadEffective(cwd, cli)
	if err != nil {
		return config.EffectiveConfig{}, nil, configError(stderr, err)
	}
	log, err := logx.New(stderr, eff.LogLevel, isTTYWriter(stderr))
	if err != nil {
		fmt.Fprintf(stderr, "初始化日志失败：%v\n", err)
		return config.EffectiveConfig{}, nil, 1
	}
	log.Debug("config.loaded",
		zap.String("config", eff.ConfigFile),
		zap.String("path", eff.Path),
		zap.Int("rules", eff.Rules.Len()),
	)
	return eff, log, 0
}

func configError(stderr io.Writer, err error) int {
	fmt.Fprintf(stderr, "配置错误（error_code=%s）：%v\n", config.Code(err), err)
	return 1
}

func usageError(stderr io.Writer, err error, usage string) int {
	fmt.Fprintf(stderr, "参数错误：%v\n\n", err)
	fmt.Fprint(stderr, usage)
	return 2
}

// checkOutput 拒绝把 xlsx 二进制写到交互终端。
func checkOutput(format, out string, stdout, stderr io.Writer) int {
	if format == render.FormatXLSX && out == "" && isTTYWriter(stdout) {
		return usageError(stderr, fmt.Errorf("xlsx 输出需要 --out"), "")
	}
	return 0
}

// emit 写到 --out（原子替换）或 stdout。
func emit(out string, stdout io.Writer, write func(io.Writer) error) error {
	if out == "" {
		return write(stdout)
	}
	return fsx.WriteAtomic(out, write)
}

// writeOutDir 为每个结果单独写一个文件：<dir>/<相对路径>.<format>。
// 没有记录的 FileError 以 FAILED 记录写出，保证每个发现的文件都有对应输出。
func writeOutDir(dir, format string, res domain.BatchResult) error {
	for _, o := range res.Outcomes {
		rec := domain.ExtractedRecord{DocumentID: o.Path, Status: domain.StatusFailed, Error: o.Err}
		if o.Record != nil {
			rec = *o.Record
		}
		name := filepath.Join(dir, filepath.FromSlash(o.Path)+"."+format)
		if err := fsx.WriteAtomic(name, func(w io.Writer) error {
			return render.WriteRecord(w, format, rec)
		}); err != nil {
			return fmt.Errorf("%s：%w", o.Path, err)
		}
	}
	return nil
}

func saveRun(ctx context.Context, dbPath string, res domain.BatchResult, stderr io.Writer) error {
	st, err := store.Open(dbPath)
	if err != nil {
		return err
	}
	defer st.Close()
	id, err := st.SaveBatch(ctx, res)
	if err != nil {
		return err
	}
	fmt.Fprintf(stderr, "run: %s (%s)\n", id, dbPath)
	return nil
}

func emitSummary(w io.Writer, res domain.BatchResult) {
	s := res.Summary()
	if s.Total == 0 {
		fmt.Fprintf(w, "没有匹配的文件：dir=%s pattern=%s\n", res.Dir, res.Pattern)
		return
	}
	for _, o := range res.Outcomes {
		switch {
		case o.Err != nil:
			fmt.Fprintf(w, "%s %s: %s\n", o.Path, o.Err.Kind, truncate(o.Err.Message, 160))
		case o.Record != nil && o.Record.Error != nil:
			fmt.Fprintf(w, "%s %s: %s\n", o.Path, o.Record.Error.Kind, truncate(o.Record.Error.Message, 160))
		}
	}
	fmt.Fprintf(w, "完成：total=%d succeeded=%d partial=%d failed=%d\n", s.Total, s.Succeeded, s.Partial, s.Failed)
}

const (
	flagConfig    = "config"
	flagPattern   = "pattern"
	flagRecursive = "recursive"
	flagFormat    = "format"
	flagOut       = "out"
	flagDB        = "db"
	flagLogLevel  = "log-level"
	flagOutDir    = "out-dir"
	flagFields    = "fields"
	flagJSON      = "json"
)

type cliArgs struct {
	Path string

	Config string

	Pattern    string
	PatternSet bool

	Recursive    bool
	RecursiveSet bool

	Format    string
	FormatSet bool

	Out    string
	OutDir string

	// view 专用
	Fields []string
	JSON   bool

	DB    string
	DBSet bool

	LogLevel    string
	LogLevelSet bool
}

func (a cliArgs) configArgs() config.CLIArgs {
	return config.CLIArgs{
		Path:         a.Path,
		ConfigFile:   a.Config,
		Pattern:      a.Pattern,
		PatternSet:   a.PatternSet,
		Recursive:    a.Recursive,
		RecursiveSet: a.RecursiveSet,
		Format:       a.Format,
		FormatSet:    a.FormatSet,
		DB:           a.DB,
		DBSet:        a.DBSet,
		LogLevel:     a.LogLevel,
		LogLevelSet:  a.LogLevelSet,
	}
}

// parseArgs 解析 "--name value"、"--name=value" 与最多一个位置参数；allowed 之外的参数视为错误。
func parseArgs(args []string, allowed ...string) (cliArgs, error) {
	var ca cliArgs
	ok := make(map[string]bool, len(allowed))
	for _, a := range allowed {
		ok[a] = true
	}

	for i := 0; i < len(args); i++ {
		a := args[i]
		if !strings.HasPrefix(a, "-") || a == "-" {
			if ca.Path != "" {
				return cliArgs{}, fmt.Errorf("重复的 path：%q 与 %q", ca.Path, a)
			}
			ca.Path = a
			continue
		}

		name, val, hasVal := strings.Cut(strings.TrimLeft(a, "-"), "=")
		if !ok[name] {
			return cliArgs{}, fmt.Errorf("未知参数 %q", a)
		}

		if name == flagRecursive || name == flagJSON {
			b := true
			if hasVal {
				switch val {
				case "true":
				case "false":
					b = false
				default:
					return cliArgs{}, fmt.Errorf("--%s 只能是 true 或 false，实际是 %q", name, val)
				}
			}
			if name == flagJSON {
				ca.JSON = b
			} else {
				ca.Recursive, ca.RecursiveSet = b, true
			}
			continue
		}

		if !hasVal {
			if i+1 >= len(args) {
				return cliArgs{}, fmt.Errorf("--%s 需要一个值", name)
			}
			i++
			val = args[i]
		}
		if strings.TrimSpace(val) == "" {
			return cliArgs{}, fmt.Errorf("--%s 不能为空", name)
		}

		switch name {
		case flagConfig:
			ca.Config = val
		case flagPattern:
			ca.Pattern, ca.PatternSet = val, true
		case flagFormat:
			f, err := render.ParseFormat(val)
			if err != nil {
				return cliArgs{}, err
			}
			ca.Format, ca.FormatSet = f, true
		case flagOut:
			ca.Out = val
		case flagOutDir:
			ca.OutDir = val
		case flagFields:
			for _, f := range strings.Split(val, ",") {
				if f = strings.TrimSpace(f); f != "" {
					ca.Fields = append(ca.Fields, f)
				}
			}
		case flagDB:
			ca.DB, ca.DBSet = val, true
		case flagLogLevel:
			if !logx.ValidLevel(val) {
				return cliArgs{}, fmt.Errorf("--log-level 不合法：%q", val)
			}
			ca.LogLevel, ca.LogLevelSet = val, true
		}
	}
	return ca, nil
}

func isHelp(s string) bool {
	return s == "-h" || s == "--help" || s == "help"
}

func wantsHelp(args []string) bool {
	for _, a := range args {
		if isHelp(a) {
			return true
		}
	}
	return false
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `用法：
  radextract extract <file> [--config f] [--format json|yaml|csv|xlsx] [--out f]
  radextract batch [dir] [--pattern g] [--recursive] [--format f] [--out f] [--db f]
  radextract watch [dir] [--pattern g] [--recursive]
  radextract runs [--db f]
  radextract view <file> [--fields a,b] [--json]

命令：
  extract  抽取单个报告
  batch    批量抽取目录下匹配的报告
  watch    监听目录，新报告到达时抽取（每行一个 JSON）
  runs     列出已保存到数据库的批次
  view     在原文上高亮显示各字段的匹配区间

使用 "radextract <命令> --help" 查看详细说明。
`)
}

const commonFlags = `  --config     配置文件（默认依次查找 <dir>/radextract.yaml、<cwd>/radextract.yaml）
  --log-level  debug|info|warn|error（日志写 stderr）
  -h, --help   显示帮助
`

const extractUsage = `用法：
  radextract extract <file> [--config f] [--format f] [--out f]

参数：
  --format     json|yaml|csv|xlsx（默认读配置；最终默认 json）
  --out        写到文件（原子替换）；默认 stdout
` + commonFlags

const batchUsage = `用法：
  radextract batch [dir] [--pattern g] [--recursive[=true|false]] [--format f] [--out f] [--out-dir d] [--db f]

参数：
  --pattern    glob（* ? [...]；含 / 时匹配相对路径），默认 *.txt
  --recursive  递归子目录；支持 --recursive=false 覆盖配置
  --format     json|yaml|csv|xlsx
  --out        写到文件（原子替换）；默认 stdout
  --out-dir    另外为每个报告写一个文件：<d>/<相对路径>.<format>
  --db         把本次结果保存到 SQLite
` + commonFlags

const watchUsage = `用法：
  radextract watch [dir] [--pattern g] [--recursive[=true|false]]

启动时先处理已有文件，之后每个新建/修改的报告输出一行 JSON；Ctrl-C 退出。
` + commonFlags

const viewUsage = `用法：
  radextract view <file> [--config f] [--fields a,b] [--json] [--out f]

参数：
  --fields     只显示这些字段（逗号分隔）
  --json       输出 {"text","entities":[[start,end,text,label]]}，默认终端高亮
  --out        写到文件（原子替换）；默认 stdout
` + commonFlags

const runsUsage = `用法：
  radextract runs [--db f] [--config f]
`

func isTTYWriter(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isTTY(f)
}

func isTTY(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

func pickProgressWriter(stderr io.Writer) (io.Writer, bool) {
	// 进度输出只在交互终端启用，且只写 stderr（不污染 stdout 上的结果）。
	if isTTYWriter(stderr) {
		return stderr, true
	}
	return nil, false
}
