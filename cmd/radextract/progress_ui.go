package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/John-Robertt/radextract/internal/app/run"
	"github.com/John-Robertt/radextract/internal/domain"
)

var _ run.Observer = (*progressUI)(nil)

// progressUI 是交互终端下的进度输出。
//
// - 所有过程信息写到 stderr，不污染 stdout 上的渲染结果
// - 事件驱动：run 层只发事件，CLI 决定如何展示
// - keepalive：长时间无文件完成时定期输出一行
type progressUI struct {
	w io.Writer

	mu          sync.Mutex
	startedAt   time.Time
	lastPrinted time.Time

	workers int
	total   int
	done    int
	ok      int
	partial int
	fail    int

	keepaliveThreshold time.Duration
	tickerInterval     time.Duration

	stopCh        chan struct{}
	tickerStarted bool
}

func newProgressUI(w io.Writer) *progressUI {
	return &progressUI{
		w:                  w,
		keepaliveThreshold: 6 * time.Second,
		tickerInterval:     2 * time.Second,
	}
}

func (p *progressUI) OnStart(opt run.Options) {
	now := time.Now()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.startedAt.IsZero() {
		p.startedAt = now
	}

	fmt.Fprintf(p.w, "[%s] radextract batch\n", now.Format("15:04:05"))
	fmt.Fprintln(p.w, "配置（生效）:")
	fmt.Fprintf(p.w, "  dir: %s\n", opt.Dir)
	fmt.Fprintf(p.w, "  pattern: %s\n", opt.Pattern)
	fmt.Fprintf(p.w, "  recursive: %s\n", onOff(opt.Recursive))
	if opt.Recursive {
		fmt.Fprintf(p.w, "  exclude_dirs: %s\n", formatStringListJSON(opt.ExcludeDirs))
	}
	fmt.Fprintf(p.w, "  concurrency: %d\n", opt.Concurrency)
	fmt.Fprintf(p.w, "  strip_html: %s\n", onOff(opt.StripHTML))
	fmt.Fprintln(p.w)

	p.lastPrinted = time.Now()
}

func (p *progressUI) OnPhaseDone(name string, fields map[string]any, dur time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch name {
	case "discover":
		fmt.Fprintf(p.w, "扫描: files=%d (%s)\n", intField(fields, "files"), formatShortDuration(dur))
	case "extract":
		p.workers = intField(fields, "workers")
		p.total = intField(fields, "total_files")
		fmt.Fprintf(p.w, "抽取: workers=%d total_files=%d\n\n", p.workers, p.total)
		if p.total > 0 && !p.tickerStarted {
			p.startTickerLocked()
		}
	default:
		fmt.Fprintf(p.w, "%s (%s)\n", name, formatShortDuration(dur))
	}

	p.lastPrinted = time.Now()
}

func (p *progressUI) OnFileDone(done, total int, o domain.Outcome, dur time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.done = done
	p.total = total
	switch {
	case o.Failed():
		p.fail++
	case o.Record.Status == domain.StatusPartial:
		p.partial++
	default:
		p.ok++
	}

	fmt.Fprintf(p.w, "[%d/%d] %s (%s)\n", done, total, formatOutcome(o), formatShortDuration(dur))
	p.lastPrinted = time.Now()

	// 最后一个文件完成：停止 ticker，避免在结束打印后又冒出 keepalive。
	if p.done >= p.total {
		p.stopTickerLocked()
	}
}

// Close 停止 keepalive（批次提前失败时也要调用）。
func (p *progressUI) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopTickerLocked()
}

func (p *progressUI) stopTickerLocked() {
	if p.tickerStarted {
		close(p.stopCh)
		p.tickerStarted = false
	}
}

func (p *progressUI) startTickerLocked() {
	p.stopCh = make(chan struct{})
	p.tickerStarted = true
	stopCh := p.stopCh

	interval := p.tickerInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	threshold := p.keepaliveThreshold
	if threshold <= 0 {
		threshold = 6 * time.Second
	}

	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()

		for {
			select {
			case <-t.C:
				p.mu.Lock()
				if p.total > 0 && time.Since(p.lastPrinted) > threshold {
					active := p.workers
					if remain := p.total - p.done; remain < active {
						active = remain
					}
					fmt.Fprintf(p.w, "进度: done=%d/%d ok=%d partial=%d fail=%d active=%d elapsed=%s\n",
						p.done, p.total, p.ok, p.partial, p.fail, active, formatElapsed(time.Since(p.startedAt)),
					)
					p.lastPrinted = time.Now()
				}
				p.mu.Unlock()
			case <-stopCh:
				return
			}
		}
	}()
}

// formatOutcome 生成单文件的一行描述。
func formatOutcome(o domain.Outcome) string {
	if o.Err != nil {
		return fmt.Sprintf("%s FAIL %s: %s", o.Path, o.Err.Kind, truncate(o.Err.Message, 160))
	}
	if o.Record == nil {
		return o.Path + " FAIL"
	}
	rec := o.Record
	switch rec.Status {
	case domain.StatusFailed:
		kind, msg := "", ""
		if rec.Error != nil {
			kind, msg = rec.Error.Kind, rec.Error.Message
		}
		return fmt.Sprintf("%s FAIL %s: %s", o.Path, kind, truncate(msg, 160))
	case domain.StatusPartial:
		return fmt.Sprintf("%s PARTIAL missing=%s%s", o.Path, formatList(rec.MissingFields()), ambiguousNote(*rec))
	default:
		return fmt.Sprintf("%s OK fields=%d%s", o.Path, len(rec.Fields), ambiguousNote(*rec))
	}
}

func ambiguousNote(rec domain.ExtractedRecord) string {
	var names []string
	for _, f := range rec.Fields {
		for _, m := range f.Matches {
			if m.Confidence == domain.Ambiguous {
				names = append(names, f.Name)
				break
			}
		}
	}
	if len(names) == 0 {
		return ""
	}
	return " ambiguous=" + formatList(names)
}

func formatList(xs []string) string {
	if len(xs) == 0 {
		return "-"
	}
	return strings.Join(xs, ",")
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}

func formatStringListJSON(xs []string) string {
	// json.Marshal(nil slice) => "null"；对用户更友好的是 "[]"
	if xs == nil {
		xs = []string{}
	}
	b, err := json.Marshal(xs)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	if max <= 0 || len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}

func formatShortDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}

func formatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	sec := int(d.Seconds())
	h := sec / 3600
	m := (sec % 3600) / 60
	s := sec % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

func intField(fields map[string]any, key string) int {
	if fields == nil {
		return 0
	}
	switch x := fields[key].(type) {
	case int:
		return x
	case int64:
		return int(x)
	default:
		return 0
	}
}
