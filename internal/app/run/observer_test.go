package run

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/John-Robertt/radextract/internal/domain"
)

type recordObserver struct {
	mu sync.Mutex

	startCalls int
	phases     []string
	files      []string
	dones      []int
	total      int
}

func (o *recordObserver) OnStart(opt Options) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.startCalls++
}

func (o *recordObserver) OnPhaseDone(name string, fields map[string]any, dur time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.phases = append(o.phases, name)
}

func (o *recordObserver) OnFileDone(done, total int, out domain.Outcome, dur time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.files = append(o.files, out.Path)
	o.dones = append(o.dones, done)
	o.total = total
}

func TestExecute_EmitsPhaseAndFileEvents(t *testing.T) {
	root := seedBatch(t)
	obs := &recordObserver{}

	_, err := Execute(context.Background(), Options{
		Dir:         root,
		Pattern:     "*.txt",
		Concurrency: 2,
		Observer:    obs,
	}, ageRuleset(t))
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}

	if obs.startCalls != 1 {
		t.Fatalf("期望 OnStart 调用 1 次，实际 %d", obs.startCalls)
	}
	if diff := cmp.Diff([]string{"discover", "extract"}, obs.phases); diff != "" {
		t.Fatalf("阶段事件不符合预期 (-want +got):\n%s", diff)
	}

	// 完成顺序不确定；只断言集合与计数。
	slices.Sort(obs.files)
	slices.Sort(obs.dones)
	if diff := cmp.Diff([]string{"a.txt", "b.txt", "c.txt"}, obs.files); diff != "" {
		t.Fatalf("文件事件不符合预期:\n%s", diff)
	}
	if diff := cmp.Diff([]int{1, 2, 3}, obs.dones); diff != "" {
		t.Fatalf("完成计数不符合预期:\n%s", diff)
	}
	if obs.total != 3 {
		t.Fatalf("total 期望 3，实际 %d", obs.total)
	}
}

func TestExecute_NilObserver_SameResult(t *testing.T) {
	root := seedBatch(t)
	rs := ageRuleset(t)

	a, err := Execute(context.Background(), Options{Dir: root, Pattern: "*.txt"}, rs)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	b, err := Execute(context.Background(), Options{Dir: root, Pattern: "*.txt", Observer: &recordObserver{}}, rs)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if diff := cmp.Diff(a, b); diff != "" {
		t.Fatalf("observer 不应改变结果:\n%s", diff)
	}
}
