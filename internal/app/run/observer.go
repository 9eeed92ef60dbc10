package run

import (
	"time"

	"github.com/John-Robertt/radextract/internal/domain"
)

// Observer 用于把“批次进度/阶段/单文件结果”从核心执行流程中解耦出来。
//
// 约束：
// - run 包只负责发事件，不做任何输出（避免污染 stdout 上的结构化结果）。
// - Observer 的实现必须并发安全：OnFileDone 可能来自多个 goroutine。
type Observer interface {
	// OnStart 在 Execute 通过参数校验后立即调用。
	OnStart(opt Options)
	// OnPhaseDone 在阶段结束/就绪时调用（discover、extract）。
	OnPhaseDone(name string, fields map[string]any, dur time.Duration)
	// OnFileDone 在某个文件得到结果时调用；done 为已完成数（1..total），与下标无关。
	OnFileDone(done, total int, o domain.Outcome, dur time.Duration)
}
