package domain

import (
	"fmt"
	"sort"
)

const (
	ErrKindReadFailed    = "read_failed"
	ErrKindDecodeFailed  = "decode_failed"
	ErrKindExtractFailed = "extract_failed"
	ErrKindCancelled     = "cancelled"
)

// FileError 描述单个文件的失败（只影响该文件，不影响批次内其他文件）。
type FileError struct {
	Path    string
	Kind    string
	Message string
}

func (e *FileError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Path, e.Kind, e.Message)
}

// Outcome 是批次中一个文件的结果：Record 与 Err 二选一。
type Outcome struct {
	Path   string
	Record *ExtractedRecord
	Err    *FileError
}

// Failed 报告该文件是否算作失败（FileError 或 FAILED 记录）。
func (o Outcome) Failed() bool {
	if o.Err != nil {
		return true
	}
	return o.Record == nil || o.Record.Status == StatusFailed
}

// BatchResult 是一次批量抽取的对外结果。
//
// 约束：Outcomes 按发现顺序（相对路径字典序）排列；统计只能通过 Summary 推导，不单独存储。
type BatchResult struct {
	Dir      string
	Pattern  string
	Outcomes []Outcome
}

type BatchSummary struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Partial   int `json:"partial"`
	Failed    int `json:"failed"`
}

// Summary 每次调用都从 Outcomes 重新计算。
// succeeded 只统计 COMPLETE；PARTIAL 单独计数；FileError 与 FAILED 记录计入 failed。
func (r BatchResult) Summary() BatchSummary {
	s := BatchSummary{Total: len(r.Outcomes)}
	for _, o := range r.Outcomes {
		switch {
		case o.Failed():
			s.Failed++
		case o.Record.Status == StatusPartial:
			s.Partial++
		default:
			s.Succeeded++
		}
	}
	return s
}

// Sort 把 Outcomes 稳定排序为按 Path 字典序（并发执行后用于恢复发现顺序）。
func (r *BatchResult) Sort() {
	sort.SliceStable(r.Outcomes, func(i, j int) bool { return r.Outcomes[i].Path < r.Outcomes[j].Path })
}

// OK 对应 CLI 退出码语义：至少一个文件，且没有任何失败。
func (r BatchResult) OK() bool {
	s := r.Summary()
	return s.Total > 0 && s.Failed == 0
}
