package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/John-Robertt/radextract/internal/render"
)

const testConfig = `
pattern: "*.txt"
concurrency: 2
rules:
  - name: age
    pattern: 'Age:\s*(?P<value>\d+)'
    type: number
    required: true
  - name: side
    pattern: '(?i)side:\s*(\w+)'
    type: enum
    enum: [left, right]
    aliases: {L: left, R: right}
`

func seedReports(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "radextract.yaml"), []byte(testConfig), 0o644); err != nil {
		t.Fatalf("写入配置失败：%v", err)
	}
	for name, body := range files {
		p := filepath.Join(root, name)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatalf("创建目录失败：%v", err)
		}
		if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
			t.Fatalf("写入文件失败：%v", err)
		}
	}
	return root
}

func TestBatchCmd_StdoutOnlyRenderedJSON(t *testing.T) {
	root := seedReports(t, map[string]string{
		"a.txt": "Age: 54\nSide: L\n",
		"b.txt": "",
		"c.txt": "no data\n",
	})

	var stdout, stderr bytes.Buffer
	code := batchCmd(context.Background(), []string{root}, &stdout, &stderr)
	if code != 1 {
		t.Fatalf("存在失败文件时退出码应为 1，实际 %d\nstderr=%s", code, stderr.String())
	}

	var got render.BatchView
	if err := json.Unmarshal(stdout.Bytes(), &got); err != nil {
		t.Fatalf("stdout 不是合法 JSON：%v\nstdout=%q", err, stdout.String())
	}
	if got.Summary.Total != 3 || got.Summary.Succeeded != 1 || got.Summary.Partial != 1 || got.Summary.Failed != 1 {
		t.Fatalf("summary 不符合预期：%+v", got.Summary)
	}
	side := got.Outcomes[0].Record.Fields[1]
	if side.Name != "side" || side.Matches[0].Value != "left" || side.Matches[0].Confidence != "INFERRED" {
		t.Fatalf("别名规范化不符合预期：%+v", side)
	}
	if !strings.Contains(stderr.String(), "完成：total=3 succeeded=1 partial=1 failed=1") {
		t.Fatalf("stderr 缺少完成摘要：%q", stderr.String())
	}
	if !strings.Contains(stderr.String(), "b.txt decode_failed") {
		t.Fatalf("stderr 应列出失败文件：%q", stderr.String())
	}
}

func TestBatchCmd_CSVOutAndDB(t *testing.T) {
	root := seedReports(t, map[string]string{
		"a.txt": "Age: 54\nSide: right\n",
		"d.txt": "Age: 7\n",
	})
	out := filepath.Join(t.TempDir(), "res", "out.csv")
	db := filepath.Join(t.TempDir(), "runs.db")

	var stdout, stderr bytes.Buffer
	code := batchCmd(context.Background(), []string{root, "--format", "csv", "--out", out, "--db=" + db}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("期望退出码 0，实际 %d\nstderr=%s", code, stderr.String())
	}
	if stdout.Len() != 0 {
		t.Fatalf("--out 时 stdout 应为空：%q", stdout.String())
	}

	f, err := os.Open(out)
	if err != nil {
		t.Fatalf("输出文件不存在：%v", err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("CSV 无法解析：%v", err)
	}
	// 表头 + a(age, side) + d(age)
	if len(rows) != 4 {
		t.Fatalf("CSV 行数不符合预期：%v", rows)
	}

	var runsOut, runsErr bytes.Buffer
	if code := runsCmd(context.Background(), []string{"--db", db}, &runsOut, &runsErr); code != 0 {
		t.Fatalf("runs 失败：%d %s", code, runsErr.String())
	}
	lines := strings.Split(strings.TrimSpace(runsOut.String()), "\n")
	if len(lines) != 2 || !strings.Contains(lines[1], root) {
		t.Fatalf("runs 输出不符合预期：\n%s", runsOut.String())
	}
}

func TestBatchCmd_NoMatchesExitsNonZero(t *testing.T) {
	root := seedReports(t, map[string]string{"a.md": "Age: 1\n"})

	var stdout, stderr bytes.Buffer
	if code := batchCmd(context.Background(), []string{root}, &stdout, &stderr); code != 1 {
		t.Fatalf("0 个文件时退出码应为 1，实际 %d", code)
	}
	if !strings.Contains(stderr.String(), "没有匹配的文件") {
		t.Fatalf("stderr 应提示没有匹配：%q", stderr.String())
	}
}

func TestBatchCmd_InvalidPattern(t *testing.T) {
	root := seedReports(t, nil)

	var stdout, stderr bytes.Buffer
	if code := batchCmd(context.Background(), []string{root, "--pattern", "[a-"}, &stdout, &stderr); code != 1 {
		t.Fatalf("非法 glob 退出码应为 1，实际 %d", code)
	}
	if stdout.Len() != 0 {
		t.Fatalf("非法 glob 时不应输出结果：%q", stdout.String())
	}
}

func TestExtractCmd_YAML(t *testing.T) {
	root := seedReports(t, map[string]string{"r.txt": "Side: R\n"})

	var stdout, stderr bytes.Buffer
	code := extractCmd(context.Background(), []string{filepath.Join(root, "r.txt"), "--format=yaml"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("PARTIAL 记录退出码应为 0，实际 %d\nstderr=%s", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), "missing: true") || !strings.Contains(stdout.String(), "status: PARTIAL") {
		t.Fatalf("YAML 输出不符合预期：\n%s", stdout.String())
	}
}

func TestExtractCmd_UsageErrors(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := extractCmd(context.Background(), nil, &stdout, &stderr); code != 2 {
		t.Fatalf("缺少文件时退出码应为 2，实际 %d", code)
	}
	if code := extractCmd(context.Background(), []string{"a.txt", "--pattern", "x"}, &stdout, &stderr); code != 2 {
		t.Fatalf("extract 不接受 --pattern，退出码应为 2，实际 %d", code)
	}
}

func TestParseArgs(t *testing.T) {
	ca, err := parseArgs([]string{"dir", "--recursive=false", "--pattern", "*.rpt", "--format=CSV"},
		flagPattern, flagRecursive, flagFormat)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if ca.Path != "dir" || ca.Recursive || !ca.RecursiveSet || ca.Pattern != "*.rpt" || ca.Format != "csv" {
		t.Fatalf("解析结果不符合预期：%+v", ca)
	}

	bad := [][]string{
		{"a", "b"},
		{"--unknown"},
		{"--pattern"},
		{"--recursive=maybe"},
		{"--format", "pdf"},
		{"--log-level", "fatal"},
		{"--log-level=panic"},
	}
	for _, args := range bad {
		if _, err := parseArgs(args, flagPattern, flagRecursive, flagFormat, flagLogLevel); err == nil {
			t.Fatalf("期望参数错误：%v", args)
		}
	}

	ca, err = parseArgs([]string{"r.txt", "--fields", "age, side,", "--json"}, flagFields, flagJSON)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if !ca.JSON || strings.Join(ca.Fields, "|") != "age|side" {
		t.Fatalf("view 参数解析不符合预期：%+v", ca)
	}
}

func TestBatchCmd_OutDirWritesOneFilePerReport(t *testing.T) {
	root := seedReports(t, map[string]string{
		"a.txt":     "Age: 54\n",
		"sub/b.txt": "Age: 60\n",
		"c.txt":     "",
	})
	outDir := filepath.Join(t.TempDir(), "per-file")

	var stdout, stderr bytes.Buffer
	code := batchCmd(context.Background(), []string{root, "--recursive", "--out-dir", outDir}, &stdout, &stderr)
	if code != 1 {
		t.Fatalf("c.txt 为空，退出码应为 1，实际 %d\nstderr=%s", code, stderr.String())
	}
	if stdout.Len() == 0 {
		t.Fatalf("--out-dir 不应替代 stdout 上的批次结果")
	}

	var a render.RecordView
	data, err := os.ReadFile(filepath.Join(outDir, "a.txt.json"))
	if err != nil {
		t.Fatalf("缺少 a.txt.json：%v", err)
	}
	if err := json.Unmarshal(data, &a); err != nil || a.Status != "COMPLETE" {
		t.Fatalf("a.txt.json 内容不符合预期：%v\n%s", err, data)
	}
	if _, err := os.Stat(filepath.Join(outDir, "sub", "b.txt.json")); err != nil {
		t.Fatalf("子目录结果应保留相对路径：%v", err)
	}

	var c render.RecordView
	data, err = os.ReadFile(filepath.Join(outDir, "c.txt.json"))
	if err != nil {
		t.Fatalf("失败文件也应有输出：%v", err)
	}
	if err := json.Unmarshal(data, &c); err != nil || c.Status != "FAILED" || c.Error == nil {
		t.Fatalf("c.txt.json 应为带错误的 FAILED 记录：%v\n%s", err, data)
	}
}

func TestViewCmd_TextAndJSON(t *testing.T) {
	root := seedReports(t, map[string]string{"r.txt": "Age: 54\nSide: L\n"})
	file := filepath.Join(root, "r.txt")

	var stdout, stderr bytes.Buffer
	if code := viewCmd(context.Background(), []string{file}, &stdout, &stderr); code != 0 {
		t.Fatalf("期望退出码 0，实际 %d\nstderr=%s", code, stderr.String())
	}
	if !strings.HasSuffix(stdout.String(), "[Age: 54|age]\n[Side: L|side]\n") {
		t.Fatalf("非终端输出应使用 [原文|字段] 标记：\n%s", stdout.String())
	}

	stdout.Reset()
	if code := viewCmd(context.Background(), []string{file, "--json", "--fields=side"}, &stdout, &stderr); code != 0 {
		t.Fatalf("期望退出码 0，实际 %d\nstderr=%s", code, stderr.String())
	}
	var got struct {
		Text     string  `json:"text"`
		Entities [][]any `json:"entities"`
	}
	if err := json.Unmarshal(stdout.Bytes(), &got); err != nil {
		t.Fatalf("stdout 不是合法 JSON：%v\n%s", err, stdout.String())
	}
	if got.Text != "Age: 54\nSide: L\n" || len(got.Entities) != 1 {
		t.Fatalf("JSON 视图不符合预期：%+v", got)
	}
	if got.Entities[0][3] != "side:INFERRED" || got.Entities[0][0] != float64(8) {
		t.Fatalf("entity 不符合预期：%v", got.Entities[0])
	}
}

func TestViewCmd_UnknownField(t *testing.T) {
	root := seedReports(t, map[string]string{"r.txt": "Age: 54\n"})

	var stdout, stderr bytes.Buffer
	code := viewCmd(context.Background(), []string{filepath.Join(root, "r.txt"), "--fields", "weight"}, &stdout, &stderr)
	if code != 2 {
		t.Fatalf("未知字段退出码应为 2，实际 %d", code)
	}
	if !strings.Contains(stderr.String(), "weight") {
		t.Fatalf("stderr 应指出未知字段：%q", stderr.String())
	}
}

type brokenPipe struct{}

func (brokenPipe) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

func TestWatchCmd_StdoutFailureStopsWatch(t *testing.T) {
	root := seedReports(t, map[string]string{"a.txt": "Age: 54\n", "b.txt": "Age: 55\n"})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var stderr bytes.Buffer
	code := watchCmd(ctx, []string{root}, brokenPipe{}, &stderr)
	if ctx.Err() != nil {
		t.Fatalf("stdout 写失败后应立即停止监听")
	}
	if code != 1 {
		t.Fatalf("stdout 写失败退出码应为 1，实际 %d", code)
	}
	if !strings.Contains(stderr.String(), "broken pipe") {
		t.Fatalf("stderr 应包含写失败原因：%q", stderr.String())
	}
}
