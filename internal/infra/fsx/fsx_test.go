package fsx

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func assertNoTemp(t *testing.T, dir, name string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir 失败：%v", err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "."+name+".tmp-") {
			t.Fatalf("临时文件未清理：%q", e.Name())
		}
	}
}

func TestWriteFileAtomic_SuccessAndNoTempLeft(t *testing.T) {
	dir := t.TempDir()
	dst := filepath.Join(dir, "out", "result.json")

	if err := WriteFileAtomic(dst, []byte("{}\n")); err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	b, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("读取文件失败：%v", err)
	}
	if string(b) != "{}\n" {
		t.Fatalf("内容不一致：%q", string(b))
	}
	assertNoTemp(t, filepath.Dir(dst), "result.json")

	// 覆盖已有文件。
	if err := WriteFileAtomic(dst, []byte("[]\n")); err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	b, _ = os.ReadFile(dst)
	if string(b) != "[]\n" {
		t.Fatalf("覆盖后内容不一致：%q", string(b))
	}
}

func TestWriteAtomic_WriterFailKeepsOldContent(t *testing.T) {
	dir := t.TempDir()
	dst := filepath.Join(dir, "result.csv")
	if err := os.WriteFile(dst, []byte("old"), 0o644); err != nil {
		t.Fatalf("写入文件失败：%v", err)
	}

	boom := errors.New("render failed")
	err := WriteAtomic(dst, func(w io.Writer) error {
		_, _ = w.Write([]byte("partial"))
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("期望透传 render 错误，实际 %v", err)
	}
	b, _ := os.ReadFile(dst)
	if string(b) != "old" {
		t.Fatalf("失败时不应改动目标文件：%q", string(b))
	}
	assertNoTemp(t, dir, "result.csv")
}

func TestWriteFileAtomic_RenameFail_CleanupTemp(t *testing.T) {
	dir := t.TempDir()

	old := renameFunc
	renameFunc = func(oldpath, newpath string) error {
		return os.ErrPermission
	}
	defer func() { renameFunc = old }()

	err := WriteFileAtomic(filepath.Join(dir, "a.json"), []byte("hello"))
	if err == nil {
		t.Fatalf("期望失败，但得到 nil")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir 失败：%v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("不应留下任何文件：%v", entries)
	}
}

func TestWriteFileAtomic_TargetIsDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, "a.json"), 0o755); err != nil {
		t.Fatalf("创建目录失败：%v", err)
	}

	err := WriteFileAtomic(filepath.Join(dir, "a.json"), []byte("hello"))
	if !IsPathTypeConflict(err) {
		t.Fatalf("期望 PathTypeConflictError，实际：%T %v", err, err)
	}
}
