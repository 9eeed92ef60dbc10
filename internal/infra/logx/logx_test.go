package logx

import (
	"bytes"
	"encoding/json"
	"testing"

	"go.uber.org/zap"
)

func TestNew_JSONRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(&buf, "warn", false)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	l.Info("hidden")
	l.Warn("file.failed", zap.String("path", "a.txt"))
	_ = l.Sync()

	var ev map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &ev); err != nil {
		t.Fatalf("应只输出一行 JSON：%v\n%s", err, buf.String())
	}
	if ev["msg"] != "file.failed" || ev["path"] != "a.txt" || ev["timestamp"] == nil {
		t.Fatalf("日志字段不符合预期：%v", ev)
	}
}

func TestNew_InvalidLevel(t *testing.T) {
	if _, err := New(&bytes.Buffer{}, "loud", false); err == nil {
		t.Fatalf("期望非法 level 报错")
	}
	if ValidLevel("loud") || !ValidLevel("") || !ValidLevel("DEBUG") {
		t.Fatalf("ValidLevel 结果不符合预期")
	}
}

func TestValidLevel_OnlyConfigLevels(t *testing.T) {
	for _, l := range Levels {
		if !ValidLevel(l) {
			t.Fatalf("%q 应被接受", l)
		}
	}
	for _, l := range []string{"dpanic", "panic", "fatal"} {
		if ValidLevel(l) {
			t.Fatalf("%q 不应被接受", l)
		}
		if _, err := New(&bytes.Buffer{}, l, false); err == nil {
			t.Fatalf("New 不应接受 %q", l)
		}
	}
}

func TestOrNop(t *testing.T) {
	if OrNop(nil) == nil {
		t.Fatalf("OrNop(nil) 不应返回 nil")
	}
}
