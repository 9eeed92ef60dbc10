package logx

import (
	"fmt"
	"io"
	"slices"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Levels 是对外接受的日志级别，与配置 schema 中 log_level 的枚举一致。
var Levels = []string{"debug", "info", "warn", "error"}

// New 构造写入 w 的 zap logger。
//
// - console=true：人类可读（交互终端）；否则输出单行 JSON
// - level 取 debug/info/warn/error，空串视为 info
func New(w io.Writer, level string, console bool) (*zap.Logger, error) {
	if !ValidLevel(level) {
		return nil, fmt.Errorf("非法的 log_level：%q（可选 %s）", level, strings.Join(Levels, "|"))
	}
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(normalizeLevel(level))); err != nil {
		return nil, fmt.Errorf("非法的 log_level：%q", level)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "timestamp"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var enc zapcore.Encoder
	if console {
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	} else {
		enc = zapcore.NewJSONEncoder(encCfg)
	}

	core := zapcore.NewCore(enc, zapcore.AddSync(w), zap.NewAtomicLevelAt(lvl))
	return zap.New(core), nil
}

// OrNop 让库代码可以接受 nil logger。
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}

// ValidLevel 报告 level 是否可被 New 接受（供配置校验使用）。空串视为 info。
// zap 自带的 dpanic/panic/fatal 不对外开放。
func ValidLevel(level string) bool {
	return slices.Contains(Levels, normalizeLevel(level))
}

func normalizeLevel(level string) string {
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "" {
		return "info"
	}
	return level
}
