package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/John-Robertt/radextract/internal/domain"
	"github.com/John-Robertt/radextract/internal/infra/logx"
	"github.com/John-Robertt/radextract/internal/ruleset"
)

// FileName 是约定的配置文件名。
const FileName = "radextract.yaml"

const (
	// ErrCodeNotFound 表示无参运行但 cwd 下没有 radextract.yaml（或 --config 指向的文件不存在）。
	ErrCodeNotFound = "config_not_found"
	// ErrCodeInvalid 表示配置文件无法读取/解析，或字段不合法。
	ErrCodeInvalid = "config_invalid"
	// ErrCodeMissingPath 表示无参运行但配置文件缺少 path 字段。
	ErrCodeMissingPath = "config_missing_path"
	// ErrCodeMissingRules 表示最终没有任何抽取规则。
	ErrCodeMissingRules = "config_missing_rules"
)

const (
	DefaultPattern     = "*.txt"
	DefaultConcurrency = 4
	DefaultFormat      = "json"
	DefaultLogLevel    = "info"
)

// Formats 是支持的输出格式。
var Formats = []string{"json", "yaml", "csv", "xlsx"}

// CLIArgs 保留“是否显式指定”的信息，保证 CLI > 配置 > 默认 的覆盖顺序可实现。
// 例如 --recursive=false 必须能覆盖 recursive: true。
type CLIArgs struct {
	// Path 是批量目录或单文件所在目录；空表示未指定。
	Path string
	// ConfigFile 显式指定配置文件（--config）；非空时不做发现。
	ConfigFile string

	Pattern    string
	PatternSet bool

	Recursive    bool
	RecursiveSet bool

	Format    string
	FormatSet bool

	DB    string
	DBSet bool

	LogLevel    string
	LogLevelSet bool
}

// FileConfig 对应 radextract.yaml 的解析结构。
type FileConfig struct {
	Path        string       `yaml:"path"`
	Pattern     string       `yaml:"pattern"`
	Recursive   *bool        `yaml:"recursive"`
	ExcludeDirs []string     `yaml:"exclude_dirs"`
	Concurrency int          `yaml:"concurrency"`
	Format      string       `yaml:"format"`
	LogLevel    string       `yaml:"log_level"`
	StripHTML   *bool        `yaml:"strip_html"`
	DB          string       `yaml:"db"`
	Rules       []RuleConfig `yaml:"rules"`
}

// RuleConfig 是一条字段规则的声明形式（pattern 尚未编译）。
type RuleConfig struct {
	Name            string            `yaml:"name"`
	Pattern         string            `yaml:"pattern"`
	Type            string            `yaml:"type"`
	Required        bool              `yaml:"required"`
	Multiplicity    string            `yaml:"multiplicity"`
	CaseInsensitive bool              `yaml:"case_insensitive"`
	Enum            []string          `yaml:"enum"`
	Aliases         map[string]string `yaml:"aliases"`
	Layouts         []string          `yaml:"layouts"`
}

// EffectiveConfig 是合并并做最小规范化后的最终配置（实现层直接消费，不再做二次默认/优先级判断）。
type EffectiveConfig struct {
	Path        string
	Pattern     string
	Recursive   bool
	ExcludeDirs []string
	Concurrency int
	Format      string
	LogLevel    string
	StripHTML   bool
	// DB 为空表示不落库。
	DB string

	// ConfigFile 是实际读取的配置文件；没有读到任何文件时为空。
	ConfigFile string
	Rules      ruleset.Ruleset
}

// Error 是配置阶段的结构化错误（带 error_code）。
type Error struct {
	Code string
	Path string
	Err  error
}

func (e *Error) Error() string {
	switch e.Code {
	case ErrCodeNotFound:
		return fmt.Sprintf("%s：未找到配置文件 %q", e.Code, e.Path)
	case ErrCodeMissingPath:
		return fmt.Sprintf("%s：配置文件 %q 缺少必填字段 path", e.Code, e.Path)
	case ErrCodeMissingRules:
		if e.Path == "" {
			return fmt.Sprintf("%s：没有可用的配置文件，无法得到抽取规则", e.Code)
		}
		return fmt.Sprintf("%s：配置文件 %q 没有定义任何 rules", e.Code, e.Path)
	case ErrCodeInvalid:
		if e.Err != nil {
			return fmt.Sprintf("%s：配置文件 %q 无效：%v", e.Code, e.Path, e.Err)
		}
		return fmt.Sprintf("%s：配置文件 %q 无效", e.Code, e.Path)
	default:
		if e.Err != nil {
			return fmt.Sprintf("%s：%v", e.Code, e.Err)
		}
		return e.Code
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Code 从 error 中提取 error_code；若不是 *Error 则返回空串。
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// LoadEffective 按约定发现并读取配置文件，然后与 CLI 参数合并为最终配置。
//
// 发现规则（固定）：
// 1) --config 指定文件：必须存在
// 2) CLI 提供 path：依次尝试 <path>/radextract.yaml、<cwd>/radextract.yaml（都可选）
// 3) CLI 未提供 path：必须读取 <cwd>/radextract.yaml，且其中必须包含 path
//
// 覆盖优先级（固定）：
// - path：CLI path > config path（相对路径以配置文件所在目录为基准）
// - pattern/recursive/format/db/log_level：CLI > config > 默认
// - 其他字段：仅由 config 控制
//
// 规则只来自配置文件；最终没有规则时返回 config_missing_rules。
func LoadEffective(cwd string, cli CLIArgs) (EffectiveConfig, error) {
	cwdAbs, err := filepath.Abs(cwd)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cwd, Err: err}
	}

	if strings.TrimSpace(cli.ConfigFile) != "" {
		cfgPath := absCleanFrom(cwdAbs, cli.ConfigFile)
		fc, exists, err := readFileConfig(cfgPath)
		if err != nil {
			return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
		}
		if !exists {
			return EffectiveConfig{}, &Error{Code: ErrCodeNotFound, Path: cfgPath, Err: os.ErrNotExist}
		}
		absPath, err := resolvePath(cwdAbs, cli, fc, cfgPath)
		if err != nil {
			return EffectiveConfig{}, err
		}
		return merge(cwdAbs, absPath, cli, fc, cfgPath)
	}

	if strings.TrimSpace(cli.Path) != "" {
		absPath := absCleanFrom(cwdAbs, cli.Path)
		for _, cfgPath := range []string{filepath.Join(absPath, FileName), filepath.Join(cwdAbs, FileName)} {
			fc, exists, err := readFileConfig(cfgPath)
			if err != nil {
				return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
			}
			if exists {
				return merge(cwdAbs, absPath, cli, fc, cfgPath)
			}
		}
		return merge(cwdAbs, absPath, cli, FileConfig{}, "")
	}

	cfgPath := filepath.Join(cwdAbs, FileName)
	fc, exists, err := readFileConfig(cfgPath)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
	}
	if !exists {
		return EffectiveConfig{}, &Error{Code: ErrCodeNotFound, Path: cfgPath, Err: os.ErrNotExist}
	}
	absPath, err := resolvePath(cwdAbs, cli, fc, cfgPath)
	if err != nil {
		return EffectiveConfig{}, err
	}
	return merge(cwdAbs, absPath, cli, fc, cfgPath)
}

func resolvePath(cwdAbs string, cli CLIArgs, fc FileConfig, cfgPath string) (string, error) {
	if strings.TrimSpace(cli.Path) != "" {
		return absCleanFrom(cwdAbs, cli.Path), nil
	}
	if strings.TrimSpace(fc.Path) == "" {
		return "", &Error{Code: ErrCodeMissingPath, Path: cfgPath}
	}
	return absCleanFrom(filepath.Dir(cfgPath), fc.Path), nil
}

func merge(cwdAbs, absPath string, cli CLIArgs, fc FileConfig, cfgPath string) (EffectiveConfig, error) {
	pattern := DefaultPattern
	if cli.PatternSet {
		pattern = cli.Pattern
	} else if strings.TrimSpace(fc.Pattern) != "" {
		pattern = strings.TrimSpace(fc.Pattern)
	}

	recursive := false
	if cli.RecursiveSet {
		recursive = cli.Recursive
	} else if fc.Recursive != nil {
		recursive = *fc.Recursive
	}

	format := DefaultFormat
	if cli.FormatSet {
		format = strings.ToLower(strings.TrimSpace(cli.Format))
	} else if fc.Format != "" {
		format = fc.Format
	}
	if err := validateFormat(format); err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
	}

	logLevel := DefaultLogLevel
	if cli.LogLevelSet {
		logLevel = strings.ToLower(strings.TrimSpace(cli.LogLevel))
	} else if fc.LogLevel != "" {
		logLevel = fc.LogLevel
	}
	if !logx.ValidLevel(logLevel) {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: fmt.Errorf("log_level 不合法：%q", logLevel)}
	}

	db := ""
	if cli.DBSet {
		db = absCleanFrom(cwdAbs, cli.DB)
	} else if strings.TrimSpace(fc.DB) != "" {
		db = absCleanFrom(filepath.Dir(cfgPath), fc.DB)
	}

	concurrency := fc.Concurrency
	if concurrency == 0 {
		concurrency = DefaultConcurrency
	}
	// 范围 [1, 32]；超出截断。
	if concurrency < 1 {
		concurrency = 1
	}
	if concurrency > 32 {
		concurrency = 32
	}

	stripHTML := true
	if fc.StripHTML != nil {
		stripHTML = *fc.StripHTML
	}

	if len(fc.Rules) == 0 {
		return EffectiveConfig{}, &Error{Code: ErrCodeMissingRules, Path: cfgPath}
	}
	rs, err := BuildRuleset(fc.Rules)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
	}

	return EffectiveConfig{
		Path:        absPath,
		Pattern:     pattern,
		Recursive:   recursive,
		ExcludeDirs: append([]string(nil), fc.ExcludeDirs...),
		Concurrency: concurrency,
		Format:      format,
		LogLevel:    logLevel,
		StripHTML:   stripHTML,
		DB:          db,
		ConfigFile:  cfgPath,
		Rules:       rs,
	}, nil
}

// BuildRuleset 编译规则声明并构造 Ruleset（声明顺序保持不变）。
func BuildRuleset(defs []RuleConfig) (ruleset.Ruleset, error) {
	rules := make([]domain.FieldRule, 0, len(defs))
	for i, d := range defs {
		expr := d.Pattern
		if d.CaseInsensitive {
			expr = "(?i)" + expr
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			return ruleset.Ruleset{}, fmt.Errorf("rules[%d] %q 的 pattern 无法编译：%w", i, d.Name, err)
		}
		rules = append(rules, domain.FieldRule{
			Name:         d.Name,
			Pattern:      re,
			Type:         domain.ValueType(d.Type),
			Required:     d.Required,
			Multiplicity: domain.Multiplicity(d.Multiplicity),
			Enum:         d.Enum,
			Aliases:      d.Aliases,
			Layouts:      d.Layouts,
		})
	}
	return ruleset.New(rules...)
}

func validateFormat(f string) error {
	for _, ok := range Formats {
		if f == ok {
			return nil
		}
	}
	return fmt.Errorf("format 只能是 %s，实际是 %q", strings.Join(Formats, "/"), f)
}

// absCleanFrom 以 base 为基准，把 p 变为 clean + absolute。
// - p 若已是绝对路径：直接 Clean
// - p 若是相对路径：Join(base, p) 后 Clean
func absCleanFrom(base, p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	p = filepath.Clean(p)
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Clean(filepath.Join(base, p))
}

//go:embed schema.json
var schemaJSON []byte

func compileSchema() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	if err := c.AddResource("radextract.schema.json", bytes.NewReader(schemaJSON)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	return c.Compile("radextract.schema.json")
}

// readFileConfig 读取 YAML 配置，先按 JSON Schema 校验，再解码为 FileConfig。
// 返回值 exists 表示该文件是否存在（不存在不算错误）。
func readFileConfig(path string) (fc FileConfig, exists bool, err error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return FileConfig{}, false, nil
		}
		return FileConfig{}, false, err
	}
	if err := validateDocument(b); err != nil {
		return FileConfig{}, true, err
	}
	if err := yaml.Unmarshal(b, &fc); err != nil {
		return FileConfig{}, true, err
	}
	return fc, true, nil
}

// validateDocument 把 YAML 转成 JSON 值后交给 schema 校验（schema 库只认 JSON 数据模型）。
func validateDocument(b []byte) error {
	var doc any
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return err
	}
	if doc == nil {
		// 空文件等价于空配置。
		doc = map[string]any{}
	}
	j, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("配置无法转换为 JSON：%w", err)
	}
	var v any
	if err := json.Unmarshal(j, &v); err != nil {
		return err
	}
	schema, err := compileSchema()
	if err != nil {
		return err
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("配置不符合 schema：%w", err)
	}
	return nil
}
