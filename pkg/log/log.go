package log

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lestrrat-go/file-rotatelogs"
	"github.com/pkg/errors"
)

// DefaultPattern 日志文件名模板
const DefaultPattern = "social-%Y-%m-%d.log"

const timeLayout = "2006-01-02 15:04:05.000000"

// Config 日志配置
type Config struct {
	Path           string `toml:"path" split_words:"true"`
	RotationTime   string `toml:"rotation_time" split_words:"true"`
	MaxAge         string `toml:"max_age" split_words:"true"`
	DefaultPattern string `toml:"default_pattern" split_words:"true"`
	// LinkName 指向当前文件的软链接，相对 Path
	LinkName string `toml:"link_name" split_words:"true"`

	Level     string `toml:"level" split_words:"true"`  // debug, info, warn, error，默认 info
	Format    string `toml:"format" split_words:"true"` // text 或 json，默认 text
	AddSource bool   `toml:"add_source" split_words:"true"`
}

// Validate fills defaults for pattern, level and format, then checks the rest.
func (cfg *Config) Validate() error {
	if strings.TrimSpace(cfg.Path) == "" {
		return errors.New("path is required")
	}

	for name, v := range map[string]string{"rotation_time": cfg.RotationTime, "max_age": cfg.MaxAge} {
		if d, err := time.ParseDuration(v); err != nil || d <= 0 {
			return errors.Errorf("%s is invalid: %q", name, v)
		}
	}

	if strings.TrimSpace(cfg.DefaultPattern) == "" {
		cfg.DefaultPattern = DefaultPattern
	}

	if cfg.Level == "" {
		cfg.Level = "info"
	}
	if _, err := parseLevel(cfg.Level); err != nil {
		return err
	}

	cfg.Format = strings.ToLower(cfg.Format)
	switch cfg.Format {
	case "":
		cfg.Format = "text"
	case "text", "json":
	default:
		return errors.Errorf("invalid format: %s", cfg.Format)
	}

	return nil
}

// Init 初始化日志系统：同时写 stdout 与按时间滚动的文件
func Init(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	file, err := rotatingFile(cfg)
	if err != nil {
		return errors.WithMessage(err, "failed to configure file logger")
	}

	slog.SetDefault(slog.New(NewHandler(cfg, io.MultiWriter(os.Stdout, file))))
	return nil
}

// NewHandler builds the slog handler described by cfg writing to out.
// cfg is expected to be validated.
func NewHandler(cfg Config, out io.Writer) slog.Handler {
	level, _ := parseLevel(cfg.Level)

	opts := &slog.HandlerOptions{
		AddSource:   cfg.AddSource,
		Level:       level,
		ReplaceAttr: formatTime,
	}

	if cfg.Format == "json" {
		return slog.NewJSONHandler(out, opts)
	}
	return slog.NewTextHandler(out, opts)
}

// formatTime 顶层时间字段统一为微秒精度的本地格式
func formatTime(groups []string, a slog.Attr) slog.Attr {
	if a.Key != slog.TimeKey || len(groups) > 0 {
		return a
	}
	if t, ok := a.Value.Any().(time.Time); ok {
		return slog.String(a.Key, t.Format(timeLayout))
	}
	return a
}

func rotatingFile(cfg Config) (*rotatelogs.RotateLogs, error) {
	rotation, _ := time.ParseDuration(cfg.RotationTime)
	maxAge, _ := time.ParseDuration(cfg.MaxAge)

	opts := []rotatelogs.Option{
		rotatelogs.WithRotationTime(rotation),
		rotatelogs.WithMaxAge(maxAge),
	}
	if cfg.LinkName != "" {
		opts = append(opts, rotatelogs.WithLinkName(filepath.Join(cfg.Path, cfg.LinkName)))
	}

	return rotatelogs.New(filepath.Join(cfg.Path, cfg.DefaultPattern), opts...)
}

// parseLevel 接受 slog 的级别文本，如 debug、WARN、info+2
func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, errors.Errorf("invalid level: %s", s)
	}
	return level, nil
}

// Logger 返回带 module 字段的 logger
func Logger(module string) *slog.Logger {
	return slog.Default().With("module", module)
}
