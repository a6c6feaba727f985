package logging

import (
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config 日志配置结构
type Config struct {
	Level      string `yaml:"level"`       // 日志级别: debug, info, warn, error
	Format     string `yaml:"format"`      // 输出格式: json, console
	Output     string `yaml:"output"`      // 输出目标: stdout, stderr, file
	OutputPath string `yaml:"output_path"` // 文件输出路径
	AddSource  bool   `yaml:"add_source"`  // 是否添加源码位置
}

// Logger 封装的结构化日志器
type Logger struct {
	sugar  *zap.SugaredLogger
	level  zap.AtomicLevel
	config *Config
}

// NewLogger 创建新的日志器实例
func NewLogger(config *Config) (*Logger, error) {
	if config == nil {
		config = DefaultConfig()
	}

	level := zap.NewAtomicLevelAt(parseLevel(config.Level))

	core, err := createCore(config, level)
	if err != nil {
		return nil, err
	}

	var opts []zap.Option
	if config.AddSource {
		opts = append(opts, zap.AddCaller(), zap.AddCallerSkip(1))
	}

	return &Logger{
		sugar:  zap.New(core, opts...).Sugar(),
		level:  level,
		config: config,
	}, nil
}

// NewFromCore wraps an existing zap core; used by tests with an observer core.
func NewFromCore(core zapcore.Core) *Logger {
	return &Logger{
		sugar:  zap.New(core).Sugar(),
		level:  zap.NewAtomicLevelAt(zapcore.DebugLevel),
		config: DefaultConfig(),
	}
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Level:  "info",
		Format: "console",
		Output: "stdout",
	}
}

// parseLevel 解析日志级别
func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// createCore 创建日志处理核心
func createCore(config *Config, level zap.AtomicLevel) (zapcore.Core, error) {
	var writer zapcore.WriteSyncer

	switch strings.ToLower(config.Output) {
	case "stderr":
		writer = zapcore.Lock(os.Stderr)
	case "file":
		if config.OutputPath == "" {
			config.OutputPath = "logs/robot.log"
		}
		if err := os.MkdirAll(filepath.Dir(config.OutputPath), 0755); err != nil {
			return nil, err
		}
		f, err := os.OpenFile(config.OutputPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, err
		}
		writer = zapcore.AddSync(f)
	default:
		writer = zapcore.Lock(os.Stdout)
	}

	encoderConfig := zapcore.EncoderConfig{
		MessageKey:     "message",
		LevelKey:       "level",
		TimeKey:        "timestamp",
		NameKey:        "logger",
		CallerKey:      "caller",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
	}

	var encoder zapcore.Encoder
	if strings.ToLower(config.Format) == "json" {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	} else {
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	}

	return zapcore.NewCore(encoder, writer, level), nil
}

func (l *Logger) Debug(msg string, args ...any) { l.sugar.Debugw(msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.sugar.Infow(msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.sugar.Warnw(msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.sugar.Errorw(msg, args...) }

// With 返回带有额外字段的日志器
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		sugar:  l.sugar.With(args...),
		level:  l.level,
		config: l.config,
	}
}

// Named 返回带有名称的日志器
func (l *Logger) Named(name string) *Logger {
	return &Logger{
		sugar:  l.sugar.Named(name),
		level:  l.level,
		config: l.config,
	}
}

// UpdateLevel 动态更新日志级别
func (l *Logger) UpdateLevel(level string) {
	l.config.Level = level
	l.level.SetLevel(parseLevel(level))
}

// Level 返回当前日志级别
func (l *Logger) Level() zapcore.Level {
	return l.level.Level()
}

// Sync 刷新缓冲
func (l *Logger) Sync() error {
	return l.sugar.Sync()
}

// GetConfig 获取当前配置
func (l *Logger) GetConfig() *Config {
	return l.config
}
