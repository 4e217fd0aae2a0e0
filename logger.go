package coap

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogConfig 日志配置
type LogConfig struct {
	Level       string   `yaml:"level" toml:"level" env:"LEVEL"`
	Format      string   `yaml:"format" toml:"format" env:"FORMAT"`
	Outputs     []string `yaml:"outputs" toml:"outputs" env:"OUTPUTS" envSeparator:","`
	Development bool     `yaml:"development" toml:"development" env:"DEVELOPMENT"`

	Rotation RotationConfig `yaml:"rotation" toml:"rotation" envPrefix:"ROTATION_"`
}

// RotationConfig 日志文件轮转配置
//
// Mode为"size"时按大小轮转, 为"time"时按时间轮转, 为空时不轮转.
type RotationConfig struct {
	Mode       string   `yaml:"mode" toml:"mode" env:"MODE"`
	MaxSizeMB  int      `yaml:"max_size_mb" toml:"max_size_mb" env:"MAX_SIZE_MB"`
	MaxBackups int      `yaml:"max_backups" toml:"max_backups" env:"MAX_BACKUPS"`
	MaxAgeDays int      `yaml:"max_age_days" toml:"max_age_days" env:"MAX_AGE_DAYS"`
	Compress   bool     `yaml:"compress" toml:"compress" env:"COMPRESS"`
	Interval   Duration `yaml:"interval" toml:"interval" env:"INTERVAL"`
}

func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:   "info",
		Format:  "console",
		Outputs: []string{"stderr"},
	}
}

// NewLogger 根据配置构造日志.
func NewLogger(c LogConfig) (*zap.Logger, error) {
	level := zap.NewAtomicLevel()
	switch strings.ToLower(c.Level) {
	case "debug":
		level.SetLevel(zap.DebugLevel)
	case "info", "":
		level.SetLevel(zap.InfoLevel)
	case "warn", "warning":
		level.SetLevel(zap.WarnLevel)
	case "error":
		level.SetLevel(zap.ErrorLevel)
	default:
		return nil, errors.Errorf("unknown log level %q", c.Level)
	}

	encCfg := zap.NewProductionEncoderConfig()
	if c.Development {
		encCfg = zap.NewDevelopmentEncoderConfig()
	}
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	var encoder zapcore.Encoder
	if strings.ToLower(c.Format) == "json" {
		encoder = zapcore.NewJSONEncoder(encCfg)
	} else {
		encoder = zapcore.NewConsoleEncoder(encCfg)
	}

	outputs := c.Outputs
	if len(outputs) == 0 {
		outputs = []string{"stderr"}
	}
	var cores []zapcore.Core
	for _, out := range outputs {
		ws, err := newWriteSyncer(out, c.Rotation)
		if err != nil {
			return nil, err
		}
		cores = append(cores, zapcore.NewCore(encoder, ws, level))
	}

	opts := []zap.Option{
		zap.AddCaller(),
		zap.AddStacktrace(zap.ErrorLevel),
	}
	if c.Development {
		opts = append(opts, zap.Development())
	}
	return zap.New(zapcore.NewTee(cores...), opts...), nil
}

func newWriteSyncer(out string, r RotationConfig) (zapcore.WriteSyncer, error) {
	switch strings.ToLower(out) {
	case "stdout":
		return zapcore.Lock(os.Stdout), nil
	case "stderr":
		return zapcore.Lock(os.Stderr), nil
	}

	if dir := filepath.Dir(out); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrapf(err, "create log dir %s", dir)
		}
	}
	switch strings.ToLower(r.Mode) {
	case "size":
		return zapcore.AddSync(&lumberjack.Logger{
			Filename:   out,
			MaxSize:    atLeast(r.MaxSizeMB, 10),
			MaxBackups: atLeast(r.MaxBackups, 1),
			MaxAge:     atLeast(r.MaxAgeDays, 7),
			Compress:   r.Compress,
		}), nil
	case "time":
		interval := r.Interval.Std()
		if interval <= 0 {
			interval = 24 * time.Hour
		}
		w, err := rotatelogs.New(
			out+".%Y%m%d%H%M",
			rotatelogs.WithLinkName(out),
			rotatelogs.WithRotationTime(interval),
			rotatelogs.WithMaxAge(time.Duration(atLeast(r.MaxAgeDays, 7))*24*time.Hour),
		)
		if err != nil {
			return nil, errors.Wrapf(err, "rotate logs %s", out)
		}
		return zapcore.AddSync(w), nil
	case "":
		f, err := os.OpenFile(out, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, errors.Wrapf(err, "open log file %s", out)
		}
		return zapcore.Lock(f), nil
	}
	return nil, errors.Errorf("unknown rotation mode %q", r.Mode)
}

func atLeast(v, floor int) int {
	if v < floor {
		return floor
	}
	return v
}
