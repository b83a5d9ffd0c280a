package logutil

import (
	"os"
	"strings"
	"sync"

	"github.com/pingcap/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	FormatConsole = "console"
	FormatJSON    = "json"

	DefaultLogMaxSize = 300 // MB
)

// FileConfig is the rotating log file setting. An empty Filename logs to stderr.
type FileConfig struct {
	Filename   string
	MaxSize    int
	MaxDays    int
	MaxBackups int
}

type Config struct {
	Level  string
	Format string
	File   FileConfig
}

var (
	mu       sync.RWMutex
	bgLogger = zap.NewNop()
)

// BgLogger returns the process wide background logger.
func BgLogger() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return bgLogger
}

// ReplaceLogger swaps the background logger and returns a func restoring the previous one.
func ReplaceLogger(l *zap.Logger) func() {
	mu.Lock()
	prev := bgLogger
	bgLogger = l
	mu.Unlock()
	return func() { ReplaceLogger(prev) }
}

// InitLogger builds a logger from cfg and installs it as the background logger.
func InitLogger(cfg *Config) (*zap.Logger, error) {
	level := zap.NewAtomicLevel()
	if err := level.UnmarshalText([]byte(strings.ToLower(orDefault(cfg.Level, "info")))); err != nil {
		return nil, errors.WithMessage(err, "invalid log level")
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	var encoder zapcore.Encoder
	switch orDefault(cfg.Format, FormatConsole) {
	case FormatConsole:
		encoder = zapcore.NewConsoleEncoder(encCfg)
	case FormatJSON:
		encoder = zapcore.NewJSONEncoder(encCfg)
	default:
		return nil, errors.Errorf("invalid log format: %s", cfg.Format)
	}

	core := zapcore.NewCore(encoder, newWriteSyncer(&cfg.File), level)
	logger := zap.New(core, zap.AddCaller())
	ReplaceLogger(logger)
	return logger, nil
}

func newWriteSyncer(cfg *FileConfig) zapcore.WriteSyncer {
	if cfg.Filename == "" {
		return zapcore.Lock(os.Stderr)
	}
	maxSize := cfg.MaxSize
	if maxSize <= 0 {
		maxSize = DefaultLogMaxSize
	}
	return zapcore.AddSync(&lumberjack.Logger{
		Filename:   cfg.Filename,
		MaxSize:    maxSize,
		MaxAge:     cfg.MaxDays,
		MaxBackups: cfg.MaxBackups,
		LocalTime:  true,
	})
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
