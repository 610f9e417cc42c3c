package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/any-hub/offline-hub/internal/config"
)

// InitLogger 按全局配置构建 JSON 日志并同步到 logrus 全局实例。
// 日志文件不可用时退回 stdout，并以 action=logger_fallback 记录原因，不阻断启动。
func InitLogger(cfg config.GlobalConfig) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("无法解析日志级别: %w", err)
	}

	out, fallbackErr := openOutput(cfg)
	if fallbackErr != nil {
		fmt.Fprintf(os.Stderr, "logger_fallback: %v\n", fallbackErr)
	}

	logger := &logrus.Logger{
		Out:       out,
		Formatter: &logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano},
		Hooks:     make(logrus.LevelHooks),
		Level:     level,
		ExitFunc:  os.Exit,
	}
	logrus.SetFormatter(logger.Formatter)
	logrus.SetOutput(logger.Out)
	logrus.SetLevel(level)

	if fallbackErr != nil {
		logger.WithFields(logrus.Fields{
			"action": "logger_fallback",
			"path":   cfg.LogFilePath,
		}).Warn(fallbackErr.Error())
	}
	return logger, nil
}

// openOutput 返回 lumberjack 轮转文件；未配置路径或目录不可建时返回 stdout（后者附带错误）。
func openOutput(cfg config.GlobalConfig) (io.Writer, error) {
	if cfg.LogFilePath == "" {
		return os.Stdout, nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.LogFilePath), 0o755); err != nil {
		return os.Stdout, fmt.Errorf("创建日志目录失败: %w", err)
	}
	return &lumberjack.Logger{
		Filename:   cfg.LogFilePath,
		MaxSize:    cfg.LogMaxSize,
		MaxBackups: cfg.LogMaxBackups,
		Compress:   cfg.LogCompress,
		LocalTime:  true,
	}, nil
}

// ComponentLogger 为第三方组件派生带 component 字段的日志入口。
func ComponentLogger(logger *logrus.Logger, component string) *logrus.Entry {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return logger.WithField("component", component)
}

// StorageLogger 满足 badger.Logger（Errorf/Warningf/Infof/Debugf）。
// badger 的 Info 日志是压缩、回放等内部细节，降为 Debug 输出。
type StorageLogger struct {
	entry *logrus.Entry
}

// NewStorageLogger 以 component=storage、driver=<driver> 包装 logger。
func NewStorageLogger(logger *logrus.Logger, driver string) *StorageLogger {
	return &StorageLogger{entry: ComponentLogger(logger, "storage").WithField("driver", driver)}
}

func (l *StorageLogger) Errorf(format string, args ...interface{}) {
	l.entry.Errorf(trimNewline(format), args...)
}

func (l *StorageLogger) Warningf(format string, args ...interface{}) {
	l.entry.Warnf(trimNewline(format), args...)
}

func (l *StorageLogger) Infof(format string, args ...interface{}) {
	l.entry.Debugf(trimNewline(format), args...)
}

func (l *StorageLogger) Debugf(format string, args ...interface{}) {
	l.entry.Tracef(trimNewline(format), args...)
}

// badger 的格式串大多以换行结尾，JSON 日志里去掉。
func trimNewline(format string) string {
	for len(format) > 0 && format[len(format)-1] == '\n' {
		format = format[:len(format)-1]
	}
	return format
}
