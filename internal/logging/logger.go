package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/any-hub/static-hub/internal/config"
	"github.com/any-hub/static-hub/internal/version"
)

// ServiceName 写入每条日志的 service 字段，便于与同机其它服务区分。
const ServiceName = "static-hub"

// InitLogger 按全局配置创建 JSON 日志。文件不可写时退回 stdout，只记录告警而不报错。
func InitLogger(cfg config.GlobalConfig) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("无法解析日志级别: %w", err)
	}

	output, fallbackErr := openOutput(cfg)
	if fallbackErr != nil {
		fmt.Fprintf(os.Stderr, "logger_fallback: %v\n", fallbackErr)
	}

	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetOutput(output)
	logger.SetFormatter(newFormatter())
	logger.AddHook(serviceHook{version: version.Version})

	// 第三方库经由 logrus 标准 logger 输出时保持同一格式与目标
	std := logrus.StandardLogger()
	std.SetFormatter(logger.Formatter)
	std.SetOutput(logger.Out)
	std.SetLevel(level)

	if fallbackErr != nil {
		logger.WithFields(logrus.Fields{
			"action": "logger_fallback",
			"path":   cfg.LogFilePath,
		}).Warn(fallbackErr.Error())
	}
	return logger, nil
}

func newFormatter() logrus.Formatter {
	return &logrus.JSONFormatter{
		TimestampFormat: time.RFC3339Nano,
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyMsg: "event",
		},
	}
}

// openOutput 返回 lumberjack 滚动文件；目录无法创建时返回 stdout 与原因。
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

// serviceHook 为每条日志补充 service/version 字段，已有同名字段时不覆盖。
type serviceHook struct {
	version string
}

func (serviceHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h serviceHook) Fire(entry *logrus.Entry) error {
	if _, ok := entry.Data["service"]; !ok {
		entry.Data["service"] = ServiceName
	}
	if _, ok := entry.Data["version"]; !ok {
		entry.Data["version"] = h.version
	}
	return nil
}
