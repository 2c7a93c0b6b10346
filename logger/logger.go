package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// log 引擎全局日志器
var log = newEngineLogger()

// Config tunes the engine logger.
type Config struct {
	// Level is one of debug, info, warn, error, fatal.
	Level string

	// FilePath, when set, mirrors the log to a file next to stdout.
	FilePath string
}

func newEngineLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(engineFormatter{})
	return l
}

// engineFormatter renders one line per event:
//
//	2026/08/01 12:00:00.000 INFO  opened page file /data/score.hare
type engineFormatter struct{}

func (engineFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	level := strings.ToUpper(entry.Level.String())
	line := fmt.Sprintf("%s %-5s %s\n",
		entry.Time.Format("2006/01/02 15:04:05.000"), level, entry.Message)
	return []byte(line), nil
}

// Setup applies the configuration to the engine logger. Call it once at
// startup; the zero configuration keeps info-level logging on stdout.
func Setup(config Config) error {
	if config.Level != "" {
		level, err := logrus.ParseLevel(config.Level)
		if err != nil {
			return err
		}
		log.SetLevel(level)
	}
	if config.FilePath != "" {
		if err := os.MkdirAll(filepath.Dir(config.FilePath), 0755); err != nil {
			return err
		}
		file, err := os.OpenFile(config.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return err
		}
		log.SetOutput(io.MultiWriter(os.Stdout, file))
	}
	return nil
}

// Debug 记录调试日志
func Debug(args ...interface{}) { log.Debug(args...) }

// Debugf 记录格式化调试日志
func Debugf(format string, args ...interface{}) { log.Debugf(format, args...) }

// Info 记录信息日志
func Info(args ...interface{}) { log.Info(args...) }

// Infof 记录格式化信息日志
func Infof(format string, args ...interface{}) { log.Infof(format, args...) }

// Warn 记录警告日志
func Warn(args ...interface{}) { log.Warn(args...) }

// Warnf 记录格式化警告日志
func Warnf(format string, args ...interface{}) { log.Warnf(format, args...) }

// Error 记录错误日志
func Error(args ...interface{}) { log.Error(args...) }

// Errorf 记录格式化错误日志
func Errorf(format string, args ...interface{}) { log.Errorf(format, args...) }
