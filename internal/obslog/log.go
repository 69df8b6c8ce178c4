// Package obslog 为容器包提供统一的结构化日志封装。
package obslog

import (
	"os"

	"github.com/bpfs/cryptofile/debug"
	"github.com/sirupsen/logrus"
)

// Log 是包级全局日志实例，容器在未注入自定义 logger 时使用它。
var Log *logrus.Logger

func init() {
	Log = logrus.New()
	Log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	Log.SetLevel(logrus.WarnLevel)
	Log.SetOutput(os.Stdout)
}

// SetLevel 设置全局日志级别
func SetLevel(level logrus.Level) {
	Log.SetLevel(level)
}

// SetOutput 设置全局日志输出目标
func SetOutput(output *os.File) {
	Log.SetOutput(output)
}

// entry 构造一个带调用位置标签的日志条目
func entry(logger *logrus.Logger) *logrus.Entry {
	if logger == nil {
		logger = Log
	}
	return logger.WithField("location", debug.WhereAmI(3))
}

// Debugf 在给定 logger（可为 nil，此时使用全局 logger）上记录调试信息
func Debugf(logger *logrus.Logger, format string, args ...interface{}) {
	entry(logger).Debugf(format, args...)
}

// Infof 记录信息级别日志
func Infof(logger *logrus.Logger, format string, args ...interface{}) {
	entry(logger).Infof(format, args...)
}

// Warnf 记录警告级别日志
func Warnf(logger *logrus.Logger, format string, args ...interface{}) {
	entry(logger).Warnf(format, args...)
}

// Errorf 记录错误级别日志
func Errorf(logger *logrus.Logger, format string, args ...interface{}) {
	entry(logger).Errorf(format, args...)
}

// WithError 记录一个包含错误信息的日志条目（Warn 级别）
func WithError(logger *logrus.Logger, err error, msg string) {
	if logger == nil {
		logger = Log
	}
	logger.WithField("location", debug.WhereAmI(2)).WithError(err).Warn(msg)
}
