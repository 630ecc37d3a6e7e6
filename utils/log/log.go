package log

import (
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
)

func init() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}

	zap.ReplaceGlobals(logger)
	SetLevel(INFO)
}

func Debug(format string, args ...interface{}) {
	if enabled(DEBUG) {
		zap.S().Debugf(format, args...)
	}
}

func Info(format string, args ...interface{}) {
	if enabled(INFO) {
		zap.S().Infof(format, args...)
	}
}

func Warn(format string, args ...interface{}) {
	if enabled(WARNING) {
		zap.S().Warnf(format, args...)
	}
}

func Error(format string, args ...interface{}) {
	if enabled(ERROR) {
		zap.S().Errorf(format, args...)
	}
}

// Fatal logs and exits the process regardless of the configured level.
func Fatal(format string, args ...interface{}) {
	zap.S().Fatalf(format, args...)
}

// Sync flushes any buffered log entries. Call it before exiting.
func Sync() {
	_ = zap.L().Sync()
}

func SetLevel(level Level) {
	logLevel.Store(int32(level))
}

func GetLevel() Level {
	return Level(logLevel.Load())
}

type Level int

const (
	DEBUG Level = iota
	INFO
	WARNING
	ERROR
	FATAL
)

func (l Level) String() string {
	switch l {
	case DEBUG:
		return "debug"
	case INFO:
		return "info"
	case WARNING:
		return "warning"
	case ERROR:
		return "error"
	case FATAL:
		return "fatal"
	default:
		return "unknown"
	}
}

// ParseLevel maps a config string to a Level. Unknown values map to INFO
// and ok is false.
func ParseLevel(s string) (level Level, ok bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "fatal":
		return FATAL, true
	case "error":
		return ERROR, true
	case "warn", "warning":
		return WARNING, true
	case "debug":
		return DEBUG, true
	case "info", "":
		return INFO, true
	default:
		return INFO, false
	}
}

var logLevel atomic.Int32

func enabled(level Level) bool {
	return GetLevel() <= level
}
