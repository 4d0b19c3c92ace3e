package internal

import (
	"errors"
	"io"
	"os"
	"strings"
	"sync/atomic"
)

// process-wide logger used by the LogX helpers
var globalLogger atomic.Pointer[SecureLogger]

// InitLogger replaces the process logger according to config. Logs go to
// stderr unless config.LogFile is set.
func InitLogger(config *Config) error {
	level := parseLogLevel(config.LogLevel)
	if config.EnableDebug {
		level = LogLevelDebug
	}

	var out io.Writer = os.Stderr
	if config.LogFile != "" {
		f, err := os.OpenFile(config.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return NewValidationErrorWithValue("log_file", "cannot open log file", config.LogFile).
				WithSuggestion("Check that the directory exists and is writable")
		}
		out = f
	}

	globalLogger.Store(NewSecureLogger(out, level, config.EnableDebug, config.QuietMode))
	return nil
}

// GetLogger returns the process logger, creating an info-level stderr
// logger on first use when InitLogger was never called.
func GetLogger() *SecureLogger {
	if l := globalLogger.Load(); l != nil {
		return l
	}
	globalLogger.CompareAndSwap(nil, NewDefaultLogger(false, false))
	return globalLogger.Load()
}

func parseLogLevel(level string) LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return LogLevelDebug
	case "warn", "warning":
		return LogLevelWarn
	case "error":
		return LogLevelError
	}
	return LogLevelInfo
}

func LogError(format string, args ...interface{}) { GetLogger().Error(format, args...) }
func LogWarn(format string, args ...interface{})  { GetLogger().Warn(format, args...) }
func LogInfo(format string, args ...interface{})  { GetLogger().Info(format, args...) }
func LogDebug(format string, args ...interface{}) { GetLogger().Debug(format, args...) }

// LogResolveError logs err at the level matching its severity
func LogResolveError(err *ResolveError) {
	l := GetLogger()
	detail := err.DetailedError()
	switch err.Severity {
	case SeverityCritical:
		l.Error("CRITICAL: %s", detail)
	case SeverityWarning:
		l.Warn("%s", detail)
	case SeverityInfo:
		l.Info("%s", detail)
	default:
		l.Error("%s", detail)
	}
}

func LogValidationError(err *ValidationError) {
	GetLogger().Error("Validation Error: %s", err.DetailedError())
}

// LogAnyError picks the richest logging form available for err
func LogAnyError(err error) {
	var re *ResolveError
	var ve *ValidationError
	switch {
	case errors.As(err, &re):
		LogResolveError(re)
	case errors.As(err, &ve):
		LogValidationError(ve)
	default:
		LogError("%v", err)
	}
}
