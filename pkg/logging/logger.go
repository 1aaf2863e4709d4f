// Package logging provides the worker's structured logging setup: a
// zap.Logger wrapped with a colored console encoder for local development
// and a plain JSON encoder for production, selected by NUR_LOG_FORMAT.
package logging

import (
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ANSI color codes
const (
	Reset = "\033[0m"
	Bold  = "\033[1m"
	Dim   = "\033[2m"

	Red     = "\033[31m"
	Green   = "\033[32m"
	Yellow  = "\033[33m"
	Blue    = "\033[34m"
	Magenta = "\033[35m"
	Cyan    = "\033[36m"
	White   = "\033[37m"
	Gray    = "\033[90m"

	BrightRed    = "\033[91m"
	BrightYellow = "\033[93m"
	BrightWhite  = "\033[97m"
)

// ColoredLogger wraps zap.Logger with colored output.
type ColoredLogger struct {
	*zap.Logger
	enableColors bool
}

// Component identifies the part of the worker emitting a log line.
type Component string

const (
	ComponentServer     Component = "SERVER"
	ComponentHandshake  Component = "HANDSHAKE"
	ComponentFetcher    Component = "FETCHER"
	ComponentCache      Component = "CACHE"
	ComponentExecution  Component = "EXECUTION"
	ComponentIntrinsics Component = "INTRINSICS"
	ComponentLogsSink   Component = "LOGSINK"
	ComponentGeneral    Component = "GENERAL"
)

func getComponentColor(component Component) string {
	switch component {
	case ComponentServer:
		return Blue
	case ComponentHandshake:
		return Cyan
	case ComponentFetcher:
		return Yellow
	case ComponentCache:
		return Green
	case ComponentExecution:
		return Magenta
	case ComponentIntrinsics:
		return BrightYellow
	case ComponentLogsSink:
		return Gray
	default:
		return White
	}
}

func getLevelColor(level zapcore.Level) string {
	switch level {
	case zapcore.DebugLevel:
		return Gray
	case zapcore.InfoLevel:
		return BrightWhite
	case zapcore.WarnLevel:
		return BrightYellow
	case zapcore.ErrorLevel:
		return BrightRed
	case zapcore.DPanicLevel, zapcore.PanicLevel, zapcore.FatalLevel:
		return Red
	default:
		return White
	}
}

func coloredConsoleEncoder(enableColors bool) zapcore.Encoder {
	config := zap.NewDevelopmentEncoderConfig()
	config.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		timeStr := t.Format("2006-01-02T15:04:05.000Z0700")
		if enableColors {
			enc.AppendString(fmt.Sprintf("%s%s%s", Dim, timeStr, Reset))
		} else {
			enc.AppendString(timeStr)
		}
	}

	config.EncodeLevel = func(level zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
		levelStr := strings.ToUpper(level.String())
		if enableColors {
			color := getLevelColor(level)
			enc.AppendString(fmt.Sprintf("%s%s%-5s%s", color, Bold, levelStr, Reset))
		} else {
			enc.AppendString(fmt.Sprintf("%-5s", levelStr))
		}
	}

	config.EncodeCaller = func(caller zapcore.EntryCaller, enc zapcore.PrimitiveArrayEncoder) {
		if enableColors {
			enc.AppendString(fmt.Sprintf("%s%s%s", Dim, caller.TrimmedPath(), Reset))
		} else {
			enc.AppendString(caller.TrimmedPath())
		}
	}

	return zapcore.NewConsoleEncoder(config)
}

func parseLevel(s string) zapcore.Level {
	switch strings.ToLower(s) {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// NewColoredLogger creates a logger using the colored console encoder.
func NewColoredLogger(enableColors bool) (*ColoredLogger, error) {
	encoder := coloredConsoleEncoder(enableColors)
	level := parseLevel(os.Getenv("NUR_LOG_LEVEL"))

	core := zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), level)
	logger := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))

	return &ColoredLogger{Logger: logger, enableColors: enableColors}, nil
}

// NewJSONLogger creates a logger emitting newline-delimited JSON, suitable
// for production log aggregation.
func NewJSONLogger() (*zap.Logger, error) {
	level := parseLevel(os.Getenv("NUR_LOG_LEVEL"))
	config := zap.NewProductionEncoderConfig()
	config.EncodeTime = zapcore.ISO8601TimeEncoder

	core := zapcore.NewCore(zapcore.NewJSONEncoder(config), zapcore.AddSync(os.Stdout), level)
	return zap.New(core, zap.AddCaller()), nil
}

// NewDefaultLogger builds the process logger according to NUR_LOG_FORMAT
// ("json" for production, anything else for the colored console encoder).
func NewDefaultLogger() (*zap.Logger, error) {
	if strings.EqualFold(os.Getenv("NUR_LOG_FORMAT"), "json") {
		return NewJSONLogger()
	}
	colored, err := NewColoredLogger(true)
	if err != nil {
		return nil, err
	}
	return colored.Logger, nil
}

// Component-specific logging methods, used when a caller wants the
// colored component tag instead of a structured zap.Field.
func (l *ColoredLogger) ComponentInfo(component Component, msg string, fields ...zap.Field) {
	l.Info(l.tag(component, msg), fields...)
}

func (l *ColoredLogger) ComponentWarn(component Component, msg string, fields ...zap.Field) {
	l.Warn(l.tag(component, msg), fields...)
}

func (l *ColoredLogger) ComponentError(component Component, msg string, fields ...zap.Field) {
	l.Error(l.tag(component, msg), fields...)
}

func (l *ColoredLogger) ComponentDebug(component Component, msg string, fields ...zap.Field) {
	l.Debug(l.tag(component, msg), fields...)
}

func (l *ColoredLogger) tag(component Component, msg string) string {
	if l.enableColors {
		color := getComponentColor(component)
		return fmt.Sprintf("%s[%s]%s %s", color, component, Reset, msg)
	}
	return fmt.Sprintf("[%s] %s", component, msg)
}
