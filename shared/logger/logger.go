package logger

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Sink receives Warn and higher messages already formatted as Markdown.
type Sink func(text string)

type Logger struct {
	ZapLogger   *zap.SugaredLogger
	atomicLevel zap.AtomicLevel

	sinkMu sync.RWMutex
	sink   Sink
}

type Config struct {
	Level       string
	Environment string
}

func parseLevel(level string) (zapcore.Level, bool) {
	switch strings.ToLower(level) {
	case "debug":
		return zap.DebugLevel, true
	case "info", "":
		return zap.InfoLevel, true
	case "warn", "warning":
		return zap.WarnLevel, true
	case "error":
		return zap.ErrorLevel, true
	case "fatal":
		return zap.FatalLevel, true
	}
	return zap.InfoLevel, false
}

func NewLogger(cfg Config) (*Logger, error) {
	logLevel, ok := parseLevel(cfg.Level)
	if !ok {
		fmt.Printf("WARN: Invalid log level '%s' specified, defaulting to INFO\n", cfg.Level)
	}

	atomicLevel := zap.NewAtomicLevelAt(logLevel)

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.LevelKey = "severity"
	encoderConfig.MessageKey = "message"
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder

	var encoder zapcore.Encoder
	if cfg.Environment == "production" {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	} else {
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	}

	core := zapcore.NewCore(encoder, zapcore.Lock(os.Stdout), atomicLevel)

	// AddCallerSkip(1) so caller shows function calling logger methods, not logger methods themselves
	zapLogger := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))

	l := &Logger{
		ZapLogger:   zapLogger.Sugar(),
		atomicLevel: atomicLevel,
	}
	l.ZapLogger.Infof("Logger initialized. Level: %s, Environment: %s", logLevel.String(), cfg.Environment)
	return l, nil
}

// NewNop returns a logger that discards everything.
func NewNop() *Logger {
	return &Logger{
		ZapLogger:   zap.NewNop().Sugar(),
		atomicLevel: zap.NewAtomicLevel(),
	}
}

func (l *Logger) Zap() *zap.SugaredLogger {
	return l.ZapLogger
}

// Named returns a child logger sharing level and sink.
func (l *Logger) Named(name string) *Logger {
	child := &Logger{
		ZapLogger:   l.ZapLogger.Named(name),
		atomicLevel: l.atomicLevel,
	}
	child.sink = l.currentSink()
	return child
}

// SetAlertSink installs the destination for Warn/Error forwarding. nil disables it.
// Child loggers created afterwards inherit it.
func (l *Logger) SetAlertSink(s Sink) {
	l.sinkMu.Lock()
	l.sink = s
	l.sinkMu.Unlock()
}

func (l *Logger) currentSink() Sink {
	l.sinkMu.RLock()
	defer l.sinkMu.RUnlock()
	return l.sink
}

func (l *Logger) Sync() error {
	return l.ZapLogger.Sync()
}

// Formats key-values WITHOUT escaping them here. zap.Field values are expanded.
func formatKeyValues(keysAndValues ...interface{}) string {
	if len(keysAndValues) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString(" |")

	write := func(k string, v interface{}) {
		var valStr string
		if err, ok := v.(error); ok {
			valStr = err.Error()
		} else {
			valStr = fmt.Sprintf("%v", v)
		}
		sb.WriteString(fmt.Sprintf(" %s=`%s`", k, valStr))
	}

	for i := 0; i < len(keysAndValues); {
		if f, ok := keysAndValues[i].(zap.Field); ok {
			enc := zapcore.NewMapObjectEncoder()
			f.AddTo(enc)
			keys := make([]string, 0, len(enc.Fields))
			for k := range enc.Fields {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				write(k, enc.Fields[k])
			}
			i++
			continue
		}
		if i+1 >= len(keysAndValues) {
			write(fmt.Sprintf("%v", keysAndValues[i]), "INVALID_ARGS")
			break
		}
		write(fmt.Sprintf("%v", keysAndValues[i]), keysAndValues[i+1])
		i += 2
	}
	return sb.String()
}

func (l *Logger) forward(prefix, msg string, keysAndValues []interface{}) {
	s := l.currentSink()
	if s == nil {
		return
	}
	s(fmt.Sprintf("%s %s%s", prefix, msg, formatKeyValues(keysAndValues...)))
}

func (l *Logger) Debug(msg string, keysAndValues ...interface{}) {
	l.ZapLogger.Debugw(msg, keysAndValues...)
}

func (l *Logger) Info(msg string, keysAndValues ...interface{}) {
	l.ZapLogger.Infow(msg, keysAndValues...)
}

func (l *Logger) Warn(msg string, keysAndValues ...interface{}) {
	l.ZapLogger.Warnw(msg, keysAndValues...)
	if l.atomicLevel.Enabled(zap.WarnLevel) {
		l.forward("🟡 *WARN:*", msg, keysAndValues)
	}
}

func (l *Logger) Error(msg string, keysAndValues ...interface{}) {
	l.ZapLogger.Errorw(msg, keysAndValues...)
	l.forward("🔴 *ERROR:*", msg, keysAndValues)
}

func (l *Logger) Fatal(msg string, keysAndValues ...interface{}) {
	l.forward("💀 *FATAL:*", msg, keysAndValues)
	l.ZapLogger.Fatalw(msg, keysAndValues...)
}

func (l *Logger) SetLevel(level string) {
	logLevel, ok := parseLevel(level)
	if !ok {
		l.ZapLogger.Warnf("Invalid log level '%s' provided to SetLevel, level unchanged.", level)
		return
	}
	l.atomicLevel.SetLevel(logLevel)
	l.ZapLogger.Infof("Logger level changed to: %s", logLevel.String())
}
