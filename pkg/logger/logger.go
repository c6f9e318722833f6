package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog with typed fields. Warn and Error lines can also be
// fed to a LogCollector that ships aggregated copies to Kafka.
type Logger struct {
	zl        zerolog.Logger
	collector *LogCollector
}

type Config struct {
	Level      string // debug, info, warn, error
	Format     string // json or console
	Output     string // stdout, stderr, or a file path
	TimeFormat string
	// Writer overrides Output when set.
	Writer io.Writer
}

func New(cfg *Config) (*Logger, error) {
	level := zerolog.InfoLevel
	if cfg.Level != "" {
		lv, err := zerolog.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
		level = lv
	}

	out, err := openOutput(cfg)
	if err != nil {
		return nil, err
	}

	timeFormat := cfg.TimeFormat
	if timeFormat == "" {
		timeFormat = time.RFC3339Nano
	}
	zerolog.TimeFieldFormat = timeFormat
	zerolog.DurationFieldUnit = time.Millisecond

	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: timeFormat}
	}

	zl := zerolog.New(out).
		Level(level).
		With().
		Timestamp().
		Str("service", "gridcast").
		CallerWithSkipFrameCount(4).
		Logger()
	return &Logger{zl: zl}, nil
}

func openOutput(cfg *Config) (io.Writer, error) {
	if cfg.Writer != nil {
		return cfg.Writer, nil
	}
	switch cfg.Output {
	case "", "stdout":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	}
	f, err := os.OpenFile(cfg.Output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file %s: %w", cfg.Output, err)
	}
	return f, nil
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

// With returns a child logger carrying fields on every line. The collector
// is shared with the parent.
func (l *Logger) With(fields ...Field) *Logger {
	ctx := l.zl.With()
	for _, f := range fields {
		ctx = ctx.Interface(f.Key, f.plain())
	}
	return &Logger{zl: ctx.Logger(), collector: l.collector}
}

func (l *Logger) Debug(msg string, fields ...Field) { l.emit(l.zl.Debug(), msg, fields) }

func (l *Logger) Info(msg string, fields ...Field) { l.emit(l.zl.Info(), msg, fields) }

func (l *Logger) Warn(msg string, fields ...Field) {
	l.emit(l.zl.Warn(), msg, fields)
	l.collect(zerolog.WarnLevel, msg, fields)
}

func (l *Logger) Error(msg string, fields ...Field) {
	l.emit(l.zl.Error(), msg, fields)
	l.collect(zerolog.ErrorLevel, msg, fields)
}

func (l *Logger) emit(e *zerolog.Event, msg string, fields []Field) {
	if e == nil {
		return
	}
	for _, f := range fields {
		f.appendTo(e)
	}
	e.Msg(msg)
}

func (l *Logger) collect(level zerolog.Level, msg string, fields []Field) {
	if l.collector == nil || !l.collector.accepts(level.String()) {
		return
	}
	values := make(map[string]interface{}, len(fields))
	for _, f := range fields {
		values[f.Key] = f.plain()
	}
	l.collector.AddLog(level.String(), msg, values, callerAt(3))
}

// callerAt reports "dir/file.go:line" for the frame skip levels up.
func callerAt(skip int) string {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		return "unknown"
	}
	short := filepath.Join(filepath.Base(filepath.Dir(file)), filepath.Base(file))
	return short + ":" + strconv.Itoa(line)
}

// AddCollector replaces any attached collector with a new one.
func (l *Logger) AddCollector(config *CollectionConfig) {
	if l.collector != nil {
		l.collector.Close()
	}
	l.collector = NewLogCollector(config)
}

// RemoveCollector flushes and detaches the collector.
func (l *Logger) RemoveCollector() {
	if l.collector != nil {
		l.collector.Close()
		l.collector = nil
	}
}

// Field is a single structured key/value.
type Field struct {
	Key   string
	Value interface{}
}

func (f Field) appendTo(e *zerolog.Event) {
	switch v := f.Value.(type) {
	case string:
		e.Str(f.Key, v)
	case int:
		e.Int(f.Key, v)
	case int64:
		e.Int64(f.Key, v)
	case float64:
		e.Float64(f.Key, v)
	case bool:
		e.Bool(f.Key, v)
	case time.Time:
		e.Time(f.Key, v)
	case time.Duration:
		e.Dur(f.Key, v)
	case []string:
		e.Strs(f.Key, v)
	case error:
		e.AnErr(f.Key, v)
	default:
		e.Interface(f.Key, v)
	}
}

// plain is the value as it appears in aggregated entries and With context.
func (f Field) plain() interface{} {
	switch v := f.Value.(type) {
	case error:
		return v.Error()
	case time.Duration:
		return v.Milliseconds()
	}
	return f.Value
}

func String(key, value string) Field { return Field{key, value} }

func Int(key string, value int) Field { return Field{key, value} }

func Int64(key string, value int64) Field { return Field{key, value} }

func Float64(key string, value float64) Field { return Field{key, value} }

func Bool(key string, value bool) Field { return Field{key, value} }

func Time(key string, value time.Time) Field { return Field{key, value} }

func Strings(key string, value []string) Field { return Field{key, value} }

func Any(key string, value interface{}) Field { return Field{key, value} }

// Duration logs in milliseconds.
func Duration(key string, value time.Duration) Field { return Field{key, value} }

// Error logs err under "error".
func Error(err error) Field {
	if err == nil {
		return Field{zerolog.ErrorFieldName, ""}
	}
	return Field{zerolog.ErrorFieldName, err}
}

// Version tags a line with a model version.
func Version(value string) Field { return Field{"model_version", value} }

// Model tags a line with a model family.
func Model(value string) Field { return Field{"model_type", value} }
