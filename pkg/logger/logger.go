// Package logger is the leveled console logger shared by the CLI, the HTTP
// server and the service facade.
package logger

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"
)

type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	FATAL
)

// EnvLevel names the environment variable read by GetLogger.
const EnvLevel = "NOISE_LOG_LEVEL"

func (l LogLevel) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	case FATAL:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel accepts level names case-insensitively ("warning" is WARN).
func ParseLevel(s string) (LogLevel, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return DEBUG, true
	case "INFO":
		return INFO, true
	case "WARN", "WARNING":
		return WARN, true
	case "ERROR":
		return ERROR, true
	case "FATAL":
		return FATAL, true
	}
	return INFO, false
}

const (
	colorReset   = "\033[0m"
	colorRed     = "\033[31m"
	colorMagenta = "\033[35m"
	colorYellow  = "\033[33m"
	colorBlue    = "\033[34m"
	colorGray    = "\033[90m"
)

// sink is shared between a logger and the children created by WithPrefix so
// that level and output changes apply to the whole tree.
type sink struct {
	mu         sync.Mutex
	out        io.Writer
	level      LogLevel
	colorize   bool
	showCaller bool
	showTime   bool
	timeFormat string
	exit       func(int)
}

type Logger struct {
	*sink
	prefix string
}

var (
	defaultLogger *Logger
	once          sync.Once
)

type Config struct {
	Level      LogLevel
	Prefix     string
	Colorize   bool
	ShowCaller bool
	ShowTime   bool
	TimeFormat string
	Output     io.Writer
}

func DefaultConfig() Config {
	return Config{
		Level:      INFO,
		Colorize:   true,
		ShowTime:   true,
		TimeFormat: "2006-01-02 15:04:05",
		Output:     os.Stderr,
	}
}

func New(cfg Config) *Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}
	if cfg.TimeFormat == "" {
		cfg.TimeFormat = "2006-01-02 15:04:05"
	}

	return &Logger{
		sink: &sink{
			out:        cfg.Output,
			level:      cfg.Level,
			colorize:   cfg.Colorize,
			showCaller: cfg.ShowCaller,
			showTime:   cfg.ShowTime,
			timeFormat: cfg.TimeFormat,
			exit:       os.Exit,
		},
		prefix: cfg.Prefix,
	}
}

// GetLogger returns the process-wide logger. Its level comes from
// NOISE_LOG_LEVEL when set.
func GetLogger() *Logger {
	once.Do(func() {
		cfg := DefaultConfig()
		if lvl, ok := ParseLevel(os.Getenv(EnvLevel)); ok {
			cfg.Level = lvl
		}
		defaultLogger = New(cfg)
	})
	return defaultLogger
}

// WithPrefix returns a child logger that tags every line with prefix.
func (l *Logger) WithPrefix(prefix string) *Logger {
	p := "[" + prefix + "]"
	if l.prefix != "" {
		p = l.prefix + " " + p
	}
	return &Logger{sink: l.sink, prefix: p}
}

func (l *Logger) SetLevel(level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

func (l *Logger) Level() LogLevel {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.level
}

func (l *Logger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.out = w
}

func (l *Logger) SetColorize(colorize bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.colorize = colorize
}

func (l *Logger) SetShowCaller(show bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.showCaller = show
}

func (l *Logger) levelTag(level LogLevel) string {
	tag := fmt.Sprintf("[%s]", level.String())
	if !l.colorize {
		return tag
	}
	switch level {
	case DEBUG:
		return colorGray + tag + colorReset
	case INFO:
		return colorBlue + tag + colorReset
	case WARN:
		return colorYellow + tag + colorReset
	case ERROR:
		return colorMagenta + tag + colorReset
	case FATAL:
		return colorRed + tag + colorReset
	}
	return tag
}

func (l *Logger) formatMessage(level LogLevel, msg string, args ...any) string {
	var parts []string

	if l.showTime {
		parts = append(parts, time.Now().Format(l.timeFormat))
	}
	parts = append(parts, l.levelTag(level))

	if l.showCaller {
		if _, file, line, ok := runtime.Caller(3); ok {
			if idx := strings.LastIndex(file, "/"); idx >= 0 {
				file = file[idx+1:]
			}
			parts = append(parts, fmt.Sprintf("%s:%d", file, line))
		}
	}

	if l.prefix != "" {
		parts = append(parts, l.prefix)
	}

	if len(args) > 0 {
		msg = fmt.Sprintf(msg, args...)
	}
	parts = append(parts, msg)

	return strings.Join(parts, " ")
}

func (l *Logger) log(level LogLevel, msg string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if level < l.level {
		return
	}

	fmt.Fprintln(l.out, l.formatMessage(level, msg, args...))

	if level == FATAL {
		l.exit(1)
	}
}

func (l *Logger) Debugf(format string, args ...any) {
	l.log(DEBUG, format, args...)
}

func (l *Logger) Infof(format string, args ...any) {
	l.log(INFO, format, args...)
}

func (l *Logger) Warnf(format string, args ...any) {
	l.log(WARN, format, args...)
}

// Warningf is Warnf under the name some storage engines expect.
func (l *Logger) Warningf(format string, args ...any) {
	l.log(WARN, format, args...)
}

func (l *Logger) Errorf(format string, args ...any) {
	l.log(ERROR, format, args...)
}

// Fatalf logs at FATAL level and exits the process.
func (l *Logger) Fatalf(format string, args ...any) {
	l.log(FATAL, format, args...)
}

// Package-level helpers on the default logger

func Debugf(format string, args ...any) {
	GetLogger().Debugf(format, args...)
}

func Infof(format string, args ...any) {
	GetLogger().Infof(format, args...)
}

func Warnf(format string, args ...any) {
	GetLogger().Warnf(format, args...)
}

func Errorf(format string, args ...any) {
	GetLogger().Errorf(format, args...)
}

func Fatalf(format string, args ...any) {
	GetLogger().Fatalf(format, args...)
}

func SetLevel(level LogLevel) {
	GetLogger().SetLevel(level)
}

func SetOutput(w io.Writer) {
	GetLogger().SetOutput(w)
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return New(Config{Level: FATAL + 1, Output: io.Discard})
}
