// Package logger provides debug logging functionality for usbsentinel
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Config controls where and how much is logged
type Config struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Dir     string `mapstructure:"dir" yaml:"dir"`
	Level   string `mapstructure:"level" yaml:"level"`
	Console bool   `mapstructure:"console" yaml:"console"`
}

// Logger is the main logger instance
type Logger struct {
	mu       sync.Mutex
	zl       zerolog.Logger
	file     *os.File
	filePath string
}

var (
	instance atomic.Pointer[Logger]
	initMu   sync.Mutex
)

func init() {
	instance.Store(&Logger{zl: zerolog.Nop()})
}

func current() *Logger {
	return instance.Load()
}

// Init initializes the global logger. With Enabled set, a JSON debug log is
// written to Dir; with Console set, human-readable lines go to stderr.
func Init(cfg Config) error {
	initMu.Lock()
	defer initMu.Unlock()

	closeLocked()

	level := zerolog.DebugLevel
	if cfg.Level != "" {
		parsed, err := zerolog.ParseLevel(cfg.Level)
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
		level = parsed
	}

	var writers []io.Writer
	l := &Logger{}

	if cfg.Enabled {
		timestamp := time.Now().Format("20060102_150405")
		hostname, _ := os.Hostname()
		logFileName := fmt.Sprintf("usbsentinel_debug_%s_%s.log", hostname, timestamp)

		dir := cfg.Dir
		if dir == "" {
			dir = "."
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}

		logPath := filepath.Join(dir, logFileName)
		file, err := os.Create(logPath)
		if err != nil {
			return fmt.Errorf("failed to create log file: %w", err)
		}
		l.file = file
		l.filePath = logPath
		writers = append(writers, file)
	}

	if cfg.Console {
		writers = append(writers, zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	}

	switch len(writers) {
	case 0:
		l.zl = zerolog.Nop()
	case 1:
		l.zl = zerolog.New(writers[0]).Level(level).With().Timestamp().Logger()
	default:
		l.zl = zerolog.New(zerolog.MultiLevelWriter(writers...)).Level(level).With().Timestamp().Logger()
	}

	if l.file != nil {
		l.writeHeader()
	}
	instance.Store(l)
	return nil
}

// SetOutput routes logging to w at debug level. Used by tests.
func SetOutput(w io.Writer) {
	initMu.Lock()
	defer initMu.Unlock()
	closeLocked()
	instance.Store(&Logger{zl: zerolog.New(w).Level(zerolog.DebugLevel).With().Timestamp().Logger()})
}

// GetLogPath returns the path to the log file
func GetLogPath() string {
	l := current()
	if l.file == nil {
		return ""
	}
	return l.filePath
}

// Close closes the log file
func Close() {
	initMu.Lock()
	defer initMu.Unlock()
	closeLocked()
}

// closeLocked swaps in a no-op logger first; l.mu then waits out writers
// still holding the old one before the file is closed.
func closeLocked() {
	old := instance.Swap(&Logger{zl: zerolog.Nop()})
	if old == nil || old.file == nil {
		return
	}
	old.mu.Lock()
	defer old.mu.Unlock()
	old.zl.Info().Msg("usbsentinel debug log finished")
	old.file.Close()
}

// WithComponent returns a child logger tagged with a component name
func WithComponent(component string) zerolog.Logger {
	return current().zl.With().Str("component", component).Logger()
}

func (l *Logger) writeHeader() {
	hostname, _ := os.Hostname()
	l.zl.Info().
		Str("hostname", hostname).
		Str("os", runtime.GOOS+"/"+runtime.GOARCH).
		Str("go_version", runtime.Version()).
		Msg("usbsentinel debug log started")
}

func (l *Logger) log(level zerolog.Level, format string, args ...interface{}) {
	if l == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	ev := l.zl.WithLevel(level)
	if ev == nil {
		return
	}

	// Get caller info
	if _, file, line, ok := runtime.Caller(2); ok {
		ev = ev.Str("caller", fmt.Sprintf("%s:%d", filepath.Base(file), line))
	}
	ev.Msgf(format, args...)
}

// Debug logs a debug message
func Debug(format string, args ...interface{}) {
	current().log(zerolog.DebugLevel, format, args...)
}

// Info logs an info message
func Info(format string, args ...interface{}) {
	current().log(zerolog.InfoLevel, format, args...)
}

// Warn logs a warning message
func Warn(format string, args ...interface{}) {
	current().log(zerolog.WarnLevel, format, args...)
}

// Error logs an error message
func Error(format string, args ...interface{}) {
	current().log(zerolog.ErrorLevel, format, args...)
}

// Section logs a section header for better readability
func Section(name string) {
	current().log(zerolog.InfoLevel, "========== %s ==========", name)
}

// SubSection logs a subsection header
func SubSection(name string) {
	current().log(zerolog.InfoLevel, "--- %s ---", name)
}

// Timing logs execution time for a function
func Timing(operation string, start time.Time) {
	l := current()
	l.mu.Lock()
	defer l.mu.Unlock()
	l.zl.Debug().
		Str("operation", operation).
		Dur("elapsed", time.Since(start)).
		Msg("timing")
}

// DeviceInfo logs one USBSTOR device
func DeviceInfo(deviceID, friendlyName, manufacturer string, firstInstall time.Time) {
	Debug("Device: ID=%s Name=%s Manufacturer=%s FirstInstall=%s",
		deviceID, truncate(friendlyName, 120), manufacturer, firstInstall.Format(time.RFC3339))
}

// DetectionInfo logs detection information
func DetectionInfo(detType, severity, description string) {
	Info("Detection: [%s] [%s] %s", severity, detType, description)
}

// APICall logs Windows API calls
func APICall(api string, params ...interface{}) {
	paramStr := fmt.Sprintf("%v", params)
	Debug("API Call: %s %s", api, paramStr)
}

// APIResult logs Windows API call results
func APIResult(api string, result interface{}, err error) {
	if err != nil {
		Error("API Result: %s failed: %v", api, err)
	} else {
		Debug("API Result: %s success: %v", api, result)
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
