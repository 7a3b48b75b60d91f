package observability

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogOptions selects the level and an optional rotating log file. Output
// always goes to stdout; File adds a second, rotated copy.
type LogOptions struct {
	Level      string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

var (
	logMu     sync.RWMutex
	logOutput io.Writer = os.Stdout
	logLevel            = parseLogLevel(os.Getenv("PERPVAMM_LOG_LEVEL"))
)

// ConfigureLogging sets the output and level used by every logger created
// afterwards. The returned closer flushes the log file, if any.
func ConfigureLogging(opts LogOptions) io.Closer {
	logMu.Lock()
	defer logMu.Unlock()

	if opts.Level != "" {
		logLevel = parseLogLevel(opts.Level)
	}
	if opts.File == "" {
		logOutput = os.Stdout
		return noopCloser{}
	}
	rotated := &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
		Compress:   true,
	}
	logOutput = zerolog.MultiLevelWriter(os.Stdout, rotated)
	return rotated
}

// NewLogger creates a structured JSON logger tagged with component.
// Production default: info. Set via PERPVAMM_LOG_LEVEL or ConfigureLogging.
func NewLogger(component string) zerolog.Logger {
	logMu.RLock()
	defer logMu.RUnlock()
	return NewLoggerTo(logOutput, component, logLevel)
}

// NewLoggerTo creates a logger on an explicit writer, used by tests.
func NewLoggerTo(w io.Writer, component string, level zerolog.Level) zerolog.Logger {
	return zerolog.New(w).
		Level(level).
		With().
		Timestamp().
		Str("component", component).
		Logger()
}

type noopCloser struct{}

func (noopCloser) Close() error { return nil }

func parseLogLevel(s string) zerolog.Level {
	switch strings.ToLower(s) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info", "":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
}
