// Package logging sets up the logrus logger: every entry goes to an
// append-only log file, warnings and above are mirrored to the console.
package logging

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// AppName is attached to every entry.
const AppName = "HowlsMovingDocker"

// ConsoleHook writes entries at or above a level to an extra writer.
type ConsoleHook struct {
	out       io.Writer
	formatter logrus.Formatter
	levels    []logrus.Level
	mu        sync.Mutex
}

// NewConsoleHook mirrors every entry at threshold or more severe to out.
func NewConsoleHook(out io.Writer, threshold logrus.Level) *ConsoleHook {
	var levels []logrus.Level
	for _, l := range logrus.AllLevels {
		if l <= threshold {
			levels = append(levels, l)
		}
	}
	return &ConsoleHook{
		out: out,
		formatter: &logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.DateTime,
		},
		levels: levels,
	}
}

// Fire writes the entry to the console.
func (h *ConsoleHook) Fire(entry *logrus.Entry) error {
	line, err := h.formatter.Format(entry)
	if err != nil {
		return fmt.Errorf("failed to format log entry: %v", err)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, err := h.out.Write(line); err != nil {
		return fmt.Errorf("failed to write to console: %v", err)
	}
	return nil
}

// Levels returns the levels mirrored to the console.
func (h *ConsoleHook) Levels() []logrus.Level {
	return h.levels
}

// Logger is the configured logger together with its log file.
type Logger struct {
	*logrus.Logger
	file *os.File
}

// Entry returns an entry carrying the application name.
func (l *Logger) Entry() *logrus.Entry {
	return l.WithField("appName", AppName)
}

// Close closes the log file.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

// New opens (or creates) path in append mode and returns a logger writing
// entries at level or above to it. Warnings and errors additionally go to
// console.
func New(path, level string, console io.Writer) (*Logger, error) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		logrus.Warnf("invalid log level %q, using info", level)
		lvl = logrus.InfoLevel
	}

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	logger := logrus.New()
	logger.SetLevel(lvl)
	logger.SetOutput(file)
	logger.SetFormatter(&logrus.TextFormatter{
		DisableColors:   true,
		FullTimestamp:   true,
		TimestampFormat: time.DateTime,
	})
	if console != nil {
		logger.AddHook(NewConsoleHook(console, logrus.WarnLevel))
	}
	return &Logger{Logger: logger, file: file}, nil
}

// SetDefault configures the standard logger used before the configuration
// is loaded.
func SetDefault() {
	logrus.SetOutput(os.Stderr)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.DateTime,
	})
}
