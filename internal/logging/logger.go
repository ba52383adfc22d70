// Package logging provides the file-backed debug logger used by the loops.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Logger writes timestamped lines to a file. A nil Logger, or one without a
// file, discards everything.
type Logger struct {
	mu     sync.Mutex
	out    io.Writer
	closer io.Closer
	prefix string
}

// New creates a logger writing to the specified path.
// If the path is empty, returns a no-op logger.
// Creates parent directories if they don't exist.
func New(logPath string) (*Logger, error) {
	if logPath == "" {
		return &Logger{}, nil
	}

	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	l := &Logger{out: f, closer: f}
	l.Log("=== crowdom log started at %s ===", time.Now().Format(time.RFC3339))
	return l, nil
}

// ForProject creates a logger in the project's .crowdom/logs directory.
// Returns a no-op logger if the directory cannot be created.
func ForProject(root string) *Logger {
	l, err := New(DefaultPath(root))
	if err != nil {
		return &Logger{}
	}
	return l
}

// DefaultPath returns the project-local log path.
func DefaultPath(root string) string {
	return filepath.Join(root, ".crowdom", "logs", "crowdom.log")
}

// NewWriter creates a logger writing to w. Used by tests and the CLI's --verbose mode.
func NewWriter(w io.Writer) *Logger {
	return &Logger{out: w}
}

// Nop returns a logger that discards output.
func Nop() *Logger {
	return &Logger{}
}

// With returns a logger sharing the same output whose lines start with prefix.
func (l *Logger) With(prefix string) *Logger {
	if l == nil {
		return nil
	}
	return &Logger{out: &sharedWriter{l: l}, prefix: l.prefix + prefix + " "}
}

// Log writes a timestamped message.
func (l *Logger) Log(format string, args ...any) {
	if l == nil || l.out == nil {
		return
	}
	msg := fmt.Sprintf(format, args...)
	line := fmt.Sprintf("[%s] %s%s\n", time.Now().Format("15:04:05.000"), l.prefix, msg)

	l.mu.Lock()
	defer l.mu.Unlock()
	io.WriteString(l.out, line)
	if f, ok := l.out.(*os.File); ok {
		f.Sync()
	}
}

// Close closes the log file.
// Safe to call on nil logger or logger without file.
func (l *Logger) Close() error {
	if l == nil || l.closer == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closer.Close()
}

// sharedWriter serialises writes of derived loggers through their parent.
type sharedWriter struct {
	l *Logger
}

func (w *sharedWriter) Write(p []byte) (int, error) {
	if w.l.out == nil {
		return len(p), nil
	}
	w.l.mu.Lock()
	defer w.l.mu.Unlock()
	return w.l.out.Write(p)
}
