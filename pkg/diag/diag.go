// Package diag is the coordinator's diagnostics channel: structured
// logging through zap, plus a plain-text warnings trail an operator can
// tail in reverse.
package diag

import (
	"fmt"
	"os"
	"sync"

	"github.com/icza/backscanner"
	"go.uber.org/zap"
)

// Logger is a thin wrapper around *zap.Logger that also appends every
// Warn call to an append-only text file, one line per warning, so an
// operator can inspect recent warnings without parsing structured JSON.
type Logger struct {
	z *zap.Logger

	mu      sync.Mutex
	warnLog *os.File // nil if warnings aren't persisted to a text trail
}

// New builds a Logger. When development is true it uses zap's
// console-friendly development logger; otherwise zap's sampled JSON
// production logger.
func New(development bool) (*Logger, error) {
	var z *zap.Logger
	var err error
	if development {
		z, err = zap.NewDevelopment()
	} else {
		z, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}
	return &Logger{z: z}, nil
}

// WithWarningsTrail opens (creating if necessary) a plain-text file that
// every subsequent Warn call also appends a line to. Pass "" to disable.
func (l *Logger) WithWarningsTrail(path string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.warnLog != nil {
		l.warnLog.Close()
		l.warnLog = nil
	}
	if path == "" {
		return nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	l.warnLog = f
	return nil
}

// Info logs at info level.
func (l *Logger) Info(msg string, fields ...zap.Field) {
	l.z.Info(msg, fields...)
}

// Debug logs at debug level, which zap's production logger does not
// emit by default.
func (l *Logger) Debug(msg string, fields ...zap.Field) {
	l.z.Debug(msg, fields...)
}

// Warn logs a non-fatal deviation (adapter stream drift,
// stop-with-pending transactions, corrupt files discovered during
// rescan) and, if a warnings trail is open, appends a line to it.
func (l *Logger) Warn(msg string, fields ...zap.Field) {
	l.z.Warn(msg, fields...)
	l.mu.Lock()
	f := l.warnLog
	l.mu.Unlock()
	if f == nil {
		return
	}
	line := msg
	for _, fl := range fields {
		line += fmt.Sprintf(" %s=%v", fl.Key, fl.Interface)
	}
	line += "\n"
	// Best-effort: a failure to persist the text trail must never mask
	// the zap warning already emitted above.
	_, _ = f.WriteString(line)
}

// Error logs at error level.
func (l *Logger) Error(msg string, fields ...zap.Field) {
	l.z.Error(msg, fields...)
}

// Sync flushes the underlying zap core.
func (l *Logger) Sync() error {
	return l.z.Sync()
}

// TailWarnings returns up to n of the most recent lines from the
// warnings trail, most recent last, without reading the whole file —
// it seeks from the end with backscanner exactly as an operator would
// tail a plain-text audit log.
func TailWarnings(path string, n int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	scanner := backscanner.New(f, int(info.Size()))
	lines := make([]string, 0, n)
	for len(lines) < n {
		line, _, err := scanner.Line()
		if err != nil {
			break
		}
		lines = append(lines, line)
	}
	// reverse into chronological order
	for i, j := 0, len(lines)-1; i < j; i, j = i+1, j-1 {
		lines[i], lines[j] = lines[j], lines[i]
	}
	return lines, nil
}
