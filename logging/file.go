package logging

import (
	"fmt"
	"os"
	"sync"
	"time"
)

// FileLogger writes timestamped log messages to a file.
// It is safe for concurrent use from multiple goroutines.
type FileLogger struct {
	file   *os.File
	mu     sync.Mutex
	closed bool
}

// NewFileLogger opens (or creates) the file at path for appending.
func NewFileLogger(path string) (*FileLogger, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return &FileLogger{file: file}, nil
}

// Log writes a formatted message with a timestamp.
func (l *FileLogger) Log(format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return
	}

	ts := time.Now().Format("2006-01-02 15:04:05.000")
	fmt.Fprintf(l.file, "%s %s\n", ts, fmt.Sprintf(format, args...))
}

// Close closes the log file.
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	return l.file.Close()
}
