package log

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Rotation limits for log files.
const (
	maxLogSizeMB  = 20
	maxLogBackups = 5
	maxLogAgeDays = 14
)

// NewRotatingWriter returns a size-rotated log file writer at path.
// The parent directory is created if needed.
func NewRotatingWriter(path string) (io.WriteCloser, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, err
		}
	}
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxLogSizeMB,
		MaxBackups: maxLogBackups,
		MaxAge:     maxLogAgeDays,
		Compress:   true,
	}, nil
}

// Setup builds the process logger. Logs go to stderr, or to a rotated JSON
// file when logFile is set. The returned closer must be called on exit.
func Setup(stderr io.Writer, logFile string, verbose bool) (*slog.Logger, io.Closer, error) {
	if logFile == "" {
		return NewSecureLogger(stderr, verbose), io.NopCloser(nil), nil
	}

	w, err := NewRotatingWriter(logFile)
	if err != nil {
		return nil, nil, err
	}
	return NewSecureJSONLogger(w, verbose), w, nil
}
