package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// Config holds logger configuration
type Config struct {
	Level      string // debug, info, warn, error
	OutputFile string // Path to log file (empty = stderr only)
	MaxSize    int64  // Max size in bytes before rotation (default: 10MB)
	MaxBackups int    // Number of old log files to keep (default: 3)
	JSONFormat bool
}

// New builds a logrus logger writing to stderr and, if configured, to a
// size-rotated log file. The returned closer releases the file handle.
func New(config Config) (*logrus.Logger, io.Closer, error) {
	if config.MaxSize == 0 {
		config.MaxSize = 10 * 1024 * 1024
	}
	if config.MaxBackups == 0 {
		config.MaxBackups = 3
	}

	logger := logrus.New()

	level, err := logrus.ParseLevel(config.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if config.JSONFormat {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	if config.OutputFile == "" {
		logger.SetOutput(os.Stderr)
		return logger, nopCloser{}, nil
	}

	dir := filepath.Dir(config.OutputFile)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, nil, fmt.Errorf("failed to create log directory %s: %w", dir, err)
	}

	if err := rotateIfNeeded(config); err != nil {
		return nil, nil, fmt.Errorf("failed to rotate logs: %w", err)
	}

	file, err := os.OpenFile(config.OutputFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file %s: %w", config.OutputFile, err)
	}

	logger.SetOutput(io.MultiWriter(os.Stderr, file))
	return logger, file, nil
}

// Discard returns a logger that drops everything; used by tests
func Discard() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// rotateIfNeeded shifts file -> file.1 -> file.2 ... once the file exceeds MaxSize
func rotateIfNeeded(config Config) error {
	info, err := os.Stat(config.OutputFile)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to stat log file: %w", err)
	}

	if info.Size() < config.MaxSize {
		return nil
	}

	for i := config.MaxBackups - 1; i >= 1; i-- {
		oldPath := fmt.Sprintf("%s.%d", config.OutputFile, i)
		newPath := fmt.Sprintf("%s.%d", config.OutputFile, i+1)
		if _, err := os.Stat(oldPath); err == nil {
			os.Rename(oldPath, newPath) // Ignore error, file might not exist
		}
	}

	backupPath := fmt.Sprintf("%s.1", config.OutputFile)
	if err := os.Rename(config.OutputFile, backupPath); err != nil {
		return fmt.Errorf("failed to rotate log file: %w", err)
	}

	return nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
