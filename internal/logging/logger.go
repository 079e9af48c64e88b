package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// Option configures RuntimeLogger creation.
type Option func(*newOptions)

type newOptions struct {
	runID  string
	gameID string
	dir    string
	level  string
	writer io.Writer
}

// WithRunID configures the run_id field used in emitted log records.
func WithRunID(runID string) Option {
	return func(opts *newOptions) {
		opts.runID = strings.TrimSpace(runID)
	}
}

// WithGameID configures the game_id field used in emitted log records.
func WithGameID(gameID string) Option {
	return func(opts *newOptions) {
		opts.gameID = strings.TrimSpace(gameID)
	}
}

// WithDir overrides the log directory (default ~/.gameclient/logs).
func WithDir(dir string) Option {
	return func(opts *newOptions) {
		opts.dir = strings.TrimSpace(dir)
	}
}

// WithLevel sets the minimum level by name (debug, info, warn, error).
func WithLevel(level string) Option {
	return func(opts *newOptions) {
		opts.level = strings.TrimSpace(level)
	}
}

// WithWriter sends records to w instead of a log file.
func WithWriter(w io.Writer) Option {
	return func(opts *newOptions) {
		opts.writer = w
	}
}

// RuntimeLogger writes structured JSON logs to disk.
type RuntimeLogger struct {
	Logger     *log.Logger
	file       *os.File
	path       string
	baseLogger *log.Logger
	runID      string
	gameID     string
}

// New initializes logging under ~/.gameclient/logs without writing to stdout.
func New(ctx context.Context, options ...Option) (*RuntimeLogger, error) {
	resolved := resolveOptions(options)

	level := log.InfoLevel
	if resolved.level != "" {
		parsed, err := log.ParseLevel(resolved.level)
		if err != nil {
			return nil, fmt.Errorf("parse log level %q: %w", resolved.level, err)
		}
		level = parsed
	}

	runtimeLogger := &RuntimeLogger{
		runID:  resolved.runID,
		gameID: resolved.gameID,
	}

	out := resolved.writer
	if out == nil {
		file, filePath, err := openLogFile(resolved)
		if err != nil {
			return nil, err
		}
		runtimeLogger.file = file
		runtimeLogger.path = filePath
		out = file
	}

	logger := log.NewWithOptions(out, log.Options{
		Level:           level,
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
	})
	logger.SetFormatter(log.JSONFormatter)
	runtimeLogger.baseLogger = logger
	runtimeLogger.rebuildLogger()
	if runtimeLogger.path != "" {
		runtimeLogger.Logger.With("log_file", runtimeLogger.path).Info("logger initialized")
	}

	_ = ctx
	return runtimeLogger, nil
}

func openLogFile(opts newOptions) (*os.File, string, error) {
	logDir := opts.dir
	if logDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, "", fmt.Errorf("resolve home directory: %w", err)
		}
		logDir = filepath.Join(homeDir, ".gameclient", "logs")
	}
	if err := os.MkdirAll(logDir, 0o750); err != nil {
		return nil, "", fmt.Errorf("create log directory: %w", err)
	}

	timestamp := time.Now().UTC().Format("20060102-150405")
	fileName := fmt.Sprintf("gameclient-%s.log", timestamp)
	if opts.runID != "" {
		fileName = fmt.Sprintf("gameclient-%s-%s.log", timestamp, opts.runID)
	}
	filePath := filepath.Join(logDir, fileName)
	// #nosec G304 -- filePath is constructed from trusted local paths.
	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, "", fmt.Errorf("open log file: %w", err)
	}
	return file, filePath, nil
}

// Close flushes and closes the log file.
func (r *RuntimeLogger) Close() error {
	if r == nil || r.file == nil {
		return nil
	}
	return r.file.Close()
}

// Path returns the current log file path. It is empty when logging to a writer.
func (r *RuntimeLogger) Path() string {
	if r == nil {
		return ""
	}
	return r.path
}

func (r *RuntimeLogger) rebuildLogger() {
	if r == nil || r.baseLogger == nil {
		return
	}
	r.Logger = r.baseLogger.With(
		"run_id", r.runID,
		"game_id", r.gameID,
	)
}

func resolveOptions(options []Option) newOptions {
	resolved := newOptions{}
	for _, option := range options {
		if option == nil {
			continue
		}
		option(&resolved)
	}
	return resolved
}
