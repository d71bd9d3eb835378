package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/TITAN-Softwork-Solutions/Vigil/core"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	jsonlFileName = "alerts.jsonl"
	textFileName  = "alerts.log"
)

// LogFileOptions configures the alert log
type LogFileOptions struct {
	Dir        string
	JSONL      bool
	MaxSizeMB  int
	MaxBackups int
}

// LogFileSink appends one line per alert to alerts.jsonl (JSON objects) or
// alerts.log (fixed-field text). The file is rotated by size.
type LogFileSink struct {
	path   string
	jsonl  bool
	mu     sync.Mutex
	out    *lumberjack.Logger
	closed bool
}

// NewLogFileSink creates the log directory and opens the alert log
func NewLogFileSink(opts LogFileOptions) (*LogFileSink, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("alert log directory is required")
	}
	if err := os.MkdirAll(opts.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create log directory %s: %w", opts.Dir, err)
	}

	name := textFileName
	if opts.JSONL {
		name = jsonlFileName
	}
	path := filepath.Join(opts.Dir, name)

	// open eagerly so an unwritable directory fails at startup
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, fmt.Errorf("failed to open alert log %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close alert log %s: %w", path, err)
	}

	return &LogFileSink{
		path:  path,
		jsonl: opts.JSONL,
		out: &lumberjack.Logger{
			Filename:   path,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
		},
	}, nil
}

// Name implements Sink
func (s *LogFileSink) Name() string { return "logfile" }

// Path returns the active log file
func (s *LogFileSink) Path() string { return s.path }

// Write implements Sink
func (s *LogFileSink) Write(_ context.Context, alert *core.AlertRecord) error {
	line, err := s.format(alert)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSinkClosed
	}
	if _, err := s.out.Write(line); err != nil {
		return fmt.Errorf("failed to write alert log: %w", err)
	}
	return nil
}

// Close implements Sink
func (s *LogFileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.out.Close()
}

func (s *LogFileSink) format(alert *core.AlertRecord) ([]byte, error) {
	if !s.jsonl {
		return []byte(alert.TextLine() + "\n"), nil
	}
	data, err := json.Marshal(alert)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal alert: %w", err)
	}
	return append(data, '\n'), nil
}
