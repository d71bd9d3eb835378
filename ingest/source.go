package ingest

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/TITAN-Softwork-Solutions/Vigil/core"
	"github.com/TITAN-Softwork-Solutions/Vigil/metrics"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

// maxLineSize bounds one JSON line
const maxLineSize = 1 << 20

// Pusher accepts raw events without blocking; the detector's sequencer
// implements it
type Pusher interface {
	Push(raw core.RawEvent) bool
}

// Source produces raw events until its input ends or ctx is cancelled
type Source interface {
	Name() string
	Run(ctx context.Context, out Pusher) error
}

// SourceStats counts what a source read
type SourceStats struct {
	Read     uint64 `json:"read"`
	Invalid  uint64 `json:"invalid"`
	Rejected uint64 `json:"rejected"`
}

// JSONLinesSource reads one JSON encoded core.RawEvent per line
type JSONLinesSource struct {
	name   string
	r      io.Reader
	logger *zap.SugaredLogger
	stats  SourceStats
}

// NewJSONLinesSource reads from r. Blank lines are ignored.
func NewJSONLinesSource(name string, r io.Reader, logger *zap.SugaredLogger) *JSONLinesSource {
	return &JSONLinesSource{name: name, r: r, logger: logger}
}

// Name implements Source
func (s *JSONLinesSource) Name() string { return s.name }

// Stats returns the counters; only valid after Run returned
func (s *JSONLinesSource) Stats() SourceStats { return s.stats }

// Run implements Source. It returns nil at end of input.
func (s *JSONLinesSource) Run(ctx context.Context, out Pusher) error {
	scanner := bufio.NewScanner(s.r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	line := 0
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil
		}
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}

		var raw core.RawEvent
		if err := json.Unmarshal([]byte(text), &raw); err != nil {
			s.stats.Invalid++
			metrics.EventsDropped.WithLabelValues("decode").Inc()
			s.logger.Warnw("Skipping undecodable event line", "source", s.name, "line", line, "error", err)
			continue
		}
		s.push(out, raw)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read %s: %w", s.name, err)
	}
	return nil
}

func (s *JSONLinesSource) push(out Pusher, raw core.RawEvent) {
	s.stats.Read++
	metrics.EventsIngested.WithLabelValues(s.name).Inc()
	if !out.Push(raw) {
		s.stats.Rejected++
	}
}

// MsgpackSource reads a stream of msgpack encoded core.RawEvent values
type MsgpackSource struct {
	name   string
	r      io.Reader
	logger *zap.SugaredLogger
	stats  SourceStats
}

// NewMsgpackSource reads from r
func NewMsgpackSource(name string, r io.Reader, logger *zap.SugaredLogger) *MsgpackSource {
	return &MsgpackSource{name: name, r: r, logger: logger}
}

// Name implements Source
func (s *MsgpackSource) Name() string { return s.name }

// Stats returns the counters; only valid after Run returned
func (s *MsgpackSource) Stats() SourceStats { return s.stats }

// Run implements Source. A decode error ends the stream because msgpack
// has no record separator to resynchronize on.
func (s *MsgpackSource) Run(ctx context.Context, out Pusher) error {
	dec := msgpack.NewDecoder(bufio.NewReader(s.r))
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		var raw core.RawEvent
		if err := dec.Decode(&raw); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			s.stats.Invalid++
			metrics.EventsDropped.WithLabelValues("decode").Inc()
			return fmt.Errorf("failed to decode msgpack event %d from %s: %w", s.stats.Read+1, s.name, err)
		}
		s.stats.Read++
		metrics.EventsIngested.WithLabelValues(s.name).Inc()
		if !out.Push(raw) {
			s.stats.Rejected++
		}
	}
}

// WriteMsgpack encodes events as a stream MsgpackSource can read
func WriteMsgpack(w io.Writer, events []core.RawEvent) error {
	enc := msgpack.NewEncoder(w)
	for i := range events {
		if err := enc.Encode(&events[i]); err != nil {
			return fmt.Errorf("failed to encode event %d: %w", i, err)
		}
	}
	return nil
}

// OpenSource opens path as an event source. An empty path or "-" reads
// JSON lines from stdin; .msgpack and .mpk files are read as msgpack.
// The returned closer releases the file.
func OpenSource(path string, logger *zap.SugaredLogger) (Source, io.Closer, error) {
	if path == "" || path == "-" {
		return NewJSONLinesSource("stdin", os.Stdin, logger), nopCloser{}, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open event source %s: %w", path, err)
	}
	name := filepath.Base(path)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".msgpack", ".mpk":
		return NewMsgpackSource(name, f, logger), f, nil
	default:
		return NewJSONLinesSource(name, f, logger), f, nil
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
