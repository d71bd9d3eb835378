package notify

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/TITAN-Softwork-Solutions/Vigil/core"
	"github.com/fatih/color"
)

// ConsoleSink prints a colored one-line summary per alert
type ConsoleSink struct {
	mu  sync.Mutex
	out io.Writer

	stamp  *color.Color
	kind   *color.Color
	detail *color.Color
}

// NewConsoleSink writes to out, normally os.Stdout. Colors follow
// color.NoColor, which is set when out is not a terminal.
func NewConsoleSink(out io.Writer) *ConsoleSink {
	return &ConsoleSink{
		out:    out,
		stamp:  color.New(color.FgHiBlack),
		kind:   color.New(color.FgRed, color.Bold),
		detail: color.New(color.FgYellow),
	}
}

// Name implements Sink
func (s *ConsoleSink) Name() string { return "console" }

// Write implements Sink
func (s *ConsoleSink) Write(_ context.Context, alert *core.AlertRecord) error {
	line := fmt.Sprintf("%s %s %s\n  pid=%d image=%s\n  target=%s\n",
		s.stamp.Sprint(alert.Timestamp.Format("15:04:05.000")),
		s.kind.Sprint(alert.Kind),
		s.detail.Sprint(alert.Headline()),
		alert.PID,
		alert.ImagePath,
		alert.TargetPath,
	)
	if alert.Kind == core.AlertAccessViaDuplicatedHandle {
		line += fmt.Sprintf("  opener pid=%d image=%s\n", alert.OpenerPID, alert.OpenerImage)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := io.WriteString(s.out, line)
	return err
}

// Close implements Sink
func (s *ConsoleSink) Close() error { return nil }
