package notify

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/TITAN-Softwork-Solutions/Vigil/core"
	"github.com/TITAN-Softwork-Solutions/Vigil/metrics"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// gateCapacity bounds the per-pid notification gate
const gateCapacity = 4096

// Notifier shows a desktop notification
type Notifier interface {
	Notify(ctx context.Context, title, body string) error
}

// CommandNotifier runs an external program per notification. The
// placeholders {title} and {body} in the arguments are substituted.
type CommandNotifier struct {
	argv []string
}

// NewCommandNotifier validates argv, whose first element is the program
func NewCommandNotifier(argv []string) (*CommandNotifier, error) {
	if len(argv) == 0 || strings.TrimSpace(argv[0]) == "" {
		return nil, fmt.Errorf("notification command is empty")
	}
	return &CommandNotifier{argv: append([]string(nil), argv...)}, nil
}

// Notify implements Notifier
func (n *CommandNotifier) Notify(ctx context.Context, title, body string) error {
	replacer := strings.NewReplacer("{title}", title, "{body}", body)
	args := make([]string, len(n.argv)-1)
	for i, a := range n.argv[1:] {
		args[i] = replacer.Replace(a)
	}

	cmd := exec.CommandContext(ctx, n.argv[0], args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("notification command failed: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// NotificationOptions configures the notification rate caps
type NotificationOptions struct {
	// PerPIDInterval is the minimum time between notifications for one pid
	PerPIDInterval time.Duration
	// RatePerMinute caps notifications overall; <= 0 disables the cap
	RatePerMinute int
}

// NotificationSink turns alerts into desktop notifications. Throttled alerts
// are skipped silently; they still reach the other sinks.
type NotificationSink struct {
	notifier Notifier
	interval time.Duration
	limiter  *rate.Limiter
	now      func() time.Time
	logger   *zap.SugaredLogger

	mu   sync.Mutex
	last *lru.Cache[uint32, time.Time]
}

// NewNotificationSink wraps notifier with the per-pid gate and global cap
func NewNotificationSink(notifier Notifier, opts NotificationOptions, logger *zap.SugaredLogger) (*NotificationSink, error) {
	last, err := lru.New[uint32, time.Time](gateCapacity)
	if err != nil {
		return nil, err
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RatePerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.RatePerMinute)), opts.RatePerMinute)
	}

	return &NotificationSink{
		notifier: notifier,
		interval: opts.PerPIDInterval,
		limiter:  limiter,
		now:      time.Now,
		logger:   logger,
		last:     last,
	}, nil
}

// Name implements Sink
func (s *NotificationSink) Name() string { return "notification" }

// Write implements Sink
func (s *NotificationSink) Write(ctx context.Context, alert *core.AlertRecord) error {
	if core.IsKernelPID(alert.PID) {
		metrics.NotificationsThrottled.WithLabelValues("system_pid").Inc()
		return nil
	}
	prev, reason := s.admit(alert.PID)
	switch reason {
	case "pid_gate":
		metrics.NotificationsThrottled.WithLabelValues(reason).Inc()
		return nil
	case "rate":
		metrics.NotificationsThrottled.WithLabelValues(reason).Inc()
		s.logger.Debugw("Notification rate cap reached", "pid", alert.PID, "rule", alert.RuleName)
		return nil
	}

	if err := s.notifier.Notify(ctx, core.NotificationTitle, alert.Headline()+"\n"+alert.Body()); err != nil {
		s.release(alert.PID, prev)
		return err
	}
	return nil
}

// Close implements Sink
func (s *NotificationSink) Close() error { return nil }

// admit reserves a notification slot for pid. The pid gate is stamped only
// once the global cap lets the alert through. It returns the previous stamp
// so a failed delivery can be rolled back, and a throttle reason or "".
func (s *NotificationSink) admit(pid uint32) (time.Time, string) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, seen := s.last.Peek(pid)
	if seen && now.Sub(prev) < s.interval {
		return prev, "pid_gate"
	}
	if !s.limiter.AllowN(now, 1) {
		return prev, "rate"
	}
	s.last.Add(pid, now)
	return prev, ""
}

// release undoes the stamp taken by admit
func (s *NotificationSink) release(pid uint32, prev time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev.IsZero() {
		s.last.Remove(pid)
		return
	}
	s.last.Add(pid, prev)
}
