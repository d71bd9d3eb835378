package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/TITAN-Softwork-Solutions/Vigil/core"
	"github.com/alicebob/miniredis/v2"
	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestLogFileSink_JSONL(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	sink, err := NewLogFileSink(LogFileOptions{Dir: dir, JSONL: true, MaxSizeMB: 1, MaxBackups: 1})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "alerts.jsonl"), sink.Path())

	require.NoError(t, sink.Write(context.Background(), testAlert(7)))
	require.NoError(t, sink.Write(context.Background(), testAlert(8)))
	require.NoError(t, sink.Close())

	data, err := os.ReadFile(sink.Path())
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &got))
	assert.Equal(t, float64(7), got["pid"])
	assert.Equal(t, "Chrome Passwords", got["rule_name"])
	assert.Equal(t, "DirectUntrustedAccess", got["alert_kind"])

	assert.ErrorIs(t, sink.Write(context.Background(), testAlert(9)), ErrSinkClosed)
}

func TestLogFileSink_Text(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewLogFileSink(LogFileOptions{Dir: dir, MaxSizeMB: 1})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "alerts.log"), sink.Path())

	alert := testAlert(7)
	require.NoError(t, sink.Write(context.Background(), alert))
	require.NoError(t, sink.Close())

	data, err := os.ReadFile(sink.Path())
	require.NoError(t, err)
	assert.Equal(t, alert.TextLine()+"\n", string(data))
}

func TestLogFileSink_RequiresDir(t *testing.T) {
	_, err := NewLogFileSink(LogFileOptions{})
	assert.Error(t, err)
}

func TestConsoleSink(t *testing.T) {
	color.NoColor = true
	var buf bytes.Buffer
	sink := NewConsoleSink(&buf)

	dup := testAlert(500)
	dup.Kind = core.AlertAccessViaDuplicatedHandle
	dup.OpenerPID = 400
	dup.OpenerImage = `C:\Program Files\Google\Chrome\Application\chrome.exe`
	dup.Operation = core.OpRead
	dup.EventID = core.EventIDFileRead

	require.NoError(t, sink.Write(context.Background(), testAlert(7)))
	require.NoError(t, sink.Write(context.Background(), dup))

	out := buf.String()
	assert.Contains(t, out, "evil.exe accessed Chrome Passwords")
	assert.Contains(t, out, "evil.exe touched Chrome Passwords")
	assert.Contains(t, out, "opener pid=400")
	assert.NoError(t, sink.Close())
}

type fakeNotifier struct {
	mu     sync.Mutex
	titles []string
	bodies []string
	err    error
}

func (f *fakeNotifier) Notify(ctx context.Context, title, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.titles = append(f.titles, title)
	f.bodies = append(f.bodies, body)
	return nil
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.titles)
}

func TestNotificationSink_PerPIDGate(t *testing.T) {
	notifier := &fakeNotifier{}
	sink, err := NewNotificationSink(notifier, NotificationOptions{PerPIDInterval: 30 * time.Second}, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	sink.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, sink.Write(ctx, testAlert(100)))
	require.NoError(t, sink.Write(ctx, testAlert(100)))
	require.NoError(t, sink.Write(ctx, testAlert(101)))
	require.NoError(t, sink.Write(ctx, testAlert(4)))
	require.NoError(t, sink.Write(ctx, testAlert(0)))
	assert.Equal(t, 2, notifier.count())

	now = now.Add(29 * time.Second)
	require.NoError(t, sink.Write(ctx, testAlert(100)))
	assert.Equal(t, 2, notifier.count())

	now = now.Add(2 * time.Second)
	require.NoError(t, sink.Write(ctx, testAlert(100)))
	assert.Equal(t, 3, notifier.count())

	assert.Equal(t, core.NotificationTitle, notifier.titles[0])
	assert.True(t, strings.HasPrefix(notifier.bodies[0], "evil.exe accessed Chrome Passwords\nPID 100"))
}

func TestNotificationSink_GlobalRateCap(t *testing.T) {
	notifier := &fakeNotifier{}
	sink, err := NewNotificationSink(notifier, NotificationOptions{RatePerMinute: 2}, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	sink.now = func() time.Time { return now }

	for pid := uint32(100); pid < 110; pid++ {
		require.NoError(t, sink.Write(context.Background(), testAlert(pid)))
	}
	assert.Equal(t, 2, notifier.count())

	now = now.Add(30 * time.Second)
	require.NoError(t, sink.Write(context.Background(), testAlert(200)))
	assert.Equal(t, 3, notifier.count())
}

func TestNotificationSink_RateCappedAlertDoesNotGatePID(t *testing.T) {
	notifier := &fakeNotifier{}
	sink, err := NewNotificationSink(notifier, NotificationOptions{
		PerPIDInterval: 5 * time.Minute,
		RatePerMinute:  1,
	}, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	sink.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, sink.Write(ctx, testAlert(100)))
	require.NoError(t, sink.Write(ctx, testAlert(101)))
	assert.Equal(t, 1, notifier.count())

	// 101 was never shown, so only the global cap may hold it back
	now = now.Add(61 * time.Second)
	require.NoError(t, sink.Write(ctx, testAlert(101)))
	assert.Equal(t, 2, notifier.count())
}

func TestNotificationSink_FailedNotifyReleasesGate(t *testing.T) {
	notifier := &fakeNotifier{err: assert.AnError}
	sink, err := NewNotificationSink(notifier, NotificationOptions{PerPIDInterval: 30 * time.Second}, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	sink.now = func() time.Time { return now }
	ctx := context.Background()

	assert.ErrorIs(t, sink.Write(ctx, testAlert(100)), assert.AnError)

	notifier.mu.Lock()
	notifier.err = nil
	notifier.mu.Unlock()
	require.NoError(t, sink.Write(ctx, testAlert(100)))
	assert.Equal(t, 1, notifier.count())
}

func TestCommandNotifier(t *testing.T) {
	_, err := NewCommandNotifier(nil)
	assert.Error(t, err)

	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("no /bin/sh on this host")
	}
	out := filepath.Join(t.TempDir(), "toast.txt")
	n, err := NewCommandNotifier([]string{"/bin/sh", "-c", `printf '%s|%s' "$0" "$1" > ` + out, "{title}", "{body}"})
	require.NoError(t, err)
	require.NoError(t, n.Notify(context.Background(), "T", "B"))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "T|B", string(data))
}

func TestWebhookSink(t *testing.T) {
	var (
		mu      sync.Mutex
		bodies  [][]byte
		headers []http.Header
		status  = http.StatusOK
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, body)
		headers = append(headers, r.Header.Clone())
		code := status
		mu.Unlock()
		w.WriteHeader(code)
	}))
	defer server.Close()

	sink := NewWebhookSink(WebhookOptions{
		URL:       server.URL,
		Timeout:   time.Second,
		Headers:   map[string]string{"Authorization": "Bearer x"},
		SessionID: "session-1",
	}, zaptest.NewLogger(t).Sugar())
	defer sink.Close()

	require.NoError(t, sink.Write(context.Background(), testAlert(7)))

	mu.Lock()
	require.Len(t, bodies, 1)
	var got core.AlertRecord
	require.NoError(t, json.Unmarshal(bodies[0], &got))
	assert.Equal(t, uint32(7), got.PID)
	assert.Equal(t, "application/json", headers[0].Get("Content-Type"))
	assert.Equal(t, "Bearer x", headers[0].Get("Authorization"))
	assert.Equal(t, "session-1", headers[0].Get("X-Vigil-Session"))
	status = http.StatusBadGateway
	mu.Unlock()

	err := sink.Write(context.Background(), testAlert(8))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestRedisSink(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	sink, err := NewRedisSink(ctx, RedisOptions{Addr: mr.Addr(), Channel: "vigil:alerts", SessionID: "s-1"}, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)

	sub := sink.client.Subscribe(ctx, "vigil:alerts")
	defer sub.Close()
	_, err = sub.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, sink.Write(ctx, testAlert(7)))

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	var envelope redisMessage
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &envelope))
	assert.Equal(t, "s-1", envelope.Session)
	assert.Equal(t, uint32(7), envelope.Alert.PID)

	recent, err := mr.List(sink.RecentKey())
	require.NoError(t, err)
	assert.Len(t, recent, 1)

	require.NoError(t, sink.Close())
}

func TestRedisSink_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewRedisSink(context.Background(), RedisOptions{Addr: addr, Channel: "c"}, zaptest.NewLogger(t).Sugar())
	assert.Error(t, err)
}
