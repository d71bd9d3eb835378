package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/TITAN-Softwork-Solutions/Vigil/core"
	"go.uber.org/zap"
)

const webhookUserAgent = "Vigil/1.0"

// WebhookOptions configures the webhook sink
type WebhookOptions struct {
	URL     string
	Timeout time.Duration
	Headers map[string]string
	// SessionID is sent as X-Vigil-Session so receivers can group alerts per run
	SessionID string
}

// WebhookSink POSTs each alert as a JSON document
type WebhookSink struct {
	opts   WebhookOptions
	client *http.Client
	logger *zap.SugaredLogger
}

// NewWebhookSink creates a webhook sink with certificate validation enabled
func NewWebhookSink(opts WebhookOptions, logger *zap.SugaredLogger) *WebhookSink {
	return &WebhookSink{
		opts: opts,
		client: &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS12},
			},
		},
		logger: logger,
	}
}

// Name implements Sink
func (s *WebhookSink) Name() string { return "webhook" }

// Write implements Sink
func (s *WebhookSink) Write(ctx context.Context, alert *core.AlertRecord) error {
	body, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.opts.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", webhookUserAgent)
	if s.opts.SessionID != "" {
		req.Header.Set("X-Vigil-Session", s.opts.SessionID)
	}
	for key, value := range s.opts.Headers {
		req.Header.Set(key, value)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		if err := resp.Body.Close(); err != nil {
			s.logger.Debugw("Failed to close webhook response body", "error", err)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned non-2xx status: %d", resp.StatusCode)
	}
	return nil
}

// Close implements Sink
func (s *WebhookSink) Close() error {
	s.client.CloseIdleConnections()
	return nil
}
