// Package transport delivers campaign messages to the chat automation bridge.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ignite/convoflow/internal/config"
	"github.com/ignite/convoflow/internal/orchestrator"
	"github.com/ignite/convoflow/internal/pkg/httpretry"
	"github.com/ignite/convoflow/internal/pkg/logger"
)

// ErrNoWebhook is returned by NewWebhookMessenger when no URL is configured.
var ErrNoWebhook = errors.New("transport: webhook_url is not configured")

const maxErrorBody = 4 << 10

// WebhookMessenger posts outbound messages and adjustment reports as JSON to
// the automation bridge, which drives the actual chat accounts.
type WebhookMessenger struct {
	baseURL    string
	token      string
	httpClient httpretry.HTTPDoer
}

// Option customizes a WebhookMessenger.
type Option func(*WebhookMessenger)

// WithHTTPClient replaces the retrying client.
func WithHTTPClient(c httpretry.HTTPDoer) Option {
	return func(m *WebhookMessenger) { m.httpClient = c }
}

// NewWebhookMessenger creates a messenger from config.
func NewWebhookMessenger(cfg config.TransportConfig, opts ...Option) (*WebhookMessenger, error) {
	if strings.TrimSpace(cfg.WebhookURL) == "" {
		return nil, ErrNoWebhook
	}
	timeout := cfg.Timeout()
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	m := &WebhookMessenger{
		baseURL:    strings.TrimRight(cfg.WebhookURL, "/"),
		token:      cfg.AuthToken,
		httpClient: httpretry.NewRetryClient(&http.Client{Timeout: timeout}, cfg.MaxRetries),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Send hands one message to the bridge.
func (m *WebhookMessenger) Send(ctx context.Context, req orchestrator.SendRequest) error {
	if err := m.post(ctx, "/messages", req); err != nil {
		return fmt.Errorf("send to %s: %w", req.TargetUserID, err)
	}
	logger.Info("message handed to bridge",
		"execution_id", req.ExecutionID,
		"account_id", req.AccountID,
		"role_id", req.RoleID,
		"first_touch", req.IsFirstTouch,
	)
	return nil
}

// ReportAdjustment tells the bridge that the campaign changed course.
func (m *WebhookMessenger) ReportAdjustment(ctx context.Context, adj orchestrator.Adjustment) error {
	if err := m.post(ctx, "/adjustments", adj); err != nil {
		return fmt.Errorf("report adjustment: %w", err)
	}
	return nil
}

func (m *WebhookMessenger) post(ctx context.Context, path string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling request body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if m.token != "" {
		req.Header.Set("Authorization", "Bearer "+m.token)
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("bridge error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}
