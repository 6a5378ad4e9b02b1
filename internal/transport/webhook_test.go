package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/convoflow/internal/config"
	"github.com/ignite/convoflow/internal/domain"
	"github.com/ignite/convoflow/internal/orchestrator"
	"github.com/ignite/convoflow/internal/pkg/httpretry"
)

func fastRetry(maxRetries int) Option {
	return WithHTTPClient(httpretry.NewRetryClient(&http.Client{Timeout: time.Second}, maxRetries,
		httpretry.WithBackoff(time.Millisecond, 5*time.Millisecond)))
}

func TestWebhookMessenger_Send(t *testing.T) {
	var got orchestrator.SendRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/bridge/messages", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	m, err := NewWebhookMessenger(config.TransportConfig{WebhookURL: server.URL + "/bridge/", AuthToken: "secret"}, fastRetry(1))
	require.NoError(t, err)

	err = m.Send(context.Background(), orchestrator.SendRequest{
		ExecutionID:  "e1",
		AccountID:    "acc-1",
		RoleID:       "atmosphere-1",
		TargetUserID: "u1",
		Content:      "嗨～最近好嗎？",
		IsFirstTouch: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "u1", got.TargetUserID)
	assert.Equal(t, "嗨～最近好嗎？", got.Content)
	assert.True(t, got.IsFirstTouch)
}

func TestWebhookMessenger_RetriesServerErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	m, err := NewWebhookMessenger(config.TransportConfig{WebhookURL: server.URL}, fastRetry(3))
	require.NoError(t, err)

	require.NoError(t, m.ReportAdjustment(context.Background(), orchestrator.Adjustment{
		ExecutionID: "e1",
		Kind:        domain.AdjustAdvance,
		Phase:       1,
	}))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestWebhookMessenger_ClientErrorNotRetried(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "unknown account", http.StatusBadRequest)
	}))
	defer server.Close()

	m, err := NewWebhookMessenger(config.TransportConfig{WebhookURL: server.URL}, fastRetry(3))
	require.NoError(t, err)

	err = m.Send(context.Background(), orchestrator.SendRequest{TargetUserID: "u9"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
	assert.Contains(t, err.Error(), "unknown account")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestNewWebhookMessenger_RequiresURL(t *testing.T) {
	_, err := NewWebhookMessenger(config.TransportConfig{})
	assert.ErrorIs(t, err, ErrNoWebhook)
}
