package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/ignite/convoflow/internal/pkg/httpretry"
)

// wireFormat is the per-vendor HTTP shape: translate the request, parse the
// success body, classify a failure body.
type wireFormat interface {
	buildRequest(ctx context.Context, baseURL, apiKey string, messages []Message, opts Options) (*http.Request, error)
	parseResponse(body []byte) (*Response, error)
	classifyError(status int, body []byte) error
}

// httpAdapter runs a wireFormat over an HTTP client.
type httpAdapter struct {
	id     ID
	wire   wireFormat
	client httpretry.HTTPDoer
}

func (a *httpAdapter) Chat(ctx context.Context, messages []Message, opts Options) (*Response, error) {
	req, err := a.wire.buildRequest(ctx, opts.BaseURL, opts.APIKey, messages, opts)
	if err != nil {
		return nil, &ConfigurationError{Provider: a.id, Err: err}
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, &UpstreamError{Provider: a.id, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &UpstreamError{Provider: a.id, StatusCode: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, a.wire.classifyError(resp.StatusCode, body)
	}

	out, err := a.wire.parseResponse(body)
	if err != nil {
		return nil, &UpstreamError{
			Provider:   a.id,
			StatusCode: resp.StatusCode,
			Body:       snippet(body),
			Err:        fmt.Errorf("failed to parse response: %w", err),
		}
	}
	if out.Model == "" {
		out.Model = opts.Model
	}
	if out.Usage.TotalTokens == 0 {
		out.Usage.TotalTokens = out.Usage.PromptTokens + out.Usage.CompletionTokens
	}
	return out, nil
}

// vendorError is the {"error":{"message":...}} envelope shared by the
// OpenAI, Anthropic and Gemini APIs.
type vendorError struct {
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Status  string `json:"status"`
	} `json:"error"`
}

func classifyVendorError(id ID, status int, body []byte) error {
	var ve vendorError
	if err := json.Unmarshal(body, &ve); err == nil && ve.Error != nil && ve.Error.Message != "" {
		return &UpstreamError{Provider: id, StatusCode: status, Body: ve.Error.Message}
	}
	return &UpstreamError{Provider: id, StatusCode: status, Body: snippet(body)}
}
