package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
)

const anthropicVersion = "2023-06-01"

// anthropicWire speaks the Messages API.
type anthropicWire struct{}

type anthropicContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type anthropicMessage struct {
	Role    string                  `json:"role"`
	Content []anthropicContentBlock `json:"content"`
}

type anthropicRequest struct {
	AnthropicVersion string             `json:"anthropic_version,omitempty"`
	Model            string             `json:"model,omitempty"`
	MaxTokens        int                `json:"max_tokens"`
	System           string             `json:"system,omitempty"`
	Messages         []anthropicMessage `json:"messages"`
	Temperature      *float64           `json:"temperature,omitempty"`
	TopP             float64            `json:"top_p,omitempty"`
}

type anthropicResponse struct {
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// anthropicBody builds the request body shared by the direct API and Bedrock.
func anthropicBody(messages []Message, opts Options) anthropicRequest {
	system, rest := splitSystem(messages, opts.SystemPrompt)
	msgs := make([]anthropicMessage, 0, len(rest))
	for _, m := range rest {
		msgs = append(msgs, anthropicMessage{
			Role:    string(m.Role),
			Content: []anthropicContentBlock{{Type: "text", Text: m.Content}},
		})
	}
	maxTokens := opts.MaxTokens
	if maxTokens == 0 {
		maxTokens = 1024
	}
	return anthropicRequest{
		MaxTokens:   maxTokens,
		System:      system,
		Messages:    msgs,
		Temperature: opts.Temperature,
		TopP:        opts.TopP,
	}
}

func parseAnthropic(body []byte) (*Response, error) {
	var r anthropicResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, err
	}
	var text strings.Builder
	for _, c := range r.Content {
		if c.Type == "text" {
			text.WriteString(c.Text)
		}
	}
	if text.Len() == 0 && r.StopReason == "" {
		return nil, errors.New("no content in response")
	}
	return &Response{
		Content:      text.String(),
		Model:        r.Model,
		FinishReason: r.StopReason,
		Usage: Usage{
			PromptTokens:     r.Usage.InputTokens,
			CompletionTokens: r.Usage.OutputTokens,
			TotalTokens:      r.Usage.InputTokens + r.Usage.OutputTokens,
		},
	}, nil
}

func (anthropicWire) buildRequest(ctx context.Context, baseURL, apiKey string, messages []Message, opts Options) (*http.Request, error) {
	payload := anthropicBody(messages, opts)
	payload.Model = opts.Model
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	url := strings.TrimRight(baseURL, "/") + "/messages"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)
	return req, nil
}

func (anthropicWire) parseResponse(body []byte) (*Response, error) {
	return parseAnthropic(body)
}

func (anthropicWire) classifyError(status int, body []byte) error {
	return classifyVendorError(Anthropic, status, body)
}
