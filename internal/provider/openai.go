package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
)

// openAIWire speaks the chat completions API. DeepSeek, Moonshot, Qwen
// (compatible mode) and Ollama accept the same shape at their own base URL.
type openAIWire struct {
	id ID
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Temperature *float64        `json:"temperature,omitempty"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	TopP        float64         `json:"top_p,omitempty"`
}

type openAIResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index        int           `json:"index"`
		Message      openAIMessage `json:"message"`
		FinishReason string        `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

func (w openAIWire) buildRequest(ctx context.Context, baseURL, apiKey string, messages []Message, opts Options) (*http.Request, error) {
	msgs := make([]openAIMessage, 0, len(messages)+1)
	if opts.SystemPrompt != "" {
		msgs = append(msgs, openAIMessage{Role: string(RoleSystem), Content: opts.SystemPrompt})
	}
	for _, m := range messages {
		msgs = append(msgs, openAIMessage{Role: string(m.Role), Content: m.Content})
	}

	body, err := json.Marshal(openAIRequest{
		Model:       opts.Model,
		Messages:    msgs,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
		TopP:        opts.TopP,
	})
	if err != nil {
		return nil, err
	}

	url := strings.TrimRight(baseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	return req, nil
}

func (w openAIWire) parseResponse(body []byte) (*Response, error) {
	var r openAIResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, err
	}
	if len(r.Choices) == 0 {
		return nil, errors.New("no choices in response")
	}
	return &Response{
		Content:      r.Choices[0].Message.Content,
		Model:        r.Model,
		FinishReason: r.Choices[0].FinishReason,
		Usage: Usage{
			PromptTokens:     r.Usage.PromptTokens,
			CompletionTokens: r.Usage.CompletionTokens,
			TotalTokens:      r.Usage.TotalTokens,
		},
	}, nil
}

func (w openAIWire) classifyError(status int, body []byte) error {
	return classifyVendorError(w.id, status, body)
}
