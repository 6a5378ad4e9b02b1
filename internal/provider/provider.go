// Package provider normalizes chat-completion calls across LLM vendors into
// one request/response contract and tracks token usage and estimated cost.
package provider

import (
	"context"
	"strings"
)

// ID identifies a vendor backend.
type ID string

const (
	OpenAI    ID = "openai"
	DeepSeek  ID = "deepseek"
	Moonshot  ID = "moonshot"
	Qwen      ID = "qwen"
	Ollama    ID = "ollama"
	Anthropic ID = "anthropic"
	Gemini    ID = "gemini"
	Bedrock   ID = "bedrock"
)

// All lists every supported provider.
var All = []ID{OpenAI, DeepSeek, Moonshot, Qwen, Ollama, Anthropic, Gemini, Bedrock}

// RequiresKey reports whether calls to id need an API key. Ollama runs
// locally and Bedrock authenticates through the AWS credential chain.
func (id ID) RequiresKey() bool {
	return id != Ollama && id != Bedrock
}

// MessageRole tags a chat message.
type MessageRole string

const (
	RoleSystem    MessageRole = "system"
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// Message is one entry of the uniform message list.
type Message struct {
	Role    MessageRole `json:"role"`
	Content string      `json:"content"`
}

// Options are the recognized per-call settings. Zero values fall back to
// the gateway defaults; a nil Temperature does too, so 0 can be asked for.
type Options struct {
	Provider     ID
	Model        string
	APIKey       string
	Temperature  *float64
	MaxTokens    int
	TopP         float64
	SystemPrompt string
	BaseURL      string
}

// Temp returns a pointer to v for Options.Temperature.
func Temp(v float64) *float64 { return &v }

// Usage is the token accounting of one call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is the normalized completion result.
type Response struct {
	Content      string `json:"content"`
	Usage        Usage  `json:"usage"`
	Model        string `json:"model"`
	FinishReason string `json:"finish_reason"`
}

// ChatClient is what callers of the gateway depend on.
type ChatClient interface {
	Chat(ctx context.Context, messages []Message, opts Options) (*Response, error)
}

// Adapter is one vendor backend behind the gateway.
type Adapter interface {
	Chat(ctx context.Context, messages []Message, opts Options) (*Response, error)
}

// splitSystem separates system content from the conversation for vendors
// that carry it outside the message list.
func splitSystem(messages []Message, systemPrompt string) (string, []Message) {
	var system []string
	if systemPrompt != "" {
		system = append(system, systemPrompt)
	}
	rest := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == RoleSystem {
			system = append(system, m.Content)
			continue
		}
		rest = append(rest, m)
	}
	return strings.Join(system, "\n\n"), rest
}

func defaultModel(id ID) string {
	switch id {
	case OpenAI:
		return "gpt-4o-mini"
	case DeepSeek:
		return "deepseek-chat"
	case Moonshot:
		return "moonshot-v1-8k"
	case Qwen:
		return "qwen-turbo"
	case Ollama:
		return "llama3"
	case Anthropic:
		return "claude-3-5-haiku-latest"
	case Gemini:
		return "gemini-1.5-flash"
	case Bedrock:
		return "anthropic.claude-3-haiku-20240307-v1:0"
	default:
		return ""
	}
}

func defaultBaseURL(id ID) string {
	switch id {
	case OpenAI:
		return "https://api.openai.com/v1"
	case DeepSeek:
		return "https://api.deepseek.com/v1"
	case Moonshot:
		return "https://api.moonshot.cn/v1"
	case Qwen:
		return "https://dashscope.aliyuncs.com/compatible-mode/v1"
	case Ollama:
		return "http://localhost:11434/v1"
	case Anthropic:
		return "https://api.anthropic.com/v1"
	case Gemini:
		return "https://generativelanguage.googleapis.com/v1beta"
	default:
		return ""
	}
}
