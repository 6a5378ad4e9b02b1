package provider

import (
	"context"
	"net/http"
	"time"

	"github.com/ignite/convoflow/internal/config"
	"github.com/ignite/convoflow/internal/pkg/httpretry"
	"github.com/ignite/convoflow/internal/pkg/logger"
)

// Recorder receives per-call metrics. *metrics.Metrics implements it.
type Recorder interface {
	ObserveProviderCall(provider, result string, promptTokens, completionTokens int, costUSD float64)
}

// Gateway dispatches normalized chat calls to vendor adapters. It never
// retries; retry policy belongs to the caller.
type Gateway struct {
	defaults Options
	keys     map[ID]string
	baseURLs map[ID]string
	client   httpretry.HTTPDoer
	bedrock  BedrockInvoker
	usage    *UsageTracker
	recorder Recorder
}

// GatewayOption customizes a Gateway.
type GatewayOption func(*Gateway)

// WithHTTPClient replaces the HTTP client used by HTTP adapters.
func WithHTTPClient(c httpretry.HTTPDoer) GatewayOption {
	return func(g *Gateway) { g.client = c }
}

// WithBedrock sets the Bedrock runtime client.
func WithBedrock(c BedrockInvoker) GatewayOption {
	return func(g *Gateway) { g.bedrock = c }
}

// WithRecorder sets the metrics sink.
func WithRecorder(r Recorder) GatewayOption {
	return func(g *Gateway) { g.recorder = r }
}

// NewGateway builds a gateway from provider configuration.
func NewGateway(cfg config.ProviderConfig, opts ...GatewayOption) *Gateway {
	timeout := cfg.Timeout()
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	g := &Gateway{
		defaults: Options{
			Provider:    ID(cfg.Default),
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
		},
		keys:     make(map[ID]string, len(cfg.APIKeys)),
		baseURLs: make(map[ID]string, len(cfg.BaseURLs)),
		client:   &http.Client{Timeout: timeout},
		usage:    NewUsageTracker(cfg.Pricing),
	}
	if g.defaults.Provider == "" {
		g.defaults.Provider = OpenAI
	}
	for k, v := range cfg.APIKeys {
		g.keys[ID(k)] = v
	}
	for k, v := range cfg.BaseURLs {
		g.baseURLs[ID(k)] = v
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Usage returns the accumulated token and cost totals.
func (g *Gateway) Usage() UsageReport {
	return g.usage.Report()
}

// Chat sends messages to the resolved provider.
func (g *Gateway) Chat(ctx context.Context, messages []Message, opts Options) (*Response, error) {
	opts = g.resolve(opts)

	adapter, err := g.adapterFor(opts.Provider)
	if err != nil {
		g.observe(opts.Provider, "config_error", Usage{}, 0)
		return nil, err
	}
	if opts.Provider.RequiresKey() && opts.APIKey == "" {
		g.observe(opts.Provider, "config_error", Usage{}, 0)
		return nil, &ConfigurationError{Provider: opts.Provider, Field: "api key"}
	}

	start := time.Now()
	resp, err := adapter.Chat(ctx, messages, opts)
	if err != nil {
		logger.Warn("provider call failed",
			"provider", string(opts.Provider),
			"model", opts.Model,
			"duration_ms", time.Since(start).Milliseconds(),
			"error", err.Error(),
		)
		g.observe(opts.Provider, "error", Usage{}, 0)
		return nil, err
	}

	cost := g.usage.Record(opts.Provider, resp.Usage)
	g.observe(opts.Provider, "ok", resp.Usage, cost)
	logger.Debug("provider call",
		"provider", string(opts.Provider),
		"model", resp.Model,
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return resp, nil
}

func (g *Gateway) resolve(opts Options) Options {
	if opts.Provider == "" {
		opts.Provider = g.defaults.Provider
	}
	if opts.Model == "" {
		if opts.Provider == g.defaults.Provider && g.defaults.Model != "" {
			opts.Model = g.defaults.Model
		} else {
			opts.Model = defaultModel(opts.Provider)
		}
	}
	if opts.Temperature == nil {
		opts.Temperature = g.defaults.Temperature
	}
	if opts.MaxTokens == 0 {
		opts.MaxTokens = g.defaults.MaxTokens
	}
	if opts.APIKey == "" {
		opts.APIKey = g.keys[opts.Provider]
	}
	if opts.BaseURL == "" {
		opts.BaseURL = g.baseURLs[opts.Provider]
	}
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBaseURL(opts.Provider)
	}
	return opts
}

// adapterFor is the closed dispatch over supported providers.
func (g *Gateway) adapterFor(id ID) (Adapter, error) {
	switch id {
	case OpenAI, DeepSeek, Moonshot, Qwen, Ollama:
		return &httpAdapter{id: id, wire: openAIWire{id: id}, client: g.client}, nil
	case Anthropic:
		return &httpAdapter{id: id, wire: anthropicWire{}, client: g.client}, nil
	case Gemini:
		return &httpAdapter{id: id, wire: geminiWire{}, client: g.client}, nil
	case Bedrock:
		return &bedrockAdapter{client: g.bedrock}, nil
	default:
		return nil, &ConfigurationError{Provider: id, Err: ErrUnknownProvider}
	}
}

func (g *Gateway) observe(id ID, result string, u Usage, cost float64) {
	if g.recorder == nil {
		return
	}
	g.recorder.ObserveProviderCall(string(id), result, u.PromptTokens, u.CompletionTokens, cost)
}
