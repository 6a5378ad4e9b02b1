package provider

import "sync"

// DefaultPricing is the blended USD price per million tokens.
var DefaultPricing = map[ID]float64{
	OpenAI:    0.60,
	DeepSeek:  0.28,
	Moonshot:  1.70,
	Qwen:      0.40,
	Ollama:    0,
	Anthropic: 4.00,
	Gemini:    0.30,
	Bedrock:   1.25,
}

// ProviderUsage is the running total for one provider.
type ProviderUsage struct {
	Requests         int     `json:"requests"`
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	CostUSD          float64 `json:"cost_usd"`
}

// UsageReport is a point-in-time copy of the tracker.
type UsageReport struct {
	Total      ProviderUsage        `json:"total"`
	ByProvider map[ID]ProviderUsage `json:"by_provider"`
}

// UsageTracker accumulates tokens and estimated cost across every campaign.
type UsageTracker struct {
	mu         sync.Mutex
	prices     map[ID]float64
	total      ProviderUsage
	byProvider map[ID]*ProviderUsage
}

// NewUsageTracker creates a tracker. overrides replace DefaultPricing entries.
func NewUsageTracker(overrides map[string]float64) *UsageTracker {
	prices := make(map[ID]float64, len(DefaultPricing))
	for id, p := range DefaultPricing {
		prices[id] = p
	}
	for id, p := range overrides {
		prices[ID(id)] = p
	}
	return &UsageTracker{
		prices:     prices,
		byProvider: make(map[ID]*ProviderUsage),
	}
}

// Record adds one successful call and returns its estimated cost.
func (t *UsageTracker) Record(id ID, u Usage) float64 {
	cost := float64(u.PromptTokens+u.CompletionTokens) / 1_000_000 * t.price(id)

	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.byProvider[id]
	if !ok {
		p = &ProviderUsage{}
		t.byProvider[id] = p
	}
	for _, acc := range []*ProviderUsage{p, &t.total} {
		acc.Requests++
		acc.PromptTokens += u.PromptTokens
		acc.CompletionTokens += u.CompletionTokens
		acc.TotalTokens += u.PromptTokens + u.CompletionTokens
		acc.CostUSD += cost
	}
	return cost
}

// Report returns a copy of the totals.
func (t *UsageTracker) Report() UsageReport {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := UsageReport{Total: t.total, ByProvider: make(map[ID]ProviderUsage, len(t.byProvider))}
	for id, p := range t.byProvider {
		out.ByProvider[id] = *p
	}
	return out
}

func (t *UsageTracker) price(id ID) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.prices[id]
}
