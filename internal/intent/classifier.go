package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ignite/convoflow/internal/pkg/logger"
	"github.com/ignite/convoflow/internal/provider"
)

const (
	defaultCacheTTL     = 60 * time.Second
	defaultContextTurns = 5
	classifyTemperature = 0.3
)

// Observer receives classification metrics. *metrics.Metrics implements it.
type Observer interface {
	ObserveIntent(category string, cached, fallback bool)
}

// Classifier turns messages into intents.
type Classifier struct {
	chat         provider.ChatClient
	contexts     *ContextStore
	cache        Cache
	ttl          time.Duration
	contextTurns int
	callOpts     provider.Options
	observer     Observer
}

// Option customizes a Classifier.
type Option func(*Classifier)

// WithCache replaces the default in-process cache.
func WithCache(c Cache) Option { return func(cl *Classifier) { cl.cache = c } }

// WithCacheTTL overrides the 60 second cache lifetime.
func WithCacheTTL(ttl time.Duration) Option {
	return func(cl *Classifier) {
		if ttl > 0 {
			cl.ttl = ttl
		}
	}
}

// WithContextTurns overrides how many prior turns are sent with a message.
func WithContextTurns(n int) Option {
	return func(cl *Classifier) {
		if n > 0 {
			cl.contextTurns = n
		}
	}
}

// WithProviderOptions sets the provider/model used for classification.
func WithProviderOptions(o provider.Options) Option {
	return func(cl *Classifier) { cl.callOpts = o }
}

// WithObserver sets the metrics sink.
func WithObserver(o Observer) Option { return func(cl *Classifier) { cl.observer = o } }

// NewClassifier creates a classifier. contexts is shared with the reply
// generator and the orchestrator.
func NewClassifier(chat provider.ChatClient, contexts *ContextStore, opts ...Option) *Classifier {
	c := &Classifier{
		chat:         chat,
		contexts:     contexts,
		cache:        NewMemoryCache(),
		ttl:          defaultCacheTTL,
		contextTurns: defaultContextTurns,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.contexts == nil {
		c.contexts = NewContextStore()
	}
	return c
}

// Contexts returns the shared context store.
func (c *Classifier) Contexts() *ContextStore { return c.contexts }

// RecognizeIntent classifies message. It never fails: model or parse errors
// fall back to keyword rules. When userID is set the message and its intent
// are appended to that user's context. Cache hits skip the context update so
// a retried send is not counted twice.
func (c *Classifier) RecognizeIntent(ctx context.Context, message, userID string, includeContext bool) *Intent {
	key := CacheKey(userID, message)
	if cached, ok := c.cache.Get(ctx, key); ok {
		c.observe(cached.Category, true, false)
		return cached
	}

	in, err := c.classifyWithModel(ctx, message, userID, includeContext)
	fallback := false
	if err != nil {
		logger.Warn("intent classification fell back to keywords",
			"user_id", userID,
			"error", err.Error(),
		)
		in = classifyByKeywords(message)
		fallback = true
	}
	in.normalize()

	c.cache.Set(ctx, key, in, c.ttl)
	c.observe(in.Category, false, fallback)

	if userID != "" {
		c.contexts.AppendUser(userID, message, in)
	}
	return in
}

// ShouldHandoffToHuman reports whether userID's conversation needs an operator.
func (c *Classifier) ShouldHandoffToHuman(userID string) bool {
	return c.contexts.ShouldHandoffToHuman(userID)
}

// Classify runs the keyword rules only. Used where a model call is not wanted.
func Classify(message string) *Intent {
	in := classifyByKeywords(message)
	in.normalize()
	return in
}

func (c *Classifier) classifyWithModel(ctx context.Context, message, userID string, includeContext bool) (*Intent, error) {
	if c.chat == nil {
		return nil, fmt.Errorf("intent: no chat client configured")
	}

	var user strings.Builder
	if includeContext && userID != "" {
		if turns := c.contexts.RecentTurns(userID, c.contextTurns); len(turns) > 0 {
			user.WriteString("Recent conversation:\n")
			for _, t := range turns {
				fmt.Fprintf(&user, "%s: %s\n", t.Role, t.Content)
			}
			user.WriteString("\n")
		}
	}
	user.WriteString("Message to classify:\n")
	user.WriteString(message)

	opts := c.callOpts
	opts.Temperature = provider.Temp(classifyTemperature)
	if opts.MaxTokens == 0 {
		opts.MaxTokens = 300
	}
	opts.SystemPrompt = classifierPrompt

	resp, err := c.chat.Chat(ctx, []provider.Message{{Role: provider.RoleUser, Content: user.String()}}, opts)
	if err != nil {
		return nil, err
	}
	return parseIntent(resp.Content)
}

// modelIntent accepts both snake_case and camelCase keys.
type modelIntent struct {
	Category         Category  `json:"category"`
	Confidence       float64   `json:"confidence"`
	SubIntents       []string  `json:"sub_intents"`
	SubIntentsCamel  []string  `json:"subIntents"`
	Keywords         []string  `json:"keywords"`
	Sentiment        Sentiment `json:"sentiment"`
	Urgency          Urgency   `json:"urgency"`
	SuggestedAction  string    `json:"suggested_action"`
	SuggestedActionC string    `json:"suggestedAction"`
}

func parseIntent(raw string) (*Intent, error) {
	obj, ok := extractJSON(raw)
	if !ok {
		return nil, &ParseError{Raw: raw}
	}
	var m modelIntent
	if err := json.Unmarshal([]byte(obj), &m); err != nil {
		return nil, &ParseError{Raw: raw, Err: err}
	}
	in := &Intent{
		Category:        Category(strings.ToLower(strings.TrimSpace(string(m.Category)))),
		Confidence:      m.Confidence,
		SubIntents:      m.SubIntents,
		Keywords:        m.Keywords,
		Sentiment:       Sentiment(strings.ToLower(string(m.Sentiment))),
		Urgency:         Urgency(strings.ToLower(string(m.Urgency))),
		SuggestedAction: m.SuggestedAction,
	}
	if len(in.SubIntents) == 0 {
		in.SubIntents = m.SubIntentsCamel
	}
	if in.SuggestedAction == "" {
		in.SuggestedAction = m.SuggestedActionC
	}
	return in, nil
}

// extractJSON returns the first balanced {...} substring of s.
func extractJSON(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

func (c *Classifier) observe(cat Category, cached, fallback bool) {
	if c.observer != nil {
		c.observer.ObserveIntent(string(cat), cached, fallback)
	}
}

const classifierPrompt = `You classify chat messages from prospective customers.
Reply with ONE compact JSON object and nothing else:
{"category":"...","confidence":0.0,"sub_intents":[],"keywords":[],"sentiment":"...","urgency":"...","suggested_action":"..."}

category must be one of: purchase_intent, price_inquiry, product_question, complaint,
negative_sentiment, positive_feedback, greeting, support_request, general_chat.
confidence is a number between 0 and 1.
sentiment is positive, neutral or negative.
urgency is low, medium or high.
keywords are the words in the message that decided the category.
Use the recent conversation only as context; classify the last message.`
