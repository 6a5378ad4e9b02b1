// Package reply drafts persona replies to inbound customer messages and
// authors outbound lines for campaign roles.
package reply

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/ignite/convoflow/internal/domain"
	"github.com/ignite/convoflow/internal/intent"
	"github.com/ignite/convoflow/internal/knowledge"
	"github.com/ignite/convoflow/internal/pkg/logger"
	"github.com/ignite/convoflow/internal/pkg/textmatch"
	"github.com/ignite/convoflow/internal/provider"
)

const (
	historyTurns      = 6
	maxKnowledgeItems = 3
	namePrefixChance  = 0.3
	perRuneDelay      = 100 * time.Millisecond
)

// Result is a drafted reply plus the decisions behind it.
type Result struct {
	Content        string         `json:"content"`
	Intent         *intent.Intent `json:"intent"`
	ShouldHandoff  bool           `json:"should_handoff"`
	HandoffReason  string         `json:"handoff_reason,omitempty"`
	TriggeredRules []string       `json:"triggered_rules,omitempty"`
	Delay          time.Duration  `json:"delay"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// Random is the randomness the generator consumes. *rand.Rand satisfies it.
type Random interface {
	Float64() float64
	Intn(n int) int
}

type lockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

func (l *lockedRand) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Float64()
}

func (l *lockedRand) Intn(n int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Intn(n)
}

// Generator drafts replies.
type Generator struct {
	chat       provider.ChatClient
	classifier *intent.Classifier
	knowledge  knowledge.Source
	rnd        Random
}

// Option customizes a Generator.
type Option func(*Generator)

// WithKnowledge sets the knowledge source.
func WithKnowledge(src knowledge.Source) Option { return func(g *Generator) { g.knowledge = src } }

// WithRandom replaces the random source.
func WithRandom(r Random) Option { return func(g *Generator) { g.rnd = r } }

// NewGenerator creates a generator. The classifier's context store is the one
// replies are appended to.
func NewGenerator(chat provider.ChatClient, classifier *intent.Classifier, opts ...Option) *Generator {
	g := &Generator{
		chat:       chat,
		classifier: classifier,
		rnd:        &lockedRand{r: rand.New(rand.NewSource(time.Now().UnixNano()))},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// GenerateReply classifies userMessage, decides on handoff and drafts a reply
// in the configured persona. Model failures fall back to canned lines, so
// the only error returned is a cancelled context.
func (g *Generator) GenerateReply(ctx context.Context, userMessage string, cfg Config) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	contexts := g.classifier.Contexts()

	in := g.classifier.RecognizeIntent(ctx, userMessage, cfg.UserID, true)

	round := 0
	if cfg.UserID != "" {
		if c, ok := contexts.Get(cfg.UserID); ok {
			for _, t := range c.Turns {
				if t.Role == intent.TurnUser {
					round++
				}
			}
		}
	}

	res := &Result{Intent: in, Metadata: map[string]any{"round": round}}

	triggered := evaluateRules(cfg.Rules, in, userMessage, round)
	for _, r := range triggered {
		res.TriggeredRules = append(res.TriggeredRules, r.label())
	}
	res.ShouldHandoff, res.HandoffReason = g.handoff(triggered, in, cfg.UserID)

	var items []knowledge.Item
	if cfg.UseKnowledge {
		items = g.relevantKnowledge(ctx, in, userMessage)
		res.Metadata["knowledge_items"] = len(items)
	}

	content := ""
	for _, r := range triggered {
		if r.Response != "" {
			content = r.Response
			res.Metadata["source"] = "rule"
			break
		}
	}
	if content == "" {
		content = g.draft(ctx, userMessage, cfg, in, items, res.Metadata)
	}

	content = sanitize(content)
	if content == "" {
		content = g.fallbackLine(in.Category)
	}
	if cfg.AddressByName && cfg.UserName != "" && g.rnd.Float64() < namePrefixChance {
		content = cfg.UserName + "，" + content
	}
	res.Content = content
	res.Delay = g.delay(in.Urgency, content)

	if cfg.UserID != "" {
		contexts.AppendAssistant(cfg.UserID, content)
	}
	return res, nil
}

func (g *Generator) handoff(triggered []TriggerRule, in *intent.Intent, userID string) (bool, string) {
	for _, r := range triggered {
		if r.NotifyHuman {
			return true, "rule:" + r.label()
		}
	}
	switch {
	case in.Category == intent.PurchaseIntent && in.Confidence > 0.8:
		return true, "purchase_intent"
	case in.Category == intent.NegativeSentiment || in.Sentiment == intent.Negative:
		return true, "negative_sentiment"
	case userID != "" && g.classifier.ShouldHandoffToHuman(userID):
		return true, "conversation_stage"
	}
	return false, ""
}

func (g *Generator) relevantKnowledge(ctx context.Context, in *intent.Intent, message string) []knowledge.Item {
	if g.knowledge == nil {
		return nil
	}
	all, err := g.knowledge.ActiveItems(ctx)
	if err != nil {
		logger.Warn("knowledge lookup failed", "error", err.Error())
		return nil
	}
	var out []knowledge.Item
	for _, it := range all {
		if len(out) == maxKnowledgeItems {
			break
		}
		if !it.IsActive {
			continue
		}
		if it.Category == string(in.Category) || textmatch.Any(message, it.Keywords) {
			out = append(out, it)
		}
	}
	return out
}

func (g *Generator) draft(ctx context.Context, userMessage string, cfg Config, in *intent.Intent, items []knowledge.Item, meta map[string]any) string {
	system, err := renderPrompt(promptInput{
		PersonaName:        cfg.PersonaName,
		PersonaDescription: cfg.PersonaDescription,
		Style:              cfg.Style,
		ResponseLength:     cfg.ResponseLength,
		EmojiFrequency:     cfg.EmojiFrequency,
		Knowledge:          items,
	})
	if err != nil {
		logger.Error("reply prompt render failed", "error", err.Error())
		meta["source"] = "fallback"
		return g.fallbackLine(in.Category)
	}

	messages := g.history(cfg.UserID, userMessage)
	messages = append(messages, provider.Message{Role: provider.RoleUser, Content: userMessage})

	opts := cfg.Provider
	opts.SystemPrompt = system
	resp, err := g.chat.Chat(ctx, messages, opts)
	if err != nil {
		logger.Warn("reply generation fell back to canned line",
			"user_id", cfg.UserID,
			"error", err.Error(),
		)
		meta["source"] = "fallback"
		return g.fallbackLine(in.Category)
	}
	meta["source"] = "model"
	meta["model"] = resp.Model
	meta["tokens"] = resp.Usage.TotalTokens
	return resp.Content
}

// history returns up to historyTurns prior turns for userID, excluding the
// message being answered when the classifier already recorded it.
func (g *Generator) history(userID, current string) []provider.Message {
	if userID == "" {
		return nil
	}
	turns := g.classifier.Contexts().RecentTurns(userID, historyTurns+1)
	if n := len(turns); n > 0 && turns[n-1].Role == intent.TurnUser && turns[n-1].Content == current {
		turns = turns[:n-1]
	}
	if len(turns) > historyTurns {
		turns = turns[len(turns)-historyTurns:]
	}
	out := make([]provider.Message, 0, len(turns)+1)
	for _, t := range turns {
		role := provider.RoleUser
		if t.Role == intent.TurnAssistant {
			role = provider.RoleAssistant
		}
		out = append(out, provider.Message{Role: role, Content: t.Content})
	}
	return out
}

// delay is the human-like wait before sending content.
func (g *Generator) delay(u intent.Urgency, content string) time.Duration {
	lo, hi := 30, 60
	if u == intent.UrgencyHigh {
		lo, hi = 10, 20
	}
	base := time.Duration(lo+g.rnd.Intn(hi-lo+1)) * time.Second
	return base + time.Duration(utf8.RuneCountInString(content))*perRuneDelay
}

func (g *Generator) fallbackLine(c intent.Category) string {
	lines, ok := fallbackLines[c]
	if !ok {
		lines = fallbackLines[intent.GeneralChat]
	}
	return lines[g.rnd.Intn(len(lines))]
}

var fallbackLines = map[intent.Category][]string{
	intent.PurchaseIntent: {
		"太好了！我幫你確認一下下單方式，稍等我一下喔",
		"沒問題，我整理一下購買流程再跟你說",
	},
	intent.PriceInquiry: {
		"價格這邊我幫你查一下最新的優惠，馬上回你",
		"這個問得好，我確認一下目前的方案價格",
	},
	intent.ProductQuestion: {
		"這部分我幫你問一下細節，等等跟你說明",
		"好問題！我整理一下資料再回覆你",
	},
	intent.Complaint: {
		"真的很抱歉讓你有不好的體驗，我馬上請專人協助處理",
		"不好意思造成困擾，我先幫你反映給負責的同事",
	},
	intent.NegativeSentiment: {
		"了解，不好意思打擾了，有需要隨時找我",
		"好的，我明白，有任何問題再跟我說",
	},
	intent.PositiveFeedback: {
		"謝謝你的支持！有任何需要都可以找我",
		"聽到你這樣說真開心",
	},
	intent.Greeting: {
		"你好呀！今天有什麼我可以幫忙的嗎？",
		"嗨～很高興收到你的訊息",
	},
	intent.SupportRequest: {
		"收到，我幫你看看怎麼處理，稍等一下",
		"沒問題，我來協助你，可以再多說一點狀況嗎？",
	},
	intent.GeneralChat: {
		"收到～我再跟你說",
		"好的，了解",
	},
}

// PersonaRequest asks for an outbound line in a campaign role.
type PersonaRequest struct {
	Role         domain.Role
	Phase        *domain.Phase
	Goal         string
	UserID       string
	UserName     string
	IsFirstTouch bool
	Constraints  domain.Constraints
	Provider     provider.Options
}

// Compose authors the next outbound message for req.Role. Model failures
// fall back to one of the role's sample messages.
func (g *Generator) Compose(ctx context.Context, req PersonaRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	in := promptInput{
		PersonaName:       req.Role.Name,
		Style:             styleForRole(req.Role),
		ResponseLength:    "short",
		EmojiFrequency:    "low",
		RoleName:          req.Role.Name,
		RolePurpose:       req.Role.Purpose,
		RolePersonality:   req.Role.Personality,
		RoleSpeakingStyle: req.Role.SpeakingStyle,
		Forbidden:         req.Constraints.ForbiddenTopics,
	}
	if req.Phase != nil {
		in.PhaseGoal = req.Phase.Goal
		in.PhaseTactics = req.Phase.Tactics
	}

	content := ""
	system, err := renderPrompt(in)
	if err == nil {
		messages := g.history(req.UserID, "")
		messages = append(messages, provider.Message{Role: provider.RoleUser, Content: composeInstruction(req)})
		opts := req.Provider
		opts.SystemPrompt = system
		var resp *provider.Response
		resp, err = g.chat.Chat(ctx, messages, opts)
		if err == nil {
			content = sanitize(resp.Content)
		}
	}
	if err != nil {
		logger.Warn("compose fell back to sample message",
			"role_id", req.Role.ID,
			"error", err.Error(),
		)
	}
	if content == "" {
		content = g.sampleMessage(req.Role)
	}
	return content, nil
}

func composeInstruction(req PersonaRequest) string {
	var b strings.Builder
	if req.IsFirstTouch {
		b.WriteString("Write the first message to open a conversation with this customer.")
	} else {
		b.WriteString("Write your next message in this conversation.")
	}
	if req.Goal != "" {
		b.WriteString(" Campaign goal: ")
		b.WriteString(req.Goal)
		b.WriteString(".")
	}
	if req.UserName != "" {
		b.WriteString(" The customer's name is ")
		b.WriteString(req.UserName)
		b.WriteString(".")
	}
	b.WriteString(" Output only the message text.")
	return b.String()
}

func styleForRole(r domain.Role) string {
	switch r.Type {
	case domain.RoleProfessional:
		return StyleProfessional
	case domain.RoleAtmosphere:
		return StyleCasual
	case domain.RoleEndorsement:
		return StyleEnthusiastic
	default:
		return StyleFriendly
	}
}

func (g *Generator) sampleMessage(r domain.Role) string {
	if len(r.SampleMessages) == 0 {
		return fallbackLines[intent.Greeting][0]
	}
	return r.SampleMessages[g.rnd.Intn(len(r.SampleMessages))]
}
