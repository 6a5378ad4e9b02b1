package reply

import (
	"sort"

	"github.com/ignite/convoflow/internal/config"
	"github.com/ignite/convoflow/internal/domain"
	"github.com/ignite/convoflow/internal/intent"
	"github.com/ignite/convoflow/internal/pkg/textmatch"
	"github.com/ignite/convoflow/internal/provider"
)

// Style values.
const (
	StyleProfessional = "professional"
	StyleFriendly     = "friendly"
	StyleCasual       = "casual"
	StyleEnthusiastic = "enthusiastic"
	StyleDirect       = "direct"
)

// Config is the per-call persona and policy for GenerateReply.
type Config struct {
	PersonaName        string
	PersonaDescription string
	Style              string
	ResponseLength     string // short, medium, long
	EmojiFrequency     string // none, low, medium, high
	UseKnowledge       bool
	AddressByName      bool

	UserID   string
	UserName string

	Rules    []TriggerRule
	Provider provider.Options
}

// FromConfig builds the default persona from the service configuration.
func FromConfig(c config.ReplyConfig) Config {
	return Config{
		PersonaName:        c.PersonaName,
		PersonaDescription: c.PersonaDesc,
		Style:              c.Style,
		ResponseLength:     c.ResponseLength,
		EmojiFrequency:     c.EmojiFrequency,
		UseKnowledge:       c.UseKnowledge,
		AddressByName:      c.AddressByName,
	}
}

// ForRole returns c speaking as role. Persona fields come from the role and
// the style follows the role type.
func (c Config) ForRole(role domain.Role) Config {
	out := c
	out.PersonaName = role.Name
	out.PersonaDescription = role.Purpose
	if role.Personality != "" {
		out.PersonaDescription += " Personality: " + role.Personality + "."
	}
	out.Style = styleForRole(role)
	return out
}

// TriggerRule fires on matching intents. Empty conditions match anything.
type TriggerRule struct {
	ID            string
	Name          string
	Priority      int
	Categories    []intent.Category
	MinConfidence float64
	MinRound      int
	Keywords      []string
	NotifyHuman   bool
	// Response, when set, is sent instead of a generated reply.
	Response string
}

func (r TriggerRule) matches(in *intent.Intent, message string, round int) bool {
	if len(r.Categories) > 0 {
		found := false
		for _, c := range r.Categories {
			if c == in.Category {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if in.Confidence < r.MinConfidence {
		return false
	}
	if round < r.MinRound {
		return false
	}
	if len(r.Keywords) > 0 && !textmatch.Any(message, r.Keywords) {
		return false
	}
	return true
}

// evaluateRules returns the matching rules, highest priority first.
func evaluateRules(rules []TriggerRule, in *intent.Intent, message string, round int) []TriggerRule {
	var out []TriggerRule
	for _, r := range rules {
		if r.matches(in, message, round) {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })
	return out
}

func (r TriggerRule) label() string {
	if r.Name != "" {
		return r.Name
	}
	return r.ID
}
