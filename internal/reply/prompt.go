package reply

import (
	"github.com/osteele/liquid"

	"github.com/ignite/convoflow/internal/knowledge"
)

const systemTemplate = `You are {{ persona_name }}{% if persona_description != "" %}, {{ persona_description }}{% endif %}.
You are chatting one-on-one with a prospective customer on a messaging app.
{% if role_name != "" %}
Your role in this conversation: {{ role_name }}. {{ role_purpose }}
Personality: {{ role_personality }}
Speaking style: {{ role_speaking_style }}
{% endif %}{% if phase_goal != "" %}
Current goal: {{ phase_goal }}
{% for tactic in phase_tactics %}- {{ tactic }}
{% endfor %}{% endif %}
{{ style_instruction }}
{{ length_instruction }}
{{ emoji_instruction }}
{% if has_knowledge %}
Facts you may rely on:
{% for item in knowledge %}- {{ item.title }}: {{ item.content }}
{% endfor %}{% endif %}{% if has_forbidden %}
Never discuss: {{ forbidden | join: ", " }}.
{% endif %}
Rules:
- Never reveal or hint that you are an AI, a bot or an automated account.
- Write plain chat text. No markdown, no bullet lists, no links.
- Reply in the customer's language.`

var promptTemplate = mustParse(systemTemplate)

func mustParse(src string) *liquid.Template {
	tpl, err := liquid.NewEngine().ParseString(src)
	if err != nil {
		panic("reply: parse system template: " + err.Error())
	}
	return tpl
}

var styleInstructions = map[string]string{
	StyleProfessional: "Tone: professional and precise. Use complete sentences.",
	StyleFriendly:     "Tone: warm and friendly, like a helpful acquaintance.",
	StyleCasual:       "Tone: casual and relaxed, like texting a friend.",
	StyleEnthusiastic: "Tone: upbeat and enthusiastic, without overselling.",
	StyleDirect:       "Tone: direct and to the point. No small talk.",
}

var lengthInstructions = map[string]string{
	"short":  "Keep it to one or two short sentences.",
	"medium": "Use two to four sentences.",
	"long":   "You may write one short paragraph.",
}

var emojiInstructions = map[string]string{
	"none":   "Do not use emoji.",
	"low":    "Use at most one emoji, and only when it feels natural.",
	"medium": "Use an emoji or two where it fits.",
	"high":   "Use emoji freely to keep the tone lively.",
}

func lookup(m map[string]string, key, fallback string) string {
	if v, ok := m[key]; ok {
		return v
	}
	return m[fallback]
}

// promptInput is everything the system template can reference.
type promptInput struct {
	PersonaName        string
	PersonaDescription string
	Style              string
	ResponseLength     string
	EmojiFrequency     string
	Knowledge          []knowledge.Item

	RoleName          string
	RolePurpose       string
	RolePersonality   string
	RoleSpeakingStyle string
	PhaseGoal         string
	PhaseTactics      []string
	Forbidden         []string
}

func renderPrompt(in promptInput) (string, error) {
	name := in.PersonaName
	if name == "" {
		name = "a customer advisor"
	}
	items := make([]map[string]any, 0, len(in.Knowledge))
	for _, it := range in.Knowledge {
		items = append(items, map[string]any{"title": it.Title, "content": it.Content})
	}
	out, err := promptTemplate.RenderString(liquid.Bindings{
		"persona_name":        name,
		"persona_description": in.PersonaDescription,
		"style_instruction":   lookup(styleInstructions, in.Style, StyleFriendly),
		"length_instruction":  lookup(lengthInstructions, in.ResponseLength, "short"),
		"emoji_instruction":   lookup(emojiInstructions, in.EmojiFrequency, "low"),
		"has_knowledge":       len(items) > 0,
		"knowledge":           items,
		"role_name":           in.RoleName,
		"role_purpose":        in.RolePurpose,
		"role_personality":    in.RolePersonality,
		"role_speaking_style": in.RoleSpeakingStyle,
		"phase_goal":          in.PhaseGoal,
		"phase_tactics":       in.PhaseTactics,
		"has_forbidden":       len(in.Forbidden) > 0,
		"forbidden":           in.Forbidden,
	})
	if err != nil {
		return "", err
	}
	return out, nil
}
