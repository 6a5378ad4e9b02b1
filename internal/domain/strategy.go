package domain

// Category is the campaign template a goal was matched to.
type Category string

const (
	CategorySalesConversion     Category = "sales_conversion"
	CategoryCommunityActivation Category = "community_activation"
	CategoryCustomerRetention   Category = "customer_retention"
	CategoryProductLaunch       Category = "product_launch"
	CategoryCustom              Category = "custom"
)

// GoalIntent is the result of matching a free-text goal to a template.
type GoalIntent struct {
	Category        Category `json:"category"`
	Confidence      float64  `json:"confidence"`
	MatchedKeywords []string `json:"matched_keywords,omitempty"`
}

// Phase is one ordered step of a strategy.
type Phase struct {
	Name              string     `json:"name"`
	Goal              string     `json:"goal"`
	Tactics           []string   `json:"tactics"`
	FocusRoles        []RoleType `json:"focus_roles"`
	SuccessIndicators []string   `json:"success_indicators"`
}

// AdjustmentRule documents a trigger -> condition -> action policy.
type AdjustmentRule struct {
	Trigger   string `json:"trigger"`
	Condition string `json:"condition"`
	Action    string `json:"action"`
}

// Constraints bound how a campaign may send.
type Constraints struct {
	DailyMessageCap    int      `json:"daily_message_cap"`
	MaxConsecutiveSame int      `json:"max_consecutive_same_role"`
	ActiveHourStart    int      `json:"active_hour_start"`
	ActiveHourEnd      int      `json:"active_hour_end"`
	ToneGuidelines     []string `json:"tone_guidelines,omitempty"`
	ForbiddenTopics    []string `json:"forbidden_topics,omitempty"`
}

// InActiveWindow reports whether hour (0-23) falls inside the send window.
// An empty window (start == end) allows every hour.
func (c Constraints) InActiveWindow(hour int) bool {
	if c.ActiveHourStart == c.ActiveHourEnd {
		return true
	}
	if c.ActiveHourStart < c.ActiveHourEnd {
		return hour >= c.ActiveHourStart && hour < c.ActiveHourEnd
	}
	return hour >= c.ActiveHourStart || hour < c.ActiveHourEnd
}

// Strategy is the phase plan generated once at campaign start.
type Strategy struct {
	Phases          []Phase          `json:"phases"`
	AdjustmentRules []AdjustmentRule `json:"adjustment_rules"`
	Constraints     Constraints      `json:"constraints"`
}

// HasPhaseAfter reports whether a phase exists after index i.
func (s Strategy) HasPhaseAfter(i int) bool {
	return i+1 < len(s.Phases)
}

// PhaseAt returns the phase at i, or false when i is out of range.
func (s Strategy) PhaseAt(i int) (Phase, bool) {
	if i < 0 || i >= len(s.Phases) {
		return Phase{}, false
	}
	return s.Phases[i], true
}
