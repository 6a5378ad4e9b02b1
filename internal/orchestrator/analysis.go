package orchestrator

import (
	"time"

	"github.com/ignite/convoflow/internal/domain"
	"github.com/ignite/convoflow/internal/intent"
	"github.com/ignite/convoflow/internal/pkg/textmatch"
)

const (
	maxConsecutiveRole     = 3
	lowEngagementMinSent   = 5
	advanceReadiness       = 70
	intentStageReadiness   = 60
	conversionReadiness    = 85
	analysisWindowMessages = 10
)

var objectionKeywords = map[string][]string{
	"price":  {"太貴", "好貴", "貴了", "便宜一點", "預算", "expensive", "too much"},
	"trust":  {"騙", "可信", "真的假的", "詐騙", "scam", "legit"},
	"timing": {"沒時間", "再說", "改天", "下次", "以後", "later", "busy"},
	"need":   {"不需要", "用不到", "已經有", "don't need"},
}

var objectionOrder = []string{"price", "trust", "timing", "need"}

var interestLabels = map[intent.Category]string{
	intent.PurchaseIntent:   "purchase",
	intent.PriceInquiry:     "price",
	intent.ProductQuestion:  "product",
	intent.PositiveFeedback: "experience",
	intent.SupportRequest:   "support",
}

// analyze reviews the recent conversation of e. It is pure: e is not changed.
func analyze(e *domain.Execution, now time.Time) domain.Analysis {
	a := domain.Analysis{Engagement: engagement(e.Stats), Sentiment: domain.SentimentNeutral, At: now}

	history := e.MessageHistory
	if cur := e.Queue.CurrentUser; cur != nil {
		history = e.UserHistory(cur.ID)
	}
	var userMsgs []string
	for i := len(history) - 1; i >= 0 && len(userMsgs) < analysisWindowMessages; i-- {
		if m := history[i]; m.From == domain.SenderUser {
			userMsgs = append(userMsgs, m.Content)
		}
	}

	pos, neg := 0, 0
	seenInterest := map[string]bool{}
	seenObjection := map[string]bool{}
	for _, msg := range userMsgs {
		in := intent.Classify(msg)
		switch in.Sentiment {
		case intent.Positive:
			pos++
		case intent.Negative:
			neg++
		}
		if label, ok := interestLabels[in.Category]; ok && !seenInterest[label] {
			seenInterest[label] = true
			a.Interests = append(a.Interests, label)
		}
		for _, kind := range objectionOrder {
			if !seenObjection[kind] && textmatch.Any(msg, objectionKeywords[kind]) {
				seenObjection[kind] = true
				a.Objections = append(a.Objections, kind)
			}
		}
	}
	switch {
	case neg > pos:
		a.Sentiment = domain.SentimentNegative
	case pos > neg:
		a.Sentiment = domain.SentimentPositive
	}

	readiness := e.Stats.InterestScore + 5*len(a.Interests) - 10*len(a.Objections)
	switch a.Engagement {
	case domain.LevelHigh:
		readiness += 10
	case domain.LevelLow:
		readiness -= 10
	}
	a.Readiness = clampScore(readiness)
	return a
}

func engagement(s domain.Stats) domain.Level {
	if s.MessagesSent == 0 {
		return domain.LevelMedium
	}
	ratio := float64(s.ResponsesReceived) / float64(s.MessagesSent)
	switch {
	case ratio >= 0.6:
		return domain.LevelHigh
	case ratio >= 0.3:
		return domain.LevelMedium
	default:
		return domain.LevelLow
	}
}

// funnelStep moves the funnel at most one stage based on a.
func funnelStep(stage domain.FunnelStage, a domain.Analysis) domain.FunnelStage {
	switch stage {
	case domain.StageResponse:
		if len(a.Interests) > 0 {
			return domain.StageInterest
		}
	case domain.StageInterest:
		if a.Readiness > intentStageReadiness {
			return domain.StageIntent
		}
	case domain.StageIntent:
		if a.Readiness > conversionReadiness {
			return domain.StageConversion
		}
	}
	return stage
}

// decideAdjustment picks the first applicable adjustment. Switching to a role
// type the campaign does not have is a no-op.
func decideAdjustment(e *domain.Execution, a domain.Analysis) (domain.AdjustmentKind, string, string) {
	switch {
	case a.Readiness > advanceReadiness && e.Strategy.HasPhaseAfter(e.Stats.CurrentPhase):
		return domain.AdjustAdvance, "", "readiness high"
	case a.Sentiment == domain.SentimentNegative:
		return switchTo(e, domain.RoleCare, domain.AdjustSwitchRole, "negative sentiment")
	case a.Engagement == domain.LevelLow && e.Stats.MessagesSent >= lowEngagementMinSent:
		return switchTo(e, domain.RoleAtmosphere, domain.AdjustSwitchRole, "low engagement")
	case containsString(a.Objections, "price"):
		return switchTo(e, domain.RoleProfessional, domain.AdjustObjection, "price objection")
	}
	return domain.AdjustNone, "", ""
}

func switchTo(e *domain.Execution, t domain.RoleType, kind domain.AdjustmentKind, reason string) (domain.AdjustmentKind, string, string) {
	for _, r := range e.Roles {
		if r.Type != t {
			continue
		}
		if _, ok := e.AccountFor(r.ID); ok {
			return kind, r.ID, reason
		}
	}
	return domain.AdjustNone, "", reason + " (no " + string(t) + " role available)"
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
