package domain

import "time"

// FunnelStage is a position in the fixed conversion ordering.
type FunnelStage string

const (
	StageContact    FunnelStage = "contact"
	StageResponse   FunnelStage = "response"
	StageInterest   FunnelStage = "interest"
	StageIntent     FunnelStage = "intent"
	StageConversion FunnelStage = "conversion"
)

var funnelOrder = map[FunnelStage]int{
	StageContact:    0,
	StageResponse:   1,
	StageInterest:   2,
	StageIntent:     3,
	StageConversion: 4,
}

// FunnelStages lists every stage in order.
var FunnelStages = []FunnelStage{StageContact, StageResponse, StageInterest, StageIntent, StageConversion}

// Rank returns the stage's position in the ordering, or -1 if unknown.
func (s FunnelStage) Rank() int {
	if r, ok := funnelOrder[s]; ok {
		return r
	}
	return -1
}

// Before reports whether s comes strictly before other.
func (s FunnelStage) Before(other FunnelStage) bool {
	return s.Rank() < other.Rank()
}

// Next returns the following stage, or s itself at conversion.
func (s FunnelStage) Next() FunnelStage {
	r := s.Rank()
	if r < 0 || r+1 >= len(FunnelStages) {
		return s
	}
	return FunnelStages[r+1]
}

// StageEntry records when a stage was entered.
type StageEntry struct {
	Stage        FunnelStage `json:"stage"`
	MessageCount int         `json:"message_count"`
	EnteredAt    time.Time   `json:"entered_at"`
}

// KeyMoment records a message that carried a conversion signal.
type KeyMoment struct {
	Message   string      `json:"message"`
	Trigger   string      `json:"trigger"`
	Stage     FunnelStage `json:"stage"`
	Timestamp time.Time   `json:"timestamp"`
}

// ConversionFunnel tracks one target user from first contact to conversion.
type ConversionFunnel struct {
	CurrentStage FunnelStage  `json:"current_stage"`
	StageHistory []StageEntry `json:"stage_history"`
	KeyMoments   []KeyMoment  `json:"key_moments"`
}

// NewFunnel starts a funnel at contact.
func NewFunnel(now time.Time) ConversionFunnel {
	return ConversionFunnel{
		CurrentStage: StageContact,
		StageHistory: []StageEntry{{Stage: StageContact, EnteredAt: now}},
	}
}

// AdvanceTo returns a funnel at target if target is later than the current
// stage. Earlier or equal targets return an unchanged copy, so the stage
// never regresses.
func (f ConversionFunnel) AdvanceTo(target FunnelStage, messageCount int, now time.Time) ConversionFunnel {
	out := f.clone()
	if target.Rank() < 0 || !f.CurrentStage.Before(target) {
		return out
	}
	out.CurrentStage = target
	out.StageHistory = append(out.StageHistory, StageEntry{
		Stage:        target,
		MessageCount: messageCount,
		EnteredAt:    now,
	})
	return out
}

// WithMoment returns a funnel with a key moment appended.
func (f ConversionFunnel) WithMoment(message, trigger string, now time.Time) ConversionFunnel {
	out := f.clone()
	out.KeyMoments = append(out.KeyMoments, KeyMoment{
		Message:   message,
		Trigger:   trigger,
		Stage:     f.CurrentStage,
		Timestamp: now,
	})
	return out
}

func (f ConversionFunnel) clone() ConversionFunnel {
	out := f
	out.StageHistory = append([]StageEntry(nil), f.StageHistory...)
	out.KeyMoments = append([]KeyMoment(nil), f.KeyMoments...)
	return out
}
