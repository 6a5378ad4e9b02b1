package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// ExecutionStatus enumerates the lifecycle states of a campaign execution.
type ExecutionStatus string

const (
	StatusPlanning  ExecutionStatus = "planning"
	StatusRunning   ExecutionStatus = "running"
	StatusPaused    ExecutionStatus = "paused"
	StatusCompleted ExecutionStatus = "completed"
)

// CanTransition reports whether the state machine allows from -> to.
func CanTransition(from, to ExecutionStatus) bool {
	switch from {
	case StatusPlanning:
		return to == StatusRunning || to == StatusCompleted
	case StatusRunning:
		return to == StatusPaused || to == StatusCompleted
	case StatusPaused:
		return to == StatusRunning || to == StatusCompleted
	default:
		return false
	}
}

// Mode selects how outbound text is authored.
type Mode string

const (
	ModeScripted   Mode = "scripted"
	ModeScriptless Mode = "scriptless"
	ModeHybrid     Mode = "hybrid"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m == ModeScripted || m == ModeScriptless || m == ModeHybrid
}

// Sender identifies who wrote a message in the campaign history.
type Sender string

const (
	SenderUser Sender = "user"
	SenderRole Sender = "role"
)

// MessageRecord is one entry of an execution's ordered history.
type MessageRecord struct {
	ID        string    `json:"id"`
	From      Sender    `json:"from"`
	RoleID    string    `json:"role_id,omitempty"`
	AccountID string    `json:"account_id,omitempty"`
	UserID    string    `json:"user_id"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Signal    string    `json:"signal,omitempty"`
}

// Stats are the running counters of an execution.
type Stats struct {
	MessagesSent      int `json:"messages_sent"`
	ResponsesReceived int `json:"responses_received"`
	CurrentPhase      int `json:"current_phase"`
	InterestScore     int `json:"interest_score"`
	AnalysisCount     int `json:"analysis_count"`
	AutoAdjustments   int `json:"auto_adjustments"`
}

// Level is a coarse low/medium/high rating.
type Level string

const (
	LevelLow    Level = "low"
	LevelMedium Level = "medium"
	LevelHigh   Level = "high"
)

// Sentiment is the overall tone of a conversation window.
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

// AdjustmentKind names an auto-adjustment decided by analysis.
type AdjustmentKind string

const (
	AdjustNone       AdjustmentKind = "none"
	AdjustAdvance    AdjustmentKind = "advance_phase"
	AdjustSwitchRole AdjustmentKind = "switch_role"
	AdjustObjection  AdjustmentKind = "handle_objection"
)

// Analysis is the output of one periodic conversation review.
type Analysis struct {
	Engagement        Level          `json:"engagement"`
	Sentiment         Sentiment      `json:"sentiment"`
	Interests         []string       `json:"interests,omitempty"`
	Objections        []string       `json:"objections,omitempty"`
	Readiness         int            `json:"readiness"`
	Adjustment        AdjustmentKind `json:"adjustment"`
	RecommendedRoleID string         `json:"recommended_role_id,omitempty"`
	Reason            string         `json:"reason,omitempty"`
	At                time.Time      `json:"at"`
}

// Execution is the aggregate root of one campaign run.
type Execution struct {
	ID             string             `json:"id"`
	Status         ExecutionStatus    `json:"status"`
	Goal           string             `json:"goal"`
	Intent         GoalIntent         `json:"intent"`
	Strategy       Strategy           `json:"strategy"`
	Roles          []Role             `json:"roles"`
	Mode           Mode               `json:"mode"`
	AccountMatches []AccountRoleMatch `json:"account_matches"`
	TargetUsers    []TargetUser       `json:"target_users"`
	Queue          Queue              `json:"queue"`
	Funnel         ConversionFunnel   `json:"funnel"`
	MessageHistory []MessageRecord    `json:"message_history"`
	Stats          Stats              `json:"stats"`

	ActiveRoleID         string    `json:"active_role_id,omitempty"`
	ConsecutiveRoleCount int       `json:"consecutive_role_count"`
	LastAnalysis         *Analysis `json:"last_analysis,omitempty"`
	UnanalyzedMessages   int       `json:"unanalyzed_messages"`
	Warnings             []string  `json:"warnings,omitempty"`
	SentDay              string    `json:"sent_day,omitempty"`
	SentToday            int       `json:"sent_today"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// IsTerminal returns true if the execution can no longer change.
func (e *Execution) IsTerminal() bool {
	return e.Status == StatusCompleted
}

// RoleByID returns the role with the given id.
func (e *Execution) RoleByID(id string) (Role, bool) {
	for _, r := range e.Roles {
		if r.ID == id {
			return r, true
		}
	}
	return Role{}, false
}

// RoleByType returns the first role of type t.
func (e *Execution) RoleByType(t RoleType) (Role, bool) {
	for _, r := range e.Roles {
		if r.Type == t {
			return r, true
		}
	}
	return Role{}, false
}

// AccountFor returns the account bound to roleID.
func (e *Execution) AccountFor(roleID string) (string, bool) {
	for _, m := range e.AccountMatches {
		if m.RoleID == roleID {
			return m.AccountID, true
		}
	}
	return "", false
}

// UserHistory returns the messages exchanged with userID, in order.
func (e *Execution) UserHistory(userID string) []MessageRecord {
	var out []MessageRecord
	for _, m := range e.MessageHistory {
		if m.UserID == userID {
			out = append(out, m)
		}
	}
	return out
}

// Clone returns a deep copy safe to hand to other goroutines.
func (e *Execution) Clone() *Execution {
	if e == nil {
		return nil
	}
	out := *e
	out.Roles = append([]Role(nil), e.Roles...)
	out.AccountMatches = append([]AccountRoleMatch(nil), e.AccountMatches...)
	out.TargetUsers = append([]TargetUser(nil), e.TargetUsers...)
	out.Queue = e.Queue.clone()
	out.Funnel = e.Funnel.clone()
	out.MessageHistory = append([]MessageRecord(nil), e.MessageHistory...)
	out.Warnings = append([]string(nil), e.Warnings...)
	out.Strategy.Phases = append([]Phase(nil), e.Strategy.Phases...)
	out.Strategy.AdjustmentRules = append([]AdjustmentRule(nil), e.Strategy.AdjustmentRules...)
	if e.LastAnalysis != nil {
		a := *e.LastAnalysis
		a.Interests = append([]string(nil), e.LastAnalysis.Interests...)
		a.Objections = append([]string(nil), e.LastAnalysis.Objections...)
		out.LastAnalysis = &a
	}
	if e.CompletedAt != nil {
		t := *e.CompletedAt
		out.CompletedAt = &t
	}
	return &out
}

// Snapshot is the persisted form of an execution used for crash recovery.
// Summary columns are duplicated out of Payload so stores can filter
// without decoding it.
type Snapshot struct {
	ID        string          `json:"id" dynamodbav:"id"`
	Category  Category        `json:"category" dynamodbav:"category"`
	Status    ExecutionStatus `json:"status" dynamodbav:"status"`
	Mode      Mode            `json:"mode" dynamodbav:"mode"`
	Goal      string          `json:"goal" dynamodbav:"goal"`
	UpdatedAt time.Time       `json:"updated_at" dynamodbav:"updated_at"`
	Payload   []byte          `json:"payload" dynamodbav:"payload"`
}

// NewSnapshot serializes e.
func NewSnapshot(e *Execution) (Snapshot, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return Snapshot{}, fmt.Errorf("marshal execution %s: %w", e.ID, err)
	}
	return Snapshot{
		ID:        e.ID,
		Category:  e.Intent.Category,
		Status:    e.Status,
		Mode:      e.Mode,
		Goal:      e.Goal,
		UpdatedAt: e.UpdatedAt,
		Payload:   data,
	}, nil
}

// Execution decodes the payload.
func (s Snapshot) Execution() (*Execution, error) {
	var e Execution
	if err := json.Unmarshal(s.Payload, &e); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot %s: %w", s.ID, err)
	}
	return &e, nil
}

// IsActive reports whether the snapshot should be restored on boot.
func (s Snapshot) IsActive() bool {
	return s.Status != StatusCompleted
}
