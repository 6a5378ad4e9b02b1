package domain

import "time"

// Queue results recorded for completed users.
const (
	ResultNoResponse = "no_response"
	ResultMaxTurns   = "max_turns"
	ResultHandoff    = "handoff"
	ResultConverted  = "converted"
	ResultCompleted  = "completed"
	ResultStopped    = "stopped"
)

// TargetUser is a chat user the campaign reaches out to.
type TargetUser struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// QueueUser is the user whose conversation currently drives the campaign.
type QueueUser struct {
	ID                string    `json:"id"`
	Name              string    `json:"name,omitempty"`
	StartedAt         time.Time `json:"started_at"`
	MessagesExchanged int       `json:"messages_exchanged"`
}

// CompletedUser is the outcome for one processed user.
type CompletedUser struct {
	ID                string        `json:"id"`
	Name              string        `json:"name,omitempty"`
	Result            string        `json:"result"`
	MessagesExchanged int           `json:"messages_exchanged"`
	Duration          time.Duration `json:"duration"`
	FinalStage        FunnelStage   `json:"final_stage,omitempty"`
}

// Queue drives sequential outreach: exactly one user is active at a time.
type Queue struct {
	TotalUsers       int               `json:"total_users"`
	ProcessedUsers   int               `json:"processed_users"`
	CurrentUserIndex int               `json:"current_user_index"`
	CurrentUser      *QueueUser        `json:"current_user,omitempty"`
	PendingUsers     []string          `json:"pending_users"`
	CompletedUsers   []CompletedUser   `json:"completed_users"`
	UserNames        map[string]string `json:"user_names,omitempty"`
}

// NewQueue builds a queue whose first target is the current user.
func NewQueue(targets []TargetUser, now time.Time) Queue {
	q := Queue{
		TotalUsers:   len(targets),
		PendingUsers: make([]string, 0, len(targets)),
		UserNames:    make(map[string]string, len(targets)),
	}
	for _, t := range targets {
		q.PendingUsers = append(q.PendingUsers, t.ID)
		if t.Name != "" {
			q.UserNames[t.ID] = t.Name
		}
	}
	q, _ = q.MoveToNextUser(now)
	q.CurrentUserIndex = 0
	return q
}

// Exhausted reports whether every user has been processed.
func (q Queue) Exhausted() bool {
	return q.CurrentUser == nil && len(q.PendingUsers) == 0
}

// Consistent reports whether the counting invariant holds.
func (q Queue) Consistent() bool {
	active := 0
	if q.CurrentUser != nil {
		active = 1
	}
	return q.ProcessedUsers+len(q.PendingUsers)+active == q.TotalUsers
}

// WithExchange returns a queue with the current user's message count bumped.
func (q Queue) WithExchange() Queue {
	out := q.clone()
	if out.CurrentUser != nil {
		out.CurrentUser.MessagesExchanged++
	}
	return out
}

// CompleteCurrentUser records the current user's outcome and moves to the
// next pending user. The returned CompletedUser is the zero value when no
// user was active.
func (q Queue) CompleteCurrentUser(result string, stage FunnelStage, now time.Time) (Queue, CompletedUser) {
	out := q.clone()
	if out.CurrentUser == nil {
		return out, CompletedUser{}
	}
	cur := out.CurrentUser
	done := CompletedUser{
		ID:                cur.ID,
		Name:              cur.Name,
		Result:            result,
		MessagesExchanged: cur.MessagesExchanged,
		Duration:          now.Sub(cur.StartedAt),
		FinalStage:        stage,
	}
	out.CompletedUsers = append(out.CompletedUsers, done)
	out.ProcessedUsers++
	out.CurrentUser = nil
	out, _ = out.MoveToNextUser(now)
	return out, done
}

// SkipCurrentUser completes the current user with no_response.
func (q Queue) SkipCurrentUser(stage FunnelStage, now time.Time) (Queue, CompletedUser) {
	return q.CompleteCurrentUser(ResultNoResponse, stage, now)
}

// MoveToNextUser pops the next pending user into the current slot. It is a
// no-op while a user is still active. The bool is false when nothing was
// left to pop.
func (q Queue) MoveToNextUser(now time.Time) (Queue, bool) {
	out := q.clone()
	if out.CurrentUser != nil {
		return out, true
	}
	if len(out.PendingUsers) == 0 {
		return out, false
	}
	id := out.PendingUsers[0]
	out.PendingUsers = out.PendingUsers[1:]
	out.CurrentUser = &QueueUser{ID: id, Name: out.UserNames[id], StartedAt: now}
	out.CurrentUserIndex = out.ProcessedUsers
	return out, true
}

func (q Queue) clone() Queue {
	out := q
	out.PendingUsers = append([]string(nil), q.PendingUsers...)
	out.CompletedUsers = append([]CompletedUser(nil), q.CompletedUsers...)
	if q.CurrentUser != nil {
		cur := *q.CurrentUser
		out.CurrentUser = &cur
	}
	if q.UserNames != nil {
		out.UserNames = make(map[string]string, len(q.UserNames))
		for k, v := range q.UserNames {
			out.UserNames[k] = v
		}
	}
	return out
}
