package intent

import (
	"sync"
	"time"
)

// Stage is the classifier's coarse view of where a user is in the sale.
type Stage string

const (
	StageInitial     Stage = "initial"
	StageExploring   Stage = "exploring"
	StageInterested  Stage = "interested"
	StageNegotiating Stage = "negotiating"
	StageClosing     Stage = "closing"
)

// TurnRole tags who spoke a turn.
type TurnRole string

const (
	TurnUser      TurnRole = "user"
	TurnAssistant TurnRole = "assistant"
)

// Turn is one message in a user's conversation.
type Turn struct {
	Role      TurnRole  `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Intent    *Intent   `json:"intent,omitempty"`
}

// ConversationContext is the running state for one target user.
type ConversationContext struct {
	UserID        string     `json:"user_id"`
	Turns         []Turn     `json:"turns"`
	IntentHistory []Category `json:"intent_history"`
	TotalScore    int        `json:"total_score"`
	CurrentStage  Stage      `json:"current_stage"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func (c *ConversationContext) seen(cat Category) bool {
	for _, h := range c.IntentHistory {
		if h == cat {
			return true
		}
	}
	return false
}

// recomputeStage applies the stage rules in precedence order.
func (c *ConversationContext) recomputeStage() {
	switch {
	case c.seen(PurchaseIntent):
		c.CurrentStage = StageClosing
	case c.seen(PriceInquiry):
		c.CurrentStage = StageNegotiating
	case c.TotalScore >= 30:
		c.CurrentStage = StageInterested
	case len(c.Turns) > 2:
		c.CurrentStage = StageExploring
	default:
		c.CurrentStage = StageInitial
	}
}

// ShouldHandoff reports whether a human operator should take over.
func (c *ConversationContext) ShouldHandoff() bool {
	return c.CurrentStage == StageClosing ||
		c.TotalScore >= 50 ||
		c.seen(Complaint) ||
		c.seen(NegativeSentiment)
}

func (c *ConversationContext) clone() ConversationContext {
	out := *c
	out.Turns = append([]Turn(nil), c.Turns...)
	out.IntentHistory = append([]Category(nil), c.IntentHistory...)
	return out
}

const maxStoredTurns = 100

// ContextStore holds conversation contexts keyed by user id. One store is
// created by the wiring layer and handed to the classifier, the reply
// generator and the orchestrator.
type ContextStore struct {
	mu       sync.RWMutex
	contexts map[string]*ConversationContext
	now      func() time.Time
}

// NewContextStore creates an empty store.
func NewContextStore() *ContextStore {
	return &ContextStore{
		contexts: make(map[string]*ConversationContext),
		now:      time.Now,
	}
}

// Get returns a copy of the user's context.
func (s *ContextStore) Get(userID string) (ConversationContext, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.contexts[userID]
	if !ok {
		return ConversationContext{}, false
	}
	return c.clone(), true
}

// RecentTurns returns up to n of the latest turns, oldest first.
func (s *ContextStore) RecentTurns(userID string, n int) []Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.contexts[userID]
	if !ok || n <= 0 {
		return nil
	}
	turns := c.Turns
	if len(turns) > n {
		turns = turns[len(turns)-n:]
	}
	return append([]Turn(nil), turns...)
}

// AppendUser records a user message with its intent, updates the score and
// recomputes the stage.
func (s *ContextStore) AppendUser(userID, content string, in *Intent) ConversationContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.getOrCreate(userID)
	c.append(Turn{Role: TurnUser, Content: content, Timestamp: s.now(), Intent: in})
	if in != nil {
		c.IntentHistory = append(c.IntentHistory, in.Category)
		c.TotalScore += in.ScoreDelta()
	}
	c.recomputeStage()
	return c.clone()
}

// AppendAssistant records an automated reply.
func (s *ContextStore) AppendAssistant(userID, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.getOrCreate(userID)
	c.append(Turn{Role: TurnAssistant, Content: content, Timestamp: s.now()})
	c.recomputeStage()
}

// ShouldHandoffToHuman applies the handoff heuristic to userID.
func (s *ContextStore) ShouldHandoffToHuman(userID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.contexts[userID]
	if !ok {
		return false
	}
	return c.ShouldHandoff()
}

// Clear drops the user's context when their campaign ends.
func (s *ContextStore) Clear(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.contexts, userID)
}

// Snapshot returns copies of every context.
func (s *ContextStore) Snapshot() map[string]ConversationContext {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]ConversationContext, len(s.contexts))
	for id, c := range s.contexts {
		out[id] = c.clone()
	}
	return out
}

func (s *ContextStore) getOrCreate(userID string) *ConversationContext {
	c, ok := s.contexts[userID]
	if !ok {
		c = &ConversationContext{UserID: userID, CurrentStage: StageInitial}
		s.contexts[userID] = c
	}
	return c
}

func (c *ConversationContext) append(t Turn) {
	c.Turns = append(c.Turns, t)
	if len(c.Turns) > maxStoredTurns {
		c.Turns = append([]Turn(nil), c.Turns[len(c.Turns)-maxStoredTurns:]...)
	}
	c.UpdatedAt = t.Timestamp
}
