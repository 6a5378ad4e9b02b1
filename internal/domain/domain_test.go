package domain

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

func TestFunnel_NeverRegresses(t *testing.T) {
	f := NewFunnel(t0)
	sequence := []FunnelStage{
		StageInterest, StageResponse, StageContact, StageIntent, StageInterest, StageConversion, StageResponse,
	}

	prev := f.CurrentStage
	for i, target := range sequence {
		f = f.AdvanceTo(target, i, t0.Add(time.Duration(i)*time.Second))
		assert.False(t, f.CurrentStage.Before(prev), "stage went from %s to %s", prev, f.CurrentStage)
		prev = f.CurrentStage
	}
	assert.Equal(t, StageConversion, f.CurrentStage)

	// contact, interest, intent, conversion
	require.Len(t, f.StageHistory, 4)
	assert.Equal(t, 5, f.StageHistory[3].MessageCount)
}

func TestFunnel_AdvanceDoesNotMutateReceiver(t *testing.T) {
	f := NewFunnel(t0)
	g := f.AdvanceTo(StageIntent, 3, t0)

	assert.Equal(t, StageContact, f.CurrentStage)
	assert.Len(t, f.StageHistory, 1)
	assert.Equal(t, StageIntent, g.CurrentStage)

	h := g.WithMoment("多少錢", "medium", t0)
	assert.Empty(t, g.KeyMoments)
	require.Len(t, h.KeyMoments, 1)
	assert.Equal(t, StageIntent, h.KeyMoments[0].Stage)
}

func TestFunnelStage_Next(t *testing.T) {
	assert.Equal(t, StageResponse, StageContact.Next())
	assert.Equal(t, StageConversion, StageIntent.Next())
	assert.Equal(t, StageConversion, StageConversion.Next())
	assert.Equal(t, -1, FunnelStage("bogus").Rank())
}

func targets(n int) []TargetUser {
	out := make([]TargetUser, n)
	for i := range out {
		out[i] = TargetUser{ID: fmt.Sprintf("u%d", i+1), Name: fmt.Sprintf("User %d", i+1)}
	}
	return out
}

func TestQueue_InvariantHoldsThroughCompletion(t *testing.T) {
	q := NewQueue(targets(4), t0)
	require.NotNil(t, q.CurrentUser)
	assert.Equal(t, "u1", q.CurrentUser.ID)
	assert.Equal(t, "User 1", q.CurrentUser.Name)
	assert.Equal(t, []string{"u2", "u3", "u4"}, q.PendingUsers)
	assert.True(t, q.Consistent())

	results := []string{ResultConverted, ResultNoResponse, ResultHandoff, ResultMaxTurns}
	for i, r := range results {
		var done CompletedUser
		q, done = q.CompleteCurrentUser(r, StageInterest, t0.Add(time.Duration(i+1)*time.Minute))
		assert.True(t, q.Consistent(), "after completing user %d", i+1)
		assert.Equal(t, r, done.Result)
	}

	assert.True(t, q.Exhausted())
	assert.Equal(t, 4, q.ProcessedUsers)
	require.Len(t, q.CompletedUsers, 4)
	assert.Equal(t, time.Minute, q.CompletedUsers[0].Duration)
}

func TestQueue_CompleteWithoutCurrentIsNoop(t *testing.T) {
	q := NewQueue(nil, t0)
	assert.True(t, q.Exhausted())

	q2, done := q.CompleteCurrentUser(ResultCompleted, StageContact, t0)
	assert.Equal(t, CompletedUser{}, done)
	assert.Equal(t, 0, q2.ProcessedUsers)
	assert.True(t, q2.Consistent())
}

func TestQueue_SkipRecordsNoResponse(t *testing.T) {
	q := NewQueue(targets(2), t0)
	q = q.WithExchange().WithExchange()

	q, done := q.SkipCurrentUser(StageResponse, t0.Add(10*time.Minute))
	assert.Equal(t, ResultNoResponse, done.Result)
	assert.Equal(t, 2, done.MessagesExchanged)
	assert.Equal(t, "u2", q.CurrentUser.ID)
	assert.Equal(t, 1, q.CurrentUserIndex)
}

func TestQueue_TransformsDoNotShareState(t *testing.T) {
	q := NewQueue(targets(3), t0)
	next, _ := q.CompleteCurrentUser(ResultCompleted, StageContact, t0)

	assert.Equal(t, "u1", q.CurrentUser.ID)
	assert.Len(t, q.PendingUsers, 2)
	assert.Equal(t, "u2", next.CurrentUser.ID)
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(StatusPlanning, StatusRunning))
	assert.True(t, CanTransition(StatusRunning, StatusPaused))
	assert.True(t, CanTransition(StatusPaused, StatusRunning))
	assert.True(t, CanTransition(StatusPaused, StatusCompleted))
	assert.False(t, CanTransition(StatusCompleted, StatusRunning))
	assert.False(t, CanTransition(StatusPlanning, StatusPaused))
}

func TestConstraints_InActiveWindow(t *testing.T) {
	day := Constraints{ActiveHourStart: 9, ActiveHourEnd: 22}
	assert.True(t, day.InActiveWindow(9))
	assert.False(t, day.InActiveWindow(22))
	assert.False(t, day.InActiveWindow(3))

	overnight := Constraints{ActiveHourStart: 20, ActiveHourEnd: 2}
	assert.True(t, overnight.InActiveWindow(23))
	assert.True(t, overnight.InActiveWindow(1))
	assert.False(t, overnight.InActiveWindow(12))

	assert.True(t, Constraints{}.InActiveWindow(4))
}

func TestExecution_CloneIsDeep(t *testing.T) {
	e := &Execution{
		ID:             "exec-1",
		Roles:          []Role{{ID: "r1", Type: RoleProfessional}},
		Queue:          NewQueue(targets(2), t0),
		Funnel:         NewFunnel(t0),
		MessageHistory: []MessageRecord{{ID: "m1", UserID: "u1"}},
		LastAnalysis:   &Analysis{Interests: []string{"price"}},
	}
	c := e.Clone()
	c.Roles[0].Name = "changed"
	c.MessageHistory[0].Content = "changed"
	c.Queue.CurrentUser.MessagesExchanged = 9
	c.LastAnalysis.Interests[0] = "changed"

	assert.Empty(t, e.Roles[0].Name)
	assert.Empty(t, e.MessageHistory[0].Content)
	assert.Equal(t, 0, e.Queue.CurrentUser.MessagesExchanged)
	assert.Equal(t, "price", e.LastAnalysis.Interests[0])
}

func TestSnapshot_PreservesExecution(t *testing.T) {
	e := &Execution{
		ID:        "exec-1",
		Status:    StatusRunning,
		Goal:      "跟進這批潛在客戶進行銷售轉化",
		Intent:    GoalIntent{Category: CategorySalesConversion},
		Mode:      ModeHybrid,
		Queue:     NewQueue(targets(1), t0),
		Funnel:    NewFunnel(t0),
		UpdatedAt: t0,
	}
	snap, err := NewSnapshot(e)
	require.NoError(t, err)
	assert.Equal(t, CategorySalesConversion, snap.Category)
	assert.True(t, snap.IsActive())

	back, err := snap.Execution()
	require.NoError(t, err)
	assert.Equal(t, e.Goal, back.Goal)
	assert.Equal(t, "u1", back.Queue.CurrentUser.ID)
}

func TestAccount_Priority(t *testing.T) {
	assert.Less(t, AccountRoleAI.Priority(), AccountRoleSender.Priority())
	assert.Less(t, AccountRoleSender.Priority(), AccountRoleListener.Priority())
	assert.True(t, Account{Status: AccountOffline}.IsUsableOffline())
	assert.False(t, Account{Status: AccountError}.IsUsableOffline())
}
