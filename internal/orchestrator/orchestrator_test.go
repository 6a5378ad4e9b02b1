package orchestrator

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/convoflow/internal/account"
	"github.com/ignite/convoflow/internal/config"
	"github.com/ignite/convoflow/internal/domain"
	"github.com/ignite/convoflow/internal/intent"
	"github.com/ignite/convoflow/internal/matcher"
	"github.com/ignite/convoflow/internal/metrics"
	"github.com/ignite/convoflow/internal/provider"
	"github.com/ignite/convoflow/internal/reply"
	"github.com/ignite/convoflow/internal/storage"
)

const salesGoal = "提升產品銷售轉化"

var noon = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// scriptChat answers classification prompts with unparseable text, so the
// keyword rules decide, and everything else with a fixed line.
type scriptChat struct{}

func (scriptChat) Chat(_ context.Context, _ []provider.Message, opts provider.Options) (*provider.Response, error) {
	if strings.Contains(opts.SystemPrompt, "You classify chat messages") {
		return &provider.Response{Content: "unavailable"}, nil
	}
	return &provider.Response{Content: "了解！我再跟你說明一下"}, nil
}

type fixedRand struct{}

func (fixedRand) Float64() float64 { return 0.99 }
func (fixedRand) Intn(int) int     { return 0 }

type fakeMessenger struct {
	mu          sync.Mutex
	sent        []SendRequest
	adjustments []Adjustment
	err         error
}

func (m *fakeMessenger) Send(_ context.Context, req SendRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, req)
	return nil
}

func (m *fakeMessenger) ReportAdjustment(_ context.Context, adj Adjustment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.adjustments = append(m.adjustments, adj)
	return nil
}

func (m *fakeMessenger) Sent() []SendRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SendRequest(nil), m.sent...)
}

func (m *fakeMessenger) Adjustments() []Adjustment {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Adjustment(nil), m.adjustments...)
}

type notice struct {
	level NotifyLevel
	msg   string
}

type fakeNotifier struct {
	mu      sync.Mutex
	notices []notice
}

func (n *fakeNotifier) Notify(_ context.Context, level NotifyLevel, msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice{level, msg})
}

func (n *fakeNotifier) Levels() []NotifyLevel {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []NotifyLevel
	for _, x := range n.notices {
		out = append(out, x.level)
	}
	return out
}

type fakeArchiver struct {
	mu  sync.Mutex
	ids []string
}

func (a *fakeArchiver) ArchiveExecution(_ context.Context, e *domain.Execution) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ids = append(a.ids, e.ID)
	return nil
}

func (a *fakeArchiver) IDs() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.ids...)
}

type harness struct {
	o        *Orchestrator
	sched    *ManualScheduler
	msgr     *fakeMessenger
	notes    *fakeNotifier
	archive  *fakeArchiver
	store    *storage.MemoryStore
	registry *account.Registry
	clock    *testClock
	settings Settings
}

var threeAccounts = []config.AccountConfig{
	{ID: "acc-1", Name: "小美"},
	{ID: "acc-2", Name: "阿強"},
	{ID: "acc-3", Name: "王顧問"},
}

func newHarness(t *testing.T, accounts []config.AccountConfig, tweak ...func(*Settings)) *harness {
	t.Helper()
	h := &harness{
		sched:    &ManualScheduler{},
		msgr:     &fakeMessenger{},
		notes:    &fakeNotifier{},
		archive:  &fakeArchiver{},
		store:    storage.NewMemoryStore(),
		registry: account.NewRegistry(accounts),
		clock:    &testClock{now: noon},
		settings: Settings{Engine: config.OrchestratorConfig{ActiveHourStart: 9, ActiveHourEnd: 22}},
	}
	for _, fn := range tweak {
		fn(&h.settings)
	}
	h.o = h.build()
	t.Cleanup(func() { h.o.Shutdown(context.Background()) })
	return h
}

func (h *harness) build() *Orchestrator {
	contexts := intent.NewContextStore()
	classifier := intent.NewClassifier(scriptChat{}, contexts)
	return New(Deps{
		Classifier: classifier,
		Generator:  reply.NewGenerator(scriptChat{}, classifier, reply.WithRandom(fixedRand{})),
		Matcher:    matcher.New(h.registry, matcher.DefaultMinScore),
		Messenger:  h.msgr,
		Notifier:   h.notes,
		Store:      h.store,
		Archiver:   h.archive,
		Metrics:    metrics.New(),
		Scheduler:  h.sched,
		Now:        h.clock.Now,
		Rand:       rand.New(rand.NewSource(7)),
	}, h.settings)
}

func (h *harness) start(t *testing.T, mode domain.Mode, users ...string) *domain.Execution {
	t.Helper()
	var targets []domain.TargetUser
	for _, u := range users {
		targets = append(targets, domain.TargetUser{ID: u})
	}
	e, err := h.o.StartFromOnePhrase(context.Background(), StartRequest{Goal: salesGoal, TargetUsers: targets, Mode: mode})
	require.NoError(t, err)
	return e
}

func (h *harness) get(t *testing.T, id string) *domain.Execution {
	t.Helper()
	e, err := h.o.Get(id)
	require.NoError(t, err)
	require.True(t, e.Queue.Consistent(), "queue counts out of balance: %+v", e.Queue)
	return e
}

func (h *harness) inbound(t *testing.T, id, user, text string) Signal {
	t.Helper()
	sig, err := h.o.HandleInbound(context.Background(), Inbound{ExecutionID: id, CustomerID: user, Text: text})
	require.NoError(t, err)
	return sig
}

func (h *harness) pendingDelay(t *testing.T) time.Duration {
	t.Helper()
	pending := h.sched.Pending()
	require.Len(t, pending, 1)
	return pending[0].Delay
}

func TestStartFromOnePhrase_SalesPlan(t *testing.T) {
	h := newHarness(t, threeAccounts)
	events := make(chan Event, 32)
	h.o.Subscribe(events)

	e := h.start(t, domain.ModeScriptless, "u1", "u2")

	assert.Equal(t, domain.StatusRunning, e.Status)
	assert.Equal(t, domain.CategorySalesConversion, e.Intent.Category)
	assert.Len(t, e.Strategy.Phases, 4)
	require.Len(t, e.Roles, 3)
	assert.Len(t, e.AccountMatches, 3)
	assert.Equal(t, domain.StageContact, e.Funnel.CurrentStage)
	assert.Equal(t, 2, e.Queue.TotalUsers)
	require.NotNil(t, e.Queue.CurrentUser)
	assert.Equal(t, "u1", e.Queue.CurrentUser.ID)
	assert.Equal(t, []string{"u2"}, e.Queue.PendingUsers)

	delay := h.pendingDelay(t)
	assert.GreaterOrEqual(t, delay, 100*time.Millisecond)
	assert.LessOrEqual(t, delay, 300*time.Millisecond)

	ev := <-events
	assert.Equal(t, EventStarted, ev.Type)
	assert.Equal(t, e.ID, ev.ExecutionID)

	snap, ok := h.store.Get(e.ID)
	require.True(t, ok)
	assert.Equal(t, domain.StatusRunning, snap.Status)
}

func TestStartFromOnePhrase_FollowUpLeadsGoal(t *testing.T) {
	h := newHarness(t, threeAccounts)
	e, err := h.o.StartFromOnePhrase(context.Background(), StartRequest{
		Goal:        "跟進這批潛在客戶進行銷售轉化",
		TargetUsers: []domain.TargetUser{{ID: "u1"}, {ID: "u2"}},
		Mode:        domain.ModeScriptless,
	})
	require.NoError(t, err)

	assert.Equal(t, domain.CategorySalesConversion, e.Intent.Category)
	var phases []string
	for _, p := range e.Strategy.Phases {
		phases = append(phases, p.Name)
	}
	assert.Equal(t, []string{"rapport", "discovery", "value", "closing"}, phases)
	var types []domain.RoleType
	for _, r := range e.Roles {
		types = append(types, r.Type)
	}
	assert.Equal(t, []domain.RoleType{domain.RoleAtmosphere, domain.RoleEndorsement, domain.RoleProfessional}, types)
}

func TestStartFromOnePhrase_FirstTouchOnlyToCurrentUser(t *testing.T) {
	h := newHarness(t, threeAccounts)
	e := h.start(t, domain.ModeScriptless, "u1", "u2", "u3")

	require.True(t, h.sched.RunNext())
	sent := h.msgr.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "u1", sent[0].TargetUserID)
	assert.True(t, sent[0].IsFirstTouch)
	assert.Equal(t, "atmosphere-1", sent[0].RoleID)
	acc, ok := h.get(t, e.ID).AccountFor("atmosphere-1")
	require.True(t, ok)
	assert.Equal(t, acc, sent[0].AccountID)
	assert.NotEmpty(t, sent[0].Content)

	// Only the reply wait is left; nobody else was contacted.
	assert.Equal(t, 10*time.Minute, h.pendingDelay(t))
	got := h.get(t, e.ID)
	assert.Equal(t, 1, got.Stats.MessagesSent)
	assert.Equal(t, 1, got.Queue.CurrentUser.MessagesExchanged)
}

func TestStartFromOnePhrase_ResourceShortage(t *testing.T) {
	h := newHarness(t, nil)

	e, err := h.o.StartFromOnePhrase(context.Background(), StartRequest{
		Goal:        salesGoal,
		TargetUsers: []domain.TargetUser{{ID: "u1"}, {ID: "u2"}, {ID: "u3"}},
	})
	assert.Nil(t, e)
	assert.ErrorIs(t, err, ErrResourceShortage)
	assert.Contains(t, h.notes.Levels(), NotifyError)
	assert.Empty(t, h.o.List())
}

func TestStartFromOnePhrase_SingleTargetWaitsForRematch(t *testing.T) {
	h := newHarness(t, nil)

	e := h.start(t, domain.ModeScriptless, "solo")
	assert.Equal(t, domain.StatusPlanning, e.Status)
	assert.Len(t, e.Roles, 1)
	assert.Equal(t, 1, e.Queue.TotalUsers)
	assert.NotEmpty(t, e.Warnings)
	assert.Empty(t, h.sched.Pending())

	h.registry.Upsert(domain.Account{ID: "late", Name: "小美", Status: domain.AccountOnline, Role: domain.AccountRoleSender})
	e, err := h.o.Rematch(context.Background(), e.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRunning, e.Status)
	require.Len(t, e.AccountMatches, 1)
	assert.Equal(t, "late", e.AccountMatches[0].AccountID)
	assert.Len(t, h.sched.Pending(), 1)
}

func TestStartFromOnePhrase_InvalidRequests(t *testing.T) {
	h := newHarness(t, threeAccounts)
	ctx := context.Background()

	_, err := h.o.StartFromOnePhrase(ctx, StartRequest{Goal: "  ", TargetUsers: []domain.TargetUser{{ID: "u1"}}})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = h.o.StartFromOnePhrase(ctx, StartRequest{Goal: salesGoal})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = h.o.StartFromOnePhrase(ctx, StartRequest{Goal: salesGoal, TargetUsers: []domain.TargetUser{{ID: "u1"}}, Mode: "freestyle"})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestStartFromOnePhrase_DeduplicatesTargets(t *testing.T) {
	h := newHarness(t, threeAccounts)
	e := h.start(t, domain.ModeScriptless, "u1", "u1", "u2")
	assert.Equal(t, 2, e.Queue.TotalUsers)
}

func TestHandleInbound_PriceSignal(t *testing.T) {
	h := newHarness(t, threeAccounts)
	e := h.start(t, domain.ModeScriptless, "u1", "u2")
	require.True(t, h.sched.RunNext())

	sig := h.inbound(t, e.ID, "u1", "這個多少錢？")
	assert.Equal(t, SignalMedium, sig.Tier)
	assert.Equal(t, 60, sig.Score)

	got := h.get(t, e.ID)
	assert.Equal(t, domain.StageInterest, got.Funnel.CurrentStage)
	assert.Equal(t, 60, got.Stats.InterestScore)
	assert.Equal(t, 1, got.Stats.ResponsesReceived)
	require.Len(t, got.Funnel.KeyMoments, 1)
	assert.Equal(t, "medium", got.Funnel.KeyMoments[0].Trigger)

	// The wait is resolved and an answer is scheduled after a thinking delay.
	delay := h.pendingDelay(t)
	assert.GreaterOrEqual(t, delay, 15*time.Second)
	assert.LessOrEqual(t, delay, 45*time.Second)

	require.True(t, h.sched.RunNext())
	sent := h.msgr.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, "professional-3", sent[1].RoleID, "interest hands the chat to the product expert")
	assert.False(t, sent[1].IsFirstTouch)
	assert.Equal(t, 10*time.Minute, h.pendingDelay(t))
}

func TestRespondSendsOnThinkingDelay(t *testing.T) {
	h := newHarness(t, threeAccounts)
	e := h.start(t, domain.ModeScriptless, "u1", "u2")
	require.True(t, h.sched.RunNext())

	h.inbound(t, e.ID, "u1", "你們的產品是做什麼的？")
	delay := h.pendingDelay(t)
	assert.GreaterOrEqual(t, delay, 15*time.Second)
	assert.LessOrEqual(t, delay, 45*time.Second)

	// One timer from inbound to send; the generator's own delay adds none.
	require.True(t, h.sched.RunNext())
	require.Len(t, h.msgr.Sent(), 2)
	assert.Equal(t, 10*time.Minute, h.pendingDelay(t))
}

func TestHandleInbound_ConvertedCompletesUser(t *testing.T) {
	h := newHarness(t, threeAccounts)
	e := h.start(t, domain.ModeScriptless, "u1", "u2")
	require.True(t, h.sched.RunNext())

	sig := h.inbound(t, e.ID, "u1", "我已付款了，謝謝")
	assert.Equal(t, SignalConverted, sig.Tier)

	got := h.get(t, e.ID)
	require.Len(t, got.Queue.CompletedUsers, 1)
	assert.Equal(t, domain.ResultConverted, got.Queue.CompletedUsers[0].Result)
	assert.Equal(t, domain.StageConversion, got.Queue.CompletedUsers[0].FinalStage)
	assert.Equal(t, 2, got.Queue.CompletedUsers[0].MessagesExchanged)
	require.NotNil(t, got.Queue.CurrentUser)
	assert.Equal(t, "u2", got.Queue.CurrentUser.ID)

	// Next user gets a staggered first touch.
	delay := h.pendingDelay(t)
	assert.LessOrEqual(t, delay, 300*time.Millisecond)
}

func TestNextUserStartsWithFreshFunnel(t *testing.T) {
	h := newHarness(t, threeAccounts)
	e := h.start(t, domain.ModeScriptless, "u1", "u2")
	require.True(t, h.sched.RunNext())

	h.inbound(t, e.ID, "u1", "我已付款了")

	got := h.get(t, e.ID)
	require.NotNil(t, got.Queue.CurrentUser)
	assert.Equal(t, "u2", got.Queue.CurrentUser.ID)
	assert.Equal(t, domain.StageContact, got.Funnel.CurrentStage)
	assert.Equal(t, 0, got.Stats.InterestScore)
	assert.Equal(t, 0, got.UnanalyzedMessages)
	assert.Nil(t, got.LastAnalysis)

	// u2 never answers; its outcome must not inherit u1's conversion.
	require.True(t, h.sched.RunNext())
	require.Equal(t, 10*time.Minute, h.pendingDelay(t))
	require.True(t, h.sched.RunNext())

	got = h.get(t, e.ID)
	require.Len(t, got.Queue.CompletedUsers, 2)
	assert.Equal(t, domain.StageConversion, got.Queue.CompletedUsers[0].FinalStage)
	assert.Equal(t, "u2", got.Queue.CompletedUsers[1].ID)
	assert.Equal(t, domain.ResultNoResponse, got.Queue.CompletedUsers[1].Result)
	assert.Equal(t, domain.StageContact, got.Queue.CompletedUsers[1].FinalStage)
}

func TestAnalyzeReadsOnlyCurrentUser(t *testing.T) {
	e := &domain.Execution{
		Queue: domain.Queue{CurrentUser: &domain.QueueUser{ID: "u2"}},
		MessageHistory: []domain.MessageRecord{
			{UserID: "u1", From: domain.SenderUser, Content: "太貴了"},
			{UserID: "u1", From: domain.SenderUser, Content: "怎麼買？"},
			{UserID: "u2", From: domain.SenderUser, Content: "你好"},
		},
	}
	a := analyze(e, noon)
	assert.Empty(t, a.Objections)
	assert.Empty(t, a.Interests)
}

func TestHandleInbound_LastUserFinishesCampaign(t *testing.T) {
	h := newHarness(t, threeAccounts)
	e := h.start(t, domain.ModeScriptless, "u1")
	require.True(t, h.sched.RunNext())

	h.inbound(t, e.ID, "u1", "已轉帳")

	got := h.get(t, e.ID)
	assert.Equal(t, domain.StatusCompleted, got.Status)
	require.NotNil(t, got.CompletedAt)
	assert.True(t, got.Queue.Exhausted())
	assert.Empty(t, h.sched.Pending())
	assert.Contains(t, h.notes.Levels(), NotifyInfo)
	assert.Eventually(t, func() bool { return len(h.archive.IDs()) == 1 }, time.Second, 10*time.Millisecond)

	active, err := h.store.ListActive(context.Background())
	require.NoError(t, err)
	assert.Empty(t, active)

	_, err = h.o.HandleInbound(context.Background(), Inbound{ExecutionID: e.ID, CustomerID: "u1", Text: "hello?"})
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestHandleInbound_FunnelNeverRegresses(t *testing.T) {
	h := newHarness(t, threeAccounts)
	e := h.start(t, domain.ModeScriptless, "u1", "u2")
	require.True(t, h.sched.RunNext())

	h.inbound(t, e.ID, "u1", "怎麼買？")
	assert.Equal(t, domain.StageIntent, h.get(t, e.ID).Funnel.CurrentStage)

	sig := h.inbound(t, e.ID, "u1", "算了，不需要")
	assert.Equal(t, SignalNegative, sig.Tier)
	got := h.get(t, e.ID)
	assert.Equal(t, domain.StageIntent, got.Funnel.CurrentStage)
	assert.Equal(t, 55, got.Stats.InterestScore)
}

func TestHandleInbound_UnknownAndInactive(t *testing.T) {
	h := newHarness(t, threeAccounts)
	ctx := context.Background()

	_, err := h.o.HandleInbound(ctx, Inbound{ExecutionID: "nope", CustomerID: "u1", Text: "hi"})
	assert.ErrorIs(t, err, ErrNotFound)

	e := h.start(t, domain.ModeScriptless, "u1", "u2")
	_, err = h.o.HandleInbound(ctx, Inbound{ExecutionID: e.ID, CustomerID: "u1", Text: "   "})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	// A pending user writing first is recorded without touching the queue.
	h.inbound(t, e.ID, "u2", "多少錢")
	got := h.get(t, e.ID)
	assert.Len(t, got.MessageHistory, 1)
	assert.Equal(t, 0, got.Stats.ResponsesReceived)
	assert.Equal(t, domain.StageContact, got.Funnel.CurrentStage)
	assert.Equal(t, "u1", got.Queue.CurrentUser.ID)
}

func TestReplyTimeout_SkipsToNextUser(t *testing.T) {
	h := newHarness(t, threeAccounts)
	e := h.start(t, domain.ModeScriptless, "u1", "u2")
	require.True(t, h.sched.RunNext())
	require.Equal(t, 10*time.Minute, h.pendingDelay(t))

	require.True(t, h.sched.RunNext())

	got := h.get(t, e.ID)
	require.Len(t, got.Queue.CompletedUsers, 1)
	assert.Equal(t, "u1", got.Queue.CompletedUsers[0].ID)
	assert.Equal(t, domain.ResultNoResponse, got.Queue.CompletedUsers[0].Result)
	assert.Equal(t, "u2", got.Queue.CurrentUser.ID)
	assert.Equal(t, 1, got.Queue.ProcessedUsers)
	assert.Equal(t, domain.StatusRunning, got.Status)
}

func TestReplyTimeout_StaleWaitIsIgnored(t *testing.T) {
	h := newHarness(t, threeAccounts)
	e := h.start(t, domain.ModeScriptless, "u1", "u2")
	require.True(t, h.sched.RunNext())
	h.inbound(t, e.ID, "u1", "你好")

	// A timeout from an earlier wait generation resolves to nothing.
	h.o.onReplyTimeout(e.ID, "u1", 0)
	got := h.get(t, e.ID)
	assert.Empty(t, got.Queue.CompletedUsers)
	assert.Equal(t, "u1", got.Queue.CurrentUser.ID)
}

func TestMaxTurnsCompletesUser(t *testing.T) {
	h := newHarness(t, threeAccounts, func(s *Settings) { s.Engine.MaxTurnsPerUser = 3 })
	e := h.start(t, domain.ModeScriptless, "u1", "u2")
	require.True(t, h.sched.RunNext())
	h.inbound(t, e.ID, "u1", "你好")
	require.True(t, h.sched.RunNext())

	got := h.get(t, e.ID)
	require.Len(t, got.Queue.CompletedUsers, 1)
	assert.Equal(t, domain.ResultMaxTurns, got.Queue.CompletedUsers[0].Result)
	assert.Equal(t, 3, got.Queue.CompletedUsers[0].MessagesExchanged)
	assert.Equal(t, "u2", got.Queue.CurrentUser.ID)
}

func TestPauseResumeComplete(t *testing.T) {
	h := newHarness(t, threeAccounts)
	ctx := context.Background()
	e := h.start(t, domain.ModeScriptless, "u1", "u2")
	require.True(t, h.sched.RunNext())

	paused, err := h.o.Pause(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPaused, paused.Status)
	assert.Empty(t, h.sched.Pending())

	_, err = h.o.Pause(ctx, e.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	// Inbound is still recorded while paused but nothing is scheduled.
	h.inbound(t, e.ID, "u1", "在嗎")
	assert.Empty(t, h.sched.Pending())
	assert.Len(t, h.get(t, e.ID).MessageHistory, 2)

	resumed, err := h.o.Resume(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRunning, resumed.Status)
	delay := h.pendingDelay(t)
	assert.GreaterOrEqual(t, delay, 15*time.Second, "resume answers the message received while paused")

	done, err := h.o.Complete(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, done.Status)
	assert.Empty(t, h.sched.Pending())

	_, err = h.o.Resume(ctx, e.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = h.o.Complete(ctx, e.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = h.o.Pause(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAnalysis_AdvancesPhase(t *testing.T) {
	h := newHarness(t, threeAccounts, func(s *Settings) { s.Engine.AnalysisInterval = 2 })
	events := make(chan Event, 64)
	h.o.Subscribe(events)
	e := h.start(t, domain.ModeScriptless, "u1", "u2")
	require.True(t, h.sched.RunNext())

	h.inbound(t, e.ID, "u1", "價格多少錢？")

	got := h.get(t, e.ID)
	require.NotNil(t, got.LastAnalysis)
	assert.Equal(t, domain.AdjustAdvance, got.LastAnalysis.Adjustment)
	assert.Equal(t, 75, got.LastAnalysis.Readiness)
	assert.Equal(t, domain.LevelHigh, got.LastAnalysis.Engagement)
	assert.Equal(t, 1, got.Stats.CurrentPhase)
	assert.Equal(t, 1, got.Stats.AutoAdjustments)
	assert.Equal(t, 1, got.Stats.AnalysisCount)
	assert.Equal(t, 0, got.UnanalyzedMessages)
	assert.Equal(t, domain.StageIntent, got.Funnel.CurrentStage)

	assert.Eventually(t, func() bool { return len(h.msgr.Adjustments()) == 1 }, time.Second, 10*time.Millisecond)
	adj := h.msgr.Adjustments()[0]
	assert.Equal(t, domain.AdjustAdvance, adj.Kind)
	assert.Equal(t, 1, adj.Phase)

	var kinds []EventType
	for len(events) > 0 {
		kinds = append(kinds, (<-events).Type)
	}
	assert.Contains(t, kinds, EventAnalysis)
	assert.Contains(t, kinds, EventAdjustment)
}

func TestAnalysis_PriceObjectionSwitchesToProfessional(t *testing.T) {
	h := newHarness(t, threeAccounts, func(s *Settings) { s.Engine.AnalysisInterval = 2 })
	e := h.start(t, domain.ModeScriptless, "u1", "u2")
	require.True(t, h.sched.RunNext())

	h.inbound(t, e.ID, "u1", "預算不太夠")

	got := h.get(t, e.ID)
	require.NotNil(t, got.LastAnalysis)
	assert.Equal(t, domain.AdjustObjection, got.LastAnalysis.Adjustment)
	assert.Equal(t, "professional-3", got.LastAnalysis.RecommendedRoleID)
	assert.Equal(t, "professional-3", got.ActiveRoleID)
	assert.Equal(t, 0, got.ConsecutiveRoleCount)

	require.True(t, h.sched.RunNext())
	sent := h.msgr.Sent()
	assert.Equal(t, "professional-3", sent[len(sent)-1].RoleID)
}

func TestAnalysis_MissingRoleTypeIsNoop(t *testing.T) {
	h := newHarness(t, threeAccounts, func(s *Settings) { s.Engine.AnalysisInterval = 2 })
	e := h.start(t, domain.ModeScriptless, "u1", "u2")
	require.True(t, h.sched.RunNext())

	h.inbound(t, e.ID, "u1", "不需要，太貴了")

	got := h.get(t, e.ID)
	require.NotNil(t, got.LastAnalysis)
	assert.Equal(t, domain.SentimentNegative, got.LastAnalysis.Sentiment)
	assert.Equal(t, domain.AdjustNone, got.LastAnalysis.Adjustment)
	assert.Contains(t, got.LastAnalysis.Reason, "no care role")
	assert.Equal(t, 0, got.Stats.AutoAdjustments)
	assert.Equal(t, "atmosphere-1", got.ActiveRoleID)
}

func TestScriptedModeUsesSampleMessages(t *testing.T) {
	h := newHarness(t, threeAccounts)
	h.start(t, domain.ModeScripted, "u1")
	require.True(t, h.sched.RunNext())

	sent := h.msgr.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "嗨～最近好嗎？", sent[0].Content)
}

func TestRoleRotationAfterConsecutiveUses(t *testing.T) {
	h := newHarness(t, threeAccounts)
	e := h.start(t, domain.ModeScripted, "u1", "u2")
	require.True(t, h.sched.RunNext())

	for i := 0; i < 3; i++ {
		h.inbound(t, e.ID, "u1", "嗯嗯")
		require.True(t, h.sched.RunNext())
	}
	sent := h.msgr.Sent()
	require.Len(t, sent, 4)
	for i := 0; i < 3; i++ {
		assert.Equal(t, "atmosphere-1", sent[i].RoleID)
	}
	assert.NotEqual(t, "atmosphere-1", sent[3].RoleID)
	got := h.get(t, e.ID)
	assert.Equal(t, 1, got.ConsecutiveRoleCount)
}

func TestDailyCapDefersToNextDay(t *testing.T) {
	h := newHarness(t, threeAccounts, func(s *Settings) { s.Engine.DefaultDailyCap = 1 })
	e := h.start(t, domain.ModeScriptless, "u1", "u2")
	require.True(t, h.sched.RunNext())
	h.inbound(t, e.ID, "u1", "你好")

	require.True(t, h.sched.RunNext())
	assert.Len(t, h.msgr.Sent(), 1)
	assert.Equal(t, 21*time.Hour, h.pendingDelay(t), "deferred to 09:00 tomorrow")

	h.clock.Set(noon.Add(21 * time.Hour))
	require.True(t, h.sched.RunNext())
	assert.Len(t, h.msgr.Sent(), 2)
	got := h.get(t, e.ID)
	assert.Equal(t, 1, got.SentToday)
	assert.Equal(t, "2026-03-03", got.SentDay)
}

func TestActiveWindowDefersFirstTouch(t *testing.T) {
	h := newHarness(t, threeAccounts)
	h.clock.Set(time.Date(2026, 3, 2, 23, 0, 0, 0, time.UTC))
	h.start(t, domain.ModeScriptless, "u1")

	require.True(t, h.sched.RunNext())
	assert.Empty(t, h.msgr.Sent())
	assert.Equal(t, 10*time.Hour, h.pendingDelay(t))

	h.clock.Set(time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC))
	require.True(t, h.sched.RunNext())
	assert.Len(t, h.msgr.Sent(), 1)
}

func TestSendFailureStillWaits(t *testing.T) {
	h := newHarness(t, threeAccounts)
	h.msgr.err = errors.New("gateway down")
	e := h.start(t, domain.ModeScriptless, "u1", "u2")
	require.True(t, h.sched.RunNext())

	got := h.get(t, e.ID)
	assert.Equal(t, 0, got.Stats.MessagesSent)
	assert.NotEmpty(t, got.Warnings)
	assert.Equal(t, 10*time.Minute, h.pendingDelay(t))
}

func TestRestoreAfterShutdown(t *testing.T) {
	h := newHarness(t, threeAccounts)
	e := h.start(t, domain.ModeScriptless, "u1", "u2")
	require.True(t, h.sched.RunNext())
	h.o.Shutdown(context.Background())

	h.sched = &ManualScheduler{}
	h.o = h.build()
	n, err := h.o.Restore(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got := h.get(t, e.ID)
	assert.Equal(t, domain.StatusRunning, got.Status)
	assert.Equal(t, 1, got.Stats.MessagesSent)
	assert.Equal(t, 10*time.Minute, h.pendingDelay(t), "the reply wait is re-armed")

	// A second restore in the same process is a no-op.
	n, err = h.o.Restore(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestListOrdersByCreation(t *testing.T) {
	h := newHarness(t, threeAccounts, func(s *Settings) { s.Matcher.AllowMultiRole = true })
	first := h.start(t, domain.ModeScriptless, "u1")
	h.clock.Set(noon.Add(time.Minute))
	second := h.start(t, domain.ModeScriptless, "u2")

	list := h.o.List()
	require.Len(t, list, 2)
	assert.Equal(t, first.ID, list[0].ID)
	assert.Equal(t, second.ID, list[1].ID)
}

func TestDetectConversionSignal(t *testing.T) {
	tests := []struct {
		text  string
		tier  SignalTier
		score int
	}{
		{"我已付款了", SignalConverted, 100},
		{"怎麼買比較方便", SignalHigh, 85},
		{"這個多少錢", SignalMedium, 60},
		{"太貴了，多少錢可以算便宜一點", SignalMedium, 60},
		{"聽起來不錯", SignalPositive, 40},
		{"不需要，謝謝", SignalNegative, -30},
		{"沒興趣", SignalNegative, -30},
		{"not interested", SignalNegative, -30},
		{"我不喜歡", SignalNegative, -30},
		{"我還不想買", SignalNegative, -30},
		{"I haven't paid yet", SignalNone, 0},
		{"還沒付款，價格可以再優惠嗎", SignalMedium, 60},
		{"Not interested in the price", SignalMedium, 60},
		{"今天下雨", SignalNone, 0},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			s := DetectConversionSignal(tt.text)
			assert.Equal(t, tt.tier, s.Tier)
			assert.Equal(t, tt.score, s.Score)
		})
	}
}

func TestMatchGoal(t *testing.T) {
	tests := []struct {
		goal     string
		category domain.Category
	}{
		{"提升銷售轉化", domain.CategorySalesConversion},
		{"跟進這批潛在客戶進行銷售轉化", domain.CategorySalesConversion},
		{"讓社群群組更活躍", domain.CategoryCommunityActivation},
		{"挽回流失的老客戶", domain.CategoryCustomerRetention},
		{"新品上市預購", domain.CategoryProductLaunch},
		{"隨便聊聊", domain.CategoryCustom},
		{"新品銷售", domain.CategoryCustom},
	}
	for _, tt := range tests {
		t.Run(tt.goal, func(t *testing.T) {
			g := MatchGoal(tt.goal)
			assert.Equal(t, tt.category, g.Category)
			if g.Category != domain.CategoryCustom {
				assert.Greater(t, g.Confidence, 0.5)
				assert.LessOrEqual(t, g.Confidence, 0.95)
			}
		})
	}
}

func TestSendDeferral(t *testing.T) {
	e := &domain.Execution{Strategy: domain.Strategy{Constraints: domain.Constraints{
		DailyMessageCap: 2,
		ActiveHourStart: 9,
		ActiveHourEnd:   22,
	}}}
	assert.Zero(t, sendDeferral(e, noon))
	assert.Equal(t, 2*time.Hour, sendDeferral(e, time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)))

	e.SentDay, e.SentToday = "2026-03-02", 2
	assert.Equal(t, 21*time.Hour, sendDeferral(e, noon))
	e.SentDay = "2026-03-01"
	assert.Zero(t, sendDeferral(e, noon))
}
