package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/convoflow/internal/domain"
	"github.com/ignite/convoflow/internal/pkg/logger"
	"github.com/ignite/convoflow/internal/reply"
)

const scriptedFallbackLine = "你好！最近有個不錯的消息想跟你分享，有空聊聊嗎？"

// outbound is one message ready to hand to the messenger.
type outbound struct {
	userID     string
	role       domain.Role
	accountID  string
	content    string
	firstTouch bool
	// composed lines are not yet in the conversation context.
	composed      bool
	handoffReason string
}

// HandleInbound records a reply from a target user. Replies from the active
// user advance the funnel, resolve the reply wait and schedule an answer.
// Replies from anyone else are only recorded.
func (o *Orchestrator) HandleInbound(ctx context.Context, in Inbound) (Signal, error) {
	text := strings.TrimSpace(in.Text)
	if in.CustomerID == "" || text == "" {
		return Signal{}, fmt.Errorf("%w: customer_id and text are required", ErrInvalidRequest)
	}
	rt := o.runtime(in.ExecutionID)
	if rt == nil {
		return Signal{}, ErrNotFound
	}

	signal := DetectConversionSignal(text)
	now := o.now()

	rt.mu.Lock()
	e := rt.exec
	if e.IsTerminal() {
		rt.mu.Unlock()
		return signal, fmt.Errorf("%w: execution completed", ErrInvalidTransition)
	}
	rec := domain.MessageRecord{
		ID:        uuid.New().String(),
		From:      domain.SenderUser,
		UserID:    in.CustomerID,
		Content:   text,
		Timestamp: now,
	}
	if signal.Detected() {
		rec.Signal = string(signal.Tier)
	}
	e.MessageHistory = append(e.MessageHistory, rec)

	cur := e.Queue.CurrentUser
	if cur == nil || cur.ID != in.CustomerID {
		o.commitLocked(ctx, rt)
		logger.Info("inbound from inactive user recorded", "execution_id", e.ID, "user_id", in.CustomerID)
		return signal, nil
	}

	if cur.Name == "" && in.FirstName != "" {
		cur.Name = in.FirstName
	}
	e.Stats.ResponsesReceived++
	e.Queue = e.Queue.WithExchange()
	o.metrics.MessageReceived()
	e.Funnel = e.Funnel.AdvanceTo(domain.StageResponse, len(e.MessageHistory), now)
	if signal.Detected() {
		e.Funnel = e.Funnel.WithMoment(text, string(signal.Tier), now)
		e.Funnel = e.Funnel.AdvanceTo(signal.MinStage(), len(e.MessageHistory), now)
		e.Stats.InterestScore = clampScore(e.Stats.InterestScore + signal.Score)
		o.metrics.SignalDetected(string(signal.Tier))
		o.emit(Event{Type: EventSignal, ExecutionID: e.ID, UserID: in.CustomerID, Data: map[string]any{
			"tier":    string(signal.Tier),
			"score":   signal.Score,
			"keyword": signal.Keyword,
		}})
	}
	o.emit(Event{Type: EventMessageReceived, ExecutionID: e.ID, UserID: in.CustomerID})

	// The reply resolves the wait; a pending answer is replaced by one to
	// the latest message.
	o.stopTimersLocked(rt)
	converted := o.observeMessageLocked(rt, now)

	switch {
	case e.Status != domain.StatusRunning:
	case signal.Tier == SignalConverted || converted:
		o.completeUserLocked(rt, domain.ResultConverted, now)
	case e.Queue.CurrentUser.MessagesExchanged >= o.cfg.MaxTurnsPerUser:
		o.completeUserLocked(rt, domain.ResultMaxTurns, now)
	default:
		o.scheduleRespondLocked(rt, in.CustomerID, text)
	}
	o.commitLocked(ctx, rt)
	return signal, nil
}

func (o *Orchestrator) scheduleFirstTouchLocked(rt *runtime) {
	cur := rt.exec.Queue.CurrentUser
	if cur == nil {
		return
	}
	id, userID := rt.exec.ID, cur.ID
	rt.sendTimer = o.sched.AfterFunc(o.staggerDelay(), func() { o.runFirstTouch(id, userID) })
}

func (o *Orchestrator) scheduleRespondLocked(rt *runtime, userID, text string) {
	id := rt.exec.ID
	rt.sendTimer = o.sched.AfterFunc(o.thinkingDelay(), func() { o.runRespond(id, userID, text) })
}

// claimLocked reports whether a scheduled send for userID may go ahead now.
// Sends outside the active window or past the daily cap are re-scheduled.
func (o *Orchestrator) claimLocked(rt *runtime, userID string, retry func()) bool {
	e := rt.exec
	if e.Status != domain.StatusRunning || e.Queue.CurrentUser == nil || e.Queue.CurrentUser.ID != userID {
		return false
	}
	if wait := sendDeferral(e, o.now()); wait > 0 {
		rt.sendTimer = o.sched.AfterFunc(wait, retry)
		logger.Info("send deferred", "execution_id", e.ID, "user_id", userID, "wait", wait.String())
		return false
	}
	return true
}

func (o *Orchestrator) runFirstTouch(id, userID string) {
	rt := o.runtime(id)
	if rt == nil {
		return
	}
	ctx, cancel := o.taskContext()
	defer cancel()

	rt.mu.Lock()
	rt.sendTimer = nil
	if !o.claimLocked(rt, userID, func() { o.runFirstTouch(id, userID) }) {
		rt.mu.Unlock()
		return
	}
	e := rt.exec
	role, accountID, ok := o.selectRoleLocked(rt)
	if !ok {
		o.warnLocked(rt, "no matched account can send; waiting for rematch")
		o.commitLocked(ctx, rt)
		return
	}
	phase, _ := e.Strategy.PhaseAt(e.Stats.CurrentPhase)
	req := reply.PersonaRequest{
		Role:         role,
		Phase:        &phase,
		Goal:         e.Goal,
		UserID:       userID,
		UserName:     e.Queue.CurrentUser.Name,
		IsFirstTouch: true,
		Constraints:  e.Strategy.Constraints,
		Provider:     o.replyCfg.Provider,
	}
	mode := e.Mode
	phaseIndex := e.Stats.CurrentPhase
	sent := roleMessageCount(e, role.ID, userID)
	rt.mu.Unlock()

	var content string
	if mode == domain.ModeScriptless {
		content = o.compose(ctx, req)
	} else {
		content = scriptedLine(role, phaseIndex, sent)
	}
	o.deliver(ctx, rt, outbound{
		userID:     userID,
		role:       role,
		accountID:  accountID,
		content:    content,
		firstTouch: true,
		composed:   true,
	})
}

func (o *Orchestrator) runRespond(id, userID, text string) {
	rt := o.runtime(id)
	if rt == nil {
		return
	}
	ctx, cancel := o.taskContext()
	defer cancel()

	rt.mu.Lock()
	rt.sendTimer = nil
	if !o.claimLocked(rt, userID, func() { o.runRespond(id, userID, text) }) {
		rt.mu.Unlock()
		return
	}
	e := rt.exec
	role, accountID, ok := o.selectRoleLocked(rt)
	if !ok {
		o.warnLocked(rt, "no matched account can send; waiting for rematch")
		o.commitLocked(ctx, rt)
		return
	}
	phaseIndex := e.Stats.CurrentPhase
	mode := e.Mode
	userName := e.Queue.CurrentUser.Name
	sent := roleMessageCount(e, role.ID, userID)
	rt.mu.Unlock()

	msg := outbound{userID: userID, role: role, accountID: accountID}
	if mode == domain.ModeScripted {
		o.classifier.RecognizeIntent(ctx, text, userID, true)
		msg.content = scriptedLine(role, phaseIndex, sent)
		msg.composed = true
		if o.classifier.ShouldHandoffToHuman(userID) {
			msg.handoffReason = "conversation_stage"
		}
	} else {
		cfg := o.replyCfg.ForRole(role)
		cfg.UserID = userID
		cfg.UserName = userName
		res, err := o.generator.GenerateReply(ctx, text, cfg)
		if err != nil {
			logger.Error("reply generation failed", "execution_id", id, "user_id", userID, "error", err.Error())
			rt.mu.Lock()
			if rt.exec.Status == domain.StatusRunning {
				o.armWaitLocked(rt, userID)
			}
			o.commitLocked(ctx, rt)
			return
		}
		// The thinking delay already elapsed before this task ran and stands
		// in for res.Delay; the reply goes out now.
		msg.content = res.Content
		if res.ShouldHandoff {
			msg.handoffReason = res.HandoffReason
		}
	}
	o.deliver(ctx, rt, msg)
}

func (o *Orchestrator) compose(ctx context.Context, req reply.PersonaRequest) string {
	content, err := o.generator.Compose(ctx, req)
	if err != nil || strings.TrimSpace(content) == "" {
		return scriptedLine(req.Role, 0, 0)
	}
	return content
}

// deliver sends msg and records it. A failed send still arms the reply wait
// so the user is eventually skipped.
func (o *Orchestrator) deliver(ctx context.Context, rt *runtime, msg outbound) {
	err := o.messenger.Send(ctx, SendRequest{
		ExecutionID:  rt.exec.ID,
		AccountID:    msg.accountID,
		RoleID:       msg.role.ID,
		TargetUserID: msg.userID,
		Content:      msg.content,
		IsFirstTouch: msg.firstTouch,
	})
	now := o.now()

	rt.mu.Lock()
	e := rt.exec
	if e.IsTerminal() || e.Queue.CurrentUser == nil || e.Queue.CurrentUser.ID != msg.userID {
		rt.mu.Unlock()
		return
	}
	if err != nil {
		logger.Error("send failed",
			"execution_id", e.ID,
			"account_id", msg.accountID,
			"user_id", msg.userID,
			"error", err.Error(),
		)
		o.warnLocked(rt, fmt.Sprintf("send to %s failed: %v", msg.userID, err))
		if e.Status == domain.StatusRunning {
			o.armWaitLocked(rt, msg.userID)
		}
		o.commitLocked(ctx, rt)
		return
	}

	e.MessageHistory = append(e.MessageHistory, domain.MessageRecord{
		ID:        uuid.New().String(),
		From:      domain.SenderRole,
		RoleID:    msg.role.ID,
		AccountID: msg.accountID,
		UserID:    msg.userID,
		Content:   msg.content,
		Timestamp: now,
	})
	e.Stats.MessagesSent++
	day := now.Format("2006-01-02")
	if e.SentDay != day {
		e.SentDay = day
		e.SentToday = 0
	}
	e.SentToday++
	e.Queue = e.Queue.WithExchange()
	if e.ActiveRoleID == msg.role.ID {
		e.ConsecutiveRoleCount++
	} else {
		e.ActiveRoleID = msg.role.ID
		e.ConsecutiveRoleCount = 1
	}
	if msg.composed {
		o.classifier.Contexts().AppendAssistant(msg.userID, msg.content)
	}
	o.metrics.MessageSent(string(msg.role.Type))
	o.emit(Event{Type: EventMessageSent, ExecutionID: e.ID, UserID: msg.userID, Data: map[string]any{
		"role_id":     msg.role.ID,
		"account_id":  msg.accountID,
		"first_touch": msg.firstTouch,
	}})

	converted := o.observeMessageLocked(rt, now)
	switch {
	case e.Status != domain.StatusRunning:
	case converted:
		o.completeUserLocked(rt, domain.ResultConverted, now)
	case msg.handoffReason != "":
		o.notifier.Notify(ctx, NotifyInfo, fmt.Sprintf("campaign %s: user %s handed to an operator (%s)", e.ID, msg.userID, msg.handoffReason))
		o.completeUserLocked(rt, domain.ResultHandoff, now)
	case e.Queue.CurrentUser.MessagesExchanged >= o.cfg.MaxTurnsPerUser:
		o.completeUserLocked(rt, domain.ResultMaxTurns, now)
	default:
		o.armWaitLocked(rt, msg.userID)
	}
	o.commitLocked(ctx, rt)
}

// armWaitLocked starts the reply wait for userID. Only the newest wait can
// resolve; replies and re-arms invalidate older ones.
func (o *Orchestrator) armWaitLocked(rt *runtime, userID string) {
	if rt.waitTimer != nil {
		rt.waitTimer.Stop()
	}
	rt.waitGen++
	gen, id := rt.waitGen, rt.exec.ID
	rt.waitTimer = o.sched.AfterFunc(o.cfg.ReplyTimeout(), func() { o.onReplyTimeout(id, userID, gen) })
}

func (o *Orchestrator) onReplyTimeout(id, userID string, gen uint64) {
	rt := o.runtime(id)
	if rt == nil {
		return
	}
	rt.mu.Lock()
	e := rt.exec
	if gen != rt.waitGen || e.Status != domain.StatusRunning || e.Queue.CurrentUser == nil || e.Queue.CurrentUser.ID != userID {
		rt.mu.Unlock()
		return
	}
	rt.waitTimer = nil
	logger.Info("reply wait timed out", "execution_id", id, "user_id", userID)
	o.completeUserLocked(rt, domain.ResultNoResponse, o.now())
	o.commitLocked(o.ctx, rt)
}

// completeUserLocked records the active user's outcome and moves the queue
// on. An exhausted queue finishes the campaign.
func (o *Orchestrator) completeUserLocked(rt *runtime, result string, now time.Time) {
	e := rt.exec
	var done domain.CompletedUser
	if result == domain.ResultNoResponse {
		e.Queue, done = e.Queue.SkipCurrentUser(e.Funnel.CurrentStage, now)
	} else {
		e.Queue, done = e.Queue.CompleteCurrentUser(result, e.Funnel.CurrentStage, now)
	}
	if done.ID == "" {
		return
	}
	o.stopTimersLocked(rt)
	o.classifier.Contexts().Clear(done.ID)
	o.metrics.UserCompleted(result)
	o.emit(Event{Type: EventUserCompleted, ExecutionID: e.ID, UserID: done.ID, Data: map[string]any{
		"result":      result,
		"messages":    done.MessagesExchanged,
		"final_stage": string(done.FinalStage),
	}})
	logger.Info("target user completed",
		"execution_id", e.ID,
		"user_id", done.ID,
		"result", result,
		"processed", e.Queue.ProcessedUsers,
		"total", e.Queue.TotalUsers,
	)

	if e.Queue.Exhausted() {
		o.finishLocked(rt, now)
		return
	}
	// The funnel and the interest score describe one user at a time.
	e.Funnel = domain.NewFunnel(now)
	e.Stats.InterestScore = 0
	e.UnanalyzedMessages = 0
	e.LastAnalysis = nil
	if e.Status == domain.StatusRunning {
		o.scheduleFirstTouchLocked(rt)
	}
}

func (o *Orchestrator) finishLocked(rt *runtime, now time.Time) {
	e := rt.exec
	o.stopTimersLocked(rt)
	e.Status = domain.StatusCompleted
	e.CompletedAt = &now
	rt.finishing = true
}

// afterFinish publishes the final report, then archives the transcript and
// gives up ownership in the background.
func (o *Orchestrator) afterFinish(rt *runtime, e *domain.Execution) {
	o.metrics.ExecutionCompleted()
	report := finalReport(e)
	o.emit(Event{Type: EventCompleted, ExecutionID: e.ID, Data: map[string]any{
		"processed":   e.Queue.ProcessedUsers,
		"total":       e.Queue.TotalUsers,
		"final_stage": string(e.Funnel.CurrentStage),
		"sent":        e.Stats.MessagesSent,
		"received":    e.Stats.ResponsesReceived,
	}})
	o.notifier.Notify(o.ctx, NotifyInfo, report)
	logger.Info("campaign completed",
		"execution_id", e.ID,
		"processed", e.Queue.ProcessedUsers,
		"final_stage", string(e.Funnel.CurrentStage),
	)

	rt.mu.Lock()
	lock := rt.lock
	rt.lock = nil
	rt.mu.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), taskTimeout)
		defer cancel()
		if o.archiver != nil {
			if err := o.archiver.ArchiveExecution(ctx, e); err != nil {
				logger.Error("archive execution failed", "execution_id", e.ID, "error", err.Error())
			}
		}
		if lock != nil {
			if err := lock.Release(ctx); err != nil {
				logger.Warn("release campaign lock failed", "execution_id", e.ID, "error", err.Error())
			}
		}
	}()
}

func finalReport(e *domain.Execution) string {
	results := map[string]int{}
	for _, u := range e.Queue.CompletedUsers {
		results[u.Result]++
	}
	var parts []string
	for _, r := range []string{domain.ResultConverted, domain.ResultHandoff, domain.ResultMaxTurns, domain.ResultNoResponse, domain.ResultStopped} {
		if n := results[r]; n > 0 {
			parts = append(parts, fmt.Sprintf("%s=%d", r, n))
		}
	}
	return fmt.Sprintf("campaign %s completed: %d/%d users processed, funnel at %s, %d sent, %d received [%s]",
		e.ID, e.Queue.ProcessedUsers, e.Queue.TotalUsers, e.Funnel.CurrentStage,
		e.Stats.MessagesSent, e.Stats.ResponsesReceived, strings.Join(parts, " "))
}

// rearmLocked re-creates the pending work of a running execution after a
// resume, rematch or restore.
func (o *Orchestrator) rearmLocked(rt *runtime) {
	e := rt.exec
	o.stopTimersLocked(rt)
	cur := e.Queue.CurrentUser
	if cur == nil {
		if e.Queue.Exhausted() {
			o.finishLocked(rt, o.now())
		}
		return
	}
	history := e.UserHistory(cur.ID)
	switch {
	case len(history) == 0:
		o.scheduleFirstTouchLocked(rt)
	case history[len(history)-1].From == domain.SenderUser:
		o.scheduleRespondLocked(rt, cur.ID, history[len(history)-1].Content)
	default:
		o.armWaitLocked(rt, cur.ID)
	}
}

// observeMessageLocked counts a message toward the next analysis and runs it
// when due. It reports whether analysis moved the funnel to conversion.
func (o *Orchestrator) observeMessageLocked(rt *runtime, now time.Time) bool {
	e := rt.exec
	e.UnanalyzedMessages++
	if e.Status != domain.StatusRunning || e.UnanalyzedMessages < o.cfg.AnalysisInterval {
		return false
	}
	return o.runAnalysisLocked(rt, now)
}

func (o *Orchestrator) runAnalysisLocked(rt *runtime, now time.Time) bool {
	e := rt.exec
	a := analyze(e, now)
	e.UnanalyzedMessages = 0
	e.Stats.AnalysisCount++

	before := e.Funnel.CurrentStage
	e.Funnel = e.Funnel.AdvanceTo(funnelStep(before, a), len(e.MessageHistory), now)
	converted := before != domain.StageConversion && e.Funnel.CurrentStage == domain.StageConversion

	kind, roleID, reason := decideAdjustment(e, a)
	a.Adjustment = kind
	a.RecommendedRoleID = roleID
	a.Reason = reason
	e.LastAnalysis = &a
	o.emit(Event{Type: EventAnalysis, ExecutionID: e.ID, Data: map[string]any{
		"engagement": string(a.Engagement),
		"sentiment":  string(a.Sentiment),
		"readiness":  a.Readiness,
		"stage":      string(e.Funnel.CurrentStage),
	}})
	if kind == domain.AdjustNone {
		return converted
	}

	e.Stats.AutoAdjustments++
	switch kind {
	case domain.AdjustAdvance:
		e.Stats.CurrentPhase++
	default:
		e.ActiveRoleID = roleID
		e.ConsecutiveRoleCount = 0
	}
	adj := Adjustment{
		ExecutionID: e.ID,
		Kind:        kind,
		RoleID:      roleID,
		Phase:       e.Stats.CurrentPhase,
		Reason:      reason,
		At:          now,
	}
	o.metrics.AdjustmentApplied(string(kind))
	o.emit(Event{Type: EventAdjustment, ExecutionID: e.ID, Data: map[string]any{
		"kind":    string(kind),
		"role_id": roleID,
		"phase":   adj.Phase,
		"reason":  reason,
	}})
	logger.Info("auto adjustment applied",
		"execution_id", e.ID,
		"kind", string(kind),
		"role_id", roleID,
		"phase", adj.Phase,
		"reason", reason,
	)
	go func() {
		ctx, cancel := o.taskContext()
		defer cancel()
		if err := o.messenger.ReportAdjustment(ctx, adj); err != nil {
			logger.Warn("report adjustment failed", "execution_id", adj.ExecutionID, "error", err.Error())
		}
	}()
	return converted
}

// selectRoleLocked picks the speaking role: the analysis recommendation,
// then the professional role once interest shows, then the phase's focus
// roles, then whoever spoke last. A role that spoke too many times in a row
// hands over to the next matched role.
func (o *Orchestrator) selectRoleLocked(rt *runtime) (domain.Role, string, bool) {
	e := rt.exec
	var candidates []domain.Role
	for _, r := range e.Roles {
		if _, ok := e.AccountFor(r.ID); ok {
			candidates = append(candidates, r)
		}
	}
	if len(candidates) == 0 {
		return domain.Role{}, "", false
	}

	pick := -1
	find := func(match func(domain.Role) bool) {
		if pick >= 0 {
			return
		}
		for i, r := range candidates {
			if match(r) {
				pick = i
				return
			}
		}
	}
	if a := e.LastAnalysis; a != nil && a.RecommendedRoleID != "" {
		find(func(r domain.Role) bool { return r.ID == a.RecommendedRoleID })
	}
	if st := e.Funnel.CurrentStage; st == domain.StageInterest || st == domain.StageIntent {
		find(func(r domain.Role) bool { return r.Type == domain.RoleProfessional })
	}
	if phase, ok := e.Strategy.PhaseAt(e.Stats.CurrentPhase); ok {
		for _, t := range phase.FocusRoles {
			t := t
			find(func(r domain.Role) bool { return r.Type == t })
		}
	}
	find(func(r domain.Role) bool { return r.ID == e.ActiveRoleID })
	if pick < 0 {
		pick = 0
	}

	limit := e.Strategy.Constraints.MaxConsecutiveSame
	if limit <= 0 {
		limit = maxConsecutiveRole
	}
	if candidates[pick].ID == e.ActiveRoleID && e.ConsecutiveRoleCount >= limit && len(candidates) > 1 {
		pick = (pick + 1) % len(candidates)
	}
	role := candidates[pick]
	accountID, _ := e.AccountFor(role.ID)
	return role, accountID, true
}

func (o *Orchestrator) warnLocked(rt *runtime, msg string) {
	e := rt.exec
	e.Warnings = append(e.Warnings, msg)
	o.emit(Event{Type: EventWarning, ExecutionID: e.ID, Data: map[string]any{"message": msg}})
	logger.Warn("campaign warning", "execution_id", e.ID, "message", msg)
}

// sendDeferral returns how long a send must wait for the active window or
// the daily cap. Zero means send now.
func sendDeferral(e *domain.Execution, now time.Time) time.Duration {
	c := e.Strategy.Constraints
	if !c.InActiveWindow(now.Hour()) {
		next := time.Date(now.Year(), now.Month(), now.Day(), c.ActiveHourStart, 0, 0, 0, now.Location())
		if !next.After(now) {
			next = next.AddDate(0, 0, 1)
		}
		return next.Sub(now)
	}
	if c.DailyMessageCap > 0 && e.SentDay == now.Format("2006-01-02") && e.SentToday >= c.DailyMessageCap {
		start := 0
		if c.ActiveHourStart != c.ActiveHourEnd {
			start = c.ActiveHourStart
		}
		next := time.Date(now.Year(), now.Month(), now.Day()+1, start, 0, 0, 0, now.Location())
		return next.Sub(now)
	}
	return 0
}

func roleMessageCount(e *domain.Execution, roleID, userID string) int {
	n := 0
	for _, m := range e.MessageHistory {
		if m.From == domain.SenderRole && m.RoleID == roleID && m.UserID == userID {
			n++
		}
	}
	return n
}

// scriptedLine returns the scripted message for the n-th line a role sends
// to a user. Later phases start further into the role's samples.
func scriptedLine(role domain.Role, phase, n int) string {
	if len(role.SampleMessages) == 0 {
		return scriptedFallbackLine
	}
	return role.SampleMessages[(phase+n)%len(role.SampleMessages)]
}
