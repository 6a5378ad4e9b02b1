// Package orchestrator runs multi-persona outreach campaigns: it plans a
// strategy from a one-line goal, binds roles to accounts, walks the target
// queue one user at a time and re-evaluates the conversation as it goes.
package orchestrator

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/convoflow/internal/config"
	"github.com/ignite/convoflow/internal/domain"
	"github.com/ignite/convoflow/internal/intent"
	"github.com/ignite/convoflow/internal/matcher"
	"github.com/ignite/convoflow/internal/metrics"
	"github.com/ignite/convoflow/internal/pkg/distlock"
	"github.com/ignite/convoflow/internal/pkg/logger"
	"github.com/ignite/convoflow/internal/reply"
)

const taskTimeout = 2 * time.Minute

// Deps are the collaborators of an Orchestrator. Classifier, Generator and
// Matcher are required; the rest have in-process defaults.
type Deps struct {
	Classifier *intent.Classifier
	Generator  *reply.Generator
	Matcher    *matcher.Matcher
	Messenger  Messenger
	Notifier   Notifier
	Store      Store
	Archiver   Archiver
	Metrics    *metrics.Metrics
	Locks      distlock.Factory
	Scheduler  Scheduler
	Now        func() time.Time
	Rand       *rand.Rand
}

// Settings are the tunables read from configuration.
type Settings struct {
	Engine  config.OrchestratorConfig
	Matcher config.MatcherConfig
	Reply   reply.Config
}

// StartRequest is the input of StartFromOnePhrase.
type StartRequest struct {
	Goal        string              `json:"goal"`
	TargetUsers []domain.TargetUser `json:"target_users"`
	Mode        domain.Mode         `json:"mode"`
}

// Orchestrator owns every campaign run in this process.
type Orchestrator struct {
	classifier *intent.Classifier
	generator  *reply.Generator
	matcher    *matcher.Matcher
	messenger  Messenger
	notifier   Notifier
	store      Store
	archiver   Archiver
	metrics    *metrics.Metrics
	locks      distlock.Factory
	sched      Scheduler
	now        func() time.Time

	cfg      config.OrchestratorConfig
	matchCfg config.MatcherConfig
	replyCfg reply.Config

	rndMu sync.Mutex
	rnd   *rand.Rand

	mu   sync.RWMutex
	runs map[string]*runtime

	subMu       sync.RWMutex
	subscribers []chan<- Event

	ctx    context.Context
	cancel context.CancelFunc
}

// runtime is the in-process state of one execution. mu guards exec and the
// timers; saveMu orders snapshot writes. waitGen identifies the live reply
// wait so a stale timeout resolves to nothing.
type runtime struct {
	mu        sync.Mutex
	exec      *domain.Execution
	lock      distlock.DistLock
	sendTimer Timer
	waitTimer Timer
	waitGen   uint64
	version   uint64
	finishing bool

	saveMu sync.Mutex
	saved  uint64
}

// New creates an orchestrator.
func New(deps Deps, settings Settings) *Orchestrator {
	cfg := withEngineDefaults(settings.Engine)
	o := &Orchestrator{
		classifier: deps.Classifier,
		generator:  deps.Generator,
		matcher:    deps.Matcher,
		messenger:  deps.Messenger,
		notifier:   deps.Notifier,
		store:      deps.Store,
		archiver:   deps.Archiver,
		metrics:    deps.Metrics,
		locks:      deps.Locks,
		sched:      deps.Scheduler,
		now:        deps.Now,
		rnd:        deps.Rand,
		cfg:        cfg,
		matchCfg:   settings.Matcher,
		replyCfg:   settings.Reply,
		runs:       make(map[string]*runtime),
	}
	if o.messenger == nil {
		o.messenger = logMessenger{}
	}
	if o.notifier == nil {
		o.notifier = logNotifier{}
	}
	if o.locks == nil {
		o.locks = distlock.NewFactory(nil, nil, cfg.LockTTL())
	}
	if o.sched == nil {
		o.sched = realScheduler{}
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.rnd == nil {
		o.rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	o.ctx, o.cancel = context.WithCancel(context.Background())
	return o
}

func withEngineDefaults(c config.OrchestratorConfig) config.OrchestratorConfig {
	def := config.Default().Orchestrator
	if c.AnalysisInterval <= 0 {
		c.AnalysisInterval = def.AnalysisInterval
	}
	if c.ReplyTimeoutSeconds <= 0 {
		c.ReplyTimeoutSeconds = def.ReplyTimeoutSeconds
	}
	if c.MaxTurnsPerUser <= 0 {
		c.MaxTurnsPerUser = def.MaxTurnsPerUser
	}
	if c.StaggerMinMillis <= 0 {
		c.StaggerMinMillis = def.StaggerMinMillis
	}
	if c.StaggerMaxMillis < c.StaggerMinMillis {
		c.StaggerMaxMillis = c.StaggerMinMillis + def.StaggerMaxMillis - def.StaggerMinMillis
	}
	if c.ThinkingMinSeconds <= 0 {
		c.ThinkingMinSeconds = def.ThinkingMinSeconds
	}
	if c.ThinkingMaxSeconds < c.ThinkingMinSeconds {
		c.ThinkingMaxSeconds = c.ThinkingMinSeconds + def.ThinkingMaxSeconds - def.ThinkingMinSeconds
	}
	if c.LockTTLSeconds <= 0 {
		c.LockTTLSeconds = def.LockTTLSeconds
	}
	if c.DefaultDailyCap <= 0 {
		c.DefaultDailyCap = def.DefaultDailyCap
	}
	return c
}

// StartFromOnePhrase plans and launches a campaign from a free-text goal.
// With several targets and no usable account it fails with
// ErrResourceShortage and creates nothing. A single target without accounts
// yields an execution left in planning for a later Rematch.
func (o *Orchestrator) StartFromOnePhrase(ctx context.Context, req StartRequest) (*domain.Execution, error) {
	goal := strings.TrimSpace(req.Goal)
	if goal == "" {
		return nil, fmt.Errorf("%w: goal is required", ErrInvalidRequest)
	}
	targets := uniqueTargets(req.TargetUsers)
	if len(targets) == 0 {
		return nil, fmt.Errorf("%w: at least one target user is required", ErrInvalidRequest)
	}
	mode := req.Mode
	if mode == "" {
		mode = domain.ModeScriptless
	}
	if !mode.Valid() {
		return nil, fmt.Errorf("%w: unknown mode %q", ErrInvalidRequest, mode)
	}

	goalIntent := MatchGoal(goal)
	strategy, roles := templateFor(goalIntent.Category).buildPlan(constraintsDefaults{
		dailyCap:    o.cfg.DefaultDailyCap,
		activeStart: o.cfg.ActiveHourStart,
		activeEnd:   o.cfg.ActiveHourEnd,
	})
	if len(targets) == 1 {
		roles = roles[:1]
	}

	matches, warnings, err := o.matcher.Match(ctx, roles, goalIntent, matcher.Options{
		AllowMultiRole: o.matchCfg.AllowMultiRole,
		AllowOffline:   o.matchCfg.AllowOffline,
	})
	if err != nil {
		return nil, fmt.Errorf("match accounts: %w", err)
	}
	if len(matches) == 0 && len(targets) > 1 {
		o.notifier.Notify(ctx, NotifyError, fmt.Sprintf("campaign %q not started: no accounts available for %d target users", goal, len(targets)))
		logger.Error("campaign start failed", "goal", goal, "targets", len(targets), "error", ErrResourceShortage.Error())
		return nil, ErrResourceShortage
	}
	if len(matches) > 0 {
		roles = matchedRoles(roles, matches)
	} else {
		warnings = append(warnings, "no accounts matched; execution waits in planning for a rematch")
	}

	now := o.now()
	e := &domain.Execution{
		ID:             uuid.New().String(),
		Status:         domain.StatusPlanning,
		Goal:           goal,
		Intent:         goalIntent,
		Strategy:       strategy,
		Roles:          roles,
		Mode:           mode,
		AccountMatches: matches,
		TargetUsers:    targets,
		Queue:          domain.NewQueue(targets, now),
		Funnel:         domain.NewFunnel(now),
		Warnings:       warnings,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	lock := o.locks(distlock.CampaignKey(e.ID))
	acquired, err := lock.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire campaign lock: %w", err)
	}
	if !acquired {
		return nil, fmt.Errorf("acquire campaign lock: %s already owned", e.ID)
	}

	rt := &runtime{exec: e, lock: lock}
	o.mu.Lock()
	o.runs[e.ID] = rt
	o.mu.Unlock()

	rt.mu.Lock()
	o.commitLocked(ctx, rt)

	rt.mu.Lock()
	if len(matches) > 0 {
		e.Status = domain.StatusRunning
		o.scheduleFirstTouchLocked(rt)
	}
	out := o.commitLocked(ctx, rt)

	for _, w := range warnings {
		o.notifier.Notify(ctx, NotifyWarning, fmt.Sprintf("campaign %s: %s", e.ID, w))
	}
	o.metrics.ExecutionStarted(string(goalIntent.Category))
	o.emit(Event{Type: EventStarted, ExecutionID: e.ID, Data: map[string]any{
		"category": string(goalIntent.Category),
		"status":   string(out.Status),
		"targets":  len(targets),
		"roles":    len(roles),
	}})
	logger.Info("campaign started",
		"execution_id", e.ID,
		"category", string(goalIntent.Category),
		"mode", string(mode),
		"status", string(out.Status),
		"targets", len(targets),
		"roles", len(roles),
		"accounts", len(matches),
	)
	return out, nil
}

// Get returns a copy of one execution.
func (o *Orchestrator) Get(id string) (*domain.Execution, error) {
	rt := o.runtime(id)
	if rt == nil {
		return nil, ErrNotFound
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.exec.Clone(), nil
}

// List returns copies of every execution, oldest first.
func (o *Orchestrator) List() []*domain.Execution {
	o.mu.RLock()
	runs := make([]*runtime, 0, len(o.runs))
	for _, rt := range o.runs {
		runs = append(runs, rt)
	}
	o.mu.RUnlock()

	out := make([]*domain.Execution, 0, len(runs))
	for _, rt := range runs {
		rt.mu.Lock()
		out = append(out, rt.exec.Clone())
		rt.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Pause stops new sends and analysis. Inbound messages are still recorded.
func (o *Orchestrator) Pause(ctx context.Context, id string) (*domain.Execution, error) {
	return o.transition(ctx, id, domain.StatusPaused, func(rt *runtime) {
		o.stopTimersLocked(rt)
	})
}

// Resume restarts a paused execution and re-arms its pending work.
func (o *Orchestrator) Resume(ctx context.Context, id string) (*domain.Execution, error) {
	return o.transition(ctx, id, domain.StatusRunning, func(rt *runtime) {
		o.rearmLocked(rt)
	})
}

// Complete ends an execution. Users not yet processed stay in the queue.
func (o *Orchestrator) Complete(ctx context.Context, id string) (*domain.Execution, error) {
	return o.transition(ctx, id, domain.StatusCompleted, func(rt *runtime) {
		o.finishLocked(rt, o.now())
	})
}

func (o *Orchestrator) transition(ctx context.Context, id string, to domain.ExecutionStatus, apply func(rt *runtime)) (*domain.Execution, error) {
	rt := o.runtime(id)
	if rt == nil {
		return nil, ErrNotFound
	}
	rt.mu.Lock()
	from := rt.exec.Status
	if !domain.CanTransition(from, to) {
		rt.mu.Unlock()
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	rt.exec.Status = to
	apply(rt)
	out := o.commitLocked(ctx, rt)

	switch to {
	case domain.StatusPaused:
		o.emit(Event{Type: EventPaused, ExecutionID: id})
	case domain.StatusRunning:
		o.emit(Event{Type: EventResumed, ExecutionID: id})
	}
	logger.Info("campaign status changed", "execution_id", id, "from", string(from), "to", string(out.Status))
	return out, nil
}

// Rematch re-runs account matching for an execution's roles. A planning
// execution that gains accounts starts running.
func (o *Orchestrator) Rematch(ctx context.Context, id string) (*domain.Execution, error) {
	rt := o.runtime(id)
	if rt == nil {
		return nil, ErrNotFound
	}
	rt.mu.Lock()
	if rt.exec.IsTerminal() {
		rt.mu.Unlock()
		return nil, fmt.Errorf("%w: execution completed", ErrInvalidTransition)
	}
	roles := append([]domain.Role(nil), rt.exec.Roles...)
	goalIntent := rt.exec.Intent
	rt.mu.Unlock()

	matches, warnings, err := o.matcher.Match(ctx, roles, goalIntent, matcher.Options{
		AllowMultiRole: o.matchCfg.AllowMultiRole,
		AllowOffline:   o.matchCfg.AllowOffline,
	})
	if err != nil {
		return nil, fmt.Errorf("match accounts: %w", err)
	}

	rt.mu.Lock()
	e := rt.exec
	if e.IsTerminal() {
		rt.mu.Unlock()
		return nil, fmt.Errorf("%w: execution completed", ErrInvalidTransition)
	}
	e.AccountMatches = matches
	e.Warnings = append(e.Warnings, warnings...)
	if _, ok := e.AccountFor(e.ActiveRoleID); !ok {
		e.ActiveRoleID = ""
		e.ConsecutiveRoleCount = 0
	}
	if len(matches) == 0 {
		e.Warnings = append(e.Warnings, "rematch found no accounts")
	} else if e.Status == domain.StatusPlanning {
		e.Status = domain.StatusRunning
		o.rearmLocked(rt)
	}
	out := o.commitLocked(ctx, rt)
	logger.Info("campaign rematched", "execution_id", id, "accounts", len(matches), "status", string(out.Status))
	return out, nil
}

// Restore reloads active executions from the store, takes ownership of the
// ones no other process holds and re-arms their pending work.
func (o *Orchestrator) Restore(ctx context.Context) (int, error) {
	if o.store == nil {
		return 0, nil
	}
	snaps, err := o.store.ListActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("list active executions: %w", err)
	}
	restored := 0
	for _, snap := range snaps {
		if o.runtime(snap.ID) != nil {
			continue
		}
		e, err := snap.Execution()
		if err != nil {
			logger.Error("skipping unreadable snapshot", "execution_id", snap.ID, "error", err.Error())
			continue
		}
		lock := o.locks(distlock.CampaignKey(e.ID))
		ok, err := lock.Acquire(ctx)
		if err != nil || !ok {
			logger.Info("campaign owned elsewhere, not restoring", "execution_id", e.ID)
			continue
		}
		rt := &runtime{exec: e, lock: lock}
		o.mu.Lock()
		o.runs[e.ID] = rt
		o.mu.Unlock()

		rt.mu.Lock()
		if e.Status == domain.StatusRunning {
			o.rearmLocked(rt)
		}
		o.commitLocked(ctx, rt)
		restored++
		logger.Info("campaign restored", "execution_id", e.ID, "status", string(e.Status))
	}
	return restored, nil
}

// Shutdown stops every timer and releases campaign locks. Executions stay
// in the store for a later Restore.
func (o *Orchestrator) Shutdown(ctx context.Context) {
	o.cancel()
	o.mu.RLock()
	runs := make([]*runtime, 0, len(o.runs))
	for _, rt := range o.runs {
		runs = append(runs, rt)
	}
	o.mu.RUnlock()
	for _, rt := range runs {
		rt.mu.Lock()
		o.stopTimersLocked(rt)
		lock := rt.lock
		rt.lock = nil
		rt.mu.Unlock()
		if lock != nil {
			if err := lock.Release(ctx); err != nil {
				logger.Warn("release campaign lock failed", "error", err.Error())
			}
		}
	}
}

func (o *Orchestrator) runtime(id string) *runtime {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.runs[id]
}

// commitLocked snapshots the execution, releases rt.mu and persists. A
// campaign finished under this lock hold gets its final report here.
func (o *Orchestrator) commitLocked(ctx context.Context, rt *runtime) *domain.Execution {
	snap, version := o.snapshotLocked(rt)
	finished := rt.finishing
	rt.finishing = false
	out := rt.exec.Clone()
	rt.mu.Unlock()

	o.persist(ctx, rt, snap, version)
	if finished {
		o.afterFinish(rt, out)
	}
	return out
}

// snapshotLocked stamps the execution and serializes it.
func (o *Orchestrator) snapshotLocked(rt *runtime) (domain.Snapshot, uint64) {
	rt.exec.UpdatedAt = o.now()
	rt.version++
	snap, err := domain.NewSnapshot(rt.exec)
	if err != nil {
		logger.Error("snapshot failed", "execution_id", rt.exec.ID, "error", err.Error())
	}
	return snap, rt.version
}

// persist writes snap unless a newer version was already written, then
// extends the ownership lock.
func (o *Orchestrator) persist(ctx context.Context, rt *runtime, snap domain.Snapshot, version uint64) {
	if o.store == nil || snap.ID == "" {
		return
	}
	rt.saveMu.Lock()
	defer rt.saveMu.Unlock()
	if version <= rt.saved {
		return
	}
	if err := o.store.Save(ctx, snap); err != nil {
		logger.Error("persist execution failed", "execution_id", snap.ID, "error", err.Error())
		return
	}
	rt.saved = version
	rt.mu.Lock()
	lock := rt.lock
	rt.mu.Unlock()
	if lock != nil && snap.IsActive() {
		if err := lock.Extend(ctx, o.cfg.LockTTL()); err != nil {
			logger.Warn("extend campaign lock failed", "execution_id", snap.ID, "error", err.Error())
		}
	}
}

func (o *Orchestrator) stopTimersLocked(rt *runtime) {
	if rt.sendTimer != nil {
		rt.sendTimer.Stop()
		rt.sendTimer = nil
	}
	if rt.waitTimer != nil {
		rt.waitTimer.Stop()
		rt.waitTimer = nil
	}
	rt.waitGen++
}

func (o *Orchestrator) randBetween(lo, hi int) int {
	if hi <= lo {
		return lo
	}
	o.rndMu.Lock()
	defer o.rndMu.Unlock()
	return lo + o.rnd.Intn(hi-lo+1)
}

func (o *Orchestrator) staggerDelay() time.Duration {
	return time.Duration(o.randBetween(o.cfg.StaggerMinMillis, o.cfg.StaggerMaxMillis)) * time.Millisecond
}

func (o *Orchestrator) thinkingDelay() time.Duration {
	return time.Duration(o.randBetween(o.cfg.ThinkingMinSeconds, o.cfg.ThinkingMaxSeconds)) * time.Second
}

func (o *Orchestrator) taskContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(o.ctx, taskTimeout)
}

func uniqueTargets(in []domain.TargetUser) []domain.TargetUser {
	seen := make(map[string]bool, len(in))
	out := make([]domain.TargetUser, 0, len(in))
	for _, t := range in {
		t.ID = strings.TrimSpace(t.ID)
		if t.ID == "" || seen[t.ID] {
			continue
		}
		seen[t.ID] = true
		out = append(out, t)
	}
	return out
}

// matchedRoles keeps the roles that received an account, in order.
func matchedRoles(roles []domain.Role, matches []domain.AccountRoleMatch) []domain.Role {
	bound := make(map[string]bool, len(matches))
	for _, m := range matches {
		bound[m.RoleID] = true
	}
	out := make([]domain.Role, 0, len(matches))
	for _, r := range roles {
		if bound[r.ID] {
			out = append(out, r)
		}
	}
	return out
}

type logMessenger struct{}

func (logMessenger) Send(_ context.Context, req SendRequest) error {
	logger.Info("outbound message (no transport configured)",
		"execution_id", req.ExecutionID,
		"account_id", req.AccountID,
		"target_user_id", req.TargetUserID,
	)
	return nil
}

func (logMessenger) ReportAdjustment(_ context.Context, adj Adjustment) error {
	logger.Info("adjustment (no transport configured)", "execution_id", adj.ExecutionID, "kind", string(adj.Kind))
	return nil
}

type logNotifier struct{}

func (logNotifier) Notify(_ context.Context, level NotifyLevel, message string) {
	logger.Info("notification", "level", string(level), "message", message)
}
