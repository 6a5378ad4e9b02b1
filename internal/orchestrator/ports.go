package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/ignite/convoflow/internal/domain"
)

// SendRequest is one outbound message handed to the transport.
type SendRequest struct {
	ExecutionID  string `json:"execution_id"`
	AccountID    string `json:"account_id"`
	RoleID       string `json:"role_id"`
	TargetUserID string `json:"target_user_id"`
	Content      string `json:"content"`
	IsFirstTouch bool   `json:"is_first_touch"`
}

// Adjustment is reported to the transport when analysis changes course.
type Adjustment struct {
	ExecutionID string                `json:"execution_id"`
	Kind        domain.AdjustmentKind `json:"kind"`
	RoleID      string                `json:"role_id,omitempty"`
	Phase       int                   `json:"phase"`
	Reason      string                `json:"reason"`
	At          time.Time             `json:"at"`
}

// Messenger delivers messages through an automation account.
type Messenger interface {
	Send(ctx context.Context, req SendRequest) error
	ReportAdjustment(ctx context.Context, adj Adjustment) error
}

// Inbound is a message received from a target user.
type Inbound struct {
	ExecutionID string `json:"execution_id"`
	CustomerID  string `json:"customer_id"`
	Text        string `json:"text"`
	FirstName   string `json:"first_name,omitempty"`
	Username    string `json:"username,omitempty"`
}

// NotifyLevel is the severity of an operator notification.
type NotifyLevel string

const (
	NotifyInfo    NotifyLevel = "info"
	NotifyWarning NotifyLevel = "warning"
	NotifyError   NotifyLevel = "error"
)

// Notifier tells operators about campaign events. Calls are fire and forget.
type Notifier interface {
	Notify(ctx context.Context, level NotifyLevel, message string)
}

// Store persists execution snapshots for crash recovery.
type Store interface {
	Save(ctx context.Context, snap domain.Snapshot) error
	ListActive(ctx context.Context) ([]domain.Snapshot, error)
	Delete(ctx context.Context, id string) error
}

// Archiver keeps the transcript of a finished campaign.
type Archiver interface {
	ArchiveExecution(ctx context.Context, e *domain.Execution) error
}

// Timer is a scheduled callback that can be cancelled.
type Timer interface {
	Stop() bool
}

// Scheduler runs callbacks after a delay.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realScheduler struct{}

func (realScheduler) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// ManualScheduler records scheduled callbacks and runs them on demand.
type ManualScheduler struct {
	mu    sync.Mutex
	tasks []*ManualTask
}

// ManualTask is one callback registered with a ManualScheduler.
type ManualTask struct {
	Delay   time.Duration
	fn      func()
	stopped bool
	fired   bool
	owner   *ManualScheduler
}

// Stop cancels the task. It reports whether the task was still pending.
func (t *ManualTask) Stop() bool {
	t.owner.mu.Lock()
	defer t.owner.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// AfterFunc registers f without running it.
func (s *ManualScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &ManualTask{Delay: d, fn: f, owner: s}
	s.tasks = append(s.tasks, t)
	return t
}

// Pending returns the tasks that have neither fired nor been stopped.
func (s *ManualScheduler) Pending() []*ManualTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*ManualTask
	for _, t := range s.tasks {
		if !t.stopped && !t.fired {
			out = append(out, t)
		}
	}
	return out
}

// RunNext fires the oldest pending task. It reports false when none is left.
func (s *ManualScheduler) RunNext() bool {
	s.mu.Lock()
	var next *ManualTask
	for _, t := range s.tasks {
		if !t.stopped && !t.fired {
			next = t
			break
		}
	}
	if next != nil {
		next.fired = true
	}
	s.mu.Unlock()
	if next == nil {
		return false
	}
	next.fn()
	return true
}

// RunAll fires pending tasks, including ones scheduled while running, up to
// limit callbacks. It returns the number fired.
func (s *ManualScheduler) RunAll(limit int) int {
	n := 0
	for n < limit && s.RunNext() {
		n++
	}
	return n
}
