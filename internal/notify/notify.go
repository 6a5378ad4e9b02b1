// Package notify delivers operator notifications: campaign warnings, failed
// starts and final reports.
package notify

import (
	"context"
	"strings"

	"github.com/ignite/convoflow/internal/orchestrator"
	"github.com/ignite/convoflow/internal/pkg/logger"
)

// Notifier is the notification port of the orchestrator.
type Notifier = orchestrator.Notifier

// ParseLevel maps a config value to a level. Unknown values read as info.
func ParseLevel(s string) orchestrator.NotifyLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "warn", "warning":
		return orchestrator.NotifyWarning
	case "error":
		return orchestrator.NotifyError
	default:
		return orchestrator.NotifyInfo
	}
}

func rank(l orchestrator.NotifyLevel) int {
	switch l {
	case orchestrator.NotifyError:
		return 2
	case orchestrator.NotifyWarning:
		return 1
	default:
		return 0
	}
}

// Log writes every notification to the structured log.
type Log struct{}

func (Log) Notify(_ context.Context, level orchestrator.NotifyLevel, message string) {
	switch level {
	case orchestrator.NotifyError:
		logger.Error("operator notification", "message", message)
	case orchestrator.NotifyWarning:
		logger.Warn("operator notification", "message", message)
	default:
		logger.Info("operator notification", "message", message)
	}
}

// MinLevel drops notifications below floor before passing them on.
func MinLevel(floor orchestrator.NotifyLevel, next Notifier) Notifier {
	return minLevel{floor: floor, next: next}
}

type minLevel struct {
	floor orchestrator.NotifyLevel
	next  Notifier
}

func (m minLevel) Notify(ctx context.Context, level orchestrator.NotifyLevel, message string) {
	if rank(level) < rank(m.floor) {
		return
	}
	m.next.Notify(ctx, level, message)
}

// Multi fans a notification out to every notifier in order.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, level orchestrator.NotifyLevel, message string) {
	for _, n := range m {
		if n != nil {
			n.Notify(ctx, level, message)
		}
	}
}
