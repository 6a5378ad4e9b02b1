package orchestrator

import "time"

// EventType names a campaign event.
type EventType string

const (
	EventStarted         EventType = "started"
	EventMessageSent     EventType = "message_sent"
	EventMessageReceived EventType = "message_received"
	EventSignal          EventType = "signal"
	EventAnalysis        EventType = "analysis"
	EventAdjustment      EventType = "adjustment"
	EventUserCompleted   EventType = "user_completed"
	EventPaused          EventType = "paused"
	EventResumed         EventType = "resumed"
	EventCompleted       EventType = "completed"
	EventWarning         EventType = "warning"
)

// Event is published to subscribers as campaigns progress.
type Event struct {
	Type        EventType      `json:"type"`
	ExecutionID string         `json:"execution_id"`
	UserID      string         `json:"user_id,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
	At          time.Time      `json:"at"`
}

// Subscribe registers ch for events. Sends never block; a full channel
// drops the event.
func (o *Orchestrator) Subscribe(ch chan<- Event) {
	o.subMu.Lock()
	defer o.subMu.Unlock()
	o.subscribers = append(o.subscribers, ch)
}

func (o *Orchestrator) emit(ev Event) {
	if ev.At.IsZero() {
		ev.At = o.now()
	}
	o.subMu.RLock()
	defer o.subMu.RUnlock()
	for _, ch := range o.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
}
