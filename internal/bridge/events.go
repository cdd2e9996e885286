package bridge

import "github.com/juncture-dev/juncture/internal/session"

// EventType identifies one entry of the normalized event stream consumed by
// the UI layer.
type EventType string

const (
	EventStatus             EventType = "status"
	EventHistory            EventType = "history"
	EventTurnStart          EventType = "turn-start"
	EventAssistantDelta     EventType = "assistant-delta"
	EventAssistantFinal     EventType = "assistant-final"
	EventAssistantReasoning EventType = "assistant-reasoning"
	EventAssistantActivity  EventType = "assistant-activity"
	EventTurnComplete       EventType = "turn-complete"
	EventTurnCancelled      EventType = "turn-cancelled"
	EventError              EventType = "error"
)

// Status is the bridge connection state surfaced through status events.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusReconnecting Status = "reconnecting"
	StatusError        Status = "error"
)

// ActivityKind classifies a normalized tool/command activity.
type ActivityKind string

const (
	ActivityCommand ActivityKind = "command"
	ActivityFile    ActivityKind = "file"
	ActivitySearch  ActivityKind = "search"
	ActivityTool    ActivityKind = "tool"
)

// Activity is a human-readable summary of something the agent did during a
// turn (ran a command, touched a file, searched, called a tool).
type Activity struct {
	Kind    ActivityKind `json:"kind"`
	Method  string       `json:"method"`
	Summary string       `json:"summary"`
}

// Event is one entry of the bridge's typed event stream. Fields are
// populated per Type; unused fields stay zero.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"sessionId,omitempty"`
	TurnID    string    `json:"turnId,omitempty"`

	// Status events.
	Status Status `json:"status,omitempty"`

	// assistant-delta / assistant-reasoning text fragments.
	Text string `json:"text,omitempty"`

	// assistant-final / history payload.
	Message *session.HistoryMessage `json:"message,omitempty"`

	// assistant-activity payload.
	Activity *Activity `json:"activity,omitempty"`

	// turn-complete outcome ("completed", "failed", "interrupted", "cancelled").
	Outcome string `json:"outcome,omitempty"`

	// error events and failed outcomes.
	Error string `json:"error,omitempty"`
}
