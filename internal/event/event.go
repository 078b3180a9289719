package event

import (
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"
)

// EventType represents the type of event
type EventType string

const (
	// Task lifecycle events
	TaskStarted   EventType = "task.started"
	TaskCompleted EventType = "task.completed"
	TaskCancelled EventType = "task.cancelled"
	TaskPaused    EventType = "task.paused"
	TaskResumed   EventType = "task.resumed"

	// Orchestration events
	HandoffRecorded EventType = "handoff.recorded"
	TurnCompleted   EventType = "turn.completed"
	TurnFailed      EventType = "turn.failed"
)

// Event represents a typed system event
type Event[T any] struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
	Data      T         `json:"data"`
}

// EventMessage represents a serialized event for transport
type EventMessage struct {
	ID        string          `json:"id"`
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Source    string          `json:"source"`
	Data      json.RawMessage `json:"data"`
}

// NewEvent creates a new typed event
func NewEvent[T any](source string, data T) *Event[T] {
	return &Event[T]{
		ID:        NewEventID(),
		Timestamp: time.Now(),
		Source:    source,
		Data:      data,
	}
}

// NewEventID returns a lexicographically sortable event id.
func NewEventID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulid.DefaultEntropy()).String()
}

// typed is implemented by event payloads so the bus knows their topic without
// reflection.
type typed interface {
	EventType() EventType
}

// ToMessage converts a typed event to a transport message
func (e *Event[T]) ToMessage() (*EventMessage, error) {
	rawData, err := json.Marshal(e.Data)
	if err != nil {
		return nil, err
	}
	return &EventMessage{
		ID:        e.ID,
		Type:      eventTypeOf(e.Data),
		Timestamp: e.Timestamp,
		Source:    e.Source,
		Data:      rawData,
	}, nil
}

// FromMessage converts a transport message to a typed event
func FromMessage[T any](msg *EventMessage) (*Event[T], error) {
	var data T
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		return nil, err
	}
	return &Event[T]{
		ID:        msg.ID,
		Timestamp: msg.Timestamp,
		Source:    msg.Source,
		Data:      data,
	}, nil
}

func eventTypeOf(data any) EventType {
	if t, ok := data.(typed); ok {
		return t.EventType()
	}
	return EventType("unknown")
}

// Payload types carried on the bus.

type TaskStartedData struct {
	TaskID     string `json:"task_id"`
	SessionID  string `json:"session_id"`
	Input      string `json:"input"`
	Complexity string `json:"complexity"`
	Agent      string `json:"agent"`
}

func (TaskStartedData) EventType() EventType { return TaskStarted }

type TaskCompletedData struct {
	TaskID  string `json:"task_id"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

func (TaskCompletedData) EventType() EventType { return TaskCompleted }

type TaskCancelledData struct {
	TaskID string `json:"task_id"`
	// Forced marks a cancellation abandoned after the wait timeout.
	Forced bool `json:"forced"`
}

func (TaskCancelledData) EventType() EventType { return TaskCancelled }

type TaskPausedData struct {
	TaskID string `json:"task_id"`
}

func (TaskPausedData) EventType() EventType { return TaskPaused }

type TaskResumedData struct {
	TaskID string `json:"task_id"`
}

func (TaskResumedData) EventType() EventType { return TaskResumed }

type HandoffRecordedData struct {
	Kind      string `json:"kind"`
	FromAgent string `json:"from_agent"`
	ToAgent   string `json:"to_agent"`
	Reason    string `json:"reason"`
	SessionID string `json:"session_id"`
}

func (HandoffRecordedData) EventType() EventType { return HandoffRecorded }

type TurnCompletedData struct {
	SessionID  string        `json:"session_id"`
	Agent      string        `json:"agent"`
	Complexity string        `json:"complexity"`
	Elapsed    time.Duration `json:"elapsed"`
}

func (TurnCompletedData) EventType() EventType { return TurnCompleted }

type TurnFailedData struct {
	SessionID string `json:"session_id"`
	Error     string `json:"error"`
}

func (TurnFailedData) EventType() EventType { return TurnFailed }
