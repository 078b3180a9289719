package task

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// Complexity is the Talker's triage of one user request.
type Complexity string

const (
	ComplexitySimple  Complexity = "simple"
	ComplexityMedium  Complexity = "medium"
	ComplexityComplex Complexity = "complex"
)

// Status is the lifecycle state of a task record.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Task is one user-initiated unit of work.
type Task struct {
	ID          string            `json:"id" yaml:"id"`
	Input       string            `json:"input" yaml:"input"`
	Complexity  Complexity        `json:"complexity" yaml:"complexity"`
	Status      Status            `json:"status" yaml:"status"`
	Agent       string            `json:"agent" yaml:"agent"`
	Result      string            `json:"result,omitempty" yaml:"result,omitempty"`
	Error       string            `json:"error,omitempty" yaml:"error,omitempty"`
	CreatedAt   time.Time         `json:"created_at" yaml:"created_at"`
	StartedAt   time.Time         `json:"started_at,omitempty" yaml:"started_at,omitempty"`
	CompletedAt time.Time         `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// New creates a pending task for the given input.
func New(input string) *Task {
	return &Task{
		ID:        ulid.MustNew(ulid.Timestamp(time.Now()), ulid.DefaultEntropy()).String(),
		Input:     input,
		Status:    StatusPending,
		CreatedAt: time.Now(),
		Metadata:  map[string]string{},
	}
}

// Terminal reports whether the task reached a final status.
func (t *Task) Terminal() bool {
	switch t.Status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}
