package task

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/duetalk/duetalk/internal/event"
	"github.com/duetalk/duetalk/internal/intent"
	"github.com/duetalk/duetalk/pkg/clog"
)

// State is the manager's own lifecycle, distinct from the task record status.
type State string

const (
	StateIdle       State = "idle"
	StateRunning    State = "running"
	StatePaused     State = "paused"
	StateCancelling State = "cancelling"
)

// ErrTaskRunning is returned by StartTask while another task occupies the slot.
var ErrTaskRunning = fmt.Errorf("a task is already running")

// Manager owns the current-task slot: at most one task is running or paused
// at a time, and only the manager starts, ends, pauses or cancels it.
type Manager struct {
	mu    sync.Mutex
	state State

	current    *Task
	handle     *Handle
	gate       *Gate
	topic      string
	startedAt  time.Time
	sessionID  string
	supplement []string

	classifier    *intent.Classifier
	cancelTimeout time.Duration
	bus           *event.EventBus
	logger        *slog.Logger
}

type ManagerOption func(*Manager)

func WithCancelTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) { m.cancelTimeout = d }
}

func WithEventBus(bus *event.EventBus) ManagerOption {
	return func(m *Manager) { m.bus = bus }
}

func NewManager(classifier *intent.Classifier, logger *slog.Logger, opts ...ManagerOption) *Manager {
	m := &Manager{
		state:         StateIdle,
		gate:          NewGate(),
		classifier:    classifier,
		cancelTimeout: 5 * time.Second,
		logger:        logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// StartTask transitions Idle → Running, taking ownership of the handle.
// The caller keeps running the computation; the manager keeps the right to
// cancel it.
func (m *Manager) StartTask(ctx context.Context, t *Task, h *Handle, sessionID string) error {
	m.mu.Lock()
	if m.state != StateIdle {
		m.mu.Unlock()
		return ErrTaskRunning
	}
	m.state = StateRunning
	m.current = t
	m.handle = h
	m.topic = m.classifier.ExtractTopic(t.Input)
	m.startedAt = time.Now()
	m.sessionID = sessionID
	m.supplement = nil
	m.gate.Open()
	m.mu.Unlock()

	t.Status = StatusInProgress
	t.StartedAt = time.Now()

	clog.AddTask(ctx, t.ID)
	m.logger.InfoContext(ctx, "task started",
		"task_id", t.ID, "topic", m.topic, "input", t.Input)
	if m.bus != nil {
		_ = m.bus.Publish(ctx, "task.manager", event.TaskStartedData{
			TaskID:     t.ID,
			SessionID:  sessionID,
			Input:      t.Input,
			Complexity: string(t.Complexity),
			Agent:      t.Agent,
		})
	}
	return nil
}

// EndTask transitions back to Idle, stamping the final status on the record.
// A stale caller (a runner that lost the slot to cancellation) is a no-op:
// only the task currently occupying the slot can end it.
func (m *Manager) EndTask(ctx context.Context, t *Task, status Status) {
	m.mu.Lock()
	if t != nil && m.current != t {
		m.mu.Unlock()
		return
	}
	if t == nil {
		t = m.current
	}
	m.state = StateIdle
	m.current = nil
	m.handle = nil
	m.topic = ""
	m.sessionID = ""
	m.supplement = nil
	m.gate.Open()
	m.mu.Unlock()

	if t == nil {
		return
	}
	t.Status = status
	t.CompletedAt = time.Now()
	if m.bus != nil && status != StatusCancelled {
		_ = m.bus.Publish(ctx, "task.manager", event.TaskCompletedData{
			TaskID:  t.ID,
			Success: status == StatusCompleted,
			Error:   t.Error,
		})
	}
}

// Pause closes the gate. Effective only while Running; a second call is a
// no-op returning false.
func (m *Manager) Pause(ctx context.Context) bool {
	m.mu.Lock()
	if m.state != StateRunning {
		m.mu.Unlock()
		return false
	}
	m.state = StatePaused
	m.gate.Close()
	t := m.current
	m.mu.Unlock()

	m.logger.InfoContext(ctx, "task paused", "task_id", t.ID)
	if m.bus != nil {
		_ = m.bus.Publish(ctx, "task.manager", event.TaskPausedData{TaskID: t.ID})
	}
	return true
}

// Resume reopens the gate. Effective only while Paused.
func (m *Manager) Resume(ctx context.Context) bool {
	m.mu.Lock()
	if m.state != StatePaused {
		m.mu.Unlock()
		return false
	}
	m.state = StateRunning
	m.gate.Open()
	t := m.current
	m.mu.Unlock()

	m.logger.InfoContext(ctx, "task resumed", "task_id", t.ID)
	if m.bus != nil {
		_ = m.bus.Publish(ctx, "task.manager", event.TaskResumedData{TaskID: t.ID})
	}
	return true
}

// WaitIfPaused is the suspension point the running computation calls between
// steps. It blocks while paused and surfaces cancellation.
func (m *Manager) WaitIfPaused(ctx context.Context) error {
	m.mu.Lock()
	gate := m.gate
	m.mu.Unlock()
	return gate.Wait(ctx)
}

// Cancel stops the task in flight. A paused task is resumed first, because a
// gated computation cannot observe its cancellation signal. The wait for the
// computation to unwind is bounded; on timeout the slot is force-cleared and
// a warning logged rather than blocking the caller.
func (m *Manager) Cancel(ctx context.Context) bool {
	m.mu.Lock()
	if m.state != StateRunning && m.state != StatePaused {
		m.mu.Unlock()
		return false
	}
	if m.state == StatePaused {
		m.gate.Open()
	}
	m.state = StateCancelling
	h := m.handle
	t := m.current
	m.mu.Unlock()

	h.RequestCancel()
	forced := false
	if !h.AwaitCompletion(m.cancelTimeout) {
		forced = true
		m.logger.WarnContext(ctx, "task did not acknowledge cancellation, abandoning",
			"task_id", t.ID, "timeout", m.cancelTimeout)
	}

	if m.bus != nil {
		_ = m.bus.Publish(ctx, "task.manager", event.TaskCancelledData{
			TaskID: t.ID,
			Forced: forced,
		})
	}
	m.EndTask(ctx, t, StatusCancelled)
	m.logger.InfoContext(ctx, "task cancelled", "task_id", t.ID, "forced", forced)
	return true
}

// ClassifyIntent labels new input against the task in flight. Pure read.
func (m *Manager) ClassifyIntent(newInput string) intent.Intent {
	m.mu.Lock()
	currentInput, topic := m.currentInputLocked(), m.topic
	m.mu.Unlock()
	return m.classifier.Classify(newInput, currentInput, topic)
}

// DecideInterrupt maps new input to the action the runtime loop should take.
func (m *Manager) DecideInterrupt(newInput string) (intent.Action, string) {
	m.mu.Lock()
	currentInput, topic := m.currentInputLocked(), m.topic
	m.mu.Unlock()
	return m.classifier.Decide(newInput, currentInput, topic)
}

func (m *Manager) currentInputLocked() string {
	if m.current == nil || (m.state != StateRunning && m.state != StatePaused) {
		return ""
	}
	return m.current.Input
}

// AddSupplement records a Modify-intent addendum against the running task.
func (m *Manager) AddSupplement(text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil {
		m.supplement = append(m.supplement, text)
	}
}

// Supplements returns addenda recorded so far for the running task.
func (m *Manager) Supplements() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.supplement...)
}

// State returns the manager lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Processing reports whether a task occupies the slot.
func (m *Manager) Processing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StateRunning || m.state == StatePaused
}

// CurrentTask returns the record in flight, nil when idle.
func (m *Manager) CurrentTask() *Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// CurrentTopic returns the topic extracted at start.
func (m *Manager) CurrentTopic() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.topic
}

// Elapsed is the running task's age, zero when idle.
func (m *Manager) Elapsed() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return 0
	}
	return time.Since(m.startedAt)
}
