package task

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duetalk/duetalk/internal/intent"
	"github.com/duetalk/duetalk/internal/lexicon"
)

func newManager(t *testing.T, opts ...ManagerOption) *Manager {
	t.Helper()
	lex, err := lexicon.New("")
	require.NoError(t, err)
	return NewManager(intent.NewClassifier(lex), slog.New(slog.DiscardHandler), opts...)
}

func startTask(t *testing.T, m *Manager, input string) (*Task, *Handle) {
	t.Helper()
	tk := New(input)
	h := NewHandle(context.Background())
	require.NoError(t, m.StartTask(context.Background(), tk, h, "s1"))
	return tk, h
}

func TestExclusivity(t *testing.T) {
	m := newManager(t)
	tk, h := startTask(t, m, "帮我分析买车方案")
	assert.Equal(t, StateRunning, m.State())

	other := New("另一件事")
	err := m.StartTask(context.Background(), other, NewHandle(context.Background()), "s1")
	assert.ErrorIs(t, err, ErrTaskRunning)

	h.Finish(nil)
	m.EndTask(context.Background(), tk, StatusCompleted)
	assert.Equal(t, StateIdle, m.State())
	assert.Equal(t, StatusCompleted, tk.Status)

	require.NoError(t, m.StartTask(context.Background(), other, NewHandle(context.Background()), "s1"))
}

func TestPauseResumeIdempotent(t *testing.T) {
	m := newManager(t)
	startTask(t, m, "帮我分析买车方案")

	assert.True(t, m.Pause(context.Background()))
	assert.False(t, m.Pause(context.Background()))
	assert.Equal(t, StatePaused, m.State())

	assert.True(t, m.Resume(context.Background()))
	assert.False(t, m.Resume(context.Background()))
	assert.Equal(t, StateRunning, m.State())
}

func TestPauseBeforeRunIsNoop(t *testing.T) {
	m := newManager(t)
	assert.False(t, m.Pause(context.Background()))
	assert.False(t, m.Resume(context.Background()))
}

func TestWaitIfPausedBlocksUntilResume(t *testing.T) {
	m := newManager(t)
	_, h := startTask(t, m, "帮我分析买车方案")
	require.True(t, m.Pause(context.Background()))

	released := make(chan struct{})
	go func() {
		_ = m.WaitIfPaused(h.Context())
		close(released)
	}()

	select {
	case <-released:
		t.Fatal("computation ran through a closed gate")
	case <-time.After(50 * time.Millisecond):
	}

	require.True(t, m.Resume(context.Background()))
	select {
	case <-released:
	case <-time.After(time.Second):
		t.Fatal("gate did not reopen")
	}
}

func TestCancelCooperative(t *testing.T) {
	m := newManager(t)
	tk, h := startTask(t, m, "帮我分析买车方案")

	// Simulate a well-behaved computation that unwinds on cancellation.
	go func() {
		<-h.Context().Done()
		h.Finish(h.Context().Err())
	}()

	assert.True(t, m.Cancel(context.Background()))
	assert.Equal(t, StateIdle, m.State())
	assert.Equal(t, StatusCancelled, tk.Status)

	// Nothing left to cancel.
	assert.False(t, m.Cancel(context.Background()))
}

// A computation that never observes cancellation must not hang Cancel past
// the configured bound.
func TestCancelBounded(t *testing.T) {
	m := newManager(t, WithCancelTimeout(100*time.Millisecond))
	tk, _ := startTask(t, m, "帮我分析买车方案")

	start := time.Now()
	assert.True(t, m.Cancel(context.Background()))
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, StateIdle, m.State())
	assert.Equal(t, StatusCancelled, tk.Status)
}

// Cancelling a paused task resumes it first so the computation can observe
// the cancellation signal at its next suspension point.
func TestCancelResumesPausedTask(t *testing.T) {
	m := newManager(t, WithCancelTimeout(time.Second))
	_, h := startTask(t, m, "帮我分析买车方案")

	observed := make(chan struct{})
	go func() {
		// Computation cycling through suspension points.
		for {
			if err := m.WaitIfPaused(h.Context()); err != nil {
				close(observed)
				h.Finish(err)
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
	}()

	require.True(t, m.Pause(context.Background()))
	time.Sleep(20 * time.Millisecond)

	assert.True(t, m.Cancel(context.Background()))
	select {
	case <-observed:
	case <-time.After(time.Second):
		t.Fatal("paused computation never observed cancellation")
	}
}

func TestStaleEndTaskIgnored(t *testing.T) {
	m := newManager(t)
	old, h := startTask(t, m, "帮我分析买车方案")
	go func() {
		<-h.Context().Done()
		h.Finish(h.Context().Err())
	}()
	require.True(t, m.Cancel(context.Background()))

	replacement, _ := startTask(t, m, "帮我订个餐厅")
	// The old runner unwinds late and tries to end "its" task.
	m.EndTask(context.Background(), old, StatusCompleted)
	assert.Equal(t, StateRunning, m.State())
	assert.Same(t, replacement, m.CurrentTask())
}

func TestClassifyIntentUsesLiveTask(t *testing.T) {
	m := newManager(t)
	assert.Equal(t, intent.Replace, m.ClassifyIntent("你好"))

	startTask(t, m, "帮我分析买车方案")
	assert.Equal(t, "选车", m.CurrentTopic())
	assert.Equal(t, intent.Replace, m.ClassifyIntent("不买了"))
	assert.Equal(t, intent.Modify, m.ClassifyIntent("另外再加上预算控制在20万"))
	assert.Equal(t, intent.Comment, m.ClassifyIntent("有点慢"))
}

func TestSupplements(t *testing.T) {
	m := newManager(t)
	startTask(t, m, "帮我分析买车方案")
	m.AddSupplement("预算控制在20万")
	m.AddSupplement("要七座的")
	assert.Equal(t, []string{"预算控制在20万", "要七座的"}, m.Supplements())
}
