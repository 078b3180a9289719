package repl

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duetalk/duetalk/internal/agent"
	"github.com/duetalk/duetalk/internal/intent"
	"github.com/duetalk/duetalk/internal/lexicon"
	"github.com/duetalk/duetalk/internal/llm"
	"github.com/duetalk/duetalk/internal/orchestrator"
	"github.com/duetalk/duetalk/internal/task"
	"github.com/duetalk/duetalk/pkg/storage"
)

const carPlanJSON = `{
  "intent": "分析买车方案",
  "steps": [
    {"name": "梳理需求", "description": "梳理购车需求"},
    {"name": "比较车型", "description": "比较候选车型"}
  ]
}`

// slowThinkerClient keeps the pipeline busy long enough for interjections.
func slowThinkerClient(delay time.Duration) *llm.ScriptedClient {
	c := llm.NewScriptedClient("好的").
		On("任务规划专家", carPlanJSON).
		On("请执行以下步骤", "阶段结论").
		On("基于以下分析结果", "建议选择B车型。").
		On("请评估以下答案", `{"overall_score": 90, "needs_revision": false}`)
	c.Delay = delay
	return c
}

type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

func newTestREPL(t *testing.T, talkerClient *llm.ScriptedClient, thinkerClient *llm.ScriptedClient, in *strings.Reader, out *syncBuffer, opts ...Option) (*REPL, *task.Manager) {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	lex, err := lexicon.New("")
	require.NoError(t, err)

	manager := task.NewManager(intent.NewClassifier(lex), logger,
		task.WithCancelTimeout(3*time.Second))
	talker := agent.NewTalker(talkerClient, logger)
	thinker := agent.NewThinker(thinkerClient, logger)
	orch := orchestrator.New(talker, thinker, logger)

	opts = append([]Option{WithPollInterval(10 * time.Millisecond)}, opts...)
	r := New(manager, orch, lex, "s1", in, out, logger, opts...)
	return r, manager
}

func startBusyTask(t *testing.T, r *REPL, m *task.Manager) {
	t.Helper()
	r.startTask(context.Background(), "帮我分析买车方案")
	require.True(t, m.Processing())
}

func TestCancelWithoutNewTask(t *testing.T) {
	out := &syncBuffer{}
	r, m := newTestREPL(t, llm.NewScriptedClient(""), slowThinkerClient(100*time.Millisecond), strings.NewReader(""), out)
	startBusyTask(t, r, m)

	resp, newTask := r.interject(context.Background(), "不买了")
	assert.Contains(t, resp, "已取消当前任务")
	assert.Empty(t, newTask)
	assert.Equal(t, task.StateIdle, m.State())
	r.runners.Wait()
}

func TestCommentDoesNotInterrupt(t *testing.T) {
	out := &syncBuffer{}
	r, m := newTestREPL(t, llm.NewScriptedClient(""), slowThinkerClient(100*time.Millisecond), strings.NewReader(""), out)
	startBusyTask(t, r, m)

	resp, newTask := r.interject(context.Background(), "有点慢")
	assert.Equal(t, "抱歉让您久等了，正在加速处理...", resp)
	assert.Empty(t, newTask)
	assert.True(t, m.Processing())

	resp, _ = r.interject(context.Background(), "嗯")
	assert.Equal(t, "嗯，继续...", resp)

	m.Cancel(context.Background())
	r.runners.Wait()
}

func TestSupplementMergesIntoTask(t *testing.T) {
	out := &syncBuffer{}
	r, m := newTestREPL(t, llm.NewScriptedClient(""), slowThinkerClient(100*time.Millisecond), strings.NewReader(""), out)
	startBusyTask(t, r, m)

	resp, newTask := r.interject(context.Background(), "另外再加上预算控制在20万")
	assert.Contains(t, resp, "收到补充信息")
	assert.Empty(t, newTask)
	assert.Len(t, m.Supplements(), 1)
	assert.Contains(t, r.currentShared().Intent(), "补充信息")

	m.Cancel(context.Background())
	r.runners.Wait()
}

func TestStatusReply(t *testing.T) {
	out := &syncBuffer{}
	r, m := newTestREPL(t, llm.NewScriptedClient(""), slowThinkerClient(300*time.Millisecond), strings.NewReader(""), out)

	assert.Contains(t, r.statusReply(), "目前没有需要处理的任务")

	startBusyTask(t, r, m)
	time.Sleep(30 * time.Millisecond)
	r.currentShared().UpdateProgress("executing", 2, 5, "已完成现状梳理")

	resp, newTask := r.interject(context.Background(), "好了吗")
	assert.Empty(t, newTask)
	assert.Contains(t, resp, "执行步骤中")
	assert.Contains(t, resp, "第2/5步")
	assert.Contains(t, resp, "已完成现状梳理")

	m.Cancel(context.Background())
	r.runners.Wait()
}

func TestPauseAndResume(t *testing.T) {
	out := &syncBuffer{}
	r, m := newTestREPL(t, llm.NewScriptedClient(""), slowThinkerClient(100*time.Millisecond), strings.NewReader(""), out)
	startBusyTask(t, r, m)

	resp, _ := r.interject(context.Background(), "暂停")
	assert.Contains(t, resp, "已暂停")
	assert.Equal(t, task.StatePaused, m.State())

	resp, _ = r.interject(context.Background(), "继续")
	assert.Equal(t, "好的，继续处理...", resp)
	assert.Equal(t, task.StateRunning, m.State())

	resp, _ = r.interject(context.Background(), "继续")
	assert.Equal(t, "当前没有暂停的任务哦", resp)

	m.Cancel(context.Background())
	r.runners.Wait()
}

func TestEarlyReplaceCancelsDirectly(t *testing.T) {
	out := &syncBuffer{}
	r, m := newTestREPL(t, llm.NewScriptedClient(""), slowThinkerClient(100*time.Millisecond), strings.NewReader(""), out)
	startBusyTask(t, r, m)

	resp, newTask := r.interject(context.Background(), "算了，帮我查一下天气")
	assert.Contains(t, resp, "开始处理新任务")
	assert.Equal(t, "帮我查一下天气", newTask)
	assert.Equal(t, task.StateIdle, m.State())
	r.runners.Wait()
}

func TestLateReplaceAsksForConfirmation(t *testing.T) {
	out := &syncBuffer{}
	r, m := newTestREPL(t, llm.NewScriptedClient(""), slowThinkerClient(300*time.Millisecond), strings.NewReader(""), out)
	startBusyTask(t, r, m)
	time.Sleep(30 * time.Millisecond)
	r.currentShared().UpdateProgress("executing", 4, 5, "")

	resp, newTask := r.interject(context.Background(), "算了，帮我查一下天气")
	assert.Contains(t, resp, "1. 取消当前任务")
	assert.Empty(t, newTask)
	assert.True(t, m.Processing())

	resp, newTask = r.interject(context.Background(), "2")
	assert.Contains(t, resp, "已排队")
	assert.Empty(t, newTask)
	r.mu.Lock()
	assert.Equal(t, []string{"帮我查一下天气"}, r.queue)
	r.mu.Unlock()

	m.Cancel(context.Background())
	r.runners.Wait()
}

func TestConfirmationChoiceCancel(t *testing.T) {
	out := &syncBuffer{}
	r, m := newTestREPL(t, llm.NewScriptedClient(""), slowThinkerClient(300*time.Millisecond), strings.NewReader(""), out)
	startBusyTask(t, r, m)
	time.Sleep(30 * time.Millisecond)
	r.currentShared().UpdateProgress("executing", 4, 5, "")

	_, _ = r.interject(context.Background(), "算了，帮我查一下天气")
	resp, newTask := r.interject(context.Background(), "1")
	assert.Contains(t, resp, "开始处理新任务")
	assert.Equal(t, "帮我查一下天气", newTask)
	assert.Equal(t, task.StateIdle, m.State())
	r.runners.Wait()
}

func TestParseConfirmationChoice(t *testing.T) {
	assert.Equal(t, 1, parseConfirmationChoice("1"))
	assert.Equal(t, 1, parseConfirmationChoice("取消当前的吧"))
	assert.Equal(t, 2, parseConfirmationChoice("2"))
	assert.Equal(t, 2, parseConfirmationChoice("排队吧"))
	assert.Equal(t, 3, parseConfirmationChoice("稍后再说"))
	assert.Equal(t, 0, parseConfirmationChoice("随便"))
}

func TestRunQuitAndStats(t *testing.T) {
	out := &syncBuffer{}
	in := strings.NewReader("你好\nstats\nquit\n")
	talkerClient := llm.NewScriptedClient("").On("当前用户消息：你好", "你好！有什么可以帮你的吗？")
	r, _ := newTestREPL(t, talkerClient, slowThinkerClient(0), in, out)

	require.NoError(t, r.Run(context.Background()))

	text := out.String()
	assert.Contains(t, text, "双 Agent 对话系统")
	assert.Contains(t, text, "系统统计")
	assert.Contains(t, text, "再见!")
}

func TestExportTranscript(t *testing.T) {
	dir := t.TempDir()
	store, err := storage.NewLocalStorage(dir)
	require.NoError(t, err)

	out := &syncBuffer{}
	talkerClient := llm.NewScriptedClient("").On("当前用户消息：你好", "你好！")
	r, _ := newTestREPL(t, talkerClient, slowThinkerClient(0), strings.NewReader(""), out, WithStorage(store))

	for range r.orch.Process(context.Background(), "s1", "你好", nil, nil) {
	}
	require.NoError(t, r.ExportTranscript(context.Background()))

	data, err := store.Read(context.Background(), "transcripts/s1.yaml")
	require.NoError(t, err)
	assert.Contains(t, string(data), "session_id: s1")
	assert.Contains(t, string(data), "你好")
}
