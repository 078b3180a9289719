package agent

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duetalk/duetalk/internal/llm"
	"github.com/duetalk/duetalk/internal/skill"
)

const carPlanJSON = `{
  "intent": "推荐适合家用的车型",
  "constraints": ["预算20万以内"],
  "steps": [
    {"name": "收集候选车型", "description": "整理主流家用车型", "skills": [], "expected_output": "车型列表"},
    {"name": "对比配置", "description": "对比候选车型的配置和价格", "skills": [], "expected_output": "对比结论"}
  ],
  "risks": [{"risk": "信息过时", "mitigation": "标注数据时间"}],
  "estimated_time": 30
}`

const passingReflectJSON = `{
  "completeness": 90, "accuracy": 88, "relevance": 92,
  "clarity": 85, "usefulness": 90, "overall_score": 89,
  "issues": [], "suggestions": [], "needs_revision": false
}`

func scriptedPipeline() *llm.ScriptedClient {
	return llm.NewScriptedClient("好的").
		On("任务规划专家", carPlanJSON).
		On("请执行以下步骤", "步骤结论").
		On("基于以下分析结果", "综合以上分析，推荐车型A。").
		On("请评估以下答案", passingReflectJSON)
}

func TestThinkerFullPipeline(t *testing.T) {
	thinker := NewThinker(scriptedPipeline(), slog.New(slog.DiscardHandler))
	shared := NewSharedContext("推荐一款家用车")

	text := collect(thinker.Process(context.Background(), "推荐一款家用车", shared, nil))

	assert.Contains(t, text, "[规划] 任务目标: 推荐适合家用的车型")
	assert.Contains(t, text, "[规划] 共2个步骤")
	assert.Contains(t, text, "[步骤1] 收集候选车型")
	assert.Contains(t, text, "[步骤2] 对比配置")
	assert.Contains(t, text, "[答案]")
	assert.Contains(t, text, "推荐车型A")

	assert.Equal(t, "done", shared.Progress().Stage)
	stats := thinker.Stats()
	assert.Equal(t, int64(1), stats["successful_tasks"])
	assert.Equal(t, int64(2), stats["total_steps"])
}

func TestThinkerPlanFallback(t *testing.T) {
	// No planning rule: the model answers prose, which cannot be parsed as a
	// plan, so the Thinker degrades to a single analysis step.
	client := llm.NewScriptedClient("这里没有JSON")
	thinker := NewThinker(client, slog.New(slog.DiscardHandler), WithReflection(false, 80))

	text := collect(thinker.Process(context.Background(), "分析这个问题", nil, nil))
	assert.Contains(t, text, "[规划] 任务目标: 分析这个问题")
	assert.Contains(t, text, "[规划] 共1个步骤")
	assert.Contains(t, text, "[步骤1] 分析问题")
	assert.Contains(t, text, "[答案]")
}

func TestThinkerRefinesLowQualityAnswer(t *testing.T) {
	client := llm.NewScriptedClient("好的").
		On("任务规划专家", carPlanJSON).
		On("请执行以下步骤", "步骤结论").
		On("基于以下分析结果", "草稿答案").
		On("请评估以下答案", `{"overall_score": 55, "needs_revision": true, "issues": ["太简略"], "suggestions": ["补充对比"]}`).
		On("请改进以下答案", "改进后的完整答案")
	thinker := NewThinker(client, slog.New(slog.DiscardHandler), WithReflection(true, 80))

	text := collect(thinker.Process(context.Background(), "推荐一款家用车", nil, nil))
	assert.Contains(t, text, "答案需要改进")
	assert.Contains(t, text, "改进后的完整答案")
	assert.Equal(t, int64(1), thinker.Stats()["refinements"])
}

func TestThinkerReflectionFallbackSkipsRevision(t *testing.T) {
	// Unparseable reflection output scores a flat 75 with no revision.
	client := llm.NewScriptedClient("好的").
		On("任务规划专家", carPlanJSON).
		On("基于以下分析结果", "最终答案")
	thinker := NewThinker(client, slog.New(slog.DiscardHandler))

	text := collect(thinker.Process(context.Background(), "推荐一款家用车", nil, nil))
	assert.Contains(t, text, "最终答案")
	assert.NotContains(t, text, "答案需要改进")
	assert.Equal(t, int64(0), thinker.Stats()["refinements"])
}

func TestThinkerStopsAtCancelledCheckpoint(t *testing.T) {
	thinker := NewThinker(scriptedPipeline(), slog.New(slog.DiscardHandler))

	calls := 0
	checkpoint := func(context.Context) error {
		calls++
		if calls > 1 {
			return context.Canceled
		}
		return nil
	}

	text := collect(thinker.Process(context.Background(), "推荐一款家用车", nil, checkpoint))
	assert.Contains(t, text, "[规划]")
	assert.NotContains(t, text, "[答案]")
	assert.GreaterOrEqual(t, calls, 2)
}

func TestThinkerFailedStepDoesNotAbortPipeline(t *testing.T) {
	planJSON := `{"intent": "查询", "steps": [
	  {"name": "失败的步骤", "description": "会失败"},
	  {"name": "正常步骤", "description": "会成功"}
	]}`
	client := llm.NewScriptedClient("好的").
		On("任务规划专家", planJSON).
		On("基于以下分析结果", "仍然给出答案").
		On("请评估以下答案", passingReflectJSON)

	failing := &flakyClient{inner: client, failOn: "会失败"}
	thinker := NewThinker(failing, slog.New(slog.DiscardHandler))

	text := collect(thinker.Process(context.Background(), "查一下", nil, nil))
	assert.Contains(t, text, "✗ 失败")
	assert.Contains(t, text, "仍然给出答案")
	assert.Equal(t, int64(1), thinker.Stats()["successful_tasks"])
}

func TestThinkerStepsCarryConstraints(t *testing.T) {
	// The constraint rule is registered before the generic step rule, so it
	// only wins when the step prompt actually carries the constraint block.
	client := llm.NewScriptedClient("好的").
		On("任务规划专家", carPlanJSON).
		On("预算20万以内", "已按预算筛选").
		On("请执行以下步骤", "步骤结论").
		On("基于以下分析结果", "综合以上分析，推荐车型A。").
		On("请评估以下答案", passingReflectJSON)
	thinker := NewThinker(client, slog.New(slog.DiscardHandler))

	shared := NewSharedContext("推荐一款家用车")
	shared.AddConstraint("要七座的")
	collect(thinker.Process(context.Background(), "推荐一款家用车", shared, nil))

	assert.Contains(t, shared.Constraints(), "要七座的")
	assert.Contains(t, shared.Constraints(), "预算20万以内")
	assert.Contains(t, shared.Progress().Partial, "已按预算筛选")
}

func TestThinkerInvokesPlannedSkills(t *testing.T) {
	planJSON := `{"intent": "算一下", "steps": [
	  {"name": "计算", "description": "计算 3 + 4", "skills": ["calculation"]}
	]}`
	client := llm.NewScriptedClient("好的").
		On("任务规划专家", planJSON).
		On("= 7", "三加四等于七").
		On("基于以下分析结果", "结果是 7").
		On("请评估以下答案", passingReflectJSON)

	inv := skill.NewInvoker(skill.Builtin(), slog.New(slog.DiscardHandler))
	thinker := NewThinker(client, slog.New(slog.DiscardHandler),
		WithSkills(inv, skill.Builtin().Names()))

	text := collect(thinker.Process(context.Background(), "帮我算 3 + 4", nil, nil))
	require.Contains(t, text, "[答案]")
	assert.Contains(t, text, "结果是 7")
}

// flakyClient fails Generate calls whose prompt contains failOn and defers to
// the inner client otherwise.
type flakyClient struct {
	inner  *llm.ScriptedClient
	failOn string
}

func (f *flakyClient) Generate(ctx context.Context, prompt string, opts ...llm.Option) (*llm.Result, error) {
	if f.failOn != "" && containsAny(prompt, []string{f.failOn}) {
		return nil, errors.New("backend exploded")
	}
	return f.inner.Generate(ctx, prompt, opts...)
}

func (f *flakyClient) GenerateWithMessages(ctx context.Context, messages []llm.Message, opts ...llm.Option) (*llm.Result, error) {
	return f.inner.GenerateWithMessages(ctx, messages, opts...)
}

func (f *flakyClient) Stream(ctx context.Context, prompt string, opts ...llm.Option) (<-chan llm.Fragment, error) {
	return f.inner.Stream(ctx, prompt, opts...)
}
