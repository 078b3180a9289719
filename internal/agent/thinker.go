package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/duetalk/duetalk/internal/llm"
	"github.com/duetalk/duetalk/internal/skill"
	"github.com/duetalk/duetalk/pkg/panicerr"
)

// Plan is the Thinker's decomposition of one complex request.
type Plan struct {
	Intent        string     `json:"intent"`
	Constraints   []string   `json:"constraints"`
	Steps         []PlanStep `json:"steps"`
	Risks         []Risk     `json:"risks"`
	EstimatedTime int        `json:"estimated_time"`
}

type PlanStep struct {
	Name           string   `json:"name"`
	Description    string   `json:"description"`
	Skills         []string `json:"skills"`
	ExpectedOutput string   `json:"expected_output"`
}

type Risk struct {
	Risk       string `json:"risk"`
	Mitigation string `json:"mitigation"`
}

// StepResult records one executed plan step. A failed step is recorded and
// the pipeline continues; the synthesis stage works with whatever succeeded.
type StepResult struct {
	Name         string
	Success      bool
	Result       string
	SkillOutputs []skill.Result
	Err          string
	Latency      time.Duration
}

// QualityScore is the reflection stage's verdict on a draft answer. All
// dimensions are 0 to 100.
type QualityScore struct {
	Completeness  int      `json:"completeness"`
	Accuracy      int      `json:"accuracy"`
	Relevance     int      `json:"relevance"`
	Clarity       int      `json:"clarity"`
	Usefulness    int      `json:"usefulness"`
	Overall       int      `json:"overall_score"`
	Issues        []string `json:"issues"`
	Suggestions   []string `json:"suggestions"`
	NeedsRevision bool     `json:"needs_revision"`
}

// Checkpoint is called between pipeline stages and plan steps. It blocks
// while the task is paused and returns a non-nil error once the task is
// cancelled, at which point the Thinker unwinds without producing output.
type Checkpoint func(ctx context.Context) error

// Thinker is the deliberate agent. It plans, executes steps with optional
// skill calls, synthesizes an answer, and optionally reflects on and refines
// it. Every model-dependent stage has a local fallback so a flaky backend
// degrades quality instead of failing the task.
type Thinker struct {
	client            llm.Client
	invoker           *skill.Invoker
	skillNames        []string
	logger            *slog.Logger
	temperature       float64
	reflectionEnabled bool
	revisionThreshold int

	mu           sync.Mutex
	totalTasks   int64
	succeeded    int64
	failed       int64
	totalSteps   int64
	refinements  int64
	totalLatency time.Duration
}

type ThinkerOption func(*Thinker)

func WithReflection(enabled bool, revisionThreshold int) ThinkerOption {
	return func(t *Thinker) {
		t.reflectionEnabled = enabled
		t.revisionThreshold = revisionThreshold
	}
}

func WithThinkerTemperature(temp float64) ThinkerOption {
	return func(t *Thinker) { t.temperature = temp }
}

// WithSkills wires the skill invoker and the names advertised to the planner.
func WithSkills(invoker *skill.Invoker, names []string) ThinkerOption {
	return func(t *Thinker) {
		t.invoker = invoker
		t.skillNames = names
	}
}

func NewThinker(client llm.Client, logger *slog.Logger, opts ...ThinkerOption) *Thinker {
	t := &Thinker{
		client:            client,
		logger:            logger,
		temperature:       0.7,
		reflectionEnabled: true,
		revisionThreshold: 80,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Process runs the full pipeline for one complex request, streaming stage
// markers and the final answer. A cancelled checkpoint or context stops the
// stream without an error message; any other failure is reported inline.
func (t *Thinker) Process(ctx context.Context, input string, shared *SharedContext, checkpoint Checkpoint) <-chan string {
	out := make(chan string, 8)
	go func() {
		defer close(out)
		err := panicerr.Run(func() error {
			t.run(ctx, out, input, shared, checkpoint)
			return nil
		})
		if err != nil {
			t.mu.Lock()
			t.failed++
			t.mu.Unlock()
			emit(ctx, out, fmt.Sprintf("\n[错误] 处理失败: %s\n", err))
			emit(ctx, out, "[建议] 请稍后重试或简化您的问题")
		}
	}()
	return out
}

func (t *Thinker) run(ctx context.Context, out chan<- string, input string, shared *SharedContext, checkpoint Checkpoint) {
	t.mu.Lock()
	t.totalTasks++
	t.mu.Unlock()
	start := time.Now()
	defer func() {
		t.mu.Lock()
		t.totalLatency += time.Since(start)
		t.mu.Unlock()
	}()

	pause := func() error {
		if checkpoint != nil {
			if err := checkpoint(ctx); err != nil {
				return err
			}
		}
		return ctx.Err()
	}

	// Planning.
	updateProgress(shared, "planning", 0, 0, "")
	emit(ctx, out, "[思考] 正在分析任务...\n")
	planStart := time.Now()
	plan := t.planTask(ctx, input, shared)
	if shared != nil {
		shared.SetEntity("intent", plan.Intent)
		for _, c := range plan.Constraints {
			shared.AddConstraint(c)
		}
	}
	emit(ctx, out, fmt.Sprintf("  ✓ 规划完成 (%dms)\n", time.Since(planStart).Milliseconds()))
	emit(ctx, out, fmt.Sprintf("\n[规划] 任务目标: %s\n", plan.Intent))
	emit(ctx, out, fmt.Sprintf("[规划] 共%d个步骤\n\n", len(plan.Steps)))

	if err := pause(); err != nil {
		return
	}

	// Execution.
	updateProgress(shared, "executing", 0, len(plan.Steps), "")
	results := make([]StepResult, 0, len(plan.Steps))
	for i, step := range plan.Steps {
		if err := pause(); err != nil {
			return
		}
		num := i + 1
		updateProgress(shared, "executing", num, len(plan.Steps), "")
		name := step.Name
		if name == "" {
			name = "执行中..."
		}
		emit(ctx, out, fmt.Sprintf("[步骤%d] %s...\n", num, name))

		// Constraints are re-read every step so supplements merged in
		// mid-task reach the remaining steps.
		var constraints []string
		if shared != nil {
			constraints = shared.Constraints()
		}
		res := t.executeStep(ctx, step, results, constraints)
		results = append(results, res)
		t.mu.Lock()
		t.totalSteps++
		t.mu.Unlock()

		if res.Success {
			emit(ctx, out, fmt.Sprintf("  ✓ 完成 (%dms)\n", res.Latency.Milliseconds()))
			updateProgress(shared, "", 0, 0, res.Result)
		} else {
			emit(ctx, out, fmt.Sprintf("  ✗ 失败: %s\n", res.Err))
		}
	}

	if err := pause(); err != nil {
		return
	}

	// Synthesis.
	updateProgress(shared, "synthesizing", 0, 0, "")
	emit(ctx, out, "\n[思考] 整合结果，生成最终答案...\n")
	answer, err := t.synthesize(ctx, input, results)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		t.mu.Lock()
		t.failed++
		t.mu.Unlock()
		emit(ctx, out, fmt.Sprintf("\n[错误] 处理失败: %s\n", err))
		emit(ctx, out, "[建议] 请稍后重试或简化您的问题")
		return
	}

	// Reflection and refinement.
	if t.reflectionEnabled {
		if err := pause(); err != nil {
			return
		}
		updateProgress(shared, "reflecting", 0, 0, "")
		emit(ctx, out, "[思考] 检查答案质量...\n")
		quality := t.reflect(ctx, input, answer)
		if quality.NeedsRevision && quality.Overall < t.revisionThreshold {
			emit(ctx, out, "[思考] 答案需要改进，正在优化...\n")
			t.mu.Lock()
			t.refinements++
			t.mu.Unlock()
			updateProgress(shared, "refining", 0, 0, "")
			if refined, err := t.refine(ctx, input, answer, quality); err == nil {
				answer = refined
			}
		}
	}

	if err := pause(); err != nil {
		return
	}
	updateProgress(shared, "done", 0, 0, "")
	t.mu.Lock()
	t.succeeded++
	t.mu.Unlock()
	emit(ctx, out, "\n[答案]\n")
	emit(ctx, out, answer)
}

// planTask asks the model for a JSON plan and falls back to a single
// analysis step built from the raw input when the model cannot deliver one.
func (t *Thinker) planTask(ctx context.Context, input string, shared *SharedContext) Plan {
	intent := input
	if shared != nil {
		intent = shared.Intent()
	}

	res, err := t.client.Generate(ctx, t.planningPrompt(intent),
		llm.WithMaxTokens(1000), llm.WithTemperature(t.temperature))
	if err == nil {
		if plan, ok := parsePlan(res.Text); ok {
			return plan
		}
	} else {
		t.logger.WarnContext(ctx, "planning call failed, using fallback plan", "error", err)
	}
	return Plan{
		Intent: truncateRunes(intent, 100),
		Steps:  []PlanStep{{Name: "分析问题", Description: intent}},
	}
}

func (t *Thinker) planningPrompt(input string) string {
	skillsInfo := ""
	if len(t.skillNames) > 0 {
		skillsInfo = fmt.Sprintf("\n可用技能: %s", strings.Join(t.skillNames, ", "))
	}
	return fmt.Sprintf(`作为一个任务规划专家，请分析以下用户请求并制定执行计划：

用户请求：%s
%s
请输出JSON格式的计划：
{
  "intent": "用户的核心意图（一句话）",
  "constraints": ["约束条件1", "约束条件2"],
  "steps": [
    {
      "name": "步骤名称",
      "description": "详细描述",
      "skills": ["需要调用的技能"],
      "expected_output": "预期输出"
    }
  ],
  "risks": [
    {"risk": "风险描述", "mitigation": "缓解措施"}
  ],
  "estimated_time": 预计秒数
}

只输出JSON，不要其他内容。`, input, skillsInfo)
}

// parsePlan lifts the first-{ to last-} slice of the response and decodes it.
// Models wrap JSON in prose often enough that strict decoding is useless.
func parsePlan(response string) (Plan, bool) {
	start := strings.Index(response, "{")
	end := strings.LastIndex(response, "}")
	if start < 0 || end <= start {
		return Plan{}, false
	}
	var plan Plan
	if err := json.Unmarshal([]byte(response[start:end+1]), &plan); err != nil {
		return Plan{}, false
	}
	if len(plan.Steps) == 0 {
		return Plan{}, false
	}
	return plan, true
}

func (t *Thinker) executeStep(ctx context.Context, step PlanStep, previous []StepResult, constraints []string) StepResult {
	start := time.Now()
	name := step.Name
	if name == "" {
		name = "未命名步骤"
	}

	var skillOutputs []skill.Result
	if t.invoker != nil {
		for _, skillName := range step.Skills {
			res := t.invoker.Invoke(ctx, skillName, map[string]string{
				"query": step.Description,
				"text":  step.Description,
			})
			skillOutputs = append(skillOutputs, res)
		}
	}

	res, err := t.client.Generate(ctx, stepPrompt(step, previous, skillOutputs, constraints),
		llm.WithMaxTokens(500), llm.WithTemperature(t.temperature))
	if err != nil {
		return StepResult{
			Name:         name,
			SkillOutputs: skillOutputs,
			Err:          err.Error(),
			Latency:      time.Since(start),
		}
	}
	return StepResult{
		Name:         name,
		Success:      true,
		Result:       res.Text,
		SkillOutputs: skillOutputs,
		Latency:      time.Since(start),
	}
}

func stepPrompt(step PlanStep, previous []StepResult, skillOutputs []skill.Result, constraints []string) string {
	var consInfo string
	if len(constraints) > 0 {
		consInfo = fmt.Sprintf("\n约束条件：\n- %s\n", strings.Join(constraints, "\n- "))
	}

	var prevInfo strings.Builder
	if len(previous) > 0 {
		recent := previous
		if len(recent) > 3 {
			recent = recent[len(recent)-3:]
		}
		prevInfo.WriteString("\n之前步骤的结果:\n")
		for _, r := range recent {
			fmt.Fprintf(&prevInfo, "- %s: %s\n", r.Name, truncateRunes(r.Result, 200))
		}
	}

	var skillInfo strings.Builder
	for _, r := range skillOutputs {
		output := r.Formatted
		if !r.Success {
			output = fmt.Sprintf("技能调用失败: %s", r.Error)
		}
		fmt.Fprintf(&skillInfo, "\n技能 %s 的输出: %s", r.Skill, output)
	}

	expected := step.ExpectedOutput
	if expected == "" {
		expected = "文字描述"
	}
	return fmt.Sprintf(`请执行以下步骤：

步骤名称：%s
步骤描述：%s
预期输出：%s
%s%s%s
请直接输出执行结果：`, step.Name, step.Description, expected, consInfo, prevInfo.String(), skillInfo.String())
}

func (t *Thinker) synthesize(ctx context.Context, input string, results []StepResult) (string, error) {
	var summary strings.Builder
	for _, r := range results {
		if !r.Success {
			continue
		}
		fmt.Fprintf(&summary, "【%s】\n%s\n", r.Name, r.Result)
	}

	prompt := fmt.Sprintf(`基于以下分析结果，请回答用户的原始问题：

用户问题：%s

分析过程：
%s
请提供一个完整、有帮助的回答：`, input, summary.String())

	res, err := t.client.Generate(ctx, prompt,
		llm.WithMaxTokens(1000), llm.WithTemperature(t.temperature))
	if err != nil {
		return "", err
	}
	return res.Text, nil
}

// reflect scores the draft answer on five dimensions. An unusable response
// yields a flat 75 with no revision requested, so reflection can only ever
// improve the answer, never block it.
func (t *Thinker) reflect(ctx context.Context, question, answer string) QualityScore {
	prompt := fmt.Sprintf(`请评估以下答案的质量：

原始问题：%s

答案：%s

请从以下维度评分（0-100）：
1. 完整性 - 是否完整回答了问题
2. 准确性 - 逻辑是否自洽，事实是否准确
3. 相关性 - 是否针对问题，有无冗余信息
4. 清晰性 - 语言是否清晰，结构是否合理
5. 实用性 - 是否有帮助，是否提供可操作建议

请输出JSON格式：
{
  "completeness": 分数,
  "accuracy": 分数,
  "relevance": 分数,
  "clarity": 分数,
  "usefulness": 分数,
  "overall_score": 总分,
  "issues": ["问题1", "问题2"],
  "suggestions": ["建议1", "建议2"],
  "needs_revision": true/false
}`, question, answer)

	fallback := QualityScore{
		Completeness: 75, Accuracy: 75, Relevance: 75,
		Clarity: 75, Usefulness: 75, Overall: 75,
	}
	res, err := t.client.Generate(ctx, prompt,
		llm.WithMaxTokens(500), llm.WithTemperature(0.3))
	if err != nil {
		return fallback
	}
	start := strings.Index(res.Text, "{")
	end := strings.LastIndex(res.Text, "}")
	if start < 0 || end <= start {
		return fallback
	}
	var score QualityScore
	if err := json.Unmarshal([]byte(res.Text[start:end+1]), &score); err != nil {
		return fallback
	}
	return score
}

func (t *Thinker) refine(ctx context.Context, question, answer string, quality QualityScore) (string, error) {
	var issues, suggestions strings.Builder
	for _, i := range quality.Issues {
		fmt.Fprintf(&issues, "- %s\n", i)
	}
	for _, s := range quality.Suggestions {
		fmt.Fprintf(&suggestions, "- %s\n", s)
	}

	prompt := fmt.Sprintf(`请改进以下答案：

原始问题：%s

当前答案：%s

存在的问题：
%s
改进建议：
%s
请输出改进后的答案：`, question, answer, issues.String(), suggestions.String())

	res, err := t.client.Generate(ctx, prompt,
		llm.WithMaxTokens(1200), llm.WithTemperature(t.temperature))
	if err != nil {
		return "", err
	}
	return res.Text, nil
}

// Stats returns the Thinker's pipeline counters.
func (t *Thinker) Stats() map[string]int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	avg := int64(0)
	if t.totalTasks > 0 {
		avg = t.totalLatency.Milliseconds() / t.totalTasks
	}
	return map[string]int64{
		"total_tasks":      t.totalTasks,
		"successful_tasks": t.succeeded,
		"failed_tasks":     t.failed,
		"total_steps":      t.totalSteps,
		"refinements":      t.refinements,
		"avg_latency_ms":   avg,
	}
}

func updateProgress(shared *SharedContext, stage string, step, total int, partial string) {
	if shared != nil {
		shared.UpdateProgress(stage, step, total, partial)
	}
}
