package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/duetalk/duetalk/internal/llm"
	"github.com/duetalk/duetalk/internal/task"
	"github.com/duetalk/duetalk/pkg/panicerr"
)

var (
	greetingWords      = []string{"你好", "嗨", "hi", "hello", "在吗", "在不在"}
	arithmeticSigns    = []string{"+", "-", "*", "/", "等于", "多少"}
	simpleQueryWords   = []string{"天气", "时间", "日期", "几点"}
	memoryQueryWords   = []string{"记得", "说过", "问过", "刚才", "之前", "上次", "历史"}
	complexityKeywords = []string{
		"分析", "比较", "评估", "设计", "规划", "优化",
		"深入", "详细解释", "原理解析", "多步", "步骤", "方案", "策略",
		"多个", "同时", "不同", "排名", "排列", "排序", "推荐",
		"最新", "实时", "评分", "打分", "对比", "综合",
		"详细", "完整", "全面", "汇总", "整理",
	}
	detailKeywords = []string{
		"什么", "哪些", "特点", "特征", "功能", "介绍",
		"解释", "说明", "怎样", "如何", "为什么",
		"地址", "电话", "联系方式", "信息",
	}
)

// Talker is the fast agent. It triages every request by complexity, answers
// simple and medium ones itself by streaming from its own small model, and
// hands complex ones to the Thinker via the NeedsThinkerMarker.
type Talker struct {
	client          llm.Client
	logger          *slog.Logger
	classifyTimeout time.Duration
	temperature     float64

	totalRequests   atomic.Int64
	simpleResponses atomic.Int64
	delegated       atomic.Int64
	errors          atomic.Int64
}

type TalkerOption func(*Talker)

func WithClassifyTimeout(d time.Duration) TalkerOption {
	return func(t *Talker) { t.classifyTimeout = d }
}

func WithTalkerTemperature(temp float64) TalkerOption {
	return func(t *Talker) { t.temperature = temp }
}

func NewTalker(client llm.Client, logger *slog.Logger, opts ...TalkerOption) *Talker {
	t := &Talker{
		client:          client,
		logger:          logger,
		classifyTimeout: 500 * time.Millisecond,
		temperature:     0.7,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// ClassifyComplexity triages the input. Rule matches win; otherwise a bounded
// model call decides, and any timeout or error degrades to simple so the user
// always gets an immediate answer.
func (t *Talker) ClassifyComplexity(ctx context.Context, input string) task.Complexity {
	if c, ok := t.quickComplexityCheck(input); ok {
		return c
	}

	classifyCtx, cancel := context.WithTimeout(ctx, t.classifyTimeout)
	defer cancel()

	res, err := t.client.Generate(classifyCtx, classificationPrompt(input),
		llm.WithMaxTokens(100), llm.WithTemperature(0.3))
	if err != nil {
		t.logger.DebugContext(ctx, "complexity classification fell back to simple", "error", err)
		return task.ComplexitySimple
	}
	return parseComplexity(res.Text)
}

func (t *Talker) quickComplexityCheck(input string) (task.Complexity, bool) {
	text := strings.ToLower(input)
	runes := utf8.RuneCountInString(text)

	if containsAny(text, greetingWords) && runes < 20 {
		return task.ComplexitySimple, true
	}
	if containsAny(text, arithmeticSigns) && runes < 30 {
		return task.ComplexitySimple, true
	}
	if containsAny(text, simpleQueryWords) && runes < 30 {
		return task.ComplexitySimple, true
	}
	if containsAny(text, complexityKeywords) {
		return task.ComplexityComplex, true
	}
	if containsAny(text, detailKeywords) {
		return task.ComplexityMedium, true
	}
	if runes > 100 {
		return task.ComplexityMedium, true
	}
	return "", false
}

func classificationPrompt(input string) string {
	return fmt.Sprintf(`请判断以下用户请求的复杂度：

用户输入：%s

复杂度标准：
1. simple - 简单问候、简单查询、一句话能回答的问题
2. medium - 需要简短解释、包含多个子问题
3. complex - 需要深度分析、多步推理、复杂规划

只返回复杂度级别（simple/medium/complex），不要解释。`, input)
}

func parseComplexity(response string) task.Complexity {
	response = strings.ToLower(strings.TrimSpace(response))
	switch {
	case strings.Contains(response, "simple"):
		return task.ComplexitySimple
	case strings.Contains(response, "complex"):
		return task.ComplexityComplex
	case strings.Contains(response, "medium"):
		return task.ComplexityMedium
	default:
		return task.ComplexitySimple
	}
}

// Respond triages the input itself and streams the answer. The triage here
// is independent of any the caller already did, which is what lets the
// delegation protocol escalate: a request routed to the Talker can still
// come back with the NeedsThinkerMarker.
func (t *Talker) Respond(ctx context.Context, input string, history []llm.Message) <-chan string {
	return t.RespondWith(ctx, input, t.ClassifyComplexity(ctx, input), history)
}

// RespondWith streams the Talker's answer for an already-decided complexity.
// For complex requests it emits an acknowledgement followed by the
// NeedsThinkerMarker and nothing else. The channel is closed when the
// response is finished.
func (t *Talker) RespondWith(ctx context.Context, input string, complexity task.Complexity, history []llm.Message) <-chan string {
	t.totalRequests.Add(1)
	out := make(chan string, 8)

	go func() {
		defer close(out)
		err := panicerr.Run(func() error {
			switch complexity {
			case task.ComplexityComplex:
				t.delegated.Add(1)
				emit(ctx, out, "这个问题有点复杂，让我深度思考一下...\n\n")
				emit(ctx, out, NeedsThinkerMarker)
			case task.ComplexityMedium:
				t.streamResponse(ctx, out, responsePrompt(input, history, "medium"), 500)
			default:
				t.simpleResponses.Add(1)
				t.streamResponse(ctx, out, responsePrompt(input, history, "quick"), 200)
			}
			return nil
		})
		if err != nil {
			t.errors.Add(1)
			emit(ctx, out, fmt.Sprintf("抱歉，处理时出现问题：%s", err))
		}
	}()
	return out
}

func (t *Talker) streamResponse(ctx context.Context, out chan<- string, prompt string, maxTokens int) {
	fragments, err := t.client.Stream(ctx, prompt,
		llm.WithMaxTokens(maxTokens), llm.WithTemperature(t.temperature))
	if err != nil {
		t.errors.Add(1)
		emit(ctx, out, fmt.Sprintf("抱歉，处理时出现问题：%s", err))
		return
	}

	hasContent := false
	for f := range fragments {
		if f.Err != nil {
			t.errors.Add(1)
			emit(ctx, out, fmt.Sprintf("抱歉，处理时出现问题：%s", f.Err))
			return
		}
		hasContent = true
		if !emit(ctx, out, f.Text) {
			return
		}
	}
	if !hasContent {
		emit(ctx, out, "抱歉，我暂时无法连接到模型服务。")
	}
}

func responsePrompt(input string, history []llm.Message, mode string) string {
	isMemoryQuery := containsAny(input, memoryQueryWords)

	historyLimit := 5
	if isMemoryQuery {
		historyLimit = 15
	}
	var contextStr string
	if len(history) > 1 {
		recent := history
		if len(recent) > historyLimit {
			recent = recent[len(recent)-historyLimit:]
		}
		var b strings.Builder
		b.WriteString("\n对话历史：\n")
		for _, m := range recent {
			speaker := "助手"
			if m.Role == llm.RoleUser {
				speaker = "用户"
			}
			fmt.Fprintf(&b, "[%s]: %s\n", speaker, truncateRunes(m.Content, 200))
		}
		contextStr = b.String()
	}

	if mode == "medium" {
		hint := "你是一个友好的对话助手。"
		if isMemoryQuery {
			hint = "你是一个友好的对话助手。\n用户正在询问之前的对话内容。请仔细查看对话历史，准确回忆并总结用户之前提到的内容。"
		}
		return fmt.Sprintf(`%s
%s
当前用户问题：%s

请提供一个有帮助的回答（200字以内）：`, hint, contextStr, input)
	}

	hint := "你是一个友好、高效的对话助手。请简洁地回复用户。"
	if isMemoryQuery {
		hint = "你是一个友好、高效的对话助手。\n用户正在询问之前的对话内容。请仔细查看对话历史，准确回忆用户之前提到的内容。\n如果找到了相关内容，直接告诉用户；如果没找到，诚实地说明。"
	}
	return fmt.Sprintf(`%s
%s
当前用户消息：%s

要求：
1. 回复简洁（不超过100字）
2. 语气友好
3. 结合对话历史理解用户意图
4. 直接回答问题

回复：`, hint, contextStr, input)
}

// ProgressBroadcast produces a one-line status update for the user while the
// Thinker works. The model call is tightly bounded; on timeout the message
// degrades to a canned line keyed off elapsed time.
func (t *Talker) ProgressBroadcast(ctx context.Context, query, recentOutput string, elapsed time.Duration) string {
	snippet := recentOutput
	if utf8.RuneCountInString(snippet) > 500 {
		snippet = lastRunes(snippet, 500)
	}

	prompt := fmt.Sprintf(`你是一个友好的助手，正在帮用户处理一个复杂任务。请根据当前进度，用一句话（不超过30字）向用户播报当前进度。

用户问题：%s

已耗时：%.0f秒

当前处理进度：
%s

要求：
1. 根据实际处理内容描述进度，不要重复
2. 语气自然、友好
3. 简洁（不超过30字）
4. 如果正在规划，说"正在规划..."
5. 如果正在分析，说"正在分析..."
6. 如果正在对比，说"正在对比..."
7. 如果正在生成结果，说"正在整理结果..."

只输出一句话，不要解释：`, query, elapsed.Seconds(), snippet)

	broadcastCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	res, err := t.client.Generate(broadcastCtx, prompt,
		llm.WithMaxTokens(50), llm.WithTemperature(0.3))
	if err != nil {
		switch {
		case elapsed < 10*time.Second:
			return "正在处理中..."
		case elapsed < 30*time.Second:
			return "正在深入分析..."
		default:
			return "即将完成，请稍候..."
		}
	}
	return strings.TrimSpace(res.Text)
}

// Stats returns the Talker's request counters.
func (t *Talker) Stats() map[string]int64 {
	return map[string]int64{
		"total_requests":       t.totalRequests.Load(),
		"simple_responses":     t.simpleResponses.Load(),
		"delegated_to_thinker": t.delegated.Load(),
		"errors":               t.errors.Load(),
	}
}

func emit(ctx context.Context, out chan<- string, text string) bool {
	select {
	case out <- text:
		return true
	case <-ctx.Done():
		return false
	}
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

func lastRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[len(r)-n:])
}
