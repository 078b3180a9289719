package repl

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/duetalk/duetalk/internal/intent"
	"github.com/duetalk/duetalk/internal/task"
)

// interject handles a line typed while a task is in flight. It returns the
// immediate reply text and, when the line replaces the current task, the new
// task input to start.
func (r *REPL) interject(ctx context.Context, line string) (resp, newTask string) {
	if r.isAwaitingConfirm() {
		return r.handleConfirmation(ctx, line)
	}

	if shared := r.currentShared(); shared != nil && r.lex != nil {
		if emotion := r.lex.DetectEmotion(line); emotion != "" {
			shared.SetEmotion(emotion)
		}
	}

	switch r.manager.ClassifyIntent(line) {
	case intent.Comment:
		return r.commentReply(line), ""

	case intent.Backchannel:
		return "嗯，继续...", ""

	case intent.QueryStatus:
		return r.statusReply(), ""

	case intent.Modify:
		r.manager.AddSupplement(line)
		if shared := r.currentShared(); shared != nil {
			shared.MergeSupplement(line)
			shared.AddConstraint(line)
			shared.AddInteraction(line, "supplement")
		}
		return fmt.Sprintf("收到补充信息「%s」，已并入当前任务继续处理...", truncate(line, 20)), ""

	case intent.Pause:
		if r.manager.Pause(ctx) {
			return "好的，已暂停。说'继续'可以恢复", ""
		}
		return "当前没有可以暂停的任务哦", ""

	case intent.Resume:
		if r.manager.Resume(ctx) {
			return "好的，继续处理...", ""
		}
		return "当前没有暂停的任务哦", ""

	case intent.Replace:
		return r.handleReplace(ctx, line)

	default:
		if shared := r.currentShared(); shared != nil && shared.PendingClarification() != nil {
			shared.AnswerClarification(line)
			return "明白了，按这个来继续处理...", ""
		}
		return fmt.Sprintf("收到，继续处理「%s...」", truncate(r.currentInput(), 15)), ""
	}
}

// handleReplace decides between cancelling outright and asking the user what
// to do with the half-finished task. A barely started task is cheap to drop.
func (r *REPL) handleReplace(ctx context.Context, line string) (resp, newTask string) {
	action, replacement := r.manager.DecideInterrupt(line)

	elapsed := r.manager.Elapsed()
	percent := 0.0
	if shared := r.currentShared(); shared != nil {
		percent = shared.Progress().Percent()
	}

	switch action {
	case intent.ActionCancelOnly:
		r.cancelCurrent(ctx)
		return "好的，已取消当前任务。还有什么需要帮忙的吗？", ""

	case intent.ActionReplaceNewTask:
		if replacement == "" {
			replacement = line
		}
		if elapsed < 10*time.Second && percent < 20 {
			r.cancelCurrent(ctx)
			return "好的，已取消当前任务，开始处理新任务...", replacement
		}
		r.mu.Lock()
		r.awaitingConfirm = true
		r.pendingNewTask = replacement
		r.mu.Unlock()
		return fmt.Sprintf(
			"当前任务「%s...」已完成 %.0f%%，您想怎么处理？\n"+
				"  1. 取消当前任务，立即处理新请求\n"+
				"  2. 当前任务完成后再处理新请求\n"+
				"  3. 稍后再说",
			truncate(r.currentInput(), 15), percent), ""

	default:
		return fmt.Sprintf("收到，继续处理「%s...」", truncate(r.currentInput(), 15)), ""
	}
}

// handleConfirmation consumes the reply to a pending replace prompt.
func (r *REPL) handleConfirmation(ctx context.Context, line string) (resp, newTask string) {
	r.mu.Lock()
	pending := r.pendingNewTask
	r.awaitingConfirm = false
	r.pendingNewTask = ""
	r.mu.Unlock()

	switch parseConfirmationChoice(line) {
	case 1:
		r.cancelCurrent(ctx)
		return "好的，已取消当前任务，开始处理新任务...", pending
	case 2:
		r.mu.Lock()
		r.queue = append(r.queue, pending)
		r.mu.Unlock()
		return "好的，新请求已排队，当前任务完成后自动处理。", ""
	case 3:
		return "好的，那就先继续当前任务。", ""
	default:
		// Not a choice at all. Put the prompt back and treat the line as a
		// fresh interjection.
		r.mu.Lock()
		r.awaitingConfirm = true
		r.pendingNewTask = pending
		r.mu.Unlock()
		return "请回复 1、2 或 3 来选择怎么处理～", ""
	}
}

func parseConfirmationChoice(line string) int {
	line = strings.TrimSpace(line)
	switch {
	case strings.HasPrefix(line, "1") || strings.Contains(line, "取消"):
		return 1
	case strings.HasPrefix(line, "2") || strings.Contains(line, "排队") || strings.Contains(line, "等"):
		return 2
	case strings.HasPrefix(line, "3") || strings.Contains(line, "稍后") || strings.Contains(line, "算了"):
		return 3
	}
	return 0
}

// commentReply answers incidental commentary without touching the task.
func (r *REPL) commentReply(line string) string {
	switch {
	case strings.Contains(line, "慢") || strings.Contains(line, "久"):
		return "抱歉让您久等了，正在加速处理..."
	case strings.Contains(line, "在") && strings.Contains(line, "吗"):
		return "在的！正在为您处理，请稍候..."
	case strings.Contains(line, "好") || strings.Contains(line, "不错") ||
		strings.Contains(line, "行") || strings.Contains(line, "可以"):
		return "好的，继续处理中..."
	case strings.Contains(line, "?") || strings.Contains(line, "？"):
		return "您的问题我记下了，先处理完当前任务再回复您～"
	}
	return ""
}

var stageNames = map[string]string{
	"planning":     "规划方案中",
	"executing":    "执行步骤中",
	"synthesizing": "整合答案中",
	"reflecting":   "检查完善中",
	"refining":     "检查完善中",
}

// statusReply reports where the current task is.
func (r *REPL) statusReply() string {
	if r.manager.State() == task.StateCancelling {
		return "任务正在取消中，请稍候..."
	}
	if !r.manager.Processing() {
		return "目前没有需要处理的任务。如果您有其他需求，请随时告诉我！"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "正在处理「%s...」", truncate(r.currentInput(), 15))

	if shared := r.currentShared(); shared != nil {
		p := shared.Progress()
		if name, ok := stageNames[p.Stage]; ok {
			fmt.Fprintf(&b, "，%s", name)
			if p.Stage == "executing" && p.TotalSteps > 0 {
				fmt.Fprintf(&b, "（第%d/%d步）", p.Step, p.TotalSteps)
			}
		}
		if len(p.Partial) > 0 {
			fmt.Fprintf(&b, "\n最新进展：%s", truncate(p.Partial[len(p.Partial)-1], 50))
		}
	}
	fmt.Fprintf(&b, "\n已用时 %d 秒，请稍候～", int(r.manager.Elapsed().Seconds()))
	return b.String()
}

// cancelCurrent cancels synchronously and drains the runner before returning,
// so the next task never overlaps the cancelled one.
func (r *REPL) cancelCurrent(ctx context.Context) {
	done := r.currentDone()
	if !r.manager.Cancel(ctx) {
		return
	}
	select {
	case <-done:
	case <-time.After(r.pollInterval * 10):
	}
	r.mu.Lock()
	r.current = nil
	r.shared = nil
	r.taskDone = nil
	r.mu.Unlock()
}

func (r *REPL) isAwaitingConfirm() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.awaitingConfirm
}

func (r *REPL) currentInput() string {
	if t := r.manager.CurrentTask(); t != nil {
		return t.Input
	}
	return ""
}
