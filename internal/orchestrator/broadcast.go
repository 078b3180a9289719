package orchestrator

import (
	"fmt"
	"time"

	"github.com/duetalk/duetalk/internal/agent"
)

const maxBroadcasts = 8

// broadcaster decides when the Talker should interject a progress line while
// the Thinker works, keyed off the shared progress state. Broadcasts fire on
// stage changes, step changes, and bounded per-stage intervals, and never
// repeat the previous message.
type broadcaster struct {
	start     time.Time
	lastStage string
	lastStep  int
	lastAt    time.Time
	lastMsg   string
	count     int
	topic     string

	// generate, when set, produces interval-driven broadcast text from the
	// Talker's model. Canned lines are the fallback when it returns "".
	generate func(p agent.Progress, elapsed time.Duration) string
}

func newBroadcaster(topic string) *broadcaster {
	now := time.Now()
	return &broadcaster{
		start: now,
		// Backdated so the first stage change broadcasts immediately.
		lastAt: now.Add(-3 * time.Second),
		topic:  topic,
	}
}

func (b *broadcaster) interval(stage string) time.Duration {
	switch stage {
	case "planning":
		return 8 * time.Second
	case "executing":
		return 5 * time.Second
	default:
		return 6 * time.Second
	}
}

// next returns the broadcast message due for the given progress snapshot,
// or "" when nothing should be said right now.
func (b *broadcaster) next(p agent.Progress) string {
	now := time.Now()
	due := false
	switch {
	case p.Stage != b.lastStage && p.Stage != "idle" && p.Stage != "done":
		due = true
	case p.Stage == "executing" && p.Step > 0 && p.Step != b.lastStep:
		due = true
	case now.Sub(b.lastAt) >= b.interval(p.Stage) && b.count < maxBroadcasts:
		due = true
	}

	if p.Stage != b.lastStage {
		b.lastStage = p.Stage
	}
	b.lastStep = p.Step
	if !due || p.Stage == "done" || p.Stage == "idle" {
		return ""
	}

	msg := b.message(p, now.Sub(b.start))
	if msg == "" || msg == b.lastMsg {
		return ""
	}
	b.lastAt = now
	b.lastMsg = msg
	b.count++
	return msg
}

func (b *broadcaster) message(p agent.Progress, elapsed time.Duration) string {
	switch p.Stage {
	case "planning":
		switch {
		case b.count == 0:
			return fmt.Sprintf("已理解需求，正在制定%s分析方案...", b.topic)
		case b.count < 2:
			return "正在设计最优分析路径..."
		default:
			return b.generated(p, elapsed, fmt.Sprintf("规划中，请稍候... (已耗时 %.0fs)", elapsed.Seconds()))
		}
	case "executing":
		if p.TotalSteps > 0 && p.Step > 0 {
			pct := int(p.Percent())
			return fmt.Sprintf("已完成 %d/%d 个步骤 (%d%%)...", p.Step, p.TotalSteps, pct)
		}
		return b.generated(p, elapsed, fmt.Sprintf("正在处理中... (已耗时 %.0fs)", elapsed.Seconds()))
	case "synthesizing":
		if b.count == 0 {
			return "正在整合分析结果..."
		}
		return "即将完成，正在整理答案..."
	case "reflecting", "refining":
		return "正在检查和完善答案..."
	default:
		return b.generated(p, elapsed, fmt.Sprintf("处理中... (已耗时 %.0fs)", elapsed.Seconds()))
	}
}

func (b *broadcaster) generated(p agent.Progress, elapsed time.Duration, fallback string) string {
	if b.generate != nil {
		if msg := b.generate(p, elapsed); msg != "" {
			return msg
		}
	}
	return fallback
}
