package orchestrator

import (
	"regexp"
	"strings"

	"github.com/duetalk/duetalk/internal/agent"
)

var (
	timestampTagRe = regexp.MustCompile(`\n?\[\d{2}:\d{2}:\d{2}\.\d{3}\]\s*(Talker|Thinker):\s*`)
	agentTagRe     = regexp.MustCompile(`\n?\[(Talker|Thinker)[^\]]*\]\s*`)
	metricsBlockRe = regexp.MustCompile(`(?s)\n-{10,}.*?-{10,}`)
	metricsLineRe  = regexp.MustCompile(`\n\s*(Tokens|TTFT|TPOT|TPS|总生成时延|LLM请求时间)[^\n]*`)
	blankRunRe     = regexp.MustCompile(`\n{3,}`)
)

// StripMarkers removes orchestration metadata from a raw response before it
// is persisted as an assistant turn: the thinker-handoff marker, agent
// identity tags, timestamps and performance metric lines. Thinker stage
// output such as step lines survives because it is part of the answer.
func StripMarkers(s string) string {
	s = strings.ReplaceAll(s, agent.NeedsThinkerMarker, "")
	s = timestampTagRe.ReplaceAllString(s, "")
	s = agentTagRe.ReplaceAllString(s, "")
	s = metricsBlockRe.ReplaceAllString(s, "")
	s = metricsLineRe.ReplaceAllString(s, "")
	s = blankRunRe.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
