package intent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/duetalk/duetalk/internal/llm"
)

// ClassifyWithModel asks the generation backend to label the utterance,
// bounded by timeout. Any error, timeout or unparseable reply falls back to
// the keyword table, so this call can never make classification worse than
// the fast path.
func (c *Classifier) ClassifyWithModel(
	ctx context.Context,
	client llm.Client,
	newInput, currentInput, currentTopic string,
	timeout time.Duration,
) Intent {
	if currentInput == "" {
		return Replace
	}

	prompt := fmt.Sprintf(`系统正在处理用户的任务：%s

用户在等待过程中说：%s

请判断用户这句话的意图（注意：不要过度解读，用户可能只是随口评论）：

1. COMMENT - 评论/感叹（如"不错"、"挺好的"）
2. BACKCHANNEL - 简单附和（如"嗯"、"好的"）
3. MODIFY - 补充当前任务的信息（如"再加上..."）
4. QUERY_STATUS - 查询进度（如"好了吗"）
5. REPLACE - 取消当前任务或提出全新任务
6. CONTINUE - 回答系统的澄清问题

只返回一个意图类型，不要解释。`, truncate(currentInput, 100), newInput)

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := client.Generate(callCtx, prompt, llm.WithMaxTokens(20), llm.WithTemperature(0.3))
	if err != nil {
		return c.Classify(newInput, currentInput, currentTopic)
	}

	reply := strings.ToUpper(result.Text)
	for _, candidate := range []Intent{Replace, Modify, QueryStatus, Comment, Backchannel, Continue} {
		if strings.Contains(reply, string(candidate)) {
			return candidate
		}
	}
	return c.Classify(newInput, currentInput, currentTopic)
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
