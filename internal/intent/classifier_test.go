package intent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duetalk/duetalk/internal/lexicon"
	"github.com/duetalk/duetalk/internal/llm"
)

func newClassifier(t *testing.T) *Classifier {
	t.Helper()
	lex, err := lexicon.New("")
	require.NoError(t, err)
	return NewClassifier(lex)
}

func TestClassifyDuringCarTask(t *testing.T) {
	c := newClassifier(t)
	current := "帮我分析买车方案"
	topic := "选车"

	tests := []struct {
		input string
		want  Intent
	}{
		{"不买了", Replace},
		{"取消", Replace},
		{"算了吧", Replace},
		{"另外再加上预算控制在20万", Modify},
		{"预算控制在20万", Modify},
		{"补充一下要七座的", Modify},
		{"有点慢", Comment},
		{"太慢了吧", QueryStatus},
		{"好了吗", QueryStatus},
		{"还有多少任务", QueryStatus},
		{"好的", Backchannel},
		{"嗯", Backchannel},
		{"", Backchannel},
		{"   ", Backchannel},
		{"真不错", Comment},
		{"暂停", Pause},
		{"继续", Resume},
		{"市区", Continue},
		{"帮我查一下天气", Replace},
		{"吃饭", Replace},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, c.Classify(tt.input, current, topic), "input %q", tt.input)
	}
}

func TestClassifyIdleAlwaysReplace(t *testing.T) {
	c := newClassifier(t)
	assert.Equal(t, Replace, c.Classify("你好", "", ""))
	assert.Equal(t, Replace, c.Classify("", "", ""))
}

// The decision table must be total: any string input gets a label without
// panicking, and unknowns land on Comment.
func TestClassifyTotality(t *testing.T) {
	c := newClassifier(t)
	inputs := []string{
		"", " ", "\t\n", "！！！", "???", "。。。", ",,,,",
		"xyzzy", "🚗🚗🚗", "a", "啊",
		"这是一段完全无法归类的话语没有任何关键词呀",
	}
	for _, input := range inputs {
		assert.NotPanics(t, func() {
			got := c.Classify(input, "帮我分析买车方案", "选车")
			assert.NotEmpty(t, got, "input %q", input)
		})
	}
}

func TestDecide(t *testing.T) {
	c := newClassifier(t)
	current := "帮我分析买车方案"
	topic := "选车"

	action, replacement := c.Decide("不买了", current, topic)
	assert.Equal(t, ActionCancelOnly, action)
	assert.Empty(t, replacement)

	action, replacement = c.Decide("算了，帮我查一下天气", current, topic)
	assert.Equal(t, ActionReplaceNewTask, action)
	assert.Equal(t, "帮我查一下天气", replacement)

	action, _ = c.Decide("另外再加上预算控制在20万", current, topic)
	assert.Equal(t, ActionModifyCurrent, action)

	action, _ = c.Decide("好的", current, topic)
	assert.Equal(t, ActionContinue, action)

	action, _ = c.Decide("", current, topic)
	assert.Equal(t, ActionContinue, action)
}

func TestExtractReplacement(t *testing.T) {
	c := newClassifier(t)
	assert.Equal(t, "帮我订个餐厅", c.ExtractReplacement("别弄了，帮我订个餐厅"))
	assert.Equal(t, "不买了", c.ExtractReplacement("不买了"))
}

func TestExtractTopicLooseFallback(t *testing.T) {
	c := newClassifier(t)
	assert.Equal(t, "选车", c.ExtractTopic("帮我分析买车方案"))
	// Budget-style clarification answers carry no topic.
	assert.Equal(t, "", c.ExtractTopic("20万左右"))
	assert.Equal(t, "", c.ExtractTopic("5000块"))
	// Filler phrases carry no topic.
	assert.Equal(t, "", c.ExtractTopic("挺好的"))
	// Unknown domains fall back to the leading CJK word.
	assert.Equal(t, "量子计算", c.ExtractTopic("量子计算是什么"))
}

func TestClassifyWithModelFallsBack(t *testing.T) {
	c := newClassifier(t)
	client := llm.NewScriptedClient("")
	client.Err = errors.New("backend down")

	got := c.ClassifyWithModel(context.Background(), client, "不买了", "帮我分析买车方案", "选车", 100*time.Millisecond)
	assert.Equal(t, Replace, got)
}

func TestClassifyWithModelUsesReply(t *testing.T) {
	c := newClassifier(t)
	client := llm.NewScriptedClient("MODIFY")

	got := c.ClassifyWithModel(context.Background(), client, "再加一个条件", "帮我分析买车方案", "选车", time.Second)
	assert.Equal(t, Modify, got)
}

func TestClassifyWithModelTimeout(t *testing.T) {
	c := newClassifier(t)
	client := llm.NewScriptedClient("REPLACE")
	client.Delay = 500 * time.Millisecond

	start := time.Now()
	got := c.ClassifyWithModel(context.Background(), client, "有点慢", "帮我分析买车方案", "选车", 50*time.Millisecond)
	assert.Less(t, time.Since(start), 400*time.Millisecond)
	assert.Equal(t, Comment, got)
}
