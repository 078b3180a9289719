package lexicon

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractTopic(t *testing.T) {
	l, err := New("")
	require.NoError(t, err)

	tests := []struct {
		input string
		want  string
	}{
		{"我想买车", "选车"},
		{"帮我叫个滴滴", "打车"},
		{"打车去机场", "打车"},
		{"推荐个餐厅", "美食"},
		{"买些家具", "家具"},
		{"今天天气怎么样", "天气"},
		{"好了吗", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, l.ExtractTopic(tt.input), "input %q", tt.input)
	}
}

// Ride-hailing vocabulary shares "车" with car-buying; the ordered table must
// resolve "打车" inputs to the ride-hailing topic.
func TestTopicPrecedence(t *testing.T) {
	l, err := New("")
	require.NoError(t, err)

	assert.Equal(t, "打车", l.ExtractTopic("打车"))
	assert.Equal(t, "打车", l.ExtractTopic("详细对比滴滴和高德打车"))
	assert.Equal(t, "选车", l.ExtractTopic("帮我分析买车方案"))
}

func TestMatchIntent(t *testing.T) {
	l, err := New("")
	require.NoError(t, err)

	tests := []struct {
		input string
		want  string
	}{
		{"取消这个任务", "cancel"},
		{"停止吧", "cancel"},
		{"算了", "cancel"},
		{"另外加上一个条件", "modify"},
		{"补充一下", "modify"},
		{"好了吗", "query_status"},
		{"进度怎么样了", "query_status"},
		{"好的", "backchannel"},
		{"嗯嗯", "backchannel"},
		{"真不错", "comment"},
		{"厉害", "comment"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, l.MatchIntent(tt.input), "input %q", tt.input)
	}
}

func TestDetectEmotion(t *testing.T) {
	l, err := New("")
	require.NoError(t, err)

	assert.Equal(t, "complaint", l.DetectEmotion("太慢了"))
	assert.Equal(t, "complaint", l.DetectEmotion("怎么这么慢"))
	assert.Equal(t, "negative", l.DetectEmotion("算了"))
	assert.Equal(t, "negative", l.DetectEmotion("不要了"))
	assert.Equal(t, "positive", l.DetectEmotion("谢谢"))
	assert.Equal(t, "neutral", l.DetectEmotion("我想买车"))
}

func TestHasIntentKeyword(t *testing.T) {
	l, err := New("")
	require.NoError(t, err)

	assert.True(t, l.HasIntentKeyword("取消任务", IntentCancel))
	assert.False(t, l.HasIntentKeyword("我想买车", IntentCancel))
	assert.True(t, l.HasIntentKeyword("补充信息", IntentModify))
}

func TestReloadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lexicon.yaml")
	content := []byte(`
intents:
  cancel:
    priority: 1
    keywords: ["放弃"]
topics:
  - name: 健身
    keywords: ["健身", "撸铁"]
`)
	require.NoError(t, os.WriteFile(path, content, 0o644))

	l, err := New(path)
	require.NoError(t, err)

	// Override replaces the cancel list entirely.
	assert.True(t, l.HasIntentKeyword("放弃吧", IntentCancel))
	assert.False(t, l.HasIntentKeyword("取消", IntentCancel))
	// New topic appended after the built-ins.
	assert.Equal(t, "健身", l.ExtractTopic("今天去撸铁"))
	assert.Equal(t, "选车", l.ExtractTopic("我想买车"))
}

func TestMissingFileKeepsDefaults(t *testing.T) {
	l, err := New(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
	require.NotNil(t, l)
	assert.True(t, l.HasIntentKeyword("取消", IntentCancel))
}

func TestStats(t *testing.T) {
	l, err := New("")
	require.NoError(t, err)
	stats := l.Stats()
	assert.Positive(t, stats.Intents)
	assert.Positive(t, stats.Topics)
	assert.Positive(t, stats.Emotions)
}
