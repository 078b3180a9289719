package skill

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type countingSkill struct {
	calls atomic.Int32
	fail  int32
}

func (c *countingSkill) Name() string        { return "counting" }
func (c *countingSkill) Description() string { return "test skill" }

func (c *countingSkill) Invoke(_ context.Context, params map[string]string) (string, error) {
	n := c.calls.Add(1)
	if n <= c.fail {
		return "", fmt.Errorf("transient failure %d", n)
	}
	return "ok:" + params["query"], nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestInvokeSuccess(t *testing.T) {
	inv := NewInvoker(NewRegistry(Calculation{}), testLogger())
	res := inv.Invoke(context.Background(), "calculation", map[string]string{"query": "计算 3 + 4"})
	assert.True(t, res.Success)
	assert.Contains(t, res.Formatted, "= 7")
}

func TestInvokeUnknownSkill(t *testing.T) {
	inv := NewInvoker(NewRegistry(), testLogger())
	res := inv.Invoke(context.Background(), "nope", nil)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "unknown skill")
}

func TestInvokeRetries(t *testing.T) {
	s := &countingSkill{fail: 1}
	inv := NewInvoker(NewRegistry(s), testLogger(), WithRetries(2, time.Millisecond))
	res := inv.Invoke(context.Background(), "counting", map[string]string{"query": "x"})
	assert.True(t, res.Success)
	assert.Equal(t, int32(2), s.calls.Load())
}

func TestInvokeExhaustsRetries(t *testing.T) {
	s := &countingSkill{fail: 99}
	inv := NewInvoker(NewRegistry(s), testLogger(), WithRetries(1, time.Millisecond))
	res := inv.Invoke(context.Background(), "counting", nil)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "transient failure")
}

func TestInvokeCache(t *testing.T) {
	s := &countingSkill{}
	inv := NewInvoker(NewRegistry(s), testLogger(), WithCache(8, time.Minute))

	first := inv.Invoke(context.Background(), "counting", map[string]string{"query": "a"})
	assert.True(t, first.Success)
	assert.False(t, first.Cached)

	second := inv.Invoke(context.Background(), "counting", map[string]string{"query": "a"})
	assert.True(t, second.Success)
	assert.True(t, second.Cached)
	assert.Equal(t, int32(1), s.calls.Load())

	// Different params miss the cache.
	third := inv.Invoke(context.Background(), "counting", map[string]string{"query": "b"})
	assert.False(t, third.Cached)
}

func TestBuiltinSkills(t *testing.T) {
	reg := Builtin()
	assert.Equal(t, []string{"calculation", "search", "weather"}, reg.Names())

	inv := NewInvoker(reg, testLogger())
	res := inv.Invoke(context.Background(), "weather", map[string]string{"query": "上海天气怎么样"})
	assert.True(t, res.Success)
	assert.Contains(t, res.Formatted, "上海")
}
