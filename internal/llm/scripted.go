package llm

import (
	"context"
	"strings"
	"sync"
	"time"
)

// ScriptedClient replays canned responses, used by tests and the offline demo
// mode. Rules match on prompt substrings; unmatched prompts fall through to
// the queued responses, then to Fallback.
type ScriptedClient struct {
	mu        sync.Mutex
	rules     []scriptRule
	queue     []string
	calls     int
	Fallback  string
	Delay     time.Duration
	Err       error
	LastInput string
}

type scriptRule struct {
	substr   string
	response string
}

func NewScriptedClient(fallback string) *ScriptedClient {
	return &ScriptedClient{Fallback: fallback}
}

// On registers a canned response for prompts containing substr.
func (c *ScriptedClient) On(substr, response string) *ScriptedClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rules = append(c.rules, scriptRule{substr: substr, response: response})
	return c
}

// Push queues responses consumed in order by prompts no rule matches.
func (c *ScriptedClient) Push(responses ...string) *ScriptedClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queue = append(c.queue, responses...)
	return c
}

func (c *ScriptedClient) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func (c *ScriptedClient) next(prompt string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.LastInput = prompt
	if c.Err != nil {
		return "", c.Err
	}
	for _, r := range c.rules {
		if strings.Contains(prompt, r.substr) {
			return r.response, nil
		}
	}
	if len(c.queue) > 0 {
		resp := c.queue[0]
		c.queue = c.queue[1:]
		return resp, nil
	}
	return c.Fallback, nil
}

func (c *ScriptedClient) wait(ctx context.Context) error {
	if c.Delay <= 0 {
		return ctx.Err()
	}
	select {
	case <-time.After(c.Delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *ScriptedClient) Generate(ctx context.Context, prompt string, _ ...Option) (*Result, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	text, err := c.next(prompt)
	if err != nil {
		return nil, err
	}
	return &Result{Text: text, Model: "scripted", OutputTokens: len(text)}, nil
}

func (c *ScriptedClient) GenerateWithMessages(ctx context.Context, messages []Message, opts ...Option) (*Result, error) {
	var b strings.Builder
	for _, m := range messages {
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	return c.Generate(ctx, b.String(), opts...)
}

func (c *ScriptedClient) Stream(ctx context.Context, prompt string, opts ...Option) (<-chan Fragment, error) {
	out := make(chan Fragment)
	go func() {
		defer close(out)
		res, err := c.Generate(ctx, prompt, opts...)
		if err != nil {
			out <- Fragment{Err: err}
			return
		}
		// Emit rune-group chunks so callers exercise real multi-fragment paths.
		text := []rune(res.Text)
		const chunk = 8
		for i := 0; i < len(text); i += chunk {
			end := min(i+chunk, len(text))
			select {
			case out <- Fragment{Text: string(text[i:end])}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
