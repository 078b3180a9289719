// Package llm wraps text generation backends behind a narrow client
// interface. Callers own timeouts: every method honors context cancellation,
// and any error or timeout means "unavailable for this call" with the caller
// applying its own fallback.
package llm

import (
	"context"
	"errors"
	"time"
)

// ErrEmptyResponse is returned when the backend completed without producing text.
var ErrEmptyResponse = errors.New("llm: empty response")

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Result is the explicit outcome of one generation call. There is no partial
// or probed shape: a call either yields a Result or an error.
type Result struct {
	Text         string
	Model        string
	PromptTokens int
	OutputTokens int
	TTFT         time.Duration
	Duration     time.Duration
}

// TokensPerSecond reports decode throughput, 0 when unknown.
func (r *Result) TokensPerSecond() float64 {
	if r == nil || r.Duration <= 0 {
		return 0
	}
	return float64(r.OutputTokens) / r.Duration.Seconds()
}

// Fragment is one piece of a streamed response. Err is set on the final
// fragment when the stream failed; the channel is closed afterwards either way.
type Fragment struct {
	Text string
	Err  error
}

type Options struct {
	System      string
	MaxTokens   int
	Temperature float64
}

type Option func(*Options)

func WithSystem(system string) Option {
	return func(o *Options) { o.System = system }
}

func WithMaxTokens(n int) Option {
	return func(o *Options) { o.MaxTokens = n }
}

func WithTemperature(t float64) Option {
	return func(o *Options) { o.Temperature = t }
}

func buildOptions(opts []Option) Options {
	var o Options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Client is the generation capability consumed by the agents.
type Client interface {
	Generate(ctx context.Context, prompt string, opts ...Option) (*Result, error)
	GenerateWithMessages(ctx context.Context, messages []Message, opts ...Option) (*Result, error)
	Stream(ctx context.Context, prompt string, opts ...Option) (<-chan Fragment, error)
}
