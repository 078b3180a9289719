package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/ollama/ollama/api"
)

// OllamaClient talks to a local or remote ollama server.
type OllamaClient struct {
	client *api.Client
	model  string
}

func NewOllamaClient(host, model string) (*OllamaClient, error) {
	base, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("failed to parse ollama host %q: %w", host, err)
	}
	return &OllamaClient{
		client: api.NewClient(base, http.DefaultClient),
		model:  model,
	}, nil
}

func (c *OllamaClient) options(o Options) map[string]any {
	opts := map[string]any{}
	if o.MaxTokens > 0 {
		opts["num_predict"] = o.MaxTokens
	}
	if o.Temperature > 0 {
		opts["temperature"] = o.Temperature
	}
	return opts
}

func (c *OllamaClient) Generate(ctx context.Context, prompt string, opts ...Option) (*Result, error) {
	o := buildOptions(opts)
	req := &api.GenerateRequest{
		Model:   c.model,
		Prompt:  prompt,
		System:  o.System,
		Stream:  new(bool),
		Options: c.options(o),
	}

	start := time.Now()
	var result Result
	err := c.client.Generate(ctx, req, func(resp api.GenerateResponse) error {
		result.Text += resp.Response
		if resp.Done {
			result.PromptTokens = resp.PromptEvalCount
			result.OutputTokens = resp.EvalCount
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ollama generate: %w", err)
	}
	result.Model = c.model
	result.Duration = time.Since(start)
	if result.Text == "" {
		return nil, ErrEmptyResponse
	}
	return &result, nil
}

func (c *OllamaClient) GenerateWithMessages(ctx context.Context, messages []Message, opts ...Option) (*Result, error) {
	o := buildOptions(opts)
	msgs := make([]api.Message, 0, len(messages)+1)
	if o.System != "" {
		msgs = append(msgs, api.Message{Role: "system", Content: o.System})
	}
	for _, m := range messages {
		msgs = append(msgs, api.Message{Role: string(m.Role), Content: m.Content})
	}
	req := &api.ChatRequest{
		Model:    c.model,
		Messages: msgs,
		Stream:   new(bool),
		Options:  c.options(o),
	}

	start := time.Now()
	var result Result
	err := c.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		result.Text += resp.Message.Content
		if resp.Done {
			result.PromptTokens = resp.PromptEvalCount
			result.OutputTokens = resp.EvalCount
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ollama chat: %w", err)
	}
	result.Model = c.model
	result.Duration = time.Since(start)
	if result.Text == "" {
		return nil, ErrEmptyResponse
	}
	return &result, nil
}

func (c *OllamaClient) Stream(ctx context.Context, prompt string, opts ...Option) (<-chan Fragment, error) {
	o := buildOptions(opts)
	stream := true
	req := &api.GenerateRequest{
		Model:   c.model,
		Prompt:  prompt,
		System:  o.System,
		Stream:  &stream,
		Options: c.options(o),
	}

	out := make(chan Fragment)
	go func() {
		defer close(out)
		err := c.client.Generate(ctx, req, func(resp api.GenerateResponse) error {
			if resp.Response == "" {
				return nil
			}
			select {
			case out <- Fragment{Text: resp.Response}:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		if err != nil && ctx.Err() == nil {
			out <- Fragment{Err: fmt.Errorf("ollama stream: %w", err)}
		}
	}()
	return out, nil
}
