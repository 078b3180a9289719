package skill

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Invoker runs skills with a per-call timeout, bounded retry and a TTL result
// cache. It never returns an error: failures are folded into the Result so a
// bad skill degrades one step, not the whole task.
type Invoker struct {
	registry *Registry
	cache    *expirable.LRU[string, string]
	timeout  time.Duration
	retries  int
	backoff  time.Duration
	logger   *slog.Logger
}

type InvokerOption func(*Invoker)

func WithTimeout(d time.Duration) InvokerOption {
	return func(i *Invoker) { i.timeout = d }
}

func WithRetries(n int, backoff time.Duration) InvokerOption {
	return func(i *Invoker) {
		i.retries = n
		i.backoff = backoff
	}
}

func WithCache(size int, ttl time.Duration) InvokerOption {
	return func(i *Invoker) {
		i.cache = expirable.NewLRU[string, string](size, nil, ttl)
	}
}

func NewInvoker(registry *Registry, logger *slog.Logger, opts ...InvokerOption) *Invoker {
	inv := &Invoker{
		registry: registry,
		timeout:  10 * time.Second,
		retries:  1,
		backoff:  200 * time.Millisecond,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(inv)
	}
	return inv
}

// Invoke runs the named skill once (plus retries), consulting the cache first.
func (i *Invoker) Invoke(ctx context.Context, name string, params map[string]string) Result {
	start := time.Now()

	s, ok := i.registry.Get(name)
	if !ok {
		return Result{
			Skill:   name,
			Error:   fmt.Sprintf("unknown skill %q", name),
			Latency: time.Since(start),
		}
	}

	key := cacheKey(name, params)
	if i.cache != nil {
		if formatted, ok := i.cache.Get(key); ok {
			return Result{
				Skill:     name,
				Success:   true,
				Formatted: formatted,
				Latency:   time.Since(start),
				Cached:    true,
			}
		}
	}

	var lastErr error
	for attempt := 0; attempt <= i.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(i.backoff):
			case <-ctx.Done():
			}
			if ctx.Err() != nil {
				lastErr = ctx.Err()
				break
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, i.timeout)
		formatted, err := s.Invoke(callCtx, params)
		cancel()
		if err == nil {
			if i.cache != nil {
				i.cache.Add(key, formatted)
			}
			return Result{
				Skill:     name,
				Success:   true,
				Formatted: formatted,
				Latency:   time.Since(start),
			}
		}
		lastErr = err
		i.logger.WarnContext(ctx, "skill invocation failed",
			"skill", name, "attempt", attempt+1, "error", err)
		if ctx.Err() != nil {
			break
		}
	}

	return Result{
		Skill:   name,
		Error:   lastErr.Error(),
		Latency: time.Since(start),
	}
}
