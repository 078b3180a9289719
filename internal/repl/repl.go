// Package repl is the interactive full-duplex loop: a reader goroutine feeds
// typed lines into the loop while the current task streams its output, so the
// user can interject (comment, pause, cancel, replace) at any moment. Quit is
// honored with top priority even mid-task.
package repl

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/sourcegraph/conc"

	"github.com/duetalk/duetalk/internal/agent"
	"github.com/duetalk/duetalk/internal/lexicon"
	"github.com/duetalk/duetalk/internal/orchestrator"
	"github.com/duetalk/duetalk/internal/task"
	"github.com/duetalk/duetalk/pkg/storage"
)

var (
	bannerColor = color.New(color.FgHiWhite, color.Bold)
	talkerColor = color.New(color.FgCyan)
	systemColor = color.New(color.FgYellow)
)

type REPL struct {
	manager *task.Manager
	orch    *orchestrator.Orchestrator
	lex     *lexicon.Lexicon
	store   storage.Storage
	logger  *slog.Logger

	in  io.Reader
	out io.Writer

	sessionID    string
	pollInterval time.Duration

	runners conc.WaitGroup

	mu              sync.Mutex
	current         *task.Task
	shared          *agent.SharedContext
	taskDone        chan struct{}
	awaitingConfirm bool
	pendingNewTask  string
	queue           []string
}

type Option func(*REPL)

func WithPollInterval(d time.Duration) Option {
	return func(r *REPL) { r.pollInterval = d }
}

// WithStorage enables transcript export on exit.
func WithStorage(store storage.Storage) Option {
	return func(r *REPL) { r.store = store }
}

func New(manager *task.Manager, orch *orchestrator.Orchestrator, lex *lexicon.Lexicon, sessionID string, in io.Reader, out io.Writer, logger *slog.Logger, opts ...Option) *REPL {
	r := &REPL{
		manager:      manager,
		orch:         orch,
		lex:          lex,
		logger:       logger,
		in:           in,
		out:          out,
		sessionID:    sessionID,
		pollInterval: 200 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run drives the loop until quit, EOF or ctx cancellation.
func (r *REPL) Run(ctx context.Context) error {
	r.banner()

	lines := make(chan string)
	// The reader blocks on stdin and cannot be unblocked from here; it stays
	// detached and the channel close signals EOF.
	go r.readLines(lines)

	defer func() {
		if r.manager.Processing() {
			r.manager.Cancel(ctx)
		}
		r.runners.Wait()
	}()

	for {
		var (
			line string
			ok   bool
		)
		if r.manager.Processing() {
			select {
			case line, ok = <-lines:
			case <-r.currentDone():
				r.finishTask(ctx)
				continue
			case <-time.After(r.pollInterval):
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		} else {
			select {
			case line, ok = <-lines:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if !ok {
			return r.shutdown(ctx)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		switch strings.ToLower(line) {
		case "quit", "exit", "退出":
			return r.shutdown(ctx)
		case "stats":
			r.printStats()
			continue
		}

		if r.manager.Processing() {
			resp, newTask := r.interject(ctx, line)
			if resp != "" {
				talkerColor.Fprintln(r.out, resp)
			}
			if newTask == "" {
				continue
			}
			line = newTask
		}

		r.startTask(ctx, line)
	}
}

func (r *REPL) banner() {
	bannerColor.Fprintln(r.out, strings.Repeat("=", 60))
	bannerColor.Fprintln(r.out, "duetalk 双 Agent 对话系统 (全双工模式)")
	fmt.Fprintln(r.out, "输入 'quit' 或 'exit' 退出，'stats' 查看统计信息")
	fmt.Fprintln(r.out, "提示：处理过程中可随时输入新消息打断当前任务")
	bannerColor.Fprintln(r.out, strings.Repeat("=", 60))
}

func (r *REPL) readLines(lines chan<- string) {
	defer close(lines)
	scanner := bufio.NewScanner(r.in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines <- scanner.Text()
	}
	if err := scanner.Err(); err != nil {
		r.logger.Warn("input reader stopped", "error", err)
	}
}

func (r *REPL) shutdown(ctx context.Context) error {
	if r.manager.Processing() {
		systemColor.Fprintln(r.out, "\n正在取消当前任务...")
		r.manager.Cancel(ctx)
	}
	if err := r.ExportTranscript(ctx); err != nil {
		r.logger.Warn("transcript export failed", "error", err)
	}
	fmt.Fprintln(r.out, "\n再见!")
	return nil
}

func (r *REPL) printStats() {
	data, err := json.MarshalIndent(r.orch.Stats(), "", "  ")
	if err != nil {
		systemColor.Fprintf(r.out, "stats unavailable: %s\n", err)
		return
	}
	fmt.Fprintf(r.out, "\n系统统计:\n%s\n", data)
}

// startTask occupies the task slot and runs the turn in a runner goroutine
// that streams orchestrator output to the terminal.
func (r *REPL) startTask(ctx context.Context, input string) {
	t := task.New(input)
	h := task.NewHandle(ctx)
	shared := agent.NewSharedContext(input)

	if err := r.manager.StartTask(ctx, t, h, r.sessionID); err != nil {
		systemColor.Fprintf(r.out, "无法开始新任务：%s\n", err)
		return
	}

	done := make(chan struct{})
	r.mu.Lock()
	r.current = t
	r.shared = shared
	r.taskDone = done
	r.mu.Unlock()

	r.runners.Go(func() {
		defer close(done)
		checkpoint := func(c context.Context) error {
			return r.manager.WaitIfPaused(c)
		}
		for chunk := range r.orch.Process(h.Context(), r.sessionID, input, shared, checkpoint) {
			fmt.Fprint(r.out, chunk)
		}
		h.Finish(h.Context().Err())
	})
}

// finishTask releases the slot after the runner drained, then picks up the
// next queued task if any.
func (r *REPL) finishTask(ctx context.Context) {
	r.mu.Lock()
	t := r.current
	r.current = nil
	r.shared = nil
	r.taskDone = nil
	r.mu.Unlock()

	r.manager.EndTask(ctx, t, task.StatusCompleted)
	fmt.Fprintln(r.out)

	r.mu.Lock()
	var next string
	if len(r.queue) > 0 {
		next = r.queue[0]
		r.queue = r.queue[1:]
	}
	r.mu.Unlock()
	if next != "" {
		talkerColor.Fprintf(r.out, "\n[Talker] 开始处理队列任务：%s...\n", truncate(next, 30))
		r.startTask(ctx, next)
	}
}

func (r *REPL) currentDone() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.taskDone != nil {
		return r.taskDone
	}
	closed := make(chan struct{})
	close(closed)
	return closed
}

func (r *REPL) currentShared() *agent.SharedContext {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.shared
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
