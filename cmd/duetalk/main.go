package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/oklog/ulid/v2"
	"github.com/sourcegraph/conc"

	"github.com/duetalk/duetalk/internal/agent"
	"github.com/duetalk/duetalk/internal/config"
	"github.com/duetalk/duetalk/internal/event"
	"github.com/duetalk/duetalk/internal/intent"
	"github.com/duetalk/duetalk/internal/lexicon"
	"github.com/duetalk/duetalk/internal/llm"
	"github.com/duetalk/duetalk/internal/monitoring"
	"github.com/duetalk/duetalk/internal/orchestrator"
	"github.com/duetalk/duetalk/internal/repl"
	"github.com/duetalk/duetalk/internal/skill"
	"github.com/duetalk/duetalk/internal/task"
	"github.com/duetalk/duetalk/pkg/clog"
	"github.com/duetalk/duetalk/pkg/storage"
)

var (
	app = kingpin.New("duetalk", "Dual-agent conversational assistant with full-duplex interruption")

	demo = app.Flag("demo", "Run against canned responses instead of a model backend").Bool()

	chatCmd    = app.Command("chat", "Start an interactive chat session").Default()
	chatNoTags = chatCmd.Flag("no-tags", "Hide the [Talker]/[Thinker] identity tags").Bool()

	queryCmd   = app.Command("query", "Process a single question and exit")
	queryInput = queryCmd.Arg("question", "The question to process").Required().String()

	statsCmd  = app.Command("stats", "Fetch stats from a running instance")
	statsAddr = statsCmd.Flag("addr", "Monitoring address of the running instance").Default("localhost:3100").String()
)

func main() {
	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	env, err := config.LoadEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := clog.New(os.Stderr, env.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = clog.ContextWithSlog(ctx)

	var exitCode int
	switch command {
	case chatCmd.FullCommand():
		if err := runChat(ctx, env); err != nil && ctx.Err() == nil {
			logger.Error("chat session failed", "error", err)
			exitCode = 1
		}
	case queryCmd.FullCommand():
		if err := runQuery(ctx, env, *queryInput); err != nil && ctx.Err() == nil {
			logger.Error("query failed", "error", err)
			exitCode = 1
		}
	case statsCmd.FullCommand():
		if err := runStats(ctx, *statsAddr); err != nil {
			logger.Error("stats fetch failed", "error", err)
			exitCode = 1
		}
	}
	os.Exit(exitCode)
}

// system bundles everything a session needs, wired once from the environment.
type system struct {
	env     *config.Env
	logger  *slog.Logger
	lex     *lexicon.Lexicon
	bus     *event.EventBus
	manager *task.Manager
	orch    *orchestrator.Orchestrator
	metrics *monitoring.Collector
	store   storage.Storage
	workers conc.WaitGroup
}

func buildSystem(ctx context.Context, env *config.Env, identityTags bool) (*system, error) {
	logger := clog.New(os.Stderr, env.LogLevel)

	lex, err := lexicon.New(env.Path)
	if err != nil {
		logger.Warn("lexicon override not loaded, using defaults", "path", env.Path, "error", err)
	}

	bus, err := event.NewEventBus()
	if err != nil {
		return nil, fmt.Errorf("event bus: %w", err)
	}

	metrics := monitoring.NewCollector()
	metrics.SubscribeToBus(bus)

	classifier := intent.NewClassifier(lex)
	manager := task.NewManager(classifier, logger,
		task.WithCancelTimeout(env.CancelTimeout),
		task.WithEventBus(bus))

	talkerClient, thinkerClient, err := buildClients(env)
	if err != nil {
		return nil, err
	}

	invoker := skill.NewInvoker(skill.Builtin(), logger,
		skill.WithCache(env.CacheSize, env.CacheTTL),
		skill.WithRetries(env.RetryCount, env.RetryBackoff))

	talker := agent.NewTalker(talkerClient, logger,
		agent.WithClassifyTimeout(env.ClassifyTimeout))
	thinker := agent.NewThinker(thinkerClient, logger,
		agent.WithReflection(env.Enabled, env.RevisionThreshold),
		agent.WithSkills(invoker, skill.Builtin().Names()))

	orch := orchestrator.New(talker, thinker, logger,
		orchestrator.WithEventBus(bus),
		orchestrator.WithAgentIdentity(identityTags),
		orchestrator.WithTopicExtractor(classifier.ExtractTopic))

	store, err := storage.Open(ctx, env.Target, env.S3Region)
	if err != nil {
		logger.Warn("transcript storage unavailable", "target", env.Target, "error", err)
		store = nil
	}

	sys := &system{
		env:     env,
		logger:  logger,
		lex:     lex,
		bus:     bus,
		manager: manager,
		orch:    orch,
		metrics: metrics,
		store:   store,
	}
	sys.startWorkers(ctx)
	return sys, nil
}

func (s *system) startWorkers(ctx context.Context) {
	s.workers.Go(func() {
		if err := s.bus.Start(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("event bus stopped", "error", err)
		}
	})
	if s.env.HotReload && s.env.Path != "" {
		s.workers.Go(func() {
			if err := s.lex.Watch(ctx, s.logger); err != nil && ctx.Err() == nil {
				s.logger.Warn("lexicon watcher stopped", "error", err)
			}
		})
	}
	if s.env.Addr != "" {
		srv := monitoring.NewServer(s.env.Addr, s.metrics, s.orch.Stats, s.logger)
		s.workers.Go(func() {
			if err := srv.Start(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("monitoring server stopped", "error", err)
			}
		})
	}
}

func buildClients(env *config.Env) (talker, thinker llm.Client, err error) {
	if *demo {
		return demoClient(), demoClient(), nil
	}
	switch env.Provider {
	case "ollama":
		tc, err := llm.NewOllamaClient(env.OllamaHost, env.TalkerModel)
		if err != nil {
			return nil, nil, fmt.Errorf("talker model: %w", err)
		}
		kc, err := llm.NewOllamaClient(env.OllamaHost, env.ThinkerModel)
		if err != nil {
			return nil, nil, fmt.Errorf("thinker model: %w", err)
		}
		return tc, kc, nil
	default:
		return nil, nil, fmt.Errorf("unknown LLM provider %q", env.Provider)
	}
}

// demoClient covers both agent roles with canned answers so the binary can be
// tried without a model backend.
func demoClient() llm.Client {
	c := llm.NewScriptedClient("好的，我来看一下。").
		On("复杂度级别", "simple").
		On("任务规划专家", `{"intent": "演示任务", "steps": [{"name": "分析问题", "description": "分析演示问题"}]}`).
		On("请执行以下步骤", "这是演示模式下的分析结果。").
		On("基于以下分析结果", "演示模式：这是综合后的答案。").
		On("请评估以下答案", `{"overall_score": 90, "needs_revision": false}`).
		On("当前用户消息", "你好！这是演示模式，连接真实模型后可获得完整回答。")
	c.Delay = 300 * time.Millisecond
	return c
}

func runChat(ctx context.Context, env *config.Env) error {
	ctx, cancel := context.WithCancel(ctx)
	sys, err := buildSystem(ctx, env, !*chatNoTags)
	if err != nil {
		cancel()
		return err
	}
	defer sys.workers.Wait()
	defer cancel()

	sessionID := ulid.MustNew(ulid.Timestamp(time.Now()), ulid.DefaultEntropy()).String()
	r := repl.New(sys.manager, sys.orch, sys.lex, sessionID, os.Stdin, os.Stdout, sys.logger,
		repl.WithStorage(sys.store))
	return r.Run(ctx)
}

func runQuery(ctx context.Context, env *config.Env, question string) error {
	ctx, cancel := context.WithCancel(ctx)
	sys, err := buildSystem(ctx, env, false)
	if err != nil {
		cancel()
		return err
	}
	defer sys.workers.Wait()
	defer cancel()

	sessionID := ulid.MustNew(ulid.Timestamp(time.Now()), ulid.DefaultEntropy()).String()
	shared := agent.NewSharedContext(question)
	for chunk := range sys.orch.Process(ctx, sessionID, question, shared, nil) {
		fmt.Print(chunk)
	}
	fmt.Println()
	return nil
}

func runStats(ctx context.Context, addr string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+addr+"/stats", nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("is an instance running with DUETALK_MONITOR_ADDR set? %w", err)
	}
	defer resp.Body.Close()

	var body bytes.Buffer
	if _, err := io.Copy(&body, resp.Body); err != nil {
		return err
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, body.Bytes(), "", "  "); err != nil {
		fmt.Println(body.String())
		return nil
	}
	fmt.Println(pretty.String())
	return nil
}
