// Package orchestrator routes each user turn between the Talker and the
// Thinker, records handoffs between them, and owns the per-session message
// history. It is the single place where agent coordination protocol markers
// are produced and stripped.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/duetalk/duetalk/internal/agent"
	"github.com/duetalk/duetalk/internal/event"
	"github.com/duetalk/duetalk/internal/llm"
	"github.com/duetalk/duetalk/internal/task"
	"github.com/duetalk/duetalk/pkg/clog"
	"github.com/duetalk/duetalk/pkg/panicerr"
)

// HandoffKind distinguishes the two coordination protocols.
type HandoffKind string

const (
	// HandoffDelegation is the Talker discovering mid-answer that the request
	// is beyond it and passing the whole turn to the Thinker.
	HandoffDelegation HandoffKind = "delegation"
	// HandoffCollaboration is the planned protocol for complex requests: the
	// Talker acknowledges, the Thinker works, the Talker broadcasts progress.
	HandoffCollaboration HandoffKind = "collaboration"
)

// Handoff is one recorded transfer of control between agents.
type Handoff struct {
	Kind   HandoffKind `json:"kind"`
	From   string      `json:"from"`
	To     string      `json:"to"`
	Reason string      `json:"reason"`
	At     time.Time   `json:"at"`
}

type Orchestrator struct {
	talker  *agent.Talker
	thinker *agent.Thinker
	bus     *event.EventBus
	logger  *slog.Logger

	sessions     *SessionStore
	showIdentity bool
	topicOf      func(string) string

	mu       sync.Mutex
	handoffs []Handoff

	totalRequests  atomic.Int64
	talkerHandled  atomic.Int64
	thinkerHandled atomic.Int64
	handoffCount   atomic.Int64
	errorCount     atomic.Int64
}

type Option func(*Orchestrator)

func WithEventBus(bus *event.EventBus) Option {
	return func(o *Orchestrator) { o.bus = bus }
}

// WithAgentIdentity toggles the [HH:MM:SS.mmm] Talker:/Thinker: prefixes on
// streamed output.
func WithAgentIdentity(show bool) Option {
	return func(o *Orchestrator) { o.showIdentity = show }
}

// WithTopicExtractor sets the function used to name the subject of a request
// in progress broadcasts.
func WithTopicExtractor(fn func(string) string) Option {
	return func(o *Orchestrator) { o.topicOf = fn }
}

func New(talker *agent.Talker, thinker *agent.Thinker, logger *slog.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		talker:   talker,
		thinker:  thinker,
		logger:   logger,
		sessions: NewSessionStore(),
		topicOf:  defaultTopic,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

var cjkWordRe = regexp.MustCompile(`\p{Han}{2,4}`)

func defaultTopic(query string) string {
	if w := cjkWordRe.FindString(query); w != "" {
		return w
	}
	return "您的问题"
}

// Process runs one user turn and streams the response. The returned channel
// is closed when the turn is finished; the cleaned response is persisted to
// the session afterwards. checkpoint is consulted by the Thinker between
// pipeline stages so pause and cancel take effect at suspension points.
func (o *Orchestrator) Process(ctx context.Context, sessionID, input string, shared *agent.SharedContext, checkpoint agent.Checkpoint) <-chan string {
	out := make(chan string, 16)
	go func() {
		defer close(out)
		o.processTurn(ctx, out, sessionID, input, shared, checkpoint)
	}()
	return out
}

func (o *Orchestrator) processTurn(ctx context.Context, out chan<- string, sessionID, input string, shared *agent.SharedContext, checkpoint agent.Checkpoint) {
	o.totalRequests.Add(1)
	start := time.Now()
	clog.AddSession(ctx, sessionID)

	sess := o.sessions.GetOrCreate(sessionID)
	sess.Append(llm.RoleUser, input)
	history := sess.History()
	if shared == nil {
		shared = agent.NewSharedContext(input)
	}

	var transcript strings.Builder
	send := func(chunk string) bool {
		transcript.WriteString(chunk)
		select {
		case out <- chunk:
			return true
		case <-ctx.Done():
			return false
		}
	}

	agentName := "talker"
	complexity := o.talker.ClassifyComplexity(ctx, input)

	err := panicerr.Run(func() error {
		if complexity == task.ComplexityComplex {
			o.thinkerHandled.Add(1)
			agentName = "thinker"
			o.collaborate(ctx, send, sessionID, input, shared, checkpoint)
			return nil
		}
		o.talkerHandled.Add(1)
		if o.delegate(ctx, send, sessionID, input, history, shared, checkpoint) {
			o.thinkerHandled.Add(1)
			agentName = "thinker"
		}
		return nil
	})
	clog.AddAgent(ctx, agentName)
	if err != nil {
		o.errorCount.Add(1)
		clog.AddError(ctx, err)
		o.logger.ErrorContext(ctx, "turn failed", "session", sessionID, "error", err)
		send(fmt.Sprintf("抱歉，处理时出现错误：%s", err))
		o.publish(ctx, event.TurnFailedData{SessionID: sessionID, Error: err.Error()})
	}

	if clean := StripMarkers(transcript.String()); clean != "" {
		sess.Append(llm.RoleAssistant, clean)
	}
	sess.SetLatency(time.Since(start))

	if err == nil {
		o.publish(ctx, event.TurnCompletedData{
			SessionID:  sessionID,
			Agent:      agentName,
			Complexity: string(complexity),
			Elapsed:    time.Since(start),
		})
	}
}

// delegate streams the Talker's own answer. It reports true when the Talker
// raised the thinker marker and the turn was escalated instead.
func (o *Orchestrator) delegate(ctx context.Context, send func(string) bool, sessionID, input string, history []llm.Message, shared *agent.SharedContext, checkpoint agent.Checkpoint) bool {
	first := true
	// The Talker triages again on its own. Both classifications are usually
	// identical, but a bounded model call can answer differently across the
	// two, and the marker path below handles exactly that disagreement.
	for chunk := range o.talker.Respond(ctx, input, history) {
		if strings.Contains(chunk, agent.NeedsThinkerMarker) {
			o.recordHandoff(ctx, HandoffDelegation, "talker", "thinker", "任务复杂度超过Talker能力", sessionID)
			o.collaborate(ctx, send, sessionID, input, shared, checkpoint)
			return true
		}
		if first && strings.TrimSpace(chunk) != "" {
			if o.showIdentity {
				send("\n[" + timestamp(time.Now()) + "] Talker: ")
			}
			first = false
		}
		if !send(chunk) {
			return false
		}
	}
	return false
}

// collaborate runs the Thinker on the request while the Talker interjects
// progress broadcasts driven by the shared progress state.
func (o *Orchestrator) collaborate(ctx context.Context, send func(string) bool, sessionID, input string, shared *agent.SharedContext, checkpoint agent.Checkpoint) {
	if o.showIdentity {
		send("\n[" + timestamp(time.Now()) + "] Talker: 好的，这个问题需要深度思考，已转交给Thinker处理")
	}
	o.recordHandoff(ctx, HandoffCollaboration, "talker", "thinker", "启动协作模式", sessionID)

	bc := newBroadcaster(o.topicOf(input))
	bc.generate = func(p agent.Progress, elapsed time.Duration) string {
		return o.talker.ProgressBroadcast(ctx, input, strings.Join(p.Partial, "\n"), elapsed)
	}
	broadcast := func() {
		if msg := bc.next(shared.Progress()); msg != "" {
			shared.AddInteraction(msg, "broadcast")
			send("\n[" + timestamp(time.Now()) + "] Talker: " + msg)
		}
	}

	ch := o.thinker.Process(ctx, input, shared, checkpoint)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	firstShown := false
loop:
	for {
		select {
		case chunk, ok := <-ch:
			if !ok {
				break loop
			}
			broadcast()
			if !firstShown && strings.TrimSpace(chunk) != "" {
				if o.showIdentity {
					send("\n[" + timestamp(time.Now()) + "] Thinker: ")
				}
				firstShown = true
			}
			if !send(chunk) {
				return
			}
		case <-ticker.C:
			broadcast()
		case <-ctx.Done():
			return
		}
	}

	o.recordHandoff(ctx, HandoffCollaboration, "thinker", "talker", "Thinker处理完成", sessionID)
}

func (o *Orchestrator) recordHandoff(ctx context.Context, kind HandoffKind, from, to, reason, sessionID string) {
	o.handoffCount.Add(1)
	h := Handoff{Kind: kind, From: from, To: to, Reason: reason, At: time.Now()}
	o.mu.Lock()
	o.handoffs = append(o.handoffs, h)
	o.mu.Unlock()

	o.logger.InfoContext(ctx, "agent handoff",
		"kind", string(kind), "from", from, "to", to, "reason", reason)
	o.publish(ctx, event.HandoffRecordedData{
		Kind:      string(kind),
		FromAgent: from,
		ToAgent:   to,
		Reason:    reason,
		SessionID: sessionID,
	})
}

func (o *Orchestrator) publish(ctx context.Context, data interface {
	EventType() event.EventType
}) {
	if o.bus == nil {
		return
	}
	if err := o.bus.Publish(ctx, "orchestrator", data); err != nil {
		o.logger.WarnContext(ctx, "event publish failed", "error", err)
	}
}

// HandoffHistory returns the most recent handoffs, newest last.
func (o *Orchestrator) HandoffHistory(limit int) []Handoff {
	o.mu.Lock()
	defer o.mu.Unlock()
	if limit <= 0 || limit > len(o.handoffs) {
		limit = len(o.handoffs)
	}
	return append([]Handoff(nil), o.handoffs[len(o.handoffs)-limit:]...)
}

// Sessions exposes the session store.
func (o *Orchestrator) Sessions() *SessionStore {
	return o.sessions
}

// Stats merges the orchestrator's counters with both agents' own.
func (o *Orchestrator) Stats() map[string]any {
	return map[string]any{
		"total_requests":  o.totalRequests.Load(),
		"talker_handled":  o.talkerHandled.Load(),
		"thinker_handled": o.thinkerHandled.Load(),
		"handoffs":        o.handoffCount.Load(),
		"errors":          o.errorCount.Load(),
		"active_sessions": o.sessions.Count(),
		"talker_stats":    o.talker.Stats(),
		"thinker_stats":   o.thinker.Stats(),
	}
}

func timestamp(t time.Time) string {
	return t.Format("15:04:05.000")
}
