// Package agent implements the two conversational agents: the Talker, which
// answers fast and triages complexity, and the Thinker, which plans and works
// through complex requests step by step. They exchange state through a
// SharedContext owned by the orchestrator.
package agent

import (
	"fmt"
	"sync"
	"time"
)

// NeedsThinkerMarker is emitted by the Talker to signal that the request must
// be handed off to the Thinker. The orchestrator strips it before anything
// reaches the user.
const NeedsThinkerMarker = "[NEEDS_THINKER]"

// ClarificationStatus tracks one clarification round trip.
type ClarificationStatus string

const (
	ClarificationNone     ClarificationStatus = "none"
	ClarificationPending  ClarificationStatus = "pending"
	ClarificationAnswered ClarificationStatus = "answered"
)

// ClarificationRequest is a question the Thinker wants the user to answer
// before or while it works.
type ClarificationRequest struct {
	Question   string
	Reason     string
	Options    []string
	Status     ClarificationStatus
	Answer     string
	CreatedAt  time.Time
	AnsweredAt time.Time
}

// Progress is a snapshot of where the Thinker currently is.
type Progress struct {
	Stage      string
	Step       int
	TotalSteps int
	Partial    []string
	StartedAt  time.Time
	UpdatedAt  time.Time
}

// Percent reports completion in [0, 100], 0 when the step count is unknown.
func (p Progress) Percent() float64 {
	if p.TotalSteps == 0 {
		return 0
	}
	return float64(p.Step) / float64(p.TotalSteps) * 100
}

// Interaction is one thing the Talker said to the user while the Thinker was
// busy, kept so broadcasts do not repeat themselves.
type Interaction struct {
	Content string
	Kind    string
	At      time.Time
}

// SharedContext carries the bidirectional state between Talker and Thinker
// for one in-flight task. The Talker records user emotion, clarification
// answers and supplements; the Thinker records progress and pending
// questions. Safe for concurrent use.
type SharedContext struct {
	mu sync.Mutex

	userInput string
	emotion   string

	clarifications []*ClarificationRequest
	progress       Progress
	interactions   []Interaction

	clarifiedIntent string
	entities        map[string]string
	constraints     []string
}

func NewSharedContext(userInput string) *SharedContext {
	now := time.Now()
	return &SharedContext{
		userInput: userInput,
		emotion:   "neutral",
		progress:  Progress{Stage: "idle", StartedAt: now, UpdatedAt: now},
		entities:  map[string]string{},
	}
}

func (s *SharedContext) UserInput() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userInput
}

func (s *SharedContext) SetEmotion(emotion string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emotion = emotion
}

func (s *SharedContext) Emotion() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.emotion
}

// AddClarification registers a pending question for the user.
func (s *SharedContext) AddClarification(question, reason string, options ...string) *ClarificationRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	req := &ClarificationRequest{
		Question:  question,
		Reason:    reason,
		Options:   options,
		Status:    ClarificationPending,
		CreatedAt: time.Now(),
	}
	s.clarifications = append(s.clarifications, req)
	return req
}

// AnswerClarification resolves the most recent pending question. It reports
// false when nothing was waiting for an answer.
func (s *SharedContext) AnswerClarification(answer string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.clarifications) - 1; i >= 0; i-- {
		req := s.clarifications[i]
		if req.Status == ClarificationPending {
			req.Answer = answer
			req.Status = ClarificationAnswered
			req.AnsweredAt = time.Now()
			return true
		}
	}
	return false
}

// PendingClarification returns the oldest unanswered question, nil if none.
func (s *SharedContext) PendingClarification() *ClarificationRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, req := range s.clarifications {
		if req.Status == ClarificationPending {
			return req
		}
	}
	return nil
}

// UpdateProgress advances the Thinker's reported position. Empty stage, zero
// step/total and empty partial leave the respective field untouched.
func (s *SharedContext) UpdateProgress(stage string, step, total int, partial string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if stage != "" {
		s.progress.Stage = stage
	}
	if step > 0 {
		s.progress.Step = step
	}
	if total > 0 {
		s.progress.TotalSteps = total
	}
	if partial != "" {
		s.progress.Partial = append(s.progress.Partial, partial)
	}
	s.progress.UpdatedAt = time.Now()
}

func (s *SharedContext) Progress() Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.progress
	snap.Partial = append([]string(nil), s.progress.Partial...)
	return snap
}

func (s *SharedContext) AddInteraction(content, kind string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interactions = append(s.interactions, Interaction{Content: content, Kind: kind, At: time.Now()})
}

func (s *SharedContext) Interactions() []Interaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Interaction(nil), s.interactions...)
}

// MergeSupplement folds a mid-task user supplement into the clarified intent
// so later pipeline stages see the updated goal.
func (s *SharedContext) MergeSupplement(info string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	base := s.clarifiedIntent
	if base == "" {
		base = s.userInput
	}
	s.clarifiedIntent = fmt.Sprintf("%s。补充信息：%s", base, info)
}

// Intent returns the clarified intent, falling back to the raw input.
func (s *SharedContext) Intent() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.clarifiedIntent != "" {
		return s.clarifiedIntent
	}
	return s.userInput
}

func (s *SharedContext) SetEntity(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entities[key] = value
}

func (s *SharedContext) AddConstraint(constraint string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.constraints {
		if c == constraint {
			return
		}
	}
	s.constraints = append(s.constraints, constraint)
}

func (s *SharedContext) Constraints() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.constraints...)
}
