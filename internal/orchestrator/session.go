package orchestrator

import (
	"sync"
	"time"

	"github.com/duetalk/duetalk/internal/llm"
)

// SessionMessage is one persisted conversation turn.
type SessionMessage struct {
	Role    llm.Role  `json:"role" yaml:"role"`
	Content string    `json:"content" yaml:"content"`
	At      time.Time `json:"at" yaml:"at"`
}

// Session is one conversation's message history. Safe for concurrent use.
type Session struct {
	ID        string
	CreatedAt time.Time

	mu          sync.Mutex
	messages    []SessionMessage
	lastLatency time.Duration
}

func (s *Session) Append(role llm.Role, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, SessionMessage{Role: role, Content: content, At: time.Now()})
}

func (s *Session) Messages() []SessionMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SessionMessage(nil), s.messages...)
}

// History returns the transcript in the shape the agents' prompts consume.
func (s *Session) History() []llm.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]llm.Message, len(s.messages))
	for i, m := range s.messages {
		out[i] = llm.Message{Role: m.Role, Content: m.Content}
	}
	return out
}

func (s *Session) SetLatency(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastLatency = d
}

func (s *Session) LastLatency() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastLatency
}

// SessionStore holds all live sessions.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: map[string]*Session{}}
}

func (st *SessionStore) GetOrCreate(id string) *Session {
	st.mu.Lock()
	defer st.mu.Unlock()
	if s, ok := st.sessions[id]; ok {
		return s
	}
	s := &Session{ID: id, CreatedAt: time.Now()}
	st.sessions[id] = s
	return s
}

func (st *SessionStore) Get(id string) (*Session, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.sessions[id]
	return s, ok
}

func (st *SessionStore) Clear(id string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.sessions, id)
}

func (st *SessionStore) Count() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}
