// Package skill exposes callable capabilities to the Thinker's step executor.
// Invocation has its own timeout, retry and cache policy; callers only consume
// the Result shape.
package skill

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Skill is one callable capability.
type Skill interface {
	Name() string
	Description() string
	Invoke(ctx context.Context, params map[string]string) (string, error)
}

// Result is what the step executor records, success or not.
type Result struct {
	Skill     string        `json:"skill"`
	Success   bool          `json:"success"`
	Formatted string        `json:"formatted,omitempty"`
	Error     string        `json:"error,omitempty"`
	Latency   time.Duration `json:"latency"`
	Cached    bool          `json:"cached"`
}

// Registry holds the available skills.
type Registry struct {
	mu     sync.RWMutex
	skills map[string]Skill
}

func NewRegistry(skills ...Skill) *Registry {
	r := &Registry{skills: map[string]Skill{}}
	for _, s := range skills {
		r.Register(s)
	}
	return r
}

func (r *Registry) Register(s Skill) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.skills[s.Name()] = s
}

func (r *Registry) Get(name string) (Skill, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.skills[name]
	return s, ok
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.skills))
	for name := range r.skills {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func cacheKey(name string, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(name)
	for _, k := range keys {
		fmt.Fprintf(&b, "|%s=%s", k, params[k])
	}
	return b.String()
}
