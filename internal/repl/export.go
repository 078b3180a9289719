package repl

import (
	"context"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/duetalk/duetalk/internal/orchestrator"
)

// Transcript is the YAML document written on exit.
type Transcript struct {
	SessionID  string                        `yaml:"session_id"`
	ExportedAt time.Time                     `yaml:"exported_at"`
	Messages   []orchestrator.SessionMessage `yaml:"messages"`
}

// ExportTranscript persists the session conversation through the configured
// storage backend. A nil backend makes this a no-op.
func (r *REPL) ExportTranscript(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	sess, ok := r.orch.Sessions().Get(r.sessionID)
	if !ok {
		return nil
	}

	doc := Transcript{
		SessionID:  r.sessionID,
		ExportedAt: time.Now(),
		Messages:   sess.Messages(),
	}
	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal transcript: %w", err)
	}

	path := fmt.Sprintf("transcripts/%s.yaml", r.sessionID)
	if err := r.store.Write(ctx, path, data); err != nil {
		return fmt.Errorf("write transcript: %w", err)
	}
	r.logger.Info("transcript exported", "path", path, "messages", len(doc.Messages))
	return nil
}
