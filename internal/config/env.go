package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type BaseEnv struct {
	Env      string `envconfig:"ENV" default:"local"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

type ModelEnv struct {
	Provider     string `envconfig:"LLM_PROVIDER" default:"ollama"`
	OllamaHost   string `envconfig:"OLLAMA_HOST" default:"http://localhost:11434"`
	TalkerModel  string `envconfig:"TALKER_MODEL" default:"qwen2.5:1.5b"`
	ThinkerModel string `envconfig:"THINKER_MODEL" default:"qwen2.5:7b"`
}

type TimeoutEnv struct {
	// ClassifyTimeout bounds the Talker's complexity check; it sits on the
	// critical latency path, so it stays sub-second.
	ClassifyTimeout time.Duration `envconfig:"CLASSIFY_TIMEOUT" default:"500ms"`
	IntentTimeout   time.Duration `envconfig:"INTENT_TIMEOUT" default:"1s"`
	CancelTimeout   time.Duration `envconfig:"CANCEL_TIMEOUT" default:"5s"`
	SkillTimeout    time.Duration `envconfig:"SKILL_TIMEOUT" default:"10s"`
	ThinkerTimeout  time.Duration `envconfig:"THINKER_TIMEOUT" default:"30s"`
}

type ReflectionEnv struct {
	Enabled bool `envconfig:"ENABLE_SELF_REFLECTION" default:"true"`
	// RevisionThreshold is the overall quality score below which a flagged
	// draft gets one refinement pass.
	RevisionThreshold int `envconfig:"REVISION_THRESHOLD" default:"80"`
}

type SkillEnv struct {
	CacheTTL     time.Duration `envconfig:"SKILL_CACHE_TTL" default:"1h"`
	CacheSize    int           `envconfig:"SKILL_CACHE_SIZE" default:"256"`
	RetryCount   int           `envconfig:"SKILL_RETRY_COUNT" default:"1"`
	RetryBackoff time.Duration `envconfig:"SKILL_RETRY_BACKOFF" default:"200ms"`
}

type StorageEnv struct {
	// Target is a local directory or an s3://bucket/prefix URI for
	// transcript export.
	Target   string `envconfig:"STORAGE_TARGET" default:".duetalk/sessions"`
	S3Region string `envconfig:"S3_REGION" default:"ap-northeast-1"`
}

type LexiconEnv struct {
	// Path to a YAML lexicon override; empty means built-in defaults only.
	Path      string `envconfig:"LEXICON_PATH" default:""`
	HotReload bool   `envconfig:"LEXICON_HOT_RELOAD" default:"true"`
}

type MonitorEnv struct {
	// Addr enables the HTTP stats endpoint when non-empty, e.g. ":3100".
	Addr string `envconfig:"MONITOR_ADDR" default:""`
}

type Env struct {
	BaseEnv
	ModelEnv
	TimeoutEnv
	ReflectionEnv
	SkillEnv
	StorageEnv
	LexiconEnv
	MonitorEnv
}

const namespace = "DUETALK"

func LoadEnv() (*Env, error) {
	var env Env
	if err := envconfig.Process(namespace, &env); err != nil {
		return nil, fmt.Errorf("failed to load env: %w", err)
	}
	return &env, nil
}

func (e *BaseEnv) SlogLevel() slog.Level {
	if e == nil {
		return slog.LevelInfo
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(e.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}
