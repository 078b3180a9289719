// Package lexicon holds the keyword tables driving intent, topic and emotion
// classification. The built-in defaults cover the shipped domains; a YAML file
// can extend or override them at runtime.
package lexicon

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// hotThreshold is how many matches promote a keyword into the hot set.
const hotThreshold = 10

type IntentEntry struct {
	Keywords []string `yaml:"keywords"`
	Priority int      `yaml:"priority"`
}

// TopicEntry order matters: specific topics must precede generic ones that
// share vocabulary ("打车" owns the bare "车" inputs before "选车" sees them).
type TopicEntry struct {
	Name     string   `yaml:"name"`
	Keywords []string `yaml:"keywords"`
}

type EmotionEntry struct {
	Name     string   `yaml:"name"`
	Keywords []string `yaml:"keywords"`
}

// File is the YAML override shape. Lists replace the built-in entry of the
// same name; unknown names are appended.
type File struct {
	Intents  map[string]IntentEntry `yaml:"intents"`
	Topics   []TopicEntry           `yaml:"topics"`
	Emotions []EmotionEntry         `yaml:"emotions"`
	Filters  map[string][]string    `yaml:"filters"`
}

type Lexicon struct {
	mu       sync.RWMutex
	intents  map[string]IntentEntry
	topics   []TopicEntry
	emotions []EmotionEntry
	filters  map[string][]string
	usage    map[string]int
	path     string
}

// New returns a Lexicon with the built-in tables. If path is non-empty the
// file is merged on top; a missing or malformed file leaves the defaults
// untouched and returns the error for logging.
func New(path string) (*Lexicon, error) {
	l := &Lexicon{
		intents:  defaultIntents(),
		topics:   defaultTopics(),
		emotions: defaultEmotions(),
		filters:  defaultFilters(),
		usage:    map[string]int{},
		path:     path,
	}
	if path == "" {
		return l, nil
	}
	if err := l.Reload(); err != nil {
		return l, err
	}
	return l, nil
}

// Reload re-reads the override file on top of fresh defaults.
func (l *Lexicon) Reload() error {
	if l.path == "" {
		return nil
	}
	data, err := os.ReadFile(l.path)
	if err != nil {
		return fmt.Errorf("failed to read lexicon %s: %w", l.path, err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("failed to parse lexicon %s: %w", l.path, err)
	}

	intents := defaultIntents()
	for name, entry := range f.Intents {
		intents[name] = entry
	}
	topics := mergeTopics(defaultTopics(), f.Topics)
	emotions := mergeEmotions(defaultEmotions(), f.Emotions)
	filters := defaultFilters()
	for name, phrases := range f.Filters {
		filters[name] = phrases
	}

	l.mu.Lock()
	l.intents = intents
	l.topics = topics
	l.emotions = emotions
	l.filters = filters
	l.mu.Unlock()
	return nil
}

func mergeTopics(base, overrides []TopicEntry) []TopicEntry {
	for _, o := range overrides {
		replaced := false
		for i := range base {
			if base[i].Name == o.Name {
				base[i] = o
				replaced = true
				break
			}
		}
		if !replaced {
			base = append(base, o)
		}
	}
	return base
}

func mergeEmotions(base, overrides []EmotionEntry) []EmotionEntry {
	for _, o := range overrides {
		replaced := false
		for i := range base {
			if base[i].Name == o.Name {
				base[i] = o
				replaced = true
				break
			}
		}
		if !replaced {
			base = append(base, o)
		}
	}
	return base
}

// IntentKeywords returns the keyword list for one intent category.
func (l *Lexicon) IntentKeywords(name string) []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	entry, ok := l.intents[name]
	if !ok {
		return nil
	}
	return append([]string(nil), entry.Keywords...)
}

// HasIntentKeyword reports whether text contains any keyword of the category.
func (l *Lexicon) HasIntentKeyword(text, name string) bool {
	text = strings.ToLower(strings.TrimSpace(text))
	l.mu.RLock()
	entry, ok := l.intents[name]
	l.mu.RUnlock()
	if !ok {
		return false
	}
	for _, kw := range entry.Keywords {
		if strings.Contains(text, kw) {
			l.trackUsage(kw)
			return true
		}
	}
	return false
}

// MatchIntent returns the highest-priority intent category whose keywords
// match, or "".
func (l *Lexicon) MatchIntent(text string) string {
	text = strings.ToLower(strings.TrimSpace(text))
	l.mu.RLock()
	names := make([]string, 0, len(l.intents))
	for name := range l.intents {
		names = append(names, name)
	}
	intents := l.intents
	l.mu.RUnlock()

	best := ""
	bestPriority := 0
	for _, name := range names {
		entry := intents[name]
		matched := false
		for _, kw := range entry.Keywords {
			if strings.Contains(text, kw) {
				matched = true
				l.trackUsage(kw)
				break
			}
		}
		if matched && (best == "" || entry.Priority < bestPriority) {
			best = name
			bestPriority = entry.Priority
		}
	}
	return best
}

// ExtractTopic returns the first topic whose keyword list hits the input.
func (l *Lexicon) ExtractTopic(text string) string {
	text = strings.ToLower(strings.TrimSpace(text))
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, topic := range l.topics {
		for _, kw := range topic.Keywords {
			if strings.Contains(text, kw) {
				return topic.Name
			}
		}
	}
	return ""
}

// TopicKeywords returns the keyword list of a known topic.
func (l *Lexicon) TopicKeywords(name string) []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, topic := range l.topics {
		if topic.Name == name {
			return append([]string(nil), topic.Keywords...)
		}
	}
	return nil
}

// DetectEmotion labels the input with the first matching emotion, falling
// back to "neutral".
func (l *Lexicon) DetectEmotion(text string) string {
	text = strings.ToLower(strings.TrimSpace(text))
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, emotion := range l.emotions {
		for _, kw := range emotion.Keywords {
			if strings.Contains(text, kw) {
				return emotion.Name
			}
		}
	}
	return "neutral"
}

// FilterPhrases returns a named phrase set used to exclude inputs from topic
// extraction.
func (l *Lexicon) FilterPhrases(name string) []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]string(nil), l.filters[name]...)
}

func (l *Lexicon) trackUsage(keyword string) {
	l.mu.Lock()
	l.usage[keyword]++
	l.mu.Unlock()
}

// HotKeywords returns keywords that crossed the usage threshold this process.
func (l *Lexicon) HotKeywords() map[string]int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	hot := map[string]int{}
	for kw, n := range l.usage {
		if n >= hotThreshold {
			hot[kw] = n
		}
	}
	return hot
}

type Stats struct {
	Intents  int `json:"intents"`
	Topics   int `json:"topics"`
	Emotions int `json:"emotions"`
	HotWords int `json:"hot_words"`
}

func (l *Lexicon) Stats() Stats {
	hot := len(l.HotKeywords())
	l.mu.RLock()
	defer l.mu.RUnlock()
	return Stats{
		Intents:  len(l.intents),
		Topics:   len(l.topics),
		Emotions: len(l.emotions),
		HotWords: hot,
	}
}
