package intent

import (
	"regexp"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/duetalk/duetalk/internal/lexicon"
)

// Classifier evaluates the interruption decision table against lexicon data.
type Classifier struct {
	lex *lexicon.Lexicon
}

func NewClassifier(lex *lexicon.Lexicon) *Classifier {
	return &Classifier{lex: lex}
}

var (
	budgetNumberRe = regexp.MustCompile(`\d+\s*万`)
	moneyNumberRe  = regexp.MustCompile(`\d+\s*[块元]`)
	hanWordRe      = regexp.MustCompile(`\p{Han}{2,4}`)
)

// questionMarkers distinguish "挺好的" from "挺好的吗": a comment followed by a
// question marker is really a status probe.
var questionMarkers = []string{"吗", "？", "?", "呢", "什么", "怎么", "如何", "为什么"}

// commentWords keep bare approvals ("挺好的") from being read as clarification
// answers.
var commentWords = []string{"好", "不错", "行", "可以", "挺", "真", "太"}

// statusExceptions are modify-looking phrases that actually ask about the
// queue, not supplement it.
var statusExceptions = []string{"还有任务", "还有多少", "还有几个"}

// Classify runs the decision table in priority order, first match wins.
// currentInput and currentTopic describe the task in flight; an empty
// currentInput means nothing is running and any input is a fresh task.
func (c *Classifier) Classify(newInput, currentInput, currentTopic string) Intent {
	if currentInput == "" {
		return Replace
	}

	text := strings.ToLower(strings.TrimSpace(newInput))
	if text == "" {
		return Backchannel
	}

	// Explicit cancel vocabulary outranks everything else.
	if c.lex.HasIntentKeyword(text, lexicon.IntentCancel) {
		return Replace
	}

	// Explicit supplements, unless the phrase is really a queue question.
	if !containsAny(text, statusExceptions) &&
		c.lex.HasIntentKeyword(text, lexicon.IntentModify) {
		return Modify
	}

	// Short contextual fragments ("预算控制在20万") supplement the task as
	// long as they carry no explicit new-task phrase.
	if utf8.RuneCountInString(text) <= 14 &&
		c.lex.HasIntentKeyword(text, lexicon.IntentContextual) &&
		!c.lex.HasIntentKeyword(text, lexicon.IntentNewTask) {
		return Modify
	}

	if c.isTopicSwitch(text, currentTopic) {
		return Replace
	}

	if c.lex.HasIntentKeyword(text, lexicon.IntentQueryStatus) {
		return QueryStatus
	}

	if c.lex.HasIntentKeyword(text, lexicon.IntentBackchannel) {
		return Backchannel
	}

	// Very short inputs like "吃饭" can still be a brand-new task.
	if utf8.RuneCountInString(text) <= 4 && c.isLikelyNewTask(text, currentInput, currentTopic) {
		return Replace
	}

	if c.lex.HasIntentKeyword(text, lexicon.IntentComment) &&
		!containsAny(text, questionMarkers) {
		return Comment
	}

	if c.lex.HasIntentKeyword(text, lexicon.IntentPause) {
		return Pause
	}
	if c.lex.HasIntentKeyword(text, lexicon.IntentResume) {
		return Resume
	}

	// Short answer-like inputs are treated as clarification answers.
	if !containsAny(text, commentWords) &&
		c.lex.HasIntentKeyword(text, lexicon.IntentClarify) &&
		utf8.RuneCountInString(text) < 20 {
		return Continue
	}

	// Never interrupt on ambiguity.
	return Comment
}

var splitPunctRe = regexp.MustCompile(`[，,。；;！!？?]`)

// ExtractReplacement pulls the new-task chunk out of a compound "cancel it,
// do X instead" utterance. Returns the input unchanged when no chunk
// qualifies.
func (c *Classifier) ExtractReplacement(text string) string {
	chunks := splitPunctRe.Split(text, -1)
	newTaskKeywords := c.lex.IntentKeywords(lexicon.IntentNewTask)
	cancelKeywords := c.lex.IntentKeywords(lexicon.IntentCancel)
	for _, chunk := range chunks {
		chunk = strings.TrimSpace(chunk)
		if chunk == "" {
			continue
		}
		if containsAny(chunk, newTaskKeywords) && !containsAny(chunk, cancelKeywords) {
			return chunk
		}
	}
	return text
}

// Decide maps an utterance to the interrupt action the runtime loop should
// take, plus the replacement input when a new task should start.
func (c *Classifier) Decide(newInput, currentInput, currentTopic string) (Action, string) {
	text := strings.TrimSpace(newInput)
	if text == "" {
		return ActionContinue, ""
	}

	switch c.Classify(newInput, currentInput, currentTopic) {
	case Modify:
		return ActionModifyCurrent, ""
	case Replace:
	default:
		return ActionContinue, ""
	}

	replacement := c.ExtractReplacement(text)
	hasCancel := containsAny(strings.ToLower(text), c.lex.IntentKeywords(lexicon.IntentCancel))
	hasNewTask := c.lex.HasIntentKeyword(text, lexicon.IntentNewTask)

	if replacement != text || hasNewTask {
		return ActionReplaceNewTask, replacement
	}
	if hasCancel {
		return ActionCancelOnly, ""
	}
	return ActionReplaceNewTask, replacement
}

// ExtractTopic is topic extraction with the loose fallback: lexicon first,
// then the leading CJK word, with numbery clarification answers and pure
// filler phrases excluded.
func (c *Classifier) ExtractTopic(text string) string {
	if topic := c.lex.ExtractTopic(text); topic != "" {
		return topic
	}

	lower := strings.ToLower(strings.TrimSpace(text))
	if budgetNumberRe.MatchString(lower) || moneyNumberRe.MatchString(lower) {
		return ""
	}
	for _, set := range []string{"comment_phrases", "backchannel_phrases", "complaint_phrases", "status_query_phrases"} {
		if slices.Contains(c.lex.FilterPhrases(set), lower) {
			return ""
		}
	}
	return hanWordRe.FindString(text)
}

func (c *Classifier) isTopicSwitch(text, currentTopic string) bool {
	if currentTopic == "" {
		return false
	}

	// Status probes and short clarification answers never switch topics,
	// whatever the loose topic fallback would make of them.
	if c.lex.HasIntentKeyword(text, lexicon.IntentQueryStatus) {
		return false
	}
	if utf8.RuneCountInString(text) < 20 && !containsAny(text, commentWords) &&
		c.lex.HasIntentKeyword(text, lexicon.IntentClarify) {
		return false
	}

	if budgetNumberRe.MatchString(text) || moneyNumberRe.MatchString(text) {
		return false
	}
	for _, set := range []string{"backchannel_phrases", "comment_phrases", "complaint_phrases", "status_query_phrases", "status_queries"} {
		if slices.Contains(c.lex.FilterPhrases(set), text) {
			return false
		}
	}

	newTopic := c.ExtractTopic(text)
	if newTopic != "" && newTopic != currentTopic {
		return true
	}

	// A short action phrase with no recognizable topic ("吃饭" during car
	// shopping) counts as a switch unless it mentions the current topic.
	if utf8.RuneCountInString(text) <= 4 && newTopic == "" {
		if containsAny(text, c.lex.FilterPhrases("action_words")) &&
			!containsAny(text, c.lex.TopicKeywords(currentTopic)) {
			return true
		}
	}
	return false
}

func (c *Classifier) isLikelyNewTask(text, currentInput, currentTopic string) bool {
	if currentTopic == "" {
		currentTopic = c.ExtractTopic(currentInput)
	}
	newTopic := c.ExtractTopic(text)

	var actionKeywords []string
	for _, name := range []string{lexicon.IntentNewTask, lexicon.IntentModify, lexicon.IntentCancel} {
		actionKeywords = append(actionKeywords, c.lex.IntentKeywords(name)...)
	}
	hasAction := containsAny(text, actionKeywords)
	runes := utf8.RuneCountInString(text)

	if currentTopic != "" && newTopic != "" && newTopic != currentTopic && (hasAction || runes <= 6) {
		return true
	}
	if currentTopic != "" && newTopic == "" && hasAction && runes <= 4 {
		return true
	}
	if currentTopic == "" && hasAction {
		return true
	}
	return false
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if kw != "" && strings.Contains(text, kw) {
			return true
		}
	}
	return false
}
