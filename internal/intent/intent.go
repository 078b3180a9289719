// Package intent decides what a user utterance means for the task currently
// in flight. Classification is a pure function of (new input, current input,
// current topic) driven by lexicon tables; it never fails, defaulting to the
// least disruptive outcome.
package intent

// Intent labels a user utterance relative to the running task.
type Intent string

const (
	// Continue answers a pending clarification question.
	Continue Intent = "CONTINUE"
	// Replace supersedes the running task.
	Replace Intent = "REPLACE"
	// Modify supplements the running task without restarting it.
	Modify Intent = "MODIFY"
	// QueryStatus asks how the running task is going.
	QueryStatus Intent = "QUERY_STATUS"
	// Pause suspends the running task.
	Pause Intent = "PAUSE"
	// Resume lifts a pause.
	Resume Intent = "RESUME"
	// Comment is incidental commentary that must not interrupt.
	Comment Intent = "COMMENT"
	// Backchannel is a bare acknowledgment ("ok", "嗯").
	Backchannel Intent = "BACKCHANNEL"
)

// Action refines a Replace into what the runtime loop should actually do.
type Action string

const (
	ActionContinue       Action = "continue"
	ActionModifyCurrent  Action = "modify_current"
	ActionCancelOnly     Action = "cancel_only"
	ActionReplaceNewTask Action = "replace_with_new_task"
)
