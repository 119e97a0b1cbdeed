package pipeline

// State names one phase of a person's progress through a service run.
type State string

const (
	StatePending       State = "pending"
	StateSelecting     State = "selecting"
	StateExecuting     State = "executing"
	StateConsolidating State = "consolidating"
	StateDone          State = "done"
	StateFailed        State = "failed"
)
