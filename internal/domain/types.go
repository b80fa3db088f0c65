package domain

// Column is a tracked workflow column. The value doubles as the "status"
// string sent to the automation backend.
type Column string

const (
	ColumnInProgress Column = "in progress"
	ColumnQA         Column = "qa"
)

// Operation is a backend route selected by column
type Operation string

const (
	OpSuggestScenarios Operation = "suggest-scenarios"
	OpRunTests         Operation = "run-tests"
)

// Phase is a notification lifecycle step for one dispatch
type Phase string

const (
	PhaseStart    Phase = "start"
	PhaseComplete Phase = "complete"
	PhaseError    Phase = "error"
)

// DispatchStatus represents the recorded state of a dispatch attempt
type DispatchStatus string

const (
	DispatchStarted   DispatchStatus = "started"
	DispatchSucceeded DispatchStatus = "succeeded"
	DispatchFailed    DispatchStatus = "failed"
)
