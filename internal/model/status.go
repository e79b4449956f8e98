package model

// IterationOutcome is the terminal state of one engine iteration.
type IterationOutcome string

const (
	// OutcomeContinue means evaluation found remaining work and execution ran.
	OutcomeContinue IterationOutcome = "continue"
	// OutcomeComplete means evaluation wrote the final result; execution was skipped.
	OutcomeComplete IterationOutcome = "complete"
	// OutcomeFailed means an agent invocation failed; no further artifacts were written.
	OutcomeFailed IterationOutcome = "failed"
)

// RunReason explains why an orchestrator run ended.
type RunReason string

const (
	ReasonCompleted     RunReason = "completed"
	ReasonMaxIterations RunReason = "max_iterations"
	ReasonFailed        RunReason = "failed"
)

// RunResult summarises one full orchestrator run for a task.
type RunResult struct {
	TaskID     string
	Iterations int
	Reason     RunReason
	Err        error
}

// TaskMeta is the per-task metadata record written next to the task spec.
// It is what ties a task directory back to its originating conversation.
type TaskMeta struct {
	SchemaVersion int    `yaml:"schema_version"`
	TaskID        string `yaml:"task_id"`
	ChatID        string `yaml:"chat_id"`
	MessageID     string `yaml:"message_id"`
	SenderOpenID  string `yaml:"sender_open_id,omitempty"`
	CreatedAt     string `yaml:"created_at"`
}
