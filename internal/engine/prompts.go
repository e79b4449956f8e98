package engine

import "fmt"

// PromptInput carries everything a phase prompt needs, including the exact
// artifact paths the agent must write. Paths are the state-transfer contract
// with independently-initialized agents, so prompts always spell them out.
type PromptInput struct {
	TaskID          string
	Spec            string
	Iteration       int
	EvaluationPath  string
	ExecutionPath   string
	FinalResultPath string
}

// PromptBuilder renders one phase prompt. Swapping builders is how callers
// customize prompt content without touching the engine.
type PromptBuilder func(in PromptInput) string

func DefaultEvaluationPrompt(in PromptInput) string {
	return fmt.Sprintf(`You are the evaluation phase for task %s, iteration %d.

Task specification:
%s

Judge whether the task's goal is fully satisfied.
1. Write your evaluation to %s: what is done, what remains, and why.
2. Only if the goal is fully satisfied, also write the final result summary
   to %s. Creating that file ends the task; do not create it otherwise.
`, in.TaskID, in.Iteration, in.Spec, in.EvaluationPath, in.FinalResultPath)
}

func DefaultExecutionPrompt(in PromptInput) string {
	return fmt.Sprintf(`You are the execution phase for task %s, iteration %d.

Task specification:
%s

Read the evaluation at %s and perform the remaining work it identifies.
Record what you did in %s as you go.
`, in.TaskID, in.Iteration, in.Spec, in.EvaluationPath, in.ExecutionPath)
}
