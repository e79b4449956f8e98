// Package engine runs the evaluate/decide/execute cycle for a task and
// drives it across iterations. Completion is a file-existence predicate on
// the task store: after the evaluation stream ends, the presence of the final
// result artifact is the only completion signal — the evaluation agent and
// this engine are not guaranteed to share a process, so a sentinel artifact
// is the one state-transfer mechanism they both have.
package engine

import (
	"context"
	"fmt"

	"github.com/ymatsuda/tandem/internal/agent"
	"github.com/ymatsuda/tandem/internal/faults"
	"github.com/ymatsuda/tandem/internal/logx"
	"github.com/ymatsuda/tandem/internal/model"
	"github.com/ymatsuda/tandem/internal/store"
)

// Engine runs exactly one iteration per call. Phases within a call are
// strictly ordered: evaluation, then the completion check, then execution.
type Engine struct {
	store     *store.Store
	evaluator agent.Agent
	executor  agent.Agent

	evalTools []string
	execTools []string
	workDir   string

	evaluationPrompt PromptBuilder
	executionPrompt  PromptBuilder

	logger *logx.Logger
}

func New(st *store.Store, evaluator, executor agent.Agent, cfg model.AgentsConfig, logger *logx.Logger) *Engine {
	return &Engine{
		store:            st,
		evaluator:        evaluator,
		executor:         executor,
		evalTools:        cfg.Evaluator.AllowedTools,
		execTools:        cfg.Executor.AllowedTools,
		workDir:          cfg.Executor.WorkDir,
		evaluationPrompt: DefaultEvaluationPrompt,
		executionPrompt:  DefaultExecutionPrompt,
		logger:           logger,
	}
}

// SetPrompts overrides the phase prompt builders. Must be called before the
// first iteration.
func (e *Engine) SetPrompts(evaluation, execution PromptBuilder) {
	if evaluation != nil {
		e.evaluationPrompt = evaluation
	}
	if execution != nil {
		e.executionPrompt = execution
	}
}

// RunIteration performs one evaluate/decide/execute cycle for iteration n.
// Agent failures end the iteration with OutcomeFailed after emitting exactly
// one error-typed message; nothing is retried and no artifacts are rolled
// back.
func (e *Engine) RunIteration(ctx context.Context, taskID, spec string, n int, rc *ReportingContext) (model.IterationOutcome, error) {
	if err := e.store.EnsureDir(taskID); err != nil {
		return e.fail(rc, fmt.Errorf("prepare task dir: %w", err))
	}

	in := PromptInput{
		TaskID:          taskID,
		Spec:            spec,
		Iteration:       n,
		EvaluationPath:  e.store.EvaluationPath(taskID, n),
		ExecutionPath:   e.store.ExecutionPath(taskID, n),
		FinalResultPath: e.store.FinalResultPath(taskID),
	}

	e.logger.Infof("evaluating task=%s iteration=%d", taskID, n)
	err := e.evaluator.Run(ctx, agent.Request{
		Prompt:       e.evaluationPrompt(in),
		AllowedTools: e.evalTools,
		WorkDir:      e.workDir,
	}, rc.Report)
	if err != nil {
		return e.fail(rc, fmt.Errorf("evaluation phase: %w", err))
	}

	// The completion check happens exactly once, immediately after the
	// evaluation stream ends. If the marker exists, execution never runs
	// for this iteration.
	if e.store.HasFinalResult(taskID) {
		e.logger.Infof("task complete task=%s iteration=%d", taskID, n)
		rc.Report(model.AgentMessage{
			Type: model.AgentStatus,
			Text: fmt.Sprintf("Task %s completed.", taskID),
		})
		return model.OutcomeComplete, nil
	}

	e.logger.Infof("executing task=%s iteration=%d", taskID, n)
	err = e.executor.Run(ctx, agent.Request{
		Prompt:       e.executionPrompt(in),
		AllowedTools: e.execTools,
		WorkDir:      e.workDir,
	}, rc.Report)
	if err != nil {
		return e.fail(rc, fmt.Errorf("execution phase: %w", err))
	}

	return model.OutcomeContinue, nil
}

// fail emits the single terminal error message for this iteration. The text
// is the classified user-facing message, never a raw trace; the technical
// error goes back to the caller for logging.
func (e *Engine) fail(rc *ReportingContext, err error) (model.IterationOutcome, error) {
	e.logger.Errorf("iteration failed task=%s err=%v", rc.TaskID(), err)
	rc.Report(model.AgentMessage{
		Type: model.AgentError,
		Text: faults.UserMessage(err),
	})
	return model.OutcomeFailed, err
}
