package engine

import (
	"context"
	"fmt"

	"github.com/ymatsuda/tandem/internal/events"
	"github.com/ymatsuda/tandem/internal/logx"
	"github.com/ymatsuda/tandem/internal/model"
)

// Orchestrator drives the Engine across iterations up to a configured bound.
// Iterations for one task are strictly sequential; unrelated tasks are not
// serialized here.
type Orchestrator struct {
	engine        *Engine
	maxIterations int
	bus           *events.Bus
	logger        *logx.Logger
}

func NewOrchestrator(eng *Engine, maxIterations int, bus *events.Bus, logger *logx.Logger) *Orchestrator {
	if maxIterations <= 0 {
		maxIterations = 5
	}
	return &Orchestrator{
		engine:        eng,
		maxIterations: maxIterations,
		bus:           bus,
		logger:        logger,
	}
}

// RunTask runs iterations until completion, failure, or the iteration bound.
// Whatever the outcome, the conversation is never left silent: if nothing was
// forwarded during the whole run, one final warning is.
func (o *Orchestrator) RunTask(ctx context.Context, taskID, spec string, rc *ReportingContext) model.RunResult {
	result := model.RunResult{TaskID: taskID, Reason: model.ReasonMaxIterations}

loop:
	for n := 1; n <= o.maxIterations; n++ {
		result.Iterations = n
		o.publish(events.EventIterationStarted, rc, n, "")

		outcome, err := o.engine.RunIteration(ctx, taskID, spec, n, rc)
		o.publish(events.EventIterationCompleted, rc, n, string(outcome))

		switch outcome {
		case model.OutcomeComplete:
			rc.Report(model.AgentMessage{
				Type: model.AgentResult,
				Text: fmt.Sprintf("Task %s fully completed after %d iteration(s).", taskID, n),
			})
			result.Reason = model.ReasonCompleted
			break loop
		case model.OutcomeFailed:
			result.Reason = model.ReasonFailed
			result.Err = err
			break loop
		}
	}

	if result.Reason == model.ReasonMaxIterations {
		o.logger.Warnf("max iterations reached task=%s max=%d", taskID, o.maxIterations)
		rc.Report(model.AgentMessage{
			Type: model.AgentStatus,
			Text: fmt.Sprintf("Task %s reached the maximum of %d iteration(s) without completing. Send /reset to start over.",
				taskID, o.maxIterations),
		})
	}

	// Silent-completion guard: a run must produce at least one observable
	// signal for the initiating conversation, whatever ended it.
	if rc.Sent() == 0 {
		o.logger.Warnf("silent run guard fired task=%s reason=%s", taskID, result.Reason)
		rc.Report(model.AgentMessage{
			Type: model.AgentStatus,
			Text: fmt.Sprintf("Task %s ended (%s) without producing any output.", taskID, result.Reason),
		})
	}

	return result
}

func (o *Orchestrator) publish(t events.EventType, rc *ReportingContext, n int, detail string) {
	if o.bus == nil {
		return
	}
	o.bus.Publish(events.Event{
		Type:      t,
		TaskID:    rc.TaskID(),
		ChatID:    rc.ChatID(),
		Iteration: n,
		Detail:    detail,
	})
}
