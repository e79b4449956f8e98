// Package agent defines the boundary to the external reasoning engines. The
// orchestration core only ever sees an Agent: something that, given a prompt
// and a tool allow-list, streams typed messages until it finishes or fails.
// Artifact persistence is the agent's own responsibility; the engine observes
// results purely through the task store.
package agent

import (
	"context"

	"github.com/ymatsuda/tandem/internal/model"
)

// Request is one agent invocation.
type Request struct {
	Prompt       string
	AllowedTools []string
	WorkDir      string
}

// EmitFunc receives each streamed message in order.
type EmitFunc func(model.AgentMessage)

// Agent runs one invocation to completion or failure. There is no
// cooperative cancellation mid-call beyond ctx; abort signals are checked
// before Run, not during.
type Agent interface {
	Run(ctx context.Context, req Request, emit EmitFunc) error
}
