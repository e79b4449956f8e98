// Package transport carries task, message, and control traffic between the
// communication and execution roles. Two implementations exist: Local for
// co-located roles and HTTP for a network split. Callers written against the
// Transport interface cannot tell them apart except through latency and
// network failure modes.
package transport

import (
	"context"

	"github.com/ymatsuda/tandem/internal/model"
)

const (
	errNoTaskHandler    = "No task handler registered"
	errNoControlHandler = "No control handler registered"
)

// TaskHandler accepts a task submission on the execution role.
type TaskHandler func(ctx context.Context, req model.TaskRequest) model.TaskResponse

// MessageHandler delivers an outbound message on the communication role.
type MessageHandler func(ctx context.Context, msg model.MessageContent) error

// ControlHandler executes a synchronous control command on the execution role.
type ControlHandler func(ctx context.Context, cmd model.ControlCommand) model.ControlResponse

// Transport is the three-channel boundary between the two roles. Each channel
// has a send half and a register half; which role holds which half is fixed by
// the deployment, not by this interface.
type Transport interface {
	SendTask(ctx context.Context, req model.TaskRequest) (model.TaskResponse, error)
	SendMessage(ctx context.Context, msg model.MessageContent) error
	SendControl(ctx context.Context, cmd model.ControlCommand) (model.ControlResponse, error)

	RegisterTaskHandler(h TaskHandler)
	RegisterMessageHandler(h MessageHandler)
	RegisterControlHandler(h ControlHandler)
}
