package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/ymatsuda/tandem/internal/model"
)

// Local dispatches directly to registered handlers in-process. Sends with no
// task or control handler return a structured failure response; a message
// send with no consumer is an error because the channel has no default
// response payload.
type Local struct {
	mu             sync.RWMutex
	taskHandler    TaskHandler
	messageHandler MessageHandler
	controlHandler ControlHandler
}

func NewLocal() *Local {
	return &Local{}
}

func (t *Local) RegisterTaskHandler(h TaskHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.taskHandler = h
}

func (t *Local) RegisterMessageHandler(h MessageHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messageHandler = h
}

func (t *Local) RegisterControlHandler(h ControlHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.controlHandler = h
}

func (t *Local) SendTask(ctx context.Context, req model.TaskRequest) (model.TaskResponse, error) {
	t.mu.RLock()
	h := t.taskHandler
	t.mu.RUnlock()

	if h == nil {
		return model.TaskResponse{Success: false, Error: errNoTaskHandler, TaskID: req.TaskID}, nil
	}
	return h(ctx, req), nil
}

func (t *Local) SendMessage(ctx context.Context, msg model.MessageContent) error {
	t.mu.RLock()
	h := t.messageHandler
	t.mu.RUnlock()

	if h == nil {
		return fmt.Errorf("no message handler registered")
	}
	return h(ctx, msg)
}

func (t *Local) SendControl(ctx context.Context, cmd model.ControlCommand) (model.ControlResponse, error) {
	t.mu.RLock()
	h := t.controlHandler
	t.mu.RUnlock()

	if h == nil {
		return model.ControlResponse{Success: false, Error: errNoControlHandler, Type: cmd.Type}, nil
	}
	return h(ctx, cmd), nil
}

var _ Transport = (*Local)(nil)
