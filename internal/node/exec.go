// Package node composes transport, orchestrator, store, and ledger into the
// two deployable roles: the execution node that runs tasks and the
// communication node that faces the human channel.
package node

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/ymatsuda/tandem/internal/engine"
	"github.com/ymatsuda/tandem/internal/events"
	"github.com/ymatsuda/tandem/internal/ledger"
	"github.com/ymatsuda/tandem/internal/lock"
	"github.com/ymatsuda/tandem/internal/logx"
	"github.com/ymatsuda/tandem/internal/model"
	"github.com/ymatsuda/tandem/internal/store"
	"github.com/ymatsuda/tandem/internal/transport"
)

// ExecutionNode owns the iteration engine side: it accepts task submissions,
// enforces the one-run-per-conversation cap, runs the orchestrator, and
// forwards every message back over the transport.
type ExecutionNode struct {
	root   string
	cfg    model.Config
	tr     transport.Transport
	st     *store.Store
	led    *ledger.Ledger
	orch   *engine.Orchestrator
	active *lock.ActiveSet
	bus    *events.Bus
	logger *logx.Logger

	fileLock *lock.FileLock
	watcher  *fsnotify.Watcher
	scans    singleflight.Group

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	runWG    sync.WaitGroup
	shutdown sync.Once
}

func NewExecution(
	root string,
	cfg model.Config,
	tr transport.Transport,
	st *store.Store,
	led *ledger.Ledger,
	orch *engine.Orchestrator,
	bus *events.Bus,
	logger *logx.Logger,
) *ExecutionNode {
	ctx, cancel := context.WithCancel(context.Background())
	return &ExecutionNode{
		root:     root,
		cfg:      cfg,
		tr:       tr,
		st:       st,
		led:      led,
		orch:     orch,
		active:   lock.NewActiveSet(),
		bus:      bus,
		logger:   logger,
		fileLock: lock.NewFileLock(filepath.Join(root, "locks", "exec.lock")),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start registers handlers and launches the background loops. It does not
// block; use Run for the signal-driven daemon lifecycle.
func (n *ExecutionNode) Start() error {
	if err := os.MkdirAll(filepath.Join(n.root, "locks"), 0755); err != nil {
		return fmt.Errorf("create locks dir: %w", err)
	}
	if err := n.fileLock.TryLock(); err != nil {
		return fmt.Errorf("execution node lock: %w", err)
	}

	n.tr.RegisterTaskHandler(n.handleTask)
	n.tr.RegisterControlHandler(n.handleControl)

	if n.cfg.Inbox.Enabled {
		if err := n.startInbox(); err != nil {
			n.fileLock.Unlock()
			return err
		}
	}
	if n.cfg.Cleanup.Enabled {
		n.wg.Add(1)
		go n.cleanupLoop()
	}

	n.logger.Infof("execution node started pid=%d root=%s", os.Getpid(), n.root)
	return nil
}

// Run starts the node and blocks until a shutdown signal arrives.
func (n *ExecutionNode) Run() error {
	if err := n.Start(); err != nil {
		return err
	}
	n.waitSignals()
	return nil
}

func (n *ExecutionNode) waitSignals() {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	sig := <-sigCh
	n.logger.Infof("received signal=%s, shutting down", sig)

	go func() {
		<-sigCh
		n.logger.Warnf("received second signal, forcing exit")
		os.Exit(1)
	}()

	n.Shutdown()
}

// Shutdown stops the loops and drains in-flight runs with a timeout.
// Idempotent.
func (n *ExecutionNode) Shutdown() {
	n.shutdown.Do(func() {
		n.logger.Infof("shutdown started")
		n.cancel()
		if n.watcher != nil {
			n.watcher.Close()
		}

		done := make(chan struct{})
		go func() {
			n.wg.Wait()
			n.runWG.Wait()
			close(done)
		}()

		timeout := time.Duration(n.cfg.Node.ShutdownTimeoutSec) * time.Second
		select {
		case <-done:
			n.logger.Infof("all runs drained")
		case <-time.After(timeout):
			n.logger.Warnf("shutdown timeout after %s, some runs may be incomplete", timeout)
		}

		n.fileLock.Unlock()
		n.led.Close()
		n.logger.Infof("execution node stopped")
	})
}

// handleTask accepts or rejects a task submission. Accepted tasks run
// asynchronously; the response only acknowledges acceptance.
func (n *ExecutionNode) handleTask(ctx context.Context, req model.TaskRequest) model.TaskResponse {
	if err := req.Validate(); err != nil {
		return model.TaskResponse{Success: false, Error: err.Error(), TaskID: req.TaskID}
	}

	if n.led.IsProcessed(req.MessageID) {
		n.logger.Infof("duplicate submission ignored message=%s task=%s", req.MessageID, req.TaskID)
		return model.TaskResponse{Success: true, TaskID: req.TaskID}
	}

	tok, ok := n.active.TryAcquire(req.ChatID)
	if !ok {
		return model.TaskResponse{
			Success: false,
			Error:   "a task is already running for this conversation",
			TaskID:  req.TaskID,
		}
	}

	spec := req.Message
	if req.Context != "" {
		spec += "\n\nAdditional context:\n" + req.Context
	}

	if err := n.st.WriteSpec(req.TaskID, spec); err != nil {
		n.active.Release(req.ChatID, tok)
		return model.TaskResponse{Success: false, Error: err.Error(), TaskID: req.TaskID}
	}
	if err := n.st.WriteMeta(req.TaskID, model.TaskMeta{
		TaskID:       req.TaskID,
		ChatID:       req.ChatID,
		MessageID:    req.MessageID,
		SenderOpenID: req.SenderOpenID,
	}); err != nil {
		n.active.Release(req.ChatID, tok)
		return model.TaskResponse{Success: false, Error: err.Error(), TaskID: req.TaskID}
	}
	if err := n.led.LogIncoming(req.ChatID, req.MessageID, req.SenderOpenID, "task", req.Message); err != nil {
		n.active.Release(req.ChatID, tok)
		return model.TaskResponse{Success: false, Error: err.Error(), TaskID: req.TaskID}
	}

	n.bus.Publish(events.Event{Type: events.EventTaskReceived, TaskID: req.TaskID, ChatID: req.ChatID})
	n.logger.Infof("task accepted task=%s chat=%s", req.TaskID, req.ChatID)

	n.runWG.Add(1)
	go n.runTask(req.TaskID, req.ChatID, spec, tok)

	return model.TaskResponse{Success: true, TaskID: req.TaskID}
}

func (n *ExecutionNode) runTask(taskID, chatID, spec string, tok lock.Token) {
	defer n.runWG.Done()
	defer n.active.Release(chatID, tok)

	rc := engine.NewReportingContext(taskID, chatID, n.forwarder(chatID))
	result := n.orch.RunTask(n.ctx, taskID, spec, rc)

	switch result.Reason {
	case model.ReasonCompleted:
		n.bus.Publish(events.Event{Type: events.EventTaskCompleted, TaskID: taskID, ChatID: chatID, Iteration: result.Iterations})
	case model.ReasonFailed:
		n.bus.Publish(events.Event{
			Type: events.EventTaskFailed, TaskID: taskID, ChatID: chatID,
			Iteration: result.Iterations, Detail: fmt.Sprint(result.Err),
		})
	}
	n.logger.Infof("run finished task=%s reason=%s iterations=%d", taskID, result.Reason, result.Iterations)
}

// forwarder maps each engine message to an outbound MessageContent and sends
// it over the transport's message channel, recording it in the ledger.
func (n *ExecutionNode) forwarder(chatID string) engine.ForwardFunc {
	return func(msg model.AgentMessage) error {
		content := renderMessage(chatID, msg)
		if err := n.tr.SendMessage(n.ctx, content); err != nil {
			n.logger.Errorf("forward message chat=%s err=%v", chatID, err)
			return err
		}
		if err := n.led.LogOutgoing(chatID, uuid.NewString(), "engine", string(msg.Type), content.Text); err != nil {
			n.logger.Warnf("ledger outgoing chat=%s err=%v", chatID, err)
		}
		return nil
	}
}

// renderMessage maps one agent message to its human-readable notification.
func renderMessage(chatID string, msg model.AgentMessage) model.MessageContent {
	var text string
	switch msg.Type {
	case model.AgentToolUse:
		text = fmt.Sprintf("▸ using %s %s", msg.Tool, msg.ToolInput)
	case model.AgentToolProgress:
		text = fmt.Sprintf("▸ %s: %s", msg.Tool, msg.Progress)
	case model.AgentToolResult:
		text = fmt.Sprintf("▸ %s done: %s", msg.Tool, msg.ToolOutput)
	case model.AgentError:
		text = "⚠ " + msg.Text
	default:
		text = msg.Text
	}
	if text == "" {
		text = string(msg.Type)
	}
	return model.MessageContent{ChatID: chatID, Type: model.ContentText, Text: text}
}

// handleControl executes a synchronous control command.
func (n *ExecutionNode) handleControl(ctx context.Context, cmd model.ControlCommand) model.ControlResponse {
	if err := cmd.Validate(); err != nil {
		return model.ControlResponse{Success: false, Error: err.Error(), Type: cmd.Type}
	}

	switch cmd.Type {
	case model.ControlReset:
		// A live run owns its task files; reset is refused rather than
		// pulling them out from under it.
		if n.active.Held(cmd.ChatID) {
			return model.ControlResponse{
				Success: false,
				Error:   "a task is still running for this conversation; use restart to force it",
				Type:    cmd.Type,
			}
		}
		if err := n.resetConversation(cmd.ChatID); err != nil {
			return model.ControlResponse{Success: false, Error: err.Error(), Type: cmd.Type}
		}
	case model.ControlRestart:
		// Restart evicts the active-run claim before cleaning. The run
		// itself cannot be interrupted mid-agent-call; it finishes against
		// a fresh tree, its own release no-ops, and its artifacts are
		// swept later.
		n.active.Evict(cmd.ChatID)
		if err := n.resetConversation(cmd.ChatID); err != nil {
			return model.ControlResponse{Success: false, Error: err.Error(), Type: cmd.Type}
		}
	}

	n.logger.Infof("control handled type=%s chat=%s", cmd.Type, cmd.ChatID)
	return model.ControlResponse{Success: true, Type: cmd.Type}
}

// resetConversation removes every task tree bound to chatID.
func (n *ExecutionNode) resetConversation(chatID string) error {
	ids, err := n.st.ListTasks()
	if err != nil {
		return err
	}
	for _, id := range ids {
		meta, err := n.st.ReadMeta(id)
		if err != nil {
			continue
		}
		if meta.ChatID != chatID {
			continue
		}
		if err := n.st.Cleanup(id); err != nil {
			return err
		}
		n.bus.Publish(events.Event{Type: events.EventTaskCleaned, TaskID: id, ChatID: chatID, Detail: "reset"})
		n.logger.Infof("task cleaned task=%s chat=%s reason=reset", id, chatID)
	}
	return nil
}
