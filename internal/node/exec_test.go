package node

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ymatsuda/tandem/internal/agent"
	"github.com/ymatsuda/tandem/internal/engine"
	"github.com/ymatsuda/tandem/internal/events"
	"github.com/ymatsuda/tandem/internal/ledger"
	"github.com/ymatsuda/tandem/internal/logx"
	"github.com/ymatsuda/tandem/internal/model"
	"github.com/ymatsuda/tandem/internal/store"
	"github.com/ymatsuda/tandem/internal/transport"
)

// scriptedAgent drives iterations in-process. Each call invokes fn with the
// 1-based call number.
type scriptedAgent struct {
	mu    sync.Mutex
	calls int
	fn    func(call int, req agent.Request, emit agent.EmitFunc) error
}

func (a *scriptedAgent) Run(ctx context.Context, req agent.Request, emit agent.EmitFunc) error {
	a.mu.Lock()
	a.calls++
	call := a.calls
	fn := a.fn
	a.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn(call, req, emit)
}

func (a *scriptedAgent) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

type execFixture struct {
	root      string
	node      *ExecutionNode
	tr        *transport.Local
	st        *store.Store
	bus       *events.Bus
	evaluator *scriptedAgent
	executor  *scriptedAgent
	completed chan events.Event

	mu       sync.Mutex
	outbound []model.MessageContent
}

// newExecFixture wires an execution node over the in-process transport with
// an evaluator that completes every task on its first pass.
func newExecFixture(t *testing.T) *execFixture {
	t.Helper()

	root := t.TempDir()
	st := store.New(root)
	f := &execFixture{root: root, st: st}

	f.evaluator = &scriptedAgent{fn: func(call int, req agent.Request, emit agent.EmitFunc) error {
		return st.WriteFinalResult(taskIDFromPrompt(req.Prompt), "done")
	}}
	f.executor = &scriptedAgent{}

	logger := logx.New(io.Discard, "test", logx.LevelError)
	eng := engine.New(st, f.evaluator, f.executor, model.AgentsConfig{}, logger)
	f.bus = events.NewBus(16)
	t.Cleanup(f.bus.Close)
	orch := engine.NewOrchestrator(eng, 3, f.bus, logger)

	f.tr = transport.NewLocal()
	f.tr.RegisterMessageHandler(func(ctx context.Context, msg model.MessageContent) error {
		f.mu.Lock()
		f.outbound = append(f.outbound, msg)
		f.mu.Unlock()
		return nil
	})

	// Subscribed before the node exists so no completion can slip past.
	f.completed = make(chan events.Event, 16)
	unsub := f.bus.Subscribe(events.EventTaskCompleted, func(ev events.Event) { f.completed <- ev })
	t.Cleanup(unsub)

	cfg := model.Config{}
	cfg.ApplyDefaults()
	led := ledger.New(root)

	f.node = NewExecution(root, cfg, f.tr, st, led, orch, f.bus, logger)
	require.NoError(t, f.node.Start())
	t.Cleanup(f.node.Shutdown)
	return f
}

// taskIDFromPrompt extracts the task ID the prompt names on its first line.
func taskIDFromPrompt(prompt string) string {
	const marker = "for task "
	i := strings.Index(prompt, marker)
	if i < 0 {
		return ""
	}
	rest := prompt[i+len(marker):]
	if j := strings.IndexAny(rest, ", \n"); j >= 0 {
		rest = rest[:j]
	}
	return rest
}

func (f *execFixture) waitCompleted(t *testing.T) events.Event {
	t.Helper()
	select {
	case ev := <-f.completed:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("task never completed")
		return events.Event{}
	}
}

func (f *execFixture) sentMessages() []model.MessageContent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.MessageContent(nil), f.outbound...)
}

func validRequest() model.TaskRequest {
	return model.TaskRequest{
		TaskID:    "task_1700000000_aaaa0001",
		ChatID:    "chat1",
		Message:   "clean up the backlog",
		MessageID: "msg_1700000000_bbbb0001",
	}
}

func TestExecutionNode_AcceptsAndRunsTask(t *testing.T) {
	f := newExecFixture(t)

	resp, err := f.tr.SendTask(context.Background(), validRequest())
	require.NoError(t, err)
	require.True(t, resp.Success, "accept failed: %s", resp.Error)

	ev := f.waitCompleted(t)
	assert.Equal(t, "task_1700000000_aaaa0001", ev.TaskID)
	assert.Equal(t, "chat1", ev.ChatID)

	spec, err := f.st.ReadSpec("task_1700000000_aaaa0001")
	require.NoError(t, err)
	assert.Equal(t, "clean up the backlog", spec)

	msgs := f.sentMessages()
	require.NotEmpty(t, msgs, "completion must be reported to the conversation")
	for _, m := range msgs {
		assert.Equal(t, "chat1", m.ChatID)
	}
}

func TestExecutionNode_ContextAppendedToSpec(t *testing.T) {
	f := newExecFixture(t)

	req := validRequest()
	req.Context = "branch: main"
	resp, err := f.tr.SendTask(context.Background(), req)
	require.NoError(t, err)
	require.True(t, resp.Success)
	f.waitCompleted(t)

	spec, err := f.st.ReadSpec(req.TaskID)
	require.NoError(t, err)
	assert.Contains(t, spec, "clean up the backlog")
	assert.Contains(t, spec, "Additional context:\nbranch: main")
}

func TestExecutionNode_RejectsInvalidRequest(t *testing.T) {
	f := newExecFixture(t)

	req := validRequest()
	req.Message = ""
	resp, err := f.tr.SendTask(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "message")
}

func TestExecutionNode_DuplicateMessageIgnored(t *testing.T) {
	f := newExecFixture(t)

	first, err := f.tr.SendTask(context.Background(), validRequest())
	require.NoError(t, err)
	require.True(t, first.Success)
	f.waitCompleted(t)
	runs := f.evaluator.callCount()

	// Same MessageID again: acknowledged without starting another run.
	second, err := f.tr.SendTask(context.Background(), validRequest())
	require.NoError(t, err)
	assert.True(t, second.Success)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, runs, f.evaluator.callCount(), "duplicate submission started a run")
}

func TestExecutionNode_OneRunPerConversation(t *testing.T) {
	f := newExecFixture(t)

	release := make(chan struct{})
	started := make(chan struct{}, 1)
	f.evaluator.fn = func(call int, req agent.Request, emit agent.EmitFunc) error {
		started <- struct{}{}
		<-release
		return f.st.WriteFinalResult(taskIDFromPrompt(req.Prompt), "done")
	}

	resp, err := f.tr.SendTask(context.Background(), validRequest())
	require.NoError(t, err)
	require.True(t, resp.Success)
	<-started

	// Second task for the same conversation while the first still runs.
	req2 := validRequest()
	req2.TaskID = "task_1700000000_aaaa0002"
	req2.MessageID = "msg_1700000000_bbbb0002"
	busy, err := f.tr.SendTask(context.Background(), req2)
	require.NoError(t, err)
	assert.False(t, busy.Success)
	assert.Contains(t, busy.Error, "already running")

	// A different conversation is unaffected.
	req3 := validRequest()
	req3.TaskID = "task_1700000000_aaaa0003"
	req3.MessageID = "msg_1700000000_bbbb0003"
	req3.ChatID = "chat2"
	other, err := f.tr.SendTask(context.Background(), req3)
	require.NoError(t, err)
	assert.True(t, other.Success, "unrelated conversation blocked: %s", other.Error)

	close(release)
}

func TestExecutionNode_ResetRefusedWhileRunning(t *testing.T) {
	f := newExecFixture(t)

	release := make(chan struct{})
	started := make(chan struct{}, 1)
	f.evaluator.fn = func(call int, req agent.Request, emit agent.EmitFunc) error {
		started <- struct{}{}
		<-release
		return f.st.WriteFinalResult(taskIDFromPrompt(req.Prompt), "done")
	}

	resp, err := f.tr.SendTask(context.Background(), validRequest())
	require.NoError(t, err)
	require.True(t, resp.Success)
	<-started

	ctl, err := f.tr.SendControl(context.Background(), model.ControlCommand{
		Type: model.ControlReset, ChatID: "chat1",
	})
	require.NoError(t, err)
	assert.False(t, ctl.Success)
	assert.Contains(t, ctl.Error, "restart")

	close(release)
}

func TestExecutionNode_ResetCleansConversationTasks(t *testing.T) {
	f := newExecFixture(t)

	resp, err := f.tr.SendTask(context.Background(), validRequest())
	require.NoError(t, err)
	require.True(t, resp.Success)
	f.waitCompleted(t)

	// A task bound to another conversation must survive the reset.
	require.NoError(t, f.st.WriteSpec("task_other", "other work"))
	require.NoError(t, f.st.WriteMeta("task_other", model.TaskMeta{TaskID: "task_other", ChatID: "chat2"}))

	ctl, err := f.tr.SendControl(context.Background(), model.ControlCommand{
		Type: model.ControlReset, ChatID: "chat1",
	})
	require.NoError(t, err)
	require.True(t, ctl.Success, "reset failed: %s", ctl.Error)

	_, err = f.st.ReadSpec("task_1700000000_aaaa0001")
	assert.ErrorIs(t, err, store.ErrNotFound, "chat1 task not cleaned")
	_, err = f.st.ReadSpec("task_other")
	assert.NoError(t, err, "chat2 task wrongly cleaned")
}

func TestExecutionNode_RestartReleasesConversation(t *testing.T) {
	f := newExecFixture(t)

	release := make(chan struct{})
	started := make(chan struct{}, 1)
	f.evaluator.fn = func(call int, req agent.Request, emit agent.EmitFunc) error {
		started <- struct{}{}
		<-release
		return f.st.WriteFinalResult(taskIDFromPrompt(req.Prompt), "done")
	}

	resp, err := f.tr.SendTask(context.Background(), validRequest())
	require.NoError(t, err)
	require.True(t, resp.Success)
	<-started

	ctl, err := f.tr.SendControl(context.Background(), model.ControlCommand{
		Type: model.ControlRestart, ChatID: "chat1",
	})
	require.NoError(t, err)
	require.True(t, ctl.Success, "restart failed: %s", ctl.Error)

	// The conversation accepts new work immediately after restart.
	req2 := validRequest()
	req2.TaskID = "task_1700000000_aaaa0009"
	req2.MessageID = "msg_1700000000_bbbb0009"
	again, err := f.tr.SendTask(context.Background(), req2)
	require.NoError(t, err)
	assert.True(t, again.Success, "conversation still blocked after restart: %s", again.Error)

	close(release)
}

func TestExecutionNode_RestartDoesNotFreeSuccessorRun(t *testing.T) {
	f := newExecFixture(t)

	releases := map[string]chan struct{}{
		"task_1700000000_aaaa0001": make(chan struct{}),
		"task_1700000000_aaaa0002": make(chan struct{}),
	}
	started := make(chan string, 2)
	f.evaluator.fn = func(call int, req agent.Request, emit agent.EmitFunc) error {
		id := taskIDFromPrompt(req.Prompt)
		started <- id
		if ch, ok := releases[id]; ok {
			<-ch
		}
		return f.st.WriteFinalResult(id, "done")
	}

	resp, err := f.tr.SendTask(context.Background(), validRequest())
	require.NoError(t, err)
	require.True(t, resp.Success)
	<-started

	ctl, err := f.tr.SendControl(context.Background(), model.ControlCommand{
		Type: model.ControlRestart, ChatID: "chat1",
	})
	require.NoError(t, err)
	require.True(t, ctl.Success, "restart failed: %s", ctl.Error)

	// A second run starts on the conversation the restart just freed.
	req2 := validRequest()
	req2.TaskID = "task_1700000000_aaaa0002"
	req2.MessageID = "msg_1700000000_bbbb0002"
	second, err := f.tr.SendTask(context.Background(), req2)
	require.NoError(t, err)
	require.True(t, second.Success, "conversation still blocked after restart: %s", second.Error)
	<-started

	// The abandoned first run finishing must not free the claim the second
	// run holds.
	close(releases["task_1700000000_aaaa0001"])
	f.waitCompleted(t)

	req3 := validRequest()
	req3.TaskID = "task_1700000000_aaaa0003"
	req3.MessageID = "msg_1700000000_bbbb0003"
	third, err := f.tr.SendTask(context.Background(), req3)
	require.NoError(t, err)
	assert.False(t, third.Success, "third task accepted while the second still ran")
	assert.Contains(t, third.Error, "already running")

	close(releases["task_1700000000_aaaa0002"])
	f.waitCompleted(t)
}

func TestExecutionNode_SecondInstanceRefused(t *testing.T) {
	f := newExecFixture(t)

	cfg := model.Config{}
	cfg.ApplyDefaults()
	logger := logx.New(io.Discard, "test", logx.LevelError)
	second := NewExecution(f.root, cfg, transport.NewLocal(), f.st,
		ledger.New(f.root), nil, f.bus, logger)

	err := second.Start()
	require.Error(t, err, "two execution nodes acquired the same root")
	assert.Contains(t, err.Error(), "lock")
}

func TestRenderMessage(t *testing.T) {
	tests := []struct {
		name string
		msg  model.AgentMessage
		want string
	}{
		{"text", model.AgentMessage{Type: model.AgentText, Text: "thinking"}, "thinking"},
		{"tool use", model.AgentMessage{Type: model.AgentToolUse, Tool: "bash", ToolInput: "ls"}, "▸ using bash ls"},
		{"tool progress", model.AgentMessage{Type: model.AgentToolProgress, Tool: "build", Progress: "50%"}, "▸ build: 50%"},
		{"tool result", model.AgentMessage{Type: model.AgentToolResult, Tool: "test", ToolOutput: "ok"}, "▸ test done: ok"},
		{"error", model.AgentMessage{Type: model.AgentError, Text: "it broke"}, "⚠ it broke"},
		{"status", model.AgentMessage{Type: model.AgentStatus, Text: "done"}, "done"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := renderMessage("chat1", tc.msg)
			assert.Equal(t, tc.want, got.Text)
			assert.Equal(t, "chat1", got.ChatID)
			assert.Equal(t, model.ContentText, got.Type)
		})
	}
}
