package engine

import (
	"sync/atomic"

	"github.com/ymatsuda/tandem/internal/model"
)

// ForwardFunc delivers one message toward the human channel. The mapping from
// agent message to chat notification is the caller's concern; the engine
// treats it as an opaque pass-through.
type ForwardFunc func(msg model.AgentMessage) error

// ReportingContext is the explicit reporting handle threaded through every
// phase call — there is no settable global. It also counts how many messages
// actually reached the forwarder, which backs the silent-completion guard.
type ReportingContext struct {
	taskID  string
	chatID  string
	forward ForwardFunc
	sent    atomic.Int64
}

func NewReportingContext(taskID, chatID string, forward ForwardFunc) *ReportingContext {
	return &ReportingContext{taskID: taskID, chatID: chatID, forward: forward}
}

func (rc *ReportingContext) TaskID() string { return rc.taskID }
func (rc *ReportingContext) ChatID() string { return rc.chatID }

// Report forwards msg and counts it on success. Forward failures are the
// forwarder's to log; a failed forward does not count as user-visible output.
func (rc *ReportingContext) Report(msg model.AgentMessage) {
	if rc.forward == nil {
		return
	}
	if err := rc.forward(msg); err == nil {
		rc.sent.Add(1)
	}
}

// Sent returns how many messages were successfully forwarded so far.
func (rc *ReportingContext) Sent() int64 {
	return rc.sent.Load()
}
