package node

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/ymatsuda/tandem/internal/chat"
	"github.com/ymatsuda/tandem/internal/faults"
	"github.com/ymatsuda/tandem/internal/ledger"
	"github.com/ymatsuda/tandem/internal/logx"
	"github.com/ymatsuda/tandem/internal/model"
	"github.com/ymatsuda/tandem/internal/transport"
)

// CommunicationNode faces the human channel: it turns inbound chat messages
// into task submissions or control commands and delivers outbound message
// content back to the chat platform.
type CommunicationNode struct {
	tr     transport.Transport
	client chat.Client
	led    *ledger.Ledger
	logger *logx.Logger
}

func NewCommunication(tr transport.Transport, client chat.Client, led *ledger.Ledger, logger *logx.Logger) *CommunicationNode {
	return &CommunicationNode{tr: tr, client: client, led: led, logger: logger}
}

// Start registers the outbound message handler on the transport.
func (n *CommunicationNode) Start() {
	n.tr.RegisterMessageHandler(n.handleMessage)
	n.logger.Infof("communication node started")
}

// handleMessage delivers one MessageContent to the chat platform.
func (n *CommunicationNode) handleMessage(ctx context.Context, msg model.MessageContent) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	var err error
	switch msg.Type {
	case model.ContentText:
		err = n.client.SendText(ctx, msg.ChatID, msg.Text)
	case model.ContentCard:
		err = n.client.SendCard(ctx, msg.ChatID, msg.Card)
	case model.ContentFile:
		err = n.client.SendFile(ctx, msg.ChatID, msg.FilePath, msg.Description)
	}
	if err != nil {
		n.logger.Errorf("deliver message chat=%s type=%s err=%v", msg.ChatID, msg.Type, err)
		return err
	}

	if err := n.led.LogOutgoing(msg.ChatID, uuid.NewString(), "tandem", string(msg.Type), msg.Text); err != nil {
		n.logger.Warnf("ledger outgoing chat=%s err=%v", msg.ChatID, err)
	}
	return nil
}

// HandleInbound processes one message from the chat platform: dedup first,
// then either a control command or a task submission.
func (n *CommunicationNode) HandleInbound(ctx context.Context, m chat.InboundMessage) {
	if n.led.IsProcessed(m.MessageID) {
		n.logger.Infof("duplicate inbound ignored message=%s chat=%s", m.MessageID, m.ChatID)
		return
	}

	text := strings.TrimSpace(m.Text)
	switch text {
	case "/reset":
		n.handleControlCommand(ctx, m, model.ControlReset)
	case "/restart":
		n.handleControlCommand(ctx, m, model.ControlRestart)
	default:
		n.submitTask(ctx, m, text)
	}
}

func (n *CommunicationNode) handleControlCommand(ctx context.Context, m chat.InboundMessage, cmdType model.ControlType) {
	if err := n.led.LogIncoming(m.ChatID, m.MessageID, m.SenderOpenID, "control", m.Text); err != nil {
		n.logger.Errorf("ledger incoming chat=%s err=%v", m.ChatID, err)
		return
	}

	resp, err := n.tr.SendControl(ctx, model.ControlCommand{Type: cmdType, ChatID: m.ChatID})
	switch {
	case err != nil:
		n.reply(ctx, m.ChatID, faults.UserMessage(err))
	case !resp.Success:
		n.reply(ctx, m.ChatID, fmt.Sprintf("%s failed: %s", cmdType, resp.Error))
	default:
		n.reply(ctx, m.ChatID, fmt.Sprintf("%s done.", cmdType))
	}
}

func (n *CommunicationNode) submitTask(ctx context.Context, m chat.InboundMessage, text string) {
	taskID, err := model.GenerateID(model.IDTypeTask)
	if err != nil {
		n.logger.Errorf("generate task id: %v", err)
		n.reply(ctx, m.ChatID, faults.UserMessage(err))
		return
	}

	resp, err := n.tr.SendTask(ctx, model.TaskRequest{
		TaskID:       taskID,
		ChatID:       m.ChatID,
		Message:      text,
		MessageID:    m.MessageID,
		SenderOpenID: m.SenderOpenID,
	})
	switch {
	case err != nil:
		n.logger.Errorf("submit task=%s err=%v", taskID, err)
		n.reply(ctx, m.ChatID, faults.UserMessage(err))
	case !resp.Success:
		n.reply(ctx, m.ChatID, "Could not start the task: "+resp.Error)
	default:
		// Recorded only once the submission is accepted, and after the peer
		// has had its own look at the ID: marking earlier would make a
		// shared-ledger peer see its own submission as a duplicate. The
		// append is a no-op when the peer already logged it.
		if err := n.led.LogIncoming(m.ChatID, m.MessageID, m.SenderOpenID, "task", text); err != nil {
			n.logger.Warnf("ledger incoming chat=%s err=%v", m.ChatID, err)
		}
		n.logger.Infof("task submitted task=%s chat=%s", taskID, m.ChatID)
	}
}

func (n *CommunicationNode) reply(ctx context.Context, chatID, text string) {
	if err := n.client.SendText(ctx, chatID, text); err != nil {
		n.logger.Errorf("reply chat=%s err=%v", chatID, err)
	}
}
