package model

import (
	"encoding/json"
	"fmt"
)

// AgentMessageType is the closed set of message kinds an agent stream may
// carry. The transport and chat layers switch on it, so new kinds require a
// coordinated change on both ends.
type AgentMessageType string

const (
	AgentText         AgentMessageType = "text"
	AgentToolUse      AgentMessageType = "tool_use"
	AgentToolProgress AgentMessageType = "tool_progress"
	AgentToolResult   AgentMessageType = "tool_result"
	AgentError        AgentMessageType = "error"
	AgentStatus       AgentMessageType = "status"
	AgentResult       AgentMessageType = "result"
)

// AgentMessage is one emission from an agent stream. Only the fields relevant
// to its Type are populated.
type AgentMessage struct {
	Type       AgentMessageType `json:"type"`
	Text       string           `json:"text,omitempty"`
	Tool       string           `json:"tool,omitempty"`
	ToolInput  string           `json:"tool_input,omitempty"`
	ToolOutput string           `json:"tool_output,omitempty"`
	Progress   string           `json:"progress,omitempty"`
}

// ContentType discriminates outbound chat payloads.
type ContentType string

const (
	ContentText ContentType = "text"
	ContentCard ContentType = "card"
	ContentFile ContentType = "file"
)

// MessageContent is one outbound chat notification on the message channel.
type MessageContent struct {
	ChatID      string          `json:"chatId"`
	Type        ContentType     `json:"type"`
	Text        string          `json:"text,omitempty"`
	Card        json.RawMessage `json:"card,omitempty"`
	FilePath    string          `json:"filePath,omitempty"`
	Description string          `json:"description,omitempty"`
}

func (m MessageContent) Validate() error {
	if m.ChatID == "" {
		return fmt.Errorf("message missing chatId")
	}
	switch m.Type {
	case ContentText:
		if m.Text == "" {
			return fmt.Errorf("text message missing text")
		}
	case ContentCard:
		if len(m.Card) == 0 {
			return fmt.Errorf("card message missing card payload")
		}
	case ContentFile:
		if m.FilePath == "" {
			return fmt.Errorf("file message missing filePath")
		}
	default:
		return fmt.Errorf("unknown message content type: %s", m.Type)
	}
	return nil
}

// TaskRequest submits one task for execution. MessageID is the dedup key; a
// request whose MessageID has been processed before is acknowledged and
// dropped.
type TaskRequest struct {
	TaskID       string `json:"taskId"`
	ChatID       string `json:"chatId"`
	Message      string `json:"message"`
	MessageID    string `json:"messageId"`
	SenderOpenID string `json:"senderOpenId,omitempty"`
	Context      string `json:"context,omitempty"`
}

func (r TaskRequest) Validate() error {
	switch {
	case r.TaskID == "":
		return fmt.Errorf("task request missing taskId")
	case !ValidateID(r.TaskID):
		return fmt.Errorf("task request malformed taskId: %s", r.TaskID)
	case r.ChatID == "":
		return fmt.Errorf("task request missing chatId")
	case r.Message == "":
		return fmt.Errorf("task request missing message")
	case r.MessageID == "":
		return fmt.Errorf("task request missing messageId")
	}
	return nil
}

// TaskResponse acknowledges a TaskRequest. Success=true means the task was
// accepted (or recognized as a duplicate), not that it finished.
type TaskResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	TaskID  string `json:"taskId,omitempty"`
}

type ControlType string

const (
	// ControlReset clears a conversation's task state when no run is active.
	ControlReset ControlType = "reset"
	// ControlRestart forces a reset even while a run is active.
	ControlRestart ControlType = "restart"
)

// ControlCommand is one lifecycle command on the control channel, scoped to a
// conversation.
type ControlCommand struct {
	Type   ControlType       `json:"type"`
	ChatID string            `json:"chatId"`
	Data   map[string]string `json:"data,omitempty"`
}

func (c ControlCommand) Validate() error {
	if c.Type != ControlReset && c.Type != ControlRestart {
		return fmt.Errorf("unknown control type: %s", c.Type)
	}
	if c.ChatID == "" {
		return fmt.Errorf("control command missing chatId")
	}
	return nil
}

// ControlResponse acknowledges a ControlCommand.
type ControlResponse struct {
	Success bool        `json:"success"`
	Error   string      `json:"error,omitempty"`
	Type    ControlType `json:"type,omitempty"`
}
