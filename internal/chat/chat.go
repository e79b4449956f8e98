// Package chat is the narrow adapter boundary to whatever platform carries
// the human conversation. The core only needs to deliver three payload kinds
// to a conversation ID and to receive inbound messages through a callback.
package chat

import (
	"context"
	"encoding/json"
	"time"
)

// InboundMessage is the minimal envelope needed to route a human message.
type InboundMessage struct {
	MessageID    string
	ChatID       string
	SenderOpenID string
	Text         string
	ReceivedAt   time.Time
}

// Handler consumes one inbound message.
type Handler func(msg InboundMessage)

// Client delivers outbound content to a conversation.
type Client interface {
	SendText(ctx context.Context, chatID, text string) error
	SendCard(ctx context.Context, chatID string, card json.RawMessage) error
	SendFile(ctx context.Context, chatID, path, description string) error
}
