package chat

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Console is the chat client for single-process runs: stdin lines become
// inbound messages, outbound content prints to stdout.
type Console struct {
	chatID string
	in     io.Reader
	out    io.Writer
}

func NewConsole(chatID string, in io.Reader, out io.Writer) *Console {
	return &Console{chatID: chatID, in: in, out: out}
}

func (c *Console) SendText(ctx context.Context, chatID, text string) error {
	_, err := fmt.Fprintf(c.out, "[%s] %s\n", chatID, text)
	return err
}

func (c *Console) SendCard(ctx context.Context, chatID string, card json.RawMessage) error {
	_, err := fmt.Fprintf(c.out, "[%s] (card) %s\n", chatID, string(card))
	return err
}

func (c *Console) SendFile(ctx context.Context, chatID, path, description string) error {
	_, err := fmt.Fprintf(c.out, "[%s] (file) %s %s\n", chatID, path, description)
	return err
}

// ReadLoop feeds stdin lines to handler until EOF or ctx is done. Each line
// gets a fresh message ID so the dedup ledger treats it as a new event.
func (c *Console) ReadLoop(ctx context.Context, handler Handler) error {
	scanner := bufio.NewScanner(c.in)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		handler(InboundMessage{
			MessageID:    uuid.NewString(),
			ChatID:       c.chatID,
			SenderOpenID: "console",
			Text:         text,
			ReceivedAt:   time.Now(),
		})
	}
	return scanner.Err()
}

var _ Client = (*Console)(nil)
