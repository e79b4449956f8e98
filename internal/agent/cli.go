package agent

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/ymatsuda/tandem/internal/logx"
	"github.com/ymatsuda/tandem/internal/model"
)

// validMessageTypes is the closed set an agent process may emit. Anything
// else degrades to a text message rather than failing the stream.
var validMessageTypes = map[model.AgentMessageType]bool{
	model.AgentText:         true,
	model.AgentToolUse:      true,
	model.AgentToolProgress: true,
	model.AgentToolResult:   true,
	model.AgentError:        true,
	model.AgentStatus:       true,
	model.AgentResult:       true,
}

// CLI invokes an agent as a subprocess. The prompt is fed on stdin; stdout is
// consumed as one JSON message per line.
type CLI struct {
	command string
	args    []string
	logger  *logx.Logger
}

func NewCLI(cfg model.AgentConfig, logger *logx.Logger) *CLI {
	return &CLI{
		command: cfg.Command,
		args:    append([]string(nil), cfg.Args...),
		logger:  logger,
	}
}

func (a *CLI) Run(ctx context.Context, req Request, emit EmitFunc) error {
	args := append([]string(nil), a.args...)
	if len(req.AllowedTools) > 0 {
		args = append(args, "--allowed-tools", strings.Join(req.AllowedTools, ","))
	}

	cmd := exec.CommandContext(ctx, a.command, args...)
	cmd.Dir = req.WorkDir
	cmd.Stdin = strings.NewReader(req.Prompt)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("open stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start agent %s: %w", a.command, err)
	}
	a.logger.Debugf("agent started command=%s pid=%d", a.command, cmd.Process.Pid)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		emit(ParseLine(line))
	}
	scanErr := scanner.Err()

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("agent %s: %w (stderr: %s)", a.command, err, stderrTail(&stderr))
	}
	if scanErr != nil {
		return fmt.Errorf("read agent stream: %w", scanErr)
	}
	a.logger.Debugf("agent finished command=%s", a.command)
	return nil
}

// ParseLine turns one stdout line into an AgentMessage. JSON lines with a
// known type pass through; unknown types and plain text become text messages.
func ParseLine(line string) model.AgentMessage {
	if strings.HasPrefix(line, "{") {
		var msg model.AgentMessage
		if err := json.Unmarshal([]byte(line), &msg); err == nil && validMessageTypes[msg.Type] {
			return msg
		}
	}
	return model.AgentMessage{Type: model.AgentText, Text: line}
}

// stderrTail returns the last portion of captured stderr for error context.
func stderrTail(buf *bytes.Buffer) string {
	const max = 512
	s := strings.TrimSpace(buf.String())
	if len(s) > max {
		s = "..." + s[len(s)-max:]
	}
	if s == "" {
		return "<empty>"
	}
	return s
}

var _ Agent = (*CLI)(nil)
