package agent

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/ymatsuda/tandem/internal/logx"
	"github.com/ymatsuda/tandem/internal/model"
)

func TestParseLine(t *testing.T) {
	tests := []struct {
		name string
		line string
		want model.AgentMessage
	}{
		{
			name: "known json type",
			line: `{"type":"tool_use","tool":"grep","tool_input":"pattern"}`,
			want: model.AgentMessage{Type: model.AgentToolUse, Tool: "grep", ToolInput: "pattern"},
		},
		{
			name: "result type",
			line: `{"type":"result","text":"done"}`,
			want: model.AgentMessage{Type: model.AgentResult, Text: "done"},
		},
		{
			name: "unknown type degrades to text",
			line: `{"type":"telemetry","text":"x"}`,
			want: model.AgentMessage{Type: model.AgentText, Text: `{"type":"telemetry","text":"x"}`},
		},
		{
			name: "malformed json degrades to text",
			line: `{"type":"text",`,
			want: model.AgentMessage{Type: model.AgentText, Text: `{"type":"text",`},
		},
		{
			name: "plain text",
			line: "working on it",
			want: model.AgentMessage{Type: model.AgentText, Text: "working on it"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := ParseLine(tc.line); got != tc.want {
				t.Errorf("ParseLine(%q) = %+v, want %+v", tc.line, got, tc.want)
			}
		})
	}
}

func testCLI(command string, args ...string) *CLI {
	return NewCLI(model.AgentConfig{Command: command, Args: args},
		logx.New(io.Discard, "agent", logx.LevelError))
}

func TestCLI_Run_StreamsStdout(t *testing.T) {
	// Echo the prompt back as one text line, then emit one JSON message.
	a := testCLI("/bin/sh", "-c",
		`read prompt; echo "$prompt"; echo '{"type":"status","text":"finishing"}'`)

	var got []model.AgentMessage
	err := a.Run(context.Background(), Request{Prompt: "hello agent\n"}, func(msg model.AgentMessage) {
		got = append(got, msg)
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(got) != 2 {
		t.Fatalf("emitted %d messages, want 2: %+v", len(got), got)
	}
	if got[0].Type != model.AgentText || got[0].Text != "hello agent" {
		t.Errorf("first message = %+v", got[0])
	}
	if got[1].Type != model.AgentStatus || got[1].Text != "finishing" {
		t.Errorf("second message = %+v", got[1])
	}
}

func TestCLI_Run_NonZeroExitCarriesStderr(t *testing.T) {
	a := testCLI("/bin/sh", "-c", `echo "credential missing" >&2; exit 3`)

	err := a.Run(context.Background(), Request{Prompt: "x"}, func(model.AgentMessage) {})
	if err == nil {
		t.Fatal("expected an error for non-zero exit")
	}
	if !strings.Contains(err.Error(), "credential missing") {
		t.Errorf("stderr not carried in error: %v", err)
	}
}

func TestCLI_Run_MissingCommand(t *testing.T) {
	a := testCLI("/nonexistent/agent-binary")

	err := a.Run(context.Background(), Request{Prompt: "x"}, func(model.AgentMessage) {})
	if err == nil {
		t.Fatal("expected an error for a missing command")
	}
}

func TestCLI_Run_ContextCancel(t *testing.T) {
	a := testCLI("/bin/sh", "-c", "sleep 30")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := a.Run(ctx, Request{Prompt: "x"}, func(model.AgentMessage) {})
	if err == nil {
		t.Fatal("expected an error when the context is already canceled")
	}
}

func TestCLI_Run_AllowedToolsFlag(t *testing.T) {
	// The subprocess prints its own argv so the test can observe the flag.
	a := testCLI("/bin/sh", "-c", `echo "$0 $*"`, "argv0")

	var lines []string
	err := a.Run(context.Background(), Request{
		Prompt:       "x",
		AllowedTools: []string{"read", "write"},
	}, func(msg model.AgentMessage) {
		lines = append(lines, msg.Text)
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	joined := strings.Join(lines, "\n")
	if !strings.Contains(joined, "--allowed-tools") || !strings.Contains(joined, "read,write") {
		t.Errorf("allowed tools flag not passed: %q", joined)
	}
}
