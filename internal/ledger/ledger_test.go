package ledger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLog_MarksProcessed(t *testing.T) {
	l := New(t.TempDir())
	t.Cleanup(func() { _ = l.Close() })

	if l.IsProcessed("msg_1700000000_aaaaaaaa") {
		t.Fatal("unseen ID reported processed")
	}
	if err := l.LogIncoming("chat1", "msg_1700000000_aaaaaaaa", "user9", "task", "do the thing"); err != nil {
		t.Fatalf("LogIncoming: %v", err)
	}
	if !l.IsProcessed("msg_1700000000_aaaaaaaa") {
		t.Error("logged ID not reported processed")
	}
}

func TestLog_DuplicateIDAppendsOnce(t *testing.T) {
	root := t.TempDir()
	l := New(root)
	t.Cleanup(func() { _ = l.Close() })

	for i := 0; i < 3; i++ {
		if err := l.LogIncoming("chat1", "msg_dup", "user9", "task", "hello"); err != nil {
			t.Fatalf("LogIncoming #%d: %v", i, err)
		}
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(root, "conversations", "chat1.log"))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if n := strings.Count(string(data), `id="msg_dup"`); n != 1 {
		t.Errorf("duplicate ID appended %d times, want 1\n%s", n, data)
	}
}

func TestLog_RecordFormat(t *testing.T) {
	root := t.TempDir()
	l := New(root)

	if err := l.LogOutgoing("chat2", "msg_out", "tandem", "text", "line one\nline two"); err != nil {
		t.Fatalf("LogOutgoing: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(root, "conversations", "chat2.log"))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	text := string(data)
	if !strings.HasPrefix(text, "# conversation chat2\n") {
		t.Errorf("missing header:\n%s", text)
	}
	for _, field := range []string{"dir=outgoing", `id="msg_out"`, `sender="tandem"`, `type="text"`} {
		if !strings.Contains(text, field) {
			t.Errorf("record missing %q:\n%s", field, text)
		}
	}
	// Multi-line content must stay a single record line.
	if !strings.Contains(text, `content="line one\nline two"`) {
		t.Errorf("content not quoted onto one line:\n%s", text)
	}
}

func TestLoad_RestartRecoversIDs(t *testing.T) {
	root := t.TempDir()

	first := New(root)
	if err := first.LogIncoming("chat1", "msg_a", "u", "task", "a"); err != nil {
		t.Fatalf("LogIncoming: %v", err)
	}
	if err := first.LogOutgoing("chat1", "msg_b", "tandem", "text", "b"); err != nil {
		t.Fatalf("LogOutgoing: %v", err)
	}
	if err := first.LogIncoming("chat3", "msg_c", "u", "task", "c"); err != nil {
		t.Fatalf("LogIncoming: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	second := New(root)
	t.Cleanup(func() { _ = second.Close() })
	if err := second.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	for _, id := range []string{"msg_a", "msg_b", "msg_c"} {
		if !second.IsProcessed(id) {
			t.Errorf("ID %s lost across restart", id)
		}
	}
	if second.IsProcessed("msg_never") {
		t.Error("unseen ID reported processed after Load")
	}
}

func TestLoad_FreeFormFieldsCannotForgeIDs(t *testing.T) {
	root := t.TempDir()

	// Sender and content arrive from outside; both try to plant record
	// fields, including one with an embedded newline.
	first := New(root)
	if err := first.LogIncoming("chat1", "msg_real_0001", "bot id=evil", "task", "see id=msg_fake"); err != nil {
		t.Fatalf("LogIncoming: %v", err)
	}
	if err := first.LogIncoming("chat1", "msg_real_0002", "bot\nid=msg_planted sender=x", "task", "x"); err != nil {
		t.Fatalf("LogIncoming: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	second := New(root)
	t.Cleanup(func() { _ = second.Close() })
	if err := second.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	for _, id := range []string{"msg_real_0001", "msg_real_0002"} {
		if !second.IsProcessed(id) {
			t.Errorf("ID %s lost across restart", id)
		}
	}
	for _, id := range []string{"evil", "msg_fake", "msg_planted"} {
		if second.IsProcessed(id) {
			t.Errorf("free-form text planted %q as processed", id)
		}
	}
}

func TestLoad_NoDirectory(t *testing.T) {
	l := New(filepath.Join(t.TempDir(), "never-created"))
	if err := l.Load(); err != nil {
		t.Errorf("Load on fresh root: %v", err)
	}
}

func TestOpen_SanitizesChatID(t *testing.T) {
	root := t.TempDir()
	l := New(root)

	if err := l.LogIncoming("../weird chat", "msg_s", "u", "task", "x"); err != nil {
		t.Fatalf("LogIncoming: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	entries, err := os.ReadDir(filepath.Join(root, "conversations"))
	if err != nil {
		t.Fatalf("read conversations dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one log file, got %d", len(entries))
	}
	name := entries[0].Name()
	if strings.ContainsAny(name, "/ .") && !strings.HasSuffix(name, ".log") {
		t.Errorf("log filename not sanitized: %q", name)
	}
	if strings.Contains(name, "..") {
		t.Errorf("log filename allows traversal: %q", name)
	}
}
