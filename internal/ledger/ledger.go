// Package ledger tracks which message IDs have ever been processed. One
// append-only log per conversation is the durable record; an in-memory set
// rebuilt by scanning those logs at startup answers dedup lookups in O(1).
//
// The set is unbounded on purpose: exactly-once processing must hold for the
// lifetime of the deployment, so no entry is ever evicted.
package ledger

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ymatsuda/tandem/internal/store"
)

type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
)

// idPattern matches the quoted message-ID field at its fixed position right
// after the direction. Every free-form field in a record is strconv-quoted,
// so sender or content text can never masquerade as the ID field.
var idPattern = regexp.MustCompile(`^\[[^\]]+\] dir=\S+ id=("(?:[^"\\]|\\.)*")`)

// Ledger owns the conversations/ directory under root.
type Ledger struct {
	dir string

	mu        sync.Mutex
	processed map[string]bool
	files     map[string]*os.File
}

func New(root string) *Ledger {
	return &Ledger{
		dir:       filepath.Join(root, "conversations"),
		processed: make(map[string]bool),
		files:     make(map[string]*os.File),
	}
}

// Load rescans every persisted conversation log and repopulates the in-memory
// ID set. Called once at startup before any dedup check.
func (l *Ledger) Load() error {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("scan ledger dir: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".log") {
			continue
		}
		if err := l.scanFile(filepath.Join(l.dir, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

func (l *Ledger) scanFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open ledger log %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "#") {
			continue
		}
		if m := idPattern.FindStringSubmatch(line); m != nil {
			if id, err := strconv.Unquote(m[1]); err == nil {
				l.processed[id] = true
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan ledger log %s: %w", path, err)
	}
	return nil
}

// IsProcessed reports whether messageID has ever been logged.
func (l *Ledger) IsProcessed(messageID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.processed[messageID]
}

// LogIncoming records an inbound message. A message ID that is already
// processed is a no-op.
func (l *Ledger) LogIncoming(chatID, messageID, senderID, msgType, content string) error {
	return l.log(chatID, messageID, senderID, msgType, content, DirectionIncoming)
}

// LogOutgoing records an outbound message.
func (l *Ledger) LogOutgoing(chatID, messageID, senderID, msgType, content string) error {
	return l.log(chatID, messageID, senderID, msgType, content, DirectionOutgoing)
}

// log appends one record and then marks the ID processed. The order matters:
// if the append fails the ID stays unmarked, so the message is never
// remembered as seen without a durable record.
func (l *Ledger) log(chatID, messageID, senderID, msgType, content string, dir Direction) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.processed[messageID] {
		return nil
	}

	f, err := l.open(chatID)
	if err != nil {
		return err
	}

	// The ID comes first and every externally supplied field is quoted, so a
	// hostile sender string cannot shift what restart recovery reads back.
	line := fmt.Sprintf("[%s] dir=%s id=%s sender=%s type=%s content=%s\n",
		time.Now().UTC().Format(time.RFC3339), dir,
		strconv.Quote(messageID), strconv.Quote(senderID),
		strconv.Quote(msgType), strconv.Quote(content))
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("append ledger record: %w", err)
	}

	l.processed[messageID] = true
	return nil
}

// open returns the append handle for a conversation, creating the file with a
// header on first write.
func (l *Ledger) open(chatID string) (*os.File, error) {
	key := store.SanitizeID(chatID)
	if f, ok := l.files[key]; ok {
		return f, nil
	}

	if err := os.MkdirAll(l.dir, 0755); err != nil {
		return nil, fmt.Errorf("create ledger dir: %w", err)
	}

	path := filepath.Join(l.dir, key+".log")
	_, statErr := os.Stat(path)
	fresh := os.IsNotExist(statErr)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open ledger log %s: %w", path, err)
	}

	if fresh {
		header := fmt.Sprintf("# conversation %s\n# created %s\n",
			chatID, time.Now().UTC().Format(time.RFC3339))
		if _, err := f.WriteString(header); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("write ledger header: %w", err)
		}
	}

	l.files[key] = f
	return f, nil
}

// Close releases all open log handles.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var firstErr error
	for key, f := range l.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(l.files, key)
	}
	return firstErr
}
