package node

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/ymatsuda/tandem/internal/fsio"
	"github.com/ymatsuda/tandem/internal/model"
)

// inboxTask is the file format for task submissions dropped into inbox/.
type inboxTask struct {
	TaskID    string `yaml:"task_id"`
	ChatID    string `yaml:"chat_id"`
	Message   string `yaml:"message"`
	MessageID string `yaml:"message_id"`
	Context   string `yaml:"context"`
}

// startInbox watches inbox/ for dropped task files and rescans it
// periodically; fsnotify can miss files written before the watch began.
func (n *ExecutionNode) startInbox() error {
	inboxDir := filepath.Join(n.root, "inbox")
	for _, dir := range []string{inboxDir, filepath.Join(inboxDir, "processed"), filepath.Join(inboxDir, "rejected")} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("ensure inbox dir %s: %w", dir, err)
		}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create inbox watcher: %w", err)
	}
	if err := watcher.Add(inboxDir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", inboxDir, err)
	}
	n.watcher = watcher

	n.wg.Add(2)
	go n.inboxEventLoop()
	go n.inboxRescanLoop()

	// Pick up anything dropped before the node came up.
	n.scanInbox()
	return nil
}

func (n *ExecutionNode) inboxEventLoop() {
	defer n.wg.Done()

	debounce := time.Duration(n.cfg.Inbox.DebounceMs) * time.Millisecond
	var timer *time.Timer

	for {
		select {
		case <-n.ctx.Done():
			return
		case event, ok := <-n.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			n.logger.Debugf("inbox event=%s file=%s", event.Op, event.Name)
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, n.scanInbox)
		case err, ok := <-n.watcher.Errors:
			if !ok {
				return
			}
			n.logger.Errorf("inbox watcher error=%v", err)
		}
	}
}

func (n *ExecutionNode) inboxRescanLoop() {
	defer n.wg.Done()

	ticker := time.NewTicker(time.Duration(n.cfg.Inbox.RescanIntervalSec) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-n.ctx.Done():
			return
		case <-ticker.C:
			n.scanInbox()
		}
	}
}

// scanInbox submits every valid task file and archives it. Concurrent
// triggers (event burst plus ticker) collapse into a single scan.
func (n *ExecutionNode) scanInbox() {
	n.scans.Do("inbox", func() (any, error) {
		inboxDir := filepath.Join(n.root, "inbox")
		entries, err := os.ReadDir(inboxDir)
		if err != nil {
			n.logger.Errorf("read inbox: %v", err)
			return nil, nil
		}

		for _, e := range entries {
			name := e.Name()
			if e.IsDir() || (!strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml")) {
				continue
			}
			n.processInboxFile(filepath.Join(inboxDir, name))
		}
		return nil, nil
	})
}

func (n *ExecutionNode) processInboxFile(path string) {
	var task inboxTask
	if err := fsio.ReadYAML(path, &task); err != nil {
		n.logger.Warnf("reject inbox file %s: %v", path, err)
		n.archiveInboxFile(path, "rejected")
		return
	}

	if task.TaskID == "" {
		if id, err := model.GenerateID(model.IDTypeTask); err == nil {
			task.TaskID = id
		}
	}
	if task.MessageID == "" {
		task.MessageID = uuid.NewString()
	}

	resp := n.handleTask(context.Background(), model.TaskRequest{
		TaskID:    task.TaskID,
		ChatID:    task.ChatID,
		Message:   task.Message,
		MessageID: task.MessageID,
		Context:   task.Context,
	})
	if !resp.Success {
		n.logger.Warnf("reject inbox task file=%s err=%s", path, resp.Error)
		n.archiveInboxFile(path, "rejected")
		return
	}

	n.logger.Infof("inbox task accepted file=%s task=%s", filepath.Base(path), resp.TaskID)
	n.archiveInboxFile(path, "processed")
}

func (n *ExecutionNode) archiveInboxFile(path, subdir string) {
	dest := filepath.Join(filepath.Dir(path), subdir,
		fmt.Sprintf("%d_%s", time.Now().Unix(), filepath.Base(path)))
	if err := os.Rename(path, dest); err != nil {
		n.logger.Errorf("archive inbox file %s: %v", path, err)
	}
}
