// Package store owns the on-disk task tree. Layout per task:
//
//	tasks/<id>/task.yaml                      metadata (chat binding)
//	tasks/<id>/spec.md                        immutable task specification
//	tasks/<id>/iterations/<n>/evaluation.md   written by the evaluation phase
//	tasks/<id>/iterations/<n>/execution.md    written by the execution phase
//	tasks/<id>/final_result.md                completion marker
//
// Artifacts are created once and only ever replaced whole; the completion
// marker's existence is the sole completion signal shared between the engine
// and independently-initialized agents.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ymatsuda/tandem/internal/faults"
	"github.com/ymatsuda/tandem/internal/fsio"
	"github.com/ymatsuda/tandem/internal/model"
)

const (
	specFile        = "spec.md"
	metaFile        = "task.yaml"
	finalResultFile = "final_result.md"
	iterationsDir   = "iterations"
	evaluationFile  = "evaluation.md"
	executionFile   = "execution.md"
)

// ErrNotFound reports a read of an artifact that has not been written.
var ErrNotFound = errors.New("artifact not found")

// Store is rooted at <root>/tasks.
type Store struct {
	root string
}

func New(root string) *Store {
	return &Store{root: root}
}

// SanitizeID maps any rune outside [A-Za-z0-9_-] to '_', producing a valid
// directory name and closing off path traversal.
func SanitizeID(id string) string {
	var b strings.Builder
	b.Grow(len(id))
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

// Dir returns the task's directory without creating it.
func (s *Store) Dir(taskID string) string {
	return filepath.Join(s.root, "tasks", SanitizeID(taskID))
}

// EnsureDir creates the task directory tree on first touch.
func (s *Store) EnsureDir(taskID string) error {
	if err := os.MkdirAll(s.Dir(taskID), 0755); err != nil {
		return storageErr(fmt.Errorf("ensure task dir: %w", err))
	}
	return nil
}

func (s *Store) iterationDir(taskID string, n int) string {
	return filepath.Join(s.Dir(taskID), iterationsDir, strconv.Itoa(n))
}

// EvaluationPath returns where iteration n's evaluation artifact lives. The
// path is handed to agents so an out-of-process agent can write it directly.
func (s *Store) EvaluationPath(taskID string, n int) string {
	return filepath.Join(s.iterationDir(taskID, n), evaluationFile)
}

// ExecutionPath returns where iteration n's execution artifact lives.
func (s *Store) ExecutionPath(taskID string, n int) string {
	return filepath.Join(s.iterationDir(taskID, n), executionFile)
}

// FinalResultPath returns where the completion marker lives.
func (s *Store) FinalResultPath(taskID string) string {
	return filepath.Join(s.Dir(taskID), finalResultFile)
}

func (s *Store) WriteSpec(taskID, content string) error {
	return s.write(filepath.Join(s.Dir(taskID), specFile), content)
}

func (s *Store) ReadSpec(taskID string) (string, error) {
	return s.read(filepath.Join(s.Dir(taskID), specFile))
}

// WriteMeta records the task's conversation binding.
func (s *Store) WriteMeta(taskID string, meta model.TaskMeta) error {
	if meta.CreatedAt == "" {
		meta.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	}
	if meta.SchemaVersion == 0 {
		meta.SchemaVersion = 1
	}
	if err := s.EnsureDir(taskID); err != nil {
		return err
	}
	if err := fsio.WriteYAML(filepath.Join(s.Dir(taskID), metaFile), meta); err != nil {
		return storageErr(fmt.Errorf("write task meta: %w", err))
	}
	return nil
}

func (s *Store) ReadMeta(taskID string) (model.TaskMeta, error) {
	var meta model.TaskMeta
	err := fsio.ReadYAML(filepath.Join(s.Dir(taskID), metaFile), &meta)
	if err != nil {
		if os.IsNotExist(err) {
			return meta, ErrNotFound
		}
		return meta, storageErr(fmt.Errorf("read task meta: %w", err))
	}
	return meta, nil
}

func (s *Store) WriteEvaluation(taskID string, n int, content string) error {
	return s.write(filepath.Join(s.iterationDir(taskID, n), evaluationFile), content)
}

func (s *Store) ReadEvaluation(taskID string, n int) (string, error) {
	return s.read(filepath.Join(s.iterationDir(taskID, n), evaluationFile))
}

func (s *Store) HasEvaluation(taskID string, n int) bool {
	return exists(filepath.Join(s.iterationDir(taskID, n), evaluationFile))
}

func (s *Store) WriteExecution(taskID string, n int, content string) error {
	return s.write(filepath.Join(s.iterationDir(taskID, n), executionFile), content)
}

func (s *Store) ReadExecution(taskID string, n int) (string, error) {
	return s.read(filepath.Join(s.iterationDir(taskID, n), executionFile))
}

func (s *Store) HasExecution(taskID string, n int) bool {
	return exists(filepath.Join(s.iterationDir(taskID, n), executionFile))
}

// HasFinalResult is the completion predicate: true exactly when the final
// result artifact exists.
func (s *Store) HasFinalResult(taskID string) bool {
	return exists(filepath.Join(s.Dir(taskID), finalResultFile))
}

func (s *Store) WriteFinalResult(taskID, content string) error {
	return s.write(filepath.Join(s.Dir(taskID), finalResultFile), content)
}

func (s *Store) ReadFinalResult(taskID string) (string, error) {
	return s.read(filepath.Join(s.Dir(taskID), finalResultFile))
}

// FinalResultTime returns the completion marker's mtime, used by the idle
// cleanup sweep.
func (s *Store) FinalResultTime(taskID string) (time.Time, error) {
	info, err := os.Stat(filepath.Join(s.Dir(taskID), finalResultFile))
	if err != nil {
		if os.IsNotExist(err) {
			return time.Time{}, ErrNotFound
		}
		return time.Time{}, storageErr(err)
	}
	return info.ModTime(), nil
}

// ListTasks returns the sanitized IDs of every task directory present.
func (s *Store) ListTasks() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, "tasks"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, storageErr(fmt.Errorf("list tasks: %w", err))
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	return ids, nil
}

// Cleanup removes the entire task subtree. Removing an absent task is a no-op.
func (s *Store) Cleanup(taskID string) error {
	if err := os.RemoveAll(s.Dir(taskID)); err != nil {
		return storageErr(fmt.Errorf("cleanup task %s: %w", taskID, err))
	}
	return nil
}

// write performs a create-on-write atomic overwrite.
func (s *Store) write(path, content string) error {
	if err := fsio.WriteFile(path, []byte(content)); err != nil {
		return storageErr(err)
	}
	return nil
}

func (s *Store) read(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNotFound
		}
		return "", storageErr(err)
	}
	return string(data), nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func storageErr(err error) error {
	return faults.New(faults.CategoryFilesystem, err)
}
