// Package logx provides leveled, component-prefixed logging shared by the
// node, engine, and agent layers. Output is plain log.Logger lines so logs
// stay greppable without a parser.
package logx

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func ParseLevel(s string) Level {
	switch strings.ToLower(s) {
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "INFO"
	}
}

// Logger writes timestamped leveled lines with a fixed component prefix.
type Logger struct {
	logger    *log.Logger
	level     Level
	component string
}

func New(w io.Writer, component string, level Level) *Logger {
	return &Logger{
		logger:    log.New(w, "", 0),
		level:     level,
		component: component,
	}
}

// Open creates a file-backed Logger under dir/logs/<name>. The caller owns
// the returned closer.
func Open(dir, name, component string, level Level) (*Logger, io.Closer, error) {
	logPath := filepath.Join(dir, "logs", name)
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log %s: %w", logPath, err)
	}
	return New(f, component, level), f, nil
}

// WithComponent returns a Logger sharing the same sink and level under a
// different component prefix.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{logger: l.logger, level: l.level, component: component}
}

func (l *Logger) Debugf(format string, args ...any) { l.printf(LevelDebug, format, args...) }
func (l *Logger) Infof(format string, args ...any)  { l.printf(LevelInfo, format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.printf(LevelWarn, format, args...) }
func (l *Logger) Errorf(format string, args ...any) { l.printf(LevelError, format, args...) }

func (l *Logger) printf(level Level, format string, args ...any) {
	if l == nil || level < l.level {
		return
	}
	msg := fmt.Sprintf(format, args...)
	l.logger.Printf("%s %s %s: %s", time.Now().Format(time.RFC3339), level, l.component, msg)
}
