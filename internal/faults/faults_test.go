package faults

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"testing"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify_Categories(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Category
	}{
		{"nil-safe wrapped deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), CategoryTimeout},
		{"permission", os.ErrPermission, CategoryPermission},
		{"not exist", os.ErrNotExist, CategoryFilesystem},
		{"path error", &os.PathError{Op: "open", Path: "/x", Err: errors.New("boom")}, CategoryFilesystem},
		{"net timeout", timeoutErr{}, CategoryTimeout},
		{"net other", &net.OpError{Op: "dial", Err: errors.New("refused")}, CategoryNetwork},
		{"connection refused text", errors.New("dial tcp: connection refused"), CategoryNetwork},
		{"rate limit text", errors.New("api: rate limit exceeded"), CategoryAPI},
		{"unknown", errors.New("something odd"), CategoryUnknown},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := Classify(tc.err)
			if f.Category != tc.want {
				t.Errorf("Classify(%v) = %s, want %s", tc.err, f.Category, tc.want)
			}
		})
	}
}

func TestClassify_Nil(t *testing.T) {
	if Classify(nil) != nil {
		t.Error("Classify(nil) should be nil")
	}
}

func TestClassify_PreclassifiedWins(t *testing.T) {
	orig := New(CategoryAPI, errors.New("status 503"))
	wrapped := fmt.Errorf("evaluation phase: %w", orig)

	f := Classify(wrapped)
	if f != orig {
		t.Errorf("expected the pre-classified fault to win, got %+v", f)
	}
}

func TestFault_RetryableDefaults(t *testing.T) {
	if f := New(CategoryNetwork, errors.New("x")); !f.Retryable || !f.Transient {
		t.Error("network faults should default to retryable+transient")
	}
	if f := New(CategoryValidation, errors.New("x")); f.Retryable {
		t.Error("validation faults should not be retryable")
	}
}

func TestUserMessage_NeverTechnical(t *testing.T) {
	msg := UserMessage(errors.New("goroutine 42 panic: nil deref at foo.go:17"))
	if msg == "" {
		t.Fatal("empty user message")
	}
	for _, leak := range []string{"goroutine", "foo.go", "panic"} {
		if strings.Contains(strings.ToLower(msg), leak) {
			t.Errorf("user message leaks technical detail %q: %s", leak, msg)
		}
	}
}
