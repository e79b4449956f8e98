// Package faults classifies errors crossing user-visible boundaries so every
// terminal failure maps to exactly one human-readable notification instead of
// a raw stack trace.
package faults

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"syscall"
)

type Category string

const (
	CategoryNetwork    Category = "network"
	CategoryTimeout    Category = "timeout"
	CategoryAPI        Category = "api"
	CategoryValidation Category = "validation"
	CategoryPermission Category = "permission"
	CategoryFilesystem Category = "filesystem"
	CategoryProtocol   Category = "protocol"
	CategoryUnknown    Category = "unknown"
)

type Severity string

const (
	SeverityFatal Severity = "fatal"
	SeverityError Severity = "error"
	SeverityWarn  Severity = "warn"
)

// Fault is a classified error. UserMessage is distinct from the technical
// message and safe to forward to the human channel.
type Fault struct {
	Category    Category
	Severity    Severity
	Retryable   bool
	Transient   bool
	UserMessage string
	Err         error
}

func (f *Fault) Error() string {
	if f.Err == nil {
		return string(f.Category)
	}
	return fmt.Sprintf("%s: %v", f.Category, f.Err)
}

func (f *Fault) Unwrap() error {
	return f.Err
}

// New builds a Fault with category defaults applied.
func New(category Category, err error) *Fault {
	f := &Fault{
		Category:    category,
		Severity:    SeverityError,
		UserMessage: defaultUserMessage(category),
		Err:         err,
	}
	switch category {
	case CategoryNetwork, CategoryTimeout, CategoryAPI:
		f.Retryable = true
		f.Transient = true
	case CategoryValidation, CategoryPermission, CategoryProtocol:
		f.Severity = SeverityWarn
	}
	return f
}

// Classify maps an arbitrary error to a Fault. A pre-classified Fault in the
// chain wins; otherwise stdlib error types decide the category.
func Classify(err error) *Fault {
	if err == nil {
		return nil
	}

	var f *Fault
	if errors.As(err, &f) {
		return f
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return New(CategoryTimeout, err)
	case errors.Is(err, os.ErrPermission) || errors.Is(err, syscall.EACCES):
		return New(CategoryPermission, err)
	case errors.Is(err, os.ErrNotExist):
		return New(CategoryFilesystem, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return New(CategoryTimeout, err)
		}
		return New(CategoryNetwork, err)
	}

	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return New(CategoryFilesystem, err)
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "connection refused"), strings.Contains(msg, "no such host"):
		return New(CategoryNetwork, err)
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "status 429"),
		strings.Contains(msg, "status 5"):
		return New(CategoryAPI, err)
	}

	return New(CategoryUnknown, err)
}

// UserMessage returns the human-facing text for an error, classifying it
// first when needed.
func UserMessage(err error) string {
	f := Classify(err)
	if f == nil {
		return ""
	}
	if f.UserMessage != "" {
		return f.UserMessage
	}
	return defaultUserMessage(f.Category)
}

func defaultUserMessage(category Category) string {
	switch category {
	case CategoryNetwork:
		return "A network error occurred. Please try again."
	case CategoryTimeout:
		return "The operation timed out. Please try again."
	case CategoryAPI:
		return "The service is temporarily unavailable. Please try again later."
	case CategoryValidation:
		return "The request was invalid. Please check your input."
	case CategoryPermission:
		return "Permission was denied for this operation."
	case CategoryFilesystem:
		return "A storage error occurred while processing the task."
	case CategoryProtocol:
		return "Received a malformed message. Please try again."
	default:
		return "An unexpected error occurred. Please try again."
	}
}
