package browser

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrAttachFailed         = errors.New("failed to attach debugger session")
	ErrElementNotFound      = errors.New("element not found")
	ErrNotVisible           = errors.New("element is not visible")
	ErrActionTimeout        = errors.New("action timed out")
	ErrFillTargetMismatch   = errors.New("element is not editable")
	ErrNoAccessibilityNodes = errors.New("no accessibility nodes found")
	ErrConversionFailed     = errors.New("snapshot conversion produced no nodes")
	ErrNoSnapshot           = errors.New("no snapshot for tab")
)

// CommandTimeoutError is returned when one protocol call exceeds its deadline.
type CommandTimeoutError struct {
	Method  string
	Elapsed time.Duration
}

func (e *CommandTimeoutError) Error() string {
	return fmt.Sprintf("command %s timed out after %s", e.Method, e.Elapsed.Round(time.Millisecond))
}

// CommandAbortedError is returned to calls still pending when their session
// goes away.
type CommandAbortedError struct {
	Method string
	Reason string
}

func (e *CommandAbortedError) Error() string {
	return fmt.Sprintf("command %s aborted: %s", e.Method, e.Reason)
}

// ElementError ties a sentinel to the snapshot id it concerns.
type ElementError struct {
	ID  string
	Err error
}

func (e *ElementError) Error() string {
	return fmt.Sprintf("%s: %v", e.ID, e.Err)
}

func (e *ElementError) Unwrap() error { return e.Err }

// browserErrorHints maps error patterns to actionable hints
var browserErrorHints = map[string]string{
	"element not found":       "Take a new snapshot to refresh element ids",
	"not visible":             "Element has no visible area. It may be hidden or zero-sized",
	"not editable":            "Fill only works on inputs, textareas, contenteditable and code editors",
	"action timed out":        "Page may be busy. Retry or take a new snapshot",
	"timed out after":         "The browser did not answer in time. Check that the tab is still responsive",
	"aborted":                 "The debugging session ended. Re-run the command to reattach",
	"failed to attach":        "Close DevTools for this tab or check that the browser allows remote debugging",
	"no accessibility nodes":  "The page may still be loading. Wait and take a snapshot again",
	"no snapshot":             "Take a snapshot of the tab first",
	"extension not connected": "Click the pagepilot extension icon in Chrome to attach a tab",
	"context deadline":        "Operation timed out. Try increasing the timeout",
	"failed to resolve":       "Element reference is stale. Take a new snapshot",
	"could not find node":     "Element was removed from the page. Take a new snapshot",
	"no node with given id":   "Element was removed from the page. Take a new snapshot",
}

// WrapError wraps an error with an actionable hint
func WrapError(err error, action string) error {
	if err == nil {
		return nil
	}
	errStr := strings.ToLower(err.Error())
	for pattern, hint := range browserErrorHints {
		if strings.Contains(errStr, pattern) {
			return fmt.Errorf("%s failed: %w\n\nHint: %s", action, err, hint)
		}
	}
	return fmt.Errorf("%s failed: %w", action, err)
}
