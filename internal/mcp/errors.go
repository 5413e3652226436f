package mcp

import (
	"errors"

	"github.com/neboloop/pagepilot/internal/browser"
)

// ToolError is a structured tool failure.
type ToolError struct {
	Code    string `json:"code"` // "validation", "not_found", "not_visible", "timeout", "failed"
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

func (e *ToolError) Error() string {
	if e.Field != "" {
		return e.Code + ": " + e.Message + " (field: " + e.Field + ")"
	}
	return e.Code + ": " + e.Message
}

// NewValidationError creates a validation error for a specific field.
func NewValidationError(message, field string) *ToolError {
	return &ToolError{Code: "validation", Message: message, Field: field}
}

// browserError classifies err and attaches the browser hint for action.
func browserError(err error, action string) *ToolError {
	code := "failed"
	switch {
	case errors.Is(err, browser.ErrNoSnapshot), errors.Is(err, browser.ErrElementNotFound):
		code = "not_found"
	case errors.Is(err, browser.ErrNotVisible):
		code = "not_visible"
	case errors.Is(err, browser.ErrActionTimeout):
		code = "timeout"
	case errors.Is(err, browser.ErrFillTargetMismatch):
		code = "validation"
	}
	var timeout *browser.CommandTimeoutError
	if errors.As(err, &timeout) {
		code = "timeout"
	}
	return &ToolError{Code: code, Message: browser.WrapError(err, action).Error()}
}
