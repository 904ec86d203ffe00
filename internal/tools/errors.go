package tools

import "strings"

// Result is what a tool hands back to the model.
type Result struct {
	Text    string
	IsError bool
}

// ErrorResult creates a tool error result with optional recovery hint.
// If hint is non-empty, formats as "{msg}. {hint}".
// The model sees the error text and can self-correct.
func ErrorResult(msg, hint string) Result {
	text := msg
	if hint != "" {
		text = msg + ". " + hint
	}
	return Result{Text: "ERROR: " + text, IsError: true}
}

// TextResult creates a success result with text content.
func TextResult(text string) Result {
	return Result{Text: text}
}

// FormatResults joins items with newlines for list output.
func FormatResults(items []string) string {
	return strings.Join(items, "\n")
}
